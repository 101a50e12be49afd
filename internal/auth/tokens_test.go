package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kjstillabower/weather-reporter/internal/testhelpers"
)

func TestTokenIssuer_RoundTripAndExpiry(t *testing.T) {
	clock := testhelpers.NewClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	issuer := NewTokenIssuer("secret", 24*time.Hour, clock.Now)

	raw, err := issuer.Issue("user-1", "alice")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	claims, err := issuer.Parse(raw)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if claims.UserID != "user-1" || claims.Username != "alice" {
		t.Errorf("claims = %+v", claims)
	}
	if got := claims.ExpiresAt.Time.Sub(claims.IssuedAt.Time); got != 24*time.Hour {
		t.Errorf("lifetime = %v, want 24h", got)
	}

	clock.Advance(24*time.Hour + time.Second)
	if _, err := issuer.Parse(raw); err == nil {
		t.Error("Parse() accepted an expired token")
	}
}

func TestTokenIssuer_RejectsOtherAlgorithms(t *testing.T) {
	issuer := NewTokenIssuer("secret", time.Hour, nil)
	claims := Claims{UserID: "u1", RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := issuer.Parse(unsigned); err == nil {
		t.Error("Parse() accepted alg=none")
	}
}

func TestTokenIssuer_PayloadUsesUserIdKey(t *testing.T) {
	issuer := NewTokenIssuer("secret", time.Hour, nil)
	raw, _ := issuer.Issue("u1", "alice")
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		t.Fatalf("token has %d parts", len(parts))
	}
	payload, err := jwt.NewParser().DecodeSegment(parts[1])
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if !strings.Contains(string(payload), `"userId":"u1"`) {
		t.Errorf("payload = %s", payload)
	}
}
