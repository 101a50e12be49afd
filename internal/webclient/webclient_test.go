package webclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kjstillabower/weather-reporter/internal/apperr"
	"github.com/kjstillabower/weather-reporter/internal/models"
	"github.com/kjstillabower/weather-reporter/internal/testhelpers"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestWeather_CachesAndNormalizes(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if got := r.URL.Query().Get("city"); got != "london" {
			t.Errorf("city = %q, want london", got)
		}
		writeJSON(w, http.StatusOK, models.WeatherData{Temperature: 12, Location: "London"})
	}))
	defer srv.Close()

	clock := testhelpers.NewClock(time.Unix(1000, 0))
	c := New(Config{BaseURL: srv.URL, Now: clock.Now})
	ctx := context.Background()

	for _, city := range []string{"London", "  london ", "LONDON1"} {
		got, err := c.Weather(ctx, city)
		if err != nil {
			t.Fatalf("Weather(%q) error = %v", city, err)
		}
		if got.Location != "London" {
			t.Errorf("Location = %q", got.Location)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("backend calls = %d, want 1", calls.Load())
	}

	clock.Advance(DefaultWeatherTTL)
	_, _ = c.Weather(ctx, "london")
	if calls.Load() != 2 {
		t.Errorf("backend calls after TTL = %d, want 2", calls.Load())
	}
}

func TestWeather_ConcurrentCallsCoalesce(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-release
		writeJSON(w, http.StatusOK, models.WeatherData{Location: "Paris"})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Weather(context.Background(), "Paris")
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	if calls.Load() != 1 {
		t.Errorf("backend calls = %d, want 1", calls.Load())
	}
}

func TestWeather_InvalidCityStaysLocal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("backend called for invalid city")
	}))
	defer srv.Close()

	_, err := New(Config{BaseURL: srv.URL}).Weather(context.Background(), "!!")
	if apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("error = %v, want validation", err)
	}
}

func TestWeather_ErrorsNotCached(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "Invalid city name", "code": "CITY_NOT_FOUND", "requestId": "r1"})
			return
		}
		writeJSON(w, http.StatusOK, models.WeatherData{Location: "Oslo"})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	_, err := c.Weather(context.Background(), "oslo")
	appErr, ok := apperr.As(err)
	if !ok || appErr.Code != "CITY_NOT_FOUND" || appErr.Status != http.StatusNotFound {
		t.Fatalf("first error = %v", err)
	}
	if _, err := c.Weather(context.Background(), "oslo"); err != nil {
		t.Errorf("retry error = %v", err)
	}
}

func TestResendVerification_LocalCooldown(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusOK, map[string]string{"message": "Verification email has been resent. Please check your inbox."})
	}))
	defer srv.Close()

	clock := testhelpers.NewClock(time.Unix(0, 0))
	c := New(Config{BaseURL: srv.URL, Now: clock.Now})
	ctx := context.Background()

	if _, err := c.ResendVerification(ctx, "a@example.com"); err != nil {
		t.Fatalf("first resend error = %v", err)
	}
	clock.Advance(time.Minute)
	_, err := c.ResendVerification(ctx, "A@example.com")
	if !errors.Is(err, ErrResendCooldown) {
		t.Fatalf("second resend error = %v, want ErrResendCooldown", err)
	}
	appErr, _ := apperr.As(err)
	if appErr.RetryAfter != 4*time.Minute {
		t.Errorf("RetryAfter = %v, want 4m", appErr.RetryAfter)
	}
	if calls.Load() != 1 {
		t.Errorf("backend calls = %d, want 1", calls.Load())
	}

	clock.Advance(4 * time.Minute)
	if _, err := c.ResendVerification(ctx, "a@example.com"); err != nil {
		t.Errorf("resend after cooldown error = %v", err)
	}
}

func TestResendVerification_FollowsServerHint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "120")
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error": "You can only resend a verification email every 5 minutes. Please try again later.",
			"code":  "RESEND_COOLDOWN", "retryAfterSeconds": 120,
		})
	}))
	defer srv.Close()

	clock := testhelpers.NewClock(time.Unix(0, 0))
	c := New(Config{BaseURL: srv.URL, Now: clock.Now})
	_, err := c.ResendVerification(context.Background(), "a@example.com")
	if !IsRateLimited(err) {
		t.Fatalf("error = %v, want rate limited", err)
	}
	next, ok := c.NextResendAt("a@example.com")
	if !ok || !next.Equal(clock.Now().Add(2*time.Minute)) {
		t.Errorf("NextResendAt = %v, %v; want now+2m", next, ok)
	}
}

func TestLoginStoresTokenForProfile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/auth/login":
			writeJSON(w, http.StatusOK, map[string]any{
				"message": "Login successful", "token": "tok-1",
				"user": map[string]string{"id": "u1", "username": "alice", "email": "alice@example.com"},
			})
		case "/api/user/profile":
			if r.Header.Get("Authorization") != "Bearer tok-1" {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Authentication required", "code": "UNAUTHORIZED"})
				return
			}
			writeJSON(w, http.StatusOK, models.Profile{ID: "u1", Username: "alice"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	ctx := context.Background()
	if _, err := c.Profile(ctx); apperr.KindOf(err) != apperr.KindAuth {
		t.Errorf("Profile() before login error = %v, want auth", err)
	}
	res, err := c.Login(ctx, "alice", "pw")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if res.User.ID != "u1" || c.Token() != "tok-1" {
		t.Errorf("Login() = %+v, token %q", res, c.Token())
	}
	p, err := c.Profile(ctx)
	if err != nil || p.Username != "alice" {
		t.Errorf("Profile() = %+v, %v", p, err)
	}
}

func TestReverse_CachedByRoundedCoordinates(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusOK, models.Place{DisplayName: "Portland", City: "Portland"})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	ctx := context.Background()
	_, _ = c.Reverse(ctx, 45.52311, -122.67651)
	p, err := c.Reverse(ctx, 45.52314, -122.67649)
	if err != nil || p.City != "Portland" {
		t.Fatalf("Reverse() = %+v, %v", p, err)
	}
	if calls.Load() != 1 {
		t.Errorf("backend calls = %d, want 1", calls.Load())
	}
}
