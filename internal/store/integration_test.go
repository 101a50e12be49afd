//go:build integration

package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/kjstillabower/weather-reporter/internal/models"
)

// Run with: go test -tags=integration ./internal/store/...
// MONGODB_URI and DATABASE_URL select the live backends; each is skipped when unset.

func backends(t *testing.T) map[string]UserStore {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	out := map[string]UserStore{}
	if uri := os.Getenv("MONGODB_URI"); uri != "" {
		s, err := NewMongoStore(ctx, uri, "weather_reporter_test")
		if err != nil {
			t.Fatalf("NewMongoStore() error = %v", err)
		}
		_, _ = s.collection.DeleteMany(ctx, map[string]any{})
		out["mongo"] = s
	}
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		s, err := NewPostgresStore(ctx, dsn)
		if err != nil {
			t.Fatalf("NewPostgresStore() error = %v", err)
		}
		_, _ = s.db.ExecContext(ctx, "DELETE FROM users")
		out["postgres"] = s
	}
	if len(out) == 0 {
		t.Skip("MONGODB_URI and DATABASE_URL not set")
	}
	return out
}

func TestIntegration_UserLifecycle(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			defer s.Close(ctx)

			u := &models.User{Username: "alice", Email: "Alice@Example.com", PasswordHash: "h", VerificationToken: "tok"}
			if err := s.Create(ctx, u); err != nil {
				t.Fatalf("Create() error = %v", err)
			}
			if err := s.Create(ctx, &models.User{Username: "alice", Email: "x@example.com", PasswordHash: "h"}); !errors.Is(err, ErrDuplicate) {
				t.Errorf("duplicate Create() error = %v", err)
			}
			got, err := s.FindByIdentifier(ctx, "alice@example.com")
			if err != nil || got.ID != u.ID {
				t.Fatalf("FindByIdentifier() = %v, %v", got, err)
			}
			loc := models.Location{Latitude: 45.5, Longitude: -122.6, LastLocationUpdate: time.Now().UTC().Truncate(time.Millisecond)}
			if err := s.UpdateLocation(ctx, u.ID, loc); err != nil {
				t.Fatalf("UpdateLocation() error = %v", err)
			}
			next := time.Now().Add(5 * time.Minute).UTC().Truncate(time.Millisecond)
			if err := s.RotateVerificationToken(ctx, got.ID, "tok2", next); err != nil {
				t.Fatalf("RotateVerificationToken() error = %v", err)
			}
			if _, err := s.FindByVerificationToken(ctx, "tok"); !errors.Is(err, ErrNotFound) {
				t.Errorf("old token error = %v", err)
			}
			if err := s.MarkVerified(ctx, got.ID); err != nil {
				t.Fatalf("MarkVerified() error = %v", err)
			}
			if _, err := s.FindByVerificationToken(ctx, "tok2"); !errors.Is(err, ErrNotFound) {
				t.Errorf("FindByVerificationToken() after verify error = %v", err)
			}
			got, _ = s.FindByID(ctx, u.ID)
			if !got.IsVerified || got.NextVerificationResendAt != nil {
				t.Errorf("verified user = %+v", got)
			}
			if got.Location == nil || got.Location.Latitude != 45.5 {
				t.Errorf("Location = %+v, want it kept through the token writes", got.Location)
			}
		})
	}
}
