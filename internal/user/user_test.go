package user

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/kjstillabower/weather-reporter/internal/apperr"
	"github.com/kjstillabower/weather-reporter/internal/models"
	"github.com/kjstillabower/weather-reporter/internal/store"
	"github.com/kjstillabower/weather-reporter/internal/testhelpers"
	"github.com/kjstillabower/weather-reporter/internal/validation"
)

func setup(t *testing.T) (*Service, *testhelpers.Clock, string) {
	t.Helper()
	clock := testhelpers.NewClock(time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC))
	users := store.NewMemoryStore(clock.Now)
	u := &models.User{Username: "alice", Email: "alice@example.com", IsVerified: true}
	if err := users.Create(context.Background(), u); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return NewService(users, clock.Now), clock, u.ID
}

func TestProfile(t *testing.T) {
	svc, _, id := setup(t)

	p, err := svc.Profile(context.Background(), id)
	if err != nil {
		t.Fatalf("Profile() error = %v", err)
	}
	if p.Username != "alice" || !p.IsVerified || p.Location != nil {
		t.Errorf("Profile() = %+v", p)
	}

	if _, err := svc.Profile(context.Background(), "missing"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("Profile(missing) error = %v, want ErrUserNotFound", err)
	}
}

func TestUpdateLocation(t *testing.T) {
	svc, clock, id := setup(t)
	ctx := context.Background()

	loc, err := svc.UpdateLocation(ctx, id, validation.Coordinates{Latitude: 45.0, Longitude: -122.0})
	if err != nil {
		t.Fatalf("UpdateLocation() error = %v", err)
	}
	if !loc.LastLocationUpdate.Equal(clock.Now()) {
		t.Errorf("LastLocationUpdate = %v, want %v", loc.LastLocationUpdate, clock.Now())
	}
	if len(loc.Geohash) == 0 || loc.Geohash[0] != 'c' {
		t.Errorf("Geohash = %q, want a cell starting with c", loc.Geohash)
	}

	clock.Advance(time.Minute)
	if _, err := svc.UpdateLocation(ctx, id, validation.Coordinates{Latitude: 51.5, Longitude: -0.12}); err != nil {
		t.Fatalf("second UpdateLocation() error = %v", err)
	}
	p, _ := svc.Profile(ctx, id)
	if p.Location == nil || p.Location.Latitude != 51.5 || p.Location.Longitude != -0.12 {
		t.Errorf("location not overwritten: %+v", p.Location)
	}
	if !p.Location.LastLocationUpdate.Equal(clock.Now()) {
		t.Errorf("LastLocationUpdate = %v", p.Location.LastLocationUpdate)
	}
}

func TestUpdateLocation_Rejects(t *testing.T) {
	svc, _, id := setup(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		userID string
		c      validation.Coordinates
		kind   apperr.Kind
	}{
		{"latitude out of range", id, validation.Coordinates{Latitude: 91, Longitude: 0}, apperr.KindValidation},
		{"longitude out of range", id, validation.Coordinates{Latitude: 0, Longitude: -181}, apperr.KindValidation},
		{"nan", id, validation.Coordinates{Latitude: math.NaN(), Longitude: 0}, apperr.KindValidation},
		{"unknown user", "missing", validation.Coordinates{Latitude: 1, Longitude: 1}, apperr.KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.UpdateLocation(ctx, tt.userID, tt.c)
			if err == nil {
				t.Fatal("UpdateLocation() error = nil")
			}
			if got := apperr.KindOf(err); got != tt.kind {
				t.Errorf("kind = %v, want %v", got, tt.kind)
			}
		})
	}
}
