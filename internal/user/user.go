// Package user serves the authenticated profile and location endpoints.
package user

import (
	"context"
	"errors"
	"time"

	geohash "github.com/TomiHiltunen/geohash-golang"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-reporter/internal/apperr"
	"github.com/kjstillabower/weather-reporter/internal/models"
	"github.com/kjstillabower/weather-reporter/internal/observability"
	"github.com/kjstillabower/weather-reporter/internal/store"
	"github.com/kjstillabower/weather-reporter/internal/validation"
)

const MsgLocationUpdated = "Location updated successfully"

var ErrUserNotFound = apperr.New(apperr.KindNotFound, "USER_NOT_FOUND", "User not found")

// Service reads profiles and records locations.
type Service struct {
	users store.UserStore
	now   func() time.Time
}

func NewService(users store.UserStore, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{users: users, now: now}
}

// Profile returns the public view of the user.
func (s *Service) Profile(ctx context.Context, userID string) (models.Profile, error) {
	u, err := s.users.FindByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return models.Profile{}, ErrUserNotFound
	}
	if err != nil {
		return models.Profile{}, apperr.ErrInternal.Wrap(err)
	}
	return u.Profile(), nil
}

// UpdateLocation overwrites the user's saved location with c.
func (s *Service) UpdateLocation(ctx context.Context, userID string, c validation.Coordinates) (models.Location, error) {
	if err := validation.ValidateCoordinates(c); err != nil {
		return models.Location{}, err
	}
	loc := models.Location{
		Latitude:           c.Latitude,
		Longitude:          c.Longitude,
		LastLocationUpdate: s.now().UTC(),
		Geohash:            geohash.Encode(c.Latitude, c.Longitude),
	}
	err := s.users.UpdateLocation(ctx, userID, loc)
	if errors.Is(err, store.ErrNotFound) {
		return models.Location{}, ErrUserNotFound
	}
	if err != nil {
		return models.Location{}, apperr.ErrInternal.Wrap(err)
	}
	observability.LoggerFrom(ctx).Debug("location updated",
		zap.String("user_id", userID),
		zap.String("geohash", loc.Geohash),
	)
	return loc, nil
}
