// Package geocode turns coordinates into place names through a pluggable provider.
package geocode

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/kjstillabower/weather-reporter/internal/apperr"
	"github.com/kjstillabower/weather-reporter/internal/cache"
	"github.com/kjstillabower/weather-reporter/internal/models"
)

// Reverser resolves a coordinate pair to a place.
type Reverser interface {
	Reverse(ctx context.Context, lat, lng float64) (models.Place, error)
}

var (
	ErrNoResult = errors.New("no place found for coordinates")
	ErrProvider = errors.New("geocoding provider failure")

	ErrPlaceNotFound = apperr.New(apperr.KindNotFound, "PLACE_NOT_FOUND", "No place found for these coordinates")
	ErrUnavailable   = apperr.New(apperr.KindUpstream, "GEOCODE_UNAVAILABLE", "Failed to resolve location")
)

// CoordinateKey rounds to 4 decimals (about 11 m), so nearby fixes share a cache entry.
func CoordinateKey(lat, lng float64) string {
	return fmt.Sprintf("%.4f,%.4f", round4(lat), round4(lng))
}

// round4 normalizes -0.0000 to 0.0000 so both hemispheres of zero share a key.
func round4(v float64) float64 {
	r := math.Round(v*1e4) / 1e4
	if r == 0 {
		return 0
	}
	return r
}

// CachedReverser fronts a Reverser with a fetch cache keyed by CoordinateKey.
type CachedReverser struct {
	next  Reverser
	cache *cache.FetchCache[models.Place]
}

// NewCachedReverser wraps next with a cache holding results for ttl.
func NewCachedReverser(next Reverser, ttl time.Duration, opts ...cache.Option) *CachedReverser {
	return &CachedReverser{
		next:  next,
		cache: cache.New[models.Place]("geocode", ttl, opts...),
	}
}

// Reverse implements Reverser. Fixes sharing a key share the place, but each caller gets
// its own coordinates back.
func (c *CachedReverser) Reverse(ctx context.Context, lat, lng float64) (models.Place, error) {
	place, err := c.cache.Get(ctx, CoordinateKey(lat, lng), func(ctx context.Context) (models.Place, error) {
		return c.next.Reverse(ctx, lat, lng)
	})
	if err != nil {
		return models.Place{}, err
	}
	place.Latitude, place.Longitude = lat, lng
	return place, nil
}

// Classify maps provider errors onto the application taxonomy.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := apperr.As(err); ok {
		return err
	}
	if errors.Is(err, ErrNoResult) {
		return ErrPlaceNotFound.Wrap(err)
	}
	return ErrUnavailable.Wrap(err)
}
