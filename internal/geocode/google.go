package geocode

import (
	"context"
	"fmt"
	"sync"

	"github.com/kelvins/geocoder"

	"github.com/kjstillabower/weather-reporter/internal/models"
	"github.com/kjstillabower/weather-reporter/internal/observability"
)

// geocoder keeps its key in a package variable; serialize access so keys never interleave.
var googleMu sync.Mutex

// GoogleReverser uses the Google Geocoding API.
type GoogleReverser struct {
	apiKey string
}

// NewGoogleReverser returns a reverser authenticated with apiKey.
func NewGoogleReverser(apiKey string) *GoogleReverser {
	return &GoogleReverser{apiKey: apiKey}
}

// Reverse implements Reverser. The library call is not context-aware; ctx is checked before it.
func (g *GoogleReverser) Reverse(ctx context.Context, lat, lng float64) (models.Place, error) {
	if err := ctx.Err(); err != nil {
		return models.Place{}, err
	}

	googleMu.Lock()
	geocoder.ApiKey = g.apiKey
	addresses, err := geocoder.GeocodingReverse(geocoder.Location{Latitude: lat, Longitude: lng})
	googleMu.Unlock()

	if err != nil {
		observability.GeocodeCallsTotal.WithLabelValues("google", "error").Inc()
		return models.Place{}, fmt.Errorf("%w: %v", ErrProvider, err)
	}
	if len(addresses) == 0 {
		observability.GeocodeCallsTotal.WithLabelValues("google", "empty").Inc()
		return models.Place{}, ErrNoResult
	}
	observability.GeocodeCallsTotal.WithLabelValues("google", "success").Inc()

	addr := addresses[0]
	name := addr.FormattedAddress
	if name == "" {
		name = addr.FormatAddress()
	}
	return models.Place{
		DisplayName: name,
		City:        addr.City,
		Region:      addr.State,
		Country:     addr.Country,
		Latitude:    lat,
		Longitude:   lng,
	}, nil
}
