package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kjstillabower/weather-reporter/internal/circuitbreaker"
	"github.com/kjstillabower/weather-reporter/internal/models"
	"github.com/kjstillabower/weather-reporter/internal/observability"
)

// DefaultNominatimURL is the public OpenStreetMap reverse endpoint.
const DefaultNominatimURL = "https://nominatim.openstreetmap.org"

// NominatimReverser queries an OpenStreetMap Nominatim instance.
type NominatimReverser struct {
	baseURL   string
	userAgent string
	client    *http.Client
	circuit   *circuitbreaker.CircuitBreaker
}

// NewNominatimReverser returns a reverser for baseURL. Nominatim's usage policy requires an
// identifying User-Agent.
func NewNominatimReverser(baseURL, userAgent string, timeout time.Duration) *NominatimReverser {
	if baseURL == "" {
		baseURL = DefaultNominatimURL
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	cb := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: 5,
		SuccessThreshold: 1,
		Timeout:          30 * time.Second,
		Component:        "nominatim",
		IsFailure: func(err error) bool {
			return !errors.Is(err, ErrNoResult)
		},
		OnStateChange: func(component string, from, to circuitbreaker.State) {
			observability.RecordCircuitBreakerTransition(component, from.String(), to.String())
		},
	})
	return &NominatimReverser{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: userAgent,
		client:    &http.Client{Timeout: timeout},
		circuit:   cb,
	}
}

type nominatimResponse struct {
	DisplayName string `json:"display_name"`
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	Error       string `json:"error"`
	Address     struct {
		City    string `json:"city"`
		Town    string `json:"town"`
		Village string `json:"village"`
		State   string `json:"state"`
		Country string `json:"country"`
	} `json:"address"`
}

// Reverse implements Reverser.
func (n *NominatimReverser) Reverse(ctx context.Context, lat, lng float64) (models.Place, error) {
	var place models.Place
	err := n.circuit.Call(ctx, func(ctx context.Context) error {
		var err error
		place, err = n.call(ctx, lat, lng)
		return err
	})
	if err != nil {
		observability.GeocodeCallsTotal.WithLabelValues("nominatim", "error").Inc()
		if errors.Is(err, circuitbreaker.ErrOpen) {
			return models.Place{}, fmt.Errorf("%w: %v", ErrProvider, err)
		}
		return models.Place{}, err
	}
	observability.GeocodeCallsTotal.WithLabelValues("nominatim", "success").Inc()
	return place, nil
}

func (n *NominatimReverser) call(ctx context.Context, lat, lng float64) (models.Place, error) {
	params := url.Values{}
	params.Set("format", "json")
	params.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	params.Set("lon", strconv.FormatFloat(lng, 'f', -1, 64))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.baseURL+"/reverse?"+params.Encode(), nil)
	if err != nil {
		return models.Place{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if n.userAgent != "" {
		req.Header.Set("User-Agent", n.userAgent)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return models.Place{}, fmt.Errorf("%w: %v", ErrProvider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.Place{}, fmt.Errorf("%w: HTTP %d", ErrProvider, resp.StatusCode)
	}

	var body nominatimResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return models.Place{}, fmt.Errorf("%w: parse response: %v", ErrProvider, err)
	}
	if body.Error != "" || body.DisplayName == "" {
		return models.Place{}, ErrNoResult
	}

	city := body.Address.City
	if city == "" {
		city = body.Address.Town
	}
	if city == "" {
		city = body.Address.Village
	}
	return models.Place{
		DisplayName: body.DisplayName,
		City:        city,
		Region:      body.Address.State,
		Country:     body.Address.Country,
		Latitude:    lat,
		Longitude:   lng,
	}, nil
}
