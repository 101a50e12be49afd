package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-reporter/internal/apperr"
	"github.com/kjstillabower/weather-reporter/internal/cache"
	"github.com/kjstillabower/weather-reporter/internal/client"
	"github.com/kjstillabower/weather-reporter/internal/models"
	"github.com/kjstillabower/weather-reporter/internal/observability"
	"github.com/kjstillabower/weather-reporter/internal/traffic"
	"github.com/kjstillabower/weather-reporter/internal/validation"
)

var (
	ErrCityNotFound = apperr.New(apperr.KindNotFound, "CITY_NOT_FOUND", "Invalid city name")
	ErrUpstream     = apperr.New(apperr.KindUpstream, "UPSTREAM_UNAVAILABLE", "Failed to fetch weather data")
)

// WeatherService validates a city, then serves it through a fetch cache backed by the
// weather provider.
type WeatherService struct {
	client  client.WeatherClient
	cache   *cache.FetchCache[models.WeatherData]
	tracker *traffic.Tracker
}

// NewWeatherService returns a WeatherService. tracker may be nil.
func NewWeatherService(c client.WeatherClient, weatherCache *cache.FetchCache[models.WeatherData], tracker *traffic.Tracker) *WeatherService {
	return &WeatherService{
		client:  c,
		cache:   weatherCache,
		tracker: tracker,
	}
}

// NewWeatherCache returns the weather fetch cache with the given TTL.
func NewWeatherCache(ttl time.Duration, opts ...cache.Option) *cache.FetchCache[models.WeatherData] {
	return cache.New[models.WeatherData]("weather", ttl, opts...)
}

// GetWeather returns current conditions for city. Invalid input never reaches the cache;
// provider failures are not cached.
func (s *WeatherService) GetWeather(ctx context.Context, city string) (models.WeatherData, error) {
	return s.lookup(ctx, city, s.cache.Get)
}

// RefreshWeather fetches city from the provider even when the cached entry is still fresh,
// so a scheduled warm pushes the expiry forward instead of waiting for it.
func (s *WeatherService) RefreshWeather(ctx context.Context, city string) (models.WeatherData, error) {
	return s.lookup(ctx, city, s.cache.Refresh)
}

type cacheOp func(ctx context.Context, key string, produce cache.Producer[models.WeatherData]) (models.WeatherData, error)

func (s *WeatherService) lookup(ctx context.Context, city string, op cacheOp) (models.WeatherData, error) {
	key, err := validation.ValidateCity(city)
	if err != nil {
		return models.WeatherData{}, err
	}

	start := time.Now()
	logger := observability.LoggerFrom(ctx)
	observability.RecordWeatherQuery(key)

	data, err := op(ctx, key, func(ctx context.Context) (models.WeatherData, error) {
		logger.Debug("fetching upstream", zap.String("city", key))
		d, err := s.client.GetCurrentWeather(ctx, key)
		s.recordOutcome(err)
		return d, err
	})
	if err != nil {
		return models.WeatherData{}, s.classify(key, err)
	}

	logger.Debug("weather served", zap.String("city", key), zap.Duration("duration", time.Since(start)))
	return data, nil
}

func (s *WeatherService) recordOutcome(err error) {
	if s.tracker == nil {
		return
	}
	if err == nil || errors.Is(err, client.ErrCityNotFound) {
		s.tracker.RecordSuccess()
		return
	}
	s.tracker.RecordError()
}

func (s *WeatherService) classify(key string, err error) error {
	if errors.Is(err, client.ErrCityNotFound) {
		return ErrCityNotFound.WithMessage(fmt.Sprintf("Invalid city name: %q", key)).Wrap(err)
	}
	return ErrUpstream.Wrap(err)
}
