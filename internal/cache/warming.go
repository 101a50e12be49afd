package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-reporter/internal/models"
)

// WeatherFetcher is implemented by the service layer. Declared here to avoid importing it.
// RefreshWeather must bypass a fresh cache entry so each warm extends its expiry.
type WeatherFetcher interface {
	RefreshWeather(ctx context.Context, city string) (models.WeatherData, error)
}

// Warmer refreshes weather for a fixed list of cities, once at startup and then on a schedule.
// An interval shorter than the cache TTL keeps those cities permanently warm.
type Warmer struct {
	fetcher   WeatherFetcher
	logger    *zap.Logger
	cities    []string
	timeout   time.Duration
	scheduler *gocron.Scheduler
}

// NewWarmer returns a Warmer. timeout bounds each warming round.
func NewWarmer(fetcher WeatherFetcher, logger *zap.Logger, cities []string, timeout time.Duration) *Warmer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Warmer{
		fetcher:   fetcher,
		logger:    logger,
		cities:    cities,
		timeout:   timeout,
		scheduler: gocron.NewScheduler(time.UTC),
	}
}

// Warm fetches every city concurrently. Returns an aggregated error if any city failed.
func (w *Warmer) Warm(ctx context.Context) error {
	start := time.Now()
	w.logger.Info("warming cache", zap.Int("cities", len(w.cities)))

	var wg sync.WaitGroup
	errCh := make(chan error, len(w.cities))
	for _, city := range w.cities {
		city := city
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := w.fetcher.RefreshWeather(ctx, city); err != nil {
				errCh <- fmt.Errorf("warm %s: %w", city, err)
			}
		}()
	}
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	w.logger.Info("cache warming complete",
		zap.Int("cities", len(w.cities)),
		zap.Int("errors", len(errs)),
		zap.Duration("duration", time.Since(start)))
	if len(errs) > 0 {
		return fmt.Errorf("cache warming: %v", errs)
	}
	return nil
}

// Start runs an immediate warm and schedules one every interval. Stop ends the schedule.
func (w *Warmer) Start(interval time.Duration) error {
	if len(w.cities) == 0 {
		w.logger.Info("cache warming: no cities configured")
		return nil
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	_, err := w.scheduler.Every(interval).StartImmediately().Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		defer cancel()
		if err := w.Warm(ctx); err != nil {
			w.logger.Warn("scheduled cache warm failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule cache warming: %w", err)
	}
	w.scheduler.StartAsync()
	return nil
}

// Stop halts scheduled warming.
func (w *Warmer) Stop() {
	w.scheduler.Stop()
}
