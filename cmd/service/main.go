package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-reporter/internal/auth"
	"github.com/kjstillabower/weather-reporter/internal/cache"
	"github.com/kjstillabower/weather-reporter/internal/circuitbreaker"
	"github.com/kjstillabower/weather-reporter/internal/client"
	"github.com/kjstillabower/weather-reporter/internal/config"
	"github.com/kjstillabower/weather-reporter/internal/geocode"
	httphandler "github.com/kjstillabower/weather-reporter/internal/http"
	"github.com/kjstillabower/weather-reporter/internal/lifecycle"
	"github.com/kjstillabower/weather-reporter/internal/mailer"
	"github.com/kjstillabower/weather-reporter/internal/observability"
	"github.com/kjstillabower/weather-reporter/internal/ratelimit"
	"github.com/kjstillabower/weather-reporter/internal/service"
	"github.com/kjstillabower/weather-reporter/internal/store"
	"github.com/kjstillabower/weather-reporter/internal/traffic"
	"github.com/kjstillabower/weather-reporter/internal/user"
)

// minHealthSample is the number of upstream calls needed before the error rate counts.
const minHealthSample = 5

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	opts := client.Options{
		Timeout:        cfg.WeatherAPITimeout,
		RetryAttempts:  cfg.RetryAttempts,
		RetryBaseDelay: cfg.RetryBaseDelay,
		RetryMaxDelay:  cfg.RetryMaxDelay,
	}
	if cfg.CircuitBreakerEnabled {
		opts.Breaker = circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold: cfg.CircuitBreakerFailureThreshold,
			SuccessThreshold: cfg.CircuitBreakerSuccessThreshold,
			Timeout:          cfg.CircuitBreakerTimeout,
			Component:        "weather_api",
			IsFailure:        client.CountsAgainstBreaker,
			OnStateChange: func(component string, from, to circuitbreaker.State) {
				observability.RecordCircuitBreakerTransition(component, from.String(), to.String())
				logger.Warn("circuit breaker transition",
					zap.String("component", component),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		})
		logger.Info("circuit breaker enabled", zap.Int("failure_threshold", cfg.CircuitBreakerFailureThreshold), zap.Duration("timeout", cfg.CircuitBreakerTimeout))
	}
	weatherClient, err := client.NewWeatherAPIClient(cfg.WeatherAPIKey, cfg.WeatherAPIURL, opts)
	if err != nil {
		logger.Fatal("weather client", zap.Error(err))
	}
	probeCtx, probeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := weatherClient.ValidateAPIKey(probeCtx); err != nil {
		logger.Warn("weather API key check failed", zap.Error(err))
	}
	probeCancel()

	tracker := traffic.NewTracker(time.Now)
	weatherService := service.NewWeatherService(weatherClient, service.NewWeatherCache(cfg.CacheTTL), tracker)

	if len(cfg.TrackedLocations) > 0 {
		observability.SetTrackedLocations(cfg.TrackedLocations)
	}
	var warmer *cache.Warmer
	if cfg.WarmCache && len(cfg.TrackedLocations) > 0 {
		warmer = cache.NewWarmer(weatherService, logger, cfg.TrackedLocations, 30*time.Second)
		if err := warmer.Start(cfg.WarmInterval); err != nil {
			logger.Warn("cache warming not scheduled", zap.Error(err))
		}
	}

	startCtx, startCancel := context.WithTimeout(context.Background(), 15*time.Second)
	users, err := newStore(startCtx, cfg)
	startCancel()
	if err != nil {
		logger.Fatal("user store", zap.Error(err))
	}
	logger.Info("store backend", zap.String("backend", cfg.StoreBackend))

	counter, counterCloser := newCounter(cfg)
	locationLimiter := ratelimit.New("location", counter, cfg.LocationRateLimit, cfg.LocationRateWindow, time.Now)
	logger.Info("rate limit backend", zap.String("backend", cfg.RateLimitBackend))

	tokens := auth.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL, time.Now)
	authService := auth.NewService(users, newSender(cfg, logger), tokens, auth.Config{
		FrontendURL:    cfg.FrontendURL,
		ResendCooldown: cfg.ResendCooldown,
		BcryptCost:     cfg.BcryptCost,
	}, time.Now)
	userService := user.NewService(users, time.Now)
	places := geocode.NewCachedReverser(newReverser(cfg), cfg.GeocodeCacheTTL)

	drain := lifecycle.New()
	healthConfig := &httphandler.HealthConfig{
		DegradedWindow:      cfg.DegradedWindow,
		DegradedErrorPct:    cfg.DegradedErrorPct,
		DegradedMinRequests: minHealthSample,
		StartTime:           time.Now(),
		StorePing:           users.Ping,
		LimiterPing:         locationLimiter.Ping,
		Lifecycle:           drain,
	}
	handler := httphandler.NewHandler(weatherService, authService, userService, places, tracker, healthConfig, logger)

	var weatherLimiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		weatherLimiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	inFlight := httphandler.NewInFlightTracker()
	router := httphandler.NewRouter(handler, httphandler.RouterConfig{
		Logger:          logger,
		Tokens:          authService,
		InFlight:        inFlight,
		Tracker:         tracker,
		AllowedOrigins:  cfg.CORSAllowedOrigins,
		RequestTimeout:  cfg.RequestTimeout,
		WeatherLimiter:  weatherLimiter,
		LocationLimiter: locationLimiter,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", ":"+cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	drain.BeginShutdown(time.Now())
	if warmer != nil {
		warmer.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight.Count()))
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownInFlightTimeout)
	defer waitCancel()
	if err := inFlight.WaitForZero(waitCtx, cfg.ShutdownInFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", inFlight.Count()))
	}

	if err := users.Close(shutdownCtx); err != nil {
		logger.Error("store close", zap.Error(err))
	}
	if counterCloser != nil {
		if err := counterCloser.Close(); err != nil {
			logger.Error("rate limit backend close", zap.Error(err))
		}
	}
	flushCtx, flushCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer flushCancel()
	if err := observability.FlushTelemetry(flushCtx, logger); err != nil {
		fmt.Fprintf(os.Stderr, "telemetry flush: %v\n", err)
	}
	logger.Info("shutdown complete")
}

// newStore opens the configured user store.
func newStore(ctx context.Context, cfg *config.Config) (store.UserStore, error) {
	switch cfg.StoreBackend {
	case "mongo":
		return store.NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase)
	case "postgres":
		return store.NewPostgresStore(ctx, cfg.DatabaseURL)
	default:
		return store.NewMemoryStore(time.Now), nil
	}
}

// newCounter returns the location limiter's counter and, for network backends, its closer.
func newCounter(cfg *config.Config) (ratelimit.Counter, io.Closer) {
	switch cfg.RateLimitBackend {
	case "redis":
		c := ratelimit.NewRedisCounter(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		return c, c
	case "memcached":
		return ratelimit.NewMemcachedCounter(cfg.MemcachedTimeout, splitAddrs(cfg.MemcachedAddrs)...), nil
	default:
		return ratelimit.NewMemoryCounter(time.Now), nil
	}
}

func newSender(cfg *config.Config, logger *zap.Logger) mailer.Sender {
	if cfg.MailBackend == "smtp" {
		return mailer.NewSMTPSender(mailer.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			TLS:      cfg.SMTPTLS,
			Timeout:  10 * time.Second,
		}, logger)
	}
	return mailer.NewLogSender(logger)
}

func newReverser(cfg *config.Config) geocode.Reverser {
	if cfg.GeocodeProvider == "google" {
		return geocode.NewGoogleReverser(cfg.GoogleGeocodingAPIKey)
	}
	return geocode.NewNominatimReverser(cfg.NominatimURL, cfg.GeocodeUserAgent, cfg.GeocodeTimeout)
}

func splitAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}
