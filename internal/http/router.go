// Package http exposes the weather, identity and location API.
package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-reporter/internal/apperr"
	"github.com/kjstillabower/weather-reporter/internal/observability"
	"github.com/kjstillabower/weather-reporter/internal/ratelimit"
	"github.com/kjstillabower/weather-reporter/internal/traffic"
)

var errRouteNotFound = apperr.New(apperr.KindNotFound, "NOT_FOUND", "Route not found")

// RouterConfig holds the cross-cutting pieces wrapped around the handlers.
type RouterConfig struct {
	Logger         *zap.Logger
	Tokens         TokenParser
	InFlight       *InFlightTracker
	Tracker        *traffic.Tracker
	AllowedOrigins []string
	RequestTimeout time.Duration
	// WeatherLimiter is the global token bucket for /api/weather. Nil disables it.
	WeatherLimiter *rate.Limiter
	// LocationLimiter sheds POST /api/user/location. Nil disables it.
	LocationLimiter *ratelimit.Limiter
}

// NewRouter registers every route on a new mux.Router.
func NewRouter(h *Handler, cfg RouterConfig) *mux.Router {
	if cfg.InFlight == nil {
		cfg.InFlight = NewInFlightTracker()
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	r := mux.NewRouter()
	r.Use(CorrelationIDMiddleware(cfg.Logger))
	r.Use(RecoverMiddleware)
	r.Use(MetricsMiddleware(cfg.InFlight))
	r.Use(CORSMiddleware(cfg.AllowedOrigins))

	r.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	r.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(TimeoutMiddleware(timeout))

	weather := api.Path("/weather").Subrouter()
	weather.Use(RateLimitMiddleware(cfg.WeatherLimiter, cfg.Tracker))
	weather.Methods(http.MethodGet, http.MethodOptions).HandlerFunc(h.GetWeather)

	api.HandleFunc("/auth/register", h.Register).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/auth/verify", h.VerifyEmail).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/auth/resend-verification", h.ResendVerification).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/auth/login", h.Login).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/geocode/reverse", h.ReverseGeocode).Methods(http.MethodGet, http.MethodOptions)

	profile := api.Path("/user/profile").Subrouter()
	profile.Use(AuthMiddleware(cfg.Tokens))
	profile.Methods(http.MethodGet, http.MethodOptions).HandlerFunc(h.GetProfile)

	location := api.Path("/user/location").Subrouter()
	location.Use(LocationRateLimitMiddleware(cfg.LocationLimiter, cfg.Tokens))
	location.Use(AuthMiddleware(cfg.Tokens))
	location.Methods(http.MethodPost, http.MethodOptions).HandlerFunc(h.UpdateLocation)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		writeAppError(w, req, errRouteNotFound)
	})
	return r
}
