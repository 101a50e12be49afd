package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-reporter/internal/apperr"
	"github.com/kjstillabower/weather-reporter/internal/auth"
	"github.com/kjstillabower/weather-reporter/internal/geocode"
	"github.com/kjstillabower/weather-reporter/internal/lifecycle"
	"github.com/kjstillabower/weather-reporter/internal/observability"
	"github.com/kjstillabower/weather-reporter/internal/service"
	"github.com/kjstillabower/weather-reporter/internal/traffic"
	"github.com/kjstillabower/weather-reporter/internal/user"
	"github.com/kjstillabower/weather-reporter/internal/validation"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 16

// HealthConfig holds thresholds and probes for the health handler.
type HealthConfig struct {
	DegradedWindow   time.Duration
	DegradedErrorPct int
	// DegradedMinRequests is the sample size below which the error rate is ignored.
	DegradedMinRequests int
	StartTime           time.Time
	// StorePing and LimiterPing, when set, report backend reachability.
	StorePing   func(context.Context) error
	LimiterPing func(context.Context) error
	// Lifecycle reports draining. Nil means the process never drains.
	Lifecycle *lifecycle.State
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	weather  *service.WeatherService
	auth     *auth.Service
	users    *user.Service
	places   geocode.Reverser
	tracker  *traffic.Tracker
	health   *HealthConfig
	logger   *zap.Logger
	statusMu sync.Mutex
	prev     string
}

// NewHandler returns a new Handler. places, tracker and health may be nil.
func NewHandler(
	weather *service.WeatherService,
	authSvc *auth.Service,
	users *user.Service,
	places geocode.Reverser,
	tracker *traffic.Tracker,
	health *HealthConfig,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		weather: weather,
		auth:    authSvc,
		users:   users,
		places:  places,
		tracker: tracker,
		health:  health,
		logger:  logger,
	}
}

// GetWeather handles GET /api/weather?city=.
func (h *Handler) GetWeather(w http.ResponseWriter, r *http.Request) {
	city := r.URL.Query().Get("city")
	data, err := h.weather.GetWeather(r.Context(), city)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

// Register handles POST /api/auth/register.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var body validation.Registration
	if !decodeJSON(w, r, &body) {
		return
	}
	body, err := validation.ValidateRegistration(body)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	if err := h.auth.Register(r.Context(), body.Username, body.Email, body.Password); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, messageBody(auth.MsgRegistered))
}

// VerifyEmail handles GET /api/auth/verify?token=. Browsers following the emailed link get
// an HTML page; API clients get JSON.
func (h *Handler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	html := wantsHTML(r)
	token, err := validation.ValidateVerificationToken(r.URL.Query().Get("token"))
	if err == nil {
		var msg string
		msg, err = h.auth.VerifyEmail(r.Context(), token)
		if err == nil {
			if html {
				writeVerifyPage(w, http.StatusOK, true, msg)
				return
			}
			writeJSON(w, http.StatusOK, messageBody(msg))
			return
		}
	}
	if html {
		appErr := toAppError(r, err)
		writeVerifyPage(w, appErr.Status, false, appErr.Message)
		return
	}
	writeAppError(w, r, err)
}

// ResendVerification handles POST /api/auth/resend-verification.
func (h *Handler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	var body validation.EmailRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	body, err := validation.ValidateEmail(body)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	if err := h.auth.ResendVerification(r.Context(), body.Email); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageBody(auth.MsgResent))
}

// Login handles POST /api/auth/login. The email field may carry a username.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var body validation.Login
	if !decodeJSON(w, r, &body) {
		return
	}
	body, err := validation.ValidateLogin(body)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	res, err := h.auth.Login(r.Context(), body.Email, body.Password)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": auth.MsgLoggedIn,
		"token":   res.Token,
		"user":    res.User,
	})
}

// GetProfile handles GET /api/user/profile.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFrom(r.Context())
	if !ok {
		writeAppError(w, r, apperr.ErrUnauthorized)
		return
	}
	profile, err := h.users.Profile(r.Context(), claims.UserID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// locationBody keeps the raw values so non-numbers can be told apart from missing fields.
type locationBody struct {
	Latitude  json.RawMessage `json:"latitude"`
	Longitude json.RawMessage `json:"longitude"`
}

var errNotNumbers = validation.ErrValidation.WithMessage("latitude and longitude must be numbers")

// UpdateLocation handles POST /api/user/location.
func (h *Handler) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFrom(r.Context())
	if !ok {
		writeAppError(w, r, apperr.ErrUnauthorized)
		return
	}
	var body locationBody
	if !decodeJSON(w, r, &body) {
		return
	}
	lat, latOK := parseNumber(body.Latitude)
	lng, lngOK := parseNumber(body.Longitude)
	if !latOK || !lngOK {
		writeAppError(w, r, errNotNumbers)
		return
	}
	if _, err := h.users.UpdateLocation(r.Context(), claims.UserID, validation.Coordinates{Latitude: lat, Longitude: lng}); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageBody(user.MsgLocationUpdated))
}

// parseNumber accepts only a JSON number literal.
func parseNumber(raw json.RawMessage) (float64, bool) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" || strings.HasPrefix(s, `"`) {
		return 0, false
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	return v, true
}

// ReverseGeocode handles GET /api/geocode/reverse?lat=&lon=.
func (h *Handler) ReverseGeocode(w http.ResponseWriter, r *http.Request) {
	if h.places == nil {
		writeAppError(w, r, geocode.ErrUnavailable)
		return
	}
	q := r.URL.Query()
	lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
	lng, errLng := strconv.ParseFloat(q.Get("lon"), 64)
	if errLat != nil || errLng != nil {
		writeAppError(w, r, errNotNumbers.WithMessage("lat and lon must be numbers"))
		return
	}
	if err := validation.ValidateCoordinates(validation.Coordinates{Latitude: lat, Longitude: lng}); err != nil {
		writeAppError(w, r, err)
		return
	}
	place, err := h.places.Reverse(r.Context(), lat, lng)
	if err != nil {
		writeAppError(w, r, geocode.Classify(err))
		return
	}
	writeJSON(w, http.StatusOK, place)
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
	checks     map[string]string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus(r.Context())

	h.statusMu.Lock()
	if h.prev != "" && h.prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", h.prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.prev = result.status
	h.statusMu.Unlock()

	resp := map[string]interface{}{
		"status":    result.status,
		"service":   observability.ServiceName,
		"version":   "dev",
		"checks":    result.checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if h.health != nil && !h.health.StartTime.IsZero() {
		resp["uptimeSeconds"] = int(time.Since(h.health.StartTime).Seconds())
	}
	writeJSON(w, result.statusCode, resp)
}

// computeHealthStatus evaluates, in order: shutting-down, backend probes, upstream error rate.
func (h *Handler) computeHealthStatus(ctx context.Context) healthResult {
	checks := map[string]string{}
	if h.health != nil && h.health.Lifecycle.ShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal", checks}
	}
	if h.health == nil {
		return healthResult{"healthy", http.StatusOK, "", checks}
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	reason := ""
	probe := func(name string, ping func(context.Context) error) {
		if ping == nil {
			return
		}
		if err := ping(ctx); err != nil {
			checks[name] = "unhealthy"
			if reason == "" {
				reason = name + "_unreachable"
			}
			return
		}
		checks[name] = "healthy"
	}
	probe("store", h.health.StorePing)
	probe("rateLimiter", h.health.LimiterPing)

	checks["weatherApi"] = "healthy"
	if h.tracker != nil && h.health.DegradedWindow > 0 && h.health.DegradedErrorPct > 0 {
		errs, total := h.tracker.ErrorRate(h.health.DegradedWindow)
		if total >= h.health.DegradedMinRequests && total > 0 &&
			float64(errs)*100/float64(total) >= float64(h.health.DegradedErrorPct) {
			checks["weatherApi"] = "unhealthy"
			if reason == "" {
				reason = "error_rate_breach"
			}
		}
	}

	if reason != "" {
		return healthResult{"degraded", http.StatusServiceUnavailable, reason, checks}
	}
	return healthResult{"healthy", http.StatusOK, "", checks}
}

func messageBody(msg string) map[string]string {
	return map[string]string{"message": msg}
}

// decodeJSON reads a bounded JSON body into v. On failure it writes a 400 and returns false.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			writeAppError(w, r, validation.ErrValidation.WithMessage("Invalid value for "+typeErr.Field).Wrap(err))
			return false
		}
		writeAppError(w, r, apperr.ErrBadRequest.Wrap(err))
		return false
	}
	return true
}

func wantsHTML(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "text/html") && !strings.Contains(accept, "application/json")
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// toAppError classifies err, logging the cause of anything that is not a client error.
func toAppError(r *http.Request, err error) *apperr.Error {
	appErr, ok := apperr.As(err)
	if !ok {
		appErr = apperr.ErrInternal.Wrap(err)
	}
	logger := observability.LoggerFrom(r.Context())
	switch {
	case appErr.Status >= 500:
		logger.Warn("request failed",
			zap.String("code", appErr.Code),
			zap.String("kind", appErr.Kind.String()),
			zap.Error(err))
	default:
		logger.Debug("request rejected", zap.String("code", appErr.Code), zap.Error(err))
	}
	return appErr
}

// writeAppError renders any error as {error, code, requestId}. Causes are logged, never sent.
// Rate-limited errors also carry retryAfterSeconds and a Retry-After header.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := toAppError(r, err)
	body := map[string]interface{}{
		"error":     appErr.Message,
		"code":      appErr.Code,
		"requestId": observability.CorrelationIDFrom(r.Context()),
	}
	if appErr.RetryAfter > 0 {
		secs := retryAfterSeconds(appErr.RetryAfter)
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		body["retryAfterSeconds"] = secs
	}
	writeJSON(w, appErr.Status, body)
}

// retryAfterSeconds rounds up so clients never retry early.
func retryAfterSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
