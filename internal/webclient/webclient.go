// Package webclient talks to the weather-reporter backend the way the browser client does:
// client-side caches in front of weather and geocoding, a bearer session, and a local resend
// cooldown.
package webclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-reporter/internal/apperr"
	"github.com/kjstillabower/weather-reporter/internal/cache"
	"github.com/kjstillabower/weather-reporter/internal/geocode"
	"github.com/kjstillabower/weather-reporter/internal/models"
	"github.com/kjstillabower/weather-reporter/internal/validation"
)

// Default client-side TTLs. They are independent of the backend's own cache.
const (
	DefaultWeatherTTL     = 5 * time.Minute
	DefaultGeocodeTTL     = 30 * time.Minute
	DefaultResendCooldown = 5 * time.Minute
)

// ErrResendCooldown is returned without contacting the backend while the local cooldown runs.
var ErrResendCooldown = apperr.New(apperr.KindRateLimited, "RESEND_COOLDOWN", "Please wait before requesting another verification email.")

// Config configures a Client. Zero durations take the defaults.
type Config struct {
	BaseURL        string
	Timeout        time.Duration
	WeatherTTL     time.Duration
	GeocodeTTL     time.Duration
	ResendCooldown time.Duration
	Now            func() time.Time
	Logger         *zap.Logger
}

// Client is a backend API client. It is safe for concurrent use.
type Client struct {
	baseURL  string
	http     *http.Client
	weather  *cache.FetchCache[models.WeatherData]
	places   *geocode.CachedReverser
	cooldown time.Duration
	now      func() time.Time
	logger   *zap.Logger

	mu         sync.Mutex
	token      string
	nextResend map[string]time.Time
}

func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.WeatherTTL <= 0 {
		cfg.WeatherTTL = DefaultWeatherTTL
	}
	if cfg.GeocodeTTL <= 0 {
		cfg.GeocodeTTL = DefaultGeocodeTTL
	}
	if cfg.ResendCooldown <= 0 {
		cfg.ResendCooldown = DefaultResendCooldown
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		http:       &http.Client{Timeout: cfg.Timeout},
		weather:    cache.New[models.WeatherData]("client_weather", cfg.WeatherTTL, cache.WithClock(cfg.Now)),
		cooldown:   cfg.ResendCooldown,
		now:        cfg.Now,
		logger:     cfg.Logger,
		nextResend: make(map[string]time.Time),
	}
	c.places = geocode.NewCachedReverser(backendReverser{c}, cfg.GeocodeTTL, cache.WithClock(cfg.Now))
	return c
}

// SetToken installs a bearer token, e.g. one loaded from disk.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// Token returns the current bearer token.
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// Weather returns current conditions for city. The city is sanitized locally so that
// equivalent inputs share a cache entry; invalid input never leaves the process.
func (c *Client) Weather(ctx context.Context, city string) (models.WeatherData, error) {
	key, err := validation.ValidateCity(city)
	if err != nil {
		return models.WeatherData{}, err
	}
	return c.weather.Get(ctx, key, func(ctx context.Context) (models.WeatherData, error) {
		var out models.WeatherData
		err := c.do(ctx, http.MethodGet, "/api/weather?city="+url.QueryEscape(key), nil, false, &out)
		return out, err
	})
}

// Reverse resolves coordinates to a place through the backend, cached for the geocode TTL.
func (c *Client) Reverse(ctx context.Context, lat, lng float64) (models.Place, error) {
	return c.places.Reverse(ctx, lat, lng)
}

type backendReverser struct{ c *Client }

func (b backendReverser) Reverse(ctx context.Context, lat, lng float64) (models.Place, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(lng, 'f', -1, 64))
	var out models.Place
	err := b.c.do(ctx, http.MethodGet, "/api/geocode/reverse?"+q.Encode(), nil, false, &out)
	return out, err
}

type messageResponse struct {
	Message string `json:"message"`
}

// Register creates an account and returns the server's message.
func (c *Client) Register(ctx context.Context, username, email, password string) (string, error) {
	var out messageResponse
	body := map[string]string{"username": username, "email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/auth/register", body, false, &out); err != nil {
		return "", err
	}
	return out.Message, nil
}

// Verify submits a verification token.
func (c *Client) Verify(ctx context.Context, token string) (string, error) {
	var out messageResponse
	if err := c.do(ctx, http.MethodGet, "/api/auth/verify?token="+url.QueryEscape(token), nil, false, &out); err != nil {
		return "", err
	}
	return out.Message, nil
}

// LoginResponse is the body of a successful login.
type LoginResponse struct {
	Message string         `json:"message"`
	Token   string         `json:"token"`
	User    models.Summary `json:"user"`
}

// Login authenticates and keeps the returned token for later calls.
func (c *Client) Login(ctx context.Context, identifier, password string) (LoginResponse, error) {
	var out LoginResponse
	body := map[string]string{"email": identifier, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", body, false, &out); err != nil {
		return LoginResponse{}, err
	}
	c.SetToken(out.Token)
	return out, nil
}

// ResendVerification asks for a new verification email. Within the local cooldown it fails
// with ErrResendCooldown without a request. The cooldown restarts on success, and on a
// rate-limited answer it follows the server's retry hint.
func (c *Client) ResendVerification(ctx context.Context, email string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(email))
	now := c.now()

	c.mu.Lock()
	next, ok := c.nextResend[key]
	c.mu.Unlock()
	if ok && now.Before(next) {
		return "", ErrResendCooldown.WithRetryAfter(next.Sub(now))
	}

	var out messageResponse
	err := c.do(ctx, http.MethodPost, "/api/auth/resend-verification", map[string]string{"email": email}, false, &out)
	switch {
	case err == nil:
		c.setNextResend(key, now.Add(c.cooldown))
		return out.Message, nil
	case apperr.KindOf(err) == apperr.KindRateLimited:
		wait := c.cooldown
		if appErr, _ := apperr.As(err); appErr.RetryAfter > 0 {
			wait = appErr.RetryAfter
		}
		c.setNextResend(key, now.Add(wait))
		return "", err
	default:
		return "", err
	}
}

// NextResendAt reports when a resend for email is next allowed locally.
func (c *Client) NextResendAt(email string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.nextResend[strings.ToLower(strings.TrimSpace(email))]
	return t, ok
}

func (c *Client) setNextResend(key string, t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextResend[key] = t
}

// Profile returns the authenticated user's profile.
func (c *Client) Profile(ctx context.Context) (models.Profile, error) {
	var out models.Profile
	err := c.do(ctx, http.MethodGet, "/api/user/profile", nil, true, &out)
	return out, err
}

// UpdateLocation pushes a coordinate pair for the authenticated user.
func (c *Client) UpdateLocation(ctx context.Context, lat, lng float64) error {
	body := map[string]float64{"latitude": lat, "longitude": lng}
	return c.do(ctx, http.MethodPost, "/api/user/location", body, true, &messageResponse{})
}

// errorResponse is the backend error body.
type errorResponse struct {
	Error             string `json:"error"`
	Code              string `json:"code"`
	RequestID         string `json:"requestId"`
	RetryAfterSeconds int    `json:"retryAfterSeconds"`
}

func (c *Client) do(ctx context.Context, method, path string, body any, authed bool, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		token := c.Token()
		if token == "" {
			return apperr.ErrUnauthorized.WithMessage("Not logged in")
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apperr.New(apperr.KindUpstream, "BACKEND_UNREACHABLE", "Could not reach the weather service").Wrap(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return decodeError(resp, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response, data []byte) error {
	var body errorResponse
	_ = json.Unmarshal(data, &body)
	if body.Error == "" {
		body.Error = http.StatusText(resp.StatusCode)
	}
	if body.Code == "" {
		body.Code = "HTTP_" + strconv.Itoa(resp.StatusCode)
	}
	e := apperr.New(kindForStatus(resp.StatusCode), body.Code, body.Error).WithStatus(resp.StatusCode)
	retry := time.Duration(body.RetryAfterSeconds) * time.Second
	if retry == 0 {
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
			retry = time.Duration(secs) * time.Second
		}
	}
	if retry > 0 {
		e = e.WithRetryAfter(retry)
	}
	if body.RequestID != "" {
		e = e.Wrap(fmt.Errorf("request %s", body.RequestID))
	}
	return e
}

func kindForStatus(status int) apperr.Kind {
	switch status {
	case http.StatusBadRequest:
		return apperr.KindValidation
	case http.StatusUnauthorized:
		return apperr.KindAuth
	case http.StatusNotFound:
		return apperr.KindNotFound
	case http.StatusTooManyRequests:
		return apperr.KindRateLimited
	default:
		return apperr.KindUpstream
	}
}

// IsRateLimited reports whether err is a local or remote rate-limit rejection.
func IsRateLimited(err error) bool {
	var appErr *apperr.Error
	return errors.As(err, &appErr) && appErr.Kind == apperr.KindRateLimited
}
