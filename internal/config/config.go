package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds service configuration loaded from YAML, secrets and env.
type Config struct {
	ServerPort         string
	CORSAllowedOrigins []string

	WeatherAPIKey     string
	WeatherAPIURL     string
	WeatherAPITimeout time.Duration

	RequestTimeout  time.Duration
	CacheTTL        time.Duration
	GeocodeCacheTTL time.Duration

	WarmCache    bool
	WarmInterval time.Duration

	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	RateLimitRPS   int
	RateLimitBurst int

	CircuitBreakerEnabled          bool
	CircuitBreakerFailureThreshold int
	CircuitBreakerSuccessThreshold int
	CircuitBreakerTimeout          time.Duration

	LocationRateLimit  int
	LocationRateWindow time.Duration
	RateLimitBackend   string // "in_memory", "redis" or "memcached"
	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	MemcachedAddrs     string
	MemcachedTimeout   time.Duration

	StoreBackend  string // "memory", "mongo" or "postgres"
	MongoURI      string
	MongoDatabase string
	DatabaseURL   string

	JWTSecret      string
	TokenTTL       time.Duration
	FrontendURL    string
	ResendCooldown time.Duration
	BcryptCost     int

	MailBackend  string // "log" or "smtp"
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPTLS      string

	GeocodeProvider       string // "nominatim" or "google"
	NominatimURL          string
	GeocodeUserAgent      string
	GeocodeTimeout        time.Duration
	GoogleGeocodingAPIKey string

	ShutdownTimeout               time.Duration
	ShutdownInFlightTimeout       time.Duration
	ShutdownInFlightCheckInterval time.Duration

	DegradedWindow   time.Duration
	DegradedErrorPct int

	TrackedLocations []string
}

type fileConfig struct {
	Server struct {
		Port               string   `yaml:"port"`
		CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	} `yaml:"server"`

	WeatherAPI struct {
		URL     string `yaml:"url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"weather_api"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Cache struct {
		TTL          string `yaml:"ttl"`
		GeocodeTTL   string `yaml:"geocode_ttl"`
		Warm         bool   `yaml:"warm"`
		WarmInterval string `yaml:"warm_interval"`
	} `yaml:"cache"`

	Reliability struct {
		RetryMaxAttempts int    `yaml:"retry_max_attempts"`
		RetryBaseDelay   string `yaml:"retry_base_delay"`
		RetryMaxDelay    string `yaml:"retry_max_delay"`
		RateLimitRPS     int    `yaml:"rate_limit_rps"`
		RateLimitBurst   int    `yaml:"rate_limit_burst"`
		CircuitBreaker struct {
			Enabled          *bool  `yaml:"enabled"`
			FailureThreshold int    `yaml:"failure_threshold"`
			SuccessThreshold int    `yaml:"success_threshold"`
			Timeout          string `yaml:"timeout"`
		} `yaml:"circuit_breaker"`
	} `yaml:"reliability"`

	RateLimit struct {
		Backend          string `yaml:"backend"`
		LocationRequests int    `yaml:"location_requests"`
		LocationWindow   string `yaml:"location_window"`
		RedisAddr        string `yaml:"redis_addr"`
		RedisDB          int    `yaml:"redis_db"`
		MemcachedAddrs   string `yaml:"memcached_addrs"`
		MemcachedTimeout string `yaml:"memcached_timeout"`
	} `yaml:"rate_limit"`

	Store struct {
		Backend       string `yaml:"backend"`
		MongoURI      string `yaml:"mongo_uri"`
		MongoDatabase string `yaml:"mongo_database"`
		DatabaseURL   string `yaml:"database_url"`
	} `yaml:"store"`

	Auth struct {
		TokenTTL       string `yaml:"token_ttl"`
		FrontendURL    string `yaml:"frontend_url"`
		ResendCooldown string `yaml:"resend_cooldown"`
		BcryptCost     int    `yaml:"bcrypt_cost"`
	} `yaml:"auth"`

	Mail struct {
		Backend  string `yaml:"backend"`
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Username string `yaml:"username"`
		From     string `yaml:"from"`
		TLS      string `yaml:"tls"`
	} `yaml:"mail"`

	Geocode struct {
		Provider     string `yaml:"provider"`
		NominatimURL string `yaml:"nominatim_url"`
		UserAgent    string `yaml:"user_agent"`
		Timeout      string `yaml:"timeout"`
	} `yaml:"geocode"`

	Shutdown struct {
		Timeout               string `yaml:"timeout"`
		InFlightTimeout       string `yaml:"in_flight_timeout"`
		InFlightCheckInterval string `yaml:"in_flight_check_interval"`
	} `yaml:"shutdown"`

	Health struct {
		DegradedWindow   string `yaml:"degraded_window"`
		DegradedErrorPct int    `yaml:"degraded_error_pct"`
	} `yaml:"health"`

	Metrics struct {
		TrackedLocations []string `yaml:"tracked_locations"`
	} `yaml:"metrics"`
}

type secretsFile struct {
	WeatherAPIKey         string `yaml:"weather_api_key"`
	JWTSecret             string `yaml:"jwt_secret"`
	SMTPPassword          string `yaml:"smtp_password"`
	GoogleGeocodingAPIKey string `yaml:"google_geocoding_api_key"`
	RedisPassword         string `yaml:"redis_password"`
}

// Load reads .env, then config/{ENV_NAME}.yaml (default dev) and config/secrets.yaml.
// Secrets come from env first, then the secrets file. Call from project root.
func Load() (*Config, error) {
	_ = godotenv.Load()

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	sec, err := loadSecrets(filepath.Join(cwd, "config", "secrets.yaml"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{}

	cfg.ServerPort = firstNonEmpty(os.Getenv("PORT"), fc.Server.Port, "8080")
	cfg.CORSAllowedOrigins = fc.Server.CORSAllowedOrigins
	if len(cfg.CORSAllowedOrigins) == 0 {
		cfg.CORSAllowedOrigins = []string{"http://localhost:3000"}
	}

	cfg.WeatherAPIKey = firstNonEmpty(os.Getenv("WEATHER_API_KEY"), sec.WeatherAPIKey)
	if cfg.WeatherAPIKey == "" {
		return nil, fmt.Errorf("WEATHER_API_KEY required (set env or config/secrets.yaml weather_api_key)")
	}
	cfg.WeatherAPIURL = firstNonEmpty(fc.WeatherAPI.URL, "https://api.weatherapi.com/v1")
	cfg.WeatherAPITimeout = parseDurationOrZero(fc.WeatherAPI.Timeout, 5*time.Second)

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 10*time.Second)
	cfg.CacheTTL = parseDuration(fc.Cache.TTL, 5*time.Minute)
	cfg.GeocodeCacheTTL = parseDuration(fc.Cache.GeocodeTTL, 30*time.Minute)
	cfg.WarmCache = fc.Cache.Warm
	cfg.WarmInterval = parseDuration(fc.Cache.WarmInterval, 4*time.Minute)

	cfg.RetryAttempts = fc.Reliability.RetryMaxAttempts
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, 100*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, 2*time.Second)
	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 100
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 250
	}
	cb := fc.Reliability.CircuitBreaker
	cfg.CircuitBreakerEnabled = cb.Enabled == nil || *cb.Enabled
	cfg.CircuitBreakerFailureThreshold = positiveOr(cb.FailureThreshold, 5)
	cfg.CircuitBreakerSuccessThreshold = positiveOr(cb.SuccessThreshold, 2)
	cfg.CircuitBreakerTimeout = parseDuration(cb.Timeout, 30*time.Second)

	rl := fc.RateLimit
	cfg.LocationRateLimit = positiveOr(rl.LocationRequests, 10)
	cfg.LocationRateWindow = parseDuration(rl.LocationWindow, time.Minute)
	cfg.RateLimitBackend = normalize(firstNonEmpty(os.Getenv("RATELIMIT_BACKEND"), rl.Backend, "in_memory"))
	cfg.RedisAddr = firstNonEmpty(os.Getenv("REDIS_ADDR"), rl.RedisAddr, "localhost:6379")
	cfg.RedisPassword = firstNonEmpty(os.Getenv("REDIS_PASSWORD"), sec.RedisPassword)
	cfg.RedisDB = rl.RedisDB
	cfg.MemcachedAddrs = firstNonEmpty(os.Getenv("MEMCACHED_ADDRS"), rl.MemcachedAddrs, "localhost:11211")
	cfg.MemcachedTimeout = parseDuration(rl.MemcachedTimeout, 500*time.Millisecond)

	cfg.StoreBackend = normalize(firstNonEmpty(os.Getenv("STORE_BACKEND"), fc.Store.Backend, "memory"))
	cfg.MongoURI = firstNonEmpty(os.Getenv("MONGODB_URI"), fc.Store.MongoURI, "mongodb://localhost:27017")
	cfg.MongoDatabase = firstNonEmpty(fc.Store.MongoDatabase, "weather_reporter")
	cfg.DatabaseURL = firstNonEmpty(os.Getenv("DATABASE_URL"), fc.Store.DatabaseURL)

	cfg.JWTSecret = firstNonEmpty(os.Getenv("JWT_SECRET"), sec.JWTSecret)
	cfg.TokenTTL = parseDuration(fc.Auth.TokenTTL, 24*time.Hour)
	cfg.FrontendURL = firstNonEmpty(os.Getenv("FRONTEND_URL"), fc.Auth.FrontendURL, "http://localhost:3000")
	cfg.ResendCooldown = parseDuration(fc.Auth.ResendCooldown, 5*time.Minute)
	cfg.BcryptCost = positiveOr(fc.Auth.BcryptCost, 10)

	cfg.MailBackend = normalize(firstNonEmpty(os.Getenv("MAIL_BACKEND"), fc.Mail.Backend, "log"))
	cfg.SMTPHost = firstNonEmpty(os.Getenv("SMTP_HOST"), fc.Mail.Host)
	cfg.SMTPPort = positiveOr(fc.Mail.Port, 587)
	if p, err := strconv.Atoi(os.Getenv("SMTP_PORT")); err == nil && p > 0 {
		cfg.SMTPPort = p
	}
	cfg.SMTPUsername = firstNonEmpty(os.Getenv("SMTP_USERNAME"), fc.Mail.Username)
	cfg.SMTPPassword = firstNonEmpty(os.Getenv("SMTP_PASSWORD"), sec.SMTPPassword)
	cfg.SMTPFrom = firstNonEmpty(os.Getenv("SMTP_FROM"), fc.Mail.From, "noreply@weather-reporter.local")
	cfg.SMTPTLS = normalize(firstNonEmpty(fc.Mail.TLS, "opportunistic"))

	cfg.GeocodeProvider = normalize(firstNonEmpty(os.Getenv("GEOCODE_PROVIDER"), fc.Geocode.Provider, "nominatim"))
	cfg.NominatimURL = firstNonEmpty(fc.Geocode.NominatimURL, "https://nominatim.openstreetmap.org")
	cfg.GeocodeUserAgent = firstNonEmpty(fc.Geocode.UserAgent, "weather-reporter/1.0")
	cfg.GeocodeTimeout = parseDuration(fc.Geocode.Timeout, 5*time.Second)
	cfg.GoogleGeocodingAPIKey = firstNonEmpty(os.Getenv("GOOGLE_GEOCODING_API_KEY"), sec.GoogleGeocodingAPIKey)

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.ShutdownInFlightTimeout = parseDuration(fc.Shutdown.InFlightTimeout, 10*time.Second)
	cfg.ShutdownInFlightCheckInterval = parseDuration(fc.Shutdown.InFlightCheckInterval, 100*time.Millisecond)

	cfg.DegradedWindow = parseDuration(fc.Health.DegradedWindow, 60*time.Second)
	cfg.DegradedErrorPct = positiveOr(fc.Health.DegradedErrorPct, 50)

	cfg.TrackedLocations = fc.Metrics.TrackedLocations

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadSecrets(path string) (secretsFile, error) {
	var sec secretsFile
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return sec, nil
		}
		return sec, fmt.Errorf("read secrets file: %w", err)
	}
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return sec, fmt.Errorf("parse secrets file: %w", err)
	}
	return sec, nil
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Returns zero or negative durations as-is (caller should handle fallback).
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func positiveOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// validate performs post-load validation. RequestTimeout is raised above WeatherAPITimeout
// when needed; unknown backends and missing secrets for selected backends are errors.
func validate(cfg *Config) error {
	if cfg.WeatherAPITimeout <= 0 {
		return fmt.Errorf("WEATHER_API_TIMEOUT must be positive")
	}
	if cfg.RequestTimeout <= cfg.WeatherAPITimeout {
		cfg.RequestTimeout = cfg.WeatherAPITimeout + time.Second
	}
	if cfg.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET required (set env or config/secrets.yaml jwt_secret)")
	}
	switch cfg.StoreBackend {
	case "memory", "mongo":
	case "postgres":
		if cfg.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL required when store.backend is postgres")
		}
	default:
		return fmt.Errorf("store.backend must be memory, mongo or postgres, got %q", cfg.StoreBackend)
	}
	switch cfg.RateLimitBackend {
	case "in_memory", "redis", "memcached":
	default:
		return fmt.Errorf("rate_limit.backend must be in_memory, redis or memcached, got %q", cfg.RateLimitBackend)
	}
	switch cfg.MailBackend {
	case "log":
	case "smtp":
		if cfg.SMTPHost == "" {
			return fmt.Errorf("mail.host required when mail.backend is smtp")
		}
	default:
		return fmt.Errorf("mail.backend must be log or smtp, got %q", cfg.MailBackend)
	}
	switch cfg.GeocodeProvider {
	case "nominatim":
	case "google":
		if cfg.GoogleGeocodingAPIKey == "" {
			return fmt.Errorf("GOOGLE_GEOCODING_API_KEY required when geocode.provider is google")
		}
	default:
		return fmt.Errorf("geocode.provider must be nominatim or google, got %q", cfg.GeocodeProvider)
	}
	return nil
}
