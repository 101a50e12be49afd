package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalEnvYAML = `
server:
  port: "8080"
weather_api:
  url: "https://api.example.com/v1"
  timeout: "2s"
request:
  timeout: "5s"
cache:
  ttl: "5m"
reliability:
  retry_max_attempts: 3
  retry_base_delay: "100ms"
  retry_max_delay: "2s"
  rate_limit_rps: 5
  rate_limit_burst: 10
shutdown:
  timeout: "10s"
`

// isolate clears every env override Load reads and moves into a temp project root.
func isolate(t *testing.T) string {
	t.Helper()
	for _, k := range []string{
		"ENV_NAME", "PORT", "WEATHER_API_KEY", "JWT_SECRET", "STORE_BACKEND", "MONGODB_URI",
		"DATABASE_URL", "RATELIMIT_BACKEND", "REDIS_ADDR", "REDIS_PASSWORD", "MEMCACHED_ADDRS",
		"MAIL_BACKEND", "SMTP_HOST", "SMTP_PORT", "SMTP_USERNAME", "SMTP_PASSWORD", "SMTP_FROM",
		"FRONTEND_URL", "GEOCODE_PROVIDER", "GOOGLE_GEOCODING_API_KEY",
	} {
		t.Setenv(k, "")
	}
	dir := t.TempDir()
	chdir(t, dir)
	return dir
}

func withSecrets(t *testing.T) string {
	t.Helper()
	dir := isolate(t)
	t.Setenv("WEATHER_API_KEY", "test-weather-key")
	t.Setenv("JWT_SECRET", "test-jwt-secret")
	return dir
}

func TestLoad_FailsWhenNoAPIKey(t *testing.T) {
	dir := isolate(t)
	t.Setenv("JWT_SECRET", "s")
	writeEnvFile(t, dir, minimalEnvYAML)

	cfg, err := Load()
	if err == nil {
		t.Fatal("Load() expected error when no WEATHER_API_KEY and no secrets file, got nil")
	}
	if cfg != nil {
		t.Fatalf("Load() expected nil config on error, got %+v", cfg)
	}
	if !strings.Contains(err.Error(), "WEATHER_API_KEY") {
		t.Errorf("Load() error = %v, want message containing WEATHER_API_KEY", err)
	}
}

func TestLoad_FailsWhenNoJWTSecret(t *testing.T) {
	dir := isolate(t)
	t.Setenv("WEATHER_API_KEY", "k")
	writeEnvFile(t, dir, minimalEnvYAML)

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "JWT_SECRET") {
		t.Errorf("Load() error = %v, want message containing JWT_SECRET", err)
	}
}

func TestLoad_SucceedsWithSecretsFile(t *testing.T) {
	dir := isolate(t)
	writeEnvFile(t, dir, minimalEnvYAML)
	writeSecretsFile(t, dir, "weather_api_key: key-from-secrets-file\njwt_secret: jwt-from-secrets-file\nsmtp_password: pw\n")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.WeatherAPIKey != "key-from-secrets-file" {
		t.Errorf("WeatherAPIKey = %q, want key from secrets file", cfg.WeatherAPIKey)
	}
	if cfg.JWTSecret != "jwt-from-secrets-file" {
		t.Errorf("JWTSecret = %q", cfg.JWTSecret)
	}
	if cfg.SMTPPassword != "pw" {
		t.Errorf("SMTPPassword = %q", cfg.SMTPPassword)
	}
}

func TestLoad_EnvOverridesSecretsFile(t *testing.T) {
	dir := withSecrets(t)
	writeEnvFile(t, dir, minimalEnvYAML)
	writeSecretsFile(t, dir, "weather_api_key: from-file\n")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.WeatherAPIKey != "test-weather-key" {
		t.Errorf("WeatherAPIKey = %q, want env value", cfg.WeatherAPIKey)
	}
}

func TestLoad_DotEnvFile(t *testing.T) {
	dir := isolate(t)
	writeEnvFile(t, dir, minimalEnvYAML)
	// godotenv never overrides variables that are already set, even to "".
	for _, k := range []string{"WEATHER_API_KEY", "JWT_SECRET"} {
		os.Unsetenv(k)
	}
	t.Cleanup(func() {
		os.Unsetenv("WEATHER_API_KEY")
		os.Unsetenv("JWT_SECRET")
	})
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("WEATHER_API_KEY=dotenv-key\nJWT_SECRET=dotenv-secret\n"), 0644); err != nil {
		t.Fatalf("write .env: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.WeatherAPIKey != "dotenv-key" || cfg.JWTSecret != "dotenv-secret" {
		t.Errorf("keys = %q, %q; want values from .env", cfg.WeatherAPIKey, cfg.JWTSecret)
	}
}

func TestLoad_EnvFileNotFound(t *testing.T) {
	withSecrets(t)
	t.Setenv("ENV_NAME", "nonexistent")

	_, err := Load()
	if err == nil {
		t.Fatal("Load() expected error for missing env file")
	}
	if !strings.Contains(err.Error(), "config file not found") {
		t.Errorf("Load() error = %v, want config file not found", err)
	}
}

func TestLoad_Defaults(t *testing.T) {
	dir := withSecrets(t)
	writeEnvFile(t, dir, minimalEnvYAML)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"CacheTTL", cfg.CacheTTL, 5 * time.Minute},
		{"GeocodeCacheTTL", cfg.GeocodeCacheTTL, 30 * time.Minute},
		{"LocationRateLimit", cfg.LocationRateLimit, 10},
		{"LocationRateWindow", cfg.LocationRateWindow, time.Minute},
		{"RateLimitBackend", cfg.RateLimitBackend, "in_memory"},
		{"StoreBackend", cfg.StoreBackend, "memory"},
		{"MailBackend", cfg.MailBackend, "log"},
		{"GeocodeProvider", cfg.GeocodeProvider, "nominatim"},
		{"TokenTTL", cfg.TokenTTL, 24 * time.Hour},
		{"ResendCooldown", cfg.ResendCooldown, 5 * time.Minute},
		{"BcryptCost", cfg.BcryptCost, 10},
		{"FrontendURL", cfg.FrontendURL, "http://localhost:3000"},
		{"CircuitBreakerEnabled", cfg.CircuitBreakerEnabled, true},
		{"CircuitBreakerFailureThreshold", cfg.CircuitBreakerFailureThreshold, 5},
		{"WeatherAPIURL", cfg.WeatherAPIURL, "https://api.example.com/v1"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestLoad_EmptyDurationFallsBackToDefault(t *testing.T) {
	dir := withSecrets(t)
	writeEnvFile(t, dir, `
weather_api:
  timeout: "2s"
cache:
  ttl: ""
auth:
  token_ttl: ""
`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.CacheTTL != 5*time.Minute {
		t.Errorf("CacheTTL = %v, want 5m default", cfg.CacheTTL)
	}
	if cfg.TokenTTL != 24*time.Hour {
		t.Errorf("TokenTTL = %v, want 24h default", cfg.TokenTTL)
	}
}

func TestLoad_InvalidDurationFallsBackToDefault(t *testing.T) {
	dir := withSecrets(t)
	writeEnvFile(t, dir, `
weather_api:
  timeout: "2s"
cache:
  ttl: "not-a-duration"
rate_limit:
  location_window: "-1m"
`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.CacheTTL != 5*time.Minute {
		t.Errorf("CacheTTL = %v, want 5m default", cfg.CacheTTL)
	}
	if cfg.LocationRateWindow != time.Minute {
		t.Errorf("LocationRateWindow = %v, want 1m default", cfg.LocationRateWindow)
	}
}

func TestLoad_ValidationFailsWhenWeatherAPITimeoutZero(t *testing.T) {
	dir := withSecrets(t)
	writeEnvFile(t, dir, `
weather_api:
  timeout: "0s"
`)

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "WEATHER_API_TIMEOUT") {
		t.Errorf("Load() error = %v, want WEATHER_API_TIMEOUT validation error", err)
	}
}

func TestLoad_RequestTimeoutRaisedAboveUpstreamTimeout(t *testing.T) {
	dir := withSecrets(t)
	writeEnvFile(t, dir, `
weather_api:
  timeout: "8s"
request:
  timeout: "5s"
`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RequestTimeout != 9*time.Second {
		t.Errorf("RequestTimeout = %v, want 9s", cfg.RequestTimeout)
	}
}

func TestLoad_BackendValidation(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		yaml    string
		wantErr string
	}{
		{"unknown store", map[string]string{"STORE_BACKEND": "sqlite"}, "", "store.backend"},
		{"postgres without dsn", map[string]string{"STORE_BACKEND": "postgres"}, "", "DATABASE_URL"},
		{"postgres with dsn", map[string]string{"STORE_BACKEND": "postgres", "DATABASE_URL": "postgres://x"}, "", ""},
		{"mongo", map[string]string{"STORE_BACKEND": "MONGO"}, "", ""},
		{"unknown limiter", map[string]string{"RATELIMIT_BACKEND": "etcd"}, "", "rate_limit.backend"},
		{"redis limiter", map[string]string{"RATELIMIT_BACKEND": "redis"}, "", ""},
		{"smtp without host", nil, "mail:\n  backend: smtp\n", "mail.host"},
		{"smtp with host", map[string]string{"SMTP_HOST": "smtp.example.com"}, "mail:\n  backend: smtp\n", ""},
		{"google without key", nil, "geocode:\n  provider: google\n", "GOOGLE_GEOCODING_API_KEY"},
		{"unknown geocoder", nil, "geocode:\n  provider: bing\n", "geocode.provider"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := withSecrets(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			writeEnvFile(t, dir, minimalEnvYAML+tt.yaml)

			_, err := Load()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Load() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_InvalidSecretsYAML(t *testing.T) {
	dir := isolate(t)
	writeEnvFile(t, dir, minimalEnvYAML)
	writeSecretsFile(t, dir, "weather_api_key: [unclosed\n")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "parse secrets file") {
		t.Errorf("Load() error = %v, want parse secrets file error", err)
	}
}

func TestLoad_InvalidConfigYAML(t *testing.T) {
	dir := withSecrets(t)
	writeEnvFile(t, dir, "server: [unclosed\n")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "parse config file") {
		t.Errorf("Load() error = %v, want parse config file error", err)
	}
}

func TestLoad_RepoDevConfig(t *testing.T) {
	root := findProjectRoot(t)
	withSecrets(t)
	chdir(t, root)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() with config/dev.yaml error = %v", err)
	}
	if len(cfg.TrackedLocations) == 0 {
		t.Error("dev.yaml should list tracked locations")
	}
}

func writeEnvFile(t *testing.T, dir, content string) {
	t.Helper()
	configDir := filepath.Join(dir, "config")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("mkdir config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, "dev.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
}

func writeSecretsFile(t *testing.T, dir, content string) {
	t.Helper()
	secretsDir := filepath.Join(dir, "config")
	if err := os.MkdirAll(secretsDir, 0755); err != nil {
		t.Fatalf("mkdir config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(secretsDir, "secrets.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("write secrets file: %v", err)
	}
}

func findProjectRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "config", "dev.yaml")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("config/dev.yaml not found (run tests from project root)")
		}
		dir = parent
	}
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent of testing.T.Chdir, which needs Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir(%q): %v", dir, err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatalf("restore working directory: %v", err)
		}
	})
}
