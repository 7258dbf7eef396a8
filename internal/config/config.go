// Package config loads the service configuration from environment variables.
//
// Every setting has a default. Values that are present but unparsable are
// reported as errors rather than silently replaced, and Validate checks the
// assembled configuration as a whole so that a misconfigured deployment fails
// with every problem listed at once.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig tunes the HTTP listener.
type ServerConfig struct {
	Port              string        // PORT
	ReadTimeout       time.Duration // READ_TIMEOUT
	ReadHeaderTimeout time.Duration // READ_HEADER_TIMEOUT
	WriteTimeout      time.Duration // WRITE_TIMEOUT; change streams clear it per request
	IdleTimeout       time.Duration // IDLE_TIMEOUT
	MaxHeaderBytes    int           // MAX_HEADER_BYTES
	GinMode           string        // GIN_MODE: debug|release|test
}

// Addr is the listen address for Port.
func (s ServerConfig) Addr() string { return ":" + s.Port }

// LogConfig selects zerolog output.
type LogConfig struct {
	Level  string // LOG_LEVEL: debug|info|warn|error|fatal|panic
	Pretty bool   // LOG_PRETTY; console writer instead of JSON lines
}

// StoreConfig selects the document store and the change feed.
type StoreConfig struct {
	Driver      string // DB_DRIVER: sqlite|postgres
	SQLitePath  string // DB_PATH
	PostgresDSN string // DATABASE_URL
	RedisURL    string // REDIS_URL; empty keeps the in-process feed
}

// UploadConfig controls where receipt photos are written and served from.
type UploadConfig struct {
	Dir      string // UPLOAD_DIR
	BaseURL  string // UPLOAD_BASE_URL; public prefix for stored files
	MaxBytes int64  // MAX_UPLOAD_BYTES
}

// AuthConfig controls how request identities are resolved.
type AuthConfig struct {
	JWTSecret  string // JWT_SECRET; HS256 signing key for bearer tokens
	DevHeaders bool   // AUTH_DEV_HEADERS; accept X-User-* headers when no token is sent
}

// RateConfig sizes the per-caller token bucket.
type RateConfig struct {
	RPS   float64 // RATE_RPS
	Burst int     // RATE_BURST
}

// CORSConfig lists browser origins allowed to call the API. Empty allows all.
type CORSConfig struct {
	AllowedOrigins []string // CORS_ALLOWED_ORIGINS, comma separated
}

// SecurityConfig toggles HSTS.
type SecurityConfig struct {
	EnableHSTS bool          // ENABLE_HSTS
	HSTSMaxAge time.Duration // HSTS_MAX_AGE
}

// OTELConfig defines OpenTelemetry tracing settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// Config is the complete service configuration.
type Config struct {
	Server   ServerConfig
	Log      LogConfig
	Store    StoreConfig
	Upload   UploadConfig
	Auth     AuthConfig
	Rate     RateConfig
	CORS     CORSConfig
	Security SecurityConfig
	OTEL     OTELConfig

	APIBasePath    string        // API_BASE_PATH
	SwaggerEnabled bool          // SWAGGER_ENABLED
	IdempotencyTTL time.Duration // IDEMPOTENCY_TTL
}

// Load reads the environment, normalizes values and validates the result.
func Load() (Config, error) {
	var e env
	cfg := Config{
		Server: ServerConfig{
			Port:              e.str("PORT", "8080"),
			ReadTimeout:       e.duration("READ_TIMEOUT", 15*time.Second),
			ReadHeaderTimeout: e.duration("READ_HEADER_TIMEOUT", 10*time.Second),
			WriteTimeout:      e.duration("WRITE_TIMEOUT", 20*time.Second),
			IdleTimeout:       e.duration("IDLE_TIMEOUT", 60*time.Second),
			MaxHeaderBytes:    e.integer("MAX_HEADER_BYTES", 1<<20),
			GinMode:           strings.ToLower(e.str("GIN_MODE", "release")),
		},
		Log: LogConfig{
			Level:  strings.ToLower(e.str("LOG_LEVEL", "info")),
			Pretty: e.flag("LOG_PRETTY", false),
		},
		Store: StoreConfig{
			Driver:      strings.ToLower(e.str("DB_DRIVER", "sqlite")),
			SQLitePath:  e.str("DB_PATH", "app.db"),
			PostgresDSN: e.str("DATABASE_URL", ""),
			RedisURL:    e.str("REDIS_URL", ""),
		},
		Upload: UploadConfig{
			Dir:      e.str("UPLOAD_DIR", "uploads"),
			BaseURL:  strings.TrimRight(e.str("UPLOAD_BASE_URL", "/uploads"), "/"),
			MaxBytes: int64(e.integer("MAX_UPLOAD_BYTES", 10<<20)),
		},
		Auth: AuthConfig{
			JWTSecret:  e.str("JWT_SECRET", ""),
			DevHeaders: e.flag("AUTH_DEV_HEADERS", false),
		},
		Rate: RateConfig{
			RPS:   e.number("RATE_RPS", 5),
			Burst: e.integer("RATE_BURST", 10),
		},
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(e.str("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: e.flag("ENABLE_HSTS", false),
			HSTSMaxAge: e.duration("HSTS_MAX_AGE", 180*24*time.Hour),
		},
		OTEL: OTELConfig{
			Enabled:     e.flag("OTEL_ENABLED", false),
			Endpoint:    e.str("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    e.flag("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: e.str("OTEL_SERVICE_NAME", "go-recovery-backend"),
			SampleRatio: e.number("OTEL_TRACES_SAMPLER_ARG", 1),
		},
		APIBasePath:    normalizeBasePath(e.str("API_BASE_PATH", "/api/v1")),
		SwaggerEnabled: e.flag("SWAGGER_ENABLED", false),
		IdempotencyTTL: e.duration("IDEMPOTENCY_TTL", 24*time.Hour),
	}
	if len(e.errs) > 0 {
		return cfg, errors.Join(e.errs...)
	}

	cfg.normalize()
	return cfg, cfg.Validate()
}

func (c *Config) normalize() {
	if c.Log.Level == "warning" {
		c.Log.Level = "warn"
	}
	switch c.Server.GinMode {
	case "debug", "release", "test":
	default:
		c.Server.GinMode = "release"
	}
}

// Validate reports every invalid setting, joined into one error.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, errors.New(msg))
		}
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		errs = append(errs, fmt.Errorf("LOG_LEVEL %q must be one of: debug, info, warn, error, fatal, panic", c.Log.Level))
	}

	s := c.Server
	check(strings.TrimSpace(s.Port) != "", "PORT must not be empty")
	check(s.ReadTimeout > 0 && s.ReadHeaderTimeout > 0 && s.WriteTimeout > 0 && s.IdleTimeout > 0,
		"timeouts must be positive durations")
	check(s.MaxHeaderBytes > 0, "MAX_HEADER_BYTES must be > 0")

	switch c.Store.Driver {
	case "sqlite":
		check(strings.TrimSpace(c.Store.SQLitePath) != "", "DB_PATH must not be empty")
	case "postgres":
		check(strings.TrimSpace(c.Store.PostgresDSN) != "", "DATABASE_URL is required when DB_DRIVER=postgres")
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER %q must be one of: sqlite, postgres", c.Store.Driver))
	}

	check(strings.TrimSpace(c.Upload.Dir) != "", "UPLOAD_DIR must not be empty")
	check(c.Upload.MaxBytes > 0, "MAX_UPLOAD_BYTES must be > 0")
	check(c.Auth.JWTSecret != "" || c.Auth.DevHeaders, "JWT_SECRET must be set unless AUTH_DEV_HEADERS is enabled")
	check(c.Rate.RPS >= 0, "RATE_RPS must be >= 0")
	check(c.Rate.Burst >= 1, "RATE_BURST must be >= 1")
	check(c.Security.HSTSMaxAge >= 0, "HSTS_MAX_AGE must be >= 0")
	check(c.IdempotencyTTL > 0, "IDEMPOTENCY_TTL must be > 0")
	check(c.OTEL.SampleRatio >= 0 && c.OTEL.SampleRatio <= 1, "OTEL_TRACES_SAMPLER_ARG must be in [0,1]")

	return errors.Join(errs...)
}

// env reads typed variables and remembers the ones that fail to parse.
type env struct {
	errs []error
}

func (e *env) lookup(k string) (string, bool) {
	v, ok := os.LookupEnv(k)
	return v, ok && v != ""
}

func (e *env) fail(k, v, kind string) {
	e.errs = append(e.errs, fmt.Errorf("%s=%q is not a valid %s", k, v, kind))
}

func (e *env) str(k, def string) string {
	if v, ok := e.lookup(k); ok {
		return v
	}
	return def
}

func (e *env) integer(k string, def int) int {
	v, ok := e.lookup(k)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		e.fail(k, v, "integer")
		return def
	}
	return n
}

func (e *env) number(k string, def float64) float64 {
	v, ok := e.lookup(k)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		e.fail(k, v, "number")
		return def
	}
	return f
}

func (e *env) flag(k string, def bool) bool {
	v, ok := e.lookup(k)
	if !ok {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	}
	e.fail(k, v, "boolean")
	return def
}

func (e *env) duration(k string, def time.Duration) time.Duration {
	v, ok := e.lookup(k)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		e.fail(k, v, "duration")
		return def
	}
	return d
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures a leading '/' and strips trailing ones, keeping
// "/" for the root.
func normalizeBasePath(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	return "/" + p
}
