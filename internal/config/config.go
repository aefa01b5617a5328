// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server settings,
// verification policy, rate-limit thresholds, provider credentials, storage
// paths, retention, and observability options.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// ProviderConfig holds the external challenge provider connection settings.
type ProviderConfig struct {
	Endpoint  string        // PROVIDER_ENDPOINT (https URL)
	APIKey    string        // PROVIDER_API_KEY
	APISecret string        // PROVIDER_API_SECRET
	Timeout   time.Duration // PROVIDER_TIMEOUT
}

// PolicyConfig holds the verification requirement settings. All of these are
// hot-reloadable in principle; services read them through a closure so a
// future settings source can swap values without a restart.
type PolicyConfig struct {
	Enabled          bool // VERIFICATION_ENABLED
	StaffBypass      bool // STAFF_BYPASS
	BypassTrustLevel int  // BYPASS_TRUST_LEVEL

	ProtectPosts    bool // PROTECT_POSTS
	ProtectTopics   bool // PROTECT_TOPICS
	ProtectMessages bool // PROTECT_MESSAGES

	ReverifyPostMinutes    int // REVERIFY_POST_MINUTES (0 = always)
	ReverifyTopicMinutes   int // REVERIFY_TOPIC_MINUTES
	ReverifyMessageMinutes int // REVERIFY_MESSAGE_MINUTES
}

// RateConfig holds the four fixed-window creation thresholds.
type RateConfig struct {
	UserPerMinute int // RATE_USER_PER_MINUTE
	UserPerHour   int // RATE_USER_PER_HOUR
	IPPerMinute   int // RATE_IP_PER_MINUTE
	IPPerHour     int // RATE_IP_PER_HOUR
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging
	LogLevel    string // debug|info|warn|error|fatal|panic
	LogPretty   bool   // pretty console logs in dev
	APIBasePath string // base path for API routes

	// Storage
	DBPath    string // SQLite path
	RedisAddr string // host:port; empty disables Redis-backed features
	RedisDB   int    // Redis logical database

	// Verification
	ForumDomain   string // domain sent to the provider on challenge creation
	ReceiptSecret string // shared HMAC secret for receipts
	Provider      ProviderConfig
	Policy        PolicyConfig
	Rate          RateConfig

	// Retention
	RetentionDays     int           // RETENTION_DAYS
	RetentionInterval time.Duration // RETENTION_INTERVAL

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
// A .env file in the working directory is applied first when present.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:    strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:   getbool("LOG_PRETTY", false),
		APIBasePath: normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// Storage
		DBPath:    getenv("DB_PATH", "verify.db"),
		RedisAddr: getenv("REDIS_ADDR", ""),
		RedisDB:   getint("REDIS_DB", 0),

		// Verification
		ForumDomain:   getenv("FORUM_DOMAIN", ""),
		ReceiptSecret: getenv("RECEIPT_SECRET", ""),
		Provider: ProviderConfig{
			Endpoint:  getenv("PROVIDER_ENDPOINT", ""),
			APIKey:    getenv("PROVIDER_API_KEY", ""),
			APISecret: getenv("PROVIDER_API_SECRET", ""),
			Timeout:   getdur("PROVIDER_TIMEOUT", 15*time.Second),
		},
		Policy: PolicyConfig{
			Enabled:                getbool("VERIFICATION_ENABLED", true),
			StaffBypass:            getbool("STAFF_BYPASS", true),
			BypassTrustLevel:       getint("BYPASS_TRUST_LEVEL", 4),
			ProtectPosts:           getbool("PROTECT_POSTS", true),
			ProtectTopics:          getbool("PROTECT_TOPICS", true),
			ProtectMessages:        getbool("PROTECT_MESSAGES", false),
			ReverifyPostMinutes:    getint("REVERIFY_POST_MINUTES", 0),
			ReverifyTopicMinutes:   getint("REVERIFY_TOPIC_MINUTES", 0),
			ReverifyMessageMinutes: getint("REVERIFY_MESSAGE_MINUTES", 0),
		},
		Rate: RateConfig{
			UserPerMinute: getint("RATE_USER_PER_MINUTE", 5),
			UserPerHour:   getint("RATE_USER_PER_HOUR", 30),
			IPPerMinute:   getint("RATE_IP_PER_MINUTE", 20),
			IPPerHour:     getint("RATE_IP_PER_HOUR", 120),
		},

		// Retention
		RetentionDays:     getint("RETENTION_DAYS", 30),
		RetentionInterval: getdur("RETENTION_INTERVAL", 24*time.Hour),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-verify-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if strings.TrimSpace(cfg.ReceiptSecret) == "" {
		return cfg, errors.New("RECEIPT_SECRET must not be empty")
	}
	if strings.TrimSpace(cfg.ForumDomain) == "" {
		return cfg, errors.New("FORUM_DOMAIN must not be empty")
	}
	if strings.TrimSpace(cfg.Provider.Endpoint) == "" {
		return cfg, errors.New("PROVIDER_ENDPOINT must not be empty")
	}
	if strings.TrimSpace(cfg.Provider.APIKey) == "" || strings.TrimSpace(cfg.Provider.APISecret) == "" {
		return cfg, errors.New("PROVIDER_API_KEY and PROVIDER_API_SECRET must not be empty")
	}
	if cfg.Provider.Timeout <= 0 {
		return cfg, errors.New("PROVIDER_TIMEOUT must be > 0")
	}
	if cfg.Policy.BypassTrustLevel < 0 {
		return cfg, errors.New("BYPASS_TRUST_LEVEL must be >= 0")
	}
	if cfg.Policy.ReverifyPostMinutes < 0 || cfg.Policy.ReverifyTopicMinutes < 0 || cfg.Policy.ReverifyMessageMinutes < 0 {
		return cfg, errors.New("reverify windows must be >= 0 minutes")
	}
	if cfg.Rate.UserPerMinute < 1 || cfg.Rate.UserPerHour < 1 || cfg.Rate.IPPerMinute < 1 || cfg.Rate.IPPerHour < 1 {
		return cfg, errors.New("rate thresholds must be >= 1")
	}
	if cfg.RetentionDays < 1 {
		return cfg, errors.New("RETENTION_DAYS must be >= 1")
	}
	if cfg.RetentionInterval <= 0 {
		return cfg, errors.New("RETENTION_INTERVAL must be > 0")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
