package config

import (
	"reflect"
	"strings"
	"testing"
	"time"
)

// setRequired supplies the fields without defaults so Load can succeed.
func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("RECEIPT_SECRET", "s3cret")
	t.Setenv("FORUM_DOMAIN", "forum.example.com")
	t.Setenv("PROVIDER_ENDPOINT", "https://provider.example.com")
	t.Setenv("PROVIDER_API_KEY", "key")
	t.Setenv("PROVIDER_API_SECRET", "secret")
}

// --- MustLoad ---

func TestMustLoad_PanicsOnInvalidConfig(t *testing.T) {
	setRequired(t)
	t.Setenv("LOG_LEVEL", "verbose") // invalid -> Load() error
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("MustLoad should panic on invalid config")
		}
	}()
	_ = MustLoad()
}

// --- Load success + normalization + parsing ---

func TestLoad_Success_DefaultsAndOverrides(t *testing.T) {
	setRequired(t)

	// Server timeouts / sizes (valid)
	t.Setenv("PORT", "8088")
	t.Setenv("READ_TIMEOUT", "2s")
	t.Setenv("READ_HEADER_TIMEOUT", "1s")
	t.Setenv("WRITE_TIMEOUT", "3s")
	t.Setenv("IDLE_TIMEOUT", "4s")
	t.Setenv("MAX_HEADER_BYTES", "8192")
	t.Setenv("GIN_MODE", "weird") // will normalize to "release"

	// Logging
	t.Setenv("LOG_LEVEL", "warning") // will normalize to "warn"
	t.Setenv("LOG_PRETTY", "yes")
	t.Setenv("API_BASE_PATH", "api/v1/") // no leading slash + trailing slash -> "/api/v1"

	// Storage
	t.Setenv("DB_PATH", "db.sqlite")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("REDIS_DB", "2")

	// Verification
	t.Setenv("PROVIDER_TIMEOUT", "5s")
	t.Setenv("VERIFICATION_ENABLED", "1")
	t.Setenv("STAFF_BYPASS", "off")
	t.Setenv("BYPASS_TRUST_LEVEL", "3")
	t.Setenv("PROTECT_MESSAGES", "true")
	t.Setenv("REVERIFY_POST_MINUTES", "60")

	// Rate limiting (invalid values fall back to defaults)
	t.Setenv("RATE_USER_PER_MINUTE", "x") // -> default 5
	t.Setenv("RATE_IP_PER_HOUR", "240")

	// Retention
	t.Setenv("RETENTION_DAYS", "14")
	t.Setenv("RETENTION_INTERVAL", "12h")

	// Web protection
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.com , , http://b ")
	t.Setenv("ENABLE_HSTS", "TRUE")
	t.Setenv("HSTS_MAX_AGE", "24h")

	// OTEL
	t.Setenv("OTEL_ENABLED", "1")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "otel:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "0")
	t.Setenv("OTEL_SERVICE_NAME", "svc")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.75")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	// Server
	if cfg.Port != "8088" ||
		cfg.ReadTimeout != 2*time.Second ||
		cfg.ReadHeaderTimeout != 1*time.Second ||
		cfg.WriteTimeout != 3*time.Second ||
		cfg.IdleTimeout != 4*time.Second ||
		cfg.MaxHeaderBytes != 8192 ||
		cfg.GinMode != "release" {
		t.Fatalf("server fields unexpected: %+v", cfg)
	}

	// Logging
	if cfg.LogLevel != "warn" || !cfg.LogPretty || cfg.APIBasePath != "/api/v1" {
		t.Fatalf("logging fields unexpected: %+v", cfg)
	}

	// Storage
	if cfg.DBPath != "db.sqlite" || cfg.RedisAddr != "redis:6379" || cfg.RedisDB != 2 {
		t.Fatalf("storage fields unexpected: %+v", cfg)
	}

	// Verification
	if cfg.ReceiptSecret != "s3cret" || cfg.ForumDomain != "forum.example.com" {
		t.Fatalf("verification fields unexpected: %+v", cfg)
	}
	if cfg.Provider.Endpoint != "https://provider.example.com" || cfg.Provider.Timeout != 5*time.Second {
		t.Fatalf("provider fields unexpected: %+v", cfg.Provider)
	}
	wantPolicy := PolicyConfig{
		Enabled:             true,
		StaffBypass:         false,
		BypassTrustLevel:    3,
		ProtectPosts:        true,
		ProtectTopics:       true,
		ProtectMessages:     true,
		ReverifyPostMinutes: 60,
	}
	if !reflect.DeepEqual(cfg.Policy, wantPolicy) {
		t.Fatalf("policy = %+v, want %+v", cfg.Policy, wantPolicy)
	}
	wantRate := RateConfig{UserPerMinute: 5, UserPerHour: 30, IPPerMinute: 20, IPPerHour: 240}
	if cfg.Rate != wantRate {
		t.Fatalf("rate = %+v, want %+v", cfg.Rate, wantRate)
	}

	// Retention
	if cfg.RetentionDays != 14 || cfg.RetentionInterval != 12*time.Hour {
		t.Fatalf("retention fields unexpected: %+v", cfg)
	}

	// Web protection
	if !reflect.DeepEqual(cfg.CORS.AllowedOrigins, []string{"https://a.com", "http://b"}) {
		t.Fatalf("cors origins unexpected: %v", cfg.CORS.AllowedOrigins)
	}
	if !cfg.Security.EnableHSTS || cfg.Security.HSTSMaxAge != 24*time.Hour {
		t.Fatalf("security fields unexpected: %+v", cfg.Security)
	}

	// OTEL
	if !cfg.OTEL.Enabled || cfg.OTEL.Endpoint != "otel:4317" || cfg.OTEL.Insecure ||
		cfg.OTEL.ServiceName != "svc" || cfg.OTEL.SampleRatio != 0.75 {
		t.Fatalf("otel fields unexpected: %+v", cfg.OTEL)
	}
}

// --- Validation failures ---

func TestLoad_ValidationErrors(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
		want  string
	}{
		{"missing receipt secret", "RECEIPT_SECRET", " ", "RECEIPT_SECRET"},
		{"missing forum domain", "FORUM_DOMAIN", " ", "FORUM_DOMAIN"},
		{"missing provider endpoint", "PROVIDER_ENDPOINT", " ", "PROVIDER_ENDPOINT"},
		{"missing provider key", "PROVIDER_API_KEY", " ", "PROVIDER_API_KEY"},
		{"bad log level", "LOG_LEVEL", "verbose", "LOG_LEVEL"},
		{"bad rate threshold", "RATE_USER_PER_MINUTE", "0", "rate thresholds"},
		{"bad retention days", "RETENTION_DAYS", "0", "RETENTION_DAYS"},
		{"negative reverify", "REVERIFY_POST_MINUTES", "-5", "reverify"},
		{"bad trust level", "BYPASS_TRUST_LEVEL", "-1", "BYPASS_TRUST_LEVEL"},
		{"bad sampler", "OTEL_TRACES_SAMPLER_ARG", "1.5", "OTEL_TRACES_SAMPLER_ARG"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setRequired(t)
			t.Setenv(tc.key, tc.value)
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want mention of %q", err, tc.want)
			}
		})
	}
}

func TestNormalizeBasePath(t *testing.T) {
	cases := map[string]string{
		"":        "/",
		"/":       "/",
		"api":     "/api",
		"/api/":   "/api",
		"/api/v1": "/api/v1",
	}
	for in, want := range cases {
		if got := normalizeBasePath(in); got != want {
			t.Fatalf("normalizeBasePath(%q) = %q, want %q", in, got, want)
		}
	}
}
