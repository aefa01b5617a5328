// Package httpapi wires the HTTP transport (Gin) to the verification
// services, middleware, and route handlers. It centralizes cross-cutting
// concerns such as tracing, correlation IDs, logging/redaction, panic
// recovery, metrics, CORS, security headers, and actor resolution.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Production-ready CORS and security header posture
//
// Domain rate limiting deliberately lives in the verification service, not
// in middleware: only flow creation consumes budget, and the limits depend
// on the resolved actor.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/verigate/go-verify-backend/internal/config"
	"github.com/verigate/go-verify-backend/internal/domain"
	"github.com/verigate/go-verify-backend/internal/events"
	"github.com/verigate/go-verify-backend/internal/http/handlers"
	"github.com/verigate/go-verify-backend/internal/http/middleware"
	"github.com/verigate/go-verify-backend/internal/lock"
	"github.com/verigate/go-verify-backend/internal/provider"
	"github.com/verigate/go-verify-backend/internal/ratelimit"
	"github.com/verigate/go-verify-backend/internal/services"
)

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine, constructing the service graph from the injected store, optional
// Redis client, and configuration. rdb may be nil: rate limiting then falls
// back to the process-local limiter, and the advisory completion lock and
// daily counters are disabled.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with secret scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. CORS and Security headers
//  8. Actor resolution from trusted forum headers
func RegisterRoutes(r *gin.Engine, db *gorm.DB, rdb redis.UniversalClient, cfg config.Config) error {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction. The provider credential headers
	// never arrive on inbound requests, but masking them costs nothing.
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{"X-API-Key", "X-API-Secret"},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (64 KiB; the largest legitimate payload is a
	// receipt token well under 8 KiB)
	r.Use(limitBody(64 << 10))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) CORS posture (safe defaults: allow all if none configured)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", middleware.HeaderActorID, middleware.HeaderActorStaff, middleware.HeaderActorTrustLevel},
			ExposeHeaders:    []string{"X-Request-ID", "Retry-After", "Content-Length"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", middleware.HeaderActorID, middleware.HeaderActorStaff, middleware.HeaderActorTrustLevel},
			ExposeHeaders:    []string{"X-Request-ID", "Retry-After", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      true, // tokens and receipts must never be cached
		EnablePolicy: true,
	}))

	// 8) Resolve the acting forum user from trusted headers
	r.Use(middleware.Actor())

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// Dependency injection: services ← provider/repo/redis
	providerClient, err := provider.New(
		cfg.Provider.Endpoint, cfg.Provider.APIKey, cfg.Provider.APISecret,
		&http.Client{Timeout: cfg.Provider.Timeout}, log.Logger)
	if err != nil {
		return err
	}

	emitter := events.NewRecorder(log.Logger, rdb)
	var limiter ratelimit.Limiter
	var locks services.CompletionLock
	if rdb != nil {
		limiter = ratelimit.NewRedisLimiter(rdb, rateConfig(cfg))
		locks = lock.NewChallengeLock(rdb, lock.DefaultValidity)
	} else {
		limiter = ratelimit.NewLocalLimiter(rateConfig(cfg))
	}

	svc := &services.VerificationService{
		DB: db,
		Policy: &services.Policy{
			DB:     db,
			Config: func() services.PolicyConfig { return PolicyFromConfig(cfg) },
			Events: emitter,
		},
		Receipts:        services.NewReceiptVerifier(cfg.ReceiptSecret, log.Logger),
		Provider:        providerClient,
		Gate:            &ratelimit.Gate{Limiter: limiter},
		Locks:           locks,
		Events:          emitter,
		Log:             log.Logger,
		ForumDomain:     cfg.ForumDomain,
		ProviderTimeout: cfg.Provider.Timeout,
	}
	h := handlers.New(svc, db)

	// Public API
	api := groupWithPrefix(r, cfg.APIBasePath)
	{
		api.POST("/verification/flows", h.CreateFlow)
		api.POST("/verification/complete", h.CompleteFlow)
		api.GET("/verification/stats", h.Stats)
	}

	return nil
}

// PolicyFromConfig maps the environment policy settings onto the
// service-layer shape, expanding the per-context flags into sets. Exported
// because the retention job shares the same mapping.
func PolicyFromConfig(cfg config.Config) services.PolicyConfig {
	protected := map[domain.ContentContext]bool{
		domain.ContextPost:    cfg.Policy.ProtectPosts,
		domain.ContextTopic:   cfg.Policy.ProtectTopics,
		domain.ContextMessage: cfg.Policy.ProtectMessages,
	}
	reverify := map[domain.ContentContext]int{
		domain.ContextPost:    cfg.Policy.ReverifyPostMinutes,
		domain.ContextTopic:   cfg.Policy.ReverifyTopicMinutes,
		domain.ContextMessage: cfg.Policy.ReverifyMessageMinutes,
	}
	return services.PolicyConfig{
		Enabled:          cfg.Policy.Enabled,
		StaffBypass:      cfg.Policy.StaffBypass,
		BypassTrustLevel: cfg.Policy.BypassTrustLevel,
		Protected:        protected,
		ReverifyMinutes:  reverify,
	}
}

func rateConfig(cfg config.Config) ratelimit.Config {
	return ratelimit.Config{
		UserPerMinute: cfg.Rate.UserPerMinute,
		UserPerHour:   cfg.Rate.UserPerHour,
		IPPerMinute:   cfg.Rate.IPPerMinute,
		IPPerHour:     cfg.Rate.IPPerHour,
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
