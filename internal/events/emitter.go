// Package events emits the observability stream external reporting consumes:
// flow lifecycle events, verification outcomes, bypasses, and rate-limit
// hits. The core never aggregates these itself; the default Recorder fans
// each event out to structured logs, Prometheus counters with bounded label
// cardinality, and best-effort per-day Redis counters keyed (metric, date)
// for the external reporting consumer.
package events

import (
	"context"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/verigate/go-verify-backend/internal/domain"
	"github.com/verigate/go-verify-backend/internal/ratelimit"
)

// Emitter receives every observable event in the verification lifecycle.
// Implementations must never fail the calling operation.
type Emitter interface {
	FlowCreated(ctx context.Context, flow *domain.Flow)
	FlowCompleted(ctx context.Context, flow *domain.Flow, elapsed time.Duration)
	FlowExpired(ctx context.Context, flow *domain.Flow)
	VerificationCompleted(ctx context.Context, cctx domain.ContentContext, actorID *string)
	VerificationFailed(ctx context.Context, cctx domain.ContentContext, code string, actorID *string)
	VerificationBypassed(ctx context.Context, cctx domain.ContentContext, reason string, actorID *string)
	RateLimited(ctx context.Context, scope ratelimit.Scope)
}

// Bypass reasons carried by verification-bypassed events.
const (
	BypassStaff              = "staff"
	BypassTrustLevel         = "trust_level"
	BypassRecentVerification = "recent_verification"
)

var (
	flowsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verification_flows_created_total",
			Help: "Verification flows created, by content context.",
		},
		[]string{"context"},
	)
	flowsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verification_flows_completed_total",
			Help: "Verification flows completed, by content context.",
		},
		[]string{"context"},
	)
	flowsExpired = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verification_flows_expired_total",
			Help: "Verification flows that expired before completion.",
		},
		[]string{"context"},
	)
	flowDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "verification_flow_duration_seconds",
			Help: "Time from challenge issuance to completion.",
			// Humans answering a device prompt: seconds to minutes.
			Buckets: []float64{1, 2, 5, 10, 30, 60, 120, 300, 900, 3600},
		},
		[]string{"context"},
	)
	verificationsFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verification_failures_total",
			Help: "Failed verification attempts, by stable error code.",
		},
		[]string{"code"},
	)
	verificationsBypassed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verification_bypassed_total",
			Help: "Verification requirements bypassed, by reason.",
		},
		[]string{"reason"},
	)
	rateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verification_rate_limited_total",
			Help: "Flow creations blocked by a rate limit, by scope.",
		},
		[]string{"scope"},
	)
)

func init() {
	prometheus.MustRegister(
		flowsCreated, flowsCompleted, flowsExpired, flowDuration,
		verificationsFailed, verificationsBypassed, rateLimited,
	)
}

const (
	dailyKeyPrefix = "verify:metrics:"
	// dailyKeyTTL keeps the external reporting window bounded even if the
	// retention job never prunes.
	dailyKeyTTL = 60 * 24 * time.Hour
)

// Recorder is the default Emitter. A nil Redis client disables the daily
// counters; logging and Prometheus always apply.
type Recorder struct {
	log   zerolog.Logger
	redis redis.UniversalClient
	now   func() time.Time
}

// NewRecorder constructs a Recorder. redisClient may be nil.
func NewRecorder(log zerolog.Logger, redisClient redis.UniversalClient) *Recorder {
	return &Recorder{
		log:   log.With().Str("component", "events").Logger(),
		redis: redisClient,
		now:   time.Now,
	}
}

var _ Emitter = (*Recorder)(nil)

func (r *Recorder) FlowCreated(ctx context.Context, flow *domain.Flow) {
	flowsCreated.WithLabelValues(string(flow.Context)).Inc()
	r.bump(ctx, "flow_created")
	r.flowEvent(flow).Msg("flow created")
}

func (r *Recorder) FlowCompleted(ctx context.Context, flow *domain.Flow, elapsed time.Duration) {
	flowsCompleted.WithLabelValues(string(flow.Context)).Inc()
	flowDuration.WithLabelValues(string(flow.Context)).Observe(elapsed.Seconds())
	r.bump(ctx, "flow_completed")
	r.flowEvent(flow).Dur("elapsed", elapsed).Msg("flow completed")
}

func (r *Recorder) FlowExpired(ctx context.Context, flow *domain.Flow) {
	flowsExpired.WithLabelValues(string(flow.Context)).Inc()
	r.bump(ctx, "flow_expired")
	r.flowEvent(flow).Msg("flow expired")
}

func (r *Recorder) VerificationCompleted(ctx context.Context, cctx domain.ContentContext, actorID *string) {
	r.bump(ctx, "verification_completed")
	r.log.Info().
		Str("context", string(cctx)).
		Str("actor", actorLabel(actorID)).
		Msg("verification completed")
}

func (r *Recorder) VerificationFailed(ctx context.Context, cctx domain.ContentContext, code string, actorID *string) {
	verificationsFailed.WithLabelValues(code).Inc()
	r.bump(ctx, "verification_failed")
	r.log.Warn().
		Str("context", string(cctx)).
		Str("code", code).
		Str("actor", actorLabel(actorID)).
		Msg("verification failed")
}

func (r *Recorder) VerificationBypassed(ctx context.Context, cctx domain.ContentContext, reason string, actorID *string) {
	verificationsBypassed.WithLabelValues(reason).Inc()
	r.bump(ctx, "verification_bypassed")
	r.log.Debug().
		Str("context", string(cctx)).
		Str("reason", reason).
		Str("actor", actorLabel(actorID)).
		Msg("verification bypassed")
}

func (r *Recorder) RateLimited(ctx context.Context, scope ratelimit.Scope) {
	rateLimited.WithLabelValues(string(scope)).Inc()
	r.bump(ctx, "rate_limited")
	r.log.Warn().Str("scope", string(scope)).Msg("flow creation rate limited")
}

func (r *Recorder) flowEvent(flow *domain.Flow) *zerolog.Event {
	return r.log.Info().
		Str("flow_id", flow.ID).
		Str("context", string(flow.Context)).
		Str("actor", actorLabel(flow.ActorID))
}

// bump increments the external daily counter for metric. Failures are logged
// at debug and swallowed: reporting must never affect the core path.
func (r *Recorder) bump(ctx context.Context, metric string) {
	if r.redis == nil {
		return
	}
	key := dailyKeyPrefix + metric + ":" + r.now().UTC().Format("2006-01-02")
	pipe := r.redis.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, dailyKeyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		r.log.Debug().Err(err).Str("metric", metric).Msg("daily counter increment failed")
		return
	}
	_ = incr
}

// PruneDailyCounters deletes daily counter keys dated before cutoff. Used as
// the retention job's secondary cleanup step.
func (r *Recorder) PruneDailyCounters(ctx context.Context, cutoff time.Time) error {
	if r.redis == nil {
		return nil
	}
	cutoffDay := cutoff.UTC().Format("2006-01-02")
	iter := r.redis.Scan(ctx, 0, dailyKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		// Key layout: verify:metrics:<metric>:<yyyy-mm-dd>
		idx := strings.LastIndex(key, ":")
		if idx < 0 || idx == len(key)-1 {
			continue
		}
		if day := key[idx+1:]; day < cutoffDay {
			if err := r.redis.Del(ctx, key).Err(); err != nil {
				return err
			}
		}
	}
	return iter.Err()
}

func actorLabel(actorID *string) string {
	if actorID == nil {
		return "anonymous"
	}
	return *actorID
}
