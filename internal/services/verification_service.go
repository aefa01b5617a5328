// Package services – VerificationService
//
// This file implements VerificationService, the orchestrator for the two
// primary use cases: creating a verification flow (policy → rate limits →
// provider challenge → persisted pending row) and completing one (receipt →
// binding checks → atomic status transition).
//
// Concurrency: completion is effectively serialized per challenge. The
// Redis advisory lock keeps concurrent completers from duplicating work and
// side effects, but it is best-effort only; the store's conditional update
// is the authoritative arbiter and is safe on its own even if the lock is
// bypassed, lost, or double-acquired after a crash.
//
// Observability: public methods are OpenTelemetry-instrumented and every
// outcome is emitted through the events.Emitter.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/verigate/go-verify-backend/internal/domain"
	"github.com/verigate/go-verify-backend/internal/events"
	"github.com/verigate/go-verify-backend/internal/provider"
	"github.com/verigate/go-verify-backend/internal/ratelimit"
	"github.com/verigate/go-verify-backend/internal/repo"
)

// ChallengeProvider issues challenge/token pairs. Satisfied by
// *provider.Client.
type ChallengeProvider interface {
	CreateChallenge(ctx context.Context, domain string) (*provider.Challenge, error)
}

// CompletionLock is the advisory per-challenge mutual exclusion guarding
// completion. Satisfied by *lock.ChallengeLock.
type CompletionLock interface {
	Acquire(ctx context.Context, challenge string) (release func(context.Context), acquired bool, err error)
}

// CreateResult is the outcome of a flow-creation request. When Required is
// false the other fields are empty and nothing was persisted or counted.
type CreateResult struct {
	Required  bool   `json:"required"`
	Token     string `json:"token,omitempty"`
	Challenge string `json:"challenge,omitempty"`
}

// CompleteResult reports a successful completion.
type CompleteResult struct {
	FlowID string `json:"flow_id"`
}

const (
	defaultProviderTimeout = 15 * time.Second

	// Contended completion attempts poll the advisory lock briefly before
	// proceeding anyway and letting the conditional update arbitrate.
	lockRetries    = 5
	lockRetryDelay = 100 * time.Millisecond
)

// VerificationService coordinates flow creation and completion.
type VerificationService struct {
	DB       *gorm.DB
	Policy   *Policy
	Receipts *ReceiptVerifier
	Provider ChallengeProvider
	Gate     *ratelimit.Gate
	Locks    CompletionLock // optional; nil disables the advisory lock
	Events   events.Emitter
	Log      zerolog.Logger

	// ForumDomain is sent to the provider when requesting a challenge.
	ForumDomain string
	// ProviderTimeout bounds the challenge request from the caller's side.
	ProviderTimeout time.Duration

	Now func() time.Time
}

// CreateFlow runs the create path. When policy does not require
// verification it returns immediately with Required=false: no rate-limit
// budget consumed, no provider call, no row written. Provider failures are
// surfaced unchanged so callers can distinguish them.
func (s *VerificationService) CreateFlow(ctx context.Context, actor *domain.Actor, cctx domain.ContentContext, ip string) (*CreateResult, error) {
	tr := otel.Tracer("services/VerificationService")
	ctx, span := tr.Start(ctx, "CreateFlow",
		trace.WithAttributes(
			attribute.String("verification.context", string(cctx)),
			attribute.Bool("verification.anonymous", actor == nil),
		),
	)
	defer span.End()

	if !domain.ValidContext(cctx) {
		return nil, ErrUnknownContext
	}

	required, err := s.Policy.Required(ctx, actor, cctx)
	if err != nil {
		return nil, s.internal(err, "policy evaluation failed")
	}
	if !required {
		return &CreateResult{Required: false}, nil
	}

	if err := s.Gate.Check(ctx, domain.ActorIDOrNil(actor), ip); err != nil {
		var le *ratelimit.LimitError
		if errors.As(err, &le) {
			s.Events.RateLimited(ctx, le.Scope)
			return nil, le
		}
		return nil, s.internal(err, "rate limiter unavailable")
	}

	pctx, cancel := context.WithTimeout(ctx, s.providerTimeout())
	defer cancel()
	ch, err := s.Provider.CreateChallenge(pctx, s.ForumDomain)
	if err != nil {
		// Provider errors carry their own taxonomy; pass them through.
		return nil, err
	}

	flow, err := repo.CreateFlow(ctx, s.DB, ch.Challenge, ch.Token, cctx, domain.ActorIDOrNil(actor))
	if err != nil {
		// Includes the near-impossible duplicate challenge; a fresh create
		// will get a fresh challenge.
		return nil, s.internal(err, "flow persistence failed")
	}

	s.Events.FlowCreated(ctx, flow)
	return &CreateResult{Required: true, Token: flow.Token, Challenge: flow.Challenge}, nil
}

// CompleteFlow runs the completion path. cctx may be empty, which skips the
// context-binding check (any flow matches); a supplied context must match
// the flow's stored one. Every failure emits a verification-failed event
// with the stable error code.
func (s *VerificationService) CompleteFlow(ctx context.Context, actor *domain.Actor, cctx domain.ContentContext, receipt string) (*CompleteResult, error) {
	tr := otel.Tracer("services/VerificationService")
	ctx, span := tr.Start(ctx, "CompleteFlow",
		trace.WithAttributes(
			attribute.String("verification.context", string(cctx)),
			attribute.Bool("verification.anonymous", actor == nil),
		),
	)
	defer span.End()

	res, err := s.completeFlow(ctx, actor, cctx, receipt)
	if err != nil {
		s.Events.VerificationFailed(ctx, cctx, ErrorCode(err), domain.ActorIDOrNil(actor))
		return nil, err
	}
	return res, nil
}

func (s *VerificationService) completeFlow(ctx context.Context, actor *domain.Actor, cctx domain.ContentContext, receipt string) (*CompleteResult, error) {
	challenge, _, err := s.Receipts.Verify(receipt)
	if err != nil {
		return nil, ErrInvalidReceipt
	}

	if release := s.acquireLock(ctx, challenge); release != nil {
		defer release(ctx)
	}

	flow, err := repo.FindFlowByChallenge(ctx, s.DB, challenge)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrFlowNotFound
	}
	if err != nil {
		return nil, s.internal(err, "flow lookup failed")
	}

	// Actor binding. Both mismatch directions collapse into the generic
	// not-found error: an owned flow is invisible to anyone else, and an
	// anonymous flow is never claimable by a logged-in identity.
	if flow.ActorID != nil {
		if actor == nil || actor.ID != *flow.ActorID {
			return nil, ErrFlowNotFound
		}
	} else if actor != nil {
		return nil, ErrFlowNotFound
	}

	// Context binding, only when the caller supplied one.
	if cctx != "" && cctx != flow.Context {
		return nil, ErrFlowNotFound
	}

	now := s.nowUTC()
	if flow.Status == domain.FlowCompleted {
		return nil, ErrChallengeAlreadyUsed
	}
	if flow.Expired(now) {
		s.Events.FlowExpired(ctx, flow)
		return nil, ErrFlowExpired
	}

	ok, err := repo.CompleteFlow(ctx, s.DB, flow.ID, now)
	if err != nil {
		return nil, s.internal(err, "flow completion failed")
	}
	if !ok {
		// Passed every check but lost the conditional update: another
		// completer got there first.
		return nil, ErrChallengeAlreadyUsed
	}

	flow.Status = domain.FlowCompleted
	flow.CompletedAt = &now
	elapsed := now.Sub(flow.CreatedAt)
	s.Events.FlowCompleted(ctx, flow, elapsed)
	s.Events.VerificationCompleted(ctx, flow.Context, flow.ActorID)

	return &CompleteResult{FlowID: flow.ID}, nil
}

// GateContent is the hook the host forum calls from its content-creation
// pipeline. A nil return means creation may proceed; the host strips the
// receipt parameter once consumed.
func (s *VerificationService) GateContent(ctx context.Context, actor *domain.Actor, cctx domain.ContentContext, receipt string) error {
	if !domain.ValidContext(cctx) {
		return ErrUnknownContext
	}
	required, err := s.Policy.Required(ctx, actor, cctx)
	if err != nil {
		return s.internal(err, "policy evaluation failed")
	}
	if !required {
		return nil
	}
	if receipt == "" {
		s.Events.VerificationFailed(ctx, cctx, CodeReceiptRequired, domain.ActorIDOrNil(actor))
		return ErrReceiptRequired
	}
	_, err = s.CompleteFlow(ctx, actor, cctx, receipt)
	return err
}

// acquireLock takes the advisory lock for a challenge, polling briefly when
// contended. It returns a release func, or nil when the lock is disabled or
// unavailable; completion proceeds either way.
func (s *VerificationService) acquireLock(ctx context.Context, challenge string) func(context.Context) {
	if s.Locks == nil {
		return nil
	}
	for attempt := 0; ; attempt++ {
		release, acquired, err := s.Locks.Acquire(ctx, challenge)
		if err != nil {
			s.Log.Warn().Err(err).Msg("completion lock unavailable, proceeding without it")
			return nil
		}
		if acquired {
			return release
		}
		if attempt >= lockRetries {
			s.Log.Warn().Str("challenge", challenge).Msg("completion lock contended, proceeding anyway")
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(lockRetryDelay):
		}
	}
}

// internal logs the underlying error with full detail and returns the one
// opaque failure callers ever see for unexpected conditions.
func (s *VerificationService) internal(err error, msg string) error {
	s.Log.Error().Err(err).Msg(msg)
	return ErrInternal
}

func (s *VerificationService) providerTimeout() time.Duration {
	if s.ProviderTimeout > 0 {
		return s.ProviderTimeout
	}
	return defaultProviderTimeout
}

func (s *VerificationService) nowUTC() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}
