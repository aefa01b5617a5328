// Policy evaluation.
//
// Decides whether a given actor must verify before acting in a given
// content context. The branch order is deliberate and observable: staff and
// trust-level bypasses apply even to protected contexts, and the
// protection check precedes the reverify lookup so a disabled context never
// touches the database.
package services

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/verigate/go-verify-backend/internal/domain"
	"github.com/verigate/go-verify-backend/internal/events"
	"github.com/verigate/go-verify-backend/internal/repo"
)

// PolicyConfig is the policy slice of the runtime configuration. It is read
// fresh on every evaluation, so a settings change applies immediately.
type PolicyConfig struct {
	// Enabled gates the whole feature.
	Enabled bool
	// StaffBypass exempts staff actors from verification.
	StaffBypass bool
	// BypassTrustLevel exempts actors at or above this trust level.
	BypassTrustLevel int
	// Protected marks which content contexts require verification.
	Protected map[domain.ContentContext]bool
	// ReverifyMinutes is the per-context lookback during which a completed
	// verification exempts the same actor. Zero disables the exemption.
	ReverifyMinutes map[domain.ContentContext]int
}

// ReverifyWindow returns the configured lookback for a context.
func (c PolicyConfig) ReverifyWindow(cctx domain.ContentContext) time.Duration {
	return time.Duration(c.ReverifyMinutes[cctx]) * time.Minute
}

// Policy evaluates whether verification is required.
type Policy struct {
	DB     *gorm.DB
	Config func() PolicyConfig
	Events events.Emitter
	Now    func() time.Time
}

// Required reports whether (actor, cctx) must verify. The first matching
// branch wins; bypass branches emit a verification-bypassed event with
// their reason. actor is nil for anonymous requests, which can never match
// the trust-level or recent-verification branches.
func (p *Policy) Required(ctx context.Context, actor *domain.Actor, cctx domain.ContentContext) (bool, error) {
	cfg := p.Config()

	if !cfg.Enabled {
		return false, nil
	}

	if actor != nil && actor.Staff && cfg.StaffBypass {
		p.Events.VerificationBypassed(ctx, cctx, events.BypassStaff, &actor.ID)
		return false, nil
	}

	if actor != nil && actor.TrustLevel >= cfg.BypassTrustLevel {
		p.Events.VerificationBypassed(ctx, cctx, events.BypassTrustLevel, &actor.ID)
		return false, nil
	}

	if !cfg.Protected[cctx] {
		return false, nil
	}

	// Time-based exemption from a recent completed flow. Anonymous actors
	// never qualify; a zero window disables the branch entirely (the store
	// short-circuits on it, so no query is issued).
	if actor != nil {
		recent, err := repo.HasRecentCompletion(ctx, p.DB, actor.ID, cctx, cfg.ReverifyWindow(cctx), p.now())
		if err != nil {
			return false, err
		}
		if recent {
			p.Events.VerificationBypassed(ctx, cctx, events.BypassRecentVerification, &actor.ID)
			return false, nil
		}
	}

	return true, nil
}

func (p *Policy) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}
