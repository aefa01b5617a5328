package services

import (
	"context"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/verigate/go-verify-backend/internal/domain"
	"github.com/verigate/go-verify-backend/internal/repo"
)

func newPolicy(db *gorm.DB, events *captureEmitter, cfg *PolicyConfig) *Policy {
	return &Policy{
		DB:     db,
		Config: func() PolicyConfig { return *cfg },
		Events: events,
	}
}

// completeFlowFor seeds a completed flow so the reverify branch has
// something to find.
func completeFlowFor(t *testing.T, db *gorm.DB, actorID string, cctx domain.ContentContext, completedAt time.Time) {
	t.Helper()
	f, err := repo.CreateFlow(context.Background(), db, "ch-"+actorID+"-"+string(cctx), "t", cctx, &actorID)
	if err != nil {
		t.Fatalf("seed flow: %v", err)
	}
	if err := db.Model(&domain.Flow{}).Where("id = ?", f.ID).
		Updates(map[string]any{"status": domain.FlowCompleted, "completed_at": completedAt}).Error; err != nil {
		t.Fatalf("mark completed: %v", err)
	}
}

func TestPolicy_Disabled(t *testing.T) {
	cfg := defaultPolicyConfig()
	cfg.Enabled = false
	p := newPolicy(nil, &captureEmitter{}, &cfg)

	// No actor, no database: the kill switch wins before anything else runs.
	required, err := p.Required(context.Background(), nil, domain.ContextPost)
	if err != nil || required {
		t.Fatalf("required=%v err=%v, want false, nil", required, err)
	}
}

func TestPolicy_StaffBypass(t *testing.T) {
	cfg := defaultPolicyConfig()
	events := &captureEmitter{}
	p := newPolicy(nil, events, &cfg)
	staff := &domain.Actor{ID: "mod", Staff: true}

	required, err := p.Required(context.Background(), staff, domain.ContextPost)
	if err != nil || required {
		t.Fatalf("required=%v err=%v", required, err)
	}
	if len(events.bypassed) != 1 || events.bypassed[0] != "staff" {
		t.Fatalf("bypass events = %v, want [staff]", events.bypassed)
	}

	// With the staff bypass off, staff are treated like anyone else (their
	// trust level here is below the bypass threshold).
	cfg.StaffBypass = false
	required, err = p.Required(context.Background(), staff, domain.ContextPost)
	if err != nil || !required {
		t.Fatalf("staff without bypass: required=%v err=%v, want true", required, err)
	}
}

func TestPolicy_TrustLevelBypass(t *testing.T) {
	cfg := defaultPolicyConfig()
	events := &captureEmitter{}
	p := newPolicy(nil, events, &cfg)

	trusted := &domain.Actor{ID: "vet", TrustLevel: 4}
	required, err := p.Required(context.Background(), trusted, domain.ContextPost)
	if err != nil || required {
		t.Fatalf("required=%v err=%v", required, err)
	}
	if len(events.bypassed) != 1 || events.bypassed[0] != "trust_level" {
		t.Fatalf("bypass events = %v, want [trust_level]", events.bypassed)
	}

	almost := &domain.Actor{ID: "newer", TrustLevel: 3}
	required, err = p.Required(context.Background(), almost, domain.ContextPost)
	if err != nil || !required {
		t.Fatalf("trust level below threshold: required=%v err=%v, want true", required, err)
	}
}

func TestPolicy_UnprotectedContext(t *testing.T) {
	cfg := defaultPolicyConfig()
	p := newPolicy(nil, &captureEmitter{}, &cfg)

	// message is not in the protected set.
	required, err := p.Required(context.Background(), &domain.Actor{ID: "alice"}, domain.ContextMessage)
	if err != nil || required {
		t.Fatalf("required=%v err=%v", required, err)
	}
}

func TestPolicy_AnonymousRequired(t *testing.T) {
	cfg := defaultPolicyConfig()
	// A reverify window exists, but anonymous actors can never hold a
	// completion, so it must not apply.
	cfg.ReverifyMinutes = map[domain.ContentContext]int{domain.ContextPost: 60}
	p := newPolicy(newServiceDB(t), &captureEmitter{}, &cfg)

	required, err := p.Required(context.Background(), nil, domain.ContextPost)
	if err != nil || !required {
		t.Fatalf("anonymous on protected context: required=%v err=%v, want true", required, err)
	}
}

func TestPolicy_RecentCompletion(t *testing.T) {
	db := newServiceDB(t)
	cfg := defaultPolicyConfig()
	cfg.ReverifyMinutes = map[domain.ContentContext]int{domain.ContextPost: 60}
	events := &captureEmitter{}
	p := newPolicy(db, events, &cfg)
	ctx := context.Background()
	alice := &domain.Actor{ID: "alice"}

	completeFlowFor(t, db, "alice", domain.ContextPost, time.Now().UTC().Add(-10*time.Minute))

	required, err := p.Required(ctx, alice, domain.ContextPost)
	if err != nil || required {
		t.Fatalf("within window: required=%v err=%v, want false", required, err)
	}
	if len(events.bypassed) != 1 || events.bypassed[0] != "recent_verification" {
		t.Fatalf("bypass events = %v", events.bypassed)
	}

	// The completion is scoped to its context: topic still requires.
	cfg.ReverifyMinutes[domain.ContextTopic] = 60
	required, err = p.Required(ctx, alice, domain.ContextTopic)
	if err != nil || !required {
		t.Fatalf("other context: required=%v err=%v, want true", required, err)
	}

	// And to its actor.
	required, err = p.Required(ctx, &domain.Actor{ID: "bob"}, domain.ContextPost)
	if err != nil || !required {
		t.Fatalf("other actor: required=%v err=%v, want true", required, err)
	}
}

func TestPolicy_ZeroWindowMeansAlwaysReverify(t *testing.T) {
	db := newServiceDB(t)
	cfg := defaultPolicyConfig()
	cfg.ReverifyMinutes = map[domain.ContentContext]int{}
	p := newPolicy(db, &captureEmitter{}, &cfg)
	alice := &domain.Actor{ID: "alice"}

	// Even a completion seconds ago does not exempt when the window is zero.
	completeFlowFor(t, db, "alice", domain.ContextPost, time.Now().UTC())

	required, err := p.Required(context.Background(), alice, domain.ContextPost)
	if err != nil || !required {
		t.Fatalf("zero window: required=%v err=%v, want true", required, err)
	}
}
