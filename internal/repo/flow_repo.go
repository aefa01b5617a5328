// Package repo implements the data persistence layer for verification flows,
// backed by GORM. This file provides the flow store: creation, the atomic
// conditional completion that the whole system's at-most-once guarantee
// rests on, lookups, and the bulk sweep/purge operations used by retention.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/verigate/go-verify-backend/internal/domain"
)

// ErrNotFound indicates that no flow matches the requested challenge.
var ErrNotFound = errors.New("flow not found")

// ErrDuplicateChallenge indicates that a flow with the given challenge
// already exists. Provider-issued challenges should make this
// near-impossible, but the store handles it rather than assuming it away.
var ErrDuplicateChallenge = errors.New("duplicate challenge")

// CreateFlow inserts a new pending flow bound to the given context and
// (possibly nil) actor. Returns ErrDuplicateChallenge on a unique violation.
func CreateFlow(ctx context.Context, db *gorm.DB, challenge, token string, cctx domain.ContentContext, actorID *string) (*domain.Flow, error) {
	if strings.TrimSpace(challenge) == "" {
		return nil, errors.New("challenge must not be empty")
	}
	flow := &domain.Flow{
		ID:        uuid.NewString(),
		Challenge: challenge,
		Token:     token,
		Context:   cctx,
		ActorID:   actorID,
		Status:    domain.FlowPending,
		Version:   1,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(flow).Error; err != nil {
		// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
		low := strings.ToLower(err.Error())
		if errors.Is(err, gorm.ErrDuplicatedKey) ||
			strings.Contains(low, "unique constraint failed") ||
			strings.Contains(low, "constraint failed: unique") {
			return nil, ErrDuplicateChallenge
		}
		return nil, err
	}
	return flow, nil
}

// CompleteFlow performs the single atomic pending → completed transition.
// The status guard in the WHERE clause is the authoritative race arbiter:
// exactly one concurrent caller observes RowsAffected == 1, every other
// caller gets false. Losing the race is a normal outcome, never an error.
func CompleteFlow(ctx context.Context, db *gorm.DB, id string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Flow{}).
		Where("id = ? AND status = ?", id, domain.FlowPending).
		Updates(map[string]any{
			"status":       domain.FlowCompleted,
			"completed_at": now.UTC(),
			"version":      gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// FindFlowByChallenge returns the flow for a challenge, or ErrNotFound.
func FindFlowByChallenge(ctx context.Context, db *gorm.DB, challenge string) (*domain.Flow, error) {
	if strings.TrimSpace(challenge) == "" {
		return nil, ErrNotFound
	}
	var flow domain.Flow
	err := db.WithContext(ctx).Where("challenge = ?", challenge).First(&flow).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &flow, nil
}

// HasRecentCompletion reports whether the actor completed a flow for the
// given context within the lookback window. A zero (or negative) window
// means "always re-verify", not "any time in the past".
func HasRecentCompletion(ctx context.Context, db *gorm.DB, actorID string, cctx domain.ContentContext, within time.Duration, now time.Time) (bool, error) {
	if within <= 0 {
		return false, nil
	}
	var count int64
	err := db.WithContext(ctx).
		Model(&domain.Flow{}).
		Where("actor_id = ? AND context = ? AND status = ? AND completed_at > ?",
			actorID, cctx, domain.FlowCompleted, now.UTC().Add(-within)).
		Count(&count).Error
	return count > 0, err
}

// SweepExpiredFlows bulk-transitions pending rows older than FlowExpiry to
// expired. The per-row status condition makes the sweep idempotent and safe
// to run concurrently with itself: each row transitions at most once.
func SweepExpiredFlows(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.Flow{}).
		Where("status = ? AND created_at < ?", domain.FlowPending, now.UTC().Add(-domain.FlowExpiry)).
		Updates(map[string]any{
			"status":  domain.FlowExpired,
			"version": gorm.Expr("version + 1"),
		})
	return res.RowsAffected, res.Error
}

// PurgeFlowsBefore hard-deletes flows of any status created before cutoff.
// Run after SweepExpiredFlows within the same retention pass so pending rows
// are flipped to expired before they become eligible for deletion.
func PurgeFlowsBefore(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("created_at < ?", cutoff.UTC()).
		Delete(&domain.Flow{})
	return res.RowsAffected, res.Error
}
