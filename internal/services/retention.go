// Retention.
//
// Periodic cleanup of verification data: pending flows past their lifetime
// are swept to expired, and rows older than the retention horizon are
// hard-deleted. The purge cutoff is floored by the largest configured
// reverify window so a completion is never deleted while a policy branch
// could still consult it.
package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/verigate/go-verify-backend/internal/repo"
)

// CounterPruner removes external daily counters older than a cutoff.
// Satisfied by *events.Recorder.
type CounterPruner interface {
	PruneDailyCounters(ctx context.Context, cutoff time.Time) error
}

// RetentionJob owns the periodic sweep and purge pass. Configuration is read
// through funcs on every run so setting changes apply without a restart.
type RetentionJob struct {
	DB            *gorm.DB
	RetentionDays func() int
	Policy        func() PolicyConfig
	Pruner        CounterPruner // optional
	Log           zerolog.Logger
	Now           func() time.Time
}

// Horizon returns the effective retention period: the configured day count,
// raised to cover the largest reverify window any context is configured with.
func (j *RetentionJob) Horizon() time.Duration {
	days := j.RetentionDays()
	if days < 1 {
		days = 1
	}
	var maxMinutes int
	for _, m := range j.Policy().ReverifyMinutes {
		if m > maxMinutes {
			maxMinutes = m
		}
	}
	// Round the reverify floor up to whole days.
	reverifyDays := (maxMinutes + 24*60 - 1) / (24 * 60)
	if reverifyDays > days {
		days = reverifyDays
	}
	return time.Duration(days) * 24 * time.Hour
}

// Run executes one retention pass: sweep stale pending flows to expired,
// purge rows past the horizon, then prune external counters. Sweep and purge
// failures abort the pass; counter pruning is best-effort only.
func (j *RetentionJob) Run(ctx context.Context) error {
	now := j.now()
	cutoff := now.Add(-j.Horizon())

	swept, err := repo.SweepExpiredFlows(ctx, j.DB, now)
	if err != nil {
		return err
	}
	purged, err := repo.PurgeFlowsBefore(ctx, j.DB, cutoff)
	if err != nil {
		return err
	}

	if j.Pruner != nil {
		if err := j.Pruner.PruneDailyCounters(ctx, cutoff); err != nil {
			j.Log.Warn().Err(err).Msg("daily counter prune failed")
		}
	}

	j.Log.Info().
		Int64("swept", swept).
		Int64("purged", purged).
		Time("cutoff", cutoff).
		Msg("retention pass finished")
	return nil
}

// RunEvery runs a pass immediately and then on every tick until ctx is
// cancelled. Pass failures are logged and the loop keeps going.
func (j *RetentionJob) RunEvery(ctx context.Context, interval time.Duration) {
	run := func() {
		if err := j.Run(ctx); err != nil {
			j.Log.Error().Err(err).Msg("retention pass failed")
		}
	}
	run()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		}
	}
}

func (j *RetentionJob) now() time.Time {
	if j.Now != nil {
		return j.Now().UTC()
	}
	return time.Now().UTC()
}
