package services

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/verigate/go-verify-backend/internal/domain"
	"github.com/verigate/go-verify-backend/internal/repo"
)

func newRetentionJob(db *gorm.DB, days int, reverify map[domain.ContentContext]int) *RetentionJob {
	return &RetentionJob{
		DB:            db,
		RetentionDays: func() int { return days },
		Policy: func() PolicyConfig {
			return PolicyConfig{ReverifyMinutes: reverify}
		},
		Log: zerolog.Nop(),
	}
}

func TestHorizon_ReverifyFloor(t *testing.T) {
	cases := []struct {
		name     string
		days     int
		reverify map[domain.ContentContext]int
		want     time.Duration
	}{
		{"plain days", 30, nil, 30 * 24 * time.Hour},
		{"zero days clamped", 0, nil, 24 * time.Hour},
		{
			// 4320 minutes is 3 days, which outlasts the 1-day setting.
			"reverify raises horizon", 1,
			map[domain.ContentContext]int{domain.ContextPost: 4320},
			3 * 24 * time.Hour,
		},
		{
			// 1500 minutes rounds up to 2 days.
			"reverify rounds up", 1,
			map[domain.ContentContext]int{domain.ContextTopic: 1500},
			2 * 24 * time.Hour,
		},
		{
			"days already cover reverify", 30,
			map[domain.ContentContext]int{domain.ContextPost: 60},
			30 * 24 * time.Hour,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			j := newRetentionJob(nil, tc.days, tc.reverify)
			if got := j.Horizon(); got != tc.want {
				t.Fatalf("Horizon() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestRetentionRun(t *testing.T) {
	db := newServiceDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	backdate := func(id string, age time.Duration) {
		if err := db.Model(&domain.Flow{}).Where("id = ?", id).
			Update("created_at", now.Add(-age)).Error; err != nil {
			t.Fatalf("backdate %s: %v", id, err)
		}
	}

	alice := "alice"
	stalePending, err := repo.CreateFlow(ctx, db, "ch-stale", "t", domain.ContextPost, &alice)
	if err != nil {
		t.Fatal(err)
	}
	backdate(stalePending.ID, 2*time.Hour)

	ancient, err := repo.CreateFlow(ctx, db, "ch-ancient", "t", domain.ContextPost, &alice)
	if err != nil {
		t.Fatal(err)
	}
	backdate(ancient.ID, 40*24*time.Hour)

	fresh, err := repo.CreateFlow(ctx, db, "ch-fresh", "t", domain.ContextPost, &alice)
	if err != nil {
		t.Fatal(err)
	}

	j := newRetentionJob(db, 30, nil)
	j.Now = func() time.Time { return now }
	if err := j.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	// The stale pending flow was swept, not deleted.
	var swept domain.Flow
	if err := db.First(&swept, "id = ?", stalePending.ID).Error; err != nil {
		t.Fatalf("swept flow missing: %v", err)
	}
	if swept.Status != domain.FlowExpired {
		t.Fatalf("stale pending status = %s, want expired", swept.Status)
	}

	// The row past the horizon is gone.
	var count int64
	db.Model(&domain.Flow{}).Where("id = ?", ancient.ID).Count(&count)
	if count != 0 {
		t.Fatal("flow past the retention horizon must be purged")
	}

	// The fresh flow is untouched.
	var kept domain.Flow
	if err := db.First(&kept, "id = ?", fresh.ID).Error; err != nil {
		t.Fatalf("fresh flow missing: %v", err)
	}
	if kept.Status != domain.FlowPending {
		t.Fatalf("fresh flow status = %s, want pending", kept.Status)
	}
}

type stubPruner struct{ cutoff time.Time }

func (s *stubPruner) PruneDailyCounters(_ context.Context, cutoff time.Time) error {
	s.cutoff = cutoff
	return nil
}

func TestRetentionRun_PrunesCounters(t *testing.T) {
	db := newServiceDB(t)
	now := time.Now().UTC()

	j := newRetentionJob(db, 30, nil)
	j.Now = func() time.Time { return now }
	pruner := &stubPruner{}
	j.Pruner = pruner

	if err := j.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	want := now.Add(-30 * 24 * time.Hour)
	if !pruner.cutoff.Equal(want) {
		t.Fatalf("prune cutoff = %v, want %v", pruner.cutoff, want)
	}
}
