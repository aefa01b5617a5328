package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newLock(t *testing.T, validity time.Duration) (*ChallengeLock, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewChallengeLock(client, validity), mr
}

func TestAcquire_MutualExclusionPerChallenge(t *testing.T) {
	l, _ := newLock(t, 0)
	ctx := context.Background()

	release, ok, err := l.Acquire(ctx, "ch-1")
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}

	// Same challenge is contended; a different challenge is not.
	if _, ok, err := l.Acquire(ctx, "ch-1"); err != nil || ok {
		t.Fatalf("second acquire should be contended: ok=%v err=%v", ok, err)
	}
	rel2, ok, err := l.Acquire(ctx, "ch-2")
	if err != nil || !ok {
		t.Fatalf("independent challenge should acquire: ok=%v err=%v", ok, err)
	}
	rel2(ctx)

	release(ctx)
	rel3, ok, err := l.Acquire(ctx, "ch-1")
	if err != nil || !ok {
		t.Fatalf("acquire after release: ok=%v err=%v", ok, err)
	}
	rel3(ctx)
}

func TestAcquire_SelfReleasesAfterValidity(t *testing.T) {
	l, mr := newLock(t, 5*time.Second)
	ctx := context.Background()

	// Simulate a crashed holder: acquire and never release.
	if _, ok, err := l.Acquire(ctx, "ch-crash"); err != nil || !ok {
		t.Fatalf("acquire: ok=%v err=%v", ok, err)
	}

	mr.FastForward(6 * time.Second)

	release, ok, err := l.Acquire(ctx, "ch-crash")
	if err != nil || !ok {
		t.Fatalf("lock should self-release after validity: ok=%v err=%v", ok, err)
	}
	release(ctx)
}

func TestRelease_DoesNotClobberNewHolder(t *testing.T) {
	l, mr := newLock(t, 5*time.Second)
	ctx := context.Background()

	staleRelease, ok, err := l.Acquire(ctx, "ch-owner")
	if err != nil || !ok {
		t.Fatalf("acquire: ok=%v err=%v", ok, err)
	}

	// The original lock expires and someone else takes it.
	mr.FastForward(6 * time.Second)
	if _, ok, err := l.Acquire(ctx, "ch-owner"); err != nil || !ok {
		t.Fatalf("reacquire after expiry: ok=%v err=%v", ok, err)
	}

	// A release from the stale holder must not free the new holder's lock.
	staleRelease(ctx)
	if _, ok, err := l.Acquire(ctx, "ch-owner"); err != nil || ok {
		t.Fatalf("stale release must not unlock the new holder: ok=%v err=%v", ok, err)
	}
}
