package ratelimit

import (
	"context"
	"sync"
	"time"
)

// window is one live fixed-window counter.
type window struct {
	count int
	reset time.Time
}

// LocalLimiter is the process-local fallback used when no Redis is
// configured. Windows live in a mutex-guarded map; stale entries are evicted
// opportunistically after a threshold of lookups to bound memory. Limits
// enforced here are per-process only.
type LocalLimiter struct {
	config Config
	now    func() time.Time

	mu       sync.Mutex
	windows  map[string]*window
	lookups  uint64
}

// NewLocalLimiter constructs an in-memory limiter with the given thresholds.
func NewLocalLimiter(cfg Config) *LocalLimiter {
	return &LocalLimiter{
		config:  cfg,
		now:     time.Now,
		windows: make(map[string]*window),
	}
}

var _ Limiter = (*LocalLimiter)(nil)

// Allow consumes one unit from the (scope, subject) window.
func (l *LocalLimiter) Allow(_ context.Context, scope Scope, subject string) (Decision, error) {
	key := string(scope) + ":" + subject
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	// Opportunistic GC: sweep closed windows every ~5000 lookups, before
	// touching the requested entry so a stale one can be rebuilt fresh.
	l.lookups++
	if l.lookups >= 5000 {
		for k, w := range l.windows {
			if !now.Before(w.reset) {
				delete(l.windows, k)
			}
		}
		l.lookups = 0
	}

	w, ok := l.windows[key]
	if !ok || !now.Before(w.reset) {
		l.windows[key] = &window{count: 1, reset: now.Add(scope.Window())}
		if l.config.Limit(scope) < 1 {
			return Decision{Allowed: false, RetryAfter: scope.Window()}, nil
		}
		return Decision{Allowed: true}, nil
	}

	w.count++
	if w.count > l.config.Limit(scope) {
		return Decision{Allowed: false, RetryAfter: w.reset.Sub(now)}, nil
	}
	return Decision{Allowed: true}, nil
}
