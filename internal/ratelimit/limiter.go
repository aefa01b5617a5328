// Package ratelimit implements the layered fixed-window counters that gate
// verification flow creation. Four independent scopes apply: per-user-minute,
// per-user-hour, per-IP-minute, and per-IP-hour. Authenticated actors pass
// through all four; anonymous actors only consume the two IP scopes.
//
// Two backends are provided: a Redis implementation (atomic INCR with a TTL
// set on the window's first hit) for multi-process deployments, and a
// process-local fallback for single-node or development setups.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Scope identifies one of the four counter layers.
type Scope string

const (
	ScopeUserMinute Scope = "user_minute"
	ScopeUserHour   Scope = "user_hour"
	ScopeIPMinute   Scope = "ip_minute"
	ScopeIPHour     Scope = "ip_hour"
)

// Window returns the fixed window length for the scope.
func (s Scope) Window() time.Duration {
	switch s {
	case ScopeUserMinute, ScopeIPMinute:
		return time.Minute
	default:
		return time.Hour
	}
}

// Config holds the per-scope thresholds. The IP thresholds apply to everyone
// (including authenticated actors) and should stay generous enough to
// tolerate shared networks.
type Config struct {
	UserPerMinute int
	UserPerHour   int
	IPPerMinute   int
	IPPerHour     int
}

// Limit returns the configured threshold for a scope.
func (c Config) Limit(s Scope) int {
	switch s {
	case ScopeUserMinute:
		return c.UserPerMinute
	case ScopeUserHour:
		return c.UserPerHour
	case ScopeIPMinute:
		return c.IPPerMinute
	default:
		return c.IPPerHour
	}
}

// Decision is the outcome of consuming one unit from a counter.
type Decision struct {
	Allowed bool
	// RetryAfter is the remaining time until this scope's window resets.
	// Meaningful only when Allowed is false.
	RetryAfter time.Duration
}

// Limiter is a single counter store: each Allow call atomically consumes one
// unit from the (scope, subject) window.
type Limiter interface {
	Allow(ctx context.Context, scope Scope, subject string) (Decision, error)
}

// LimitError reports which scope was exceeded and when the caller may retry.
type LimitError struct {
	Scope      Scope
	RetryAfter time.Duration
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded (%s), retry after %s", e.Scope, e.RetryAfter)
}

// RetryAfterSeconds rounds the retry hint up to whole seconds, never below 1,
// suitable for a Retry-After header.
func (e *LimitError) RetryAfterSeconds() int {
	secs := int(math.Ceil(e.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Gate evaluates the four scopes in their fixed order. The first exceeded
// scope aborts immediately, so counters after it are never incremented.
type Gate struct {
	Limiter Limiter
}

// Check consumes budget for a creation attempt. actorID is nil for anonymous
// actors, which skips the two user scopes entirely. Returns *LimitError when
// a scope is exceeded, or the backend error if a counter is unreachable.
func (g *Gate) Check(ctx context.Context, actorID *string, ip string) error {
	type gate struct {
		scope   Scope
		subject string
	}
	var gates []gate
	if actorID != nil {
		gates = append(gates,
			gate{ScopeUserMinute, *actorID},
			gate{ScopeUserHour, *actorID},
		)
	}
	if ip != "" {
		gates = append(gates,
			gate{ScopeIPMinute, ip},
			gate{ScopeIPHour, ip},
		)
	}
	for _, gt := range gates {
		d, err := g.Limiter.Allow(ctx, gt.scope, gt.subject)
		if err != nil {
			return err
		}
		if !d.Allowed {
			return &LimitError{Scope: gt.scope, RetryAfter: d.RetryAfter}
		}
	}
	return nil
}
