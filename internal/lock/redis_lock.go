// Package lock provides the time-bounded advisory lock that serializes flow
// completion per challenge across processes. The lock is an optimization to
// avoid wasted work and duplicate completion side effects; the store's
// conditional update remains the correctness guarantee, so callers treat a
// missing or unavailable lock as best-effort.
package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "vlock:"

// DefaultValidity bounds how long a crashed holder can stall other
// completers before the lock self-releases.
const DefaultValidity = 10 * time.Second

// releaseScript deletes the key only when it still carries our owner token,
// so an expired-and-reacquired lock is never released by the old holder.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// ChallengeLock acquires named advisory locks in Redis via SET NX with a
// validity TTL.
type ChallengeLock struct {
	client   redis.UniversalClient
	validity time.Duration
}

// NewChallengeLock constructs a lock service. validity <= 0 selects
// DefaultValidity.
func NewChallengeLock(client redis.UniversalClient, validity time.Duration) *ChallengeLock {
	if validity <= 0 {
		validity = DefaultValidity
	}
	return &ChallengeLock{client: client, validity: validity}
}

// Acquire attempts to take the lock for a challenge. On success it returns
// acquired=true and a release function; when another holder owns the lock it
// returns acquired=false. Backend failures surface as errors and are the
// caller's to treat as best-effort.
func (l *ChallengeLock) Acquire(ctx context.Context, challenge string) (release func(context.Context), acquired bool, err error) {
	key := keyPrefix + challenge
	owner := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, owner, l.validity).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return func(ctx context.Context) {
		// Owner-checked delete; a failure just leaves the TTL to clean up.
		_ = releaseScript.Run(ctx, l.client, []string{key}, owner).Err()
	}, true, nil
}
