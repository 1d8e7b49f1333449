// Package redislock implements the JobLocker port with a Redis lease:
// SET NX PX to acquire, owner-token compare-and-delete to release. The TTL
// bounds how long a crashed worker can wedge the billing jobs.
package redislock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only when the caller still owns it, so a
// release that arrives after lease expiry cannot drop another worker's lock.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

// Locker is a lease-based distributed lock on a Redis client
type Locker struct {
	client redis.UniversalClient
}

// New creates a new Redis-backed locker
func New(client redis.UniversalClient) *Locker {
	return &Locker{client: client}
}

// TryAcquire attempts to take the lock without blocking. The returned
// release function is idempotent and uses a background context so a
// cancelled job context cannot leak the lease.
func (l *Locker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	token := uuid.New().String()

	acquired, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !acquired {
		return nil, false, nil
	}

	var releaseOnce sync.Once
	release := func() {
		releaseOnce.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err()
		})
	}

	return release, true, nil
}
