package ports

import (
	"context"
	"time"
)

// JobLocker is a lease-based distributed lock used to keep the scheduled
// billing jobs single-owner across worker processes. Locks expire after ttl
// even if the holder dies mid-run.
type JobLocker interface {
	// TryAcquire attempts to take the lock without blocking. Returns
	// acquired=false when another owner holds it. The release function is
	// safe to call more than once and must be called on every exit path.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (release func(), acquired bool, err error)
}
