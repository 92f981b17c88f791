// Package lock defines the named mutual-exclusion primitive that serializes
// cache recomputation.
//
// A Handle must be released on every exit path of the critical section.
// Implementations backed by a shared store bound the lifetime of a grant with
// their own TTL, so a holder that dies mid-section cannot wedge the lock.
package lock

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrTimeout is returned when the lock could not be obtained within the
	// acquisition timeout.
	ErrTimeout = errors.New("lock: acquire timeout")

	// ErrNotHeld is returned by Release when the grant already expired or was
	// taken over by another holder.
	ErrNotHeld = errors.New("lock: not held")
)

// Locker hands out named locks.
type Locker interface {
	// Acquire blocks until the lock is held, timeout elapses (ErrTimeout) or
	// ctx is done (ctx.Err()). timeout <= 0 means a single attempt.
	Acquire(ctx context.Context, name string, timeout time.Duration) (Handle, error)
}

// Handle is a held lock. Release is safe to call more than once; calls after
// the first return nil.
type Handle interface {
	Name() string
	Release(ctx context.Context) error
}
