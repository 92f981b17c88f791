package moviecache

import (
	"errors"
	"fmt"

	"github.com/unkn0wn-root/moviecache/lock"
)

var (
	// ErrLockTimeout is returned by Refresh when the recompute lock is held
	// elsewhere. Get never returns it; it degrades to an empty result.
	ErrLockTimeout = lock.ErrTimeout

	ErrNoFetcher  = errors.New("moviecache: no fetcher configured")
	ErrNoProvider = errors.New("moviecache: provider is required")
	ErrNoLocker   = errors.New("moviecache: locker is required")
)

// SerializationError reports a result that could not be encoded for the
// store. The stored entry is left untouched when it is returned.
type SerializationError struct {
	Key string
	Err error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("moviecache: encode %q: %v", e.Key, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

type InvalidateError struct {
	Key     string
	BumpErr error
	DelErr  error
}

func (e *InvalidateError) Error() string {
	switch {
	case e.BumpErr != nil && e.DelErr != nil:
		return fmt.Sprintf("invalidate %q failed: gen bump and delete failed: bump=%v; delete=%v",
			e.Key, e.BumpErr, e.DelErr)
	case e.BumpErr != nil:
		return fmt.Sprintf("invalidate %q: gen bump failed: %v", e.Key, e.BumpErr)
	case e.DelErr != nil:
		return fmt.Sprintf("invalidate %q: delete failed: %v", e.Key, e.DelErr)
	default:
		return fmt.Sprintf("invalidate %q: unknown error", e.Key)
	}
}

func (e *InvalidateError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.BumpErr != nil {
		errs = append(errs, e.BumpErr)
	}
	if e.DelErr != nil {
		errs = append(errs, e.DelErr)
	}
	return errs
}
