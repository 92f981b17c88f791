package moviecache

import (
	"context"
	"time"

	"github.com/unkn0wn-root/moviecache/aggregate"
	c "github.com/unkn0wn-root/moviecache/codec"
	"github.com/unkn0wn-root/moviecache/fetcher"
	gen "github.com/unkn0wn-root/moviecache/genstore"
	"github.com/unkn0wn-root/moviecache/lock"
	pr "github.com/unkn0wn-root/moviecache/provider"
)

// Cache is the read-through cache of the films/people aggregation.
// All methods are safe for concurrent use.
type Cache interface {
	Enabled() bool
	Close(context.Context) error

	// Get returns the cached aggregation, recomputing it with f on a miss.
	// Upstream and store failures degrade to an empty result; the only
	// error returned for them is a *SerializationError (or ctx.Err() when
	// the caller gave up).
	//
	// Concurrent Gets in one process share a single recompute keyed by the
	// cache key alone: a caller that joins a flight started with another
	// Fetcher receives that flight's result and f is not called. A caller
	// giving up does not cancel the flight for the others.
	Get(ctx context.Context, f fetcher.Fetcher) (aggregate.Result, error)

	// MoviesWithPeople is Get with Options.Fetcher.
	MoviesWithPeople(ctx context.Context) (aggregate.Result, error)

	// Refresh recomputes and rewrites the entry under the lock, skipping
	// the read-through checks. ErrLockTimeout means someone else holds it.
	Refresh(ctx context.Context) (aggregate.Result, error)

	// Cached reports whether the store currently holds an entry.
	Cached(ctx context.Context) (bool, error)

	// Invalidate drops the entry and bumps its generation so a recompute
	// already in flight cannot write its result back.
	Invalidate(ctx context.Context) error
}

// Options configure the cache. Provider and Locker are required.
type Options struct {
	Provider pr.Provider
	Locker   lock.Locker

	Fetcher      fetcher.Fetcher           // used by MoviesWithPeople and Refresh
	Codec        c.Codec[aggregate.Result] // nil => codec.JSON
	GenStore     gen.GenStore              // nil => genstore.Nop (no generation checks)
	Logger       Logger                    // nil => NopLogger
	Hooks        Hooks                     // nil => NopHooks
	Key          string                    // "" => "movies_with_people"
	TTL          time.Duration             // 0 => 60s
	LockName     string                    // "" => Key + ":lock"
	LockTimeout  time.Duration             // 0 => 3s
	FetchTimeout time.Duration             // 0 => 10s; bounds both upstream calls
	Disabled     bool                      // pass-through: no store, no lock
}

func New(opts Options) (Cache, error) {
	return newCache(opts)
}
