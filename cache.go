package moviecache

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/unkn0wn-root/moviecache/aggregate"
	"github.com/unkn0wn-root/moviecache/codec"
	"github.com/unkn0wn-root/moviecache/fetcher"
	gen "github.com/unkn0wn-root/moviecache/genstore"
	"github.com/unkn0wn-root/moviecache/internal/wire"
	"github.com/unkn0wn-root/moviecache/lock"
	pr "github.com/unkn0wn-root/moviecache/provider"
)

const (
	unlockTimeout = 2 * time.Second
	storeTimeout  = 2 * time.Second
)

type cache struct {
	provider     pr.Provider
	locker       lock.Locker
	fetcher      fetcher.Fetcher
	codec        codec.Codec[aggregate.Result]
	gen          gen.GenStore
	log          Logger
	hooks        Hooks
	enabled      bool
	key          string
	ttl          time.Duration
	lockName     string
	lockTimeout  time.Duration
	fetchTimeout time.Duration

	sf  singleflight.Group
	now func() time.Time
}

func newCache(opts Options) (*cache, error) {
	if opts.Provider == nil && !opts.Disabled {
		return nil, ErrNoProvider
	}
	if opts.Locker == nil && !opts.Disabled {
		return nil, ErrNoLocker
	}

	c := &cache{
		provider: opts.Provider,
		locker:   opts.Locker,
		fetcher:  opts.Fetcher,
		enabled:  !opts.Disabled,
		now:      time.Now,
	}

	// defaults
	c.log = coalesce[Logger](opts.Logger, NopLogger{})
	c.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	c.key = coalesce(opts.Key, DefaultKey)
	c.ttl = coalesce(opts.TTL, DefaultTTL)
	c.lockName = coalesce(opts.LockName, c.key+":lock")
	c.lockTimeout = coalesce(opts.LockTimeout, DefaultLockTimeout)
	c.fetchTimeout = coalesce(opts.FetchTimeout, DefaultFetchTimeout)

	if opts.Codec != nil {
		c.codec = opts.Codec
	} else {
		c.codec = codec.JSON[aggregate.Result]{}
	}
	if opts.GenStore != nil {
		c.gen = opts.GenStore
	} else {
		c.gen = gen.Nop{}
	}
	return c, nil
}

func (c *cache) Enabled() bool { return c.enabled }

func (c *cache) Close(ctx context.Context) error {
	// gen store first (best effort)
	if c.gen != nil {
		_ = c.gen.Close(ctx)
	}
	if c.provider != nil {
		return c.provider.Close(ctx)
	}
	return nil
}

func (c *cache) MoviesWithPeople(ctx context.Context) (aggregate.Result, error) {
	return c.Get(ctx, c.fetcher)
}

func (c *cache) Get(ctx context.Context, f fetcher.Fetcher) (aggregate.Result, error) {
	if f == nil {
		return nil, ErrNoFetcher
	}
	if !c.enabled {
		res, _ := c.compute(ctx, f)
		return res, nil
	}

	if res, ok := c.read(ctx); ok {
		c.hooks.CacheHit(c.key)
		return res, nil
	}
	c.hooks.CacheMiss(c.key)

	// one goroutine per process goes on to the lock; the rest share its
	// result. The flight is not tied to whichever caller started it.
	ch := c.sf.DoChan(c.key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.flightTimeout())
		defer cancel()
		return c.fill(fctx, f)
	})
	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		res := r.Val.(aggregate.Result)
		if r.Shared {
			res = res.Clone()
		}
		return res, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// flightTimeout bounds a shared fill: the lock wait, both fetches and the
// store round trips.
func (c *cache) flightTimeout() time.Duration {
	return c.lockTimeout + c.fetchTimeout + storeTimeout
}

// fill is the locked half of Get: acquire, re-read, recompute.
func (c *cache) fill(ctx context.Context, f fetcher.Fetcher) (aggregate.Result, error) {
	start := c.now()
	h, err := c.locker.Acquire(ctx, c.lockName, c.lockTimeout)
	if err != nil {
		if errors.Is(err, lock.ErrTimeout) {
			waited := c.now().Sub(start)
			c.log.Warn("lock timeout; returning empty result", Fields{"lock": c.lockName, "waited": waited})
			c.hooks.LockTimeout(c.lockName, waited)
		} else {
			c.log.Error("lock acquire failed; returning empty result", Fields{"lock": c.lockName, "err": err})
			c.hooks.StoreError("lock", err)
		}
		return aggregate.Result{}, nil
	}
	defer c.unlock(ctx, h)

	if res, ok := c.read(ctx); ok {
		c.log.Debug("entry filled while waiting for lock", Fields{"key": c.key})
		c.hooks.HerdShortCircuit(c.key)
		return res, nil
	}
	return c.recompute(ctx, f)
}

func (c *cache) Refresh(ctx context.Context) (aggregate.Result, error) {
	if c.fetcher == nil {
		return nil, ErrNoFetcher
	}
	if !c.enabled {
		res, _ := c.compute(ctx, c.fetcher)
		return res, nil
	}

	h, err := c.locker.Acquire(ctx, c.lockName, c.lockTimeout)
	if err != nil {
		if errors.Is(err, lock.ErrTimeout) {
			c.hooks.LockTimeout(c.lockName, c.lockTimeout)
			return nil, ErrLockTimeout
		}
		return nil, err
	}
	defer c.unlock(ctx, h)
	return c.recompute(ctx, c.fetcher)
}

// recompute must run with the lock held.
func (c *cache) recompute(ctx context.Context, f fetcher.Fetcher) (aggregate.Result, error) {
	start := c.now()

	// snapshot before fetching so an Invalidate during the fetch wins
	obs, err := c.gen.Snapshot(ctx, c.key)
	genOK := err == nil
	if !genOK {
		c.log.Warn("gen snapshot error; result will not be stored", Fields{"key": c.key, "err": err})
		c.hooks.StoreError("gen_snapshot", err)
	}

	res, complete := c.compute(ctx, f)
	if !complete || !genOK {
		return res, nil
	}
	if err := c.write(ctx, obs, res); err != nil {
		return nil, err
	}

	took := c.now().Sub(start)
	c.log.Info("recomputed", Fields{"key": c.key, "titles": len(res), "took": took})
	c.hooks.Recomputed(c.key, len(res), took)
	return res, nil
}

// compute fetches and aggregates. complete is false when an upstream call
// failed; such a result is returned to the caller but never stored.
func (c *cache) compute(ctx context.Context, f fetcher.Fetcher) (res aggregate.Result, complete bool) {
	ctx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	films, err := f.FetchFilms(ctx)
	if err != nil {
		c.log.Warn("films fetch failed", Fields{"err": err})
		c.hooks.UpstreamFailure("films", err)
		return aggregate.Result{}, false
	}
	if len(films) == 0 {
		return aggregate.Result{}, true
	}

	complete = true
	people, err := f.FetchPeople(ctx)
	if err != nil {
		c.log.Warn("people fetch failed", Fields{"err": err})
		c.hooks.UpstreamFailure("people", err)
		people, complete = nil, false
	}

	res, rep := aggregate.Join(films, people)
	if rep.InvalidPeople > 0 || len(rep.Unresolved) > 0 {
		c.log.Debug("records skipped", Fields{"invalid_people": rep.InvalidPeople, "unresolved": rep.Unresolved})
	}
	return res, complete
}

// write stores res iff the generation still equals obs. Only encode
// failures are returned; store failures are logged and swallowed.
func (c *cache) write(ctx context.Context, obs uint64, res aggregate.Result) error {
	payload, err := c.codec.Encode(res)
	if err != nil {
		return &SerializationError{Key: c.key, Err: err}
	}

	cur, err := c.gen.Snapshot(ctx, c.key)
	if err != nil {
		c.log.Warn("gen snapshot error; skipping write", Fields{"key": c.key, "err": err})
		c.hooks.StoreError("gen_snapshot", err)
		return nil
	}
	if cur != obs {
		c.log.Debug("write skipped (gen mismatch)", Fields{"key": c.key, "obs": obs, "cur": cur})
		return nil
	}

	b := wire.Encode(obs, c.now().Add(c.ttl), payload)
	if err := c.provider.Set(ctx, c.key, b, c.ttl); err != nil {
		c.log.Error("cache write failed", Fields{"key": c.key, "err": err})
		c.hooks.StoreError("set", err)
	}
	return nil
}

// read returns the stored result when it is present, unexpired and of the
// current generation. Store errors read as a miss.
func (c *cache) read(ctx context.Context) (aggregate.Result, bool) {
	raw, ok, err := c.provider.Get(ctx, c.key)
	if err != nil {
		c.log.Error("cache read failed", Fields{"key": c.key, "err": err})
		c.hooks.StoreError("get", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}

	e, err := wire.Decode(raw)
	if err != nil {
		c.selfHeal(ctx, "corrupt")
		return nil, false
	}
	if e.Expired(c.now()) {
		// the next write replaces it
		return nil, false
	}
	g, err := c.gen.Snapshot(ctx, c.key)
	if err != nil {
		c.log.Warn("gen snapshot error", Fields{"key": c.key, "err": err})
		c.hooks.StoreError("gen_snapshot", err)
		return nil, false
	}
	if e.Gen != g {
		c.selfHeal(ctx, "gen_mismatch")
		return nil, false
	}
	v, err := c.codec.Decode(e.Payload)
	if err != nil {
		c.selfHeal(ctx, "value_decode")
		return nil, false
	}
	if v == nil {
		v = aggregate.Result{}
	}
	return v, true
}

func (c *cache) selfHeal(ctx context.Context, reason string) {
	c.log.Debug("self-heal: dropping entry", Fields{"key": c.key, "reason": reason})
	c.hooks.SelfHeal(c.key, reason)
	if err := c.provider.Del(ctx, c.key); err != nil {
		c.hooks.StoreError("del", err)
	}
}

// unlock releases on a context detached from the caller's, so a cancelled
// request does not leave the grant behind.
func (c *cache) unlock(ctx context.Context, h lock.Handle) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), unlockTimeout)
	defer cancel()
	if err := h.Release(ctx); err != nil {
		c.log.Warn("lock release failed", Fields{"lock": h.Name(), "err": err})
		c.hooks.StoreError("unlock", err)
	}
}

func (c *cache) Cached(ctx context.Context) (bool, error) {
	if !c.enabled {
		return false, nil
	}
	ok, err := c.provider.Exists(ctx, c.key)
	if err != nil {
		c.hooks.StoreError("exists", err)
	}
	return ok, err
}

func (c *cache) Invalidate(ctx context.Context) error {
	if !c.enabled {
		return nil
	}
	newGen, bumpErr := c.gen.Bump(ctx, c.key)
	if bumpErr != nil {
		c.log.Error("gen bump error", Fields{"key": c.key, "err": bumpErr})
		c.hooks.StoreError("gen_bump", bumpErr)
	}
	delErr := c.provider.Del(ctx, c.key)
	if delErr != nil {
		c.log.Error("cache delete failed", Fields{"key": c.key, "err": delErr})
		c.hooks.StoreError("del", delErr)
	}
	if bumpErr != nil && delErr != nil {
		return &InvalidateError{Key: c.key, BumpErr: bumpErr, DelErr: delErr}
	}
	c.log.Debug("invalidated (bumped gen + cleared entry)", Fields{"key": c.key, "newGen": newGen})
	return nil
}
