package moviecache

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/unkn0wn-root/moviecache/aggregate"
	"github.com/unkn0wn-root/moviecache/codec"
	"github.com/unkn0wn-root/moviecache/fetcher"
	gen "github.com/unkn0wn-root/moviecache/genstore"
	"github.com/unkn0wn-root/moviecache/internal/wire"
	"github.com/unkn0wn-root/moviecache/lock"
	"github.com/unkn0wn-root/moviecache/lock/local"
)

/* ---------- test helpers ---------- */

type memEntry struct {
	b   []byte
	exp time.Time
}

type memProvider struct {
	mu     sync.Mutex
	m      map[string]memEntry
	sets   atomic.Int32
	getErr error
	setErr error
}

func newMem() *memProvider { return &memProvider{m: make(map[string]memEntry)} }

func (p *memProvider) Get(_ context.Context, k string) ([]byte, bool, error) {
	if p.getErr != nil {
		return nil, false, p.getErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.m[k]
	if !ok {
		return nil, false, nil
	}
	if !e.exp.IsZero() && !time.Now().Before(e.exp) {
		delete(p.m, k)
		return nil, false, nil
	}
	return append([]byte(nil), e.b...), true, nil
}

func (p *memProvider) Set(_ context.Context, k string, v []byte, ttl time.Duration) error {
	if p.setErr != nil {
		return p.setErr
	}
	p.sets.Add(1)
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	p.mu.Lock()
	p.m[k] = memEntry{b: append([]byte(nil), v...), exp: exp}
	p.mu.Unlock()
	return nil
}

func (p *memProvider) Exists(ctx context.Context, k string) (bool, error) {
	_, ok, err := p.Get(ctx, k)
	return ok, err
}

func (p *memProvider) Del(_ context.Context, k string) error {
	p.mu.Lock()
	delete(p.m, k)
	p.mu.Unlock()
	return nil
}

func (p *memProvider) Close(context.Context) error { return nil }

func (p *memProvider) raw(k string) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.m[k].b
}

func (p *memProvider) put(k string, b []byte) {
	p.mu.Lock()
	p.m[k] = memEntry{b: b}
	p.mu.Unlock()
}

type fakeFetcher struct {
	films     []aggregate.Film
	people    []aggregate.Person
	filmsErr  error
	peopleErr error
	delay     time.Duration
	onFilms   func()

	filmCalls   atomic.Int32
	peopleCalls atomic.Int32
}

func (f *fakeFetcher) FetchFilms(ctx context.Context) ([]aggregate.Film, error) {
	f.filmCalls.Add(1)
	if f.onFilms != nil {
		f.onFilms()
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.films, f.filmsErr
}

func (f *fakeFetcher) FetchPeople(context.Context) ([]aggregate.Person, error) {
	f.peopleCalls.Add(1)
	return f.people, f.peopleErr
}

func ghibli() *fakeFetcher {
	return &fakeFetcher{
		films: []aggregate.Film{
			{ID: "A", Title: "Castle in the Sky"},
			{ID: "B", Title: "Grave of the Fireflies"},
			{ID: "C", Title: "Film without people"},
		},
		people: []aggregate.Person{
			{Name: "Ashitaka", Films: []string{"https://ghibliapi.herokuapp.com/films/A", "https://ghibliapi.herokuapp.com/films/B"}},
			{Name: "Lusheeta", Films: []string{"https://ghibliapi.herokuapp.com/films/A"}},
		},
	}
}

var want = aggregate.Result{
	"Castle in the Sky":      {"Ashitaka", "Lusheeta"},
	"Grave of the Fireflies": {"Ashitaka"},
	"Film without people":    {},
}

type recHooks struct {
	NopHooks
	mu     sync.Mutex
	events map[string]int
}

func (h *recHooks) inc(k string) {
	h.mu.Lock()
	if h.events == nil {
		h.events = map[string]int{}
	}
	h.events[k]++
	h.mu.Unlock()
}

func (h *recHooks) count(k string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.events[k]
}

func (h *recHooks) CacheHit(string)                       { h.inc("hit") }
func (h *recHooks) CacheMiss(string)                      { h.inc("miss") }
func (h *recHooks) LockTimeout(string, time.Duration)     { h.inc("lock_timeout") }
func (h *recHooks) HerdShortCircuit(string)               { h.inc("herd") }
func (h *recHooks) Recomputed(string, int, time.Duration) { h.inc("recomputed") }
func (h *recHooks) UpstreamFailure(op string, _ error)    { h.inc("upstream_" + op) }
func (h *recHooks) SelfHeal(_, reason string)             { h.inc("heal_" + reason) }
func (h *recHooks) StoreError(op string, _ error)         { h.inc("store_" + op) }

type failingCodec struct{ codec.JSON[aggregate.Result] }

func (failingCodec) Encode(aggregate.Result) ([]byte, error) {
	return nil, errors.New("boom")
}

func newTestCache(t *testing.T, opts Options) *cache {
	t.Helper()
	if opts.Provider == nil {
		opts.Provider = newMem()
	}
	if opts.Locker == nil {
		opts.Locker = local.New()
	}
	cc, err := newCache(opts)
	if err != nil {
		t.Fatalf("newCache: %v", err)
	}
	t.Cleanup(func() { _ = cc.Close(context.Background()) })
	return cc
}

// lockFree fails the test if the recompute lock is still held.
func lockFree(t *testing.T, l lock.Locker, name string) {
	t.Helper()
	h, err := l.Acquire(context.Background(), name, 0)
	if err != nil {
		t.Fatalf("lock %q still held: %v", name, err)
	}
	_ = h.Release(context.Background())
}

/* ---------- tests ---------- */

func TestNewValidation(t *testing.T) {
	if _, err := New(Options{Locker: local.New()}); !errors.Is(err, ErrNoProvider) {
		t.Fatalf("expected ErrNoProvider, got %v", err)
	}
	if _, err := New(Options{Provider: newMem()}); !errors.Is(err, ErrNoLocker) {
		t.Fatalf("expected ErrNoLocker, got %v", err)
	}
	c, err := New(Options{Disabled: true})
	if err != nil {
		t.Fatalf("disabled cache needs no store: %v", err)
	}
	if c.Enabled() {
		t.Fatalf("expected disabled")
	}
}

func TestDefaults(t *testing.T) {
	c := newTestCache(t, Options{})
	if c.key != "movies_with_people" || c.lockName != "movies_with_people:lock" {
		t.Fatalf("key=%q lock=%q", c.key, c.lockName)
	}
	if c.ttl != 60*time.Second || c.lockTimeout != 3*time.Second || c.fetchTimeout != 10*time.Second {
		t.Fatalf("ttl=%v lockTimeout=%v fetchTimeout=%v", c.ttl, c.lockTimeout, c.fetchTimeout)
	}
}

func TestGetExampleAndIdempotence(t *testing.T) {
	ctx := context.Background()
	f := ghibli()
	mem := newMem()
	c := newTestCache(t, Options{Provider: mem})

	got, err := c.Get(ctx, f)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
	stored := append([]byte(nil), mem.raw(DefaultKey)...)

	again, err := c.Get(ctx, f)
	if err != nil {
		t.Fatalf("second Get: %v", err)
	}
	if !reflect.DeepEqual(again, got) {
		t.Fatalf("second Get differs: %v vs %v", again, got)
	}
	if n := f.filmCalls.Load(); n != 1 {
		t.Fatalf("films fetched %d times, want 1", n)
	}
	if n := f.peopleCalls.Load(); n != 1 {
		t.Fatalf("people fetched %d times, want 1", n)
	}
	if n := mem.sets.Load(); n != 1 {
		t.Fatalf("store written %d times, want 1", n)
	}
	if !reflect.DeepEqual(mem.raw(DefaultKey), stored) {
		t.Fatalf("warm read rewrote the entry")
	}
}

func TestMoviesWithPeopleUsesConfiguredFetcher(t *testing.T) {
	f := ghibli()
	c := newTestCache(t, Options{Fetcher: f})
	got, err := c.MoviesWithPeople(context.Background())
	if err != nil || !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v err=%v", got, err)
	}

	bare := newTestCache(t, Options{})
	if _, err := bare.MoviesWithPeople(context.Background()); !errors.Is(err, ErrNoFetcher) {
		t.Fatalf("expected ErrNoFetcher, got %v", err)
	}
}

func TestSingleFlightAcrossManagers(t *testing.T) {
	ctx := context.Background()
	f := ghibli()
	f.delay = 50 * time.Millisecond
	mem := newMem()
	locker := local.New()
	hooks := &recHooks{}

	const n = 16
	managers := make([]*cache, n)
	for i := range managers {
		managers[i] = newTestCache(t, Options{Provider: mem, Locker: locker, Hooks: hooks})
	}

	start := make(chan struct{})
	results := make([]aggregate.Result, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			res, err := managers[i].Get(ctx, f)
			if err != nil {
				t.Errorf("Get: %v", err)
			}
			results[i] = res
		}(i)
	}
	close(start)
	wg.Wait()

	if got := f.filmCalls.Load(); got != 1 {
		t.Fatalf("films fetched %d times across %d managers, want 1", got, n)
	}
	if got := f.peopleCalls.Load(); got != 1 {
		t.Fatalf("people fetched %d times, want 1", got)
	}
	for i, r := range results {
		if !reflect.DeepEqual(r, want) {
			t.Fatalf("manager %d got %v", i, r)
		}
	}
	if hooks.count("recomputed") != 1 {
		t.Fatalf("recomputed=%d", hooks.count("recomputed"))
	}
	lockFree(t, locker, DefaultKey+":lock")
}

func TestSingleFlightWithinProcessSharesCopies(t *testing.T) {
	ctx := context.Background()
	f := ghibli()
	f.delay = 30 * time.Millisecond
	c := newTestCache(t, Options{})

	const n = 32
	results := make(chan aggregate.Result, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := c.Get(ctx, f)
			if err != nil {
				t.Errorf("Get: %v", err)
				return
			}
			// callers own what they get back
			res["Castle in the Sky"] = append(res["Castle in the Sky"], "mutated")
			results <- res
		}()
	}
	wg.Wait()
	close(results)

	if got := f.filmCalls.Load(); got != 1 {
		t.Fatalf("films fetched %d times, want 1", got)
	}
	for r := range results {
		if len(r["Castle in the Sky"]) != 3 {
			t.Fatalf("result shared between callers: %v", r["Castle in the Sky"])
		}
	}
}

func TestLockTimeoutReturnsEmptyWithoutFetching(t *testing.T) {
	ctx := context.Background()
	f := ghibli()
	locker := local.New()
	hooks := &recHooks{}
	c := newTestCache(t, Options{Locker: locker, Hooks: hooks, LockTimeout: 30 * time.Millisecond})

	held, err := locker.Acquire(ctx, c.lockName, 0)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer held.Release(ctx)

	got, err := c.Get(ctx, f)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil mapping, got %#v", got)
	}
	if f.filmCalls.Load() != 0 || f.peopleCalls.Load() != 0 {
		t.Fatalf("fetcher called on lock timeout")
	}
	if hooks.count("lock_timeout") != 1 {
		t.Fatalf("lock_timeout=%d", hooks.count("lock_timeout"))
	}
}

func TestFilmsFailureShortCircuits(t *testing.T) {
	ctx := context.Background()
	f := ghibli()
	f.filmsErr = &fetcher.UpstreamError{Op: "films", StatusCode: 500}
	hooks := &recHooks{}
	locker := local.New()
	c := newTestCache(t, Options{Locker: locker, Hooks: hooks})

	got, err := c.Get(ctx, f)
	if err != nil {
		t.Fatalf("upstream errors must not surface: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("expected {}, got %#v", got)
	}
	if f.peopleCalls.Load() != 0 {
		t.Fatalf("people fetched after films failed")
	}
	if ok, _ := c.Cached(ctx); ok {
		t.Fatalf("failed result was cached")
	}
	if hooks.count("upstream_films") != 1 {
		t.Fatalf("upstream_films=%d", hooks.count("upstream_films"))
	}
	lockFree(t, locker, c.lockName)

	// not cached, so the next call retries
	_, _ = c.Get(ctx, f)
	if f.filmCalls.Load() != 2 {
		t.Fatalf("films fetched %d times, want 2", f.filmCalls.Load())
	}
}

func TestEmptyFilmsSkipsPeople(t *testing.T) {
	ctx := context.Background()
	f := &fakeFetcher{people: ghibli().people}
	c := newTestCache(t, Options{})

	got, err := c.Get(ctx, f)
	if err != nil || got == nil || len(got) != 0 {
		t.Fatalf("got %#v err=%v", got, err)
	}
	if f.peopleCalls.Load() != 0 {
		t.Fatalf("people fetched for empty film list")
	}
	if ok, _ := c.Cached(ctx); !ok {
		t.Fatalf("a successful empty result should be cached")
	}
}

func TestPeopleFailureKeepsTitles(t *testing.T) {
	ctx := context.Background()
	f := ghibli()
	f.peopleErr = errors.New("people down")
	c := newTestCache(t, Options{})

	got, err := c.Get(ctx, f)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	wantEmpty := aggregate.Result{
		"Castle in the Sky":      {},
		"Grave of the Fireflies": {},
		"Film without people":    {},
	}
	if !reflect.DeepEqual(got, wantEmpty) {
		t.Fatalf("got %v", got)
	}
	if ok, _ := c.Cached(ctx); ok {
		t.Fatalf("partial result was cached")
	}
}

func TestSerializationErrorSurfacesAndLeavesEntry(t *testing.T) {
	ctx := context.Background()
	mem := newMem()
	locker := local.New()

	// an expired entry forces a recompute while leaving bytes to compare
	old := wire.Encode(0, time.Now().Add(-time.Second), []byte(`{"old":[]}`))
	mem.put(DefaultKey, old)

	c := newTestCache(t, Options{Provider: mem, Locker: locker, Codec: failingCodec{}})
	_, err := c.Get(ctx, ghibli())

	var se *SerializationError
	if !errors.As(err, &se) {
		t.Fatalf("expected *SerializationError, got %v", err)
	}
	if se.Key != DefaultKey {
		t.Fatalf("key=%q", se.Key)
	}
	if !reflect.DeepEqual(mem.raw(DefaultKey), old) {
		t.Fatalf("entry changed after serialization failure")
	}
	if mem.sets.Load() != 0 {
		t.Fatalf("store written despite encode failure")
	}
	lockFree(t, locker, c.lockName)
}

func TestTTLExpiryForcesRecompute(t *testing.T) {
	ctx := context.Background()
	f := ghibli()
	c := newTestCache(t, Options{TTL: 50 * time.Millisecond})

	if _, err := c.Get(ctx, f); err != nil {
		t.Fatalf("Get: %v", err)
	}
	time.Sleep(80 * time.Millisecond)
	if ok, _ := c.Cached(ctx); ok {
		t.Fatalf("entry outlived its TTL")
	}
	if _, err := c.Get(ctx, f); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if n := f.filmCalls.Load(); n != 2 {
		t.Fatalf("films fetched %d times, want 2", n)
	}
}

func TestExpiredFrameIsMissEvenIfStoreKeepsIt(t *testing.T) {
	ctx := context.Background()
	mem := newMem()
	f := ghibli()
	mem.put(DefaultKey, wire.Encode(0, time.Now().Add(-time.Millisecond), []byte(`{"stale":[]}`)))

	c := newTestCache(t, Options{Provider: mem})
	got, err := c.Get(ctx, f)
	if err != nil || !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v err=%v", got, err)
	}
	if f.filmCalls.Load() != 1 {
		t.Fatalf("expired entry served")
	}
}

func TestInvalidate(t *testing.T) {
	ctx := context.Background()
	f := ghibli()
	gs := gen.NewLocal()
	c := newTestCache(t, Options{GenStore: gs})

	if _, err := c.Get(ctx, f); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if err := c.Invalidate(ctx); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if ok, _ := c.Cached(ctx); ok {
		t.Fatalf("entry survived Invalidate")
	}
	if g, _ := gs.Snapshot(ctx, DefaultKey); g != 1 {
		t.Fatalf("gen=%d, want 1", g)
	}
	got, _ := c.Get(ctx, f)
	if !reflect.DeepEqual(got, want) || f.filmCalls.Load() != 2 {
		t.Fatalf("expected recompute after Invalidate, calls=%d", f.filmCalls.Load())
	}
	if ok, _ := c.Cached(ctx); !ok {
		t.Fatalf("recompute after Invalidate should be stored under the new gen")
	}
}

func TestInvalidateDuringRecomputeDropsWrite(t *testing.T) {
	ctx := context.Background()
	f := ghibli()
	c := newTestCache(t, Options{GenStore: gen.NewLocal()})

	var once sync.Once
	f.onFilms = func() {
		once.Do(func() {
			if err := c.Invalidate(ctx); err != nil {
				t.Errorf("Invalidate: %v", err)
			}
		})
	}

	got, err := c.Get(ctx, f)
	if err != nil || !reflect.DeepEqual(got, want) {
		t.Fatalf("caller still gets its result: %v err=%v", got, err)
	}
	if ok, _ := c.Cached(ctx); ok {
		t.Fatalf("result computed before Invalidate was stored")
	}
}

func TestSelfHealCorruptEntry(t *testing.T) {
	ctx := context.Background()
	mem := newMem()
	mem.put(DefaultKey, []byte("not a frame"))
	hooks := &recHooks{}
	c := newTestCache(t, Options{Provider: mem, Hooks: hooks})

	got, err := c.Get(ctx, ghibli())
	if err != nil || !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v err=%v", got, err)
	}
	if hooks.count("heal_corrupt") == 0 {
		t.Fatalf("expected corrupt self-heal")
	}
	if _, err := wire.Decode(mem.raw(DefaultKey)); err != nil {
		t.Fatalf("entry not replaced with a valid frame: %v", err)
	}
}

func TestSelfHealUndecodablePayload(t *testing.T) {
	ctx := context.Background()
	mem := newMem()
	mem.put(DefaultKey, wire.Encode(0, time.Now().Add(time.Minute), []byte("{nope")))
	hooks := &recHooks{}
	c := newTestCache(t, Options{Provider: mem, Hooks: hooks})

	if _, err := c.Get(ctx, ghibli()); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if hooks.count("heal_value_decode") == 0 {
		t.Fatalf("expected value_decode self-heal")
	}
}

func TestStaleGenerationSelfHeals(t *testing.T) {
	ctx := context.Background()
	f := ghibli()
	gs := gen.NewLocal()
	hooks := &recHooks{}
	c := newTestCache(t, Options{GenStore: gs, Hooks: hooks})

	if _, err := c.Get(ctx, f); err != nil {
		t.Fatalf("Get: %v", err)
	}
	// another replica invalidated; our stored frame carries gen 0
	if _, err := gs.Bump(ctx, DefaultKey); err != nil {
		t.Fatalf("Bump: %v", err)
	}
	if _, err := c.Get(ctx, f); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if hooks.count("heal_gen_mismatch") == 0 {
		t.Fatalf("expected gen_mismatch self-heal")
	}
	if f.filmCalls.Load() != 2 {
		t.Fatalf("stale entry served")
	}
}

func TestHerdShortCircuitOnReRead(t *testing.T) {
	ctx := context.Background()
	mem := newMem()
	locker := local.New()
	hooks := &recHooks{}
	filler := newTestCache(t, Options{Provider: mem, Locker: locker})
	waiter := newTestCache(t, Options{Provider: mem, Locker: locker, Hooks: hooks})

	held, err := locker.Acquire(ctx, DefaultKey+":lock", 0)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	done := make(chan aggregate.Result)
	f := ghibli()
	go func() {
		res, _ := waiter.Get(ctx, f)
		done <- res
	}()

	// let the waiter miss and block on the lock, then fill the entry behind it
	time.Sleep(30 * time.Millisecond)
	if _, err := filler.recompute(ctx, ghibli()); err != nil {
		t.Fatalf("recompute: %v", err)
	}
	_ = held.Release(ctx)

	res := <-done
	if !reflect.DeepEqual(res, want) {
		t.Fatalf("got %v", res)
	}
	if f.filmCalls.Load() != 0 {
		t.Fatalf("waiter recomputed instead of re-reading")
	}
	if hooks.count("herd") != 1 {
		t.Fatalf("herd=%d", hooks.count("herd"))
	}
}

func TestRefresh(t *testing.T) {
	ctx := context.Background()
	f := ghibli()
	locker := local.New()
	c := newTestCache(t, Options{Fetcher: f, Locker: locker, LockTimeout: 20 * time.Millisecond})

	if _, err := c.MoviesWithPeople(ctx); err != nil {
		t.Fatalf("Get: %v", err)
	}
	got, err := c.Refresh(ctx)
	if err != nil || !reflect.DeepEqual(got, want) {
		t.Fatalf("Refresh: %v err=%v", got, err)
	}
	if f.filmCalls.Load() != 2 {
		t.Fatalf("Refresh did not recompute over a warm entry")
	}

	held, _ := locker.Acquire(ctx, c.lockName, 0)
	defer held.Release(ctx)
	if _, err := c.Refresh(ctx); !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}
}

func TestStoreReadErrorIsMiss(t *testing.T) {
	ctx := context.Background()
	mem := newMem()
	mem.getErr = errors.New("store down")
	hooks := &recHooks{}
	c := newTestCache(t, Options{Provider: mem, Hooks: hooks})

	got, err := c.Get(ctx, ghibli())
	if err != nil || !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v err=%v", got, err)
	}
	if hooks.count("store_get") == 0 {
		t.Fatalf("read error not reported")
	}
}

func TestStoreWriteErrorStillReturnsResult(t *testing.T) {
	ctx := context.Background()
	mem := newMem()
	mem.setErr = errors.New("store full")
	hooks := &recHooks{}
	locker := local.New()
	c := newTestCache(t, Options{Provider: mem, Locker: locker, Hooks: hooks})

	got, err := c.Get(ctx, ghibli())
	if err != nil || !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v err=%v", got, err)
	}
	if hooks.count("store_set") != 1 {
		t.Fatalf("store_set=%d", hooks.count("store_set"))
	}
	lockFree(t, locker, c.lockName)
}

func TestDisabledPassesThrough(t *testing.T) {
	ctx := context.Background()
	f := ghibli()
	c := newTestCache(t, Options{Disabled: true})

	for i := 0; i < 2; i++ {
		got, err := c.Get(ctx, f)
		if err != nil || !reflect.DeepEqual(got, want) {
			t.Fatalf("got %v err=%v", got, err)
		}
	}
	if f.filmCalls.Load() != 2 {
		t.Fatalf("disabled cache should fetch every time")
	}
	if ok, _ := c.Cached(ctx); ok {
		t.Fatalf("disabled cache reports an entry")
	}
}

func TestCancelledCallerReleasesLock(t *testing.T) {
	f := ghibli()
	f.delay = 100 * time.Millisecond
	locker := local.New()
	c := newTestCache(t, Options{Locker: locker})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := c.Get(ctx, f); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}

	// the fill carries on without the caller and frees the lock when done
	h, err := locker.Acquire(context.Background(), c.lockName, 2*time.Second)
	if err != nil {
		t.Fatalf("lock leaked after cancellation: %v", err)
	}
	_ = h.Release(context.Background())
	if ok, _ := c.Cached(context.Background()); !ok {
		t.Fatalf("fill abandoned by its caller did not store the result")
	}
}

func TestCancelledLeaderDoesNotFailFollower(t *testing.T) {
	f := ghibli()
	f.delay = 200 * time.Millisecond
	c := newTestCache(t, Options{})

	leaderCtx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	leaderErr := make(chan error, 1)
	go func() {
		_, err := c.Get(leaderCtx, f)
		leaderErr <- err
	}()

	time.Sleep(5 * time.Millisecond)
	got, err := c.Get(context.Background(), f)
	if err != nil {
		t.Fatalf("follower Get: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("follower got %v after the leader gave up", got)
	}
	if err := <-leaderErr; !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("leader: expected DeadlineExceeded, got %v", err)
	}
	if n := f.filmCalls.Load(); n != 1 {
		t.Fatalf("films fetched %d times, want 1", n)
	}
}

func TestDefaultGenStoreIsSafeForSharedProvider(t *testing.T) {
	ctx := context.Background()
	f := ghibli()
	mem := newMem()
	locker := local.New()
	hooks := &recHooks{}
	a := newTestCache(t, Options{Provider: mem, Locker: locker, Hooks: hooks})
	b := newTestCache(t, Options{Provider: mem, Locker: locker, Hooks: hooks})

	if _, err := a.Get(ctx, f); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if err := b.Invalidate(ctx); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	for i := 0; i < 12; i++ {
		m := a
		if i%2 == 1 {
			m = b
		}
		got, err := m.Get(ctx, f)
		if err != nil || !reflect.DeepEqual(got, want) {
			t.Fatalf("Get %d: %v err=%v", i, got, err)
		}
	}
	// one fill before Invalidate, one after
	if n := f.filmCalls.Load(); n != 2 {
		t.Fatalf("films fetched %d times, want 2", n)
	}
	if n := hooks.count("heal_gen_mismatch"); n != 0 {
		t.Fatalf("managers dropped each other's entry %d times", n)
	}
}

func TestConcurrentGetsShareOneFetcher(t *testing.T) {
	ctx := context.Background()
	first := ghibli()
	first.delay = 100 * time.Millisecond
	second := ghibli()
	c := newTestCache(t, Options{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := c.Get(ctx, first); err != nil {
			t.Errorf("Get: %v", err)
		}
	}()
	time.Sleep(10 * time.Millisecond)

	got, err := c.Get(ctx, second)
	<-done
	if err != nil || !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v err=%v", got, err)
	}
	if second.filmCalls.Load() != 0 || first.filmCalls.Load() != 1 {
		t.Fatalf("first=%d second=%d, want the flight's fetcher only",
			first.filmCalls.Load(), second.filmCalls.Load())
	}
}

func TestInvalidateErrorUnwrapsBoth(t *testing.T) {
	bump := errors.New("bump")
	del := errors.New("del")
	err := error(&InvalidateError{Key: "k", BumpErr: bump, DelErr: del})
	if !errors.Is(err, bump) || !errors.Is(err, del) {
		t.Fatalf("InvalidateError does not unwrap both causes")
	}
}
