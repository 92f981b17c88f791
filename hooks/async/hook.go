// Package asynchook moves hook delivery off the cache's hot path.
//
// usage:
//
//	raw := prom.New(prometheus.DefaultRegisterer, prom.Options{Namespace: "moviecache"})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	cache, _ := moviecache.New(moviecache.Options{
//	    Provider: provider,
//	    Locker:   locker,
//	    Hooks:    hooks, // or `raw` if you don't want async
//	})
package asynchook

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/moviecache"
)

type Hooks struct {
	inner   moviecache.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

var _ moviecache.Hooks = (*Hooks)(nil)

func New(inner moviecache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains queued events and stops the workers. Events sent after
// Close are dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.q)
		h.mu.Unlock()
		h.wg.Wait()
	})
}

// Dropped counts events lost to a full queue or a closed hook.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case h.q <- f:
	default: // drop
		h.dropped.Add(1)
	}
}

func (h *Hooks) CacheHit(k string)         { h.try(func() { h.inner.CacheHit(k) }) }
func (h *Hooks) CacheMiss(k string)        { h.try(func() { h.inner.CacheMiss(k) }) }
func (h *Hooks) HerdShortCircuit(k string) { h.try(func() { h.inner.HerdShortCircuit(k) }) }
func (h *Hooks) SelfHeal(k, r string)      { h.try(func() { h.inner.SelfHeal(k, r) }) }
func (h *Hooks) StoreError(op string, err error) {
	h.try(func() { h.inner.StoreError(op, err) })
}
func (h *Hooks) UpstreamFailure(op string, err error) {
	h.try(func() { h.inner.UpstreamFailure(op, err) })
}
func (h *Hooks) LockTimeout(name string, waited time.Duration) {
	h.try(func() { h.inner.LockTimeout(name, waited) })
}
func (h *Hooks) Recomputed(k string, titles int, took time.Duration) {
	h.try(func() { h.inner.Recomputed(k, titles, took) })
}
