// Package loghooks reports cache events through a moviecache.Logger.
package loghooks

import (
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/moviecache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	SelfHealEvery   uint64
	StoreErrorEvery uint64
	// LogLookups logs every hit and miss at debug level.
	LogLookups bool
}

type Hooks struct {
	l    moviecache.Logger
	opts Options

	selfHealCtr   atomic.Uint64
	storeErrorCtr atomic.Uint64
}

var _ moviecache.Hooks = (*Hooks)(nil)

func New(l moviecache.Logger, opts Options) *Hooks {
	if l == nil {
		l = moviecache.NopLogger{}
	}
	return &Hooks{l: l, opts: opts}
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 1
}

func (h *Hooks) CacheHit(key string) {
	if h.opts.LogLookups {
		h.l.Debug("moviecache.hit", moviecache.Fields{"key": key})
	}
}

func (h *Hooks) CacheMiss(key string) {
	if h.opts.LogLookups {
		h.l.Debug("moviecache.miss", moviecache.Fields{"key": key})
	}
}

func (h *Hooks) LockTimeout(name string, waited time.Duration) {
	h.l.Warn("moviecache.lock_timeout", moviecache.Fields{"lock": name, "waited": waited})
}

func (h *Hooks) HerdShortCircuit(key string) {
	h.l.Debug("moviecache.herd_short_circuit", moviecache.Fields{"key": key})
}

func (h *Hooks) Recomputed(key string, titles int, took time.Duration) {
	h.l.Info("moviecache.recomputed", moviecache.Fields{"key": key, "titles": titles, "took": took})
}

func (h *Hooks) UpstreamFailure(op string, err error) {
	h.l.Warn("moviecache.upstream_failure", moviecache.Fields{"op": op, "err": err})
}

func (h *Hooks) SelfHeal(key, reason string) {
	if !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Debug("moviecache.self_heal", moviecache.Fields{"key": key, "reason": reason})
}

func (h *Hooks) StoreError(op string, err error) {
	if !sample(h.opts.StoreErrorEvery, &h.storeErrorCtr) {
		return
	}
	h.l.Error("moviecache.store_error", moviecache.Fields{"op": op, "err": err})
}
