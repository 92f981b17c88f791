package moviecache

import "time"

// Hooks are callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking; the cache calls them on
// hot paths. Wrap slow sinks in hooks/async.
type Hooks interface {
	CacheHit(key string)
	CacheMiss(key string)

	// The recompute lock was not obtained within the timeout; the caller
	// got an empty result.
	LockTimeout(lockName string, waited time.Duration)

	// The entry was found on the re-read under the lock; another holder
	// filled it while this caller waited.
	HerdShortCircuit(key string)

	// A recompute with complete upstream data finished. The write may still
	// have been skipped by a concurrent Invalidate.
	Recomputed(key string, titles int, took time.Duration)

	// op ∈ {"films", "people"}
	UpstreamFailure(op string, err error)

	// The cache deleted an entry on read.
	// reason ∈ {"corrupt", "gen_mismatch", "value_decode"}
	SelfHeal(key, reason string)

	// op ∈ {"get", "set", "del", "exists", "lock", "unlock", "gen_snapshot", "gen_bump"}
	StoreError(op string, err error)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) CacheHit(string)                       {}
func (NopHooks) CacheMiss(string)                      {}
func (NopHooks) LockTimeout(string, time.Duration)     {}
func (NopHooks) HerdShortCircuit(string)               {}
func (NopHooks) Recomputed(string, int, time.Duration) {}
func (NopHooks) UpstreamFailure(string, error)         {}
func (NopHooks) SelfHeal(string, string)               {}
func (NopHooks) StoreError(string, error)              {}

// MultiHooks fans every event out to each element in order.
type MultiHooks []Hooks

func (m MultiHooks) CacheHit(key string) {
	for _, h := range m {
		h.CacheHit(key)
	}
}

func (m MultiHooks) CacheMiss(key string) {
	for _, h := range m {
		h.CacheMiss(key)
	}
}

func (m MultiHooks) LockTimeout(name string, waited time.Duration) {
	for _, h := range m {
		h.LockTimeout(name, waited)
	}
}

func (m MultiHooks) HerdShortCircuit(key string) {
	for _, h := range m {
		h.HerdShortCircuit(key)
	}
}

func (m MultiHooks) Recomputed(key string, titles int, took time.Duration) {
	for _, h := range m {
		h.Recomputed(key, titles, took)
	}
}

func (m MultiHooks) UpstreamFailure(op string, err error) {
	for _, h := range m {
		h.UpstreamFailure(op, err)
	}
}

func (m MultiHooks) SelfHeal(key, reason string) {
	for _, h := range m {
		h.SelfHeal(key, reason)
	}
}

func (m MultiHooks) StoreError(op string, err error) {
	for _, h := range m {
		h.StoreError(op, err)
	}
}
