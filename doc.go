// Package moviecache serves a film title -> character names mapping built
// from two upstream datasets, behind a read-through cache that recomputes at
// most once per cold period across every process sharing the store.
//
// Components:
//   - Provider: byte store with TTL (Redis hash field, Ristretto, BigCache).
//   - Locker: named lock serializing recomputation (Redis SET NX, or local).
//   - Fetcher: upstream films/people source (fetcher/ghibli over HTTP).
//   - Codec: serializes the result; JSON by default.
//   - GenStore: generation counter for the entry. Nop (no checks) by default;
//     Local for in-process stores, Redis for multi-replica deployments.
//
// Read path:
//
//	read entry             -> hit: return, no lock
//	acquire lock (timeout) -> timeout: return {}, no recompute
//	re-read entry          -> hit: release, return
//	snapshot gen, fetch films, fetch people, aggregate
//	write iff fetches succeeded and gen unchanged
//	release lock
//
// Within one process concurrent misses are coalesced before they reach the
// lock, so only one goroutine per process contends for it.
package moviecache
