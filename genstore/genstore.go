// Package genstore keeps per-key generation counters.
//
// A generation is bumped on every invalidation. A recompute snapshots the
// generation before it fetches and only writes its result back if the
// generation is still the same, so a value computed from pre-invalidation
// data never lands after the invalidation.
package genstore

import "context"

type GenStore interface {
	// Snapshot returns the current generation; missing => 0.
	Snapshot(ctx context.Context, key string) (uint64, error)
	// Bump atomically increments and returns the new generation.
	Bump(ctx context.Context, key string) (uint64, error)
	Close(context.Context) error
}
