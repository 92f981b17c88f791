// Package provider defines the storage abstraction the cache manager keeps its
// entry in.
//
// Implementations MUST be byte-for-byte transparent: Get returns exactly the
// bytes previously passed to Set for a key. Set MUST replace the whole entry
// atomically; a concurrent Get sees either the old or the new value, never a
// mix of both.
package provider

import (
	"context"
	"time"
)

// Provider is a minimal byte store with TTLs, safe for concurrent use.
type Provider interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	// If an IO/remote error happens, return (nil, false, err).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set atomically replaces the entry and applies ttl to all of it.
	// ttl <= 0 means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Exists reports whether key currently holds an entry.
	Exists(ctx context.Context, key string) (bool, error)

	// Del removes a key (best-effort, missing keys are not an error).
	Del(ctx context.Context, key string) error

	// Close releases resources.
	Close(ctx context.Context) error
}
