package moviecache

import "time"

const (
	DefaultKey          = "movies_with_people"
	DefaultTTL          = 60 * time.Second
	DefaultLockTimeout  = 3 * time.Second
	DefaultFetchTimeout = 10 * time.Second
)

// coalesce returns def when v is the zero value of T - otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
