// Package fetcher defines the upstream data capability the cache manager
// recomputes from. Implementations must be safe for concurrent use.
package fetcher

import (
	"context"
	"fmt"

	"github.com/unkn0wn-root/moviecache/aggregate"
)

// Fetcher retrieves the two raw datasets.
// A failed call returns an *UpstreamError; partial results are never returned.
type Fetcher interface {
	FetchFilms(ctx context.Context) ([]aggregate.Film, error)
	FetchPeople(ctx context.Context) ([]aggregate.Person, error)
}

// Funcs adapts two plain functions to a Fetcher.
type Funcs struct {
	Films  func(ctx context.Context) ([]aggregate.Film, error)
	People func(ctx context.Context) ([]aggregate.Person, error)
}

var _ Fetcher = Funcs{}

func (f Funcs) FetchFilms(ctx context.Context) ([]aggregate.Film, error) {
	if f.Films == nil {
		return nil, nil
	}
	return f.Films(ctx)
}

func (f Funcs) FetchPeople(ctx context.Context) ([]aggregate.Person, error) {
	if f.People == nil {
		return nil, nil
	}
	return f.People(ctx)
}

// UpstreamError reports a remote call that did not succeed: transport failure,
// non-success status or a payload that could not be decoded.
type UpstreamError struct {
	Op         string // "films" or "people"
	URL        string
	StatusCode int // 0 when no response was read
	Err        error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.Err != nil && e.StatusCode != 0:
		return fmt.Sprintf("fetch %s (%s): status %d: %v", e.Op, e.URL, e.StatusCode, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("fetch %s (%s): %v", e.Op, e.URL, e.Err)
	default:
		return fmt.Sprintf("fetch %s (%s): unexpected status %d", e.Op, e.URL, e.StatusCode)
	}
}

func (e *UpstreamError) Unwrap() error { return e.Err }
