// Package local implements lock.Locker for a single process.
// Use it with an in-process provider; it gives no exclusion across processes.
package local

import (
	"context"
	"sync"
	"time"

	"github.com/unkn0wn-root/moviecache/lock"
)

type Locker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

var _ lock.Locker = (*Locker)(nil)

func New() *Locker {
	return &Locker{slots: make(map[string]chan struct{})}
}

func (l *Locker) slot(name string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[name]
	if !ok {
		s = make(chan struct{}, 1)
		l.slots[name] = s
	}
	return s
}

func (l *Locker) Acquire(ctx context.Context, name string, timeout time.Duration) (lock.Handle, error) {
	s := l.slot(name)

	select {
	case s <- struct{}{}:
		return &handle{name: name, slot: s}, nil
	default:
	}
	if timeout <= 0 {
		return nil, lock.ErrTimeout
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case s <- struct{}{}:
		return &handle{name: name, slot: s}, nil
	case <-t.C:
		return nil, lock.ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type handle struct {
	name string
	slot chan struct{}
	once sync.Once
}

func (h *handle) Name() string { return h.name }

func (h *handle) Release(context.Context) error {
	h.once.Do(func() { <-h.slot })
	return nil
}
