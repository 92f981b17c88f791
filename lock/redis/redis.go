// Package redis implements lock.Locker on a shared Redis.
//
// A grant is a key set with SET NX PX holding a random token. Only the holder
// of the token can delete it; a holder that never releases loses the lock
// when the key's TTL runs out.
package redis

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/unkn0wn-root/moviecache/lock"
)

const (
	DefaultTTL           = 30 * time.Second
	DefaultRetryInterval = 50 * time.Millisecond

	releaseTimeout = 2 * time.Second
)

var ErrNilClient = errors.New("lock/redis: nil client")

// compare-and-delete; returns 1 when the caller's token was removed.
var releaseScript = goredis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

type Options struct {
	// Prefix is prepended to every lock name. Default "lock:".
	Prefix string
	// TTL bounds how long a grant survives a crashed holder. It should be no
	// shorter than the worst-case recomputation.
	TTL time.Duration
	// RetryInterval paces SET NX attempts while waiting.
	RetryInterval time.Duration
}

type Locker struct {
	rdb   goredis.UniversalClient
	opts  Options
	token func() string
}

var _ lock.Locker = (*Locker)(nil)

func New(client goredis.UniversalClient, opts Options) (*Locker, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	if opts.Prefix == "" {
		opts.Prefix = "lock:"
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = DefaultRetryInterval
	}
	return &Locker{rdb: client, opts: opts, token: uuid.NewString}, nil
}

func (l *Locker) Acquire(ctx context.Context, name string, timeout time.Duration) (lock.Handle, error) {
	key := l.opts.Prefix + name
	tok := l.token()
	deadline := time.Now().Add(timeout)
	limiter := rate.NewLimiter(rate.Every(l.opts.RetryInterval), 1)

	for last := false; ; {
		ok, err := l.rdb.SetNX(ctx, key, tok, l.opts.TTL).Result()
		if err != nil {
			// the SET may have been applied before the reply was lost
			_, _ = l.release(ctx, key, tok)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, err
		}
		if ok {
			return &handle{l: l, name: name, key: key, token: tok}, nil
		}
		if last || timeout <= 0 || !time.Now().Before(deadline) {
			return nil, lock.ErrTimeout
		}

		wctx, cancel := context.WithDeadline(ctx, deadline)
		err = limiter.Wait(wctx)
		cancel()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			// the next slot falls past the deadline; take one final attempt
			last = true
		}
	}
}

// release runs the compare-and-delete on a context detached from the
// caller's so a cancelled request still frees its grant.
func (l *Locker) release(ctx context.Context, key, tok string) (int64, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	return releaseScript.Run(ctx, l.rdb, []string{key}, tok).Int64()
}

type handle struct {
	l     *Locker
	name  string
	key   string
	token string
	done  atomic.Bool
}

func (h *handle) Name() string { return h.name }

func (h *handle) Release(ctx context.Context) error {
	if !h.done.CompareAndSwap(false, true) {
		return nil
	}
	n, err := h.l.release(ctx, h.key, h.token)
	if err != nil {
		return err
	}
	if n == 0 {
		return lock.ErrNotHeld
	}
	return nil
}
