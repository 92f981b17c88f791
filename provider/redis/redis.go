package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/moviecache/internal/wire"
	pr "github.com/unkn0wn-root/moviecache/provider"
)

const (
	DefaultField = "payload"

	genField = "gen"
	expField = "expires_at"
)

var ErrNilClient = errors.New("redis provider: nil client")

// Redis stores each entry as one hash so the TTL applies to the whole entry.
// A framed value is split on Set: the codec output goes to the payload field
// as is, its generation and expiry to sibling fields. Get frames them again.
// Values that are not frames are stored in the payload field unchanged.
type Redis struct {
	rdb         goredis.UniversalClient
	field       string
	closeClient bool
}

var _ pr.Provider = (*Redis)(nil)

type Config struct {
	Client      goredis.UniversalClient
	Field       string // hash field holding the payload; "" => "payload"
	CloseClient bool   // set true only if this provider exclusively owns the client
}

func New(cfg Config) (*Redis, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	if cfg.Field == "" {
		cfg.Field = DefaultField
	}
	return &Redis{rdb: cfg.Client, field: cfg.Field, closeClient: cfg.CloseClient}, nil
}

func (p *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	vals, err := p.rdb.HMGet(ctx, key, p.field, genField, expField).Result()
	if err != nil {
		return nil, false, err // transport/server error
	}
	payload, ok := vals[0].(string)
	if !ok {
		return nil, false, nil // miss
	}
	gs, gok := vals[1].(string)
	es, eok := vals[2].(string)
	if !gok || !eok {
		return []byte(payload), true, nil
	}
	g, gerr := strconv.ParseUint(gs, 10, 64)
	exp, eerr := strconv.ParseInt(es, 10, 64)
	if gerr != nil || eerr != nil {
		// unreadable metadata; hand back the bare payload so the caller
		// sees an unframed value and drops it
		return []byte(payload), true, nil
	}
	var expiresAt time.Time
	if exp != 0 {
		expiresAt = time.Unix(0, exp)
	}
	return wire.Encode(g, expiresAt, []byte(payload)), true, nil
}

// Set replaces the hash inside MULTI/EXEC: DEL drops any previous fields,
// HSET writes the payload (and frame metadata) and PEXPIRE covers the new hash.
func (p *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	fields := []any{p.field, value}
	if e, err := wire.Decode(value); err == nil {
		var exp int64
		if !e.ExpiresAt.IsZero() {
			exp = e.ExpiresAt.UnixNano()
		}
		fields = []any{
			p.field, e.Payload,
			genField, strconv.FormatUint(e.Gen, 10),
			expField, strconv.FormatInt(exp, 10),
		}
	}
	_, err := p.rdb.TxPipelined(ctx, func(tx goredis.Pipeliner) error {
		tx.Del(ctx, key)
		tx.HSet(ctx, key, fields...)
		if ttl > 0 {
			tx.PExpire(ctx, key, ttl)
		}
		return nil
	})
	return err
}

func (p *Redis) Exists(ctx context.Context, key string) (bool, error) {
	ok, err := p.rdb.HExists(ctx, key, p.field).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (p *Redis) Del(ctx context.Context, key string) error {
	return p.rdb.Del(ctx, key).Err()
}

// Close releases the underlying redis client only when this provider owns it.
// Safe to call multiple times; repeated calls become no-ops.
func (p *Redis) Close(context.Context) error {
	if p.closeClient {
		if err := p.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}
