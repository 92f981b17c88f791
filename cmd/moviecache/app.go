package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/moviecache"
	"github.com/unkn0wn-root/moviecache/aggregate"
	"github.com/unkn0wn-root/moviecache/codec"
	"github.com/unkn0wn-root/moviecache/fetcher/ghibli"
	"github.com/unkn0wn-root/moviecache/genstore"
	asynchook "github.com/unkn0wn-root/moviecache/hooks/async"
	"github.com/unkn0wn-root/moviecache/hooks/loghooks"
	"github.com/unkn0wn-root/moviecache/hooks/prom"
	"github.com/unkn0wn-root/moviecache/internal/config"
	"github.com/unkn0wn-root/moviecache/internal/logging"
	"github.com/unkn0wn-root/moviecache/lock"
	"github.com/unkn0wn-root/moviecache/lock/local"
	redislock "github.com/unkn0wn-root/moviecache/lock/redis"
	"github.com/unkn0wn-root/moviecache/provider"
	"github.com/unkn0wn-root/moviecache/provider/bigcache"
	pr "github.com/unkn0wn-root/moviecache/provider/redis"
	"github.com/unkn0wn-root/moviecache/provider/ristretto"
)

// app holds the wired process: config, logger, shared clients and the cache.
type app struct {
	cfg      *config.Config
	log      logging.Logger
	rdb      goredis.UniversalClient
	registry *prometheus.Registry
	hooks    *asynchook.Hooks
	cache    moviecache.Cache
}

func open(path string) (*app, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return build(cfg, nil)
}

// build wires every component from cfg. rdb overrides the client built
// from cfg.Redis; tests pass one bound to miniredis.
func build(cfg *config.Config, rdb goredis.UniversalClient) (*app, error) {
	l, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: l, registry: prometheus.NewRegistry()}

	if rdb == nil && cfg.Redis.Enabled {
		rdb = goredis.NewUniversalClient(&goredis.UniversalOptions{
			Addrs:    []string{cfg.Redis.Addr},
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	a.rdb = rdb

	p, err := newProvider(cfg, rdb)
	if err != nil {
		a.Close()
		return nil, err
	}
	lk, err := newLocker(cfg, rdb)
	if err != nil {
		a.Close()
		return nil, err
	}
	gs, err := newGenStore(cfg, rdb)
	if err != nil {
		a.Close()
		return nil, err
	}
	cd, err := newCodec(cfg.Cache)
	if err != nil {
		a.Close()
		return nil, err
	}

	hooks := moviecache.MultiHooks{loghooks.New(l, loghooks.Options{SelfHealEvery: 10})}
	if cfg.Metrics.Enabled {
		ph, err := prom.New(a.registry, prom.Options{Namespace: cfg.Metrics.Namespace})
		if err != nil {
			a.Close()
			return nil, err
		}
		hooks = append(hooks, ph)
	}
	a.hooks = asynchook.New(hooks, 1, 1024)

	a.cache, err = moviecache.New(moviecache.Options{
		Provider: p,
		Locker:   lk,
		Fetcher: ghibli.New(ghibli.Config{
			BaseURL:    cfg.Upstream.BaseURL,
			FilmsPath:  cfg.Upstream.FilmsPath,
			PeoplePath: cfg.Upstream.PeoplePath,
			Timeout:    cfg.Upstream.Timeout,
		}),
		Codec:        cd,
		GenStore:     gs,
		Logger:       l,
		Hooks:        a.hooks,
		Key:          cfg.Cache.Key,
		TTL:          cfg.Cache.TTL,
		LockName:     cfg.Lock.Name,
		LockTimeout:  cfg.Lock.Timeout,
		FetchTimeout: cfg.Upstream.Timeout,
		Disabled:     cfg.Cache.Disabled,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func newProvider(cfg *config.Config, rdb goredis.UniversalClient) (provider.Provider, error) {
	switch cfg.Cache.Provider {
	case "redis":
		return pr.New(pr.Config{Client: rdb, Field: cfg.Cache.Field})
	case "ristretto":
		return ristretto.New(ristretto.Config{})
	case "bigcache":
		// keep dead entries around no longer than a few TTLs
		return bigcache.New(bigcache.Config{LifeWindow: 4 * cfg.Cache.TTL})
	default:
		return nil, fmt.Errorf("unknown cache provider %q", cfg.Cache.Provider)
	}
}

// A shared store needs a shared lock; in-process stores get a local one.
func newLocker(cfg *config.Config, rdb goredis.UniversalClient) (lock.Locker, error) {
	if cfg.Cache.Provider != "redis" {
		return local.New(), nil
	}
	return redislock.New(rdb, redislock.Options{
		TTL:           cfg.Lock.TTL,
		RetryInterval: cfg.Lock.RetryInterval,
	})
}

func newGenStore(cfg *config.Config, rdb goredis.UniversalClient) (genstore.GenStore, error) {
	if cfg.Cache.Provider != "redis" {
		return genstore.NewLocal(), nil
	}
	return genstore.NewRedis(genstore.RedisConfig{
		Client:    rdb,
		Namespace: cfg.Cache.Key,
		TTL:       cfg.Cache.GenTTL,
	})
}

func newCodec(cfg config.CacheConfig) (codec.Codec[aggregate.Result], error) {
	var inner codec.Codec[aggregate.Result]
	switch cfg.Codec {
	case "", "json":
		inner = codec.JSON[aggregate.Result]{}
	case "msgpack":
		inner = codec.Msgpack[aggregate.Result]{}
	case "cbor":
		c, err := codec.NewCBOR[aggregate.Result](true)
		if err != nil {
			return nil, err
		}
		inner = c
	default:
		return nil, fmt.Errorf("unknown codec %q", cfg.Codec)
	}
	if cfg.MaxDecode > 0 {
		return codec.Limit[aggregate.Result]{Inner: inner, MaxDecode: cfg.MaxDecode}, nil
	}
	return inner, nil
}

// Close releases the cache, drains hooks and closes the shared client.
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if a.cache != nil {
		if err := a.cache.Close(ctx); err != nil {
			a.log.Warn("cache close", moviecache.Fields{"err": err})
		}
	}
	if a.hooks != nil {
		a.hooks.Close()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.log.Sync != nil {
		_ = a.log.Sync()
	}
}
