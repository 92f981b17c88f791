// Package prom exports cache events as Prometheus metrics.
package prom

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/unkn0wn-root/moviecache"
)

type Options struct {
	Namespace   string // "" => "moviecache"
	Subsystem   string
	ConstLabels prometheus.Labels
	// Buckets for the recompute duration histogram; nil => prometheus.DefBuckets.
	Buckets []float64
}

type Hooks struct {
	lookups      *prometheus.CounterVec // result: hit|miss
	lockTimeouts prometheus.Counter
	herd         prometheus.Counter
	recomputes   prometheus.Histogram
	titles       prometheus.Gauge
	upstream     *prometheus.CounterVec // op
	selfHeals    *prometheus.CounterVec // reason
	storeErrors  *prometheus.CounterVec // op
}

var _ moviecache.Hooks = (*Hooks)(nil)

// New builds the collectors and registers them on reg. Collectors already
// registered on reg (a second cache in the same process) are reused.
func New(reg prometheus.Registerer, opts Options) (*Hooks, error) {
	if opts.Namespace == "" {
		opts.Namespace = "moviecache"
	}
	if opts.Buckets == nil {
		opts.Buckets = prometheus.DefBuckets
	}
	co := func(name, help string) prometheus.CounterOpts {
		return prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Subsystem:   opts.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: opts.ConstLabels,
		}
	}

	h := &Hooks{
		lookups:      prometheus.NewCounterVec(co("lookups_total", "Cache reads by result."), []string{"result"}),
		lockTimeouts: prometheus.NewCounter(co("lock_timeouts_total", "Misses that gave up waiting for the recompute lock.")),
		herd:         prometheus.NewCounter(co("herd_short_circuits_total", "Misses served by the re-read under the lock.")),
		recomputes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   opts.Namespace,
			Subsystem:   opts.Subsystem,
			Name:        "recompute_duration_seconds",
			Help:        "Time spent fetching and aggregating upstream data.",
			ConstLabels: opts.ConstLabels,
			Buckets:     opts.Buckets,
		}),
		titles: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   opts.Namespace,
			Subsystem:   opts.Subsystem,
			Name:        "titles",
			Help:        "Film titles in the last recomputed result.",
			ConstLabels: opts.ConstLabels,
		}),
		upstream:    prometheus.NewCounterVec(co("upstream_failures_total", "Failed upstream fetches."), []string{"op"}),
		selfHeals:   prometheus.NewCounterVec(co("self_heals_total", "Entries dropped on read."), []string{"reason"}),
		storeErrors: prometheus.NewCounterVec(co("store_errors_total", "Provider, lock and genstore errors."), []string{"op"}),
	}

	if reg != nil {
		var err error
		h.lookups = register(reg, h.lookups, &err)
		h.lockTimeouts = register(reg, h.lockTimeouts, &err)
		h.herd = register(reg, h.herd, &err)
		h.recomputes = register(reg, h.recomputes, &err)
		h.titles = register(reg, h.titles, &err)
		h.upstream = register(reg, h.upstream, &err)
		h.selfHeals = register(reg, h.selfHeals, &err)
		h.storeErrors = register(reg, h.storeErrors, &err)
		if err != nil {
			return nil, err
		}
	}
	return h, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C, errp *error) C {
	if *errp != nil {
		return c
	}
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		*errp = err
	}
	return c
}

func (h *Hooks) CacheHit(string)         { h.lookups.WithLabelValues("hit").Inc() }
func (h *Hooks) CacheMiss(string)        { h.lookups.WithLabelValues("miss").Inc() }
func (h *Hooks) HerdShortCircuit(string) { h.herd.Inc() }

func (h *Hooks) LockTimeout(string, time.Duration) { h.lockTimeouts.Inc() }

func (h *Hooks) Recomputed(_ string, titles int, took time.Duration) {
	h.recomputes.Observe(took.Seconds())
	h.titles.Set(float64(titles))
}

func (h *Hooks) UpstreamFailure(op string, _ error) { h.upstream.WithLabelValues(op).Inc() }
func (h *Hooks) SelfHeal(_, reason string)          { h.selfHeals.WithLabelValues(reason).Inc() }
func (h *Hooks) StoreError(op string, _ error)      { h.storeErrors.WithLabelValues(op).Inc() }
