package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// collectors exports per-tier counters. A nil *collectors is valid and records nothing.
type collectors struct {
	hits        *prometheus.CounterVec
	misses      *prometheus.CounterVec
	evictions   *prometheus.CounterVec
	entries     *prometheus.GaugeVec
	sizeBytes   *prometheus.GaugeVec
	bottlenecks *prometheus.CounterVec
}

func newCollectors(reg prometheus.Registerer) (c *collectors, err error) {
	if reg == nil {
		return nil, nil
	}

	// promauto panics on duplicate registration.
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = e
				return
			}
			panic(r)
		}
	}()

	factory := promauto.With(reg)
	return &collectors{
		hits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolweave_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"tier"},
		),
		misses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolweave_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"tier"},
		),
		evictions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolweave_cache_evictions_total",
				Help: "Total number of evicted cache entries",
			},
			[]string{"tier"},
		),
		entries: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "toolweave_cache_entries",
				Help: "Number of live cache entries",
			},
			[]string{"tier"},
		),
		sizeBytes: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "toolweave_cache_size_bytes",
				Help: "Accounted size of live cache entries",
			},
			[]string{"tier"},
		),
		bottlenecks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolweave_cache_bottlenecks_total",
				Help: "Total number of bottlenecks reported by the monitor",
			},
			[]string{"kind"},
		),
	}, nil
}

func (c *collectors) hit(tier string) {
	if c == nil {
		return
	}
	c.hits.WithLabelValues(tier).Inc()
}

func (c *collectors) miss(tier string) {
	if c == nil {
		return
	}
	c.misses.WithLabelValues(tier).Inc()
}

func (c *collectors) evicted(tier string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.evictions.WithLabelValues(tier).Add(float64(n))
}

func (c *collectors) setSize(tier string, entries int, size int64) {
	if c == nil {
		return
	}
	c.entries.WithLabelValues(tier).Set(float64(entries))
	c.sizeBytes.WithLabelValues(tier).Set(float64(size))
}

func (c *collectors) bottleneck(kind string) {
	if c == nil {
		return
	}
	c.bottlenecks.WithLabelValues(kind).Inc()
}
