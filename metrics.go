package cache

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics aggregates per-operation latency. Attach it through Config.Metrics;
// one Metrics value may be shared by several caches (the cache label tells them apart).
type Metrics struct {
	OpDuration *prometheus.HistogramVec
}

// NewMetrics registers the latency histograms with reg under namespace.
// A nil reg falls back to prometheus.DefaultRegisterer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		OpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Latency of cache operations in seconds",
			Buckets:   []float64{1e-7, 2.5e-7, 5e-7, 1e-6, 2.5e-6, 5e-6, 1e-5, 5e-5, 1e-4, 1e-3},
		}, []string{"cache", "op"}),
	}
}

func (m *Metrics) observe(cacheName, op string, start time.Time) {
	if m == nil {
		return
	}
	m.OpDuration.WithLabelValues(cacheName, op).Observe(time.Since(start).Seconds())
}

// statsSource is anything exposing cache telemetry; both cache flavours qualify.
type statsSource interface {
	Stats() Stats
}

// StatsCollector exports a cache's Stats as Prometheus metrics on each scrape.
type StatsCollector struct {
	src         statsSource
	hits        *prometheus.Desc
	misses      *prometheus.Desc
	evictions   *prometheus.Desc
	expirations *prometheus.Desc
	insertions  *prometheus.Desc
	size        *prometheus.Desc
	capacity    *prometheus.Desc
}

// NewStatsCollector builds a collector for src labelled with name.
func NewStatsCollector(namespace, name string, src statsSource) *StatsCollector {
	labels := prometheus.Labels{"cache": name}
	desc := func(metric, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", metric), help, nil, labels)
	}
	return &StatsCollector{
		src:         src,
		hits:        desc("hits_total", "Total cache hits"),
		misses:      desc("misses_total", "Total cache misses"),
		evictions:   desc("evictions_total", "Entries evicted to respect capacity"),
		expirations: desc("expirations_total", "Entries removed after their TTL elapsed"),
		insertions:  desc("insertions_total", "Successful puts"),
		size:        desc("entries", "Current number of entries"),
		capacity:    desc("capacity", "Configured entry capacity"),
	}
}

func (c *StatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.hits
	ch <- c.misses
	ch <- c.evictions
	ch <- c.expirations
	ch <- c.insertions
	ch <- c.size
	ch <- c.capacity
}

func (c *StatsCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.Stats()
	ch <- prometheus.MustNewConstMetric(c.hits, prometheus.CounterValue, float64(s.Hits))
	ch <- prometheus.MustNewConstMetric(c.misses, prometheus.CounterValue, float64(s.Misses))
	ch <- prometheus.MustNewConstMetric(c.evictions, prometheus.CounterValue, float64(s.Evictions))
	ch <- prometheus.MustNewConstMetric(c.expirations, prometheus.CounterValue, float64(s.Expirations))
	ch <- prometheus.MustNewConstMetric(c.insertions, prometheus.CounterValue, float64(s.Insertions))
	ch <- prometheus.MustNewConstMetric(c.size, prometheus.GaugeValue, float64(s.Size))
	ch <- prometheus.MustNewConstMetric(c.capacity, prometheus.GaugeValue, float64(s.Capacity))
}
