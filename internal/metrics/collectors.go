package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/FairForge/loadlab/internal/cache"
	"github.com/FairForge/loadlab/internal/pool"
)

// PoolSource is the part of a pool the collector reads. *pool.Pool[T]
// satisfies it for any handle type.
type PoolSource interface {
	Stats() *pool.Stats
	Capacity() int
}

type poolCollector struct {
	name string
	src  PoolSource

	size, inUse, idle, waiting, capacity *prometheus.Desc
	acquired, created, timeouts, retired *prometheus.Desc
	waitSeconds                          *prometheus.Desc
}

// NewPoolCollector reads pool statistics at scrape time.
func NewPoolCollector(name string, src PoolSource) prometheus.Collector {
	labels := prometheus.Labels{"pool": name}
	desc := func(metric, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "pool", metric), help, nil, labels)
	}
	return &poolCollector{
		name:        name,
		src:         src,
		size:        desc("connections", "Connections currently open"),
		inUse:       desc("connections_in_use", "Connections lent out"),
		idle:        desc("connections_idle", "Connections waiting to be lent"),
		waiting:     desc("waiters", "Callers blocked in acquire"),
		capacity:    desc("capacity", "Maximum number of connections"),
		acquired:    desc("acquired_total", "Successful acquisitions"),
		created:     desc("created_total", "Connections opened"),
		timeouts:    desc("timeouts_total", "Acquisitions that gave up"),
		retired:     desc("retired_total", "Connections discarded as unhealthy"),
		waitSeconds: desc("wait_seconds_total", "Time spent blocked in acquire"),
	}
}

func (c *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.size, c.inUse, c.idle, c.waiting, c.capacity,
		c.acquired, c.created, c.timeouts, c.retired, c.waitSeconds,
	} {
		ch <- d
	}
}

func (c *poolCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.Stats()
	gauge := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v)
	}
	counter := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, v)
	}

	gauge(c.size, float64(s.CurrentSize))
	gauge(c.inUse, float64(s.CurrentInUse))
	gauge(c.idle, float64(s.CurrentIdle))
	gauge(c.waiting, float64(s.Waiting))
	gauge(c.capacity, float64(c.src.Capacity()))
	counter(c.acquired, float64(s.TotalAcquired))
	counter(c.created, float64(s.TotalCreated))
	counter(c.timeouts, float64(s.TotalTimeouts))
	counter(c.retired, float64(s.TotalRetired))
	counter(c.waitSeconds, float64(s.WaitDuration)/1e9)
}

type cacheCollector struct {
	c *cache.Cache

	items, capacity                       *prometheus.Desc
	hits, misses, evictions, expirations *prometheus.Desc
}

// NewCacheCollector reports per-region cache statistics at scrape time.
func NewCacheCollector(c *cache.Cache) prometheus.Collector {
	desc := func(metric, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "cache", metric), help, []string{"region"}, nil)
	}
	return &cacheCollector{
		c:           c,
		items:       desc("items", "Entries held"),
		capacity:    desc("capacity", "Maximum entries"),
		hits:        desc("hits_total", "Lookups served from the cache"),
		misses:      desc("misses_total", "Lookups not found or expired"),
		evictions:   desc("evictions_total", "Entries evicted by LRU"),
		expirations: desc("expirations_total", "Entries dropped after their TTL"),
	}
}

func (c *cacheCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.items
	ch <- c.capacity
	ch <- c.hits
	ch <- c.misses
	ch <- c.evictions
	ch <- c.expirations
}

func (c *cacheCollector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.c.Stats() {
		ch <- prometheus.MustNewConstMetric(c.items, prometheus.GaugeValue, float64(s.Items), s.Region)
		ch <- prometheus.MustNewConstMetric(c.capacity, prometheus.GaugeValue, float64(s.Capacity), s.Region)
		ch <- prometheus.MustNewConstMetric(c.hits, prometheus.CounterValue, float64(s.Hits), s.Region)
		ch <- prometheus.MustNewConstMetric(c.misses, prometheus.CounterValue, float64(s.Misses), s.Region)
		ch <- prometheus.MustNewConstMetric(c.evictions, prometheus.CounterValue, float64(s.Evictions), s.Region)
		ch <- prometheus.MustNewConstMetric(c.expirations, prometheus.CounterValue, float64(s.Expirations), s.Region)
	}
}
