package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/petrelql/petrel/internal/cache"
	"github.com/petrelql/petrel/internal/pool"
)

// namespace prefixes every exported metric.
const namespace = "petrel"

// Collector exports the pool and cache counters as Prometheus metrics. The
// sources accumulate their own statistics; the collector only reads the
// snapshots at scrape time, so registering it adds no cost to the hot paths.
type Collector struct {
	registry *prometheus.Registry

	poolStats  func() pool.Stats
	cacheStats func() cache.Stats

	poolSize          *prometheus.Desc
	poolAvailable     *prometheus.Desc
	poolSegments      *prometheus.Desc
	poolCommits       *prometheus.Desc
	poolFailedCommits *prometheus.Desc
	poolReads         *prometheus.Desc
	poolReadLocks     *prometheus.Desc
	poolReleases      *prometheus.Desc
	poolCompactions   *prometheus.Desc

	cacheRequests *prometheus.Desc
	cacheTripped  *prometheus.Desc
}

// NewCollector creates a collector over the given stat sources and registers
// it with its own registry. Either source may be nil to omit that family.
func NewCollector(poolStats func() pool.Stats, cacheStats func() cache.Stats) *Collector {
	c := &Collector{
		registry:   prometheus.NewRegistry(),
		poolStats:  poolStats,
		cacheStats: cacheStats,

		poolSize: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pool", "size_bytes"),
			"Fixed arena size in bytes", nil, nil),
		poolAvailable: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pool", "available_bytes"),
			"Total free space in the arena", nil, nil),
		poolSegments: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pool", "segments"),
			"Number of segments by state", []string{"state"}, nil),
		poolCommits: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pool", "commits_total"),
			"Successful commits into the arena", nil, nil),
		poolFailedCommits: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pool", "failed_commits_total"),
			"Commits rejected for lack of space", nil, nil),
		poolReads: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pool", "reads_total"),
			"Handle reads", nil, nil),
		poolReadLocks: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pool", "read_locks_total"),
			"Reads that fell back to the pool lock", nil, nil),
		poolReleases: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pool", "releases_total"),
			"Handle releases", nil, nil),
		poolCompactions: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pool", "compactions_total"),
			"Compaction passes by level", []string{"level"}, nil),

		cacheRequests: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "cache", "requests_total"),
			"Remote cache requests by outcome", []string{"backend", "outcome"}, nil),
		cacheTripped: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "cache", "circuit_tripped"),
			"Whether the cache circuit breaker is tripped", []string{"backend"}, nil),
	}
	c.registry.MustRegister(c)
	return c
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	if c.poolStats != nil {
		ch <- c.poolSize
		ch <- c.poolAvailable
		ch <- c.poolSegments
		ch <- c.poolCommits
		ch <- c.poolFailedCommits
		ch <- c.poolReads
		ch <- c.poolReadLocks
		ch <- c.poolReleases
		ch <- c.poolCompactions
	}
	if c.cacheStats != nil {
		ch <- c.cacheRequests
		ch <- c.cacheTripped
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.poolStats != nil {
		stats := c.poolStats()
		ch <- prometheus.MustNewConstMetric(c.poolSize, prometheus.GaugeValue, float64(stats.Size))
		ch <- prometheus.MustNewConstMetric(c.poolAvailable, prometheus.GaugeValue, float64(stats.AvailableSpace))
		ch <- prometheus.MustNewConstMetric(c.poolSegments, prometheus.GaugeValue, float64(stats.FreeSegments), "free")
		ch <- prometheus.MustNewConstMetric(c.poolSegments, prometheus.GaugeValue, float64(stats.UsedSegments), "used")
		ch <- prometheus.MustNewConstMetric(c.poolCommits, prometheus.CounterValue, float64(stats.Commits))
		ch <- prometheus.MustNewConstMetric(c.poolFailedCommits, prometheus.CounterValue, float64(stats.FailedCommits))
		ch <- prometheus.MustNewConstMetric(c.poolReads, prometheus.CounterValue, float64(stats.Reads))
		ch <- prometheus.MustNewConstMetric(c.poolReadLocks, prometheus.CounterValue, float64(stats.ReadLocks))
		ch <- prometheus.MustNewConstMetric(c.poolReleases, prometheus.CounterValue, float64(stats.Releases))
		ch <- prometheus.MustNewConstMetric(c.poolCompactions, prometheus.CounterValue, float64(stats.L1Compactions), "1")
		ch <- prometheus.MustNewConstMetric(c.poolCompactions, prometheus.CounterValue, float64(stats.L2Compactions), "2")
	}

	if c.cacheStats != nil {
		stats := c.cacheStats()
		ch <- prometheus.MustNewConstMetric(c.cacheRequests, prometheus.CounterValue, float64(stats.Hits), stats.Backend, "hit")
		ch <- prometheus.MustNewConstMetric(c.cacheRequests, prometheus.CounterValue, float64(stats.Misses), stats.Backend, "miss")
		ch <- prometheus.MustNewConstMetric(c.cacheRequests, prometheus.CounterValue, float64(stats.Skips), stats.Backend, "skip")
		ch <- prometheus.MustNewConstMetric(c.cacheRequests, prometheus.CounterValue, float64(stats.Sets), stats.Backend, "set")
		ch <- prometheus.MustNewConstMetric(c.cacheRequests, prometheus.CounterValue, float64(stats.Errors), stats.Backend, "error")

		tripped := 0.0
		if stats.Tripped {
			tripped = 1.0
		}
		ch <- prometheus.MustNewConstMetric(c.cacheTripped, prometheus.GaugeValue, tripped, stats.Backend)
	}
}

// Registry returns the collector's registry for embedding into an existing
// metrics surface.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns an HTTP handler serving the metrics. The engine owns the
// listener and mounts this wherever it serves observability endpoints.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
