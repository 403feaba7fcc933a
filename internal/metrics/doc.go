/*
Package metrics exports pool and cache statistics as Prometheus metrics.

The hot paths never touch Prometheus directly. The pool and the cache client
maintain their own atomic counters; Collector reads those snapshots at scrape
time and emits const metrics, so registering the collector costs the engine
nothing between scrapes.

# Exported Metrics

Pool:

	petrel_pool_size_bytes                  gauge
	petrel_pool_available_bytes             gauge
	petrel_pool_segments{state}             gauge    state ∈ free|used
	petrel_pool_commits_total               counter
	petrel_pool_failed_commits_total        counter
	petrel_pool_reads_total                 counter
	petrel_pool_read_locks_total            counter
	petrel_pool_releases_total              counter
	petrel_pool_compactions_total{level}    counter  level ∈ 1|2

Cache:

	petrel_cache_requests_total{backend,outcome}  counter  outcome ∈ hit|miss|skip|set|error
	petrel_cache_circuit_tripped{backend}         gauge

# Usage

	collector := metrics.NewCollector(p.Stats, client.Stats)
	http.Handle("/metrics", collector.Handler())

Either source may be nil; the collector then omits that family.
*/
package metrics
