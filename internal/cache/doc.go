/*
Package cache provides the remote cache tier: pluggable key-value backends
behind a circuit-breaking client and a swappable manager facade.

# Architecture

	┌─────────────────────────────────────────────┐
	│              Buffer Pool                    │
	│        (local arena, hot tier)              │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│               Manager                       │  ← This Package
	│   coalescing, compression, client swap      │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│            ResilientClient                  │
	│   hit/miss/skip counters, circuit breaker   │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│               Backend                       │
	│   null | memory | memcached | redis | valkey│
	└─────────────────────────────────────────────┘

# Backends

Backend is a minimal Get/Set/Delete interface. A Get that finds nothing
returns (nil, nil); an error return means the backend itself failed. Five
implementations ship with the engine:

  - null: stores nothing, always misses. The default when no cache server is
    configured.
  - memory: in-process ristretto cache, useful for single-node deployments
    and tests.
  - memcached: gomemcache client. Keys that are not legal memcached keys are
    replaced with a hex SHA-256 digest.
  - redis and valkey: go-redis client, accepting either host[:port] or a
    redis:// URL. Client-side retries are disabled; failure handling belongs
    to the breaker.

# Failure Handling

ResilientClient wraps a backend and counts consecutive failures. After
FailureThreshold consecutive errors the breaker trips and every subsequent
call is a skip: it returns immediately without touching the network. A
success before the threshold resets the failure count. A client constructed
over a nil backend starts tripped, which is how a configured-but-absent
cache server degrades to local-only operation without per-query timeouts.

Cache errors are never surfaced to queries. A failed Get is a miss; a failed
Set is dropped. The counters and the tripped flag are exported through Stats
for the metrics collector.

# Manager

Manager is the engine-facing facade. It owns an atomically swappable client,
so reconfiguring the cache backend at runtime replaces the whole client and
its counters in one step. Concurrent Gets for the same key are coalesced
into a single backend call. Optional zstd compression frames values on the
wire; values whose encoding is not recognized decode as a miss rather than
an error.
*/
package cache
