package cache

import (
	"context"
	"sync/atomic"

	"github.com/petrelql/petrel/pkg/logging"
)

// FailureThreshold is the number of consecutive backend failures after which
// a client stops calling its backend.
const FailureThreshold = 10

// ResilientClient wraps one Backend with a consecutive-failure circuit
// breaker and hit/miss/skip/error accounting. Backend failures are absorbed:
// the cache is an optimization, never a correctness dependency, so a failing
// get is a miss and a failing set is dropped.
//
// The breaker has two states. While consecutive failures stay below
// FailureThreshold the client is healthy and calls reach the backend. At the
// threshold it is tripped: calls short-circuit and count as skips. There is
// no timed half-open probe; the breaker re-closes only when a caller's
// attempt actually succeeds, which resets the failure count to zero.
type ResilientClient struct {
	backend Backend
	logger  *logging.Logger

	hits   atomic.Int64
	misses atomic.Int64
	skips  atomic.Int64
	sets   atomic.Int64
	errs   atomic.Int64

	consecutiveFailures atomic.Int64
}

// Stats is a snapshot of the client's counters and breaker state.
type Stats struct {
	Backend             string `json:"backend"`
	Hits                int64  `json:"hits"`
	Misses              int64  `json:"misses"`
	Skips               int64  `json:"skips"`
	Sets                int64  `json:"sets"`
	Errors              int64  `json:"errors"`
	ConsecutiveFailures int64  `json:"consecutive_failures"`
	Tripped             bool   `json:"tripped"`
}

// NewResilientClient wraps a backend. A nil backend marks the remote cache as
// known-absent: the client starts pre-tripped so the very first call is a
// cheap skip instead of a guaranteed-slow network failure.
func NewResilientClient(backend Backend) *ResilientClient {
	client := &ResilientClient{
		backend: backend,
		logger:  logging.Default().WithComponent("cache"),
	}
	if backend == nil {
		client.consecutiveFailures.Store(FailureThreshold)
	}
	return client
}

// tripped reports whether the breaker is open.
func (c *ResilientClient) tripped() bool {
	return c.consecutiveFailures.Load() >= FailureThreshold
}

// Get returns the cached value for key, or nil on miss. Skips, backend
// errors and misses are indistinguishable to the caller by design.
func (c *ResilientClient) Get(ctx context.Context, key []byte) []byte {
	if c.tripped() {
		c.skips.Add(1)
		return nil
	}

	value, err := c.backend.Get(ctx, key)
	if err != nil {
		c.recordFailure("get", err)
		return nil
	}

	c.consecutiveFailures.Store(0)
	if value == nil {
		c.misses.Add(1)
		return nil
	}
	c.hits.Add(1)
	return value
}

// Set stores value under key. Failures are counted, never surfaced.
func (c *ResilientClient) Set(ctx context.Context, key, value []byte) {
	if c.tripped() {
		c.skips.Add(1)
		return
	}

	if err := c.backend.Set(ctx, key, value); err != nil {
		c.recordFailure("set", err)
		return
	}
	c.consecutiveFailures.Store(0)
	c.sets.Add(1)
}

// Delete invalidates key. Failures are counted, never surfaced.
func (c *ResilientClient) Delete(ctx context.Context, key []byte) {
	if c.tripped() {
		c.skips.Add(1)
		return
	}

	if err := c.backend.Delete(ctx, key); err != nil {
		c.recordFailure("delete", err)
		return
	}
	c.consecutiveFailures.Store(0)
}

// recordFailure counts a backend error and logs once when the accumulated
// failures trip the breaker.
func (c *ResilientClient) recordFailure(op string, err error) {
	c.errs.Add(1)
	failures := c.consecutiveFailures.Add(1)
	if failures == FailureThreshold {
		c.logger.Warn("disabling remote %s cache after %d consecutive errors (%v) [%s]",
			c.backendName(), failures, err, op)
	}
}

// Stats returns a snapshot of the counters and breaker state.
func (c *ResilientClient) Stats() Stats {
	return Stats{
		Backend:             c.backendName(),
		Hits:                c.hits.Load(),
		Misses:              c.misses.Load(),
		Skips:               c.skips.Load(),
		Sets:                c.sets.Load(),
		Errors:              c.errs.Load(),
		ConsecutiveFailures: c.consecutiveFailures.Load(),
		Tripped:             c.tripped(),
	}
}

// ResetStats zeroes the counters. The breaker state is left alone: resetting
// statistics between queries must not re-enable a failing backend.
func (c *ResilientClient) ResetStats() {
	c.hits.Store(0)
	c.misses.Store(0)
	c.skips.Store(0)
	c.sets.Store(0)
	c.errs.Store(0)
}

// Backend returns the wrapped backend, nil for a known-absent one.
func (c *ResilientClient) Backend() Backend {
	return c.backend
}

func (c *ResilientClient) backendName() string {
	if c.backend == nil {
		return "absent"
	}
	return c.backend.Name()
}

// Close releases the backend's resources.
func (c *ResilientClient) Close() error {
	if c.backend == nil {
		return nil
	}
	return c.backend.Close()
}
