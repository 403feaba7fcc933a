package cache

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend is a scriptable in-memory backend for breaker tests.
type fakeBackend struct {
	mu      sync.Mutex
	store   map[string][]byte
	failing bool

	getCalls    int
	setCalls    int
	deleteCalls int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{store: make(map[string][]byte)}
}

func (b *fakeBackend) fail(failing bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failing = failing
}

func (b *fakeBackend) calls() (gets, sets, deletes int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.getCalls, b.setCalls, b.deleteCalls
}

func (b *fakeBackend) Get(ctx context.Context, key []byte) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.getCalls++
	if b.failing {
		return nil, errors.New("backend down")
	}
	value, ok := b.store[string(key)]
	if !ok {
		return nil, nil
	}
	return value, nil
}

func (b *fakeBackend) Set(ctx context.Context, key, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setCalls++
	if b.failing {
		return errors.New("backend down")
	}
	b.store[string(key)] = append([]byte(nil), value...)
	return nil
}

func (b *fakeBackend) Delete(ctx context.Context, key []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleteCalls++
	if b.failing {
		return errors.New("backend down")
	}
	delete(b.store, string(key))
	return nil
}

func (b *fakeBackend) Name() string { return "fake" }
func (b *fakeBackend) Close() error { return nil }

func TestResilientClientCounters(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	client := NewResilientClient(backend)

	assert.Nil(t, client.Get(ctx, []byte("absent")))
	client.Set(ctx, []byte("k"), []byte("v"))
	assert.Equal(t, []byte("v"), client.Get(ctx, []byte("k")))

	stats := client.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Sets)
	assert.Equal(t, int64(0), stats.Skips)
	assert.Equal(t, int64(0), stats.Errors)
	assert.False(t, stats.Tripped)
}

func TestResilientClientTripsAfterThreshold(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	backend.fail(true)
	client := NewResilientClient(backend)

	for i := 0; i < FailureThreshold; i++ {
		assert.Nil(t, client.Get(ctx, []byte("k")))
	}

	stats := client.Stats()
	require.Equal(t, int64(FailureThreshold), stats.Errors)
	require.True(t, stats.Tripped)

	// Tripped calls are skips and never reach the backend.
	gets, _, _ := backend.calls()
	assert.Nil(t, client.Get(ctx, []byte("k")))
	client.Set(ctx, []byte("k"), []byte("v"))
	client.Delete(ctx, []byte("k"))

	afterGets, afterSets, afterDeletes := backend.calls()
	assert.Equal(t, gets, afterGets)
	assert.Equal(t, 0, afterSets)
	assert.Equal(t, 0, afterDeletes)
	assert.Equal(t, int64(3), client.Stats().Skips)
}

func TestResilientClientSuccessResetsFailureCount(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	client := NewResilientClient(backend)

	// Stay one failure short of the threshold, then succeed.
	backend.fail(true)
	for i := 0; i < FailureThreshold-1; i++ {
		client.Set(ctx, []byte("k"), []byte("v"))
	}
	require.Equal(t, int64(FailureThreshold-1), client.Stats().ConsecutiveFailures)
	require.False(t, client.Stats().Tripped)

	backend.fail(false)
	client.Set(ctx, []byte("k"), []byte("v"))
	assert.Equal(t, int64(0), client.Stats().ConsecutiveFailures)

	// The reset gives the backend a fresh failure budget.
	backend.fail(true)
	for i := 0; i < FailureThreshold-1; i++ {
		assert.Nil(t, client.Get(ctx, []byte("k")))
	}
	assert.False(t, client.Stats().Tripped)
}

func TestResilientClientPreTripped(t *testing.T) {
	ctx := context.Background()
	client := NewResilientClient(nil)

	require.True(t, client.Stats().Tripped)
	assert.Nil(t, client.Get(ctx, []byte("k")))

	stats := client.Stats()
	assert.Equal(t, int64(1), stats.Skips, "first call on a pre-tripped client must be a skip")
	assert.Equal(t, int64(0), stats.Errors)
	assert.Equal(t, int64(0), stats.Misses)

	// No backend to close, no panic.
	require.NoError(t, client.Close())
}

func TestResilientClientAgainstUnreachableMemcached(t *testing.T) {
	// Port 1 on loopback refuses connections immediately, standing in for
	// a configured-but-dead cache server.
	backend, err := NewMemcachedBackend("127.0.0.1:1", Options{})
	require.NoError(t, err, "construction is lazy and must not dial")
	client := NewResilientClient(backend)

	ctx := context.Background()
	for i := 0; i < FailureThreshold; i++ {
		client.Set(ctx, []byte("key"), []byte("value"))
	}

	stats := client.Stats()
	require.Equal(t, int64(FailureThreshold), stats.Errors)
	require.True(t, stats.Tripped)

	// The next call must not attempt the network.
	client.Set(ctx, []byte("key"), []byte("value"))
	assert.Equal(t, int64(1), client.Stats().Skips)
}

func TestResilientClientResetStats(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	backend.fail(true)
	client := NewResilientClient(backend)

	for i := 0; i < FailureThreshold+2; i++ {
		assert.Nil(t, client.Get(ctx, []byte("k")))
	}
	client.ResetStats()

	stats := client.Stats()
	assert.Equal(t, int64(0), stats.Errors)
	assert.Equal(t, int64(0), stats.Skips)
	assert.True(t, stats.Tripped, "resetting statistics must not re-arm a tripped breaker")
}
