package cache

import (
	"context"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/petrelql/petrel/pkg/errors"
)

// defaultMemoryCapacity bounds the in-process backend when no capacity is
// configured.
const defaultMemoryCapacity = 256 * 1024 * 1024

// MemoryBackend is an in-process cache variant backed by ristretto. It is
// useful for single-process deployments and tests: same contract as the
// remote variants, no network.
type MemoryBackend struct {
	cache *ristretto.Cache[string, []byte]
}

// NewMemoryBackend creates an in-process backend holding at most maxBytes of
// values. maxBytes <= 0 selects the default capacity.
func NewMemoryBackend(maxBytes int64) (*MemoryBackend, error) {
	if maxBytes <= 0 {
		maxBytes = defaultMemoryCapacity
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		// Ristretto keeps access counters for ~10x the expected item
		// count; assume items of roughly 1KiB.
		NumCounters: maxBytes / 100,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInvalidConfig, "memory cache backend").WithComponent("cache")
	}
	return &MemoryBackend{cache: cache}, nil
}

func (b *MemoryBackend) Get(ctx context.Context, key []byte) ([]byte, error) {
	value, found := b.cache.Get(string(key))
	if !found {
		return nil, nil
	}
	return value, nil
}

func (b *MemoryBackend) Set(ctx context.Context, key, value []byte) error {
	stored := make([]byte, len(value))
	copy(stored, value)
	b.cache.Set(string(key), stored, int64(len(stored)))
	// Ristretto admits writes asynchronously; wait so a set is visible to
	// the next get, matching the remote backends.
	b.cache.Wait()
	return nil
}

func (b *MemoryBackend) Delete(ctx context.Context, key []byte) error {
	b.cache.Del(string(key))
	return nil
}

func (b *MemoryBackend) Name() string {
	return BackendMemory
}

func (b *MemoryBackend) Close() error {
	b.cache.Close()
	return nil
}
