// Package bufferpool composes the local memory pool with the remote cache
// manager into the engine's blob retention layer. The eviction-ordering
// policy is pluggable: the buffer pool decides when to evict, the Evictor
// decides what.
package bufferpool

import (
	"sync"

	"github.com/petrelql/petrel/internal/cache"
	"github.com/petrelql/petrel/internal/pool"
)

// Evictor orders cache keys for eviction. The buffer pool calls Touch on
// every access, Evict when it needs space and Remove on explicit deletes.
// Implementations need not be safe for concurrent use; the buffer pool
// serializes calls.
type Evictor interface {
	Touch(key string)
	Evict() (key string, ok bool)
	Remove(key string)
}

// DefaultMaxEvictions bounds how many victims a single Set may evict before
// giving up. Matches the engine's per-query eviction budget default.
const DefaultMaxEvictions = 64

// Config configures a BufferPool.
type Config struct {
	// PoolSize is the local arena capacity in bytes.
	PoolSize int `yaml:"pool_size"`

	// MaxEvictions bounds evictions per Set; <= 0 selects
	// DefaultMaxEvictions.
	MaxEvictions int `yaml:"max_evictions"`

	// Evictor supplies the eviction ordering. Nil selects a FIFO ordering.
	Evictor Evictor

	// Remote is the remote cache tier. Nil disables write-through.
	Remote *cache.Manager
}

// BufferPool keeps hot blobs in the local arena, keyed by cache key, and
// optionally writes them through to the remote cache for cross-process
// reuse.
type BufferPool struct {
	mu           sync.Mutex
	pool         *pool.Pool
	evictor      Evictor
	remote       *cache.Manager
	handles      map[string]pool.Handle
	maxEvictions int
}

// New creates a buffer pool over a fresh arena.
func New(config Config) (*BufferPool, error) {
	arena, err := pool.New(config.PoolSize)
	if err != nil {
		return nil, err
	}

	evictor := config.Evictor
	if evictor == nil {
		evictor = NewFIFOEvictor()
	}
	maxEvictions := config.MaxEvictions
	if maxEvictions <= 0 {
		maxEvictions = DefaultMaxEvictions
	}

	return &BufferPool{
		pool:         arena,
		evictor:      evictor,
		remote:       config.Remote,
		handles:      make(map[string]pool.Handle),
		maxEvictions: maxEvictions,
	}, nil
}

// Get returns a copy of the blob stored under key, consulting the local
// arena first and the remote cache on a local miss. A remote hit is not
// re-admitted locally; admission stays the caller's decision.
func (b *BufferPool) Get(key []byte) []byte {
	k := string(key)

	b.mu.Lock()
	handle, ok := b.handles[k]
	if ok {
		b.evictor.Touch(k)
		data, err := b.pool.ReadBytes(handle)
		b.mu.Unlock()
		if err == nil {
			return data
		}
		return nil
	}
	b.mu.Unlock()

	if b.remote != nil {
		return b.remote.Get(key)
	}
	return nil
}

// Set stores value under key in the local arena, evicting colder entries as
// needed, and writes it through to the remote cache. It returns false when
// the value cannot be held locally even after the eviction budget is spent;
// the write-through still happens.
func (b *BufferPool) Set(key, value []byte) bool {
	k := string(key)

	b.mu.Lock()
	// Replace any existing entry for the key.
	if prev, ok := b.handles[k]; ok {
		delete(b.handles, k)
		b.evictor.Remove(k)
		_ = b.pool.Release(prev)
	}

	committed := false
	for evictions := 0; ; evictions++ {
		handle, ok := b.pool.Commit(value)
		if ok {
			b.handles[k] = handle
			b.evictor.Touch(k)
			committed = true
			break
		}
		if evictions >= b.maxEvictions {
			break
		}
		victim, ok := b.evictor.Evict()
		if !ok {
			break
		}
		if prev, exists := b.handles[victim]; exists {
			delete(b.handles, victim)
			_ = b.pool.Release(prev)
		}
	}
	b.mu.Unlock()

	if b.remote != nil {
		b.remote.Set(key, value)
	}
	return committed
}

// Delete drops key from the local arena and invalidates it remotely.
func (b *BufferPool) Delete(key []byte) {
	k := string(key)

	b.mu.Lock()
	if handle, ok := b.handles[k]; ok {
		delete(b.handles, k)
		b.evictor.Remove(k)
		_ = b.pool.Release(handle)
	}
	b.mu.Unlock()

	if b.remote != nil {
		b.remote.Delete(key)
	}
}

// Len returns the number of locally held entries.
func (b *BufferPool) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handles)
}

// Stats returns the underlying arena's counters.
func (b *BufferPool) Stats() pool.Stats {
	return b.pool.Stats()
}

// FIFOEvictor orders keys by insertion: the oldest key is evicted first.
// It is the default ordering; the engine normally supplies its own
// recency/frequency tracker.
type FIFOEvictor struct {
	order []string
	index map[string]struct{}
}

// NewFIFOEvictor creates an empty FIFO ordering.
func NewFIFOEvictor() *FIFOEvictor {
	return &FIFOEvictor{index: make(map[string]struct{})}
}

func (e *FIFOEvictor) Touch(key string) {
	if _, ok := e.index[key]; ok {
		return
	}
	e.index[key] = struct{}{}
	e.order = append(e.order, key)
}

func (e *FIFOEvictor) Evict() (string, bool) {
	for len(e.order) > 0 {
		key := e.order[0]
		e.order = e.order[1:]
		if _, ok := e.index[key]; ok {
			delete(e.index, key)
			return key, true
		}
	}
	return "", false
}

func (e *FIFOEvictor) Remove(key string) {
	// Lazy removal; Evict skips keys no longer in the index.
	delete(e.index, key)
}
