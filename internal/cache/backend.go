package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Backend is the uniform client interface over a remote (or in-process)
// key-value cache. Implementations exist for the fixed set of variants:
// null, memory, memcached, redis and valkey.
//
// Get returns (nil, nil) on a miss; an error always indicates a backend
// failure, never an absent key.
type Backend interface {
	Get(ctx context.Context, key []byte) ([]byte, error)
	Set(ctx context.Context, key, value []byte) error
	Delete(ctx context.Context, key []byte) error
	Name() string
	Close() error
}

// Backend variant names, as accepted by configuration.
const (
	BackendNull      = "null"
	BackendMemory    = "memory"
	BackendMemcached = "memcached"
	BackendRedis     = "redis"
	BackendValkey    = "valkey"
)

// DefaultTimeout bounds backend connect and operation time. A cache that is
// slower than this is not worth consulting.
const DefaultTimeout = 500 * time.Millisecond

// Options carries the connection tuning shared by the remote backends.
type Options struct {
	ConnectTimeout   time.Duration `yaml:"connect_timeout"`
	OperationTimeout time.Duration `yaml:"operation_timeout"`
}

// withDefaults fills unset timeouts.
func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultTimeout
	}
	if o.OperationTimeout <= 0 {
		o.OperationTimeout = DefaultTimeout
	}
	return o
}

// NullBackend is the no-op variant: every get misses, every set and delete
// succeeds without side effects. It is the active backend when no remote
// cache is configured.
type NullBackend struct{}

// NewNullBackend creates the no-op backend.
func NewNullBackend() *NullBackend {
	return &NullBackend{}
}

func (b *NullBackend) Get(ctx context.Context, key []byte) ([]byte, error) {
	return nil, nil
}

func (b *NullBackend) Set(ctx context.Context, key, value []byte) error {
	return nil
}

func (b *NullBackend) Delete(ctx context.Context, key []byte) error {
	return nil
}

func (b *NullBackend) Name() string {
	return BackendNull
}

func (b *NullBackend) Close() error {
	return nil
}

// memcachedKeyLimit is the protocol's maximum key length.
const memcachedKeyLimit = 250

// encodeKey maps an arbitrary binary cache key onto a key the wire protocol
// accepts. Keys that are already printable and short pass through unchanged
// so they stay recognizable in the remote cache; anything else is replaced
// by its hex-encoded SHA-256 digest.
func encodeKey(key []byte) string {
	if len(key) == 0 || len(key) > memcachedKeyLimit {
		return digestKey(key)
	}
	for _, c := range key {
		if c <= ' ' || c == 0x7f {
			return digestKey(key)
		}
	}
	return string(key)
}

func digestKey(key []byte) string {
	digest := sha256.Sum256(key)
	return hex.EncodeToString(digest[:])
}
