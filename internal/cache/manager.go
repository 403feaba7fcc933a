package cache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/sync/singleflight"

	"github.com/petrelql/petrel/pkg/errors"
)

// Value framing markers used when compression is enabled.
const (
	frameRaw  byte = 0x00
	frameZstd byte = 0x01
)

// CompressionConfig controls transparent value compression on the remote
// cache. When enabled, values at or above MinSize are zstd-compressed before
// the set and decompressed on get. Every process sharing the remote cache
// must agree on this setting, since it changes the stored encoding.
type CompressionConfig struct {
	Enabled bool `yaml:"enabled"`
	MinSize int  `yaml:"min_size"`
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// Client is the initial resilient client. Nil selects a healthy client
	// over the null backend.
	Client *ResilientClient

	// OperationTimeout bounds each remote call issued by the manager.
	OperationTimeout time.Duration `yaml:"operation_timeout"`

	Compression CompressionConfig `yaml:"compression"`
}

// Manager is the facade the rest of the engine calls for remote caching. It
// holds exactly one active resilient client and presents a stable get/set
// contract regardless of which backend variant is behind it. Swapping the
// active client replaces the whole object, so in-flight operations against
// the previous client are unaffected.
type Manager struct {
	client  atomic.Pointer[ResilientClient]
	group   singleflight.Group
	timeout time.Duration

	compression CompressionConfig
	encoder     *zstd.Encoder
	decoder     *zstd.Decoder
}

// NewManager creates a manager. With a nil config the manager starts over
// the null backend, which always misses and accumulates no errors or skips.
func NewManager(config *ManagerConfig) (*Manager, error) {
	if config == nil {
		config = &ManagerConfig{}
	}

	m := &Manager{
		timeout:     config.OperationTimeout,
		compression: config.Compression,
	}
	if m.timeout <= 0 {
		m.timeout = DefaultTimeout
	}

	if config.Compression.Enabled {
		encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInvalidConfig, "zstd encoder").WithComponent("cache")
		}
		decoder, err := zstd.NewReader(nil)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInvalidConfig, "zstd decoder").WithComponent("cache")
		}
		m.encoder = encoder
		m.decoder = decoder
	}

	client := config.Client
	if client == nil {
		client = NewResilientClient(NewNullBackend())
	}
	m.client.Store(client)
	return m, nil
}

// Get returns the cached value for key, or nil on miss. Concurrent gets for
// the same key are coalesced into a single backend call.
func (m *Manager) Get(key []byte) []byte {
	value, _, _ := m.group.Do(string(key), func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()
		return m.client.Load().Get(ctx, key), nil
	})
	raw, _ := value.([]byte)
	return m.decode(raw)
}

// Set stores value under key in the remote cache. Failures are absorbed by
// the active client.
func (m *Manager) Set(key, value []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	m.client.Load().Set(ctx, key, m.encode(value))
}

// Delete invalidates key in the remote cache.
func (m *Manager) Delete(key []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	m.client.Load().Delete(ctx, key)
}

// SetClient atomically replaces the active client. Counters already
// accumulated on the previous client are not carried over.
func (m *Manager) SetClient(client *ResilientClient) {
	if client == nil {
		client = NewResilientClient(NewNullBackend())
	}
	m.client.Store(client)
}

// Client returns the active resilient client.
func (m *Manager) Client() *ResilientClient {
	return m.client.Load()
}

// Stats returns the active client's counters.
func (m *Manager) Stats() Stats {
	return m.client.Load().Stats()
}

// Close releases the active client's backend.
func (m *Manager) Close() error {
	return m.client.Load().Close()
}

// encode applies the value framing when compression is enabled.
func (m *Manager) encode(value []byte) []byte {
	if !m.compression.Enabled {
		return value
	}
	if len(value) >= m.compression.MinSize && len(value) > 0 {
		framed := make([]byte, 1, len(value)/2+1)
		framed[0] = frameZstd
		return m.encoder.EncodeAll(value, framed)
	}
	framed := make([]byte, 1+len(value))
	framed[0] = frameRaw
	copy(framed[1:], value)
	return framed
}

// decode reverses encode. A value that does not carry a known frame marker
// was written by a process with different compression settings and is
// treated as a miss rather than returned corrupted.
func (m *Manager) decode(value []byte) []byte {
	if !m.compression.Enabled || value == nil {
		return value
	}
	if len(value) == 0 {
		return nil
	}
	switch value[0] {
	case frameRaw:
		return value[1:]
	case frameZstd:
		decoded, err := m.decoder.DecodeAll(value[1:], nil)
		if err != nil {
			return nil
		}
		return decoded
	default:
		return nil
	}
}
