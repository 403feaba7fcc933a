package cache

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrelql/petrel/pkg/errors"
)

func TestNullBackend(t *testing.T) {
	ctx := context.Background()
	backend := NewNullBackend()

	require.NoError(t, backend.Set(ctx, []byte("k"), []byte("v")))
	value, err := backend.Get(ctx, []byte("k"))
	require.NoError(t, err)
	assert.Nil(t, value, "the null backend always misses")

	require.NoError(t, backend.Delete(ctx, []byte("k")))
	assert.Equal(t, BackendNull, backend.Name())
	require.NoError(t, backend.Close())
}

func TestMemoryBackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	backend, err := NewMemoryBackend(1 << 20)
	require.NoError(t, err)
	defer backend.Close()

	key := []byte("segment/2026/08/blob.parquet")
	value := []byte("columnar bytes")

	got, err := backend.Get(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, backend.Set(ctx, key, value))
	got, err = backend.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, value, got)

	// The backend stores a copy.
	value[0] = 'X'
	got, err = backend.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, byte('c'), got[0])

	require.NoError(t, backend.Delete(ctx, key))
	got, err = backend.Get(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestResolveMemcachedAddr(t *testing.T) {
	tests := []struct {
		name    string
		addr    string
		want    string
		wantErr bool
	}{
		{name: "host only gets default port", addr: "cache.internal", want: "cache.internal:11211"},
		{name: "host and port pass through", addr: "cache.internal:11300", want: "cache.internal:11300"},
		{name: "whitespace trimmed", addr: "  localhost:11211 ", want: "localhost:11211"},
		{name: "empty is invalid", addr: "", wantErr: true},
		{name: "blank is invalid", addr: "   ", wantErr: true},
		{name: "missing host is invalid", addr: ":11211", wantErr: true},
		{name: "non-numeric port is invalid", addr: "cache.internal:eleven", wantErr: true},
		{name: "too many colons is invalid", addr: "cache:11211:extra", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveMemcachedAddr(tt.addr)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidConfig))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewMemcachedBackend(t *testing.T) {
	backend, err := NewMemcachedBackend("localhost", Options{})
	require.NoError(t, err)
	assert.Equal(t, BackendMemcached, backend.Name())
	require.NoError(t, backend.Close())

	_, err = NewMemcachedBackend("bad:addr:extra", Options{})
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidConfig))
}

func TestNewRedisBackend(t *testing.T) {
	t.Run("bare host gets default port", func(t *testing.T) {
		backend, err := NewRedisBackend("cache.internal", Options{})
		require.NoError(t, err)
		assert.Equal(t, BackendRedis, backend.Name())
		require.NoError(t, backend.Close())
	})

	t.Run("URL form accepted", func(t *testing.T) {
		backend, err := NewRedisBackend("redis://cache.internal:6380/2", Options{})
		require.NoError(t, err)
		require.NoError(t, backend.Close())
	})

	t.Run("malformed URL fails construction", func(t *testing.T) {
		_, err := NewRedisBackend("redis://[invalid", Options{})
		require.Error(t, err)
		assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidConfig))
	})

	t.Run("empty address fails construction", func(t *testing.T) {
		_, err := NewRedisBackend("", Options{})
		assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidConfig))
	})

	t.Run("valkey variant reports its own name", func(t *testing.T) {
		backend, err := NewValkeyBackend("valkey.internal:6379", Options{})
		require.NoError(t, err)
		assert.Equal(t, BackendValkey, backend.Name())
		require.NoError(t, backend.Close())
	})
}

func TestEncodeKey(t *testing.T) {
	t.Run("printable keys pass through", func(t *testing.T) {
		assert.Equal(t, "table/part-0001", encodeKey([]byte("table/part-0001")))
	})

	t.Run("binary keys are digested", func(t *testing.T) {
		encoded := encodeKey([]byte{0x00, 0x01, 0xff})
		assert.Len(t, encoded, 64)
		assert.NotContains(t, encoded, " ")
	})

	t.Run("keys with spaces are digested", func(t *testing.T) {
		encoded := encodeKey([]byte("two words"))
		assert.Len(t, encoded, 64)
	})

	t.Run("oversize keys are digested", func(t *testing.T) {
		long := strings.Repeat("k", memcachedKeyLimit+1)
		assert.Len(t, encodeKey([]byte(long)), 64)
	})

	t.Run("digest is stable", func(t *testing.T) {
		assert.Equal(t, encodeKey([]byte{0x00}), encodeKey([]byte{0x00}))
	})
}
