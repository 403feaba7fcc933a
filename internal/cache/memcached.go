package cache

import (
	"context"
	stderrors "errors"
	"net"
	"strconv"
	"strings"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/petrelql/petrel/pkg/errors"
)

// DefaultMemcachedPort is used when the configured address has no port.
const DefaultMemcachedPort = 11211

// MemcachedBackend talks the memcached protocol to a single server.
type MemcachedBackend struct {
	client *memcache.Client
	addr   string
}

// NewMemcachedBackend creates a memcached client for addr, given as
// "host[:port]". A malformed address is a configuration mistake and fails
// the constructor; the connection itself is established lazily, so an
// unreachable server surfaces as operation errors, not here.
func NewMemcachedBackend(addr string, opts Options) (*MemcachedBackend, error) {
	resolved, err := resolveMemcachedAddr(addr)
	if err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	client := memcache.New(resolved)
	client.Timeout = opts.OperationTimeout
	return &MemcachedBackend{client: client, addr: resolved}, nil
}

// resolveMemcachedAddr validates "host[:port]" and applies the default port.
func resolveMemcachedAddr(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", errors.New(errors.ErrCodeInvalidConfig, "memcached server address is empty").WithComponent("cache")
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		// No port in the address; accept a bare host.
		if strings.Contains(addr, ":") {
			return "", errors.Newf(errors.ErrCodeInvalidConfig, "malformed memcached address %q", addr).WithComponent("cache")
		}
		return net.JoinHostPort(addr, strconv.Itoa(DefaultMemcachedPort)), nil
	}
	if host == "" {
		return "", errors.Newf(errors.ErrCodeInvalidConfig, "malformed memcached address %q", addr).WithComponent("cache")
	}
	if _, err := strconv.Atoi(port); err != nil {
		return "", errors.Newf(errors.ErrCodeInvalidConfig, "malformed memcached port in %q", addr).WithComponent("cache")
	}
	return net.JoinHostPort(host, port), nil
}

func (b *MemcachedBackend) Get(ctx context.Context, key []byte) ([]byte, error) {
	item, err := b.client.Get(encodeKey(key))
	if err != nil {
		if stderrors.Is(err, memcache.ErrCacheMiss) {
			return nil, nil
		}
		return nil, err
	}
	return item.Value, nil
}

func (b *MemcachedBackend) Set(ctx context.Context, key, value []byte) error {
	return b.client.Set(&memcache.Item{Key: encodeKey(key), Value: value})
}

func (b *MemcachedBackend) Delete(ctx context.Context, key []byte) error {
	err := b.client.Delete(encodeKey(key))
	if stderrors.Is(err, memcache.ErrCacheMiss) {
		// Deleting an absent key is not a failure.
		return nil
	}
	return err
}

func (b *MemcachedBackend) Name() string {
	return BackendMemcached
}

func (b *MemcachedBackend) Close() error {
	return b.client.Close()
}
