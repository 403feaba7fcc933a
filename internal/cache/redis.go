package cache

import (
	"context"
	stderrors "errors"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/petrelql/petrel/pkg/errors"
)

// DefaultRedisPort is used when the configured address has no port.
const DefaultRedisPort = "6379"

// RedisBackend talks RESP to a single Redis or Valkey server. Valkey is
// protocol-compatible with Redis, so both variants share this client and
// differ only in their configuration surface and reported name.
type RedisBackend struct {
	client *redis.Client
	name   string
}

// NewRedisBackend creates a client for addr, given as "host[:port]" or a
// redis:// URL. A malformed address fails the constructor; connections are
// established lazily.
func NewRedisBackend(addr string, opts Options) (*RedisBackend, error) {
	return newRedisBackend(addr, opts, BackendRedis)
}

// NewValkeyBackend creates a client for a Valkey server. See NewRedisBackend.
func NewValkeyBackend(addr string, opts Options) (*RedisBackend, error) {
	return newRedisBackend(addr, opts, BackendValkey)
}

func newRedisBackend(addr string, opts Options, name string) (*RedisBackend, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.Newf(errors.ErrCodeInvalidConfig, "%s server address is empty", name).WithComponent("cache")
	}
	opts = opts.withDefaults()

	var clientOpts *redis.Options
	if strings.Contains(addr, "://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInvalidConfig, "malformed "+name+" URL").WithComponent("cache")
		}
		clientOpts = parsed
	} else {
		if !strings.Contains(addr, ":") {
			addr = addr + ":" + DefaultRedisPort
		}
		clientOpts = &redis.Options{Addr: addr}
	}

	clientOpts.DialTimeout = opts.ConnectTimeout
	clientOpts.ReadTimeout = opts.OperationTimeout
	clientOpts.WriteTimeout = opts.OperationTimeout
	// The circuit breaker owns failure handling; internal retries only
	// delay the trip.
	clientOpts.MaxRetries = -1

	return &RedisBackend{client: redis.NewClient(clientOpts), name: name}, nil
}

func (b *RedisBackend) Get(ctx context.Context, key []byte) ([]byte, error) {
	value, err := b.client.Get(ctx, string(key)).Bytes()
	if err != nil {
		if stderrors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	return value, nil
}

func (b *RedisBackend) Set(ctx context.Context, key, value []byte) error {
	return b.client.Set(ctx, string(key), value, 0).Err()
}

func (b *RedisBackend) Delete(ctx context.Context, key []byte) error {
	return b.client.Del(ctx, string(key)).Err()
}

func (b *RedisBackend) Name() string {
	return b.name
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}
