package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/petrelql/petrel/internal/cache"
	"github.com/petrelql/petrel/pkg/errors"
	"github.com/petrelql/petrel/pkg/logging"
)

// Environment keys consumed by ApplyEnv. The <BACKEND>_SERVER keys follow
// the convention of naming the server for one backend; setting one selects
// that backend unless PETREL_CACHE_BACKEND overrides the choice.
const (
	EnvCacheBackend      = "PETREL_CACHE_BACKEND"
	EnvMemcachedServer   = "MEMCACHED_SERVER"
	EnvRedisServer       = "REDIS_SERVER"
	EnvValkeyServer      = "VALKEY_SERVER"
	EnvLocalBufferSize   = "PETREL_LOCAL_BUFFER_SIZE"
	EnvMaxCacheEvictions = "PETREL_MAX_CACHE_EVICTIONS_PER_QUERY"
)

// Config represents the buffer/cache subsystem configuration.
type Config struct {
	Pool    PoolConfig        `yaml:"pool"`
	Cache   RemoteCacheConfig `yaml:"cache"`
	Logging LoggingConfig     `yaml:"logging"`
}

// PoolConfig tunes the local memory pool and its consumer.
type PoolConfig struct {
	// LocalBufferSize is the arena capacity in bytes.
	LocalBufferSize int `yaml:"local_buffer_size"`

	// MaxEvictionsPerQuery bounds buffer pool evictions per query.
	MaxEvictionsPerQuery int `yaml:"max_evictions_per_query"`
}

// RemoteCacheConfig selects and tunes the remote cache backend.
type RemoteCacheConfig struct {
	// Backend is one of: null, memory, memcached, redis, valkey. Empty
	// selects null.
	Backend string `yaml:"backend"`

	// Server is the backend address, "host[:port]" or a URL for
	// redis/valkey. Empty means the server is absent: the client starts
	// pre-tripped rather than timing out on first use.
	Server string `yaml:"server"`

	// MemoryCapacity bounds the in-process memory backend, in bytes.
	MemoryCapacity int64 `yaml:"memory_capacity"`

	ConnectTimeout   time.Duration `yaml:"connect_timeout"`
	OperationTimeout time.Duration `yaml:"operation_timeout"`

	Compression cache.CompressionConfig `yaml:"compression"`
}

// LoggingConfig tunes subsystem logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns the configuration used when nothing is supplied:
// a 256MiB local arena and no remote cache.
func DefaultConfig() *Config {
	return &Config{
		Pool: PoolConfig{
			LocalBufferSize:      256 * 1024 * 1024,
			MaxEvictionsPerQuery: 64,
		},
		Cache: RemoteCacheConfig{
			Backend:          cache.BackendNull,
			ConnectTimeout:   cache.DefaultTimeout,
			OperationTimeout: cache.DefaultTimeout,
		},
		Logging: LoggingConfig{
			Level: "INFO",
		},
	}
}

// Load reads and validates a yaml configuration file, filling unset fields
// from the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeMissingConfig, "read config file").WithComponent("config")
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInvalidConfig, "parse config file").WithComponent("config")
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// ApplyEnv overlays environment settings onto the configuration. Explicit
// yaml settings lose to the environment, matching how deployments point a
// running engine at a cache server without editing files.
func (c *Config) ApplyEnv() error {
	if server := os.Getenv(EnvMemcachedServer); server != "" {
		c.Cache.Backend = cache.BackendMemcached
		c.Cache.Server = server
	}
	if server := os.Getenv(EnvRedisServer); server != "" {
		c.Cache.Backend = cache.BackendRedis
		c.Cache.Server = server
	}
	if server := os.Getenv(EnvValkeyServer); server != "" {
		c.Cache.Backend = cache.BackendValkey
		c.Cache.Server = server
	}
	if backend := os.Getenv(EnvCacheBackend); backend != "" {
		c.Cache.Backend = strings.ToLower(backend)
	}

	if raw := os.Getenv(EnvLocalBufferSize); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil {
			return errors.Newf(errors.ErrCodeInvalidConfig, "%s: %q is not a number", EnvLocalBufferSize, raw).WithComponent("config")
		}
		c.Pool.LocalBufferSize = size
	}
	if raw := os.Getenv(EnvMaxCacheEvictions); raw != "" {
		evictions, err := strconv.Atoi(raw)
		if err != nil {
			return errors.Newf(errors.ErrCodeInvalidConfig, "%s: %q is not a number", EnvMaxCacheEvictions, raw).WithComponent("config")
		}
		c.Pool.MaxEvictionsPerQuery = evictions
	}

	return c.Validate()
}

// Validate checks field values and reports the first problem with its path.
func (c *Config) Validate() error {
	if c.Pool.LocalBufferSize <= 0 {
		return errors.Newf(errors.ErrCodeInvalidConfig, "pool.local_buffer_size must be positive, got %d", c.Pool.LocalBufferSize).WithComponent("config")
	}
	if c.Pool.MaxEvictionsPerQuery < 0 {
		return errors.Newf(errors.ErrCodeInvalidConfig, "pool.max_evictions_per_query must not be negative, got %d", c.Pool.MaxEvictionsPerQuery).WithComponent("config")
	}

	switch c.Cache.Backend {
	case "", cache.BackendNull, cache.BackendMemory, cache.BackendMemcached, cache.BackendRedis, cache.BackendValkey:
	default:
		return errors.Newf(errors.ErrCodeInvalidConfig, "cache.backend: unknown backend %q", c.Cache.Backend).WithComponent("config")
	}
	if c.Cache.ConnectTimeout < 0 || c.Cache.OperationTimeout < 0 {
		return errors.New(errors.ErrCodeInvalidConfig, "cache timeouts must not be negative").WithComponent("config")
	}

	if c.Logging.Level != "" {
		if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
			return errors.Wrap(err, errors.ErrCodeInvalidConfig, "logging.level").WithComponent("config")
		}
	}
	return nil
}

// String renders the configuration for logging, yaml-shaped.
func (c *Config) String() string {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Sprintf("config{error: %v}", err)
	}
	return string(data)
}

// BuildManager constructs the cache manager described by the configuration.
// The client is built and owned explicitly here; whoever owns the buffer
// pool owns its lifetime.
//
// A remote backend configured with no server address yields a pre-tripped
// client: the cache is known-absent at start-up, so every call
// short-circuits instead of paying a connection timeout.
func BuildManager(c *Config) (*cache.Manager, error) {
	opts := cache.Options{
		ConnectTimeout:   c.Cache.ConnectTimeout,
		OperationTimeout: c.Cache.OperationTimeout,
	}

	var backend cache.Backend
	var err error

	switch c.Cache.Backend {
	case "", cache.BackendNull:
		backend = cache.NewNullBackend()
	case cache.BackendMemory:
		backend, err = cache.NewMemoryBackend(c.Cache.MemoryCapacity)
	case cache.BackendMemcached:
		if c.Cache.Server != "" {
			backend, err = cache.NewMemcachedBackend(c.Cache.Server, opts)
		}
	case cache.BackendRedis:
		if c.Cache.Server != "" {
			backend, err = cache.NewRedisBackend(c.Cache.Server, opts)
		}
	case cache.BackendValkey:
		if c.Cache.Server != "" {
			backend, err = cache.NewValkeyBackend(c.Cache.Server, opts)
		}
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidConfig, "cache.backend: unknown backend %q", c.Cache.Backend).WithComponent("config")
	}
	if err != nil {
		return nil, err
	}

	if backend == nil {
		logging.Default().WithComponent("config").Warn(
			"no server configured for %s cache, remote caching disabled", c.Cache.Backend)
	}

	return cache.NewManager(&cache.ManagerConfig{
		Client:           cache.NewResilientClient(backend),
		OperationTimeout: c.Cache.OperationTimeout,
		Compression:      c.Cache.Compression,
	})
}
