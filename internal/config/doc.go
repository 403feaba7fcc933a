/*
Package config loads and validates engine configuration from YAML files and
environment variables.

# Precedence

	┌─────────────────────────────────────────────┐
	│        Environment Variables                │ ← Highest Priority
	│   (PETREL_*, MEMCACHED_SERVER, ...)         │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│         Configuration File                  │
	│            (YAML format)                    │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│           Default Values                    │ ← Lowest Priority
	└─────────────────────────────────────────────┘

# Environment Variables

Backend selection follows the convention that naming a server implies the
backend:

	MEMCACHED_SERVER="cache.internal:11211"   # selects memcached
	REDIS_SERVER="redis.internal:6379"        # selects redis
	VALKEY_SERVER="valkey.internal:6379"      # selects valkey
	PETREL_CACHE_BACKEND="redis"              # explicit override

Tuning knobs:

	PETREL_LOCAL_BUFFER_SIZE="268435456"      # arena size in bytes
	PETREL_MAX_CACHE_EVICTIONS_PER_QUERY="64"

# Usage

	c, err := config.Load("/etc/petrel/petrel.yaml")
	if err != nil {
		return err
	}
	if err := c.ApplyEnv(); err != nil {
		return err
	}
	manager, err := config.BuildManager(c)

Load overlays the file onto defaults, so a partial file is fine. Every entry
point validates; a configuration that passed Load and ApplyEnv is safe to
hand to BuildManager.

BuildManager constructs the remote cache tier the configuration describes.
A remote backend named without a server address yields a pre-tripped client,
so the engine runs local-only instead of timing out on every query.
*/
package config
