// Package health tracks the operational state of the engine's buffer and
// cache subsystems for readiness reporting.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/petrelql/petrel/internal/cache"
	"github.com/petrelql/petrel/internal/pool"
)

// State is the health of a single component or of the subsystem overall.
type State int

const (
	// StateHealthy means the component is fully operational.
	StateHealthy State = iota

	// StateDegraded means the component works with reduced effect, such as
	// a tripped cache breaker forcing local-only operation.
	StateDegraded

	// StateUnavailable means the component is not operational.
	StateUnavailable
)

// String returns the string representation of a state.
func (s State) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Component names used by the engine.
const (
	ComponentPool  = "pool"
	ComponentCache = "cache"
)

// ComponentHealth is a snapshot of one component's state.
type ComponentHealth struct {
	Name              string    `json:"name"`
	State             State     `json:"state"`
	LastStateChange   time.Time `json:"last_state_change"`
	LastCheck         time.Time `json:"last_check"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
	LastErrorMessage  string    `json:"last_error_message,omitempty"`
}

// TrackerConfig configures state transition thresholds.
type TrackerConfig struct {
	// DegradedThreshold is the number of consecutive errors before a
	// component is marked degraded.
	DegradedThreshold int `yaml:"degraded_threshold"`

	// UnavailableThreshold is the number of consecutive errors before a
	// component is marked unavailable.
	UnavailableThreshold int `yaml:"unavailable_threshold"`

	// CheckInterval is the polling interval for Watch.
	CheckInterval time.Duration `yaml:"check_interval"`
}

// DefaultConfig returns thresholds suitable for production.
func DefaultConfig() TrackerConfig {
	return TrackerConfig{
		DegradedThreshold:    3,
		UnavailableThreshold: 10,
		CheckInterval:        30 * time.Second,
	}
}

// Tracker tracks per-component health and derives the overall state.
type Tracker struct {
	mu         sync.RWMutex
	components map[string]*ComponentHealth
	config     TrackerConfig
}

// NewTracker creates a tracker with the given thresholds.
func NewTracker(config TrackerConfig) *Tracker {
	if config.DegradedThreshold <= 0 {
		config.DegradedThreshold = DefaultConfig().DegradedThreshold
	}
	if config.UnavailableThreshold <= 0 {
		config.UnavailableThreshold = DefaultConfig().UnavailableThreshold
	}
	if config.CheckInterval <= 0 {
		config.CheckInterval = DefaultConfig().CheckInterval
	}
	return &Tracker{
		components: make(map[string]*ComponentHealth),
		config:     config,
	}
}

// Register adds a component in the healthy state. Registering an existing
// component is a no-op.
func (t *Tracker) Register(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.components[name]; !exists {
		t.components[name] = &ComponentHealth{
			Name:            name,
			State:           StateHealthy,
			LastStateChange: time.Now(),
			LastCheck:       time.Now(),
		}
	}
}

// RecordSuccess records a successful check and recovers the component.
func (t *Tracker) RecordSuccess(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, exists := t.components[name]
	if !exists {
		return
	}

	c.LastCheck = time.Now()
	c.ConsecutiveErrors = 0
	c.LastErrorMessage = ""
	if c.State != StateHealthy {
		c.State = StateHealthy
		c.LastStateChange = time.Now()
	}
}

// RecordError records a failed check and advances the component toward
// degraded and unavailable per the configured thresholds.
func (t *Tracker) RecordError(name string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, exists := t.components[name]
	if !exists {
		return
	}

	c.LastCheck = time.Now()
	c.ConsecutiveErrors++
	if err != nil {
		c.LastErrorMessage = err.Error()
	}

	newState := c.State
	switch {
	case c.ConsecutiveErrors >= t.config.UnavailableThreshold:
		newState = StateUnavailable
	case c.ConsecutiveErrors >= t.config.DegradedThreshold:
		newState = StateDegraded
	}
	if newState != c.State {
		c.State = newState
		c.LastStateChange = time.Now()
	}
}

// State returns the current state of a component. Unregistered components
// are unavailable.
func (t *Tracker) State(name string) State {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if c, exists := t.components[name]; exists {
		return c.State
	}
	return StateUnavailable
}

// Component returns a copy of a component's health snapshot.
func (t *Tracker) Component(name string) (ComponentHealth, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	c, exists := t.components[name]
	if !exists {
		return ComponentHealth{}, false
	}
	return *c, true
}

// Overall returns the worst state across all components. With no components
// registered the subsystem is healthy.
func (t *Tracker) Overall() State {
	t.mu.RLock()
	defer t.mu.RUnlock()

	overall := StateHealthy
	for _, c := range t.components {
		if c.State > overall {
			overall = c.State
		}
	}
	return overall
}

// ObservePool folds a pool snapshot into the pool component. A pool that
// rejects every recent commit is degraded, not broken: queries still run,
// they just stop caching locally.
func (t *Tracker) ObservePool(stats pool.Stats) {
	if stats.Commits+stats.FailedCommits == 0 {
		t.RecordSuccess(ComponentPool)
		return
	}
	if stats.AvailableSpace == 0 && stats.FailedCommits > stats.Commits {
		t.RecordError(ComponentPool, nil)
		return
	}
	t.RecordSuccess(ComponentPool)
}

// ObserveCache folds a cache client snapshot into the cache component. A
// tripped breaker marks the cache degraded immediately.
func (t *Tracker) ObserveCache(stats cache.Stats) {
	if stats.Tripped {
		t.mu.Lock()
		if c, exists := t.components[ComponentCache]; exists {
			if c.State == StateHealthy {
				c.State = StateDegraded
				c.LastStateChange = time.Now()
			}
			c.LastCheck = time.Now()
			c.LastErrorMessage = "circuit breaker tripped for backend " + stats.Backend
		}
		t.mu.Unlock()
		return
	}
	t.RecordSuccess(ComponentCache)
}

// Watch polls the given stat sources until the context is cancelled. Either
// source may be nil.
func (t *Tracker) Watch(ctx context.Context, poolStats func() pool.Stats, cacheStats func() cache.Stats) {
	ticker := time.NewTicker(t.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if poolStats != nil {
				t.ObservePool(poolStats())
			}
			if cacheStats != nil {
				t.ObserveCache(cacheStats())
			}
		}
	}
}
