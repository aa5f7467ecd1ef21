package features

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Flag names.
const (
	// FeatureCacheEnabled serves repeated rankings from the result cache
	FeatureCacheEnabled = "cache_enabled"
	// FeatureEventHooksEnabled publishes domain events
	FeatureEventHooksEnabled = "event_hooks_enabled"
	// FeatureParallelScoring scores offers on a worker pool
	FeatureParallelScoring = "parallel_scoring"
)

// ErrUnknownFlag is returned when toggling a flag that was never registered.
var ErrUnknownFlag = errors.New("features: unknown flag")

// FeatureFlag is the state of one flag.
type FeatureFlag struct {
	Name        string `json:"name"`
	Enabled     bool   `json:"enabled"`
	Description string `json:"description"`
}

// Manager holds runtime-toggleable flags. Unregistered flags read as off.
type Manager struct {
	mu    sync.RWMutex
	flags map[string]FeatureFlag
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{flags: make(map[string]FeatureFlag)}
}

// NewDefaultManager registers the service's flags with their initial state.
func NewDefaultManager(cacheEnabled, eventHooks, parallelScoring bool) *Manager {
	m := NewManager()
	m.Register(FeatureCacheEnabled, cacheEnabled, "Serve repeated rankings from the cache")
	m.Register(FeatureEventHooksEnabled, eventHooks, "Publish domain events")
	m.Register(FeatureParallelScoring, parallelScoring, "Score offers concurrently before sorting")
	return m
}

// Register adds a flag, replacing any flag of the same name.
func (m *Manager) Register(name string, enabled bool, description string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.flags[name] = FeatureFlag{Name: name, Enabled: enabled, Description: description}
}

// IsEnabled reports whether name is registered and on.
func (m *Manager) IsEnabled(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.flags[name].Enabled
}

// Set turns a registered flag on or off.
func (m *Manager) Set(name string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	flag, ok := m.flags[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownFlag, name)
	}
	flag.Enabled = enabled
	m.flags[name] = flag
	return nil
}

// List returns every flag sorted by name.
func (m *Manager) List() []FeatureFlag {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]FeatureFlag, 0, len(m.flags))
	for _, f := range m.flags {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
