package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

// Manager holds a nested configuration tree for one application context.
// The tree is deep-copied on Initialize so callers cannot mutate the
// manager's state through a retained reference, which keeps two contexts
// initialized from the same literal map fully isolated.
type Manager struct {
	mu          sync.RWMutex
	tree        map[string]any
	initialized bool
	listeners   []ChangeListener
	watcher     *watcher
}

// NewManager creates an empty configuration manager.
func NewManager() *Manager {
	return &Manager{}
}

// Initialize replaces the manager's tree with a deep copy of the supplied
// tree. Passing nil resets the manager to an empty, initialized state.
// Registered change listeners vet the replacement first: each is handed the
// old and new trees, and a listener error aborts the swap, leaving the
// previous tree in effect.
func (m *Manager) Initialize(tree map[string]any) error {
	next := copyTree(tree)

	m.mu.RLock()
	old := m.tree
	listeners := make([]ChangeListener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.RUnlock()

	for _, l := range listeners {
		if err := l.OnConfigChanged(old, next); err != nil {
			return fmt.Errorf("config: change listener rejected tree: %w", err)
		}
	}

	m.mu.Lock()
	m.tree = next
	m.initialized = true
	m.mu.Unlock()
	return nil
}

// Initialized reports whether the manager holds a tree.
func (m *Manager) Initialized() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.initialized
}

// Get returns the value at a dot-separated path, or def when the path does
// not resolve. Intermediate nodes must be maps.
func (m *Manager) Get(path string, def any) any {
	if v, ok := m.Lookup(path); ok {
		return v
	}
	return def
}

// Lookup returns the value at a dot-separated path and whether it exists.
func (m *Manager) Lookup(path string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.initialized {
		return nil, false
	}
	return lookupPath(m.tree, path)
}

// Sub returns the map-valued section at path. The boolean result separates
// "section absent" from "section present but empty": an empty map yields
// (empty, true), a missing path or a non-map value yields (nil, false).
func (m *Manager) Sub(path string) (map[string]any, bool) {
	v, ok := m.Lookup(path)
	if !ok {
		return nil, false
	}
	sub, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	return copyTree(sub), true
}

// Section returns the section at path or a MissingSectionError. Used by the
// adapter registry's auto-initialize lookup, where absence is fatal.
func (m *Manager) Section(path string) (map[string]any, error) {
	m.mu.RLock()
	initialized := m.initialized
	m.mu.RUnlock()
	if !initialized {
		return nil, ErrNotInitialized
	}
	sub, ok := m.Sub(path)
	if !ok {
		return nil, &MissingSectionError{Path: path}
	}
	return sub, nil
}

// AddChangeListener registers a listener invoked after every Initialize or
// file reload.
func (m *Manager) AddChangeListener(l ChangeListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// LoadFile reads a configuration file via viper and installs its contents as
// the manager's tree. Environment variables prefixed with envPrefix override
// file values (dots become underscores). The file format is inferred from the
// extension.
func (m *Manager) LoadFile(path string, envPrefix string) error {
	tree, err := readFile(path, envPrefix)
	if err != nil {
		return err
	}
	return m.Initialize(tree)
}

// Close stops file watching, if active.
func (m *Manager) Close() error {
	m.mu.Lock()
	w := m.watcher
	m.watcher = nil
	m.mu.Unlock()
	if w == nil {
		return nil
	}
	return w.close()
}

func readFile(path string, envPrefix string) (map[string]any, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if envPrefix != "" {
		v.AutomaticEnv()
		v.SetEnvPrefix(strings.ToUpper(envPrefix))
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	}
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s failed: %w", path, err)
	}
	return v.AllSettings(), nil
}

func lookupPath(tree map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	parts := strings.Split(path, ".")
	var node any = tree
	for _, part := range parts {
		sub, ok := node.(map[string]any)
		if !ok {
			return nil, false
		}
		node, ok = sub[part]
		if !ok {
			return nil, false
		}
	}
	return node, true
}

// copyTree deep-copies map and slice nodes; leaf values are shared, which is
// safe because leaves are treated as immutable by all consumers.
func copyTree(tree map[string]any) map[string]any {
	out := make(map[string]any, len(tree))
	for k, v := range tree {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyTree(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	default:
		return v
	}
}
