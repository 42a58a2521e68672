package adapter

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"go.uber.org/zap"

	"github.com/lcx/keel/config"
)

// ConfigSectionPrefix is the tree path under which adapter sections live.
const ConfigSectionPrefix = "adapters"

// Registry owns the adapters registered into one application context and the
// lazily constructed repository instances they provide.
//
// Capability resolution is last-write-wins across adapters: when two adapters
// claim the same capability, the factory of the most recently registered one
// is used. This is the override mechanic, not a conflict.
type Registry struct {
	mu       sync.Mutex
	cfg      *config.Manager
	logger   *zap.Logger
	adapters map[string]Adapter
	slots    map[reflect.Type]*slot
}

// slot holds the factory and the at-most-one constructed instance for a
// capability key. Construction happens under the slot lock, so concurrent
// resolvers of the same capability block on the in-flight construction and
// observe the same instance.
type slot struct {
	mu      sync.Mutex
	syncFn  func() (any, error)
	asyncFn func(context.Context) (any, error)
	built   bool
	value   any
}

// NewRegistry creates a registry reading auto-initialize sections from cfg.
// A nil logger is replaced with a no-op logger.
func NewRegistry(cfg *config.Manager, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		cfg:      cfg,
		logger:   logger,
		adapters: make(map[string]Adapter),
		slots:    make(map[reflect.Type]*slot),
	}
}

// SetConfigManager rewires the registry to another context's config manager.
// Used by appctx when a registry is injected from outside, so auto-initialize
// lookups stay scoped to the owning context.
func (r *Registry) SetConfigManager(cfg *config.Manager) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg = cfg
}

// SetLogger replaces the registry's logger.
func (r *Registry) SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
}

// RegisterAdapter constructs an adapter via factory and merges its repository
// factories into the registry. With autoInitialize true the adapter's config
// section ("adapters.<name>") is looked up in the owning context's config
// manager and passed to Initialize; a missing section is a fatal
// MissingConfigError. With autoInitialize false the caller must have
// initialized the adapter already.
func (r *Registry) RegisterAdapter(ctx context.Context, factory Factory, autoInitialize bool) (Adapter, error) {
	if factory == nil {
		return nil, fmt.Errorf("adapter: factory cannot be nil")
	}
	a, err := factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("adapter: factory failed: %w", err)
	}
	if a == nil || a.Name() == "" {
		return nil, fmt.Errorf("adapter: factory produced an unnamed adapter")
	}
	name := a.Name()

	r.mu.Lock()
	if _, exists := r.adapters[name]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("adapter %s already registered", name)
	}
	cfg := r.cfg
	logger := r.logger
	r.mu.Unlock()

	if autoInitialize {
		if cfg == nil {
			return nil, &MissingConfigError{Adapter: name, Err: config.ErrNotInitialized}
		}
		section, err := cfg.Section(ConfigSectionPrefix + "." + name)
		if err != nil {
			return nil, &MissingConfigError{Adapter: name, Err: err}
		}
		if err := a.Initialize(ctx, section); err != nil {
			return nil, fmt.Errorf("adapter %s initialize failed: %w", name, err)
		}
	}

	r.mu.Lock()
	if _, exists := r.adapters[name]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("adapter %s already registered", name)
	}
	r.adapters[name] = a
	entries := a.factories()
	for _, e := range entries {
		s, ok := r.slots[e.key]
		if !ok {
			s = &slot{}
			r.slots[e.key] = s
		}
		// Later adapters override the factory. An already constructed
		// instance is kept: at most one instance per key per registry.
		s.mu.Lock()
		s.syncFn = e.syncFn
		s.asyncFn = e.asyncFn
		s.mu.Unlock()
	}
	r.mu.Unlock()

	logger.Info("adapter registered",
		zap.String("name", name),
		zap.String("version", a.Version()),
		zap.Int("repositories", len(entries)),
		zap.Bool("auto_initialize", autoInitialize))
	return a, nil
}

// Adapter returns a previously registered adapter by name, for adapter-level
// operations beyond repository resolution.
func (r *Registry) Adapter(name string) (Adapter, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.adapters[name]
	return a, ok
}

// Names returns the registered adapter names, unordered.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	return names
}

// Resolve returns the repository implementing capability T, constructing it
// on first call. Capabilities registered only with an async factory must use
// ResolveContext instead.
func Resolve[T any](r *Registry) (T, error) {
	var zero T
	key := capabilityOf[T]()
	s, ok := r.slot(key)
	if !ok {
		return zero, &NotRegisteredError{Capability: key.String()}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.built {
		return s.value.(T), nil
	}
	if s.syncFn == nil {
		return zero, fmt.Errorf("adapter: capability %s has an async-only factory, use ResolveContext", key)
	}
	v, err := s.syncFn()
	if err != nil {
		return zero, fmt.Errorf("adapter: constructing %s failed: %w", key, err)
	}
	s.value = v
	s.built = true
	return v.(T), nil
}

// ResolveContext is the context-aware variant of Resolve. It accepts both
// sync and async factories; for async factories the first caller's context
// bounds the construction.
func ResolveContext[T any](ctx context.Context, r *Registry) (T, error) {
	var zero T
	key := capabilityOf[T]()
	s, ok := r.slot(key)
	if !ok {
		return zero, &NotRegisteredError{Capability: key.String()}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.built {
		return s.value.(T), nil
	}
	var (
		v   any
		err error
	)
	switch {
	case s.asyncFn != nil:
		v, err = s.asyncFn(ctx)
	case s.syncFn != nil:
		v, err = s.syncFn()
	default:
		return zero, &NotRegisteredError{Capability: key.String()}
	}
	if err != nil {
		return zero, fmt.Errorf("adapter: constructing %s failed: %w", key, err)
	}
	s.value = v
	s.built = true
	return v.(T), nil
}

// Has reports whether a factory is registered for capability T, regardless of
// whether the instance has been constructed yet.
func Has[T any](r *Registry) bool {
	_, ok := r.slot(capabilityOf[T]())
	return ok
}

func (r *Registry) slot(key reflect.Type) (*slot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[key]
	return s, ok
}
