// Package appctx provides the application context: the scoping unit owning
// one configuration manager, one adapter registry, one plugin registry, and
// the shared services (hook dispatcher, event bus, metrics collector) of one
// application instance. Contexts share nothing; several can coexist in one
// process, which is what makes isolated tests possible.
package appctx

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/lcx/keel/adapter"
	"github.com/lcx/keel/config"
	"github.com/lcx/keel/event"
	"github.com/lcx/keel/hook"
	"github.com/lcx/keel/metrics"
	"github.com/lcx/keel/plugin"
)

// Context owns one isolated set of registries and shared services. All
// cross-references between the owned objects point back into the same
// context: the adapter registry resolves auto-initialize sections from this
// context's config manager, and plugins registered into this context's
// plugin registry receive this context as their host.
type Context struct {
	id        string
	logger    *zap.Logger
	cfg       *config.Manager
	adapters  *adapter.Registry
	plugins   *plugin.Registry
	hooks     *hook.Dispatcher
	events    *event.Bus
	collector *metrics.Collector
}

// Option customizes context construction.
type Option func(*settings)

type settings struct {
	logger   *zap.Logger
	cfg      *config.Manager
	adapters *adapter.Registry
}

// WithLogger sets the context's logger. The default is a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// WithConfigManager supplies a pre-built (possibly pre-seeded) config
// manager instead of a fresh one. The context rewires its adapter registry to
// it, so auto-initialize behaves identically to the default path.
func WithConfigManager(cfg *config.Manager) Option {
	return func(s *settings) { s.cfg = cfg }
}

// WithAdapterRegistry supplies a pre-built adapter registry, typically
// pre-seeded for tests. The context rewires the registry's config manager and
// logger to its own.
func WithAdapterRegistry(r *adapter.Registry) Option {
	return func(s *settings) { s.adapters = r }
}

// New creates a context with brand-new owned objects, except where options
// inject pre-built ones. Injected objects are rewired to this context's
// collaborators, never shared implicitly with another context.
func New(opts ...Option) *Context {
	var s settings
	for _, opt := range opts {
		opt(&s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}

	c := &Context{
		id:     uuid.NewString(),
		logger: s.logger,
	}

	c.cfg = s.cfg
	if c.cfg == nil {
		c.cfg = config.NewManager()
	}

	c.adapters = s.adapters
	if c.adapters == nil {
		c.adapters = adapter.NewRegistry(c.cfg, c.logger)
	} else {
		c.adapters.SetConfigManager(c.cfg)
		c.adapters.SetLogger(c.logger)
	}

	c.collector = metrics.NewCollector(c.id)
	c.hooks = hook.NewDispatcher()
	c.events = event.NewBus(c.logger)

	c.plugins = plugin.NewRegistry(c.logger)
	c.plugins.SetHost(c)
	c.plugins.SetObserver(c.collector)

	return c
}

// ID identifies this context instance, used as a metric and log label.
func (c *Context) ID() string { return c.id }

// Config returns the context's configuration manager.
func (c *Context) Config() *config.Manager { return c.cfg }

// Adapters returns the context's adapter registry.
func (c *Context) Adapters() *adapter.Registry { return c.adapters }

// Plugins returns the context's plugin registry.
func (c *Context) Plugins() *plugin.Registry { return c.plugins }

// Hooks returns the context's hook dispatcher.
func (c *Context) Hooks() *hook.Dispatcher { return c.hooks }

// Events returns the context's event bus.
func (c *Context) Events() *event.Bus { return c.events }

// Logger returns the context's logger.
func (c *Context) Logger() *zap.Logger { return c.logger }

// Metrics returns the context's metrics collector.
func (c *Context) Metrics() *metrics.Collector { return c.collector }

// NotifyAppLifecycle forwards a host lifecycle transition to every plugin in
// registration order.
func (c *Context) NotifyAppLifecycle(ctx context.Context, state plugin.AppLifecycleState) error {
	return c.plugins.NotifyAppLifecycle(ctx, state)
}

// Close stops all started plugins in reverse order and releases the config
// manager's resources. Errors are aggregated; teardown is never cut short.
func (c *Context) Close(ctx context.Context) error {
	return multierr.Append(c.plugins.StopAll(ctx), c.cfg.Close())
}

// Repository resolves the repository implementing capability T from the
// context's adapter registry. Identical to calling adapter.Resolve on the
// registry directly, including the cached instance returned.
func Repository[T any](c *Context) (T, error) {
	return adapter.Resolve[T](c.Adapters())
}

// RepositoryContext is the context-aware variant of Repository, required for
// capabilities registered with async factories.
func RepositoryContext[T any](ctx context.Context, c *Context) (T, error) {
	return adapter.ResolveContext[T](ctx, c.Adapters())
}

// HasRepository reports whether a factory is registered for capability T.
func HasRepository[T any](c *Context) bool {
	return adapter.Has[T](c.Adapters())
}
