package plugin

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Registry owns the ordered list of plugins of one application context and
// drives them through their lifecycle. Init and start run in registration
// order, one plugin at a time; stop runs in reverse registration order.
//
// Failure policy: InitAll and StartAll are per-phase fatal, stopping at the
// first failing plugin and returning its PhaseError. StopAll and
// NotifyAppLifecycle visit every eligible plugin and return the aggregate
// error, since teardown and lifecycle fan-out must not be cut short by one
// failing plugin. The registry never swallows an error.
type Registry struct {
	mu       sync.Mutex
	host     Host
	logger   *zap.Logger
	observer PhaseObserver
	plugins  []Plugin
	infos    map[string]*Info
}

// NewRegistry creates an empty plugin registry. The host is usually wired in
// afterwards by the owning context via SetHost.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		logger: logger,
		infos:  make(map[string]*Info),
	}
}

// SetHost wires the owning context into the registry. Plugins registered
// afterwards receive this host in OnRegister.
func (r *Registry) SetHost(h Host) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.host = h
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

// SetObserver installs a phase observer and returns the previous one, so a
// temporary observer can wrap and later restore it. Pass nil to remove it.
func (r *Registry) SetObserver(o PhaseObserver) PhaseObserver {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.observer
	r.observer = o
	return prev
}

// Register appends the plugin and fires OnRegister synchronously. A failing
// OnRegister leaves the plugin unregistered and returns a PhaseError.
func (r *Registry) Register(p Plugin) error {
	if p == nil {
		return fmt.Errorf("plugin cannot be nil")
	}
	name := p.Name()
	if name == "" {
		return fmt.Errorf("plugin name cannot be empty")
	}

	r.mu.Lock()
	if _, exists := r.infos[name]; exists {
		r.mu.Unlock()
		return fmt.Errorf("plugin %s already registered", name)
	}
	host := r.host
	logger := r.logger
	observer := r.observer
	r.mu.Unlock()

	began := time.Now()
	err := p.OnRegister(host)
	if observer != nil {
		observer.ObservePhase(name, PhaseRegister, time.Since(began), err)
	}
	if err != nil {
		return NewPhaseError(name, PhaseRegister, err)
	}

	r.mu.Lock()
	if _, exists := r.infos[name]; exists {
		r.mu.Unlock()
		return fmt.Errorf("plugin %s already registered", name)
	}
	r.plugins = append(r.plugins, p)
	r.infos[name] = &Info{
		Name:    name,
		Version: p.Version(),
		Status:  StatusRegistered,
	}
	r.mu.Unlock()

	logger.Info("plugin registered",
		zap.String("name", name), zap.String("version", p.Version()))
	return nil
}

// InitAll invokes OnInit on every registered plugin in registration order,
// one at a time. Ordering is a correctness requirement: later plugins may
// depend on resources earlier plugins set up. Stops at the first failure.
func (r *Registry) InitAll(ctx context.Context) error {
	logger := r.log()
	for _, p := range r.snapshot() {
		name := p.Name()
		status := r.status(name)
		if status != StatusRegistered {
			// Monotonic transitions only; never init twice.
			continue
		}

		logger.Info("initializing plugin", zap.String("name", name))
		if err := r.runPhase(ctx, p, PhaseInit, p.OnInit); err != nil {
			return err
		}
		r.setStatus(name, StatusInitialized)
		logger.Info("plugin initialized", zap.String("name", name))
	}
	return nil
}

// StartAll invokes OnStart in registration order with the same ordering
// discipline as InitAll. Every plugin must already be initialized; a plugin
// left in Registered state (for example after a failed InitAll) fails the
// phase.
func (r *Registry) StartAll(ctx context.Context) error {
	logger := r.log()
	for _, p := range r.snapshot() {
		name := p.Name()
		switch r.status(name) {
		case StatusStarted:
			continue
		case StatusInitialized:
		default:
			return NewPhaseError(name, PhaseStart,
				fmt.Errorf("plugin is %s, expected initialized", r.status(name)))
		}

		logger.Info("starting plugin", zap.String("name", name))
		if err := r.runPhase(ctx, p, PhaseStart, p.OnStart); err != nil {
			return err
		}
		r.withInfo(name, func(info *Info) {
			info.Status = StatusStarted
			info.StartTime = time.Now()
		})
		logger.Info("plugin started", zap.String("name", name))
	}
	return nil
}

// StopAll invokes OnStop in reverse registration order: last started, first
// stopped. Plugins that never started are skipped. Unlike InitAll/StartAll,
// teardown visits every started plugin even when one fails; the aggregate
// error is returned.
func (r *Registry) StopAll(ctx context.Context) error {
	logger := r.log()
	plugins := r.snapshot()
	var errs error
	for i := len(plugins) - 1; i >= 0; i-- {
		p := plugins[i]
		name := p.Name()
		if r.status(name) != StatusStarted {
			continue
		}

		logger.Info("stopping plugin", zap.String("name", name))
		if err := r.runPhase(ctx, p, PhaseStop, p.OnStop); err != nil {
			errs = multierr.Append(errs, err)
			logger.Error("plugin stop failed", zap.String("name", name), zap.Error(err))
			continue
		}
		r.withInfo(name, func(info *Info) {
			info.Status = StatusStopped
			info.StopTime = time.Now()
		})
		logger.Info("plugin stopped", zap.String("name", name))
	}
	return errs
}

// NotifyAppLifecycle forwards a host lifecycle transition to every plugin in
// registration order. Delivery is sequential so no plugin reorders relative
// to another, and continues past per-plugin failures; the aggregate error is
// returned.
func (r *Registry) NotifyAppLifecycle(ctx context.Context, state AppLifecycleState) error {
	logger := r.log()
	var errs error
	for _, p := range r.snapshot() {
		name := p.Name()
		began := time.Now()
		err := p.OnAppLifecycle(ctx, state)
		r.observe(name, PhaseLifecycle, time.Since(began), err)
		if err != nil {
			errs = multierr.Append(errs, NewPhaseError(name, PhaseLifecycle, err))
			logger.Error("plugin lifecycle notify failed",
				zap.String("name", name), zap.String("state", string(state)), zap.Error(err))
		}
	}
	return errs
}

// Plugin returns a registered plugin by name, or nil.
func (r *Registry) Plugin(name string) Plugin {
	for _, p := range r.snapshot() {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// Info returns a snapshot of one plugin's registry state.
func (r *Registry) Info(name string) (Info, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.infos[name]
	if !ok {
		return Info{}, fmt.Errorf("plugin %s not found", name)
	}
	return *info, nil
}

// List returns snapshots for all plugins in registration order.
func (r *Registry) List() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Info, 0, len(r.plugins))
	for _, p := range r.plugins {
		out = append(out, *r.infos[p.Name()])
	}
	return out
}

// RouteTables collects the route tables of plugins implementing
// RouteProvider, keyed by plugin name, in no particular order. The tables are
// forwarded untouched to the external router.
func (r *Registry) RouteTables() map[string][]Route {
	tables := make(map[string][]Route)
	for _, p := range r.snapshot() {
		if rp, ok := p.(RouteProvider); ok {
			tables[p.Name()] = rp.Routes()
		}
	}
	return tables
}

// runPhase executes one lifecycle hook outside the registry lock, records the
// observation, and on failure marks the plugin's status as errored.
func (r *Registry) runPhase(ctx context.Context, p Plugin, phase Phase, fn func(context.Context) error) error {
	name := p.Name()
	began := time.Now()
	err := fn(ctx)
	r.observe(name, phase, time.Since(began), err)
	if err != nil {
		r.withInfo(name, func(info *Info) {
			info.Status = StatusError
			info.Err = err
		})
		return NewPhaseError(name, phase, err)
	}
	return nil
}

func (r *Registry) log() *zap.Logger {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.logger
}

func (r *Registry) snapshot() []Plugin {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Plugin, len(r.plugins))
	copy(out, r.plugins)
	return out
}

func (r *Registry) status(name string) Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if info, ok := r.infos[name]; ok {
		return info.Status
	}
	return StatusUnknown
}

func (r *Registry) setStatus(name string, s Status) {
	r.withInfo(name, func(info *Info) { info.Status = s })
}

func (r *Registry) withInfo(name string, fn func(*Info)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if info, ok := r.infos[name]; ok {
		fn(info)
	}
}

func (r *Registry) observe(name string, phase Phase, elapsed time.Duration, err error) {
	r.mu.Lock()
	o := r.observer
	r.mu.Unlock()
	if o != nil {
		o.ObservePhase(name, phase, elapsed, err)
	}
}
