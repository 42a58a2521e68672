// Package plugin provides the feature plugin registry: an ordered collection
// of plugins driven through a staged lifecycle (register, init, start, stop)
// with host application lifecycle forwarding. Each registry belongs to one
// application context; there is no package-level plugin state.
package plugin

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lcx/keel/adapter"
	"github.com/lcx/keel/config"
	"github.com/lcx/keel/event"
	"github.com/lcx/keel/hook"
)

// Plugin is a named, versioned feature unit. A plugin is owned by exactly one
// registry for its lifetime and moves monotonically through
// Registered -> Initialized -> Started -> Stopped. The registry never invokes
// a hook out of order or twice.
type Plugin interface {
	Name() string
	Version() string

	// OnRegister fires synchronously during Register. It is the side-effect
	// phase for wiring hooks and actions; no I/O is expected to complete here.
	OnRegister(host Host) error

	OnInit(ctx context.Context) error
	OnStart(ctx context.Context) error
	OnStop(ctx context.Context) error

	// OnAppLifecycle receives host application lifecycle transitions.
	OnAppLifecycle(ctx context.Context, state AppLifecycleState) error
}

// Factory produces a Plugin instance for registration.
type Factory func() Plugin

// Host is the view of the owning application context handed to plugins. It
// exposes the context's scoped services; plugins resolve repositories through
// Adapters using adapter.Resolve.
type Host interface {
	// ID identifies the owning context instance.
	ID() string
	Config() *config.Manager
	Adapters() *adapter.Registry
	Hooks() *hook.Dispatcher
	Events() *event.Bus
	Logger() *zap.Logger
}

// AppLifecycleState is a host application lifecycle transition forwarded to
// every plugin in registration order.
type AppLifecycleState string

const (
	StateResumed  AppLifecycleState = "resumed"
	StateInactive AppLifecycleState = "inactive"
	StatePaused   AppLifecycleState = "paused"
	StateDetached AppLifecycleState = "detached"
)

// Status is the registry's view of a plugin's lifecycle position.
type Status int

const (
	StatusUnknown Status = iota
	StatusRegistered
	StatusInitialized
	StatusStarted
	StatusStopped
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusRegistered:
		return "registered"
	case StatusInitialized:
		return "initialized"
	case StatusStarted:
		return "started"
	case StatusStopped:
		return "stopped"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Phase names a lifecycle stage, used in errors and phase observations.
type Phase string

const (
	PhaseRegister  Phase = "register"
	PhaseInit      Phase = "init"
	PhaseStart     Phase = "start"
	PhaseStop      Phase = "stop"
	PhaseLifecycle Phase = "lifecycle"
)

// PhaseError reports a plugin failing a lifecycle phase. The registry
// propagates it to the caller; only the bootstrapper converts it into a
// report entry.
type PhaseError struct {
	Plugin string
	Phase  Phase
	Err    error
}

func NewPhaseError(plugin string, phase Phase, err error) *PhaseError {
	return &PhaseError{Plugin: plugin, Phase: phase, Err: err}
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("plugin %s %s failed: %v", e.Plugin, e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error { return e.Err }

// Info is a snapshot of one plugin's registry state.
type Info struct {
	Name      string
	Version   string
	Status    Status
	StartTime time.Time
	StopTime  time.Time
	Err       error
}

// Route is one entry of a plugin's route table. The table is opaque to the
// registry; it is collected verbatim for an external router collaborator.
type Route struct {
	Name    string
	Path    string
	Handler any
}

// RouteProvider is optionally implemented by plugins exposing a route table.
type RouteProvider interface {
	Routes() []Route
}

// PhaseObserver receives one observation per plugin lifecycle hook
// invocation. Used by the metrics collector; the registry itself stays free
// of metric dependencies.
type PhaseObserver interface {
	ObservePhase(plugin string, phase Phase, elapsed time.Duration, err error)
}
