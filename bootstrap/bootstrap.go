// Package bootstrap provides the top-level boot orchestrator. Given an
// application context, a configuration tree, and plugin/adapter factories, it
// runs the full boot sequence and collects per-step failures and per-component
// timings into a Report instead of letting one failure abort the run.
package bootstrap

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gburgyan/go-timing"
	"go.uber.org/zap"

	"github.com/lcx/keel/adapter"
	"github.com/lcx/keel/appctx"
	"github.com/lcx/keel/plugin"
)

// Bootstrapper sequences the boot phases of one application context:
// config initialize, adapter registration with auto-initialize, plugin
// registration, InitAll, StartAll.
//
// Failure policy: a failing step is captured into the report and the run
// carries on to steps that do not depend on it; StartAll is skipped when
// InitAll failed, since starting uninitialized plugins would violate the
// lifecycle state machine. Only structural failures (nil context) surface as
// an error from Run.
type Bootstrapper struct {
	app    *appctx.Context
	logger *zap.Logger
}

// New creates a bootstrapper for the given context.
func New(app *appctx.Context) *Bootstrapper {
	var logger *zap.Logger
	if app != nil {
		logger = app.Logger()
	} else {
		logger = zap.NewNop()
	}
	return &Bootstrapper{app: app, logger: logger}
}

// Run executes the boot sequence and returns its report. The report's
// Failures map is empty iff every step completed. Per-step timings are also
// recorded on a go-timing hierarchy rooted below ctx and observed by the
// context's metrics collector.
func (b *Bootstrapper) Run(ctx context.Context, cfg map[string]any, plugins []plugin.Factory, adapters []adapter.Factory) (*Report, error) {
	if b.app == nil {
		return nil, fmt.Errorf("bootstrap: application context cannot be nil")
	}
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config tree cannot be nil")
	}

	report := newReport()
	tctx := timing.Root(ctx)

	// Route per-plugin phase timings into the report while still feeding
	// whatever observer was installed before the run. The previous observer is
	// restored on return so the report stops changing once Run completes.
	recorder := &phaseRecorder{report: report}
	recorder.next = b.app.Plugins().SetObserver(recorder)
	defer b.app.Plugins().SetObserver(recorder.next)

	if err := b.step(tctx, report, StepConfigInitialize, func(context.Context) error {
		return b.app.Config().Initialize(cfg)
	}); err != nil {
		// Without configuration, nothing downstream can run: a rejected tree
		// is a config-shape failure and is fatal.
		return report, fmt.Errorf("bootstrap: config initialize failed: %w", err)
	}

	_ = b.step(tctx, report, StepAdapterRegister, func(stepCtx context.Context) error {
		for _, factory := range adapters {
			began := time.Now()
			a, err := b.app.Adapters().RegisterAdapter(stepCtx, factory, true)
			if err != nil {
				return err
			}
			report.AdapterTimings[a.Name()] = time.Since(began)
		}
		return nil
	})

	_ = b.step(tctx, report, StepPluginRegister, func(context.Context) error {
		for _, factory := range plugins {
			if err := b.app.Plugins().Register(factory()); err != nil {
				return err
			}
		}
		return nil
	})

	initErr := b.step(tctx, report, StepPluginInitAll, func(stepCtx context.Context) error {
		return b.app.Plugins().InitAll(stepCtx)
	})

	if initErr == nil {
		_ = b.step(tctx, report, StepPluginStartAll, func(stepCtx context.Context) error {
			return b.app.Plugins().StartAll(stepCtx)
		})
	} else {
		b.logger.Warn("skipping plugin start, init failed", zap.Error(initErr))
	}

	if report.Failed() {
		b.logger.Warn("bootstrap completed with failures", zap.Int("failures", len(report.Failures)))
	} else {
		b.logger.Info("bootstrap completed",
			zap.Int("adapters", len(report.AdapterTimings)),
			zap.Int("plugins", len(report.PluginTimings)))
	}
	return report, nil
}

// step times one named step, records its outcome in the report and the
// context's metrics, and returns the step error for control-flow decisions.
func (b *Bootstrapper) step(ctx context.Context, report *Report, name string, fn func(context.Context) error) error {
	stepCtx, complete := timing.Start(ctx, name)
	began := time.Now()
	err := fn(stepCtx)
	elapsed := time.Since(began)
	complete()

	report.StepDurations[name] = elapsed
	b.app.Metrics().ObserveStep(name, elapsed, err)
	if err != nil {
		report.Failures[name] = err
		b.logger.Error("bootstrap step failed", zap.String("step", name), zap.Error(err))
		return err
	}
	b.logger.Info("bootstrap step completed",
		zap.String("step", name), zap.Duration("elapsed", elapsed))
	return nil
}

// phaseRecorder tees plugin phase observations into the report and the
// wrapped observer.
type phaseRecorder struct {
	mu     sync.Mutex
	report *Report
	next   plugin.PhaseObserver
}

func (o *phaseRecorder) ObservePhase(name string, phase plugin.Phase, elapsed time.Duration, err error) {
	o.mu.Lock()
	switch phase {
	case plugin.PhaseInit:
		o.report.PluginTimings[name] = elapsed
	case plugin.PhaseStart:
		o.report.PluginStartTimings[name] = elapsed
	}
	o.mu.Unlock()
	if o.next != nil {
		o.next.ObservePhase(name, phase, elapsed, err)
	}
}
