package plugin

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// eventLog records lifecycle invocations across plugins so ordering can be
// asserted exactly.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.events))
	copy(out, l.events)
	return out
}

// recordingPlugin appends every hook invocation to the shared log.
type recordingPlugin struct {
	name        string
	log         *eventLog
	host        Host
	registerErr error
	initErr     error
	startErr    error
	stopErr     error
	routes      []Route
}

func (p *recordingPlugin) Name() string    { return p.name }
func (p *recordingPlugin) Version() string { return "1.0.0" }

func (p *recordingPlugin) OnRegister(host Host) error {
	p.host = host
	p.log.add(p.name + ".register")
	return p.registerErr
}

func (p *recordingPlugin) OnInit(context.Context) error {
	p.log.add(p.name + ".init")
	return p.initErr
}

func (p *recordingPlugin) OnStart(context.Context) error {
	p.log.add(p.name + ".start")
	return p.startErr
}

func (p *recordingPlugin) OnStop(context.Context) error {
	p.log.add(p.name + ".stop")
	return p.stopErr
}

func (p *recordingPlugin) OnAppLifecycle(_ context.Context, state AppLifecycleState) error {
	p.log.add(p.name + ".lifecycle(" + string(state) + ")")
	return nil
}

// routedPlugin additionally exposes a route table.
type routedPlugin struct {
	recordingPlugin
}

func (p *routedPlugin) Routes() []Route { return p.routes }

func TestRegistry_LifecycleOrdering(t *testing.T) {
	log := &eventLog{}
	r := NewRegistry(nil)
	p1 := &recordingPlugin{name: "p1", log: log}
	p2 := &recordingPlugin{name: "p2", log: log}

	require.NoError(t, r.Register(p1))
	require.NoError(t, r.Register(p2))

	ctx := context.Background()
	require.NoError(t, r.InitAll(ctx))
	require.NoError(t, r.StartAll(ctx))
	require.NoError(t, r.StopAll(ctx))

	assert.Equal(t, []string{
		"p1.register", "p2.register",
		"p1.init", "p2.init",
		"p1.start", "p2.start",
		"p2.stop", "p1.stop",
	}, log.all())
}

func TestRegistry_RegisterFiresOnRegisterSynchronously(t *testing.T) {
	log := &eventLog{}
	r := NewRegistry(nil)
	p := &recordingPlugin{name: "p", log: log}

	require.NoError(t, r.Register(p))
	assert.Equal(t, []string{"p.register"}, log.all())

	info, err := r.Info("p")
	require.NoError(t, err)
	assert.Equal(t, StatusRegistered, info.Status)
	assert.Equal(t, "1.0.0", info.Version)
}

func TestRegistry_RegisterFailureLeavesPluginOut(t *testing.T) {
	log := &eventLog{}
	r := NewRegistry(nil)
	p := &recordingPlugin{name: "p", log: log, registerErr: errors.New("no hook point")}

	err := r.Register(p)
	var phaseErr *PhaseError
	require.ErrorAs(t, err, &phaseErr)
	assert.Equal(t, PhaseRegister, phaseErr.Phase)

	_, err = r.Info("p")
	assert.Error(t, err)
	assert.Empty(t, r.List())
}

func TestRegistry_RegisterValidation(t *testing.T) {
	r := NewRegistry(nil)
	assert.Error(t, r.Register(nil))
	assert.Error(t, r.Register(&recordingPlugin{name: "", log: &eventLog{}}))

	log := &eventLog{}
	require.NoError(t, r.Register(&recordingPlugin{name: "dup", log: log}))
	assert.ErrorContains(t, r.Register(&recordingPlugin{name: "dup", log: log}), "already registered")
}

func TestRegistry_InitAllStopsAtFirstFailure(t *testing.T) {
	log := &eventLog{}
	r := NewRegistry(nil)
	p1 := &recordingPlugin{name: "p1", log: log}
	p2 := &recordingPlugin{name: "p2", log: log, initErr: errors.New("boom")}
	p3 := &recordingPlugin{name: "p3", log: log}
	require.NoError(t, r.Register(p1))
	require.NoError(t, r.Register(p2))
	require.NoError(t, r.Register(p3))

	err := r.InitAll(context.Background())
	var phaseErr *PhaseError
	require.ErrorAs(t, err, &phaseErr)
	assert.Equal(t, "p2", phaseErr.Plugin)
	assert.Equal(t, PhaseInit, phaseErr.Phase)

	// p3 was never initialized: the phase is fatal at the first failure.
	assert.Equal(t, []string{
		"p1.register", "p2.register", "p3.register",
		"p1.init", "p2.init",
	}, log.all())

	i1, _ := r.Info("p1")
	i2, _ := r.Info("p2")
	i3, _ := r.Info("p3")
	assert.Equal(t, StatusInitialized, i1.Status)
	assert.Equal(t, StatusError, i2.Status)
	assert.Equal(t, StatusRegistered, i3.Status)
}

func TestRegistry_InitAllNeverRunsTwice(t *testing.T) {
	log := &eventLog{}
	r := NewRegistry(nil)
	p := &recordingPlugin{name: "p", log: log}
	require.NoError(t, r.Register(p))

	ctx := context.Background()
	require.NoError(t, r.InitAll(ctx))
	require.NoError(t, r.InitAll(ctx))
	assert.Equal(t, []string{"p.register", "p.init"}, log.all())
}

func TestRegistry_StartAllRequiresInit(t *testing.T) {
	log := &eventLog{}
	r := NewRegistry(nil)
	p := &recordingPlugin{name: "p", log: log}
	require.NoError(t, r.Register(p))

	err := r.StartAll(context.Background())
	var phaseErr *PhaseError
	require.ErrorAs(t, err, &phaseErr)
	assert.Equal(t, PhaseStart, phaseErr.Phase)
	assert.NotContains(t, log.all(), "p.start")
}

func TestRegistry_StartAllRecordsStartTime(t *testing.T) {
	log := &eventLog{}
	r := NewRegistry(nil)
	p := &recordingPlugin{name: "p", log: log}
	require.NoError(t, r.Register(p))

	before := time.Now()
	ctx := context.Background()
	require.NoError(t, r.InitAll(ctx))
	require.NoError(t, r.StartAll(ctx))

	info, err := r.Info("p")
	require.NoError(t, err)
	assert.Equal(t, StatusStarted, info.Status)
	assert.False(t, info.StartTime.Before(before))
}

func TestRegistry_StopAllContinuesPastFailures(t *testing.T) {
	log := &eventLog{}
	r := NewRegistry(nil)
	p1 := &recordingPlugin{name: "p1", log: log}
	p2 := &recordingPlugin{name: "p2", log: log, stopErr: errors.New("hang")}
	p3 := &recordingPlugin{name: "p3", log: log}
	for _, p := range []*recordingPlugin{p1, p2, p3} {
		require.NoError(t, r.Register(p))
	}

	ctx := context.Background()
	require.NoError(t, r.InitAll(ctx))
	require.NoError(t, r.StartAll(ctx))

	err := r.StopAll(ctx)
	require.Error(t, err)
	var phaseErr *PhaseError
	require.ErrorAs(t, err, &phaseErr)
	assert.Equal(t, "p2", phaseErr.Plugin)

	// Teardown visits every started plugin in reverse order regardless.
	events := log.all()
	assert.Equal(t, []string{"p3.stop", "p2.stop", "p1.stop"}, events[len(events)-3:])

	i1, _ := r.Info("p1")
	i3, _ := r.Info("p3")
	assert.Equal(t, StatusStopped, i1.Status)
	assert.Equal(t, StatusStopped, i3.Status)
}

func TestRegistry_StopAllSkipsNeverStarted(t *testing.T) {
	log := &eventLog{}
	r := NewRegistry(nil)
	p := &recordingPlugin{name: "p", log: log}
	require.NoError(t, r.Register(p))
	require.NoError(t, r.InitAll(context.Background()))

	require.NoError(t, r.StopAll(context.Background()))
	assert.NotContains(t, log.all(), "p.stop")
}

func TestRegistry_NotifyAppLifecycleOrder(t *testing.T) {
	log := &eventLog{}
	r := NewRegistry(nil)
	p1 := &recordingPlugin{name: "p1", log: log}
	p2 := &recordingPlugin{name: "p2", log: log}
	require.NoError(t, r.Register(p1))
	require.NoError(t, r.Register(p2))

	require.NoError(t, r.NotifyAppLifecycle(context.Background(), StatePaused))

	events := log.all()
	assert.Equal(t, []string{"p1.lifecycle(paused)", "p2.lifecycle(paused)"}, events[len(events)-2:])
}

func TestRegistry_NotifyAppLifecycleContinuesPastFailure(t *testing.T) {
	log := &eventLog{}
	r := NewRegistry(nil)
	p1 := &failingLifecyclePlugin{recordingPlugin{name: "p1", log: log}}
	p2 := &recordingPlugin{name: "p2", log: log}
	require.NoError(t, r.Register(p1))
	require.NoError(t, r.Register(p2))

	err := r.NotifyAppLifecycle(context.Background(), StateDetached)
	require.Error(t, err)

	// p2 still received the transition, in order.
	events := log.all()
	assert.Equal(t, "p2.lifecycle(detached)", events[len(events)-1])
}

type failingLifecyclePlugin struct {
	recordingPlugin
}

func (p *failingLifecyclePlugin) OnAppLifecycle(_ context.Context, state AppLifecycleState) error {
	p.log.add(p.name + ".lifecycle(" + string(state) + ")")
	return errors.New("lifecycle refused")
}

func TestRegistry_List(t *testing.T) {
	log := &eventLog{}
	r := NewRegistry(nil)
	require.NoError(t, r.Register(&recordingPlugin{name: "a", log: log}))
	require.NoError(t, r.Register(&recordingPlugin{name: "b", log: log}))

	infos := r.List()
	require.Len(t, infos, 2)
	assert.Equal(t, "a", infos[0].Name)
	assert.Equal(t, "b", infos[1].Name)
}

func TestRegistry_PluginLookup(t *testing.T) {
	log := &eventLog{}
	r := NewRegistry(nil)
	p := &recordingPlugin{name: "a", log: log}
	require.NoError(t, r.Register(p))

	assert.Same(t, Plugin(p), r.Plugin("a"))
	assert.Nil(t, r.Plugin("missing"))
}

func TestRegistry_RouteTables(t *testing.T) {
	log := &eventLog{}
	r := NewRegistry(nil)
	routed := &routedPlugin{recordingPlugin{
		name: "shop", log: log,
		routes: []Route{{Name: "catalog", Path: "/products"}},
	}}
	plain := &recordingPlugin{name: "plain", log: log}
	require.NoError(t, r.Register(routed))
	require.NoError(t, r.Register(plain))

	tables := r.RouteTables()
	require.Len(t, tables, 1)
	require.Len(t, tables["shop"], 1)
	assert.Equal(t, "/products", tables["shop"][0].Path)
}

// observerRecord verifies phase observations reach the installed observer.
type observerRecord struct {
	mu     sync.Mutex
	phases []string
	errs   int
}

func (o *observerRecord) ObservePhase(name string, phase Phase, _ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.phases = append(o.phases, name+"/"+string(phase))
	if err != nil {
		o.errs++
	}
}

func TestRegistry_SetLoggerDuringLifecycle(t *testing.T) {
	log := &eventLog{}
	r := NewRegistry(nil)
	for _, name := range []string{"a", "b", "c", "d"} {
		require.NoError(t, r.Register(&recordingPlugin{name: name, log: log}))
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			r.SetLogger(zap.NewNop())
		}
	}()

	ctx := context.Background()
	require.NoError(t, r.InitAll(ctx))
	require.NoError(t, r.StartAll(ctx))
	require.NoError(t, r.NotifyAppLifecycle(ctx, StatePaused))
	<-done
	require.NoError(t, r.StopAll(ctx))
}

func TestRegistry_SetObserverReturnsPrevious(t *testing.T) {
	r := NewRegistry(nil)
	first := &observerRecord{}
	require.Nil(t, r.SetObserver(first))

	second := &observerRecord{}
	prev := r.SetObserver(second)
	assert.Same(t, PhaseObserver(first), prev)

	assert.Same(t, PhaseObserver(second), r.SetObserver(nil))
}

func TestRegistry_ObserverSeesPhases(t *testing.T) {
	log := &eventLog{}
	r := NewRegistry(nil)
	obs := &observerRecord{}
	r.SetObserver(obs)

	p := &recordingPlugin{name: "p", log: log, startErr: errors.New("boom")}
	require.NoError(t, r.Register(p))
	ctx := context.Background()
	require.NoError(t, r.InitAll(ctx))
	require.Error(t, r.StartAll(ctx))

	assert.Equal(t, []string{"p/register", "p/init", "p/start"}, obs.phases)
	assert.Equal(t, 1, obs.errs)
}
