package orchestrator

import (
	"context"
	"crypto/rand"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/hostd/pkg/runtime/codeunit"
	"github.com/marmos91/hostd/pkg/runtime/codeunit/codeunittest"
	rterrors "github.com/marmos91/hostd/pkg/runtime/errors"
	"github.com/marmos91/hostd/pkg/runtime/models"
	"github.com/marmos91/hostd/pkg/runtime/security"
	"github.com/marmos91/hostd/pkg/runtime/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeListener struct {
	mu       sync.Mutex
	started  bool
	stopped  bool
	startErr error
}

func (l *fakeListener) Start(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.started = true
	return l.startErr
}

func (l *fakeListener) Stop(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopped = true
	return nil
}

func (l *fakeListener) Addr() string { return "127.0.0.1:7700" }

type fakeMetrics struct {
	mu      sync.Mutex
	ops     map[string]int
	process string
	queue   int
}

func (m *fakeMetrics) ObserveOperation(op, result string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops[op+"/"+result]++
}
func (m *fakeMetrics) SetModuleStates(map[string]int)  {}
func (m *fakeMetrics) SetServiceStates(map[string]int) {}
func (m *fakeMetrics) SetQueueDepth(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = n
}
func (m *fakeMetrics) SetProcessState(s string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.process = s
}

// beacon is a host service looked up by type in tests.
type beacon struct{ service.Funcs }

type harness struct {
	stateDir string
	srcDir   string
	sec      *security.Registry
	rec      *codeunittest.Recorder
	metrics  *fakeMetrics
	listener *fakeListener
	o        *Orchestrator
	runErr   chan error
}

func newSecurity(t *testing.T) *security.Registry {
	t.Helper()
	seed := make([]byte, 32)
	_, _ = rand.Read(seed)
	ed, err := security.NewEd25519Signer(seed)
	require.NoError(t, err)
	reg := security.NewRegistry()
	reg.AddSigner(ed)
	return reg
}

// open builds an orchestrator over stateDir; pass the state dir of a
// previous harness to simulate a restart.
func open(t *testing.T, stateDir string, sec *security.Registry, cfg Config) *harness {
	t.Helper()
	if stateDir == "" {
		stateDir = t.TempDir()
	}
	if sec == nil {
		sec = newSecurity(t)
	}
	h := &harness{
		stateDir: stateDir,
		srcDir:   t.TempDir(),
		sec:      sec,
		rec:      codeunittest.NewRecorder(),
		metrics:  &fakeMetrics{ops: map[string]int{}},
		listener: &fakeListener{},
	}

	host := codeunit.NewHostUnit()
	host.Provide("beacon", func() (service.Service, error) { return &beacon{}, nil })

	o, err := Open(context.Background(), Setup{
		Config:   cfg,
		StateDir: stateDir,
		Security: sec,
		Catalog:  codeunittest.NewCatalog(h.rec),
		Host:     host,
		Metrics:  h.metrics,
	})
	require.NoError(t, err)
	o.SetListener(h.listener)
	h.o = o
	t.Cleanup(func() { _, _ = o.Close() })
	return h
}

func (h *harness) run(t *testing.T) {
	t.Helper()
	h.runErr = make(chan error, 1)
	go func() { h.runErr <- h.o.Run(context.Background()) }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.o.WaitForState(ctx, models.ProcessRunning))
}

func (h *harness) stop(t *testing.T) error {
	t.Helper()
	require.NoError(t, h.o.RequestStop())
	select {
	case <-h.o.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("daemon loop did not exit")
	}
	return <-h.runErr
}

func (h *harness) registerModule(t *testing.T, fileName string, types ...string) (models.ModuleRecord, error) {
	t.Helper()
	path := codeunittest.WriteBundle(t, h.srcDir, fileName, codeunittest.Services(types...), nil)
	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	return h.o.RegisterModule(context.Background(), f, fileName, false)
}

func TestLifecycleScenario(t *testing.T) {
	ctx := context.Background()
	h := open(t, "", nil, Config{})
	h.run(t)
	assert.True(t, h.listener.started)

	rec, err := h.registerModule(t, "svc-1.0.0.zip", "api", "worker")
	require.NoError(t, err)
	assert.Equal(t, models.ModuleLoaded, rec.State)

	mods := h.o.QueryModules(ctx)
	require.Len(t, mods, 1)
	assert.Equal(t, models.ModuleLoaded, mods[0].State)
	for _, s := range h.o.QueryServices(ctx) {
		assert.Equal(t, models.ServiceRegistered, s.State)
		assert.True(t, s.AutoStart)
	}

	api := models.ServiceID{Module: "svc", Type: "api"}
	svc, err := h.o.StartService(ctx, api, false)
	require.NoError(t, err)
	assert.Equal(t, models.ServiceRunning, svc.State)
	assert.False(t, svc.AutoStart)

	status := h.o.QueryStatus(ctx)
	assert.Equal(t, models.ProcessRunning, status.ProcessState)
	assert.Equal(t, "127.0.0.1:7700", status.BaseAddress)
	assert.Len(t, status.Modules, 1)
	assert.Len(t, status.Services, 2)

	require.NoError(t, h.stop(t))

	status = h.o.QueryStatus(ctx)
	assert.Equal(t, models.ProcessStopped, status.ProcessState)
	for _, s := range status.Services {
		assert.Equal(t, models.ServiceRegistered, s.State, s.ID.String())
	}
	assert.Equal(t, []string{"load", "start", "stop", "unload"}, h.rec.Calls("svc/api"))
	assert.True(t, h.listener.stopped)
	assert.Equal(t, "STOPPED", h.metrics.process)
	assert.Equal(t, 1, h.metrics.ops["start_service/ok"])
}

func TestMutationsAfterStop(t *testing.T) {
	ctx := context.Background()
	h := open(t, "", nil, Config{})
	h.run(t)
	require.NoError(t, h.stop(t))

	_, err := h.o.StartService(ctx, models.ServiceID{Type: "beacon"}, false)
	assert.True(t, rterrors.IsIllegalState(err))
	_, err = h.o.LoadModule(ctx, "svc")
	assert.True(t, rterrors.IsIllegalState(err))
	assert.True(t, rterrors.IsIllegalState(h.o.DeleteModule(ctx, "svc")))
	assert.Equal(t, 1, h.metrics.ops["start_service/illegal_state"])

	assert.NoError(t, h.o.RequestStop(), "stopping a stopped process is a no-op")
}

func TestRunTwice(t *testing.T) {
	h := open(t, "", nil, Config{})
	h.run(t)

	err := h.o.Run(context.Background())
	assert.True(t, rterrors.IsIllegalState(err))

	require.NoError(t, h.stop(t))
}

func TestRequestStopBeforeRun(t *testing.T) {
	h := open(t, "", nil, Config{})
	assert.True(t, rterrors.IsIllegalState(h.o.RequestStop()))
}

func TestListenerFailure(t *testing.T) {
	h := open(t, "", nil, Config{})
	h.listener.startErr = errors.New("address in use")

	err := h.o.Run(context.Background())
	assert.True(t, rterrors.IsGeneralFailure(err))
	assert.Equal(t, models.ProcessStopped, h.o.State())
}

func TestQueueFull(t *testing.T) {
	h := open(t, "", nil, Config{QueueSize: 2})
	// No daemon loop drains the queue.
	h.o.setState(models.ProcessRunning)

	require.NoError(t, h.o.RequestStop())
	require.NoError(t, h.o.RequestStop())
	assert.Equal(t, 2, h.metrics.queue)

	done := make(chan error, 1)
	go func() { done <- h.o.RequestStop() }()
	select {
	case err := <-done:
		assert.True(t, rterrors.IsGeneralFailure(err))
		assert.ErrorIs(t, err, ErrQueueFull)
	case <-time.After(2 * time.Second):
		t.Fatal("RequestStop blocked on a full queue")
	}

	n, err := h.o.Close()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestWaitForState(t *testing.T) {
	h := open(t, "", nil, Config{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, h.o.WaitForState(ctx, models.ProcessRunning), context.DeadlineExceeded)

	h.run(t)
	waited := make(chan error, 1)
	go func() { waited <- h.o.WaitForState(context.Background(), models.ProcessStopped) }()

	require.NoError(t, h.stop(t))
	assert.NoError(t, <-waited)

	err := h.o.WaitForState(context.Background(), models.ProcessRunning)
	assert.True(t, rterrors.IsIllegalState(err))
}

func TestContextCancelStops(t *testing.T) {
	h := open(t, "", nil, Config{PollInterval: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- h.o.Run(ctx) }()

	wctx, wcancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer wcancel()
	require.NoError(t, h.o.WaitForState(wctx, models.ProcessRunning))

	cancel()
	require.NoError(t, <-errCh)
	assert.Equal(t, models.ProcessStopped, h.o.State())
}

func TestRestartRestoresState(t *testing.T) {
	ctx := context.Background()
	first := open(t, "", nil, Config{})
	first.run(t)

	_, err := first.registerModule(t, "svc-1.0.0.zip", "api", "worker")
	require.NoError(t, err)
	_, err = first.o.StartService(ctx, models.ServiceID{Module: "svc", Type: "worker"}, false)
	require.NoError(t, err)
	require.NoError(t, first.stop(t))
	_, err = first.o.Close()
	require.NoError(t, err)

	second := open(t, first.stateDir, first.sec, Config{})
	second.run(t)
	defer func() { _ = second.stop(t) }()

	byID := map[string]models.ServiceRecord{}
	for _, s := range second.o.QueryServices(ctx) {
		byID[s.ID.String()] = s
	}
	api := byID[models.ServiceID{Module: "svc", Type: "api"}.String()]
	worker := byID[models.ServiceID{Module: "svc", Type: "worker"}.String()]
	assert.Equal(t, models.ServiceRunning, api.State, "auto-started")
	assert.Equal(t, models.ServiceRegistered, worker.State)
	assert.False(t, worker.AutoStart)

	mods := second.o.QueryModules(ctx)
	require.Len(t, mods, 1)
	assert.Equal(t, models.ModuleLoaded, mods[0].State)
}

func TestGetService(t *testing.T) {
	ctx := context.Background()
	h := open(t, "", nil, Config{})
	h.run(t)
	defer func() { _ = h.stop(t) }()

	_, err := GetService[*beacon](h.o)
	assert.True(t, rterrors.IsIllegalArgument(err), "not instantiated yet")

	_, err = h.o.RegisterService(ctx, models.ServiceID{Type: "beacon"}, false)
	require.NoError(t, err)
	_, err = h.o.StartService(ctx, models.ServiceID{Type: "beacon"}, false)
	require.NoError(t, err)

	p, err := GetService[*beacon](h.o)
	require.NoError(t, err)
	assert.NotNil(t, p)
}

func TestHealthcheck(t *testing.T) {
	h := open(t, "", nil, Config{})
	assert.Error(t, h.o.Healthcheck(context.Background()), "not running yet")

	h.run(t)
	assert.NoError(t, h.o.Healthcheck(context.Background()))
	require.NoError(t, h.stop(t))
	assert.Error(t, h.o.Healthcheck(context.Background()))
}

func TestStateDirLocked(t *testing.T) {
	h := open(t, "", nil, Config{})

	_, err := Open(context.Background(), Setup{StateDir: h.stateDir, Security: h.sec})
	assert.ErrorIs(t, err, ErrStateDirLocked)

	_, err = h.o.Close()
	require.NoError(t, err)

	lock, err := LockStateDir(h.stateDir)
	require.NoError(t, err)
	assert.NoError(t, lock.Release())
	assert.NoError(t, lock.Release())
}
