// Package orchestrator is the host process: it owns the module and
// service registries, serializes every public operation behind one lock,
// and runs the daemon loop that processes queued stop requests.
//
// Process lifecycle is CONFIGURED → RUNNING → STOPPED. Run is called once
// on a dedicated goroutine; every other method may be called concurrently
// from transport goroutines.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/marmos91/hostd/internal/logger"
	"github.com/marmos91/hostd/internal/telemetry"
	"github.com/marmos91/hostd/pkg/metrics"
	rterrors "github.com/marmos91/hostd/pkg/runtime/errors"
	"github.com/marmos91/hostd/pkg/runtime/models"
	"github.com/marmos91/hostd/pkg/runtime/modules"
	"github.com/marmos91/hostd/pkg/runtime/services"
	"github.com/marmos91/hostd/pkg/runtime/store"
	"go.opentelemetry.io/otel/attribute"
)

// ErrQueueFull is wrapped by RequestStop when the request queue is full.
var ErrQueueFull = errors.New("request queue full")

// Listener is the control surface started and stopped with the process.
type Listener interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Addr() string
}

// Config tunes the daemon loop.
type Config struct {
	// QueueSize bounds pending requests. Default 100.
	QueueSize int `mapstructure:"queue_size" validate:"gte=0" yaml:"queue_size"`

	// PollInterval is the longest the loop sleeps between state checks.
	// Default 1s.
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"gte=0" yaml:"poll_interval"`

	// ShutdownGrace bounds how long the listener gets to drain. Default 5s.
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace" validate:"gte=0" yaml:"shutdown_grace"`
}

// ApplyDefaults fills zero fields.
func (c *Config) ApplyDefaults() {
	if c.QueueSize == 0 {
		c.QueueSize = 100
	}
	if c.PollInterval == 0 {
		c.PollInterval = time.Second
	}
	if c.ShutdownGrace == 0 {
		c.ShutdownGrace = 5 * time.Second
	}
}

// Options wires an Orchestrator from already-built parts. Open builds them
// from a state directory.
type Options struct {
	Config   Config
	Modules  *modules.Registry
	Services *services.Registry
	Store    store.ServiceStore

	// Metrics may be nil.
	Metrics metrics.RuntimeMetrics

	// Lock is released by Close. May be nil.
	Lock *StateLock
}

type request struct {
	reason string
}

// Orchestrator is the process-wide runtime.
type Orchestrator struct {
	cfg      Config
	modules  *modules.Registry
	services *services.Registry
	store    store.ServiceStore
	metrics  metrics.RuntimeMetrics
	lock     *StateLock

	// mu serializes every public operation.
	mu       sync.Mutex
	listener Listener

	// stateMu guards state and stateCh. stateCh is closed and replaced on
	// every transition, waking WaitForState callers.
	stateMu sync.Mutex
	state   models.ProcessState
	stateCh chan struct{}

	queue chan request
	done  chan struct{}
}

// New creates a CONFIGURED orchestrator.
func New(opts Options) *Orchestrator {
	opts.Config.ApplyDefaults()
	o := &Orchestrator{
		cfg:      opts.Config,
		modules:  opts.Modules,
		services: opts.Services,
		store:    opts.Store,
		metrics:  opts.Metrics,
		lock:     opts.Lock,
		state:    models.ProcessConfigured,
		stateCh:  make(chan struct{}),
		queue:    make(chan request, opts.Config.QueueSize),
		done:     make(chan struct{}),
	}
	if o.metrics != nil {
		o.metrics.SetProcessState(string(models.ProcessConfigured))
	}
	return o
}

// SetListener attaches the control surface. It must be called before Run.
func (o *Orchestrator) SetListener(l Listener) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.listener = l
}

// State returns the process state.
func (o *Orchestrator) State() models.ProcessState {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s models.ProcessState) {
	o.stateMu.Lock()
	prev := o.state
	o.state = s
	close(o.stateCh)
	o.stateCh = make(chan struct{})
	o.stateMu.Unlock()

	if o.metrics != nil {
		o.metrics.SetProcessState(string(s))
	}
	logger.Info("process state changed", "from", string(prev), logger.KeyState, string(s))
}

// WaitForState blocks until the process reaches want or ctx ends. Waiting
// for a state the process has already moved past fails immediately.
func (o *Orchestrator) WaitForState(ctx context.Context, want models.ProcessState) error {
	for {
		o.stateMu.Lock()
		cur, ch := o.state, o.stateCh
		o.stateMu.Unlock()

		if cur == want {
			return nil
		}
		if processRank(cur) > processRank(want) {
			return rterrors.NewIllegalState("process is %s and cannot reach %s", cur, want)
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func processRank(s models.ProcessState) int {
	switch s {
	case models.ProcessConfigured:
		return 0
	case models.ProcessRunning:
		return 1
	case models.ProcessStopped:
		return 2
	default:
		return -1
	}
}

// Done is closed when Run returns.
func (o *Orchestrator) Done() <-chan struct{} {
	return o.done
}

// Run starts the process and blocks in the daemon loop until a stop
// request is processed or ctx is cancelled. It restores persisted state,
// starts the listener and auto-starts services before entering the loop.
//
// Shutdown failures are reported as suppressed errors on a
// GENERAL_FAILURE; the process ends STOPPED regardless.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.mu.Lock()
	if s := o.State(); s != models.ProcessConfigured {
		o.mu.Unlock()
		return rterrors.NewIllegalState("process is %s; run requires CONFIGURED", s)
	}
	defer close(o.done)

	if err := o.startup(ctx); err != nil {
		o.setState(models.ProcessStopped)
		o.mu.Unlock()
		return err
	}
	o.mu.Unlock()

	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	for o.State() == models.ProcessRunning {
		select {
		case req := <-o.queue:
			o.observeQueue()
			if err := o.handle(ctx, req); err != nil {
				return err
			}
		case <-ticker.C:
		case <-ctx.Done():
			if err := o.handle(ctx, request{reason: "context cancelled"}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (o *Orchestrator) startup(ctx context.Context) error {
	ctx, span := telemetry.StartOperation(ctx, "run")
	defer span.End()

	// The state flips before the listener starts so that requests arriving
	// on it see RUNNING; waiters are only woken once it is up.
	o.stateMu.Lock()
	o.state = models.ProcessRunning
	o.stateMu.Unlock()

	if o.listener != nil {
		if err := o.listener.Start(ctx); err != nil {
			telemetry.RecordError(ctx, err)
			return rterrors.Wrap(rterrors.GeneralFailure, err, "start control surface")
		}
		logger.InfoCtx(ctx, "control surface listening", logger.KeyAddress, o.listener.Addr())
	}
	o.setState(models.ProcessRunning)

	restored, err := o.services.Restore(ctx)
	if err != nil {
		logger.ErrorCtx(ctx, "failed to restore services", logger.KeyError, err)
	}
	scanned, err := o.modules.Scan(ctx)
	if err != nil {
		logger.ErrorCtx(ctx, "failed to scan modules", logger.KeyError, err)
	}
	logger.InfoCtx(ctx, "runtime state restored", "services", restored, "modules", scanned)

	if errs := o.services.AutoStart(ctx); len(errs) > 0 {
		logger.WarnCtx(ctx, "some services failed to auto-start", logger.KeyCount, len(errs))
	}
	o.refreshGauges()
	return nil
}

// handle processes one queued request. Only stop requests exist.
func (o *Orchestrator) handle(ctx context.Context, req request) error {
	logger.Info("stop requested", "reason", req.reason)
	return o.shutdown(context.WithoutCancel(ctx))
}

func (o *Orchestrator) shutdown(ctx context.Context) error {
	ctx, span := telemetry.StartOperation(ctx, "shutdown")
	defer span.End()

	o.mu.Lock()
	errs := o.services.SafeUnloadAll(ctx)
	o.setState(models.ProcessStopped)
	o.refreshGauges()
	listener := o.listener
	o.mu.Unlock()

	// The lock is released first so in-flight requests can finish during
	// the grace period.
	if listener != nil {
		sctx, cancel := context.WithTimeout(ctx, o.cfg.ShutdownGrace)
		if err := listener.Stop(sctx); err != nil {
			errs = append(errs, rterrors.Wrap(rterrors.GeneralFailure, err, "stop control surface"))
		}
		cancel()
	}

	if len(errs) > 0 {
		err := rterrors.NewGeneralFailure("shutdown completed with errors").Suppress(errs...)
		telemetry.RecordError(ctx, err)
		logger.WarnCtx(ctx, "shutdown completed with errors", logger.KeyCount, len(errs))
		return err
	}
	logger.InfoCtx(ctx, "shutdown complete")
	return nil
}

// RequestStop queues a stop for the daemon loop without waiting for it.
// A full queue is reported so the caller can retry.
func (o *Orchestrator) RequestStop() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch o.State() {
	case models.ProcessConfigured:
		return rterrors.NewIllegalState("process is not running")
	case models.ProcessStopped:
		return nil
	}
	select {
	case o.queue <- request{reason: "requested"}:
		o.observeQueue()
		return nil
	default:
		return rterrors.Wrap(rterrors.GeneralFailure, ErrQueueFull, "stop request rejected with %d pending", cap(o.queue))
	}
}

// Close releases everything the orchestrator owns: cached service
// instances, module units, queued requests, the store and the state
// lock. It returns how many queued requests were discarded.
func (o *Orchestrator) Close() (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	dropped := o.services.Discard()
	logger.Debug("discarded service instances", logger.KeyCount, dropped)

	var errs []error
	if err := o.modules.Close(); err != nil {
		errs = append(errs, err)
	}

	discarded := 0
drain:
	for {
		select {
		case <-o.queue:
			discarded++
		default:
			break drain
		}
	}
	o.observeQueue()

	if err := o.store.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := o.lock.Release(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return discarded, rterrors.NewGeneralFailure("close completed with errors").Suppress(errs...)
	}
	return discarded, nil
}

// Healthcheck reports whether the process is RUNNING with a reachable
// service store. It does not take the operation lock.
func (o *Orchestrator) Healthcheck(ctx context.Context) error {
	if s := o.State(); s != models.ProcessRunning {
		return fmt.Errorf("process is %s", s)
	}
	return o.store.Healthcheck(ctx)
}

// QueryStatus returns a consistent snapshot of the process.
func (o *Orchestrator) QueryStatus(ctx context.Context) models.Status {
	var st models.Status
	_ = o.do(ctx, "query_status", nil, func(context.Context) error {
		st = models.Status{
			ProcessState: o.State(),
			Modules:      o.modules.List(),
			Services:     o.services.List(),
		}
		if o.listener != nil {
			st.BaseAddress = o.listener.Addr()
		}
		return nil
	})
	return st
}

// RegisterModule installs and loads a module artifact.
func (o *Orchestrator) RegisterModule(ctx context.Context, r io.Reader, fileName string, force bool) (models.ModuleRecord, error) {
	var rec models.ModuleRecord
	err := o.do(ctx, "register_module", []attribute.KeyValue{attribute.String(telemetry.AttrModule, fileName), telemetry.Force(force)},
		func(ctx context.Context) error {
			if err := o.mutable(); err != nil {
				return err
			}
			var err error
			rec, err = o.modules.Register(ctx, r, fileName, force)
			return err
		})
	return rec, err
}

// LoadModule verifies and loads a registered module.
func (o *Orchestrator) LoadModule(ctx context.Context, name string) (models.ModuleRecord, error) {
	var rec models.ModuleRecord
	err := o.do(ctx, "load_module", []attribute.KeyValue{telemetry.Module(name)}, func(ctx context.Context) error {
		if err := o.mutable(); err != nil {
			return err
		}
		var err error
		rec, err = o.modules.Load(ctx, name)
		return err
	})
	return rec, err
}

// DeleteModule stops the module's services and removes it.
func (o *Orchestrator) DeleteModule(ctx context.Context, name string) error {
	return o.do(ctx, "delete_module", []attribute.KeyValue{telemetry.Module(name)}, func(ctx context.Context) error {
		if err := o.mutable(); err != nil {
			return err
		}
		return o.modules.Delete(ctx, name)
	})
}

// QueryModules lists module records.
func (o *Orchestrator) QueryModules(ctx context.Context) []models.ModuleRecord {
	var out []models.ModuleRecord
	_ = o.do(ctx, "query_modules", nil, func(context.Context) error {
		out = o.modules.List()
		return nil
	})
	return out
}

// RegisterService records a service. Registering a known id is a no-op.
func (o *Orchestrator) RegisterService(ctx context.Context, id models.ServiceID, autoStart bool) (models.ServiceRecord, error) {
	var rec models.ServiceRecord
	err := o.do(ctx, "register_service", []attribute.KeyValue{telemetry.Service(id.String())}, func(ctx context.Context) error {
		if err := o.mutable(); err != nil {
			return err
		}
		var err error
		rec, err = o.services.Register(ctx, id, autoStart)
		return err
	})
	return rec, err
}

// StartService drives a service to RUNNING.
func (o *Orchestrator) StartService(ctx context.Context, id models.ServiceID, autoStart bool) (models.ServiceRecord, error) {
	var rec models.ServiceRecord
	err := o.do(ctx, "start_service", []attribute.KeyValue{telemetry.Service(id.String())}, func(ctx context.Context) error {
		if err := o.mutable(); err != nil {
			return err
		}
		var err error
		rec, err = o.services.Start(ctx, id, autoStart)
		return err
	})
	return rec, err
}

// StopService drives a service back to LOADED, or REGISTERED with unload.
func (o *Orchestrator) StopService(ctx context.Context, id models.ServiceID, unload bool) (models.ServiceRecord, error) {
	var rec models.ServiceRecord
	err := o.do(ctx, "stop_service", []attribute.KeyValue{telemetry.Service(id.String())}, func(ctx context.Context) error {
		if err := o.mutable(); err != nil {
			return err
		}
		var err error
		rec, err = o.services.Stop(ctx, id, unload)
		return err
	})
	return rec, err
}

// QueryServices lists service records.
func (o *Orchestrator) QueryServices(ctx context.Context) []models.ServiceRecord {
	var out []models.ServiceRecord
	_ = o.do(ctx, "query_services", nil, func(context.Context) error {
		out = o.services.List()
		return nil
	})
	return out
}

// GetService returns the first instantiated service assignable to T.
func GetService[T any](o *Orchestrator) (T, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	var zero T
	v, err := o.services.Lookup(func(s any) bool {
		_, ok := s.(T)
		return ok
	})
	if err != nil {
		return zero, err
	}
	return v.(T), nil
}

// mutable rejects changes once the process has stopped.
func (o *Orchestrator) mutable() error {
	if o.State() == models.ProcessStopped {
		return rterrors.NewIllegalState("process is stopped")
	}
	return nil
}

// do runs fn under the lock inside a span and records its outcome.
func (o *Orchestrator) do(ctx context.Context, op string, attrs []attribute.KeyValue, fn func(context.Context) error) error {
	ctx, span := telemetry.StartOperation(ctx, op, attrs...)
	defer span.End()
	start := time.Now()

	o.mu.Lock()
	err := fn(ctx)
	if !strings.HasPrefix(op, "query_") {
		o.refreshGauges()
	}
	o.mu.Unlock()

	if o.metrics != nil {
		o.metrics.ObserveOperation(op, resultLabel(err), time.Since(start))
	}
	if err != nil {
		telemetry.RecordError(ctx, err)
		logger.DebugCtx(ctx, "operation failed", logger.KeyError, err, logger.KeyDurationMs, logger.Since(start))
	}
	return err
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return strings.ToLower(rterrors.KindOf(err).String())
}

// refreshGauges must be called with mu held.
func (o *Orchestrator) refreshGauges() {
	if o.metrics == nil {
		return
	}
	mods := map[string]int{}
	for _, m := range o.modules.List() {
		mods[string(m.State)]++
	}
	svcs := map[string]int{}
	for _, s := range o.services.List() {
		svcs[string(s.State)]++
	}
	o.metrics.SetModuleStates(mods)
	o.metrics.SetServiceStates(svcs)
}

func (o *Orchestrator) observeQueue() {
	if o.metrics != nil {
		o.metrics.SetQueueDepth(len(o.queue))
	}
}
