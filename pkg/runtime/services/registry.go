// Package services tracks every registered service, drives its
// REGISTERED ⇄ LOADED ⇄ RUNNING lifecycle one hook at a time, and owns the
// cached service instances.
//
// The registry is not safe for concurrent use; the orchestrator serializes
// all calls under its own lock.
package services

import (
	"context"
	"sort"

	"github.com/marmos91/hostd/internal/logger"
	"github.com/marmos91/hostd/pkg/runtime/codeunit"
	rterrors "github.com/marmos91/hostd/pkg/runtime/errors"
	"github.com/marmos91/hostd/pkg/runtime/models"
	"github.com/marmos91/hostd/pkg/runtime/service"
	"github.com/marmos91/hostd/pkg/runtime/store"
)

// UnitResolver returns the code unit that instantiates services of a module.
type UnitResolver interface {
	Unit(module string) (codeunit.Unit, error)
}

// UnitResolverFunc adapts a function to UnitResolver.
type UnitResolverFunc func(module string) (codeunit.Unit, error)

func (f UnitResolverFunc) Unit(module string) (codeunit.Unit, error) { return f(module) }

type entry struct {
	record   models.ServiceRecord
	instance service.Service
}

// Registry holds service records and instances.
type Registry struct {
	units   UnitResolver
	store   store.ServiceStore
	entries map[models.ServiceID]*entry
}

// New creates an empty registry. Every mutation rewrites the document in st.
func New(st store.ServiceStore, units UnitResolver) *Registry {
	return &Registry{
		units:   units,
		store:   st,
		entries: make(map[models.ServiceID]*entry),
	}
}

// Restore loads the persisted document, registering every entry that is
// not yet known. Nothing is started.
func (r *Registry) Restore(ctx context.Context) (int, error) {
	persisted, err := r.store.Load(ctx)
	if err != nil {
		return 0, rterrors.Wrap(rterrors.GeneralFailure, err, "load service document")
	}
	n := 0
	for _, p := range persisted {
		id := p.ID()
		if _, ok := r.entries[id]; ok {
			continue
		}
		r.entries[id] = &entry{record: models.ServiceRecord{ID: id, State: models.ServiceRegistered, AutoStart: p.AutoStart}}
		n++
	}
	return n, nil
}

// Register records id in REGISTERED state. An id that is already known is
// returned unchanged.
func (r *Registry) Register(ctx context.Context, id models.ServiceID, autoStart bool) (models.ServiceRecord, error) {
	if e, ok := r.entries[id]; ok {
		return e.record, nil
	}
	e := &entry{record: models.ServiceRecord{ID: id, State: models.ServiceRegistered, AutoStart: autoStart}}
	r.entries[id] = e
	logger.DebugCtx(ctx, "service registered", logger.KeyService, id.String(), logger.KeyAutoStart, autoStart)
	return e.record, r.persist(ctx)
}

// Start drives id forward to RUNNING, one hook per step. On reaching
// RUNNING the record's auto-start flag is set to autoStart. A service that
// is already running is left untouched.
func (r *Registry) Start(ctx context.Context, id models.ServiceID, autoStart bool) (models.ServiceRecord, error) {
	e, err := r.lookup(id)
	if err != nil {
		return models.ServiceRecord{}, err
	}

	if e.record.State == models.ServiceRegistered {
		inst, err := r.instance(ctx, e)
		if err != nil {
			return e.record, err
		}
		if err := inst.Load(ctx); err != nil {
			return e.record, rterrors.Wrap(rterrors.GeneralFailure, err, "load service %s", id)
		}
		e.instance = inst
		r.transition(ctx, e, models.ServiceLoaded)
	}

	if e.record.State == models.ServiceLoaded {
		if err := e.instance.Start(ctx); err != nil {
			return e.record, firstErr(
				rterrors.Wrap(rterrors.GeneralFailure, err, "start service %s", id),
				r.persist(ctx),
			)
		}
		e.record.AutoStart = autoStart
		r.transition(ctx, e, models.ServiceRunning)
	}

	return e.record, r.persist(ctx)
}

// Stop drives id backward: RUNNING to LOADED and, when unload is set,
// LOADED to REGISTERED, dropping the cached instance. Steps already taken
// are skipped.
func (r *Registry) Stop(ctx context.Context, id models.ServiceID, unload bool) (models.ServiceRecord, error) {
	e, err := r.lookup(id)
	if err != nil {
		return models.ServiceRecord{}, err
	}
	if err := r.stop(ctx, e, unload); err != nil {
		return e.record, firstErr(err, r.persist(ctx))
	}
	return e.record, r.persist(ctx)
}

func (r *Registry) stop(ctx context.Context, e *entry, unload bool) error {
	id := e.record.ID
	if e.record.State == models.ServiceRunning {
		if err := e.instance.Stop(ctx); err != nil {
			return rterrors.Wrap(rterrors.GeneralFailure, err, "stop service %s", id)
		}
		r.transition(ctx, e, models.ServiceLoaded)
	}
	if unload && e.record.State == models.ServiceLoaded {
		if err := e.instance.Unload(ctx); err != nil {
			return rterrors.Wrap(rterrors.GeneralFailure, err, "unload service %s", id)
		}
		e.instance = nil
		r.transition(ctx, e, models.ServiceRegistered)
	}
	return nil
}

// AutoStart starts every service flagged for auto-start. The set is taken
// before the first start so hooks cannot change it mid-batch. Failures are
// logged and returned; they do not stop the batch.
func (r *Registry) AutoStart(ctx context.Context) []error {
	var ids []models.ServiceID
	for id, e := range r.entries {
		if e.record.AutoStart {
			ids = append(ids, id)
		}
	}
	sortIDs(ids)

	var errs []error
	for _, id := range ids {
		if _, err := r.Start(ctx, id, true); err != nil {
			logger.WarnCtx(ctx, "auto-start failed", logger.KeyService, id.String(), logger.KeyError, err)
			errs = append(errs, err)
		}
	}
	return errs
}

// Lookup returns the first loaded or running service for which match is true.
func (r *Registry) Lookup(match func(any) bool) (any, error) {
	ids := make([]models.ServiceID, 0, len(r.entries))
	for id, e := range r.entries {
		if e.instance != nil && e.record.State.Rank() >= models.ServiceLoaded.Rank() {
			ids = append(ids, id)
		}
	}
	sortIDs(ids)
	for _, id := range ids {
		if inst := r.entries[id].instance; match(inst) {
			return inst, nil
		}
	}
	return nil, rterrors.NewIllegalArgument("no matching service instance")
}

// SafeUnloadAll stops and unloads every service, continuing past failures.
func (r *Registry) SafeUnloadAll(ctx context.Context) []error {
	ids := r.ids()
	var errs []error
	for _, id := range ids {
		if err := r.stop(ctx, r.entries[id], true); err != nil {
			logger.WarnCtx(ctx, "service did not unload cleanly", logger.KeyService, id.String(), logger.KeyError, err)
			errs = append(errs, err)
		}
	}
	if err := r.persist(ctx); err != nil {
		errs = append(errs, err)
	}
	return errs
}

// Unregister stops and unloads id, then forgets it. Hook failures are
// returned but the record is dropped regardless, since the owning module
// is going away.
func (r *Registry) Unregister(ctx context.Context, id models.ServiceID) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}
	stopErr := r.stop(ctx, e, true)
	delete(r.entries, id)
	logger.DebugCtx(ctx, "service unregistered", logger.KeyService, id.String())
	return firstErr(stopErr, r.persist(ctx))
}

// OwnedBy lists the services of module, sorted.
func (r *Registry) OwnedBy(module string) []models.ServiceID {
	var ids []models.ServiceID
	for id := range r.entries {
		if id.Module == module {
			ids = append(ids, id)
		}
	}
	sortIDs(ids)
	return ids
}

// Get returns the record for id.
func (r *Registry) Get(id models.ServiceID) (models.ServiceRecord, bool) {
	e, ok := r.entries[id]
	if !ok {
		return models.ServiceRecord{}, false
	}
	return e.record, true
}

// List returns every record sorted by id.
func (r *Registry) List() []models.ServiceRecord {
	out := make([]models.ServiceRecord, 0, len(r.entries))
	for _, id := range r.ids() {
		out = append(out, r.entries[id].record)
	}
	return out
}

// Discard drops every cached instance without calling hooks and resets
// the records to REGISTERED. It returns the number of instances dropped.
func (r *Registry) Discard() int {
	n := 0
	for _, e := range r.entries {
		if e.instance != nil {
			e.instance = nil
			n++
		}
		e.record.State = models.ServiceRegistered
	}
	return n
}

func (r *Registry) lookup(id models.ServiceID) (*entry, error) {
	e, ok := r.entries[id]
	if !ok {
		return nil, rterrors.NewIllegalArgument("unknown service %s", id)
	}
	return e, nil
}

func (r *Registry) instance(ctx context.Context, e *entry) (service.Service, error) {
	if e.instance != nil {
		return e.instance, nil
	}
	id := e.record.ID
	unit, err := r.units.Unit(id.Module)
	if err != nil {
		return nil, err
	}
	inst, err := unit.Instantiate(ctx, id.Type)
	if err != nil {
		return nil, rterrors.Wrap(rterrors.GeneralFailure, err, "instantiate service %s", id)
	}
	return inst, nil
}

func (r *Registry) transition(ctx context.Context, e *entry, to models.ServiceState) {
	logger.DebugCtx(ctx, "service transition",
		logger.KeyService, e.record.ID.String(),
		"from", string(e.record.State),
		logger.KeyState, string(to))
	e.record.State = to
}

func (r *Registry) ids() []models.ServiceID {
	ids := make([]models.ServiceID, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids
}

// persist rewrites the service document.
func (r *Registry) persist(ctx context.Context) error {
	doc := make([]models.PersistedService, 0, len(r.entries))
	for _, id := range r.ids() {
		rec := r.entries[id].record
		doc = append(doc, models.PersistedService{Module: id.Module, Type: id.Type, AutoStart: rec.AutoStart})
	}
	if err := r.store.Save(ctx, doc); err != nil {
		logger.ErrorCtx(ctx, "failed to persist service document", logger.KeyError, err)
		return rterrors.Wrap(rterrors.GeneralFailure, err, "persist service document")
	}
	return nil
}

func sortIDs(ids []models.ServiceID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
