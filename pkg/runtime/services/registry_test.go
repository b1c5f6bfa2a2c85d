package services

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/marmos91/hostd/pkg/runtime/codeunit"
	"github.com/marmos91/hostd/pkg/runtime/codeunit/codeunittest"
	rterrors "github.com/marmos91/hostd/pkg/runtime/errors"
	"github.com/marmos91/hostd/pkg/runtime/models"
	"github.com/marmos91/hostd/pkg/runtime/service"
	"github.com/marmos91/hostd/pkg/runtime/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	reg   *Registry
	rec   *codeunittest.Recorder
	store *store.JSONStore
	units map[string]*codeunit.HostUnit
}

// newFixture builds a registry whose modules each serve the given types
// through recording services. A type named "bad-<hook>" fails that hook.
func newFixture(t *testing.T, modules map[string][]string) *fixture {
	t.Helper()
	st, err := store.NewJSONStore(filepath.Join(t.TempDir(), "services.json"))
	require.NoError(t, err)

	f := &fixture{rec: codeunittest.NewRecorder(), store: st, units: make(map[string]*codeunit.HostUnit)}
	factory := f.rec.Factory()
	for module, types := range modules {
		u := codeunit.NewHostUnit()
		for _, typ := range types {
			env := codeunit.Env{Module: module, Type: typ, Config: map[string]any{}}
			if len(typ) > 4 && typ[:4] == "bad-" {
				env.Config["fail_on"] = typ[4:]
			}
			u.Provide(typ, func() (service.Service, error) { return factory(env) })
		}
		f.units[module] = u
	}
	f.reg = New(st, UnitResolverFunc(func(module string) (codeunit.Unit, error) {
		u, ok := f.units[module]
		if !ok {
			return nil, rterrors.NewIllegalState("module %s is not loaded", module)
		}
		return u, nil
	}))
	return f
}

func (f *fixture) persisted(t *testing.T) []models.PersistedService {
	t.Helper()
	got, err := f.store.Load(context.Background())
	require.NoError(t, err)
	return got
}

func id(module, typ string) models.ServiceID { return models.ServiceID{Module: module, Type: typ} }

func TestRegister(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string][]string{"web": {"site"}})

	rec, err := f.reg.Register(ctx, id("web", "site"), true)
	require.NoError(t, err)
	assert.Equal(t, models.ServiceRegistered, rec.State)
	assert.True(t, rec.AutoStart)

	t.Run("Idempotent", func(t *testing.T) {
		again, err := f.reg.Register(ctx, id("web", "site"), false)
		require.NoError(t, err)
		assert.Equal(t, rec, again)
	})

	t.Run("Persisted", func(t *testing.T) {
		assert.Equal(t, []models.PersistedService{{Module: "web", Type: "site", AutoStart: true}}, f.persisted(t))
	})
}

func TestStartStopHookTrace(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string][]string{"web": {"site"}})
	sid := id("web", "site")
	_, err := f.reg.Register(ctx, sid, true)
	require.NoError(t, err)

	rec, err := f.reg.Start(ctx, sid, false)
	require.NoError(t, err)
	assert.Equal(t, models.ServiceRunning, rec.State)
	assert.False(t, rec.AutoStart)

	rec, err = f.reg.Start(ctx, sid, true)
	require.NoError(t, err)
	assert.Equal(t, models.ServiceRunning, rec.State)
	assert.False(t, rec.AutoStart, "starting a running service changes nothing")

	rec, err = f.reg.Stop(ctx, sid, true)
	require.NoError(t, err)
	assert.Equal(t, models.ServiceRegistered, rec.State)

	assert.Equal(t, []string{"load", "start", "stop", "unload"}, f.rec.Calls("web/site"))
	assert.Equal(t, 1, f.rec.Instances("web/site"))
	assert.Equal(t, []models.PersistedService{{Module: "web", Type: "site", AutoStart: false}}, f.persisted(t))
}

func TestStop(t *testing.T) {
	ctx := context.Background()

	t.Run("RegisteredIsNoop", func(t *testing.T) {
		f := newFixture(t, map[string][]string{"web": {"site"}})
		_, err := f.reg.Register(ctx, id("web", "site"), true)
		require.NoError(t, err)

		rec, err := f.reg.Stop(ctx, id("web", "site"), true)
		require.NoError(t, err)
		assert.Equal(t, models.ServiceRegistered, rec.State)
		assert.Empty(t, f.rec.Calls("web/site"))
	})

	t.Run("WithoutUnloadKeepsInstance", func(t *testing.T) {
		f := newFixture(t, map[string][]string{"web": {"site"}})
		sid := id("web", "site")
		_, err := f.reg.Register(ctx, sid, true)
		require.NoError(t, err)
		_, err = f.reg.Start(ctx, sid, true)
		require.NoError(t, err)

		rec, err := f.reg.Stop(ctx, sid, false)
		require.NoError(t, err)
		assert.Equal(t, models.ServiceLoaded, rec.State)

		_, err = f.reg.Start(ctx, sid, true)
		require.NoError(t, err)
		assert.Equal(t, []string{"load", "start", "stop", "start"}, f.rec.Calls("web/site"))
		assert.Equal(t, 1, f.rec.Instances("web/site"))
	})

	t.Run("Unknown", func(t *testing.T) {
		f := newFixture(t, nil)
		_, err := f.reg.Stop(ctx, id("x", "y"), true)
		assert.True(t, rterrors.IsIllegalArgument(err))
	})
}

func TestHookFailures(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		typ       string
		wantState models.ServiceState
		visible   bool
	}{
		{"bad-load", models.ServiceRegistered, false},
		{"bad-start", models.ServiceLoaded, true},
	}
	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			f := newFixture(t, map[string][]string{"m": {tt.typ}})
			sid := id("m", tt.typ)
			_, err := f.reg.Register(ctx, sid, true)
			require.NoError(t, err)

			rec, err := f.reg.Start(ctx, sid, false)
			require.Error(t, err)
			assert.True(t, rterrors.IsGeneralFailure(err))
			assert.Equal(t, tt.wantState, rec.State)
			assert.True(t, rec.AutoStart, "flag only changes on reaching RUNNING")

			_, err = f.reg.Lookup(func(v any) bool {
				_, ok := v.(*codeunittest.RecordingService)
				return ok
			})
			if tt.visible {
				assert.NoError(t, err)
			} else {
				assert.True(t, rterrors.IsIllegalArgument(err), "service that failed to load must not be visible")
			}
		})
	}

	t.Run("bad-stop", func(t *testing.T) {
		f := newFixture(t, map[string][]string{"m": {"bad-stop"}})
		sid := id("m", "bad-stop")
		_, err := f.reg.Register(ctx, sid, true)
		require.NoError(t, err)
		_, err = f.reg.Start(ctx, sid, true)
		require.NoError(t, err)

		rec, err := f.reg.Stop(ctx, sid, true)
		assert.Error(t, err)
		assert.Equal(t, models.ServiceRunning, rec.State)
	})

	t.Run("UnitMissing", func(t *testing.T) {
		f := newFixture(t, nil)
		sid := id("gone", "svc")
		_, err := f.reg.Register(ctx, sid, true)
		require.NoError(t, err)

		_, err = f.reg.Start(ctx, sid, true)
		assert.True(t, rterrors.IsIllegalState(err))
	})
}

func TestAutoStart(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string][]string{"a": {"one", "bad-start"}, "b": {"two"}})

	_, err := f.reg.Register(ctx, id("a", "one"), true)
	require.NoError(t, err)
	_, err = f.reg.Register(ctx, id("a", "bad-start"), true)
	require.NoError(t, err)
	_, err = f.reg.Register(ctx, id("b", "two"), false)
	require.NoError(t, err)

	errs := f.reg.AutoStart(ctx)
	require.Len(t, errs, 1)

	got := map[models.ServiceID]models.ServiceState{}
	for _, r := range f.reg.List() {
		got[r.ID] = r.State
	}
	assert.Equal(t, models.ServiceRunning, got[id("a", "one")])
	assert.Equal(t, models.ServiceLoaded, got[id("a", "bad-start")])
	assert.Equal(t, models.ServiceRegistered, got[id("b", "two")])
}

func TestSafeUnloadAll(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string][]string{"a": {"one", "bad-unload"}})
	for _, typ := range []string{"one", "bad-unload"} {
		_, err := f.reg.Register(ctx, id("a", typ), true)
		require.NoError(t, err)
		_, err = f.reg.Start(ctx, id("a", typ), true)
		require.NoError(t, err)
	}

	errs := f.reg.SafeUnloadAll(ctx)
	assert.Len(t, errs, 1)

	states := map[string]models.ServiceState{}
	for _, r := range f.reg.List() {
		states[r.ID.Type] = r.State
	}
	assert.Equal(t, models.ServiceRegistered, states["one"])
	assert.Equal(t, models.ServiceLoaded, states["bad-unload"])

	t.Run("AutoStartFlagsSurvive", func(t *testing.T) {
		for _, p := range f.persisted(t) {
			assert.True(t, p.AutoStart)
		}
	})
}

func TestUnregisterAndOwnedBy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string][]string{"a": {"one", "two"}, "b": {"three"}})
	for _, sid := range []models.ServiceID{id("a", "two"), id("a", "one"), id("b", "three")} {
		_, err := f.reg.Register(ctx, sid, true)
		require.NoError(t, err)
	}
	_, err := f.reg.Start(ctx, id("a", "one"), true)
	require.NoError(t, err)

	owned := f.reg.OwnedBy("a")
	assert.Equal(t, []models.ServiceID{id("a", "one"), id("a", "two")}, owned)

	for _, sid := range owned {
		require.NoError(t, f.reg.Unregister(ctx, sid))
	}
	assert.Empty(t, f.reg.OwnedBy("a"))
	assert.Equal(t, []string{"load", "start", "stop", "unload"}, f.rec.Calls("a/one"))
	assert.Equal(t, []models.PersistedService{{Module: "b", Type: "three", AutoStart: true}}, f.persisted(t))

	_, ok := f.reg.Get(id("a", "one"))
	assert.False(t, ok)
}

func TestRestore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string][]string{"a": {"one"}})
	require.NoError(t, f.store.Save(ctx, []models.PersistedService{
		{Module: "a", Type: "one", AutoStart: false},
		{Module: "", Type: "metrics", AutoStart: true},
	}))

	n, err := f.reg.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rec, err := f.reg.Register(ctx, id("a", "one"), true)
	require.NoError(t, err)
	assert.False(t, rec.AutoStart, "persisted flag wins over discovery")
}

type lookupTarget interface{ Calls(string) []string }

func TestLookupAndDiscard(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string][]string{"a": {"one"}})
	sid := id("a", "one")
	_, err := f.reg.Register(ctx, sid, true)
	require.NoError(t, err)

	_, err = f.reg.Lookup(func(any) bool { return true })
	assert.True(t, rterrors.IsIllegalArgument(err), "nothing instantiated yet")

	_, err = f.reg.Start(ctx, sid, true)
	require.NoError(t, err)

	got, err := f.reg.Lookup(func(v any) bool {
		_, ok := v.(*codeunittest.RecordingService)
		return ok
	})
	require.NoError(t, err)
	assert.Equal(t, "a/one", got.(*codeunittest.RecordingService).Key)

	_, err = f.reg.Lookup(func(v any) bool { _, ok := v.(lookupTarget); return ok })
	assert.Error(t, err)

	assert.Equal(t, 1, f.reg.Discard())
	rec, _ := f.reg.Get(sid)
	assert.Equal(t, models.ServiceRegistered, rec.State)
	assert.Equal(t, []string{"load", "start"}, f.rec.Calls("a/one"), "discard calls no hooks")
}

type failingStore struct{ store.ServiceStore }

func (failingStore) Save(context.Context, []models.PersistedService) error {
	return errors.New("disk full")
}

func TestPersistFailure(t *testing.T) {
	reg := New(failingStore{}, nil)
	rec, err := reg.Register(context.Background(), id("a", "b"), true)
	assert.True(t, rterrors.IsGeneralFailure(err))
	assert.Equal(t, models.ServiceRegistered, rec.State, "record is kept in memory")
	assert.Len(t, reg.List(), 1)
}
