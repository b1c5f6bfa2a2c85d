package modules

import (
	"context"
	"crypto/rand"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/marmos91/hostd/pkg/runtime/codeunit"
	"github.com/marmos91/hostd/pkg/runtime/codeunit/codeunittest"
	rterrors "github.com/marmos91/hostd/pkg/runtime/errors"
	"github.com/marmos91/hostd/pkg/runtime/models"
	"github.com/marmos91/hostd/pkg/runtime/security"
	"github.com/marmos91/hostd/pkg/runtime/services"
	"github.com/marmos91/hostd/pkg/runtime/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingLoader records how often units are opened.
type countingLoader struct {
	codeunit.Loader
	opens int
}

func (l *countingLoader) Open(ctx context.Context, spec codeunit.Spec) (codeunit.Unit, error) {
	l.opens++
	return l.Loader.Open(ctx, spec)
}

type env struct {
	stateDir string
	srcDir   string
	sec      *security.Registry
	rec      *codeunittest.Recorder
	loader   *countingLoader
	svcs     *services.Registry
	mods     *Registry
}

func newSecurity(t *testing.T) *security.Registry {
	t.Helper()
	seed := make([]byte, 32)
	key := make([]byte, 32)
	_, _ = rand.Read(seed)
	_, _ = rand.Read(key)

	ed, err := security.NewEd25519Signer(seed)
	require.NoError(t, err)
	b3, err := security.NewBlake3Signer(key)
	require.NoError(t, err)

	reg := security.NewRegistry()
	reg.AddSigner(ed)
	reg.AddSigner(b3)
	return reg
}

// newEnv builds registries over stateDir. Passing the state dir of a
// previous env simulates a restart.
func newEnv(t *testing.T, stateDir string, sec *security.Registry) *env {
	t.Helper()
	if stateDir == "" {
		stateDir = t.TempDir()
	}
	if sec == nil {
		sec = newSecurity(t)
	}

	dir, err := store.NewModuleDir(filepath.Join(stateDir, "modules"))
	require.NoError(t, err)
	st, err := store.NewJSONStore(filepath.Join(stateDir, "services.json"))
	require.NoError(t, err)

	e := &env{stateDir: stateDir, srcDir: t.TempDir(), sec: sec, rec: codeunittest.NewRecorder()}
	e.loader = &countingLoader{Loader: codeunit.NewBundleLoader(codeunittest.NewCatalog(e.rec))}
	e.svcs = services.New(st, services.UnitResolverFunc(func(m string) (codeunit.Unit, error) {
		return e.mods.Unit(m)
	}))
	e.mods, err = New(Options{
		Dir:        dir,
		Security:   sec,
		Loaders:    codeunit.NewLoaders(e.loader),
		Services:   e.svcs,
		Host:       codeunit.NewHostUnit(),
		ScratchDir: filepath.Join(stateDir, "units"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.mods.Close() })
	return e
}

func (e *env) register(t *testing.T, fileName string, force bool, types ...string) (models.ModuleRecord, error) {
	t.Helper()
	path := codeunittest.WriteBundle(t, e.srcDir, fileName, codeunittest.Services(types...), nil)
	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	return e.mods.Register(context.Background(), f, fileName, force)
}

func TestRegisterLoadsAndDiscoversServices(t *testing.T) {
	e := newEnv(t, "", nil)

	rec, err := e.register(t, "svc-1.0.0.zip", false, "api", "worker")
	require.NoError(t, err)
	assert.Equal(t, models.ModuleRecord{Name: "svc", Version: "1.0.0", State: models.ModuleLoaded, FileName: "svc-1.0.0.zip"}, rec)

	assert.Len(t, e.mods.List(), 1)
	assert.Equal(t, []models.ServiceRecord{
		{ID: models.ServiceID{Module: "svc", Type: "api"}, State: models.ServiceRegistered, AutoStart: true},
		{ID: models.ServiceID{Module: "svc", Type: "worker"}, State: models.ServiceRegistered, AutoStart: true},
	}, e.svcs.List())

	_, err = os.Stat(filepath.Join(e.stateDir, "modules", "svc-1.0.0.zip.ed25519"))
	assert.NoError(t, err, "signed with the default signer")
}

func TestLoadIsIdempotent(t *testing.T) {
	e := newEnv(t, "", nil)
	first, err := e.register(t, "svc-1.0.0.zip", false, "api")
	require.NoError(t, err)

	second, err := e.mods.Load(context.Background(), "svc")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, e.loader.opens)

	_, err = e.mods.Load(context.Background(), "nope")
	assert.True(t, rterrors.IsIllegalArgument(err))
}

func TestRegisterRejectsBadNames(t *testing.T) {
	e := newEnv(t, "", nil)
	for _, name := range []string{"svc.zip", "svc-1.0.zip", "svc-1.0.0", "../svc-1.0.0.zip", "svc-1.0.0.tar"} {
		t.Run(name, func(t *testing.T) {
			_, err := e.mods.Register(context.Background(), nil, name, false)
			assert.True(t, rterrors.IsIllegalArgument(err), "got %v", err)
			assert.ErrorIs(t, err, ErrInvalidFileName)
		})
	}
}

func TestReRegistration(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		file    string
		force   bool
		wantErr bool
	}{
		{"SameVersion", "svc-1.0.0.zip", false, true},
		{"OlderVersion", "svc-0.9.0.zip", false, true},
		{"SameVersionForced", "svc-1.0.0.zip", true, false},
		{"OlderVersionForced", "svc-0.9.0.zip", true, false},
		{"NewerVersion", "svc-1.1.0.zip", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, "", nil)
			_, err := e.register(t, "svc-1.0.0.zip", false, "api")
			require.NoError(t, err)
			_, err = e.svcs.Start(ctx, models.ServiceID{Module: "svc", Type: "api"}, true)
			require.NoError(t, err)

			rec, err := e.register(t, tt.file, tt.force, "api")
			if tt.wantErr {
				assert.True(t, rterrors.IsIllegalState(err))
				assert.Equal(t, []string{"load", "start"}, e.rec.Calls("svc/api"), "running service untouched")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, models.ModuleLoaded, rec.State)
			assert.Equal(t, []string{"load", "start", "stop", "unload"}, e.rec.Calls("svc/api"))

			recs := e.mods.List()
			require.Len(t, recs, 1)
			assert.Equal(t, tt.file, recs[0].FileName)

			svc, ok := e.svcs.Get(models.ServiceID{Module: "svc", Type: "api"})
			require.True(t, ok)
			assert.Equal(t, models.ServiceRegistered, svc.State)
		})
	}

	t.Run("VersionsCompareAsStrings", func(t *testing.T) {
		e := newEnv(t, "", nil)
		_, err := e.register(t, "svc-2.0.0.zip", false, "api")
		require.NoError(t, err)
		_, err = e.register(t, "svc-10.0.0.zip", false, "api")
		assert.True(t, rterrors.IsIllegalState(err))
	})
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, "", nil)
	_, err := e.register(t, "svc-1.0.0.zip", false, "api")
	require.NoError(t, err)
	_, err = e.svcs.Start(ctx, models.ServiceID{Module: "svc", Type: "api"}, true)
	require.NoError(t, err)

	require.NoError(t, e.mods.Delete(ctx, "svc"))

	assert.Empty(t, e.mods.List())
	assert.Empty(t, e.svcs.List())
	assert.Equal(t, []string{"load", "start", "stop", "unload"}, e.rec.Calls("svc/api"))

	entries, err := os.ReadDir(filepath.Join(e.stateDir, "modules"))
	require.NoError(t, err)
	assert.Empty(t, entries, "artifact and signatures removed")

	_, err = e.mods.Unit("svc")
	assert.True(t, rterrors.IsIllegalState(err))

	assert.True(t, rterrors.IsIllegalArgument(e.mods.Delete(ctx, "svc")))
}

func TestVerification(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		tamper func(t *testing.T, modDir string)
	}{
		{"BadSignature", func(t *testing.T, modDir string) {
			require.NoError(t, os.WriteFile(filepath.Join(modDir, "svc-1.0.0.zip.ed25519"), make([]byte, 64), 0644))
		}},
		{"Missing", func(t *testing.T, modDir string) {
			require.NoError(t, os.Remove(filepath.Join(modDir, "svc-1.0.0.zip.ed25519")))
		}},
		{"UnknownSigner", func(t *testing.T, modDir string) {
			require.NoError(t, os.WriteFile(filepath.Join(modDir, "svc-1.0.0.zip.rsa"), []byte("x"), 0644))
		}},
		{"ModifiedArtifact", func(t *testing.T, modDir string) {
			f, err := os.OpenFile(filepath.Join(modDir, "svc-1.0.0.zip"), os.O_APPEND|os.O_WRONLY, 0)
			require.NoError(t, err)
			_, err = f.Write([]byte("trailing"))
			require.NoError(t, err)
			require.NoError(t, f.Close())
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first := newEnv(t, "", nil)
			_, err := first.register(t, "svc-1.0.0.zip", false, "api")
			require.NoError(t, err)
			require.NoError(t, first.mods.Close())

			tt.tamper(t, filepath.Join(first.stateDir, "modules"))

			restarted := newEnv(t, first.stateDir, first.sec)
			n, err := restarted.mods.Scan(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			rec, ok := restarted.mods.Get("svc")
			require.True(t, ok)
			assert.Equal(t, models.ModuleRegistered, rec.State)

			_, err = restarted.mods.Load(ctx, "svc")
			assert.True(t, rterrors.IsGeneralFailure(err))
			assert.True(t, errors.Is(err, security.ErrVerification))
			assert.Zero(t, restarted.loader.opens)
		})
	}

	t.Run("SecondSignatureAlsoChecked", func(t *testing.T) {
		first := newEnv(t, "", nil)
		_, err := first.register(t, "svc-1.0.0.zip", false, "api")
		require.NoError(t, err)
		require.NoError(t, first.mods.Close())

		b3, err := first.sec.Signer(security.Blake3Name)
		require.NoError(t, err)
		f, err := os.Open(filepath.Join(first.stateDir, "modules", "svc-1.0.0.zip"))
		require.NoError(t, err)
		sig, err := b3.Sign(f)
		_ = f.Close()
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(first.stateDir, "modules", "svc-1.0.0.zip.blake3"), sig, 0644))

		restarted := newEnv(t, first.stateDir, first.sec)
		_, err = restarted.mods.Scan(ctx)
		require.NoError(t, err)
		rec, _ := restarted.mods.Get("svc")
		assert.Equal(t, models.ModuleLoaded, rec.State)

		// A different key set must reject both.
		other := newEnv(t, first.stateDir, nil)
		_, err = other.mods.Scan(ctx)
		require.NoError(t, err)
		rec, _ = other.mods.Get("svc")
		assert.Equal(t, models.ModuleRegistered, rec.State)
	})
}

func TestScanPicksGreatestVersion(t *testing.T) {
	ctx := context.Background()
	first := newEnv(t, "", nil)
	_, err := first.register(t, "svc-1.0.0.zip", false, "old")
	require.NoError(t, err)

	// Keep the 1.0.0 files around while registering 1.1.0 in a second
	// registry, so both versions end up on disk.
	modDir := filepath.Join(first.stateDir, "modules")
	saved := map[string][]byte{}
	for _, n := range []string{"svc-1.0.0.zip", "svc-1.0.0.zip.ed25519"} {
		data, err := os.ReadFile(filepath.Join(modDir, n))
		require.NoError(t, err)
		saved[n] = data
	}
	_, err = first.register(t, "svc-1.1.0.zip", false, "new")
	require.NoError(t, err)
	require.NoError(t, first.mods.Close())
	for n, data := range saved {
		require.NoError(t, os.WriteFile(filepath.Join(modDir, n), data, 0644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(modDir, "notes.txt"), []byte("x"), 0644))

	restarted := newEnv(t, first.stateDir, first.sec)
	n, err := restarted.mods.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	recs := restarted.mods.List()
	require.Len(t, recs, 1)
	assert.Equal(t, "1.1.0", recs[0].Version)
	assert.Equal(t, models.ModuleLoaded, recs[0].State)
	assert.Equal(t, []models.ServiceID{{Module: "svc", Type: "new"}}, restarted.svcs.OwnedBy("svc"))

	n, err = restarted.mods.Scan(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "known modules are not rescanned")
}

func TestUnitResolution(t *testing.T) {
	e := newEnv(t, "", nil)

	host, err := e.mods.Unit(models.HostModule)
	require.NoError(t, err)
	assert.Equal(t, "", host.Module())

	_, err = e.mods.Unit("missing")
	assert.True(t, rterrors.IsIllegalState(err))

	_, err = e.register(t, "svc-1.0.0.zip", false, "api")
	require.NoError(t, err)
	unit, err := e.mods.Unit("svc")
	require.NoError(t, err)
	assert.Equal(t, []string{"api"}, unit.Types())

	require.NoError(t, e.mods.Close())
	_, err = e.mods.Unit("svc")
	assert.True(t, rterrors.IsIllegalState(err))
	rec, _ := e.mods.Get("svc")
	assert.Equal(t, models.ModuleRegistered, rec.State)
}

func TestSizeLimit(t *testing.T) {
	e := newEnv(t, "", nil)
	e.mods.opts.MaxModuleSize = 16

	_, err := e.register(t, "svc-1.0.0.zip", false, "api")
	assert.True(t, rterrors.IsGeneralFailure(err))
	assert.ErrorIs(t, err, store.ErrModuleTooLarge)
	assert.Empty(t, e.mods.List())
}
