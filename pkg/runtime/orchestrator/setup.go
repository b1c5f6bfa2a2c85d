package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/marmos91/hostd/internal/logger"
	"github.com/marmos91/hostd/pkg/metrics"
	"github.com/marmos91/hostd/pkg/runtime/codeunit"
	"github.com/marmos91/hostd/pkg/runtime/modules"
	"github.com/marmos91/hostd/pkg/runtime/security"
	"github.com/marmos91/hostd/pkg/runtime/services"
	"github.com/marmos91/hostd/pkg/runtime/store"
)

// Setup describes everything Open needs to assemble a runtime over a
// state directory.
type Setup struct {
	Config Config

	// StateDir holds the module directory, the service store (for file
	// backends) and the process lock.
	StateDir string

	Store    store.Config
	Security *security.Registry

	// Catalog resolves service kinds named in bundle manifests.
	Catalog *codeunit.Catalog

	// Host serves host-module services. Nil means an empty host.
	Host *codeunit.HostUnit

	MaxModuleSize int64

	// Metrics may be nil.
	Metrics metrics.RuntimeMetrics
}

// Open locks the state directory and builds a CONFIGURED orchestrator.
// Persisted state is restored by Run, not here.
func Open(ctx context.Context, s Setup) (o *Orchestrator, err error) {
	if s.StateDir == "" {
		return nil, fmt.Errorf("state directory is required")
	}
	if s.Security == nil {
		return nil, fmt.Errorf("security registry is required")
	}
	if s.Catalog == nil {
		s.Catalog = codeunit.NewCatalog()
	}
	if s.Host == nil {
		s.Host = codeunit.NewHostUnit()
	}
	lock, err := LockStateDir(s.StateDir)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = lock.Release()
		}
	}()

	s.Store.ApplyDefaults(s.StateDir)
	st, err := store.New(ctx, s.Store)
	if err != nil {
		return nil, fmt.Errorf("open service store: %w", err)
	}
	defer func() {
		if err != nil {
			_ = st.Close()
		}
	}()

	dir, err := store.NewModuleDir(filepath.Join(s.StateDir, "modules"))
	if err != nil {
		return nil, err
	}

	loaders := codeunit.NewLoaders(codeunit.NewBundleLoader(s.Catalog), codeunit.PluginLoader{})

	var mods *modules.Registry
	svcs := services.New(st, services.UnitResolverFunc(func(module string) (codeunit.Unit, error) {
		return mods.Unit(module)
	}))
	mods, err = modules.New(modules.Options{
		Dir:           dir,
		Security:      s.Security,
		Loaders:       loaders,
		Services:      svcs,
		Host:          s.Host,
		ScratchDir:    filepath.Join(s.StateDir, "units"),
		MaxModuleSize: s.MaxModuleSize,
	})
	if err != nil {
		return nil, err
	}

	logger.InfoCtx(ctx, "runtime opened",
		"state_dir", s.StateDir,
		logger.KeyStoreType, string(s.Store.Type),
		"extensions", loaders.Extensions())

	return New(Options{
		Config:   s.Config,
		Modules:  mods,
		Services: svcs,
		Store:    st,
		Metrics:  s.Metrics,
		Lock:     lock,
	}), nil
}
