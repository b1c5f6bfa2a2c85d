// Package modules implements the module registry: installing signed module
// artifacts, verifying and opening them into code units, and discovering
// the services they declare.
//
// Like the service registry, it relies on the orchestrator for locking.
package modules

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/marmos91/hostd/internal/logger"
	"github.com/marmos91/hostd/pkg/runtime/codeunit"
	rterrors "github.com/marmos91/hostd/pkg/runtime/errors"
	"github.com/marmos91/hostd/pkg/runtime/models"
	"github.com/marmos91/hostd/pkg/runtime/security"
	"github.com/marmos91/hostd/pkg/runtime/store"
)

// ErrInvalidFileName marks a module file name that cannot be registered.
var ErrInvalidFileName = errors.New("invalid module file name")

// ServiceLifecycle is the part of the service registry that module
// operations drive.
type ServiceLifecycle interface {
	Register(ctx context.Context, id models.ServiceID, autoStart bool) (models.ServiceRecord, error)
	OwnedBy(module string) []models.ServiceID
	Unregister(ctx context.Context, id models.ServiceID) error
}

// Options wires a Registry.
type Options struct {
	Dir      *store.ModuleDir
	Security *security.Registry
	Loaders  *codeunit.Loaders
	Services ServiceLifecycle

	// Host is the parent of every module unit and serves the host module.
	Host codeunit.Unit

	// ScratchDir receives one private directory per opened unit.
	ScratchDir string

	// MaxModuleSize caps uploaded artifacts in bytes. Zero is unlimited.
	MaxModuleSize int64
}

type module struct {
	record models.ModuleRecord
	file   models.ModuleFile
	unit   codeunit.Unit
}

// Registry tracks registered modules and owns their code units.
type Registry struct {
	opts    Options
	modules map[string]*module
}

// New creates an empty registry.
func New(opts Options) (*Registry, error) {
	if opts.Dir == nil || opts.Security == nil || opts.Loaders == nil || opts.Services == nil || opts.Host == nil {
		return nil, fmt.Errorf("modules: incomplete options")
	}
	if opts.ScratchDir == "" {
		opts.ScratchDir = filepath.Join(opts.Dir.Root(), ".units")
	}
	// Units from a previous run are stale.
	if err := os.RemoveAll(opts.ScratchDir); err != nil {
		return nil, fmt.Errorf("clear unit scratch directory: %w", err)
	}
	if err := os.MkdirAll(opts.ScratchDir, 0755); err != nil {
		return nil, fmt.Errorf("create unit scratch directory: %w", err)
	}
	return &Registry{opts: opts, modules: make(map[string]*module)}, nil
}

// Register installs the artifact read from r under fileName, signs it with
// the default signer and loads it. A module of the same name is replaced
// only when force is set or the new version is greater; the old module is
// fully deleted first.
func (r *Registry) Register(ctx context.Context, src io.Reader, fileName string, force bool) (models.ModuleRecord, error) {
	mf, err := r.parse(fileName)
	if err != nil {
		return models.ModuleRecord{}, err
	}
	ctx = logger.WithModule(ctx, mf.Name)

	if old, ok := r.modules[mf.Name]; ok {
		if !force && !models.VersionGreater(mf.Version, old.record.Version) {
			return models.ModuleRecord{}, rterrors.NewIllegalState(
				"module %s %s is already registered; %s is not newer", mf.Name, old.record.Version, mf.Version)
		}
		logger.InfoCtx(ctx, "replacing module",
			logger.KeyVersion, mf.Version, "previous", old.record.Version, "force", force)
		if err := r.Delete(ctx, mf.Name); err != nil {
			return models.ModuleRecord{}, err
		}
	}

	if err := r.install(ctx, src, mf); err != nil {
		return models.ModuleRecord{}, err
	}
	r.modules[mf.Name] = &module{
		file: mf,
		record: models.ModuleRecord{
			Name:     mf.Name,
			Version:  mf.Version,
			State:    models.ModuleRegistered,
			FileName: mf.FileName(),
		},
	}
	logger.InfoCtx(ctx, "module registered", logger.KeyVersion, mf.Version, logger.KeyFile, mf.FileName())

	return r.Load(ctx, mf.Name)
}

func (r *Registry) parse(fileName string) (models.ModuleFile, error) {
	if fileName != filepath.Base(fileName) || strings.ContainsAny(fileName, `/\`) {
		return models.ModuleFile{}, rterrors.Wrap(rterrors.IllegalArgument, ErrInvalidFileName, "%q must not contain a path", fileName)
	}
	mf, ok := models.ParseModuleFileName(fileName)
	if !ok {
		return models.ModuleFile{}, rterrors.Wrap(rterrors.IllegalArgument, ErrInvalidFileName,
			"%q does not match <name>-<major.minor.patch>.<ext>", fileName)
	}
	if !r.opts.Loaders.Supports(mf.Extension) {
		return models.ModuleFile{}, rterrors.Wrap(rterrors.IllegalArgument, ErrInvalidFileName,
			"unsupported module type .%s (supported: %s)", mf.Extension, strings.Join(r.opts.Loaders.Extensions(), ", "))
	}
	return mf, nil
}

func (r *Registry) install(ctx context.Context, src io.Reader, mf models.ModuleFile) error {
	dir := r.opts.Dir
	name := mf.FileName()

	if _, err := dir.Install(src, name, r.opts.MaxModuleSize); err != nil {
		return rterrors.Wrap(rterrors.GeneralFailure, err, "install module %s", name)
	}

	signer, err := r.opts.Security.DefaultSigner()
	if err == nil {
		err = r.sign(signer, name)
	}
	if err != nil {
		if rmErr := dir.Remove(name); rmErr != nil {
			logger.WarnCtx(ctx, "failed to clean up unsigned module", logger.KeyFile, name, logger.KeyError, rmErr)
		}
		return rterrors.Wrap(rterrors.GeneralFailure, err, "sign module %s", name)
	}
	logger.DebugCtx(ctx, "module signed", logger.KeyFile, name, logger.KeySigner, signer.Name())
	return nil
}

func (r *Registry) sign(signer security.Signer, fileName string) error {
	f, err := r.opts.Dir.Open(fileName)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	sig, err := signer.Sign(f)
	if err != nil {
		return err
	}
	return r.opts.Dir.WriteSignature(fileName, signer.Name(), sig)
}

// Load verifies and opens a registered module, then registers its service
// types with auto-start enabled. Loading a loaded module returns its
// record without touching the unit.
func (r *Registry) Load(ctx context.Context, name string) (models.ModuleRecord, error) {
	m, ok := r.modules[name]
	if !ok {
		return models.ModuleRecord{}, rterrors.NewIllegalArgument("unknown module %s", name)
	}
	if m.record.State == models.ModuleLoaded {
		return m.record, nil
	}
	ctx = logger.WithModule(ctx, name)

	if err := r.verify(m.file.FileName()); err != nil {
		logger.WarnCtx(ctx, "module failed verification", logger.KeyError, err)
		return m.record, rterrors.Wrap(rterrors.GeneralFailure, err, "verify module %s", name)
	}

	unit, err := r.opts.Loaders.Open(ctx, codeunit.Spec{
		Module:     name,
		Version:    m.record.Version,
		Path:       r.opts.Dir.Path(m.file.FileName()),
		Parent:     r.opts.Host,
		ScratchDir: filepath.Join(r.opts.ScratchDir, m.file.Name+"-"+m.file.Version),
	})
	if err != nil {
		return m.record, rterrors.Wrap(rterrors.GeneralFailure, err, "open module %s", name)
	}
	m.unit = unit
	m.record.State = models.ModuleLoaded

	types := unit.Types()
	for _, typ := range types {
		id := models.ServiceID{Module: name, Type: typ}
		if _, err := r.opts.Services.Register(ctx, id, true); err != nil {
			logger.WarnCtx(ctx, "service registration not persisted", logger.KeyService, id.String(), logger.KeyError, err)
		}
	}
	logger.InfoCtx(ctx, "module loaded", logger.KeyVersion, m.record.Version, logger.KeyCount, len(types))
	return m.record, nil
}

// verify checks every signature beside the artifact. There must be at
// least one, each from a known signer, and each must verify.
func (r *Registry) verify(fileName string) error {
	sigs, err := r.opts.Dir.Signatures(fileName)
	if err != nil {
		return err
	}
	if len(sigs) == 0 {
		return fmt.Errorf("%w: %s has no signature", security.ErrVerification, fileName)
	}

	names := make([]string, 0, len(sigs))
	for n := range sigs {
		names = append(names, n)
	}
	sort.Strings(names)

	for _, signerName := range names {
		signer, err := r.opts.Security.Signer(signerName)
		if err != nil {
			return fmt.Errorf("%w: %s signed by unknown signer %q", security.ErrVerification, fileName, signerName)
		}
		sig, err := os.ReadFile(sigs[signerName])
		if err != nil {
			return fmt.Errorf("read %s signature: %w", signerName, err)
		}
		ok, err := r.verifyOne(signer, fileName, sig)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", security.ErrVerification, signerName, err)
		}
		if !ok {
			return fmt.Errorf("%w: %s signature does not match %s", security.ErrVerification, signerName, fileName)
		}
	}
	return nil
}

func (r *Registry) verifyOne(signer security.Signer, fileName string, sig []byte) (bool, error) {
	f, err := r.opts.Dir.Open(fileName)
	if err != nil {
		return false, err
	}
	defer func() { _ = f.Close() }()
	return signer.Verify(f, sig)
}

// Delete unregisters every service of the module, closes its unit and
// removes the artifact with its signatures. If the files cannot be removed
// the module stays registered, unloaded, so the delete can be retried.
func (r *Registry) Delete(ctx context.Context, name string) error {
	m, ok := r.modules[name]
	if !ok {
		return rterrors.NewIllegalArgument("unknown module %s", name)
	}
	ctx = logger.WithModule(ctx, name)

	for _, id := range r.opts.Services.OwnedBy(name) {
		if err := r.opts.Services.Unregister(ctx, id); err != nil {
			logger.WarnCtx(ctx, "service did not stop cleanly", logger.KeyService, id.String(), logger.KeyError, err)
		}
	}
	r.closeUnit(ctx, m)
	m.record.State = models.ModuleRegistered

	if err := r.opts.Dir.Remove(m.file.FileName()); err != nil {
		return rterrors.Wrap(rterrors.GeneralFailure, err, "remove module %s", name)
	}
	delete(r.modules, name)
	logger.InfoCtx(ctx, "module deleted", logger.KeyVersion, m.record.Version)
	return nil
}

func (r *Registry) closeUnit(ctx context.Context, m *module) {
	if m.unit == nil {
		return
	}
	if err := m.unit.Close(); err != nil {
		logger.WarnCtx(ctx, "failed to close module unit", logger.KeyError, err)
	}
	m.unit = nil
}

// Scan rebuilds the registry from the module directory and loads every
// module found. Files that do not parse are skipped; of several versions
// of one module only the greatest is used. Load failures are logged and
// leave the module REGISTERED.
func (r *Registry) Scan(ctx context.Context) (int, error) {
	files, skipped, err := r.opts.Dir.Scan()
	if err != nil {
		return 0, rterrors.Wrap(rterrors.GeneralFailure, err, "scan module directory")
	}
	for _, name := range skipped {
		logger.WarnCtx(ctx, "ignoring unrecognized file in module directory", logger.KeyFile, name)
	}

	latest := make(map[string]models.ModuleFile)
	for _, mf := range files {
		cur, seen := latest[mf.Name]
		if !seen || models.VersionGreater(mf.Version, cur.Version) {
			latest[mf.Name] = mf
		}
	}
	for _, mf := range files {
		if latest[mf.Name] != mf {
			logger.WarnCtx(ctx, "ignoring superseded module version", logger.KeyModule, mf.Name, logger.KeyVersion, mf.Version)
		}
	}

	names := make([]string, 0, len(latest))
	for name, mf := range latest {
		if _, known := r.modules[name]; known {
			continue
		}
		r.modules[name] = &module{
			file: mf,
			record: models.ModuleRecord{
				Name:     mf.Name,
				Version:  mf.Version,
				State:    models.ModuleRegistered,
				FileName: mf.FileName(),
			},
		}
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if _, err := r.Load(ctx, name); err != nil {
			logger.ErrorCtx(ctx, "module failed to load at startup", logger.KeyModule, name, logger.KeyError, err)
		}
	}
	return len(names), nil
}

// Unit resolves the code unit serving module's services.
func (r *Registry) Unit(module string) (codeunit.Unit, error) {
	if module == models.HostModule {
		return r.opts.Host, nil
	}
	m, ok := r.modules[module]
	if !ok || m.unit == nil {
		return nil, rterrors.NewIllegalState("module %s is not loaded", module)
	}
	return m.unit, nil
}

// Get returns the record for name.
func (r *Registry) Get(name string) (models.ModuleRecord, bool) {
	m, ok := r.modules[name]
	if !ok {
		return models.ModuleRecord{}, false
	}
	return m.record, true
}

// List returns every module record sorted by name.
func (r *Registry) List() []models.ModuleRecord {
	out := make([]models.ModuleRecord, 0, len(r.modules))
	for _, m := range r.modules {
		out = append(out, m.record)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Close closes every module unit. Records stay, reset to REGISTERED. The
// host unit is left alone.
func (r *Registry) Close() error {
	var errs []error
	for name, m := range r.modules {
		if m.unit == nil {
			continue
		}
		if err := m.unit.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close module %s: %w", name, err))
		}
		m.unit = nil
		m.record.State = models.ModuleRegistered
	}
	return errors.Join(errs...)
}
