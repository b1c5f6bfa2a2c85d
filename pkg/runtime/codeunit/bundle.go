package codeunit

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/marmos91/hostd/pkg/runtime/service"
)

// DefaultMaxExtracted bounds the total bytes a bundle may expand to.
const DefaultMaxExtracted int64 = 1 << 30

// BundleLoader opens zip bundles carrying a MODULE.yaml manifest. Service
// kinds named by the manifest are resolved through the catalog.
type BundleLoader struct {
	catalog *Catalog

	// MaxExtracted caps the summed size of all extracted entries.
	MaxExtracted int64
}

// NewBundleLoader creates a loader backed by catalog.
func NewBundleLoader(catalog *Catalog) *BundleLoader {
	return &BundleLoader{catalog: catalog, MaxExtracted: DefaultMaxExtracted}
}

func (l *BundleLoader) Extensions() []string { return []string{"zip", "hmod"} }

// Open extracts the bundle into spec.ScratchDir and validates the manifest
// against the catalog.
func (l *BundleLoader) Open(_ context.Context, spec Spec) (Unit, error) {
	if spec.ScratchDir == "" {
		return nil, fmt.Errorf("bundle %s: scratch directory required", spec.Module)
	}

	zr, err := zip.OpenReader(spec.Path)
	if err != nil {
		return nil, fmt.Errorf("open bundle %s: %w", spec.Path, err)
	}
	defer func() { _ = zr.Close() }()

	if err := os.RemoveAll(spec.ScratchDir); err != nil {
		return nil, fmt.Errorf("reset scratch dir: %w", err)
	}
	if err := os.MkdirAll(spec.ScratchDir, 0755); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}

	budget := l.MaxExtracted
	if budget <= 0 {
		budget = DefaultMaxExtracted
	}

	var manifest *Manifest
	for _, f := range zr.File {
		n, err := extractEntry(spec.ScratchDir, f, budget)
		if err != nil {
			_ = os.RemoveAll(spec.ScratchDir)
			return nil, err
		}
		budget -= n
		if f.Name == ManifestFile {
			manifest, err = readManifest(f)
			if err != nil {
				_ = os.RemoveAll(spec.ScratchDir)
				return nil, err
			}
		}
	}

	fail := func(err error) (Unit, error) {
		_ = os.RemoveAll(spec.ScratchDir)
		return nil, err
	}

	if manifest == nil {
		return fail(fmt.Errorf("%w: %s not found in %s", ErrInvalidManifest, ManifestFile, filepath.Base(spec.Path)))
	}
	if manifest.Name != "" && manifest.Name != spec.Module {
		return fail(fmt.Errorf("%w: manifest names module %q, artifact is %q", ErrInvalidManifest, manifest.Name, spec.Module))
	}
	for _, svc := range manifest.Services {
		if _, err := l.catalog.Lookup(svc.Kind); err != nil {
			return fail(fmt.Errorf("service %s: %w", svc.Type, err))
		}
	}

	return &bundleUnit{
		module:   spec.Module,
		dir:      spec.ScratchDir,
		manifest: manifest,
		catalog:  l.catalog,
		parent:   spec.Parent,
	}, nil
}

func readManifest(f *zip.File) (*Manifest, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer func() { _ = rc.Close() }()
	return ParseManifest(rc)
}

// extractEntry writes one archive entry under dir, rejecting entries that
// would escape it or expand past budget bytes. It returns the bytes written.
func extractEntry(dir string, f *zip.File, budget int64) (int64, error) {
	dest := filepath.Join(dir, filepath.FromSlash(f.Name))
	if !strings.HasPrefix(dest, filepath.Clean(dir)+string(os.PathSeparator)) {
		return 0, fmt.Errorf("bundle entry %q escapes unit directory", f.Name)
	}

	if f.FileInfo().IsDir() {
		return 0, os.MkdirAll(dest, 0755)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return 0, err
	}

	rc, err := f.Open()
	if err != nil {
		return 0, fmt.Errorf("open entry %s: %w", f.Name, err)
	}
	defer func() { _ = rc.Close() }()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return 0, err
	}
	// Header sizes are ignored; one byte past budget means overflow.
	n, err := io.Copy(out, io.LimitReader(rc, budget+1))
	if err != nil {
		_ = out.Close()
		return n, fmt.Errorf("extract %s: %w", f.Name, err)
	}
	if n > budget {
		_ = out.Close()
		return n, fmt.Errorf("%w: entry %s", ErrBundleTooLarge, f.Name)
	}
	return n, out.Close()
}

type bundleUnit struct {
	module   string
	dir      string
	manifest *Manifest
	catalog  *Catalog
	parent   Unit
}

func (u *bundleUnit) Module() string { return u.module }

func (u *bundleUnit) Types() []string {
	types := make([]string, 0, len(u.manifest.Services))
	for _, svc := range u.manifest.Services {
		types = append(types, svc.Type)
	}
	return types
}

func (u *bundleUnit) Instantiate(ctx context.Context, typeName string) (service.Service, error) {
	decl, ok := u.manifest.Lookup(typeName)
	if !ok {
		if u.parent != nil {
			return u.parent.Instantiate(ctx, typeName)
		}
		return nil, fmt.Errorf("%w: %s in module %s", ErrUnknownType, typeName, u.module)
	}

	factory, err := u.catalog.Lookup(decl.Kind)
	if err != nil {
		return nil, err
	}

	cfg := decl.Config
	if cfg == nil {
		cfg = map[string]any{}
	}
	return factory(Env{
		Module: u.module,
		Type:   typeName,
		Dir:    u.dir,
		Config: cfg,
	})
}

func (u *bundleUnit) Close() error {
	return os.RemoveAll(u.dir)
}
