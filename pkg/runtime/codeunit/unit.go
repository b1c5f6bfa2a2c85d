// Package codeunit loads verified module artifacts into isolated units
// that can enumerate and instantiate the service types they declare.
//
// A Unit is the runtime's equivalent of a per-module class loader: one is
// opened per loaded module, cached by the module registry, and closed on
// delete or shutdown. Loaders are selected by artifact file extension.
package codeunit

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/marmos91/hostd/pkg/runtime/service"
)

var (
	// ErrUnsupportedArtifact is returned when no loader handles an extension.
	ErrUnsupportedArtifact = errors.New("unsupported module artifact")

	// ErrUnknownType is returned when a unit does not declare a service type.
	ErrUnknownType = errors.New("unknown service type")

	// ErrUnknownKind is returned when a manifest references a service kind
	// missing from the catalog.
	ErrUnknownKind = errors.New("unknown service kind")

	// ErrInvalidManifest is returned for malformed or missing manifests.
	ErrInvalidManifest = errors.New("invalid module manifest")

	// ErrBundleTooLarge is returned when a bundle expands past the loader's
	// extraction limit.
	ErrBundleTooLarge = errors.New("bundle exceeds extraction limit")
)

// Unit is an opened module artifact.
type Unit interface {
	// Module is the owning module name. The host unit returns "".
	Module() string

	// Types lists the service types the unit provides, in manifest order.
	Types() []string

	// Instantiate creates a new instance of typeName.
	Instantiate(ctx context.Context, typeName string) (service.Service, error)

	// Close releases the unit's resources.
	Close() error
}

// Spec describes an artifact to open.
type Spec struct {
	Module  string
	Version string

	// Path is the verified artifact on disk.
	Path string

	// Parent receives instantiation requests for types the unit does not
	// declare itself. Normally the host unit.
	Parent Unit

	// ScratchDir is a directory the unit may populate and must remove on
	// Close.
	ScratchDir string
}

// Loader opens one family of artifacts.
type Loader interface {
	// Extensions lists the lower-case file extensions handled, without dot.
	Extensions() []string

	Open(ctx context.Context, spec Spec) (Unit, error)
}

// Loaders dispatches artifacts to loaders by file extension.
type Loaders struct {
	byExt map[string]Loader
}

// NewLoaders indexes loaders by extension. Later loaders win on conflicts.
func NewLoaders(loaders ...Loader) *Loaders {
	l := &Loaders{byExt: make(map[string]Loader)}
	for _, loader := range loaders {
		for _, ext := range loader.Extensions() {
			l.byExt[strings.ToLower(ext)] = loader
		}
	}
	return l
}

// Supports reports whether ext has a loader.
func (l *Loaders) Supports(ext string) bool {
	_, ok := l.byExt[strings.ToLower(strings.TrimPrefix(ext, "."))]
	return ok
}

// Extensions lists the supported extensions, sorted.
func (l *Loaders) Extensions() []string {
	exts := make([]string, 0, len(l.byExt))
	for ext := range l.byExt {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Open selects a loader from the artifact extension and opens it.
func (l *Loaders) Open(ctx context.Context, spec Spec) (Unit, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(spec.Path), "."))
	loader, ok := l.byExt[ext]
	if !ok {
		return nil, fmt.Errorf("%w: .%s", ErrUnsupportedArtifact, ext)
	}
	return loader.Open(ctx, spec)
}
