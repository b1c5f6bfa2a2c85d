package codeunit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"plugin"
	"sync"

	"github.com/marmos91/hostd/pkg/runtime/service"
	"github.com/zeebo/blake3"
)

const (
	// PluginTypesSymbol must be a func() []string listing the service types.
	PluginTypesSymbol = "HostdTypes"

	// PluginNewSymbol must be a func(string) (any, error) returning a
	// service.Service for the given type.
	PluginNewSymbol = "HostdNew"
)

// ErrPluginChanged is returned when a plugin path that was already opened
// by this process now holds different bytes. The Go runtime caches plugins
// by path and would keep serving the old code; restart hostd to pick it up.
var ErrPluginChanged = errors.New("plugin changed since it was first opened")

// openedPlugins maps absolute plugin paths to the digest they were opened with.
var openedPlugins sync.Map

// PluginLoader opens Go plugins (.so) built with -buildmode=plugin against
// the same hostd version.
type PluginLoader struct{}

func (PluginLoader) Extensions() []string { return []string{"so"} }

func (PluginLoader) Open(_ context.Context, spec Spec) (Unit, error) {
	path, digest, err := checkPlugin(spec.Path)
	if err != nil {
		return nil, err
	}

	p, err := plugin.Open(spec.Path)
	if err != nil {
		return nil, fmt.Errorf("open plugin %s: %w", spec.Path, err)
	}
	openedPlugins.Store(path, digest)

	typesSym, err := p.Lookup(PluginTypesSymbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	typesFn, ok := typesSym.(func() []string)
	if !ok {
		return nil, fmt.Errorf("%w: %s has type %T", ErrInvalidManifest, PluginTypesSymbol, typesSym)
	}

	newSym, err := p.Lookup(PluginNewSymbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	newFn, ok := newSym.(func(string) (any, error))
	if !ok {
		return nil, fmt.Errorf("%w: %s has type %T", ErrInvalidManifest, PluginNewSymbol, newSym)
	}

	return &pluginUnit{module: spec.Module, types: typesFn(), newFn: newFn, parent: spec.Parent}, nil
}

type pluginUnit struct {
	module string
	types  []string
	newFn  func(string) (any, error)
	parent Unit
}

func (u *pluginUnit) Module() string  { return u.module }
func (u *pluginUnit) Types() []string { return append([]string(nil), u.types...) }

func (u *pluginUnit) Instantiate(ctx context.Context, typeName string) (service.Service, error) {
	declared := false
	for _, t := range u.types {
		if t == typeName {
			declared = true
			break
		}
	}
	if !declared {
		if u.parent != nil {
			return u.parent.Instantiate(ctx, typeName)
		}
		return nil, fmt.Errorf("%w: %s in module %s", ErrUnknownType, typeName, u.module)
	}

	v, err := u.newFn(typeName)
	if err != nil {
		return nil, err
	}
	svc, ok := v.(service.Service)
	if !ok {
		return nil, fmt.Errorf("plugin %s: %s is %T, not a service", u.module, typeName, v)
	}
	return svc, nil
}

// Close is a no-op: the Go runtime cannot unload plugins. A new version
// under a new file name opens fresh code; the same file name rewritten with
// different bytes is refused by Open until hostd restarts.
func (u *pluginUnit) Close() error { return nil }

// checkPlugin hashes the file at path and refuses it when an earlier open of
// the same path saw different contents.
func checkPlugin(path string) (string, [32]byte, error) {
	var digest [32]byte
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", digest, err
	}

	f, err := os.Open(abs)
	if err != nil {
		return "", digest, fmt.Errorf("open plugin %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", digest, fmt.Errorf("hash plugin %s: %w", path, err)
	}
	copy(digest[:], h.Sum(nil))

	if prev, ok := openedPlugins.Load(abs); ok && prev.([32]byte) != digest {
		return "", digest, fmt.Errorf("%w: %s", ErrPluginChanged, filepath.Base(path))
	}
	return abs, digest, nil
}
