package codeunit

import (
	"fmt"
	"sort"
	"sync"

	"github.com/marmos91/hostd/pkg/runtime/service"
)

// Env is everything a service kind factory gets to build an instance.
type Env struct {
	Module string
	Type   string

	// Dir is the unit's private directory with the extracted bundle.
	Dir string

	// Config is the per-service config block from the manifest.
	Config map[string]any
}

// Factory builds a service of one kind.
type Factory func(env Env) (service.Service, error)

// Catalog maps service kind names to factories. Bundle manifests refer to
// kinds by name; the host decides which kinds exist.
type Catalog struct {
	mu    sync.RWMutex
	kinds map[string]Factory
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{kinds: make(map[string]Factory)}
}

// Register adds a kind. Registering the same name twice panics, since it is
// always a wiring bug.
func (c *Catalog) Register(kind string, f Factory) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.kinds[kind]; dup {
		panic(fmt.Sprintf("codeunit: service kind %q registered twice", kind))
	}
	c.kinds[kind] = f
}

// Lookup returns the factory for kind.
func (c *Catalog) Lookup(kind string) (Factory, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.kinds[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	return f, nil
}

// Kinds lists the registered kind names, sorted.
func (c *Catalog) Kinds() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.kinds))
	for k := range c.kinds {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
