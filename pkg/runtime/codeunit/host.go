package codeunit

import (
	"context"
	"fmt"
	"sort"

	"github.com/marmos91/hostd/pkg/runtime/service"
)

// HostUnit serves the service types compiled into the host process. It
// backs the reserved empty module name and is never closed by the runtime.
type HostUnit struct {
	factories map[string]func() (service.Service, error)
	order     []string
}

// NewHostUnit creates an empty host unit.
func NewHostUnit() *HostUnit {
	return &HostUnit{factories: make(map[string]func() (service.Service, error))}
}

// Provide registers a host service type.
func (u *HostUnit) Provide(typeName string, factory func() (service.Service, error)) {
	if _, dup := u.factories[typeName]; !dup {
		u.order = append(u.order, typeName)
		sort.Strings(u.order)
	}
	u.factories[typeName] = factory
}

func (u *HostUnit) Module() string { return "" }

func (u *HostUnit) Types() []string {
	return append([]string(nil), u.order...)
}

func (u *HostUnit) Instantiate(_ context.Context, typeName string) (service.Service, error) {
	f, ok := u.factories[typeName]
	if !ok {
		return nil, fmt.Errorf("%w: host type %s", ErrUnknownType, typeName)
	}
	return f()
}

func (u *HostUnit) Close() error { return nil }
