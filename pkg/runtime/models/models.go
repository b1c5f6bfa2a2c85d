// Package models holds the records and snapshots exchanged between the
// runtime registries, the persistent store and the control plane.
package models

import (
	"fmt"
	"regexp"
	"strings"
)

// HostModule is the reserved module name for services provided directly by
// the host process.
const HostModule = ""

// ModuleState is the lifecycle state of a module. REGISTERED -> LOADED only.
type ModuleState string

const (
	ModuleRegistered ModuleState = "REGISTERED"
	ModuleLoaded     ModuleState = "LOADED"
)

// ServiceState is the lifecycle state of a service.
type ServiceState string

const (
	ServiceRegistered ServiceState = "REGISTERED"
	ServiceLoaded     ServiceState = "LOADED"
	ServiceRunning    ServiceState = "RUNNING"
)

// Rank orders service states so callers can step one transition at a time.
func (s ServiceState) Rank() int {
	switch s {
	case ServiceRegistered:
		return 0
	case ServiceLoaded:
		return 1
	case ServiceRunning:
		return 2
	default:
		return -1
	}
}

// ProcessState is the coarse state of the whole host process.
type ProcessState string

const (
	ProcessConfigured ProcessState = "CONFIGURED"
	ProcessRunning    ProcessState = "RUNNING"
	ProcessStopped    ProcessState = "STOPPED"
)

// ModuleRecord describes a known module.
type ModuleRecord struct {
	Name    string      `json:"name" yaml:"name"`
	Version string      `json:"version" yaml:"version"`
	State   ModuleState `json:"state" yaml:"state"`

	// FileName is the on-disk artifact name, <name>-<version>.<ext>.
	FileName string `json:"file_name" yaml:"file_name"`
}

// ServiceID identifies a service by owning module and type name.
type ServiceID struct {
	Module string `json:"module" yaml:"module"`
	Type   string `json:"type" yaml:"type"`
}

// IsHost reports whether the service is provided by the host process.
func (id ServiceID) IsHost() bool {
	return id.Module == HostModule
}

// String renders module/type, or just type for host services.
func (id ServiceID) String() string {
	if id.IsHost() {
		return id.Type
	}
	return id.Module + "/" + id.Type
}

// ParseServiceID is the inverse of ServiceID.String.
func ParseServiceID(s string) (ServiceID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ServiceID{}, fmt.Errorf("empty service id")
	}
	module, typ, found := strings.Cut(s, "/")
	if !found {
		return ServiceID{Type: s}, nil
	}
	if module == "" || typ == "" {
		return ServiceID{}, fmt.Errorf("malformed service id %q", s)
	}
	return ServiceID{Module: module, Type: typ}, nil
}

// Less orders ids by module, then type.
func (id ServiceID) Less(other ServiceID) bool {
	if id.Module != other.Module {
		return id.Module < other.Module
	}
	return id.Type < other.Type
}

// ServiceRecord describes a known service.
type ServiceRecord struct {
	ID        ServiceID    `json:"id" yaml:"id"`
	State     ServiceState `json:"state" yaml:"state"`
	AutoStart bool         `json:"auto_start" yaml:"auto_start"`
}

// PersistedService is the durable form of a ServiceRecord.
type PersistedService struct {
	Module    string `gorm:"primaryKey;size:255" json:"module" cbor:"1,keyasint"`
	Type      string `gorm:"primaryKey;size:255" json:"type" cbor:"2,keyasint"`
	AutoStart bool   `gorm:"not null;default:false" json:"auto_start" cbor:"3,keyasint"`
}

// TableName returns the table name for PersistedService.
func (PersistedService) TableName() string {
	return "services"
}

// ID returns the service id of the persisted record.
func (p PersistedService) ID() ServiceID {
	return ServiceID{Module: p.Module, Type: p.Type}
}

// Status is a consistent snapshot of the process.
type Status struct {
	BaseAddress  string          `json:"base_address" yaml:"base_address"`
	ProcessState ProcessState    `json:"process_state" yaml:"process_state"`
	Modules      []ModuleRecord  `json:"modules" yaml:"modules"`
	Services     []ServiceRecord `json:"services" yaml:"services"`
}

var moduleFilePattern = regexp.MustCompile(`^(.+)-(\d+\.\d+\.\d+)\.([A-Za-z0-9]+)$`)

// ModuleFile is the parsed form of a module artifact file name.
type ModuleFile struct {
	Name      string
	Version   string
	Extension string
}

// FileName renders <name>-<version>.<ext>.
func (f ModuleFile) FileName() string {
	return fmt.Sprintf("%s-%s.%s", f.Name, f.Version, f.Extension)
}

// ParseModuleFileName parses <name>-<major.minor.patch>.<ext>.
func ParseModuleFileName(fileName string) (ModuleFile, bool) {
	m := moduleFilePattern.FindStringSubmatch(fileName)
	if m == nil {
		return ModuleFile{}, false
	}
	return ModuleFile{Name: m[1], Version: m[2], Extension: strings.ToLower(m[3])}, true
}

// VersionGreater reports whether a is strictly greater than b.
//
// Versions compare as plain strings, so "10.0.0" sorts before "2.0.0".
func VersionGreater(a, b string) bool {
	return a > b
}
