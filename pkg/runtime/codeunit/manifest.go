package codeunit

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// ManifestFile is the manifest entry name inside a bundle archive.
const ManifestFile = "MODULE.yaml"

// Manifest declares the services a bundle provides.
type Manifest struct {
	// Name, when set, must match the module name parsed from the file name.
	Name        string            `yaml:"name,omitempty"`
	Description string            `yaml:"description,omitempty"`
	Services    []ServiceManifest `yaml:"services"`
}

// ServiceManifest declares one service type.
type ServiceManifest struct {
	Type   string         `yaml:"type"`
	Kind   string         `yaml:"kind"`
	Config map[string]any `yaml:"config,omitempty"`
}

// ParseManifest decodes and validates a manifest.
func ParseManifest(r io.Reader) (*Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks that every service has a unique type and a kind.
func (m *Manifest) Validate() error {
	seen := make(map[string]struct{}, len(m.Services))
	for i, svc := range m.Services {
		if svc.Type == "" {
			return fmt.Errorf("%w: service #%d has no type", ErrInvalidManifest, i)
		}
		if svc.Kind == "" {
			return fmt.Errorf("%w: service %q has no kind", ErrInvalidManifest, svc.Type)
		}
		if _, dup := seen[svc.Type]; dup {
			return fmt.Errorf("%w: duplicate service type %q", ErrInvalidManifest, svc.Type)
		}
		seen[svc.Type] = struct{}{}
	}
	return nil
}

// Lookup returns the declaration for typeName.
func (m *Manifest) Lookup(typeName string) (ServiceManifest, bool) {
	for _, svc := range m.Services {
		if svc.Type == typeName {
			return svc, true
		}
	}
	return ServiceManifest{}, false
}
