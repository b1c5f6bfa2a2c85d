// Package store persists the runtime's durable state: the service
// registration document and the module artifact directory.
//
// Service registrations live in a ServiceStore backend (JSON file, GORM on
// SQLite/PostgreSQL, or BadgerDB). Module registrations are not stored
// separately; they are reconstructed from the file names in the module
// directory at startup.
package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/marmos91/hostd/pkg/runtime/models"
)

// ErrStoreClosed is returned by operations on a closed store.
var ErrStoreClosed = errors.New("store is closed")

// ServiceStore persists the service registration document.
type ServiceStore interface {
	// Load returns every persisted service.
	Load(ctx context.Context) ([]models.PersistedService, error)

	// Save replaces the whole document with services.
	Save(ctx context.Context, services []models.PersistedService) error

	Healthcheck(ctx context.Context) error
	Close() error
}

// Type selects a ServiceStore backend.
type Type string

const (
	TypeJSON     Type = "json"
	TypeSQLite   Type = "sqlite"
	TypePostgres Type = "postgres"
	TypeBadger   Type = "badger"
)

// Config selects and configures the service store.
type Config struct {
	// Type is one of json, sqlite, postgres, badger. Default: json.
	Type Type `mapstructure:"type" validate:"omitempty,oneof=json sqlite postgres badger" yaml:"type"`

	// JSON configures the json backend.
	JSON JSONConfig `mapstructure:"json" yaml:"json,omitempty"`

	// SQLite configures the sqlite backend.
	SQLite SQLiteConfig `mapstructure:"sqlite" yaml:"sqlite,omitempty"`

	// Postgres configures the postgres backend.
	Postgres PostgresConfig `mapstructure:"postgres" yaml:"postgres,omitempty"`

	// Badger configures the badger backend.
	Badger BadgerConfig `mapstructure:"badger" yaml:"badger,omitempty"`
}

// ApplyDefaults fills in backend paths relative to stateDir.
func (c *Config) ApplyDefaults(stateDir string) {
	if c.Type == "" {
		c.Type = TypeJSON
	}
	if c.JSON.Path == "" {
		c.JSON.Path = filepath.Join(stateDir, "services.json")
	}
	if c.SQLite.Path == "" {
		c.SQLite.Path = filepath.Join(stateDir, "hostd.db")
	}
	if c.Badger.Path == "" {
		c.Badger.Path = filepath.Join(stateDir, "services.badger")
	}
	c.Postgres.applyDefaults()
}

// Validate checks the selected backend's settings.
func (c *Config) Validate() error {
	switch c.Type {
	case TypeJSON:
		if c.JSON.Path == "" {
			return fmt.Errorf("json store path is required")
		}
	case TypeSQLite:
		if c.SQLite.Path == "" {
			return fmt.Errorf("sqlite path is required")
		}
	case TypePostgres:
		return c.Postgres.validate()
	case TypeBadger:
		if c.Badger.Path == "" {
			return fmt.Errorf("badger path is required")
		}
	default:
		return fmt.Errorf("unsupported store type: %s", c.Type)
	}
	return nil
}

// New opens the backend selected by cfg.
func New(ctx context.Context, cfg Config) (ServiceStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid store configuration: %w", err)
	}
	switch cfg.Type {
	case TypeJSON:
		return NewJSONStore(cfg.JSON.Path)
	case TypeSQLite, TypePostgres:
		return NewGORMStore(ctx, cfg)
	case TypeBadger:
		return NewBadgerStore(cfg.Badger)
	default:
		return nil, fmt.Errorf("unsupported store type: %s", cfg.Type)
	}
}

// sortServices orders services by module then type so every backend
// returns the same document.
func sortServices(services []models.PersistedService) {
	sort.Slice(services, func(i, j int) bool {
		return services[i].ID().Less(services[j].ID())
	})
}
