package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/marmos91/hostd/pkg/runtime/models"
)

// SQLiteConfig contains SQLite-specific configuration.
type SQLiteConfig struct {
	// Path is the database file. Default: <state_dir>/hostd.db
	Path string `mapstructure:"path" yaml:"path,omitempty"`
}

// PostgresConfig contains PostgreSQL-specific configuration.
type PostgresConfig struct {
	Host         string `mapstructure:"host" yaml:"host,omitempty"`
	Port         int    `mapstructure:"port" yaml:"port,omitempty"`
	Database     string `mapstructure:"database" yaml:"database,omitempty"`
	User         string `mapstructure:"user" yaml:"user,omitempty"`
	Password     string `mapstructure:"password" yaml:"password,omitempty"`
	SSLMode      string `mapstructure:"sslmode" yaml:"sslmode,omitempty"` // disable, require, verify-ca, verify-full
	MaxOpenConns int    `mapstructure:"max_open_conns" yaml:"max_open_conns,omitempty"`
	MaxIdleConns int    `mapstructure:"max_idle_conns" yaml:"max_idle_conns,omitempty"`
}

// DSN returns the key/value connection string used by GORM.
func (c *PostgresConfig) DSN() string {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s",
		c.Host, c.Port, c.User, c.Password, c.Database)
	if c.SSLMode != "" {
		dsn += " sslmode=" + c.SSLMode
	}
	return dsn
}

// URL returns the postgres:// form required by the migrator.
func (c *PostgresConfig) URL() string {
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslmode)
}

func (c *PostgresConfig) applyDefaults() {
	if c.Port == 0 {
		c.Port = 5432
	}
	if c.SSLMode == "" {
		c.SSLMode = "disable"
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 10
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 2
	}
}

func (c *PostgresConfig) validate() error {
	if c.Host == "" {
		return fmt.Errorf("postgres host is required")
	}
	if c.Database == "" {
		return fmt.Errorf("postgres database is required")
	}
	if c.User == "" {
		return fmt.Errorf("postgres user is required")
	}
	return nil
}

// GORMStore keeps services in a SQL table via GORM. SQLite schemas are
// created with AutoMigrate; PostgreSQL schemas are versioned migrations.
type GORMStore struct {
	db     *gorm.DB
	typ    Type
	mu     sync.RWMutex
	closed bool
}

// NewGORMStore opens a SQLite or PostgreSQL store.
func NewGORMStore(ctx context.Context, cfg Config) (*GORMStore, error) {
	var dialector gorm.Dialector
	switch cfg.Type {
	case TypeSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.SQLite.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dialector = sqlite.Open(cfg.SQLite.Path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")

	case TypePostgres:
		if err := runMigrations(ctx, cfg.Postgres.URL()); err != nil {
			return nil, err
		}
		dialector = postgres.Open(cfg.Postgres.DSN())

	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.Type == TypePostgres {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get underlying database: %w", err)
		}
		sqlDB.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
	} else if err := db.AutoMigrate(&models.PersistedService{}); err != nil {
		return nil, fmt.Errorf("failed to run database migration: %w", err)
	}

	return &GORMStore{db: db, typ: cfg.Type}, nil
}

func (s *GORMStore) Load(ctx context.Context) ([]models.PersistedService, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	var services []models.PersistedService
	if err := s.db.WithContext(ctx).Order("module, type").Find(&services).Error; err != nil {
		return nil, fmt.Errorf("load services: %w", err)
	}
	return services, nil
}

// Save replaces the table contents in one transaction.
func (s *GORMStore) Save(ctx context.Context, services []models.PersistedService) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.PersistedService{}).Error; err != nil {
			return fmt.Errorf("clear services: %w", err)
		}
		if len(services) == 0 {
			return nil
		}
		rows := append([]models.PersistedService{}, services...)
		if err := tx.CreateInBatches(rows, 100).Error; err != nil {
			return fmt.Errorf("insert services: %w", err)
		}
		return nil
	})
}

func (s *GORMStore) Healthcheck(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying database: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

func (s *GORMStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying database: %w", err)
	}
	return sqlDB.Close()
}

// DB returns the underlying GORM connection for tests.
func (s *GORMStore) DB() *gorm.DB {
	return s.db
}

var _ ServiceStore = (*GORMStore)(nil)
