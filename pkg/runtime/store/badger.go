package store

import (
	"context"
	"fmt"
	"os"
	"sync"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/marmos91/hostd/pkg/runtime/models"
)

// prefixService namespaces service records: "svc:" + module + "\x00" + type.
const prefixService = "svc:"

// BadgerConfig configures the BadgerDB backend.
type BadgerConfig struct {
	// Path is the database directory. Default: <state_dir>/services.badger
	Path string `mapstructure:"path" yaml:"path,omitempty"`

	// InMemory runs without touching disk. Used by tests.
	InMemory bool `mapstructure:"in_memory" yaml:"in_memory,omitempty"`
}

// BadgerStore keeps one CBOR-encoded record per service.
type BadgerStore struct {
	db *badgerdb.DB

	mu     sync.RWMutex
	closed bool
}

// NewBadgerStore opens (or creates) the database.
func NewBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	opts := badgerdb.DefaultOptions(cfg.Path).WithLogger(nil)
	if cfg.InMemory {
		opts = badgerdb.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	} else if err := os.MkdirAll(cfg.Path, 0755); err != nil {
		return nil, fmt.Errorf("create badger directory: %w", err)
	}

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func serviceKey(p models.PersistedService) []byte {
	return []byte(prefixService + p.Module + "\x00" + p.Type)
}

func (s *BadgerStore) Load(ctx context.Context) ([]models.PersistedService, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	var result []models.PersistedService
	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(prefixService)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var p models.PersistedService
				if err := unmarshalCBOR(val, &p); err != nil {
					return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
				}
				result = append(result, p)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortServices(result)
	return result, nil
}

// Save replaces every service record in a single transaction.
func (s *BadgerStore) Save(ctx context.Context, services []models.PersistedService) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}

	return s.db.Update(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(prefixService)
		opts.PrefetchValues = false

		var stale [][]byte
		it := txn.NewIterator(opts)
		for it.Rewind(); it.Valid(); it.Next() {
			stale = append(stale, it.Item().KeyCopy(nil))
		}
		it.Close()

		for _, key := range stale {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		for _, p := range services {
			val, err := marshalCBOR(p)
			if err != nil {
				return fmt.Errorf("encode %s: %w", p.ID(), err)
			}
			if err := txn.Set(serviceKey(p), val); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BadgerStore) Healthcheck(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed || s.db.IsClosed() {
		return ErrStoreClosed
	}
	return nil
}

func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

var _ ServiceStore = (*BadgerStore)(nil)
