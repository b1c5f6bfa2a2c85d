package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/marmos91/hostd/pkg/runtime/models"
)

// JSONConfig configures the JSON file backend.
type JSONConfig struct {
	// Path is the document location. Default: <state_dir>/services.json
	Path string `mapstructure:"path" yaml:"path,omitempty"`
}

type serviceDocument struct {
	Services []models.PersistedService `json:"services"`
}

// JSONStore keeps the service document in a single JSON file, rewritten
// atomically on every save.
type JSONStore struct {
	path string

	mu     sync.Mutex
	closed bool
}

// NewJSONStore creates the store, ensuring the parent directory exists.
func NewJSONStore(path string) (*JSONStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return &JSONStore{path: path}, nil
}

func (s *JSONStore) Load(ctx context.Context) ([]models.PersistedService, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read service document: %w", err)
	}

	var doc serviceDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode service document %s: %w", s.path, err)
	}
	sortServices(doc.Services)
	return doc.Services, nil
}

func (s *JSONStore) Save(ctx context.Context, services []models.PersistedService) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	doc := serviceDocument{Services: append([]models.PersistedService{}, services...)}
	sortServices(doc.Services)
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode service document: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".services-*.json")
	if err != nil {
		return fmt.Errorf("create temp document: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write service document: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync service document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

func (s *JSONStore) Healthcheck(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	_, err := os.Stat(filepath.Dir(s.path))
	return err
}

func (s *JSONStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ ServiceStore = (*JSONStore)(nil)
