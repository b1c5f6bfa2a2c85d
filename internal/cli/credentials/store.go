// Package credentials persists hostctl login sessions, one per server.
package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// DefaultConfigDir is the directory under $XDG_CONFIG_HOME.
	DefaultConfigDir = "hostctl"
	// ConfigFileName is the name of the session file.
	ConfigFileName = "sessions.json"

	FilePermissions = 0600
	DirPermissions  = 0700
)

// ErrNotLoggedIn indicates no session exists for the server.
var ErrNotLoggedIn = errors.New("not logged in - run 'hostctl login' first")

// Session holds the tokens issued by one server.
type Session struct {
	Subject      string    `json:"subject,omitempty"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// IsExpired reports whether the access token is expired or within a
// minute of expiring.
func (s *Session) IsExpired() bool {
	if s.ExpiresAt.IsZero() {
		return true
	}
	return time.Now().Add(time.Minute).After(s.ExpiresAt)
}

// HasRefreshToken returns true if a refresh token is available.
func (s *Session) HasRefreshToken() bool {
	return s.RefreshToken != ""
}

type file struct {
	// Default is the server used when none is given.
	Default  string              `json:"default,omitempty"`
	Sessions map[string]*Session `json:"sessions"`
}

// Store reads and writes the session file.
type Store struct {
	path string
	data file
}

// NewStore opens the session file in the user's config directory.
func NewStore() (*Store, error) {
	path, err := defaultPath()
	if err != nil {
		return nil, err
	}
	return Open(path)
}

// Open loads the session file at path. A missing file is an empty store.
func Open(path string) (*Store, error) {
	s := &Store{path: path, data: file{Sessions: map[string]*Session{}}}

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(raw, &s.data); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if s.data.Sessions == nil {
		s.data.Sessions = map[string]*Session{}
	}
	return s, nil
}

func defaultPath() (string, error) {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, DefaultConfigDir, ConfigFileName), nil
}

func normalize(serverURL string) string {
	return strings.TrimRight(strings.TrimSpace(serverURL), "/")
}

// DefaultServer returns the server of the last login, or "".
func (s *Store) DefaultServer() string {
	return s.data.Default
}

// Get returns the session for serverURL.
func (s *Store) Get(serverURL string) (*Session, error) {
	sess, ok := s.data.Sessions[normalize(serverURL)]
	if !ok || sess.AccessToken == "" {
		return nil, ErrNotLoggedIn
	}
	return sess, nil
}

// Put stores a session and makes serverURL the default.
func (s *Store) Put(serverURL string, sess *Session) error {
	key := normalize(serverURL)
	s.data.Sessions[key] = sess
	s.data.Default = key
	return s.save()
}

// Remove forgets the session for serverURL.
func (s *Store) Remove(serverURL string) error {
	key := normalize(serverURL)
	if _, ok := s.data.Sessions[key]; !ok {
		return ErrNotLoggedIn
	}
	delete(s.data.Sessions, key)
	if s.data.Default == key {
		s.data.Default = ""
	}
	return s.save()
}

// Path returns the location of the session file.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), DirPermissions); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, raw, FilePermissions)
}
