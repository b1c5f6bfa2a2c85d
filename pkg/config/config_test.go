package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/marmos91/hostd/internal/bytesize"
	"github.com/marmos91/hostd/pkg/runtime/store"
)

// yamlSafePath keeps Windows paths from being read as YAML escapes.
func yamlSafePath(p string) string {
	return filepath.ToSlash(p)
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

func TestLoad_File(t *testing.T) {
	stateDir := t.TempDir()
	path := writeConfig(t, `
logging:
  level: debug
  format: json

runtime:
  state_dir: "`+yamlSafePath(stateDir)+`"
  queue_size: 10
  poll_interval: 250ms
  max_module_size: 64MiB
  deploy_dir_watch: true

store:
  type: sqlite

controlplane:
  port: 7800
  jwt:
    secret: "test-secret-key-for-testing-minimum-32-chars"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "DEBUG" || cfg.Logging.Format != "json" {
		t.Errorf("Unexpected logging config: %+v", cfg.Logging)
	}
	if cfg.Runtime.QueueSize != 10 {
		t.Errorf("Expected queue size 10, got %d", cfg.Runtime.QueueSize)
	}
	if cfg.Runtime.PollInterval != 250*time.Millisecond {
		t.Errorf("Expected poll interval 250ms, got %v", cfg.Runtime.PollInterval)
	}
	if cfg.Runtime.MaxModuleSize != 64*bytesize.MiB {
		t.Errorf("Expected 64MiB, got %v", cfg.Runtime.MaxModuleSize)
	}
	if !cfg.Runtime.DeployDirWatch {
		t.Error("Expected deploy dir watch enabled")
	}
	if cfg.Store.Type != store.TypeSQLite {
		t.Errorf("Expected sqlite store, got %q", cfg.Store.Type)
	}
	if cfg.Store.SQLite.Path != filepath.Join(stateDir, "hostd.db") {
		t.Errorf("Expected sqlite under the state dir, got %q", cfg.Store.SQLite.Path)
	}
	if cfg.ControlPlane.Port != 7800 {
		t.Errorf("Expected port 7800, got %d", cfg.ControlPlane.Port)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown timeout, got %v", cfg.ShutdownTimeout)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: info
`)
	t.Setenv("HOSTD_LOGGING_LEVEL", "WARN")
	t.Setenv("HOSTD_RUNTIME_QUEUE_SIZE", "5")
	t.Setenv("HOSTD_STORE_TYPE", "badger")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Logging.Level != "WARN" {
		t.Errorf("Expected env to override level, got %q", cfg.Logging.Level)
	}
	if cfg.Runtime.QueueSize != 5 {
		t.Errorf("Expected env queue size 5, got %d", cfg.Runtime.QueueSize)
	}
	if cfg.Store.Type != store.TypeBadger {
		t.Errorf("Expected env store type badger, got %q", cfg.Store.Type)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Expected defaults, got error: %v", err)
	}
	if cfg.Runtime.QueueSize != 100 {
		t.Errorf("Expected default queue size, got %d", cfg.Runtime.QueueSize)
	}
}

func TestLoad_InvalidValue(t *testing.T) {
	path := writeConfig(t, `
logging:
  format: xml
`)
	if _, err := Load(path); err == nil {
		t.Fatal("Expected validation error")
	}
}

func TestMustLoad_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.yaml")
	_, err := MustLoad(path)
	if err == nil || !strings.Contains(err.Error(), "hostd init --config") {
		t.Errorf("Expected init hint, got: %v", err)
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Runtime.StateDir = t.TempDir()
	cfg.Runtime.MaxModuleSize = 8 * bytesize.MiB
	cfg.ControlPlane.JWT.Secret = "test-secret-key-for-testing-minimum-32-chars"
	ApplyDefaults(cfg)

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Mode().Perm() != 0600 && os.PathSeparator == '/' {
		t.Errorf("Expected 0600 permissions, got %v", info.Mode().Perm())
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Runtime.MaxModuleSize != cfg.Runtime.MaxModuleSize {
		t.Errorf("Expected %v, got %v", cfg.Runtime.MaxModuleSize, loaded.Runtime.MaxModuleSize)
	}
	if loaded.ControlPlane.JWT.Secret != cfg.ControlPlane.JWT.Secret {
		t.Error("Expected JWT secret to survive the round trip")
	}
	if loaded.Runtime.PollInterval != cfg.Runtime.PollInterval {
		t.Errorf("Expected poll interval %v, got %v", cfg.Runtime.PollInterval, loaded.Runtime.PollInterval)
	}
}

func TestSchema(t *testing.T) {
	data, err := Schema()
	if err != nil {
		t.Fatalf("Schema failed: %v", err)
	}

	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("Schema is not JSON: %v", err)
	}
	props, ok := doc["properties"].(map[string]any)
	if !ok {
		t.Fatal("Expected top-level properties")
	}
	for _, key := range []string{"logging", "runtime", "store", "controlplane", "security", "shutdown_timeout"} {
		if _, ok := props[key]; !ok {
			t.Errorf("Expected %q in schema", key)
		}
	}
}
