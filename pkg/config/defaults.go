package config

import (
	"strings"
	"time"

	"github.com/marmos91/hostd/internal/bytesize"
	"github.com/marmos91/hostd/pkg/controlplane/api"
	"github.com/marmos91/hostd/pkg/runtime/store"
)

// ApplyDefaults replaces zero values with defaults; explicit values are
// kept. Store paths are resolved against the state directory, so the
// runtime section is filled first.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyMetricsDefaults(&cfg.Metrics)
	applyControlPlaneDefaults(&cfg.ControlPlane)
	applyRuntimeDefaults(&cfg.Runtime)
	applySecurityDefaults(&cfg.Security)
	applyStoreDefaults(&cfg.Store, cfg.Runtime.StateDir)

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)
	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stderr"
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}
	if cfg.Profiling.Endpoint == "" {
		cfg.Profiling.Endpoint = "http://localhost:4040"
	}
	if len(cfg.Profiling.ProfileTypes) == 0 {
		cfg.Profiling.ProfileTypes = []string{
			"cpu",
			"alloc_objects",
			"alloc_space",
			"inuse_objects",
			"inuse_space",
			"goroutines",
		}
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Address == "" {
		cfg.Address = "127.0.0.1:9090"
	}
	if cfg.Path == "" {
		cfg.Path = "/metrics"
	}
}

func applyControlPlaneDefaults(cfg *api.APIConfig) {
	if cfg.Port == 0 {
		cfg.Port = 7700
	}
	cfg.ApplyDefaults()
}

func applyRuntimeDefaults(cfg *RuntimeConfig) {
	if cfg.StateDir == "" {
		cfg.StateDir = getStateDir()
	}
	oc := cfg.Orchestrator()
	oc.ApplyDefaults()
	cfg.QueueSize = oc.QueueSize
	cfg.PollInterval = oc.PollInterval
	cfg.ShutdownGrace = oc.ShutdownGrace

	if cfg.DefaultSigner == "" {
		cfg.DefaultSigner = "ed25519"
	}
	if cfg.MaxModuleSize == 0 {
		cfg.MaxModuleSize = 256 * bytesize.MiB
	}
}

func applySecurityDefaults(cfg *SecurityConfig) {
	if cfg.Cipher == "" {
		cfg.Cipher = "xchacha20poly1305"
	}
	if cfg.PassphraseEnv == "" {
		cfg.PassphraseEnv = "HOSTD_PASSPHRASE"
	}
}

func applyStoreDefaults(cfg *store.Config, stateDir string) {
	cfg.ApplyDefaults(stateDir)
}

// GetDefaultConfig returns a Config with every default applied.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
