// Package config loads the hostd daemon configuration.
//
// Sources, highest precedence first:
//  1. Environment variables (HOSTD_*)
//  2. Configuration file (YAML)
//  3. Default values
//
// Module and service registrations are runtime state, not configuration;
// they live in the state directory.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/marmos91/hostd/internal/bytesize"
	"github.com/marmos91/hostd/pkg/controlplane/api"
	"github.com/marmos91/hostd/pkg/runtime/orchestrator"
	"github.com/marmos91/hostd/pkg/runtime/store"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. HOSTD_LOGGING_LEVEL.
const EnvPrefix = "HOSTD"

// Config is the hostd daemon configuration.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`

	// ControlPlane configures the REST control surface.
	ControlPlane api.APIConfig `mapstructure:"controlplane" yaml:"controlplane"`

	Runtime  RuntimeConfig  `mapstructure:"runtime" yaml:"runtime"`
	Security SecurityConfig `mapstructure:"security" yaml:"security"`

	// Store selects the service registration backend.
	Store store.Config `mapstructure:"store" yaml:"store"`

	// ShutdownTimeout bounds the whole shutdown, service hooks included.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Level is DEBUG, INFO, WARN or ERROR (case-insensitive).
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format is text or json.
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output is stdout, stderr or a file path.
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP gRPC collector. Default: localhost:4317
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate is between 0 and 1. Default: 1.0
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`

	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint defaults to http://localhost:4040.
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// MetricsConfig configures the Prometheus exporter. The exporter runs as
// the host service "metrics" and is registered for auto-start when
// enabled.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Address defaults to 127.0.0.1:9090.
	Address string `mapstructure:"address" yaml:"address"`

	// Path defaults to /metrics.
	Path string `mapstructure:"path" validate:"omitempty,startswith=/" yaml:"path"`
}

// RuntimeConfig configures the orchestrator and the module registry.
type RuntimeConfig struct {
	// StateDir holds modules, signatures, keys and file-backed stores.
	// Default: $XDG_STATE_HOME/hostd
	StateDir string `mapstructure:"state_dir" validate:"required" yaml:"state_dir"`

	QueueSize     int           `mapstructure:"queue_size" validate:"gte=1" yaml:"queue_size"`
	PollInterval  time.Duration `mapstructure:"poll_interval" validate:"gt=0" yaml:"poll_interval"`
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace" validate:"gt=0" yaml:"shutdown_grace"`

	// DefaultSigner signs newly registered modules. Default: ed25519
	DefaultSigner string `mapstructure:"default_signer" validate:"oneof=ed25519 blake3" yaml:"default_signer"`

	// MaxModuleSize caps uploaded artifacts ("64MiB"). Zero is unlimited.
	MaxModuleSize bytesize.ByteSize `mapstructure:"max_module_size" yaml:"max_module_size"`

	// DeployDirWatch registers files dropped into <state_dir>/deploy.
	DeployDirWatch bool `mapstructure:"deploy_dir_watch" yaml:"deploy_dir_watch"`
}

// Orchestrator returns the daemon loop settings.
func (c RuntimeConfig) Orchestrator() orchestrator.Config {
	return orchestrator.Config{
		QueueSize:     c.QueueSize,
		PollInterval:  c.PollInterval,
		ShutdownGrace: c.ShutdownGrace,
	}
}

// DeployDir is the drop-in directory under the state directory.
func (c RuntimeConfig) DeployDir() string {
	return filepath.Join(c.StateDir, "deploy")
}

// KeyDir holds the sealed signer keys.
func (c RuntimeConfig) KeyDir() string {
	return filepath.Join(c.StateDir, "keys")
}

// SecurityConfig configures key sealing.
type SecurityConfig struct {
	// Cipher seals signer keys and secrets: xchacha20poly1305 or age.
	Cipher string `mapstructure:"cipher" validate:"oneof=xchacha20poly1305 age" yaml:"cipher"`

	// PassphraseEnv names the environment variable holding the key
	// passphrase. Default: HOSTD_PASSPHRASE
	PassphraseEnv string `mapstructure:"passphrase_env" validate:"required" yaml:"passphrase_env"`
}

// Passphrase reads the key passphrase from the environment.
func (c SecurityConfig) Passphrase() (string, error) {
	p := os.Getenv(c.PassphraseEnv)
	if p == "" {
		return "", fmt.Errorf("key passphrase is not set; export %s", c.PassphraseEnv)
	}
	return p, nil
}

// Load reads configuration from configPath (or the default location),
// the environment and defaults, then validates it. A missing file is not
// an error: defaults and environment still apply.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if _, err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// MustLoad is Load for commands that need an existing file; it explains
// how to create one when it is missing.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  hostd init\n\n"+
				"Or specify a custom config file:\n"+
				"  hostd <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s\n\n"+
			"Please create the configuration file:\n"+
			"  hostd init --config %s",
			configPath, configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes cfg as YAML with owner-only permissions, since it may
// carry the JWT secret.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvKeys(v, reflect.TypeOf(Config{}), "")

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(getConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

// bindEnvKeys registers every leaf key so that environment overrides apply
// even when the key is absent from the file. AutomaticEnv alone only
// covers keys viper already knows.
func bindEnvKeys(v *viper.Viper, t reflect.Type, prefix string) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := strings.Split(f.Tag.Get("mapstructure"), ",")[0]
		if tag == "" || tag == "-" {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}
		if f.Type.Kind() == reflect.Struct {
			bindEnvKeys(v, f.Type, key)
			continue
		}
		_ = v.BindEnv(key)
	}
}

// readConfigFile reports whether a file was read.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// byteSizeDecodeHook accepts "64MiB", "100MB" or plain numbers.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return bytesize.Parse(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook accepts "30s", "5m" or nanoseconds.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir uses XDG_CONFIG_HOME, then ~/.config, then ".".
func getConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "hostd")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "hostd")
}

// getStateDir uses XDG_STATE_HOME, then ~/.local/state, then "./state".
func getStateDir() string {
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return filepath.Join(xdg, "hostd")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "state"
	}
	return filepath.Join(home, ".local", "state", "hostd")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists reports whether the default config file exists.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory.
func GetConfigDir() string {
	return getConfigDir()
}
