package api

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/marmos91/hostd/internal/logger"
)

const (
	// EnvJWTSecret overrides the configured token signing secret.
	EnvJWTSecret = "HOSTD_CONTROLPLANE_SECRET"

	// MinJWTSecretLength is the shortest accepted signing secret.
	MinJWTSecretLength = 32
)

// APIConfig configures the REST control surface.
type APIConfig struct {
	// Bind is the listen host. Default: 127.0.0.1
	Bind string `mapstructure:"bind" yaml:"bind"`

	// Port is the HTTP port. The config loader defaults it to 7700; a
	// server built with port 0 listens on a free port.
	Port int `mapstructure:"port" validate:"omitempty,min=0,max=65535" yaml:"port"`

	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`

	// RequestTimeout bounds a single request, module uploads included.
	// Default: 2m
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`

	// JWT configures bearer tokens.
	JWT JWTConfig `mapstructure:"jwt" yaml:"jwt"`

	// Admin holds the credential exchanged for tokens.
	Admin AdminConfig `mapstructure:"admin" yaml:"admin"`
}

// JWTConfig configures token generation and validation.
type JWTConfig struct {
	// Secret is the HMAC signing key, at least 32 characters. The
	// HOSTD_CONTROLPLANE_SECRET environment variable takes precedence.
	Secret string `mapstructure:"secret" yaml:"secret,omitempty"`

	// AccessTokenDuration defaults to 15m.
	AccessTokenDuration time.Duration `mapstructure:"access_token_duration" yaml:"access_token_duration"`

	// RefreshTokenDuration defaults to 24h.
	RefreshTokenDuration time.Duration `mapstructure:"refresh_token_duration" yaml:"refresh_token_duration"`
}

// AdminConfig holds the admin credential.
type AdminConfig struct {
	// SecretHash is the bcrypt hash of the admin secret, written by
	// 'hostd init'.
	SecretHash string `mapstructure:"secret_hash" yaml:"secret_hash,omitempty"`
}

// ApplyDefaults fills zero values other than Port.
func (c *APIConfig) ApplyDefaults() {
	if c.Bind == "" {
		c.Bind = "127.0.0.1"
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 2 * time.Minute
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 2 * time.Minute
	}
	if c.JWT.AccessTokenDuration == 0 {
		c.JWT.AccessTokenDuration = 15 * time.Minute
	}
	if c.JWT.RefreshTokenDuration == 0 {
		c.JWT.RefreshTokenDuration = 24 * time.Hour
	}
}

// Address returns host:port.
func (c *APIConfig) Address() string {
	return net.JoinHostPort(c.Bind, strconv.Itoa(c.Port))
}

// GetJWTSecret returns the signing secret, preferring the environment.
func (c *APIConfig) GetJWTSecret() string {
	if env := os.Getenv(EnvJWTSecret); env != "" {
		if c.JWT.Secret != "" && c.JWT.Secret != env {
			logger.Warn("JWT secret from environment variable overrides config file value",
				"env_var", EnvJWTSecret)
		}
		return env
	}
	return c.JWT.Secret
}

// CheckSecrets reports a missing or short signing secret and a missing
// admin credential.
func (c *APIConfig) CheckSecrets() error {
	if n := len(c.GetJWTSecret()); n < MinJWTSecretLength {
		return fmt.Errorf("JWT secret must be at least %d characters (got %d); set controlplane.jwt.secret or %s",
			MinJWTSecretLength, n, EnvJWTSecret)
	}
	if c.Admin.SecretHash == "" {
		return fmt.Errorf("controlplane.admin.secret_hash is not set; run 'hostd init'")
	}
	return nil
}
