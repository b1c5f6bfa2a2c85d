package commands

import (
	"fmt"

	"github.com/marmos91/hostd/internal/logger"
	"github.com/marmos91/hostd/pkg/config"
	"github.com/marmos91/hostd/pkg/runtime/security"
)

// InitLogger initializes the structured logger from configuration.
func InitLogger(cfg *config.Config) error {
	loggerCfg := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}
	if err := logger.Init(loggerCfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// openSecurity unseals the key store under the state directory.
func openSecurity(cfg *config.Config) (*security.Registry, error) {
	passphrase, err := cfg.Security.Passphrase()
	if err != nil {
		return nil, err
	}
	reg, err := security.Setup(security.Options{
		KeyDir:     cfg.Runtime.KeyDir(),
		Passphrase: passphrase,
		Cipher:     cfg.Security.Cipher,
		Signer:     cfg.Runtime.DefaultSigner,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open key store: %w", err)
	}
	return reg, nil
}

// getConfigSource returns a description of where the config was loaded from.
func getConfigSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}
