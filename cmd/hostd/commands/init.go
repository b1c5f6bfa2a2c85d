package commands

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/marmos91/hostd/internal/cli/prompt"
	"github.com/marmos91/hostd/internal/controlplane/api/auth"
	"github.com/marmos91/hostd/pkg/config"
	"github.com/marmos91/hostd/pkg/controlplane/api"
	"github.com/spf13/cobra"
)

var (
	initForce       bool
	initInteractive bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a configuration file",
	Long: `Initialize a hostd configuration file with every default spelled out.

A random JWT signing secret and a random admin secret are generated. Only
the bcrypt hash of the admin secret is stored; the secret itself is printed
once and is what 'hostctl login' asks for.

By default, the configuration file is created at $XDG_CONFIG_HOME/hostd/config.yaml.
Use --config to specify a custom path.

Examples:
  # Initialize with default location
  hostd init

  # Choose the admin secret instead of generating one
  hostd init --interactive

  # Force overwrite existing config
  hostd init --config /etc/hostd/config.yaml --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
	initCmd.Flags().BoolVarP(&initInteractive, "interactive", "i", false, "Prompt for the admin secret")
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath := GetConfigFile()
	if configPath == "" {
		configPath = config.GetDefaultConfigPath()
	}
	if _, err := os.Stat(configPath); err == nil && !initForce {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", configPath)
	}

	jwtSecret, err := randomHex(32)
	if err != nil {
		return err
	}

	var adminSecret string
	if initInteractive {
		adminSecret, err = prompt.NewSecret("Admin secret", 12)
		if err != nil {
			return err
		}
	} else if adminSecret, err = randomHex(16); err != nil {
		return err
	}
	hash, err := auth.HashSecret(adminSecret)
	if err != nil {
		return err
	}

	cfg := config.GetDefaultConfig()
	cfg.ControlPlane.JWT.Secret = jwtSecret
	cfg.ControlPlane.Admin.SecretHash = hash

	if err := config.SaveConfig(cfg, configPath); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file created at: %s\n", configPath)
	if !initInteractive {
		_, _ = fmt.Fprintf(out, "\nAdmin secret: %s\n", adminSecret)
		_, _ = fmt.Fprintln(out, "Save it now. It will not be shown again.")
	}
	_, _ = fmt.Fprintln(out, "\nNext steps:")
	_, _ = fmt.Fprintf(out, "  1. Export the key store passphrase: export %s=...\n", cfg.Security.PassphraseEnv)
	_, _ = fmt.Fprintln(out, "  2. Start the daemon with: hostd start")
	_, _ = fmt.Fprintln(out, "  3. Log in with: hostctl login")
	_, _ = fmt.Fprintln(out, "\nSecurity note:")
	_, _ = fmt.Fprintln(out, "  The JWT secret is stored in the config file. To keep it out of the file,")
	_, _ = fmt.Fprintln(out, "  remove controlplane.jwt.secret and set it in the environment instead:")
	_, _ = fmt.Fprintf(out, "    export %s=$(openssl rand -hex 32)\n", api.EnvJWTSecret)
	return nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}
