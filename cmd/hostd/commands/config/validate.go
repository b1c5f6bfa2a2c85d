package config

import (
	"fmt"

	"github.com/marmos91/hostd/pkg/config"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the hostd configuration file.

Checks for syntax errors, missing required fields, invalid values and
missing control plane secrets.

Examples:
  # Validate default config
  hostd config validate

  # Validate specific config file
  hostd config validate --config /etc/hostd/config.yaml`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	displayPath := configPath
	if displayPath == "" {
		displayPath = config.GetDefaultConfigPath()
	}

	var warnings []string
	if err := cfg.ControlPlane.CheckSecrets(); err != nil {
		warnings = append(warnings, err.Error())
	}
	if _, err := cfg.Security.Passphrase(); err != nil {
		warnings = append(warnings, err.Error())
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file: %s\n", displayPath)
	_, _ = fmt.Fprintln(out, "Validation: OK")

	if len(warnings) > 0 {
		_, _ = fmt.Fprintln(out, "\nWarnings:")
		for _, w := range warnings {
			_, _ = fmt.Fprintf(out, "  - %s\n", w)
		}
	}

	_, _ = fmt.Fprintf(out, "\nConfiguration summary:\n")
	_, _ = fmt.Fprintf(out, "  State directory: %s\n", cfg.Runtime.StateDir)
	_, _ = fmt.Fprintf(out, "  Store type:      %s\n", cfg.Store.Type)
	_, _ = fmt.Fprintf(out, "  API address:     %s\n", cfg.ControlPlane.Address())
	_, _ = fmt.Fprintf(out, "  Log level:       %s\n", cfg.Logging.Level)
	return nil
}
