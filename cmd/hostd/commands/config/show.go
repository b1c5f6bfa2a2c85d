package config

import (
	"github.com/marmos91/hostd/internal/cli/output"
	"github.com/marmos91/hostd/pkg/config"
	"github.com/spf13/cobra"
)

var showOutput string

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display current configuration",
	Long: `Display the effective hostd configuration: file values, environment
overrides and defaults merged. Secrets are redacted.

Examples:
  # Show as YAML
  hostd config show

  # Show as JSON
  hostd config show --output json`,
	RunE: runConfigShow,
}

func init() {
	showCmd.Flags().StringVarP(&showOutput, "output", "o", "yaml", "Output format (yaml|json)")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	format, err := output.ParseFormat(showOutput)
	if err != nil {
		return err
	}

	redacted := *cfg
	if redacted.ControlPlane.JWT.Secret != "" {
		redacted.ControlPlane.JWT.Secret = redactedValue
	}
	if redacted.ControlPlane.Admin.SecretHash != "" {
		redacted.ControlPlane.Admin.SecretHash = redactedValue
	}

	out := cmd.OutOrStdout()
	switch format {
	case output.FormatJSON:
		return output.PrintJSON(out, redacted)
	default:
		return output.PrintYAML(out, redacted)
	}
}

const redactedValue = "<redacted>"
