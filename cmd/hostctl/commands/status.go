package commands

import (
	"os"

	"github.com/marmos91/hostd/cmd/hostctl/cmdutil"
	"github.com/marmos91/hostd/internal/cli/output"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Long: `Show the daemon's process state, control plane address and a summary
of modules and services. JSON and YAML output include every record.

Examples:
  hostctl status
  hostctl status -o json`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}

	status, err := client.Status()
	if err != nil {
		return err
	}

	return cmdutil.PrintResource(os.Stdout, status, output.StatusSummary(*status))
}
