package module

import (
	"os"

	"github.com/marmos91/hostd/cmd/hostctl/cmdutil"
	"github.com/marmos91/hostd/internal/cli/output"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List modules",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := cmdutil.GetAuthenticatedClient()
		if err != nil {
			return err
		}
		mods, err := client.ListModules()
		if err != nil {
			return err
		}
		return cmdutil.PrintOutput(os.Stdout, mods, len(mods) == 0, "No modules installed.", output.ModuleList(mods))
	},
}
