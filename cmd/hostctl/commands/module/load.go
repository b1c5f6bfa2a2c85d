package module

import (
	"fmt"
	"os"

	"github.com/marmos91/hostd/cmd/hostctl/cmdutil"
	"github.com/spf13/cobra"
)

var loadCmd = &cobra.Command{
	Use:   "load <name>",
	Short: "Load a registered module",
	Long: `Load a module: verify its signature, open its code unit and register the
services it declares. Loading a loaded module is a no-op.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := cmdutil.GetAuthenticatedClient()
		if err != nil {
			return err
		}
		rec, err := client.LoadModule(args[0])
		if err != nil {
			return err
		}
		return cmdutil.PrintResourceWithSuccess(os.Stdout, rec,
			fmt.Sprintf("Module '%s' %s", rec.Name, rec.State))
	},
}
