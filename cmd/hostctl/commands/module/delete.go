package module

import (
	"github.com/marmos91/hostd/cmd/hostctl/cmdutil"
	"github.com/spf13/cobra"
)

var deleteForce bool

var deleteCmd = &cobra.Command{
	Use:     "delete <name>",
	Aliases: []string{"rm"},
	Short:   "Delete a module",
	Long: `Delete a module. Its services are stopped and unregistered first, then
the artifact and its signatures are removed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := cmdutil.GetAuthenticatedClient()
		if err != nil {
			return err
		}
		return cmdutil.RunDeleteWithConfirmation("Module", args[0], deleteForce, func() error {
			return client.DeleteModule(args[0])
		})
	},
}

func init() {
	deleteCmd.Flags().BoolVarP(&deleteForce, "force", "f", false, "Skip confirmation prompt")
}
