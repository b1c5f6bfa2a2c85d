package commands

import (
	"fmt"

	"github.com/marmos91/hostd/cmd/hostctl/cmdutil"
	"github.com/marmos91/hostd/internal/cli/credentials"
	"github.com/spf13/cobra"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored session",
	Long: `Remove the stored tokens for the current server (the --server flag,
HOSTCTL_SERVER, or the last server logged in to).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := credentials.NewStore()
		if err != nil {
			return fmt.Errorf("failed to initialize credential store: %w", err)
		}
		serverURL, err := cmdutil.ResolveServerURL(store)
		if err != nil {
			return err
		}
		if err := store.Remove(serverURL); err != nil {
			return err
		}
		cmdutil.PrintSuccess(fmt.Sprintf("Logged out of %s", serverURL))
		return nil
	},
}
