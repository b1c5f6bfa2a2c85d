// Package commands implements the hostctl client commands.
package commands

import (
	"github.com/marmos91/hostd/cmd/hostctl/cmdutil"
	modulecmd "github.com/marmos91/hostd/cmd/hostctl/commands/module"
	servicecmd "github.com/marmos91/hostd/cmd/hostctl/commands/service"
	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "hostctl",
	Short: "hostctl - hostd control client",
	Long: `hostctl drives a hostd daemon through its REST control plane.

Use it to install and load modules, start and stop the services they
provide, inspect the daemon and stop it.

The server and token can also be set with HOSTCTL_SERVER and HOSTCTL_TOKEN.

Use "hostctl [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return cmdutil.LoadFlags(cmd)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().String("server", "", "Server URL (default: last login or "+cmdutil.DefaultServerURL+")")
	rootCmd.PersistentFlags().String("token", "", "Bearer token (overrides stored session)")
	rootCmd.PersistentFlags().StringP("output", "o", "table", "Output format (table|json|yaml)")
	rootCmd.PersistentFlags().Bool("no-color", false, "Disable colored output")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(modulecmd.Cmd)
	rootCmd.AddCommand(servicecmd.Cmd)
	rootCmd.AddCommand(completionCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
