// Package module implements the 'hostctl module' subcommands.
package module

import (
	"github.com/spf13/cobra"
)

// Cmd is the module subcommand.
var Cmd = &cobra.Command{
	Use:     "module",
	Aliases: []string{"modules", "mod"},
	Short:   "Manage modules",
	Long: `Manage the modules installed on a hostd daemon.

Subcommands:
  list     List modules
  install  Upload a module artifact (local file or s3://bucket/key)
  load     Load a registered module
  delete   Delete a module and stop its services`,
}

func init() {
	Cmd.AddCommand(listCmd)
	Cmd.AddCommand(installCmd)
	Cmd.AddCommand(loadCmd)
	Cmd.AddCommand(deleteCmd)
}
