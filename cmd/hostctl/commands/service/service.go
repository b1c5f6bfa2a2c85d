// Package service implements the 'hostctl service' subcommands.
package service

import (
	"fmt"
	"os"

	"github.com/marmos91/hostd/cmd/hostctl/cmdutil"
	"github.com/marmos91/hostd/internal/cli/output"
	"github.com/marmos91/hostd/pkg/apiclient"
	"github.com/marmos91/hostd/pkg/runtime/models"
	"github.com/spf13/cobra"
)

// Cmd is the service subcommand.
var Cmd = &cobra.Command{
	Use:     "service",
	Aliases: []string{"services", "svc"},
	Short:   "Manage services",
	Long: `Manage the services hosted by a hostd daemon.

Services are named <module>/<type>. Host services, built into the daemon,
are named by type alone (e.g. "metrics").

Subcommands:
  list      List services
  register  Register a service
  start     Start a service
  stop      Stop a service`,
}

func init() {
	Cmd.AddCommand(listCmd)
	Cmd.AddCommand(registerCmd)
	Cmd.AddCommand(startCmd)
	Cmd.AddCommand(stopCmd)
}

// parseID accepts "module/type" or a bare host service type.
func parseID(arg string) (models.ServiceID, error) {
	id, err := models.ParseServiceID(arg)
	if err != nil {
		return models.ServiceID{}, fmt.Errorf("invalid service %q: %w", arg, err)
	}
	return id, nil
}

func printRecord(rec *models.ServiceRecord, verb string) error {
	return cmdutil.PrintResourceWithSuccess(os.Stdout, rec,
		fmt.Sprintf("Service '%s' %s (%s)", rec.ID, verb, rec.State))
}

// serviceAction builds a command that sends one service request.
func serviceAction(use, short, long, verb string, flags func(*cobra.Command, *apiclient.ServiceRequest),
	call func(*apiclient.Client, apiclient.ServiceRequest) (*models.ServiceRecord, error)) *cobra.Command {
	var req apiclient.ServiceRequest
	cmd := &cobra.Command{
		Use:   use + " <module/type>",
		Short: short,
		Long:  long,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			client, err := cmdutil.GetAuthenticatedClient()
			if err != nil {
				return err
			}
			r := req
			r.Module, r.Type = id.Module, id.Type
			rec, err := call(client, r)
			if err != nil {
				return err
			}
			return printRecord(rec, verb)
		},
	}
	if flags != nil {
		flags(cmd, &req)
	}
	return cmd
}

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List services",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := cmdutil.GetAuthenticatedClient()
		if err != nil {
			return err
		}
		svcs, err := client.ListServices()
		if err != nil {
			return err
		}
		return cmdutil.PrintOutput(os.Stdout, svcs, len(svcs) == 0, "No services registered.", output.ServiceList(svcs))
	},
}

var registerCmd = serviceAction("register", "Register a service",
	`Record a service without loading it. Registering a known service is a
no-op. With --auto-start the service is started whenever the daemon starts.`,
	"registered",
	func(cmd *cobra.Command, req *apiclient.ServiceRequest) {
		cmd.Flags().BoolVar(&req.AutoStart, "auto-start", false, "Start the service when the daemon starts")
	},
	(*apiclient.Client).RegisterService)

var startCmd = serviceAction("start", "Start a service",
	`Load and start a registered service. Starting a running service is a
no-op. --auto-start is recorded when the service starts.`,
	"started",
	func(cmd *cobra.Command, req *apiclient.ServiceRequest) {
		cmd.Flags().BoolVar(&req.AutoStart, "auto-start", false, "Start the service when the daemon starts")
	},
	(*apiclient.Client).StartService)

var stopCmd = serviceAction("stop", "Stop a service",
	`Stop a running service. It stays loaded unless --unload is given.`,
	"stopped",
	func(cmd *cobra.Command, req *apiclient.ServiceRequest) {
		cmd.Flags().BoolVar(&req.Unload, "unload", false, "Unload the service after stopping it")
	},
	(*apiclient.Client).StopService)
