package commands

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/marmos91/hostd/cmd/hostctl/cmdutil"
	"github.com/marmos91/hostd/internal/cli/prompt"
	"github.com/marmos91/hostd/pkg/apiclient"
	"github.com/marmos91/hostd/pkg/runtime/models"
	"github.com/spf13/cobra"
)

var (
	stopWait    bool
	stopTimeout time.Duration
	stopForce   bool
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the daemon",
	Long: `Ask the daemon to shut down. Running services are stopped and the
process exits.

The request is queued and acknowledged immediately. With --wait, hostctl
polls until the daemon reports STOPPED or stops answering.

Examples:
  hostctl stop
  hostctl stop --wait --timeout 1m`,
	RunE: runStop,
}

func init() {
	stopCmd.Flags().BoolVar(&stopWait, "wait", false, "Wait for the daemon to stop")
	stopCmd.Flags().DurationVar(&stopTimeout, "timeout", 30*time.Second, "How long --wait waits")
	stopCmd.Flags().BoolVarP(&stopForce, "force", "f", false, "Skip confirmation prompt")
}

func runStop(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}

	ok, err := prompt.ConfirmWithForce(fmt.Sprintf("Stop the daemon at %s?", client.BaseURL()), stopForce)
	if err != nil {
		return cmdutil.HandleAbort(err)
	}
	if !ok {
		fmt.Println("Aborted.")
		return nil
	}

	resp, err := client.Stop()
	if err != nil {
		return err
	}
	if !stopWait {
		cmdutil.PrintSuccess(fmt.Sprintf("Stop requested (process %s)", resp.ProcessState))
		return nil
	}

	if err := waitStopped(client, stopTimeout); err != nil {
		return err
	}
	cmdutil.PrintSuccess("Daemon stopped")
	return nil
}

// waitStopped polls the status until the daemon is STOPPED or no longer
// reachable.
func waitStopped(client *apiclient.Client, timeout time.Duration) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = timeout

	return backoff.Retry(func() error {
		status, err := client.Status()
		switch {
		case cmdutil.IsConnectionError(err):
			return nil
		case err != nil:
			return backoff.Permanent(err)
		case status.ProcessState == models.ProcessStopped:
			return nil
		default:
			return fmt.Errorf("daemon is still %s", status.ProcessState)
		}
	}, b)
}
