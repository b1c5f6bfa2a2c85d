package commands

import (
	"fmt"

	"github.com/marmos91/hostd/cmd/hostctl/cmdutil"
	"github.com/marmos91/hostd/internal/cli/credentials"
	"github.com/marmos91/hostd/internal/cli/prompt"
	"github.com/marmos91/hostd/pkg/apiclient"
	"github.com/spf13/cobra"
)

var (
	loginSecret  string
	loginSubject string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate with a hostd daemon",
	Long: `Exchange the admin secret printed by 'hostd init' for tokens and store
them. The session is kept per server; the last server logged in to becomes
the default for later commands.

Examples:
  # Log in to the local daemon
  hostctl login

  # Log in to a remote daemon
  hostctl login --server http://10.0.0.5:7700

  # Non-interactive (the secret ends up in shell history)
  hostctl login --secret "$HOSTD_ADMIN_SECRET"`,
	RunE: runLogin,
}

func init() {
	loginCmd.Flags().StringVar(&loginSecret, "secret", "", "Admin secret")
	loginCmd.Flags().StringVar(&loginSubject, "subject", "", "Name recorded in the token (default: admin)")
}

func runLogin(cmd *cobra.Command, args []string) error {
	store, err := credentials.NewStore()
	if err != nil {
		return fmt.Errorf("failed to initialize credential store: %w", err)
	}
	serverURL, err := cmdutil.ResolveServerURL(store)
	if err != nil {
		return err
	}

	secret := loginSecret
	if secret == "" {
		secret, err = prompt.Secret("Admin secret")
		if err != nil {
			return cmdutil.HandleAbort(err)
		}
	}

	client := apiclient.New(serverURL)
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Logging in to %s...\n", serverURL)
	tokens, err := client.Login(secret, loginSubject)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	me, err := client.WithToken(tokens.AccessToken).Me()
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	sess := &credentials.Session{
		Subject:      me.Subject,
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresAt:    tokens.ExpiresAt,
	}
	if err := store.Put(serverURL, sess); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}

	cmdutil.PrintSuccess(fmt.Sprintf("Logged in to %s as %s (%s)", serverURL, me.Subject, me.Role))
	return nil
}
