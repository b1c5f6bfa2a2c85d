// Package cmdutil provides shared utilities for hostctl commands.
package cmdutil

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/marmos91/hostd/internal/cli/credentials"
	"github.com/marmos91/hostd/internal/cli/output"
	"github.com/marmos91/hostd/internal/cli/prompt"
	"github.com/marmos91/hostd/pkg/apiclient"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix prefixes the environment overrides, e.g. HOSTCTL_SERVER.
	EnvPrefix = "HOSTCTL"

	// DefaultServerURL is the address 'hostd init' configures.
	DefaultServerURL = "http://127.0.0.1:7700"
)

// Flags stores global flag values accessible by subcommands.
var Flags = &GlobalFlags{}

// GlobalFlags holds the global flag values.
type GlobalFlags struct {
	ServerURL string
	Token     string
	Output    string
	NoColor   bool
}

// LoadFlags resolves the global flags: command line first, then
// HOSTCTL_* environment variables, then defaults.
func LoadFlags(cmd *cobra.Command) error {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for _, name := range []string{"server", "token", "output", "no-color"} {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := v.BindPFlag(name, f); err != nil {
				return err
			}
		}
	}

	Flags.ServerURL = v.GetString("server")
	Flags.Token = v.GetString("token")
	Flags.Output = v.GetString("output")
	Flags.NoColor = v.GetBool("no-color")
	if Flags.Output == "" {
		Flags.Output = string(output.FormatTable)
	}
	return nil
}

// NormalizeServerURL adds a missing http scheme and drops trailing slashes.
func NormalizeServerURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid server URL %q: missing host", raw)
	}
	return strings.TrimRight(u.String(), "/"), nil
}

// ResolveServerURL picks the server: --server or HOSTCTL_SERVER, then the
// last login, then the local default.
func ResolveServerURL(store *credentials.Store) (string, error) {
	switch {
	case Flags.ServerURL != "":
		return NormalizeServerURL(Flags.ServerURL)
	case store != nil && store.DefaultServer() != "":
		return store.DefaultServer(), nil
	default:
		return DefaultServerURL, nil
	}
}

// GetAuthenticatedClient returns an API client for the resolved server.
// An explicit token wins; otherwise the stored session is used and
// refreshed when its access token has expired.
func GetAuthenticatedClient() (*apiclient.Client, error) {
	if Flags.Token != "" {
		serverURL, err := ResolveServerURL(nil)
		if err != nil {
			return nil, err
		}
		return apiclient.New(serverURL).WithToken(Flags.Token), nil
	}

	store, err := credentials.NewStore()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize credential store: %w", err)
	}
	serverURL, err := ResolveServerURL(store)
	if err != nil {
		return nil, err
	}

	sess, err := store.Get(serverURL)
	if err != nil {
		return nil, err
	}

	if sess.IsExpired() {
		if !sess.HasRefreshToken() {
			return nil, fmt.Errorf("session expired. Run 'hostctl login' to re-authenticate")
		}
		tokens, err := apiclient.New(serverURL).RefreshToken(sess.RefreshToken)
		if err != nil {
			return nil, fmt.Errorf("session expired. Run 'hostctl login' to re-authenticate")
		}
		sess.AccessToken = tokens.AccessToken
		sess.RefreshToken = tokens.RefreshToken
		sess.ExpiresAt = tokens.ExpiresAt
		if err := store.Put(serverURL, sess); err != nil {
			return nil, fmt.Errorf("failed to save refreshed tokens: %w", err)
		}
	}

	return apiclient.New(serverURL).WithToken(sess.AccessToken), nil
}

// GetOutputFormatParsed returns the parsed output format.
func GetOutputFormatParsed() (output.Format, error) {
	return output.ParseFormat(Flags.Output)
}

// PrintOutput prints data as JSON, YAML or a table. In table format
// emptyMsg replaces an empty table.
func PrintOutput(w io.Writer, data any, isEmpty bool, emptyMsg string, tableRenderer output.TableRenderer) error {
	format, err := GetOutputFormatParsed()
	if err != nil {
		return err
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(w, data)
	case output.FormatYAML:
		return output.PrintYAML(w, data)
	default:
		if isEmpty {
			_, _ = fmt.Fprintln(w, emptyMsg)
			return nil
		}
		return output.PrintTable(w, tableRenderer)
	}
}

// PrintResource prints a single resource; table format uses the renderer.
func PrintResource(w io.Writer, data any, tableRenderer output.TableRenderer) error {
	return PrintOutput(w, data, false, "", tableRenderer)
}

// PrintSuccess prints a success message if the output format is table.
func PrintSuccess(msg string) {
	printSuccess(os.Stdout, msg)
}

func printSuccess(w io.Writer, msg string) {
	format, err := GetOutputFormatParsed()
	if err != nil || format != output.FormatTable {
		return
	}
	output.NewPrinter(w, format, !Flags.NoColor).Success("%s", msg)
}

// PrintResourceWithSuccess prints data for JSON/YAML and a success
// message for table format.
func PrintResourceWithSuccess(w io.Writer, data any, successMsg string) error {
	format, err := GetOutputFormatParsed()
	if err != nil {
		return err
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(w, data)
	case output.FormatYAML:
		return output.PrintYAML(w, data)
	default:
		PrintSuccess(successMsg)
		return nil
	}
}

// RunDeleteWithConfirmation prompts for confirmation (unless force is true) and runs deleteFn.
func RunDeleteWithConfirmation(resourceType, name string, force bool, deleteFn func() error) error {
	confirmed, err := prompt.ConfirmWithForce(fmt.Sprintf("Delete %s '%s'?", resourceType, name), force)
	if err != nil {
		return HandleAbort(err)
	}
	if !confirmed {
		fmt.Println("Aborted.")
		return nil
	}

	if err := deleteFn(); err != nil {
		return err
	}

	PrintSuccess(fmt.Sprintf("%s '%s' deleted successfully", resourceType, name))
	return nil
}

// HandleAbort turns a Ctrl+C abort into a clean exit.
func HandleAbort(err error) error {
	if prompt.IsAborted(err) {
		fmt.Println("\nAborted.")
		return nil
	}
	return err
}

// IsConnectionError reports whether err is a transport failure rather
// than an answer from the daemon.
func IsConnectionError(err error) bool {
	var apiErr *apiclient.APIError
	return err != nil && !errors.As(err, &apiErr)
}

// BoolToYesNo converts a boolean to "yes" or "no" string.
func BoolToYesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
