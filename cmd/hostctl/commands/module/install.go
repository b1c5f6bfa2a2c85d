package module

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/marmos91/hostd/cmd/hostctl/cmdutil"
	"github.com/spf13/cobra"
)

var (
	installForce    bool
	installFileName string
	installS3       s3Options
)

var installCmd = &cobra.Command{
	Use:   "install <file|s3://bucket/key>",
	Short: "Upload and register a module",
	Long: `Upload a module artifact and register it. The file name must be
<name>-<version>.<ext>; use --file-name when the source is named otherwise.

A newer version replaces the installed module of the same name; its
services are stopped and unregistered first. --force replaces it even when
the version is not newer.

Artifacts can be fetched from S3 (or an S3-compatible store) with an
s3://bucket/key source. Credentials come from the usual AWS environment
and shared config, or from --s3-access-key/--s3-secret-key.

Examples:
  hostctl module install ./web-1.2.0.zip
  hostctl module install ./web-1.2.0.zip --force
  hostctl module install s3://artifacts/web/web-1.2.0.zip
  hostctl module install s3://artifacts/web/latest.zip --file-name web-1.3.0.zip \
    --s3-endpoint http://minio:9000`,
	Args: cobra.ExactArgs(1),
	RunE: runInstall,
}

func init() {
	installCmd.Flags().BoolVar(&installForce, "force", false, "Replace an installed module even if the version is not newer")
	installCmd.Flags().StringVar(&installFileName, "file-name", "", "Register under this file name")
	installCmd.Flags().StringVar(&installS3.Region, "s3-region", "", "S3 region (default: from AWS config)")
	installCmd.Flags().StringVar(&installS3.Endpoint, "s3-endpoint", "", "Custom S3 endpoint (path-style addressing)")
	installCmd.Flags().StringVar(&installS3.AccessKey, "s3-access-key", "", "S3 access key")
	installCmd.Flags().StringVar(&installS3.SecretKey, "s3-secret-key", "", "S3 secret key")
}

func runInstall(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}

	artifact, name, cleanup, err := openSource(cmd, args[0])
	if err != nil {
		return err
	}
	defer cleanup()

	if installFileName != "" {
		name = installFileName
	}

	rec, err := client.RegisterModule(name, artifact, installForce)
	if err != nil {
		return err
	}
	return cmdutil.PrintResourceWithSuccess(os.Stdout, rec,
		fmt.Sprintf("Module '%s' %s installed (%s)", rec.Name, rec.Version, rec.State))
}

// openSource returns a seekable artifact and its base name.
func openSource(cmd *cobra.Command, source string) (io.ReadSeeker, string, func(), error) {
	if loc, ok := parseS3URL(source); ok {
		f, err := fetchS3(cmd.Context(), installS3, loc)
		if err != nil {
			return nil, "", nil, err
		}
		return f, loc.baseName(), func() {
			_ = f.Close()
			_ = os.Remove(f.Name())
		}, nil
	}

	f, err := os.Open(source)
	if err != nil {
		return nil, "", nil, fmt.Errorf("failed to open module: %w", err)
	}
	return f, filepath.Base(source), func() { _ = f.Close() }, nil
}
