package commands

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/marmos91/hostd/internal/controlplane/api/auth"
	"github.com/marmos91/hostd/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, stdin string, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	require.NoError(t, Execute(), out.String())
	return out.String()
}

func initConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_STATE_HOME", filepath.Join(dir, "state"))
	t.Setenv("HOSTD_PASSPHRASE", "correct horse battery staple")
	path := filepath.Join(dir, "config.yaml")
	execute(t, "", "init", "--config", path)
	return path
}

func TestInitWritesUsableConfig(t *testing.T) {
	path := initConfig(t)

	cfg, err := config.MustLoad(path)
	require.NoError(t, err)
	assert.NoError(t, cfg.ControlPlane.CheckSecrets())
	assert.Equal(t, filepath.Join(filepath.Dir(path), "state", "hostd"), cfg.Runtime.StateDir)
}

func TestInitPrintsAdminSecret(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_STATE_HOME", dir)
	path := filepath.Join(dir, "config.yaml")

	out := execute(t, "", "init", "--config", path)
	require.Contains(t, out, "Admin secret: ")

	line := out[strings.Index(out, "Admin secret: ")+len("Admin secret: "):]
	secret := strings.TrimSpace(strings.SplitN(line, "\n", 2)[0])

	cfg, err := config.MustLoad(path)
	require.NoError(t, err)
	assert.NoError(t, auth.CheckSecret(cfg.ControlPlane.Admin.SecretHash, secret))
}

func TestInitRefusesOverwrite(t *testing.T) {
	path := initConfig(t)

	rootCmd.SetArgs([]string{"init", "--config", path})
	rootCmd.SetOut(&bytes.Buffer{})
	err := Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestConfigValidate(t *testing.T) {
	path := initConfig(t)

	out := execute(t, "", "config", "validate", "--config", path)
	assert.Contains(t, out, "Validation: OK")
	assert.NotContains(t, out, "Warnings:")
	assert.Contains(t, out, "127.0.0.1:7700")
}

func TestConfigShowRedactsSecrets(t *testing.T) {
	path := initConfig(t)

	out := execute(t, "", "config", "show", "--config", path)
	assert.Contains(t, out, redacted)
	assert.NotContains(t, out, "$2a$")
}

func TestSecretRoundTrip(t *testing.T) {
	path := initConfig(t)

	sealed := execute(t, "s3cr3t", "secret", "encrypt", "--config", path)
	require.NotEmpty(t, strings.TrimSpace(sealed))
	assert.NotContains(t, sealed, "s3cr3t")

	plain := execute(t, sealed, "secret", "decrypt", "--config", path)
	assert.Equal(t, "s3cr3t", plain)
}

func TestVersionShort(t *testing.T) {
	out := execute(t, "", "version", "--short")
	assert.Equal(t, Version+"\n", out)
}

const redacted = "<redacted>"
