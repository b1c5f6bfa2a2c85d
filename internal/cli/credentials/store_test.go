package credentials

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionIsExpired(t *testing.T) {
	tests := []struct {
		name      string
		expiresAt time.Time
		want      bool
	}{
		{"zero time", time.Time{}, true},
		{"past", time.Now().Add(-time.Hour), true},
		{"within a minute", time.Now().Add(30 * time.Second), true},
		{"future", time.Now().Add(time.Hour), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Session{ExpiresAt: tt.expiresAt}
			assert.Equal(t, tt.want, s.IsExpired())
		})
	}
}

func TestStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hostctl", ConfigFileName)

	s, err := Open(path)
	require.NoError(t, err)
	assert.Empty(t, s.DefaultServer())

	_, err = s.Get("http://localhost:7700")
	assert.ErrorIs(t, err, ErrNotLoggedIn)

	sess := &Session{Subject: "admin", AccessToken: "a", RefreshToken: "r", ExpiresAt: time.Now().Add(time.Hour).UTC()}
	require.NoError(t, s.Put("http://localhost:7700/", sess))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(FilePermissions), info.Mode().Perm())

	reopened, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:7700", reopened.DefaultServer())

	got, err := reopened.Get("http://localhost:7700")
	require.NoError(t, err)
	assert.Equal(t, "a", got.AccessToken)
	assert.True(t, got.HasRefreshToken())
	assert.True(t, sess.ExpiresAt.Equal(got.ExpiresAt))
}

func TestStoreRemove(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), ConfigFileName))
	require.NoError(t, err)

	require.NoError(t, s.Put("http://a", &Session{AccessToken: "a"}))
	require.NoError(t, s.Remove("http://a"))
	assert.Empty(t, s.DefaultServer())
	assert.ErrorIs(t, s.Remove("http://a"), ErrNotLoggedIn)
}

func TestOpenCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	_, err := Open(path)
	assert.Error(t, err)
}
