package deploy

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/hostd/pkg/runtime/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRegistrar struct {
	mu    sync.Mutex
	got   map[string]string
	force []bool
	fail  map[string]error
}

func newFakeRegistrar() *fakeRegistrar {
	return &fakeRegistrar{got: map[string]string{}, fail: map[string]error{}}
}

func (f *fakeRegistrar) RegisterModule(_ context.Context, r io.Reader, fileName string, force bool) (models.ModuleRecord, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return models.ModuleRecord{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.force = append(f.force, force)
	if err := f.fail[fileName]; err != nil {
		return models.ModuleRecord{}, err
	}
	f.got[fileName] = string(data)
	mf, _ := models.ParseModuleFileName(fileName)
	return models.ModuleRecord{Name: mf.Name, Version: mf.Version, State: models.ModuleLoaded, FileName: fileName}, nil
}

func (f *fakeRegistrar) registered(name string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.got[name]
	return v, ok
}

func TestProcess(t *testing.T) {
	dir := t.TempDir()
	reg := newFakeRegistrar()
	reg.fail["bad-1.0.0.zip"] = errors.New("signature verification failed")
	w := New(dir, reg, 0)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, DoneDir), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, FailedDir), 0755))

	t.Run("Success", func(t *testing.T) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "svc-1.0.0.zip"), []byte("bundle"), 0644))
		assert.True(t, w.Process(context.Background(), "svc-1.0.0.zip"))

		data, ok := reg.registered("svc-1.0.0.zip")
		require.True(t, ok)
		assert.Equal(t, "bundle", data)
		assert.FileExists(t, filepath.Join(dir, DoneDir, "svc-1.0.0.zip"))
		assert.NoFileExists(t, filepath.Join(dir, "svc-1.0.0.zip"))
	})

	t.Run("Failure", func(t *testing.T) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "bad-1.0.0.zip"), []byte("bundle"), 0644))
		assert.False(t, w.Process(context.Background(), "bad-1.0.0.zip"))

		assert.FileExists(t, filepath.Join(dir, FailedDir, "bad-1.0.0.zip"))
		msg, err := os.ReadFile(filepath.Join(dir, FailedDir, "bad-1.0.0.zip.error"))
		require.NoError(t, err)
		assert.Contains(t, string(msg), "signature verification failed")
	})

	t.Run("Missing", func(t *testing.T) {
		assert.False(t, w.Process(context.Background(), "gone-1.0.0.zip"))
	})

	for _, force := range reg.force {
		assert.False(t, force, "deployments never force")
	}
}

func TestSkip(t *testing.T) {
	assert.True(t, skip(".hidden"))
	assert.True(t, skip("svc-1.0.0.zip.part"))
	assert.True(t, skip("svc-1.0.0.zip.tmp"))
	assert.False(t, skip("svc-1.0.0.zip"))
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	reg := newFakeRegistrar()

	// Present before the watcher starts.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "early-1.0.0.zip"), []byte("early"), 0644))

	w := New(dir, reg, 20*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, ok := reg.registered("early-1.0.0.zip")
		return ok
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "late-2.0.0.zip"), []byte("late"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".ignored"), []byte("x"), 0644))

	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(dir, DoneDir, "late-2.0.0.zip"))
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	_, ok := reg.registered(".ignored")
	assert.False(t, ok)
	assert.FileExists(t, filepath.Join(dir, ".ignored"))
}
