// Package deploy watches a drop-in directory and registers module files
// copied into it. Each file is handed to the runtime once it has been
// quiet for the settle delay, then moved to .done/ or .failed/.
package deploy

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/marmos91/hostd/internal/logger"
	"github.com/marmos91/hostd/pkg/runtime/models"
)

const (
	DoneDir   = ".done"
	FailedDir = ".failed"

	// DefaultSettle is how long a file must go without writes before it
	// is picked up.
	DefaultSettle = 500 * time.Millisecond
)

// Registrar registers module artifacts. The orchestrator implements it.
type Registrar interface {
	RegisterModule(ctx context.Context, r io.Reader, fileName string, force bool) (models.ModuleRecord, error)
}

// Watcher feeds a directory into a Registrar.
type Watcher struct {
	dir    string
	reg    Registrar
	settle time.Duration

	mu      sync.Mutex
	pending map[string]*time.Timer
	ready   chan string
	stopped chan struct{}
}

// New creates a watcher over dir.
func New(dir string, reg Registrar, settle time.Duration) *Watcher {
	if settle <= 0 {
		settle = DefaultSettle
	}
	return &Watcher{
		dir:     dir,
		reg:     reg,
		settle:  settle,
		pending: make(map[string]*time.Timer),
		ready:   make(chan string, 16),
		stopped: make(chan struct{}),
	}
}

// Dir returns the watched directory.
func (w *Watcher) Dir() string { return w.dir }

// Run processes files already present, then watches for new ones until
// ctx is cancelled. A Watcher runs once.
func (w *Watcher) Run(ctx context.Context) error {
	for _, sub := range []string{"", DoneDir, FailedDir} {
		if err := os.MkdirAll(filepath.Join(w.dir, sub), 0755); err != nil {
			return fmt.Errorf("create deploy directory: %w", err)
		}
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer func() { _ = fw.Close() }()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch deploy directory: %w", err)
	}

	// Files copied in while hostd was down.
	existing, err := w.candidates()
	if err != nil {
		return err
	}
	for _, name := range existing {
		w.Process(ctx, name)
	}

	logger.InfoCtx(ctx, "watching deploy directory", logger.KeyPath, w.dir)
	defer func() {
		w.cancelPending()
		close(w.stopped)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			name := filepath.Base(ev.Name)
			if skip(name) {
				continue
			}
			w.schedule(name)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logger.WarnCtx(ctx, "deploy watcher error", logger.KeyError, err)

		case name := <-w.ready:
			w.Process(ctx, name)
		}
	}
}

// schedule (re)arms the settle timer for name.
func (w *Watcher) schedule(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.pending[name]; ok {
		t.Reset(w.settle)
		return
	}
	w.pending[name] = time.AfterFunc(w.settle, func() {
		w.mu.Lock()
		delete(w.pending, name)
		w.mu.Unlock()
		select {
		case w.ready <- name:
		case <-w.stopped:
		}
	})
}

func (w *Watcher) cancelPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for name, t := range w.pending {
		t.Stop()
		delete(w.pending, name)
	}
}

// Process registers one file from the deploy directory and moves it
// aside. It reports whether registration succeeded.
func (w *Watcher) Process(ctx context.Context, name string) bool {
	path := filepath.Join(w.dir, name)
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}

	rec, regErr := w.register(ctx, path, name)
	if regErr != nil {
		logger.WarnCtx(ctx, "deploy failed", logger.KeyFile, name, logger.KeyError, regErr)
		w.moveAside(ctx, name, FailedDir)
		errFile := filepath.Join(w.dir, FailedDir, name+".error")
		if err := os.WriteFile(errFile, []byte(regErr.Error()+"\n"), 0644); err != nil {
			logger.WarnCtx(ctx, "failed to write deploy error file", logger.KeyFile, errFile, logger.KeyError, err)
		}
		return false
	}

	logger.InfoCtx(ctx, "module deployed",
		logger.KeyFile, name,
		logger.KeyModule, rec.Name,
		logger.KeyVersion, rec.Version,
		logger.KeyState, string(rec.State))
	w.moveAside(ctx, name, DoneDir)
	return true
}

func (w *Watcher) register(ctx context.Context, path, name string) (models.ModuleRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return models.ModuleRecord{}, err
	}
	defer func() { _ = f.Close() }()
	return w.reg.RegisterModule(ctx, f, name, false)
}

func (w *Watcher) moveAside(ctx context.Context, name, sub string) {
	dst := filepath.Join(w.dir, sub, name)
	if err := os.Rename(filepath.Join(w.dir, name), dst); err != nil {
		logger.ErrorCtx(ctx, "failed to move deployed file", logger.KeyFile, name, logger.KeyPath, dst, logger.KeyError, err)
	}
}

func (w *Watcher) candidates() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, fmt.Errorf("read deploy directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && !skip(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// skip ignores hidden and partially copied files.
func skip(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".tmp") || strings.HasSuffix(name, ".part")
}
