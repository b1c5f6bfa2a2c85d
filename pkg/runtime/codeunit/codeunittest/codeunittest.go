// Package codeunittest provides helpers for building module bundles and
// observing service hook calls in tests.
package codeunittest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/marmos91/hostd/pkg/runtime/codeunit"
	"github.com/marmos91/hostd/pkg/runtime/service"
	"gopkg.in/yaml.v3"
)

// RecordingKind is the catalog kind name registered by NewCatalog.
const RecordingKind = "recording"

// Recorder collects hook invocations keyed by "module/type".
type Recorder struct {
	mu        sync.Mutex
	calls     map[string][]string
	instances map[string]int
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{calls: make(map[string][]string), instances: make(map[string]int)}
}

// Calls returns the hooks invoked on key, in order.
func (r *Recorder) Calls(key string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls[key]...)
}

// Instances returns how many times key was instantiated.
func (r *Recorder) Instances(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.instances[key]
}

func (r *Recorder) record(key, hook string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[key] = append(r.calls[key], hook)
}

// RecordingService appends each hook call to its Recorder. The "fail_on"
// config key names a hook that returns an error instead.
type RecordingService struct {
	Key    string
	FailOn string
	rec    *Recorder
}

func (s *RecordingService) hook(name string) error {
	if s.FailOn == name {
		return fmt.Errorf("%s: %s hook failed", s.Key, name)
	}
	s.rec.record(s.Key, name)
	return nil
}

func (s *RecordingService) Load(context.Context) error   { return s.hook("load") }
func (s *RecordingService) Start(context.Context) error  { return s.hook("start") }
func (s *RecordingService) Stop(context.Context) error   { return s.hook("stop") }
func (s *RecordingService) Unload(context.Context) error { return s.hook("unload") }

// Factory returns a catalog factory producing RecordingServices.
func (r *Recorder) Factory() codeunit.Factory {
	return func(env codeunit.Env) (service.Service, error) {
		key := env.Module + "/" + env.Type
		r.mu.Lock()
		r.instances[key]++
		r.mu.Unlock()
		failOn, _ := env.Config["fail_on"].(string)
		return &RecordingService{Key: key, FailOn: failOn, rec: r}, nil
	}
}

// NewCatalog returns a catalog with the recording kind registered.
func NewCatalog(r *Recorder) *codeunit.Catalog {
	c := codeunit.NewCatalog()
	c.Register(RecordingKind, r.Factory())
	return c
}

// Services builds a manifest with one recording service per type.
func Services(types ...string) codeunit.Manifest {
	m := codeunit.Manifest{}
	for _, t := range types {
		m.Services = append(m.Services, codeunit.ServiceManifest{Type: t, Kind: RecordingKind})
	}
	return m
}

// WriteBundle writes a zip bundle named fileName under dir and returns its
// path. extra adds further archive entries.
func WriteBundle(t testing.TB, dir, fileName string, manifest codeunit.Manifest, extra map[string]string) string {
	t.Helper()

	path := filepath.Join(dir, fileName)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create bundle: %v", err)
	}
	defer func() { _ = f.Close() }()

	zw := zip.NewWriter(f)
	data, err := yaml.Marshal(manifest)
	if err != nil {
		t.Fatalf("marshal manifest: %v", err)
	}
	entries := map[string]string{codeunit.ManifestFile: string(data)}
	for name, body := range extra {
		entries[name] = body
	}
	for name, body := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create entry %s: %v", name, err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatalf("write entry %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close bundle: %v", err)
	}
	return path
}
