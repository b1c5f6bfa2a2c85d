package builtin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/marmos91/hostd/internal/logger"
	"github.com/marmos91/hostd/pkg/runtime/codeunit"
	"github.com/marmos91/hostd/pkg/runtime/service"
)

// StaticConfig configures an http-static service.
type StaticConfig struct {
	// Addr is the listen address, e.g. ":8081". Port 0 picks a free port.
	Addr string `mapstructure:"addr"`

	// Root is the directory inside the bundle to serve. Default: "www".
	Root string `mapstructure:"root"`

	// Prefix is the URL path the files are mounted under. Default: "/".
	Prefix string `mapstructure:"prefix"`
}

// StaticServer serves a directory from its module bundle over HTTP.
type StaticServer struct {
	id  string
	cfg StaticConfig
	dir string

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	done     chan struct{}
}

func newStaticServer(env codeunit.Env) (service.Service, error) {
	s := &StaticServer{id: env.Module + "/" + env.Type}
	if err := decodeConfig(env, &s.cfg); err != nil {
		return nil, err
	}
	if s.cfg.Root == "" {
		s.cfg.Root = "www"
	}
	if s.cfg.Prefix == "" {
		s.cfg.Prefix = "/"
	}
	if !strings.HasSuffix(s.cfg.Prefix, "/") {
		s.cfg.Prefix += "/"
	}
	s.dir = filepath.Join(env.Dir, filepath.FromSlash(s.cfg.Root))
	return s, nil
}

// Load checks that the root exists and the address is set.
func (s *StaticServer) Load(context.Context) error {
	if s.cfg.Addr == "" {
		return errors.New("http-static: addr is required")
	}
	info, err := os.Stat(s.dir)
	if err != nil {
		return fmt.Errorf("http-static root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("http-static root %s is not a directory", s.cfg.Root)
	}
	return nil
}

// Start binds the listener and serves in the background.
func (s *StaticServer) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("http-static listen %s: %w", s.cfg.Addr, err)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle(s.cfg.Prefix+"*", http.StripPrefix(s.cfg.Prefix, http.FileServer(http.Dir(s.dir))))

	s.listener = ln
	s.server = &http.Server{Handler: r, ReadHeaderTimeout: 10 * time.Second}
	s.done = make(chan struct{})

	go func(srv *http.Server, done chan struct{}) {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Static server failed", logger.KeyService, s.id, logger.KeyError, err)
		}
	}(s.server, s.done)

	logger.Info("Static server listening", logger.KeyService, s.id, "addr", ln.Addr().String())
	return nil
}

// Stop shuts the server down gracefully within ctx.
func (s *StaticServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, done := s.server, s.done
	s.server, s.listener = nil, nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("http-static shutdown: %w", err)
	}
	<-done
	return nil
}

func (s *StaticServer) Unload(context.Context) error { return nil }

// Addr returns the bound address while running.
func (s *StaticServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}
