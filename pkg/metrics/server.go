package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/marmos91/hostd/internal/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes the registry over HTTP. It implements the service
// lifecycle, so the runtime can manage it as the host "metrics" service.
type Server struct {
	addr string
	path string

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	done     chan struct{}
}

// NewServer creates an exporter on addr (e.g. ":9090"). An empty path
// serves /metrics.
func NewServer(addr, path string) *Server {
	if path == "" {
		path = "/metrics"
	}
	return &Server{addr: addr, path: path}
}

// Load checks that collection is enabled.
func (s *Server) Load(context.Context) error {
	if !IsEnabled() {
		return errors.New("metrics registry is not initialized")
	}
	return nil
}

// Start binds the listener and serves in the background.
func (s *Server) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return errors.New("metrics server already running")
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle(s.path, promhttp.HandlerFor(GetRegistry(), promhttp.HandlerOpts{EnableOpenMetrics: true}))

	srv := &http.Server{Handler: r, ReadHeaderTimeout: 10 * time.Second}
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", logger.KeyError, err)
		}
	}()

	s.server, s.listener, s.done = srv, ln, done
	logger.Info("metrics server listening", logger.KeyAddress, ln.Addr().String(), logger.KeyPath, s.path)
	return nil
}

// Stop shuts the server down, waiting for in-flight scrapes.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, done := s.server, s.done
	s.server, s.listener, s.done = nil, nil, nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err := srv.Shutdown(ctx)
	<-done
	return err
}

// Unload is a no-op; the registry outlives the exporter.
func (s *Server) Unload(context.Context) error { return nil }

// Addr returns the bound address while running, else the configured one.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}
