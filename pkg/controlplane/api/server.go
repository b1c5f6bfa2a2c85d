package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/marmos91/hostd/internal/controlplane/api/auth"
	"github.com/marmos91/hostd/internal/controlplane/api/handlers"
	"github.com/marmos91/hostd/internal/logger"
)

// Server is the HTTP control surface. It implements the orchestrator's
// Listener, so the daemon loop owns its lifecycle.
//
// Endpoints:
//   - GET /health/live, GET /health/ready: probes
//   - POST /api/v1/auth/token, /api/v1/auth/refresh: login
//   - /api/v1/status, /stop, /modules/*, /services/*: runtime operations
type Server struct {
	server     *http.Server
	jwtService *auth.JWTService
	config     APIConfig

	mu       sync.Mutex
	listener net.Listener
	serveErr chan error

	shutdownOnce sync.Once
}

// NewServer creates a stopped server. The signing secret comes from config
// or the HOSTD_CONTROLPLANE_SECRET environment variable.
func NewServer(config APIConfig, rt handlers.Runtime) (*Server, error) {
	config.ApplyDefaults()

	jwtService, err := auth.NewJWTService(auth.JWTConfig{
		Secret:               config.GetJWTSecret(),
		AccessTokenDuration:  config.JWT.AccessTokenDuration,
		RefreshTokenDuration: config.JWT.RefreshTokenDuration,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create JWT service: %w; set via %s env var or config", err, EnvJWTSecret)
	}

	server := &http.Server{
		Handler:      NewRouter(rt, jwtService, config),
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return &Server{
		server:     server,
		jwtService: jwtService,
		config:     config,
		serveErr:   make(chan error, 1),
	}, nil
}

// Start binds the listening socket and serves in the background. A bind
// failure is returned synchronously.
func (s *Server) Start(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.config.Address())
	if err != nil {
		return fmt.Errorf("API server failed to listen on %s: %w", s.config.Address(), err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	logger.Info("API server listening", logger.KeyAddress, ln.Addr().String())
	logger.Debug("API endpoints available",
		"live", fmt.Sprintf("http://%s/health/live", ln.Addr()),
		"ready", fmt.Sprintf("http://%s/health/ready", ln.Addr()),
	)

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("API server failed", logger.KeyError, err)
			s.serveErr <- err
		}
		close(s.serveErr)
	}()
	return nil
}

// Stop gracefully shuts the server down within ctx. It is safe to call
// more than once.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		logger.Debug("API server shutdown initiated")

		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("API server shutdown error: %w", err)
			logger.Error("API server shutdown error", logger.KeyError, err)
			return
		}
		s.mu.Lock()
		started := s.listener != nil
		s.mu.Unlock()
		if !started {
			return
		}
		if err, ok := <-s.serveErr; ok && err != nil {
			shutdownErr = fmt.Errorf("API server failed: %w", err)
			return
		}
		logger.Info("API server stopped gracefully")
	})
	return shutdownErr
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.Address()
}

// JWTService returns the token service, for issuing tokens in-process.
func (s *Server) JWTService() *auth.JWTService {
	return s.jwtService
}
