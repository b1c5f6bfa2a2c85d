package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/marmos91/hostd/pkg/runtime/models"
)

// HealthCheckTimeout bounds the readiness probe so a slow store cannot
// block it.
const HealthCheckTimeout = 5 * time.Second

// maxGoroutines fails liveness when the process is leaking goroutines.
const maxGoroutines = 10000

// HealthHandler serves the unauthenticated liveness and readiness probes.
// Append ?full=1 to either endpoint for per-check results.
type HealthHandler struct {
	checks healthcheck.Handler
}

// NewHealthHandler wires the probes to rt. Readiness requires the process
// to be RUNNING with a reachable store.
func NewHealthHandler(rt Runtime) *HealthHandler {
	checks := healthcheck.NewHandler()
	checks.AddLivenessCheck("goroutines", healthcheck.GoroutineCountCheck(maxGoroutines))
	checks.AddReadinessCheck("process", func() error {
		if s := rt.State(); s != models.ProcessRunning {
			return fmt.Errorf("process is %s", s)
		}
		return nil
	})
	checks.AddReadinessCheck("store", healthcheck.Timeout(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), HealthCheckTimeout)
		defer cancel()
		return rt.Healthcheck(ctx)
	}, HealthCheckTimeout))
	return &HealthHandler{checks: checks}
}

// Liveness handles GET /health/live.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	h.checks.LiveEndpoint(w, r)
}

// Readiness handles GET /health/ready.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	h.checks.ReadyEndpoint(w, r)
}
