package handlers

import (
	"net/http"

	"github.com/marmos91/hostd/internal/logger"
	"github.com/marmos91/hostd/pkg/controlplane/api/handlers"
	"github.com/marmos91/hostd/pkg/runtime/models"
)

// StatusHandler serves process-level operations.
type StatusHandler struct {
	rt Runtime
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(rt Runtime) *StatusHandler {
	return &StatusHandler{rt: rt}
}

// StopResponse is returned by POST /api/v1/stop.
type StopResponse struct {
	ProcessState models.ProcessState `json:"process_state"`
}

// Status handles GET /api/v1/status.
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	handlers.WriteJSONOK(w, h.rt.QueryStatus(r.Context()))
}

// Stop handles POST /api/v1/stop. The stop is asynchronous: the response
// only confirms the request was queued.
func (h *StatusHandler) Stop(w http.ResponseWriter, r *http.Request) {
	if err := h.rt.RequestStop(); err != nil {
		handlers.WriteError(w, err)
		return
	}
	logger.InfoCtx(r.Context(), "stop requested")
	handlers.WriteJSONAccepted(w, StopResponse{ProcessState: h.rt.State()})
}
