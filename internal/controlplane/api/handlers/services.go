package handlers

import (
	"net/http"

	"github.com/marmos91/hostd/pkg/controlplane/api/handlers"
	"github.com/marmos91/hostd/pkg/runtime/models"
)

// ServiceHandler serves the service operations.
type ServiceHandler struct {
	rt Runtime
}

// NewServiceHandler creates a ServiceHandler.
func NewServiceHandler(rt Runtime) *ServiceHandler {
	return &ServiceHandler{rt: rt}
}

// ServiceRequest is the body of the register, start and stop endpoints.
// An empty module names a host service.
type ServiceRequest struct {
	Module    string `json:"module"`
	Type      string `json:"type"`
	AutoStart bool   `json:"auto_start,omitempty"`
	Unload    bool   `json:"unload,omitempty"`
}

func (req ServiceRequest) id() models.ServiceID {
	return models.ServiceID{Module: req.Module, Type: req.Type}
}

// decodeServiceRequest reads a ServiceRequest, writing a 400 when the type is missing.
func decodeServiceRequest(w http.ResponseWriter, r *http.Request) (ServiceRequest, bool) {
	var req ServiceRequest
	if !decodeJSONBody(w, r, &req) {
		return req, false
	}
	if req.Type == "" {
		handlers.BadRequest(w, "Service type is required")
		return req, false
	}
	return req, true
}

// List handles GET /api/v1/services.
func (h *ServiceHandler) List(w http.ResponseWriter, r *http.Request) {
	handlers.WriteJSONOK(w, h.rt.QueryServices(r.Context()))
}

// Register handles POST /api/v1/services.
func (h *ServiceHandler) Register(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeServiceRequest(w, r)
	if !ok {
		return
	}
	h.respond(w)(h.rt.RegisterService(r.Context(), req.id(), req.AutoStart))
}

// Start handles POST /api/v1/services/start.
func (h *ServiceHandler) Start(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeServiceRequest(w, r)
	if !ok {
		return
	}
	h.respond(w)(h.rt.StartService(r.Context(), req.id(), req.AutoStart))
}

// Stop handles POST /api/v1/services/stop.
func (h *ServiceHandler) Stop(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeServiceRequest(w, r)
	if !ok {
		return
	}
	h.respond(w)(h.rt.StopService(r.Context(), req.id(), req.Unload))
}

func (h *ServiceHandler) respond(w http.ResponseWriter) func(models.ServiceRecord, error) {
	return func(rec models.ServiceRecord, err error) {
		if err != nil {
			handlers.WriteError(w, err)
			return
		}
		handlers.WriteJSONOK(w, rec)
	}
}
