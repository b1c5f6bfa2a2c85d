package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/marmos91/hostd/pkg/controlplane/api/handlers"
)

// ModuleHandler serves the module operations.
type ModuleHandler struct {
	rt Runtime
}

// NewModuleHandler creates a ModuleHandler.
func NewModuleHandler(rt Runtime) *ModuleHandler {
	return &ModuleHandler{rt: rt}
}

// List handles GET /api/v1/modules.
func (h *ModuleHandler) List(w http.ResponseWriter, r *http.Request) {
	handlers.WriteJSONOK(w, h.rt.QueryModules(r.Context()))
}

// Register handles PUT /api/v1/modules/{filename}?force=true. The request
// body is the module artifact.
func (h *ModuleHandler) Register(w http.ResponseWriter, r *http.Request) {
	fileName := chi.URLParam(r, "filename")

	force := false
	if v := r.URL.Query().Get("force"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			handlers.BadRequest(w, "force must be a boolean")
			return
		}
		force = parsed
	}

	rec, err := h.rt.RegisterModule(r.Context(), r.Body, fileName, force)
	if err != nil {
		handlers.WriteError(w, err)
		return
	}
	handlers.WriteJSONOK(w, rec)
}

// Load handles POST /api/v1/modules/{name}/load.
func (h *ModuleHandler) Load(w http.ResponseWriter, r *http.Request) {
	rec, err := h.rt.LoadModule(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		handlers.WriteError(w, err)
		return
	}
	handlers.WriteJSONOK(w, rec)
}

// Delete handles DELETE /api/v1/modules/{name}.
func (h *ModuleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.rt.DeleteModule(r.Context(), chi.URLParam(r, "name")); err != nil {
		handlers.WriteError(w, err)
		return
	}
	handlers.WriteNoContent(w)
}
