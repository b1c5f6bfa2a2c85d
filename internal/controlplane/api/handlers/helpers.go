// Package handlers implements the HTTP handlers of the hostd control
// surface on top of the orchestrator's public operations.
package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/marmos91/hostd/pkg/controlplane/api/handlers"
	"github.com/marmos91/hostd/pkg/runtime/models"
)

// Runtime is the subset of the orchestrator the handlers drive.
type Runtime interface {
	State() models.ProcessState
	Healthcheck(ctx context.Context) error
	RequestStop() error

	QueryStatus(ctx context.Context) models.Status
	RegisterModule(ctx context.Context, r io.Reader, fileName string, force bool) (models.ModuleRecord, error)
	LoadModule(ctx context.Context, name string) (models.ModuleRecord, error)
	DeleteModule(ctx context.Context, name string) error
	QueryModules(ctx context.Context) []models.ModuleRecord

	RegisterService(ctx context.Context, id models.ServiceID, autoStart bool) (models.ServiceRecord, error)
	StartService(ctx context.Context, id models.ServiceID, autoStart bool) (models.ServiceRecord, error)
	StopService(ctx context.Context, id models.ServiceID, unload bool) (models.ServiceRecord, error)
	QueryServices(ctx context.Context) []models.ServiceRecord
}

// decodeJSONBody decodes a JSON request body into the provided pointer.
// Returns true if successful, false if decoding fails (error response is written automatically).
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		handlers.BadRequest(w, "Invalid request body")
		return false
	}
	return true
}
