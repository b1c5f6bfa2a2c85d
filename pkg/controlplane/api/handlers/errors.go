package handlers

import (
	"errors"
	"net/http"

	rterrors "github.com/marmos91/hostd/pkg/runtime/errors"
	"github.com/marmos91/hostd/pkg/runtime/modules"
	"github.com/marmos91/hostd/pkg/runtime/orchestrator"
	"github.com/marmos91/hostd/pkg/runtime/store"
)

// StatusFor maps a runtime error to an HTTP status code. Specific causes
// are checked before the error kind.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, modules.ErrInvalidFileName):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrModuleTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, orchestrator.ErrQueueFull):
		return http.StatusServiceUnavailable
	}

	switch rterrors.KindOf(err) {
	case rterrors.IllegalArgument:
		return http.StatusNotFound
	case rterrors.IllegalState:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// WriteError writes err as a problem response. The detail is the full
// error text, so suppressed shutdown failures reach the client.
func WriteError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	WriteProblem(w, status, http.StatusText(status), err.Error())
}
