package apiclient

import (
	"fmt"
	"net/http"
)

// APIError is an RFC 7807 problem returned by the server.
type APIError struct {
	StatusCode int    `json:"status"`
	Type       string `json:"type,omitempty"`
	Title      string `json:"title"`
	Detail     string `json:"detail,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	switch {
	case e.Title != "" && e.Detail != "":
		return fmt.Sprintf("%s: %s", e.Title, e.Detail)
	case e.Detail != "":
		return e.Detail
	case e.Title != "":
		return e.Title
	}
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

// IsAuthError returns true if this is an authentication error.
func (e *APIError) IsAuthError() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// IsNotFound returns true if this is a not found error.
func (e *APIError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// IsConflict returns true if this is a conflict error.
func (e *APIError) IsConflict() bool {
	return e.StatusCode == http.StatusConflict
}

// IsBadRequest returns true for malformed requests.
func (e *APIError) IsBadRequest() bool {
	return e.StatusCode == http.StatusBadRequest
}

// IsUnavailable returns true when the daemon asked the caller to retry.
func (e *APIError) IsUnavailable() bool {
	return e.StatusCode == http.StatusServiceUnavailable
}
