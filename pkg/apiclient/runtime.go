package apiclient

import (
	"fmt"
	"io"
	"net/http"

	"github.com/marmos91/hostd/pkg/runtime/models"
)

// ServiceRequest addresses a service. An empty Module names a host
// service.
type ServiceRequest struct {
	Module    string `json:"module"`
	Type      string `json:"type"`
	AutoStart bool   `json:"auto_start,omitempty"`
	Unload    bool   `json:"unload,omitempty"`
}

// StopResponse is returned when a stop request is queued.
type StopResponse struct {
	ProcessState models.ProcessState `json:"process_state"`
}

// Status returns a snapshot of the daemon.
func (c *Client) Status() (*models.Status, error) {
	return getResource[models.Status](c, "/api/v1/status")
}

// Stop asks the daemon to shut down. It returns once the request is
// queued, not when the daemon has stopped.
func (c *Client) Stop() (*StopResponse, error) {
	return createResource[StopResponse](c, "/api/v1/stop", nil)
}

// ListModules returns every known module.
func (c *Client) ListModules() ([]models.ModuleRecord, error) {
	return listResources[models.ModuleRecord](c, "/api/v1/modules")
}

// RegisterModule uploads an artifact named fileName. The reader is
// rewound before each retry.
func (c *Client) RegisterModule(fileName string, artifact io.ReadSeeker, force bool) (*models.ModuleRecord, error) {
	path := resourcePath("/api/v1/modules/%s", fileName)
	if force {
		path += "?force=true"
	}

	var rec models.ModuleRecord
	err := c.send(http.MethodPut, path, "application/octet-stream", func() (io.Reader, error) {
		if _, err := artifact.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("rewind %s: %w", fileName, err)
		}
		return artifact, nil
	}, &rec)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// LoadModule loads a registered module.
func (c *Client) LoadModule(name string) (*models.ModuleRecord, error) {
	return createResource[models.ModuleRecord](c, resourcePath("/api/v1/modules/%s/load", name), nil)
}

// DeleteModule removes a module and its services.
func (c *Client) DeleteModule(name string) error {
	return deleteResource(c, resourcePath("/api/v1/modules/%s", name))
}

// ListServices returns every known service.
func (c *Client) ListServices() ([]models.ServiceRecord, error) {
	return listResources[models.ServiceRecord](c, "/api/v1/services")
}

// RegisterService registers a service of a loaded module.
func (c *Client) RegisterService(req ServiceRequest) (*models.ServiceRecord, error) {
	return createResource[models.ServiceRecord](c, "/api/v1/services", req)
}

// StartService starts a service, loading it first if needed.
func (c *Client) StartService(req ServiceRequest) (*models.ServiceRecord, error) {
	return createResource[models.ServiceRecord](c, "/api/v1/services/start", req)
}

// StopService stops a service and optionally unloads it.
func (c *Client) StopService(req ServiceRequest) (*models.ServiceRecord, error) {
	return createResource[models.ServiceRecord](c, "/api/v1/services/stop", req)
}
