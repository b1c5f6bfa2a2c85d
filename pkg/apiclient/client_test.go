package apiclient

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/marmos91/hostd/pkg/runtime/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry() backoff.BackOff {
	return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 3)
}

func TestNew(t *testing.T) {
	client := New("http://localhost:7700")
	assert.NotNil(t, client)
	assert.Equal(t, "http://localhost:7700", client.BaseURL())
}

func TestWithToken(t *testing.T) {
	client := New("http://localhost:7700")
	tokenClient := client.WithToken("test-token")

	// Original client should not have token
	assert.Empty(t, client.token)

	assert.Equal(t, "test-token", tokenClient.token)
	assert.Equal(t, "http://localhost:7700", tokenClient.baseURL)
}

func TestDoWithSuccess(t *testing.T) {
	type Response struct {
		Message string `json:"message"`
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		_ = json.NewEncoder(w).Encode(Response{Message: "success"})
	}))
	defer server.Close()

	var resp Response
	require.NoError(t, New(server.URL).get("/test", &resp))
	assert.Equal(t, "success", resp.Message)
}

func TestDoWithAuthHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	require.NoError(t, New(server.URL).WithToken("test-token").get("/test", nil))
}

func TestDoWithProblem(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/problem+json")
		w.WriteHeader(http.StatusConflict)
		_, _ = io.WriteString(w, `{"type":"about:blank","title":"Conflict","status":409,"detail":"ILLEGAL_STATE: service svc/api is RUNNING"}`)
	}))
	defer server.Close()

	err := New(server.URL).get("/test", nil)
	require.Error(t, err)

	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.True(t, apiErr.IsConflict())
	assert.Equal(t, "Conflict: ILLEGAL_STATE: service svc/api is RUNNING", apiErr.Error())
}

func TestDoWithPlainError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer server.Close()

	err := New(server.URL).get("/test", nil)
	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "boom", apiErr.Error())
}

func TestRetryOnUnavailable(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = io.WriteString(w, `{"title":"Service Unavailable","status":503,"detail":"request queue full"}`)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		_, _ = io.WriteString(w, `{"process_state":"RUNNING"}`)
	}))
	defer server.Close()

	client := New(server.URL)
	client.SetRetry(fastRetry)

	resp, err := client.Stop()
	require.NoError(t, err)
	assert.Equal(t, models.ProcessRunning, resp.ProcessState)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetryGivesUp(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := New(server.URL)
	client.SetRetry(fastRetry)

	_, err := client.Stop()
	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.True(t, apiErr.IsUnavailable())
	assert.Equal(t, int32(4), calls.Load(), "first attempt plus three retries")
}

func TestNoRetryOnOtherErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := New(server.URL)
	client.SetRetry(fastRetry)

	err := client.DeleteModule("ghost")
	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.True(t, apiErr.IsNotFound())
	assert.Equal(t, int32(1), calls.Load())
}

func TestRegisterModuleRewindsOnRetry(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/v1/modules/svc-1.0.0.zip", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("force"))
		assert.Equal(t, "application/octet-stream", r.Header.Get("Content-Type"))

		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "artifact-bytes", string(body))

		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(models.ModuleRecord{Name: "svc", Version: "1.0.0", State: models.ModuleLoaded})
	}))
	defer server.Close()

	client := New(server.URL)
	client.SetRetry(fastRetry)

	rec, err := client.RegisterModule("svc-1.0.0.zip", strings.NewReader("artifact-bytes"), true)
	require.NoError(t, err)
	assert.Equal(t, models.ModuleLoaded, rec.State)
	assert.Equal(t, int32(2), calls.Load())
}

func TestServiceRequests(t *testing.T) {
	var (
		mu  sync.Mutex
		got []string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ServiceRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		mu.Lock()
		got = append(got, r.URL.Path)
		mu.Unlock()
		_ = json.NewEncoder(w).Encode(models.ServiceRecord{
			ID:    models.ServiceID{Module: req.Module, Type: req.Type},
			State: models.ServiceRunning,
		})
	}))
	defer server.Close()

	client := New(server.URL)
	req := ServiceRequest{Module: "svc", Type: "api"}

	_, err := client.RegisterService(req)
	require.NoError(t, err)
	rec, err := client.StartService(req)
	require.NoError(t, err)
	assert.Equal(t, "svc/api", rec.ID.String())
	_, err = client.StopService(req)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"/api/v1/services", "/api/v1/services/start", "/api/v1/services/stop"}, got)
}

func TestResourcePathEscapes(t *testing.T) {
	assert.Equal(t, "/api/v1/modules/a%2Fb/load", resourcePath("/api/v1/modules/%s/load", "a/b"))
}

func TestLogin(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/auth/token", r.URL.Path)
		var req TokenRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "s3cret", req.Secret)
		_ = json.NewEncoder(w).Encode(TokenResponse{AccessToken: "a", RefreshToken: "r", TokenType: "Bearer", ExpiresIn: 900})
	}))
	defer server.Close()

	tokens, err := New(server.URL).Login("s3cret", "")
	require.NoError(t, err)
	assert.Equal(t, "a", tokens.AccessToken)
	assert.Equal(t, 15*time.Minute, tokens.ExpiresInDuration())
}
