// Package apiclient provides a REST API client for hostctl.
package apiclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultRetries is how often a request rejected with 503 is retried.
const DefaultRetries = 5

// Client is the hostd API client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      string

	// retry builds the backoff policy for 503 responses.
	retry func() backoff.BackOff
}

// New creates a new API client.
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		retry: defaultRetry,
	}
}

func defaultRetry() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	return backoff.WithMaxRetries(b, DefaultRetries)
}

// WithToken returns a new client with the given token.
func (c *Client) WithToken(token string) *Client {
	return &Client{
		baseURL:    c.baseURL,
		httpClient: c.httpClient,
		token:      token,
		retry:      c.retry,
	}
}

// SetToken sets the authentication token.
func (c *Client) SetToken(token string) {
	c.token = token
}

// SetTimeout bounds each HTTP round trip. Module uploads may need more
// than the 30s default.
func (c *Client) SetTimeout(d time.Duration) {
	c.httpClient.Timeout = d
}

// SetRetry replaces the backoff policy used when the daemon answers 503.
func (c *Client) SetRetry(policy func() backoff.BackOff) {
	c.retry = policy
}

// BaseURL returns the server URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// do performs a JSON request and decodes the response.
func (c *Client) do(method, path string, body, result any) error {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		payload = data
	}
	return c.send(method, path, "application/json", func() (io.Reader, error) {
		if payload == nil {
			return nil, nil
		}
		return bytes.NewReader(payload), nil
	}, result)
}

// send issues the request, retrying while the server answers 503. body
// is called once per attempt.
func (c *Client) send(method, path, contentType string, body func() (io.Reader, error), result any) error {
	op := func() error {
		err := c.attempt(method, path, contentType, body, result)
		if apiErr, ok := err.(*APIError); ok && apiErr.IsUnavailable() {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}
	return backoff.Retry(op, c.retry())
}

func (c *Client) attempt(method, path, contentType string, body func() (io.Reader, error), result any) error {
	bodyReader, err := body()
	if err != nil {
		return err
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr APIError
		if json.Unmarshal(respBody, &apiErr) == nil && (apiErr.Title != "" || apiErr.Detail != "") {
			apiErr.StatusCode = resp.StatusCode
			return &apiErr
		}
		return &APIError{
			StatusCode: resp.StatusCode,
			Detail:     string(bytes.TrimSpace(respBody)),
		}
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

// get performs a GET request.
func (c *Client) get(path string, result any) error {
	return c.do(http.MethodGet, path, nil, result)
}

// post performs a POST request.
func (c *Client) post(path string, body, result any) error {
	return c.do(http.MethodPost, path, body, result)
}

// delete performs a DELETE request.
func (c *Client) delete(path string, result any) error {
	return c.do(http.MethodDelete, path, nil, result)
}
