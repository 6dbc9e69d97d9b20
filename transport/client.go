// Package transport wraps outbound platform calls with bounded retries and
// rate-limit-aware short-circuiting. Failure is a returned value: callers
// receive an Outcome on every path, never a panic or an escaped error on
// the exhaustion path.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/fleetpulse/fleetpulse/core"
)

const userAgent = "fleetpulse-go/1.0"

// Client is a bearer-authenticated JSON HTTP client for the platform API.
type Client struct {
	baseURL    string
	token      string
	locale     string
	httpClient *http.Client
	logger     core.Logger
}

// NewClient creates a transport client from the agent configuration
func NewClient(cfg *core.Config, logger core.Logger) *Client {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		locale:     cfg.Locale,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		logger:     logger,
	}
}

// BaseURL returns the platform base address the client targets
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Get performs a single GET attempt with no retry. Used for out-of-band
// policy re-verification, which must not loop back through the retrying
// sender.
func (c *Client) Get(ctx context.Context, path string) (int, []byte, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

// do performs a single HTTP attempt and returns the status code and body.
// A non-nil error means the request never produced a response.
func (c *Client) do(ctx context.Context, method, path string, payload []byte) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", core.ErrRequestFailed, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if c.locale != "" {
		req.Header.Set("Accept-Language", c.locale)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", core.ErrConnectionFailed, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("%w: reading response: %v", core.ErrRequestFailed, err)
	}
	return resp.StatusCode, data, nil
}

// marshalPayload encodes the request body once so retries carry the same
// payload
func marshalPayload(body interface{}) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding payload: %v", core.ErrRequestFailed, err)
	}
	return data, nil
}
