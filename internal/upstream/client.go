// Package upstream is the HTTP client for the stock analysis service.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Upstream endpoint paths relative to the base URL.
const (
	PathGetAgent          = "/FileTest/GetAgent"
	PathCreateAgentPrompt = "/FileTest/CreateAgentprompt"
	PathUpdateFile        = "/FileTest/UpdateFile"
	PathExecutionAgent    = "/FileTest/ExecutionAgent"
	PathGetResult         = "/FileTest/GetResult"
	PathStockSearch       = "/StockBaseInfo/GetListByName"
)

// maxErrorBody caps how much of an error response is kept for diagnostics.
const maxErrorBody = 64 << 10

// ErrUpstreamTimeout is the cancellation cause used when an upstream call
// exceeds its deadline.
var ErrUpstreamTimeout = errors.New("upstream request timed out")

// StatusError reports a non-2xx upstream response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%d: %s", e.StatusCode, e.Body)
}

// Envelope is the common upstream response wrapper.
type Envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Text    string          `json:"text,omitempty"`
}

// ExecuteRequest starts an analysis run.
type ExecuteRequest struct {
	TSCode    string `json:"tscode"`
	AgentName string `json:"agentName"`
}

// Client talks to the upstream analysis API.
type Client struct {
	baseURL string
	http    *http.Client
	// upload has no client timeout; uploads are bounded by their context so
	// a deadline surfaces as the caller's cause.
	upload *http.Client
}

// New creates a client with an instrumented transport.
func New(baseURL string, timeout time.Duration) *Client {
	return NewWithHTTPClient(baseURL, &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	})
}

// NewWithHTTPClient creates a client around an existing http.Client.
func NewWithHTTPClient(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	upload := *hc
	upload.Timeout = 0
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: hc, upload: &upload}
}

// GetAgent returns the raw GetAgent response body. Any JSON body is returned
// regardless of status so callers can forward it unchanged.
func (c *Client) GetAgent(ctx context.Context) (json.RawMessage, error) {
	return c.passthrough(ctx, http.MethodGet, PathGetAgent, nil)
}

// CreateAgentPrompt forwards a JSON body to CreateAgentprompt.
func (c *Client) CreateAgentPrompt(ctx context.Context, body any) (json.RawMessage, error) {
	return c.passthrough(ctx, http.MethodPost, PathCreateAgentPrompt, body)
}

// ExecuteAgent starts an analysis run. Non-2xx responses return *StatusError.
func (c *Client) ExecuteAgent(ctx context.Context, req ExecuteRequest) (json.RawMessage, error) {
	return c.strict(ctx, http.MethodPost, PathExecutionAgent, req)
}

// GetResult fetches the latest analysis result envelope.
func (c *Client) GetResult(ctx context.Context) (*Envelope, error) {
	raw, err := c.strict(ctx, http.MethodGet, PathGetResult, nil)
	if err != nil {
		return nil, err
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode result envelope: %w", err)
	}
	return &env, nil
}

// SearchStocks queries the stock name index.
func (c *Client) SearchStocks(ctx context.Context, key string) (json.RawMessage, error) {
	return c.strict(ctx, http.MethodGet, PathStockSearch+"?key="+url.QueryEscape(key), nil)
}

// Upload posts a multipart body to UpdateFile and returns the raw response.
// The caller owns the response body.
func (c *Client) Upload(ctx context.Context, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+PathUpdateFile, body)
	if err != nil {
		return nil, fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	resp, err := c.upload.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}
	return resp, nil
}

func (c *Client) passthrough(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	_, data, err := c.do(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("%s %s: response is not valid JSON", method, path)
	}
	return data, nil
}

func (c *Client) strict(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	status, data, err := c.do(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	if status < 200 || status > 299 {
		return nil, &StatusError{StatusCode: status, Body: string(data)}
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("%s %s: response is not valid JSON", method, path)
	}
	return data, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Debug("failed to close upstream response body", "path", path, "error", closeErr)
		}
	}()

	limit := int64(-1)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		limit = maxErrorBody
	}
	var data []byte
	if limit > 0 {
		data, err = io.ReadAll(io.LimitReader(resp.Body, limit))
	} else {
		data, err = io.ReadAll(resp.Body)
	}
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read %s response: %w", path, err)
	}
	return resp.StatusCode, data, nil
}
