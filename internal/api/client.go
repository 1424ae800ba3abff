// Package api is the HTTP client for the remote irrigation backend.
//
// Every call takes a context; cancelling it aborts the request, which is how a
// view that goes away stops a late response from touching its state. There is
// no retry, queueing or caching.
package api

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

	"github.com/prometheus/client_golang/prometheus"

	"procodus.dev/irrigation-dashboard/pkg/metrics"
)

// DefaultBaseURL is used when no base URL is configured.
const DefaultBaseURL = "http://localhost:8080/api"

const maxErrorBody = 64 << 10

// Client talks JSON to the irrigation backend.
type Client struct {
	logger  *slog.Logger
	http    *http.Client
	metrics *metrics.DashboardMetrics
	baseURL *url.URL
	token   string
}

// ClientConfig holds the configuration for the Client.
type ClientConfig struct {
	Logger *slog.Logger

	// BaseURL is the backend root, e.g. http://localhost:8080/api.
	BaseURL string

	// Timeout bounds each request; zero leaves it to the caller's context.
	Timeout time.Duration

	// HTTPClient overrides the transport, mostly for tests.
	HTTPClient *http.Client

	// Metrics is the optional Prometheus collector.
	Metrics *metrics.DashboardMetrics
}

// NewClient creates a new Client.
func NewClient(cfg *ClientConfig) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("client config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	raw := cfg.BaseURL
	if raw == "" {
		raw = DefaultBaseURL
	}
	base, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid base URL %q: scheme must be http or https", raw)
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		logger:  cfg.Logger,
		http:    hc,
		metrics: cfg.Metrics,
		baseURL: base,
	}, nil
}

// WithToken returns a copy of the client that sends the bearer token.
// An empty token yields an anonymous client.
func (c *Client) WithToken(token string) *Client {
	clone := *c
	clone.token = token
	return &clone
}

// BaseURL returns the configured backend root.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// Do sends one request. body, when non-nil, is encoded as JSON. out, when
// non-nil, receives the decoded response; a *string out receives the raw body,
// which suits endpoints that answer with a plain message.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	endpoint := endpointLabel(path)

	var timer *prometheus.Timer
	if c.metrics != nil {
		timer = prometheus.NewTimer(c.metrics.APICallDuration.WithLabelValues(method, endpoint))
		defer timer.ObserveDuration()
	}

	err := c.do(ctx, method, path, query, body, out)
	c.observe(method, endpoint, err)

	if err != nil {
		c.logger.Debug("backend call failed", "method", method, "path", path, "error", err)
	}
	return err
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL.JoinPath(path)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &TransportError{Method: method, Path: path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &Error{Status: resp.StatusCode, Data: string(data)}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &TransportError{Method: method, Path: path, Err: err}
	}

	if s, ok := out.(*string); ok {
		*s = decodeMessage(data)
		return nil
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}

func (c *Client) observe(method, endpoint string, err error) {
	if c.metrics == nil {
		return
	}
	outcome := "ok"
	var apiErr *Error
	switch {
	case err == nil:
	case errors.As(err, &apiErr):
		outcome = "http_error"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		outcome = "canceled"
	default:
		outcome = "transport_error"
	}
	c.metrics.APICallsTotal.WithLabelValues(method, endpoint, outcome).Inc()
}

// endpointLabel keeps metric cardinality bounded by replacing numeric path
// segments with a placeholder.
func endpointLabel(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i, p := range parts {
		if p != "" && strings.Trim(p, "0123456789") == "" {
			parts[i] = "{id}"
		}
	}
	return "/" + strings.Join(parts, "/")
}

// decodeMessage accepts either a JSON string, a JSON object with a message
// field, or plain text.
func decodeMessage(data []byte) string {
	trimmed := bytes.TrimSpace(data)
	var s string
	if json.Unmarshal(trimmed, &s) == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(trimmed, &obj) == nil {
		if obj.Message != "" {
			return obj.Message
		}
		if obj.Error != "" {
			return obj.Error
		}
	}
	return string(trimmed)
}
