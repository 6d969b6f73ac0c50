// Package transport posts JSON requests to the generation backend and
// decodes the line-framed streaming response.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/Iron-Ham/council/internal/errors"
	"github.com/Iron-Ham/council/internal/stream"
)

const (
	// defaultTimeout bounds a whole streamed response.
	defaultTimeout = 60 * time.Second

	// maxErrorBody caps how much of a failed response is kept for the error.
	maxErrorBody = 512
)

// Streamer issues one streaming call. Implementations must honour ctx.
type Streamer interface {
	Stream(ctx context.Context, path string, body any, fn func(stream.Event)) error
}

// Client implements Streamer over HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	userID     string
	limiter    *rate.Limiter
	httpClient *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithAPIKey sends key as a bearer token.
func WithAPIKey(key string) ClientOption {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithUserID sends id in the X-Council-User header so the backend can
// scope long-term memory.
func WithUserID(id string) ClientOption {
	return func(c *Client) {
		c.userID = id
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithHTTPClient replaces the HTTP client entirely.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRateLimit paces outbound calls to rps requests per second with the
// given burst. A non-positive rps leaves calls unpaced.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// NewClient creates a Client for the backend at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Stream POSTs body as JSON to path and calls fn for each decoded event.
// Non-2xx responses and transport failures return a *errors.BackendError;
// cancellation returns ctx.Err().
func (c *Client) Stream(ctx context.Context, path string, body any, fn func(stream.Event)) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return errors.NewBackendError("rate limit wait", err).WithEndpoint(path)
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/plain")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if c.userID != "" {
		req.Header.Set("X-Council-User", c.userID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return errors.NewBackendError("send request", err).WithEndpoint(path).WithRetryable(true)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return errors.NewBackendError(strings.TrimSpace(string(snippet)), nil).
			WithEndpoint(path).
			WithStatus(resp.StatusCode)
	}

	if err := stream.Collect(resp.Body, fn); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return errors.NewBackendError("read stream", err).WithEndpoint(path)
	}
	return ctx.Err()
}

// Func adapts a function to the Streamer interface.
type Func func(ctx context.Context, path string, body any, fn func(stream.Event)) error

// Stream implements Streamer.
func (f Func) Stream(ctx context.Context, path string, body any, fn func(stream.Event)) error {
	return f(ctx, path, body, fn)
}
