// Package httpclient is the CLI's typed client for the REST API. It
// unwraps the response envelope into results or status errors and
// retries rate-limited and transient failures with backoff.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/openviking/openviking/pkg/status"
)

const (
	defaultTimeout    = 10 * time.Minute
	defaultMaxRetries = 3
	defaultBaseDelay  = time.Second
)

// Client talks to one server.
type Client struct {
	baseURL    string
	apiKey     string
	http       *http.Client
	maxRetries int
	baseDelay  time.Duration
}

// Option configures the client.
type Option func(*Client)

func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

// New builds a client for the given base URL, like http://127.0.0.1:1933.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		http:       &http.Client{Timeout: defaultTimeout},
		maxRetries: defaultMaxRetries,
		baseDelay:  defaultBaseDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// envelope mirrors the server's response shape.
type envelope struct {
	Status string          `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *status.Error   `json:"error,omitempty"`
}

// Get issues a GET and decodes the result into out (may be nil).
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, query, nil, out)
}

// Post issues a POST with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, nil, body, out)
}

// Delete issues a DELETE; body may be nil.
func (c *Client) Delete(ctx context.Context, path string, query url.Values, body, out any) error {
	return c.do(ctx, http.MethodDelete, path, query, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return status.Internal("encode request body").WithCause(err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return status.DeadlineExceeded("request cancelled").WithCause(ctx.Err())
			case <-time.After(c.retryDelay(attempt)):
			}
		}
		req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(payload))
		if err != nil {
			return status.InvalidArgument("build request: %v", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("X-API-Key", c.apiKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = status.Unavailable("request %s %s failed", method, path).WithCause(err)
			continue
		}
		retryable, err := c.decode(resp, out)
		if err == nil {
			return nil
		}
		if !retryable {
			return err
		}
		lastErr = err
	}
	return lastErr
}

// decode reads one response. The second return reports whether the
// failure is worth retrying.
func (c *Client) decode(resp *http.Response, out any) (bool, error) {
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return true, status.Unavailable("read response").WithCause(err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return false, status.Internal("malformed server response (%d)", resp.StatusCode).WithCause(err)
	}
	if env.Status == "ok" {
		if out == nil || len(env.Result) == 0 {
			return false, nil
		}
		if err := json.Unmarshal(env.Result, out); err != nil {
			return false, status.Internal("decode result").WithCause(err)
		}
		return false, nil
	}
	se := env.Error
	if se == nil {
		se = status.Internal("server returned %d without an error body", resp.StatusCode)
	}
	switch resp.StatusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable,
		http.StatusBadGateway, http.StatusGatewayTimeout:
		return true, se
	}
	return false, se
}

func (c *Client) retryDelay(attempt int) time.Duration {
	d := c.baseDelay << (attempt - 1)
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}

// BoolQuery renders a boolean query parameter.
func BoolQuery(v bool) string { return strconv.FormatBool(v) }
