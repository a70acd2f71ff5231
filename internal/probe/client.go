package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const maxResponseBodySize = 1 << 20 // 1MB

// connection pooling limits to prevent resource exhaustion when probing many devices
const (
	defaultMaxIdleConns        = 100
	defaultMaxIdleConnsPerHost = 10
	defaultMaxConnsPerHost     = 10
	defaultIdleConnTimeout     = 60 * time.Second
)

// Response holds the result of an HTTP request made by [Client].
type Response struct {
	// StatusCode is the HTTP status code, zero if no response was received.
	StatusCode int

	// Latency is the time until the response headers arrived.
	Latency time.Duration

	// Error is any transport error. A 5xx response is not an error here.
	Error error
}

// Client is an HTTP client wrapper for health-check requests.
//
// Timeouts are applied per request via context rather than globally, so
// devices can be probed with different timeouts through the same pool.
// Response bodies are drained up to 1MB so connections can be reused.
type Client struct {
	httpClient *http.Client
}

// NewClient creates a new probing [Client].
//
// Connection pooling configuration:
//   - MaxIdleConns: 100 total idle connections
//   - MaxIdleConnsPerHost: 10 idle connections per host
//   - MaxConnsPerHost: 10 concurrent connections per host
//   - IdleConnTimeout: 60 seconds before closing idle connections
func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{
			// no default timeout - per-request timeouts via context
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        defaultMaxIdleConns,
				MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
				MaxConnsPerHost:     defaultMaxConnsPerHost,
				IdleConnTimeout:     defaultIdleConnTimeout,
			},
		},
	}
}

// userAgent identifies probe traffic in target access logs.
const userAgent = "pulsewatch-probe"

// Get requests url within timeout and reports the status and latency.
//
// Latency is measured to the arrival of the response headers; the body is
// then drained with a 1MB cap and discarded. Get always returns a Response;
// errors are captured in the Error field.
func (c *Client) Get(ctx context.Context, url string, timeout time.Duration) Response {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Response{Error: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	latency := time.Since(start)
	if err != nil {
		return Response{
			Latency: latency,
			Error:   fmt.Errorf("request failed: %w", err),
		}
	}
	defer func() { _ = resp.Body.Close() }()

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBodySize))

	return Response{
		StatusCode: resp.StatusCode,
		Latency:    latency,
	}
}

// Close closes all idle connections in the client's connection pool.
//
// Safe to call multiple times. After Close, the client remains usable but
// new connections will be established as needed.
func (c *Client) Close() {
	if c == nil || c.httpClient == nil {
		return
	}
	if transport, ok := c.httpClient.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
}
