// Package httpclient provides an HTTP client with bounded retries and
// backoff for transient server failures.
package httpclient

import (
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"
)

// Client wraps http.Client with retry-on-transient-failure behavior.
type Client struct {
	client     *http.Client
	maxRetries int
	baseDelay  time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

// WithTimeout sets the per-request timeout on the underlying client.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.client.Timeout = timeout
	}
}

// WithMaxRetries sets the number of retries after the initial attempt.
func WithMaxRetries(max int) Option {
	return func(c *Client) {
		c.maxRetries = max
	}
}

// WithBaseDelay sets the base backoff delay.
func WithBaseDelay(delay time.Duration) Option {
	return func(c *Client) {
		c.baseDelay = delay
	}
}

// New creates a Client with sane defaults.
func New(opts ...Option) *Client {
	client := &Client{
		client:     &http.Client{Timeout: 60 * time.Second},
		maxRetries: 2,
		baseDelay:  time.Second,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

func retryable(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusRequestTimeout,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Do executes the request, retrying transient failures with backoff.
// Requests with a body must set GetBody, which http.NewRequest does for
// the common body types.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("failed to recreate request body for retry: %w", err)
			}
			req.Body = body
		}

		resp, err := c.client.Do(req)
		if err != nil {
			// Transport errors are not retried; the endpoint is gone, not busy.
			return nil, err
		}
		if !retryable(resp.StatusCode) {
			return resp, nil
		}
		lastErr = fmt.Errorf("HTTP %d", resp.StatusCode)

		if attempt >= c.maxRetries {
			return resp, &RetryableError{
				StatusCode: resp.StatusCode,
				Message:    fmt.Sprintf("max HTTP retries (%d) exceeded", c.maxRetries),
				Err:        lastErr,
			}
		}

		delay := c.delay(attempt, resp)
		slog.Debug("Retrying HTTP request", "url", req.URL.String(), "attempt", attempt+1, "delay", delay)
		if resp != nil {
			resp.Body.Close()
		}
		time.Sleep(delay)
	}
	return nil, lastErr
}

func (c *Client) delay(attempt int, resp *http.Response) time.Duration {
	if resp != nil {
		if after := resp.Header.Get("Retry-After"); after != "" {
			if secs, err := strconv.Atoi(after); err == nil && secs > 0 {
				return time.Duration(secs) * time.Second
			}
		}
	}
	return time.Duration(math.Pow(2, float64(attempt))) * c.baseDelay
}
