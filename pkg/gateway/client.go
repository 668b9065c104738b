// Package gateway implements the HTTP client for the tool gateway: session
// management, tool search by query and tool execution by name.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dagent-ai/dagent/pkg/httpclient"
)

const sessionHeader = "X-Session-ID"

// ErrGatewayUnavailable indicates the gateway could not be reached.
var ErrGatewayUnavailable = errors.New("tool gateway unavailable")

// RejectedError reports a request the gateway refused.
type RejectedError struct {
	StatusCode int
	Body       string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("tool gateway rejected request (HTTP %d): %s", e.StatusCode, e.Body)
}

// Client talks to a tool gateway. It lazily creates a session on first use
// and is safe for concurrent use.
type Client struct {
	baseURL string

	searchClient  *httpclient.Client
	executeClient *httpclient.Client

	mu        sync.RWMutex
	sessionID string
	group     singleflight.Group
}

// Option configures a Client.
type Option func(*Client)

// WithSearchTimeout sets the timeout for session, search and list requests.
func WithSearchTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.searchClient = httpclient.New(httpclient.WithTimeout(timeout))
	}
}

// WithExecuteTimeout sets the timeout for tool execution requests.
func WithExecuteTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.executeClient = httpclient.New(httpclient.WithTimeout(timeout))
	}
}

// NewClient creates a gateway client for the given base URL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		searchClient:  httpclient.New(httpclient.WithTimeout(30 * time.Second)),
		executeClient: httpclient.New(httpclient.WithTimeout(60 * time.Second)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SessionID returns the current session id, or empty if none exists yet.
func (c *Client) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// CreateSession creates a gateway session and stores its id in the client.
func (c *Client) CreateSession(ctx context.Context) (string, error) {
	body, err := c.do(ctx, c.searchClient, http.MethodPost, "/sessions/create", nil, false)
	if err != nil {
		return "", err
	}

	var result struct {
		Success   bool   `json:"success"`
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("failed to decode session response: %w", err)
	}
	if !result.Success || result.SessionID == "" {
		return "", &RejectedError{StatusCode: http.StatusOK, Body: string(body)}
	}

	c.mu.Lock()
	c.sessionID = result.SessionID
	c.mu.Unlock()

	slog.Debug("Created gateway session", "session_id", result.SessionID)
	return result.SessionID, nil
}

// ensureSession creates a session if none exists. Concurrent callers share
// a single create request.
func (c *Client) ensureSession(ctx context.Context) error {
	if c.SessionID() != "" {
		return nil
	}
	_, err, _ := c.group.Do("create-session", func() (any, error) {
		if c.SessionID() != "" {
			return nil, nil
		}
		_, err := c.CreateSession(ctx)
		return nil, err
	})
	return err
}

// SearchTools queries the gateway for tools matching the query. The result
// is a JSON-encoded list of tool specs, or a sentinel message when nothing
// matches.
func (c *Client) SearchTools(ctx context.Context, query string) (string, error) {
	if err := c.ensureSession(ctx); err != nil {
		return "", err
	}

	body, err := c.do(ctx, c.searchClient, http.MethodPost, "/mcp/search", map[string]any{"query": query}, true)
	if err != nil {
		return "", err
	}

	var result struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(body, &result); err != nil || result.Result == nil {
		return "", &RejectedError{StatusCode: http.StatusOK, Body: string(body)}
	}

	var tools []any
	if err := json.Unmarshal(result.Result, &tools); err != nil || len(tools) == 0 {
		return fmt.Sprintf("No tools found for query: %s", query), nil
	}

	encoded, err := json.Marshal(tools)
	if err != nil {
		return "", fmt.Errorf("failed to encode tool specs: %w", err)
	}
	return string(encoded), nil
}

// ExecuteTool runs a tool by name through the gateway. When the result body
// is a JSON object its content field is extracted; otherwise the body is
// returned verbatim.
func (c *Client) ExecuteTool(ctx context.Context, name string, args map[string]any) (string, error) {
	if err := c.ensureSession(ctx); err != nil {
		return "", err
	}

	if args == nil {
		args = map[string]any{}
	}
	payload := map[string]any{"tool_name": name, "args": args}
	body, err := c.do(ctx, c.executeClient, http.MethodPost, "/mcp/execute", payload, true)
	if err != nil {
		return "", err
	}

	var result struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(body, &result); err != nil || result.Result == nil {
		return "", &RejectedError{StatusCode: http.StatusOK, Body: string(body)}
	}

	var asString string
	if err := json.Unmarshal(result.Result, &asString); err == nil {
		return extractContent(asString), nil
	}
	return stringify(result.Result), nil
}

// ListTools returns a human-readable listing of every available tool.
func (c *Client) ListTools(ctx context.Context) (string, error) {
	if err := c.ensureSession(ctx); err != nil {
		return "", err
	}

	body, err := c.do(ctx, c.searchClient, http.MethodGet, "/mcp/tools", nil, true)
	if err != nil {
		return "", err
	}

	var result struct {
		Tools []struct {
			Name        string `json:"name"`
			Description string `json:"description"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("failed to decode tool list: %w", err)
	}
	if len(result.Tools) == 0 {
		return "No tools available", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Available tools (%d):", len(result.Tools))
	for _, tool := range result.Tools {
		name := tool.Name
		if name == "" {
			name = "Unknown"
		}
		desc := tool.Description
		if desc == "" {
			desc = "No description"
		}
		fmt.Fprintf(&sb, "\n- %s: %s", name, desc)
	}
	return sb.String(), nil
}

func (c *Client) do(ctx context.Context, client *httpclient.Client, method, path string, payload any, withSession bool) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if withSession {
		req.Header.Set(sessionHeader, c.SessionID())
	}

	resp, err := client.Do(req)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &RejectedError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

// extractContent decodes a string-typed tool result. A JSON object inside
// the string yields its content field; anything else passes through.
func extractContent(result string) string {
	var parsed map[string]any
	if err := json.Unmarshal([]byte(result), &parsed); err != nil {
		return result
	}
	content, ok := parsed["content"]
	if !ok {
		return stringifyValue(parsed)
	}
	return stringifyValue(content)
}

func stringify(raw json.RawMessage) string {
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return string(raw)
	}
	return stringifyValue(value)
}

func stringifyValue(value any) string {
	if s, ok := value.(string); ok {
		return s
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("%v", value)
	}
	return string(encoded)
}
