package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGateway is a minimal in-process tool gateway.
type fakeGateway struct {
	mu            sync.Mutex
	sessionCount  int32
	searchResults map[string][]any
	executeFunc   func(name string, args map[string]any) any
	tools         []map[string]string
}

func (g *fakeGateway) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sessions/create", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&g.sessionCount, 1)
		writeJSON(w, map[string]any{"success": true, "session_id": fmt.Sprintf("sess-%d", n)})
	})
	mux.HandleFunc("POST /mcp/search", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Session-ID") == "" {
			http.Error(w, "missing session", http.StatusUnauthorized)
			return
		}
		var req struct {
			Query string `json:"query"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		g.mu.Lock()
		tools := g.searchResults[req.Query]
		g.mu.Unlock()
		writeJSON(w, map[string]any{"result": tools})
	})
	mux.HandleFunc("POST /mcp/execute", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Session-ID") == "" {
			http.Error(w, "missing session", http.StatusUnauthorized)
			return
		}
		var req struct {
			ToolName string         `json:"tool_name"`
			Args     map[string]any `json:"args"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		writeJSON(w, map[string]any{"result": g.executeFunc(req.ToolName, req.Args)})
	})
	mux.HandleFunc("GET /mcp/tools", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"tools": g.tools})
	})
	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, g *fakeGateway) *Client {
	t.Helper()
	server := httptest.NewServer(g.handler())
	t.Cleanup(server.Close)
	return NewClient(server.URL)
}

func TestCreateSession(t *testing.T) {
	client := newTestClient(t, &fakeGateway{})

	id, err := client.CreateSession(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, id, client.SessionID())
}

func TestSearchToolsFound(t *testing.T) {
	g := &fakeGateway{
		searchResults: map[string][]any{
			"weather": {
				map[string]any{"name": "get_weather", "description": "Fetch a forecast"},
			},
		},
	}
	client := newTestClient(t, g)

	result, err := client.SearchTools(context.Background(), "weather")
	require.NoError(t, err)

	var tools []map[string]any
	require.NoError(t, json.Unmarshal([]byte(result), &tools))
	require.Len(t, tools, 1)
	assert.Equal(t, "get_weather", tools[0]["name"])
}

func TestSearchToolsNoneFound(t *testing.T) {
	client := newTestClient(t, &fakeGateway{})

	result, err := client.SearchTools(context.Background(), "time travel")
	require.NoError(t, err)
	assert.Equal(t, "No tools found for query: time travel", result)
}

func TestSearchAutoCreatesSession(t *testing.T) {
	g := &fakeGateway{}
	client := newTestClient(t, g)

	assert.Empty(t, client.SessionID())
	_, err := client.SearchTools(context.Background(), "anything")
	require.NoError(t, err)
	assert.NotEmpty(t, client.SessionID())
	assert.Equal(t, int32(1), atomic.LoadInt32(&g.sessionCount))
}

func TestConcurrentCallsShareOneSession(t *testing.T) {
	g := &fakeGateway{}
	client := newTestClient(t, g)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.SearchTools(context.Background(), "anything")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&g.sessionCount))
}

func TestExecuteToolExtractsContent(t *testing.T) {
	g := &fakeGateway{
		executeFunc: func(name string, args map[string]any) any {
			return `{"content": "42 degrees and sunny", "isError": false}`
		},
	}
	client := newTestClient(t, g)

	result, err := client.ExecuteTool(context.Background(), "get_weather", map[string]any{"city": "Oslo"})
	require.NoError(t, err)
	assert.Equal(t, "42 degrees and sunny", result)
}

func TestExecuteToolPlainStringResult(t *testing.T) {
	g := &fakeGateway{
		executeFunc: func(name string, args map[string]any) any {
			return "plain output"
		},
	}
	client := newTestClient(t, g)

	result, err := client.ExecuteTool(context.Background(), "bash_execute", map[string]any{"command": "true"})
	require.NoError(t, err)
	assert.Equal(t, "plain output", result)
}

func TestExecuteToolNonStringResult(t *testing.T) {
	g := &fakeGateway{
		executeFunc: func(name string, args map[string]any) any {
			return map[string]any{"exit_code": 0}
		},
	}
	client := newTestClient(t, g)

	result, err := client.ExecuteTool(context.Background(), "bash_execute", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"exit_code": 0}`, result)
}

func TestListTools(t *testing.T) {
	g := &fakeGateway{
		tools: []map[string]string{
			{"name": "bash_execute", "description": "Run a shell command"},
			{"name": "get_weather", "description": "Fetch a forecast"},
		},
	}
	client := newTestClient(t, g)

	result, err := client.ListTools(context.Background())
	require.NoError(t, err)
	assert.Contains(t, result, "Available tools (2):")
	assert.Contains(t, result, "- bash_execute: Run a shell command")
	assert.Contains(t, result, "- get_weather: Fetch a forecast")
}

func TestGatewayRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	_, err := client.CreateSession(context.Background())

	var rejected *RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, http.StatusForbidden, rejected.StatusCode)
}

func TestGatewayUnavailable(t *testing.T) {
	// Port 1 is never listening.
	client := NewClient("http://127.0.0.1:1")
	_, err := client.CreateSession(context.Background())
	assert.ErrorIs(t, err, ErrGatewayUnavailable)
}
