package memory

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dagent-ai/dagent/pkg/action"
)

func TestLinearAddAndRender(t *testing.T) {
	l := NewLinear()
	first := l.AddAction("hello", action.KindUserInput)
	second := l.AddAction("result", action.KindAgentToolSearch,
		WithActionParameters(map[string]any{"tool_search_query": "weather"}))

	assert.Equal(t, "0", first.ID)
	assert.Equal(t, "1", second.ID)
	assert.Equal(t, "weather", second.ToolSearchQuery)
	assert.Equal(t, "result", second.ToolResult)

	context := l.GetContext()
	assert.Contains(t, context, "USER INPUT: \n ")
	assert.Contains(t, context, "AGENT TOOL SEARCH: \n ")
}

func TestLinearRecentContext(t *testing.T) {
	l := NewLinear()
	l.AddAction("first", action.KindDefault)
	l.AddAction("second", action.KindDefault)
	l.AddAction("third", action.KindDefault)

	recent := l.GetRecentContext(2)
	assert.NotContains(t, recent, "first")
	assert.Contains(t, recent, "second")
	assert.Contains(t, recent, "third")
}

func TestLinearClear(t *testing.T) {
	l := NewLinear()
	l.AddAction("first", action.KindDefault)
	l.Clear()
	assert.Empty(t, l.GetContext())
	assert.Equal(t, "0", l.AddAction("fresh", action.KindDefault).ID)
}

func TestWriteTranscript(t *testing.T) {
	l := NewLinear()
	l.AddAction("remember me", action.KindUserInput)

	dir := t.TempDir()
	path, err := WriteTranscript(l, dir)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "remember me")
	assert.Regexp(t, `agent_context_\d{8}_\d{6}\.txt$`, path)
}
