package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dagent-ai/dagent/pkg/action"
	"github.com/dagent-ai/dagent/pkg/memory"
	"github.com/dagent-ai/dagent/pkg/prompt"
)

// promptKeyedModel answers based on which update prompt it was given.
type promptKeyedModel struct {
	mu        sync.Mutex
	responses map[action.Kind]string
	prompts   *prompt.Store
	calls     map[action.Kind]int
}

func newPromptKeyedModel(store *prompt.Store, responses map[action.Kind]string) *promptKeyedModel {
	return &promptKeyedModel{
		responses: responses,
		prompts:   store,
		calls:     make(map[action.Kind]int),
	}
}

func (m *promptKeyedModel) Generate(_ context.Context, _, system string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for kind, response := range m.responses {
		text, err := m.prompts.PromptFor(kind)
		if err != nil {
			continue
		}
		if system == text {
			m.calls[kind]++
			return response, nil
		}
	}
	return `{"response": "unmatched"}`, nil
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition never met")
}

func TestMemoryAgentUpdatesDerivedFields(t *testing.T) {
	store := prompt.NewStore()
	model := newPromptKeyedModel(store, map[action.Kind]string{
		action.KindUpdateTodoList:                `{"response": "1. answer the greeting"}`,
		action.KindUpdateConversationState:       `{"response": "{\"topic\": \"greeting\"}"}`,
		action.KindUpdateConversationCompression: `{"response": "User said hello."}`,
	})
	dag := memory.NewDAG()
	_, err := dag.AddAction("hello", action.KindUserInput)
	require.NoError(t, err)

	m := NewMemoryAgent(dag, model, store, WithTick(20*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	waitFor(t, 2*time.Second, func() bool {
		todo, _ := dag.GetTodoList("")
		state, _ := dag.GetConversationState("")
		compression, _ := dag.GetConversationCompression("")
		return todo != nil && state != nil && compression != nil
	})

	todo, err := dag.GetTodoList("")
	require.NoError(t, err)
	assert.Equal(t, "1. answer the greeting", *todo)
	state, err := dag.GetConversationState("")
	require.NoError(t, err)
	assert.JSONEq(t, `{"topic": "greeting"}`, *state)
}

func TestMemoryAgentSkipsEmptyDAG(t *testing.T) {
	store := prompt.NewStore()
	model := newPromptKeyedModel(store, nil)
	m := NewMemoryAgent(memory.NewDAG(), model, store, WithTick(10*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	m.Run(ctx)

	assert.Empty(t, model.calls)
}

func TestMemoryAgentStopsWhenCoreStops(t *testing.T) {
	store := prompt.NewStore()
	model := newPromptKeyedModel(store, nil)
	m := NewMemoryAgent(memory.NewDAG(), model, store,
		WithTick(10*time.Millisecond),
		WithRunningCheck(func() bool { return false }))

	done := make(chan struct{})
	go func() {
		m.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("memory agent did not stop")
	}
}

func TestMemoryAgentConversationStateFormatRetries(t *testing.T) {
	// Conversation state must parse as a JSON object; plain prose is
	// rejected on every attempt and the field stays unset.
	store := prompt.NewStore()
	model := newPromptKeyedModel(store, map[action.Kind]string{
		action.KindUpdateConversationState: `{"response": "not an object"}`,
	})
	dag := memory.NewDAG()
	_, err := dag.AddAction("hello", action.KindUserInput)
	require.NoError(t, err)

	m := NewMemoryAgent(dag, model, store, WithTick(20*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	waitFor(t, 2*time.Second, func() bool {
		model.mu.Lock()
		defer model.mu.Unlock()
		return model.calls[action.KindUpdateConversationState] >= ActionMaxRetries+1
	})

	state, err := dag.GetConversationState("")
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestUpdateBranchBacktrackSummary(t *testing.T) {
	store := prompt.NewStore()
	model := newPromptKeyedModel(store, map[action.Kind]string{
		action.KindUpdateBranchBacktrackSummary: `{"response": "Tried searching, dead end."}`,
	})
	dag := memory.NewDAG()
	first, err := dag.AddAction("hello", action.KindUserInput)
	require.NoError(t, err)
	_, err = dag.AddAction("dead end", action.KindDefault)
	require.NoError(t, err)
	require.NoError(t, dag.Backtrack(first.NodeID, "wrong path"))

	m := NewMemoryAgent(dag, model, store)
	require.NoError(t, m.UpdateBranchBacktrackSummary(context.Background(), first.NodeID))

	summary, err := dag.GetBranchBacktrackSummary(first.NodeID)
	require.NoError(t, err)
	require.NotNil(t, summary)
	assert.Equal(t, "Tried searching, dead end.", *summary)
}
