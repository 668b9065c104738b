// Package prompt maps action kinds to prompt text.
//
// Defaults are embedded in the binary; a directory can override individual
// files and is hot-reloaded when watching is enabled.
package prompt

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/dagent-ai/dagent/pkg/action"
)

//go:embed prompts/*.md
var defaults embed.FS

// preambleFile holds the tool-description preamble the core agent prepends
// to every prompt it fetches.
const preambleFile = "bash_execute_tool_description.md"

var filenames = map[action.Kind]string{
	action.KindProcessUserInput:                "process_user_input.md",
	action.KindAgentResponse:                   "agent_response.md",
	action.KindAgentPlanning:                   "agent_planning.md",
	action.KindProcessAgentToolSearchResult:    "process_tool_search_result.md",
	action.KindProcessAgentToolExecutionResult: "process_tool_execution_result.md",
	action.KindStepSummary:                     "step_summary.md",
	action.KindUpdateTodoList:                  "update_todo_list.md",
	action.KindUpdateConversationState:         "update_conversation_state.md",
	action.KindUpdateConversationCompression:   "update_conversation_compression.md",
	action.KindUpdateBranchBacktrackSummary:    "update_branch_backtrack_summary.md",
}

// NoPromptForKindError reports a kind without a prompt file.
type NoPromptForKindError struct {
	Kind action.Kind
}

func (e *NoPromptForKindError) Error() string {
	return fmt.Sprintf("no prompt available for action kind: %s", e.Kind)
}

// Store resolves prompts by action kind. It is safe for concurrent use.
type Store struct {
	dir string

	mu    sync.RWMutex
	cache map[string]string
}

// Option configures a Store.
type Option func(*Store)

// WithDir overrides embedded defaults with files from dir. Missing files
// fall back to the embedded copies.
func WithDir(dir string) Option {
	return func(s *Store) {
		s.dir = dir
	}
}

// NewStore creates a prompt store.
func NewStore(opts ...Option) *Store {
	s := &Store{cache: make(map[string]string)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PromptFor returns the prompt text for the given action kind.
func (s *Store) PromptFor(kind action.Kind) (string, error) {
	name, ok := filenames[kind]
	if !ok {
		return "", &NoPromptForKindError{Kind: kind}
	}
	return s.read(name)
}

// ToolPreamble returns the tool-description preamble.
func (s *Store) ToolPreamble() (string, error) {
	return s.read(preambleFile)
}

func (s *Store) read(name string) (string, error) {
	s.mu.RLock()
	text, ok := s.cache[name]
	s.mu.RUnlock()
	if ok {
		return text, nil
	}

	raw, err := s.load(name)
	if err != nil {
		return "", err
	}
	text = strings.TrimRight(string(raw), "\n")

	s.mu.Lock()
	s.cache[name] = text
	s.mu.Unlock()
	return text, nil
}

func (s *Store) load(name string) ([]byte, error) {
	if s.dir != "" {
		raw, err := os.ReadFile(filepath.Join(s.dir, name))
		if err == nil {
			return raw, nil
		}
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read prompt %s: %w", name, err)
		}
	}
	raw, err := defaults.ReadFile("prompts/" + name)
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded prompt %s: %w", name, err)
	}
	return raw, nil
}

// Watch invalidates cached prompts when files under the override directory
// change. It blocks until ctx is done; a Store without a directory returns
// immediately.
func (s *Store) Watch(ctx context.Context) error {
	if s.dir == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create prompt watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(s.dir); err != nil {
		return fmt.Errorf("failed to watch prompt dir %s: %w", s.dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			name := filepath.Base(event.Name)
			s.mu.Lock()
			delete(s.cache, name)
			s.mu.Unlock()
			slog.Debug("Prompt reloaded", "file", name, "op", event.Op.String())
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("Prompt watcher error", "error", err)
		}
	}
}
