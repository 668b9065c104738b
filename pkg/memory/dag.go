// Package memory implements the append-only action DAG the agent records
// its history into, plus the derived per-node memories the memory agent
// refreshes in the background.
//
// The DAG is never pruned. Growth is linear by default (each new node hangs
// off HEAD) but callers may supply an explicit parent to branch, and HEAD
// can be moved back to any node to abandon a branch.
package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dagent-ai/dagent/pkg/action"
)

var (
	// ErrNotesRequired indicates a backtrack without explanatory notes.
	ErrNotesRequired = errors.New("backtrack notes are required")

	// ErrCycleDetected indicates a parent chain that loops.
	ErrCycleDetected = errors.New("cycle detected in DAG traversal")

	// ErrNoMemoryOnStepNode indicates a derived-memory write against a
	// step-boundary node, which carries no NodeMemory.
	ErrNoMemoryOnStepNode = errors.New("step-boundary node has no memory")
)

// NodeNotFoundError reports a lookup for an unknown node id.
type NodeNotFoundError struct {
	ID string
}

func (e *NodeNotFoundError) Error() string {
	return fmt.Sprintf("node %s not found", e.ID)
}

// UnreachableNodeError reports a walk that never arrived at its target.
type UnreachableNodeError struct {
	Start string
	End   string
}

func (e *UnreachableNodeError) Error() string {
	return fmt.Sprintf("node %s is not reachable from %s", e.End, e.Start)
}

// MemoryField names one of the four derived memories.
type MemoryField string

const (
	FieldTodoList                MemoryField = "todo_list"
	FieldConversationState       MemoryField = "conversation_state"
	FieldBranchBacktrackSummary  MemoryField = "branch_backtrack_summary"
	FieldConversationCompression MemoryField = "conversation_compression"
)

// NodeMemoryEntry is one snapshot in a node's derived-memory history. Every
// entry carries the current value of all four fields; an update copies the
// previous entry's untouched fields forward, so the latest entry is always
// the complete picture.
type NodeMemoryEntry struct {
	UpdatedField MemoryField `json:"updated_field"`
	Timestamp    time.Time   `json:"timestamp"`

	TodoList                *string `json:"todo_list"`
	ConversationState       *string `json:"conversation_state"`
	BranchBacktrackSummary  *string `json:"branch_backtrack_summary"`
	ConversationCompression *string `json:"conversation_compression"`
}

// NodeMemory is the append-only derived-memory history of a node.
type NodeMemory struct {
	Entries []NodeMemoryEntry `json:"entries"`
}

func (m *NodeMemory) latest() *NodeMemoryEntry {
	if m == nil || len(m.Entries) == 0 {
		return nil
	}
	return &m.Entries[len(m.Entries)-1]
}

// ActionNode is a DAG node owning exactly one Action.
type ActionNode struct {
	NodeID      string
	ParentID    string
	ChildrenIDs []string

	Action action.Action

	// StepBoundary marks the STEP_SUMMARY node closing a step. Boundary
	// nodes carry the summary text and no NodeMemory.
	StepBoundary bool
	StepSummary  string
	Memory       *NodeMemory
}

// DAG is the in-memory action graph. All operations are safe for
// concurrent use.
type DAG struct {
	mu sync.RWMutex

	nodes     map[string]*ActionNode
	rootID    string
	currentID string
}

// NewDAG creates an empty DAG.
func NewDAG() *DAG {
	return &DAG{nodes: make(map[string]*ActionNode)}
}

// ============================================================================
// APPEND
// ============================================================================

type addOptions struct {
	parentID         string
	toolName         string
	toolArgs         map[string]any
	metadata         map[string]any
	actionParameters map[string]any
	toolSearchQuery  string
	seed             *NodeMemoryEntry
}

// AddOption configures AddAction.
type AddOption func(*addOptions)

// WithParent hangs the new node under an explicit parent instead of HEAD.
func WithParent(parentID string) AddOption {
	return func(o *addOptions) { o.parentID = parentID }
}

// WithToolCall records the tool name and arguments on the action.
func WithToolCall(name string, args map[string]any) AddOption {
	return func(o *addOptions) {
		o.toolName = name
		o.toolArgs = args
	}
}

// WithMetadata attaches free-form metadata to the action.
func WithMetadata(metadata map[string]any) AddOption {
	return func(o *addOptions) { o.metadata = metadata }
}

// WithActionParameters echoes the model's proposed parameters.
func WithActionParameters(params map[string]any) AddOption {
	return func(o *addOptions) { o.actionParameters = params }
}

// WithToolSearchQuery records the search query on the action.
func WithToolSearchQuery(query string) AddOption {
	return func(o *addOptions) { o.toolSearchQuery = query }
}

// WithSeedMemory seeds the node's first NodeMemory entry instead of the
// default all-nil entry. Ignored for step-boundary nodes.
func WithSeedMemory(entry NodeMemoryEntry) AddOption {
	return func(o *addOptions) { o.seed = &entry }
}

// AddAction appends an action to the DAG and moves HEAD to the new node.
// The action id is the insertion count at creation time. STEP_SUMMARY
// actions become step-boundary nodes with no NodeMemory; every other kind
// gets a NodeMemory with one initial entry.
func (d *DAG) AddAction(content string, kind action.Kind, opts ...AddOption) (*ActionNode, error) {
	var o addOptions
	for _, opt := range opts {
		opt(&o)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	parentID := o.parentID
	if parentID == "" {
		parentID = d.currentID
	} else if _, ok := d.nodes[parentID]; !ok {
		return nil, &NodeNotFoundError{ID: parentID}
	}

	// Tool transitions carry their call details in action_parameters;
	// lift them into the dedicated fields and mirror the result.
	toolName, toolArgs := o.toolName, o.toolArgs
	toolSearchQuery, toolResult := o.toolSearchQuery, ""
	switch kind {
	case action.KindAgentToolSearch:
		if q, ok := o.actionParameters["tool_search_query"].(string); ok {
			toolSearchQuery = q
		}
		toolResult = content
	case action.KindAgentToolExecution:
		if n, ok := o.actionParameters["tool_name"].(string); ok {
			toolName = n
		}
		if a, ok := o.actionParameters["tool_args"].(map[string]any); ok {
			toolArgs = a
		}
		toolResult = content
	}

	metadata := o.metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	actionParameters := o.actionParameters
	if actionParameters == nil {
		actionParameters = map[string]any{}
	}

	act := action.Action{
		ID:               strconv.Itoa(len(d.nodes)),
		Kind:             kind,
		Timestamp:        time.Now(),
		Content:          content,
		ToolName:         toolName,
		ToolArgs:         toolArgs,
		ToolResult:       toolResult,
		Metadata:         metadata,
		ActionParameters: actionParameters,
		ToolSearchQuery:  toolSearchQuery,
	}

	node := &ActionNode{
		NodeID:   uuid.NewString(),
		ParentID: parentID,
		Action:   act,
	}
	if kind == action.KindStepSummary {
		node.StepBoundary = true
		node.StepSummary = content
	} else {
		entry := NodeMemoryEntry{Timestamp: act.Timestamp}
		if o.seed != nil {
			entry = *o.seed
			entry.Timestamp = act.Timestamp
		}
		node.Memory = &NodeMemory{Entries: []NodeMemoryEntry{entry}}
	}

	d.nodes[node.NodeID] = node
	if d.rootID == "" {
		d.rootID = node.NodeID
	}
	if parent, ok := d.nodes[parentID]; ok {
		parent.ChildrenIDs = append(parent.ChildrenIDs, node.NodeID)
	}
	d.currentID = node.NodeID
	return node, nil
}

// UpdateNode overwrites a node's action and optionally appends memory
// entries.
func (d *DAG) UpdateNode(nodeID string, act action.Action, entries ...NodeMemoryEntry) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	node, ok := d.nodes[nodeID]
	if !ok {
		return &NodeNotFoundError{ID: nodeID}
	}
	node.Action = act
	if len(entries) > 0 {
		if node.Memory == nil {
			return fmt.Errorf("%w: %s", ErrNoMemoryOnStepNode, nodeID)
		}
		node.Memory.Entries = append(node.Memory.Entries, entries...)
	}
	return nil
}

// ============================================================================
// DERIVED MEMORIES
// ============================================================================

// SetTodoList appends a todo-list update to the node's memory. An empty
// nodeID targets HEAD.
func (d *DAG) SetTodoList(nodeID, value string) error {
	return d.setMemoryField(nodeID, FieldTodoList, value)
}

// SetConversationState appends a conversation-state update to the node's
// memory. An empty nodeID targets HEAD.
func (d *DAG) SetConversationState(nodeID, value string) error {
	return d.setMemoryField(nodeID, FieldConversationState, value)
}

// SetBranchBacktrackSummary appends a branch-backtrack summary to the
// node's memory. An empty nodeID targets HEAD.
func (d *DAG) SetBranchBacktrackSummary(nodeID, value string) error {
	return d.setMemoryField(nodeID, FieldBranchBacktrackSummary, value)
}

// SetConversationCompression appends a compressed-conversation update to
// the node's memory. An empty nodeID targets HEAD.
func (d *DAG) SetConversationCompression(nodeID, value string) error {
	return d.setMemoryField(nodeID, FieldConversationCompression, value)
}

func (d *DAG) setMemoryField(nodeID string, field MemoryField, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	node, err := d.resolveLocked(nodeID)
	if err != nil {
		return err
	}
	if node.Memory == nil {
		return fmt.Errorf("%w: %s", ErrNoMemoryOnStepNode, node.NodeID)
	}

	entry := NodeMemoryEntry{UpdatedField: field, Timestamp: time.Now()}
	if prev := node.Memory.latest(); prev != nil {
		entry.TodoList = prev.TodoList
		entry.ConversationState = prev.ConversationState
		entry.BranchBacktrackSummary = prev.BranchBacktrackSummary
		entry.ConversationCompression = prev.ConversationCompression
	}
	switch field {
	case FieldTodoList:
		entry.TodoList = &value
	case FieldConversationState:
		entry.ConversationState = &value
	case FieldBranchBacktrackSummary:
		entry.BranchBacktrackSummary = &value
	case FieldConversationCompression:
		entry.ConversationCompression = &value
	}
	node.Memory.Entries = append(node.Memory.Entries, entry)
	return nil
}

// GetTodoList returns the latest todo list on the node, or nil if never
// set. An empty nodeID targets HEAD.
func (d *DAG) GetTodoList(nodeID string) (*string, error) {
	return d.memoryField(nodeID, FieldTodoList)
}

// GetConversationState returns the latest conversation state on the node,
// or nil if never set. An empty nodeID targets HEAD.
func (d *DAG) GetConversationState(nodeID string) (*string, error) {
	return d.memoryField(nodeID, FieldConversationState)
}

// GetBranchBacktrackSummary returns the latest branch-backtrack summary on
// the node, or nil if never set. An empty nodeID targets HEAD.
func (d *DAG) GetBranchBacktrackSummary(nodeID string) (*string, error) {
	return d.memoryField(nodeID, FieldBranchBacktrackSummary)
}

// GetConversationCompression returns the latest compressed conversation on
// the node, or nil if never set. An empty nodeID targets HEAD.
func (d *DAG) GetConversationCompression(nodeID string) (*string, error) {
	return d.memoryField(nodeID, FieldConversationCompression)
}

func (d *DAG) memoryField(nodeID string, field MemoryField) (*string, error) {
	entry, err := d.GetCurrentNodeMemory(nodeID)
	if err != nil || entry == nil {
		return nil, err
	}
	switch field {
	case FieldTodoList:
		return entry.TodoList, nil
	case FieldConversationState:
		return entry.ConversationState, nil
	case FieldBranchBacktrackSummary:
		return entry.BranchBacktrackSummary, nil
	case FieldConversationCompression:
		return entry.ConversationCompression, nil
	}
	return nil, nil
}

// GetCurrentNodeMemory returns the latest memory snapshot on the node, or
// nil when the node has no memory entries. An empty nodeID targets HEAD.
func (d *DAG) GetCurrentNodeMemory(nodeID string) (*NodeMemoryEntry, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	node, err := d.resolveLocked(nodeID)
	if err != nil {
		return nil, err
	}
	latest := node.Memory.latest()
	if latest == nil {
		return nil, nil
	}
	snapshot := *latest
	return &snapshot, nil
}

// ============================================================================
// TRAVERSAL
// ============================================================================

// RootID returns the root node id, or empty if the DAG is empty.
func (d *DAG) RootID() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.rootID
}

// CurrentID returns the HEAD node id, or empty if the DAG is empty.
func (d *DAG) CurrentID() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.currentID
}

// GetNodeByID returns the node with the given id.
func (d *DAG) GetNodeByID(nodeID string) (*ActionNode, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	node, ok := d.nodes[nodeID]
	if !ok {
		return nil, &NodeNotFoundError{ID: nodeID}
	}
	return node, nil
}

// GetPathToRoot returns the ancestor ids of the given node, nearest parent
// first and root last. The node itself is not included.
func (d *DAG) GetPathToRoot(nodeID string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.pathToRootLocked(nodeID)
}

func (d *DAG) pathToRootLocked(nodeID string) ([]string, error) {
	node, ok := d.nodes[nodeID]
	if !ok {
		return nil, &NodeNotFoundError{ID: nodeID}
	}
	var path []string
	for node.ParentID != "" {
		path = append(path, node.ParentID)
		parent, ok := d.nodes[node.ParentID]
		if !ok {
			return nil, &NodeNotFoundError{ID: node.ParentID}
		}
		node = parent
	}
	return path, nil
}

// GetAllBranchNodeIDs returns the ids of nodes with two or more children.
func (d *DAG) GetAllBranchNodeIDs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var branches []string
	for id, node := range d.nodes {
		if len(node.ChildrenIDs) > 1 {
			branches = append(branches, id)
		}
	}
	return branches
}

// GetAllLeafNodeIDs returns the ids of nodes with no children.
func (d *DAG) GetAllLeafNodeIDs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var leaves []string
	for id, node := range d.nodes {
		if len(node.ChildrenIDs) == 0 {
			leaves = append(leaves, id)
		}
	}
	return leaves
}

// GetStepNodes returns every step-boundary node.
func (d *DAG) GetStepNodes() []*ActionNode {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var steps []*ActionNode
	for _, node := range d.nodes {
		if node.StepBoundary {
			steps = append(steps, node)
		}
	}
	return steps
}

// GetActionsForStep walks backward from the step node to the root and
// returns the actions in forward order.
func (d *DAG) GetActionsForStep(stepID string) ([]action.Action, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	node, ok := d.nodes[stepID]
	if !ok {
		return nil, &NodeNotFoundError{ID: stepID}
	}

	var actions []action.Action
	visited := make(map[string]bool)
	for {
		if visited[node.NodeID] {
			return nil, ErrCycleDetected
		}
		visited[node.NodeID] = true
		actions = append(actions, node.Action)
		if node.ParentID == "" {
			break
		}
		parent, ok := d.nodes[node.ParentID]
		if !ok {
			return nil, &NodeNotFoundError{ID: node.ParentID}
		}
		node = parent
	}

	for i, j := 0, len(actions)-1; i < j; i, j = i+1, j-1 {
		actions[i], actions[j] = actions[j], actions[i]
	}
	return actions, nil
}

// SetCurrentNode moves HEAD to the given node; checkout semantics.
func (d *DAG) SetCurrentNode(nodeID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.nodes[nodeID]; !ok {
		return &NodeNotFoundError{ID: nodeID}
	}
	d.currentID = nodeID
	return nil
}

// Backtrack rewinds HEAD to an earlier node, recording why in the target
// action's metadata. Notes are mandatory so abandoned branches stay
// explainable.
func (d *DAG) Backtrack(nodeID, notes string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	node, ok := d.nodes[nodeID]
	if !ok {
		return &NodeNotFoundError{ID: nodeID}
	}
	if notes == "" {
		return ErrNotesRequired
	}
	if node.Action.Metadata == nil {
		node.Action.Metadata = map[string]any{}
	}
	node.Action.Metadata["notes"] = notes
	d.currentID = nodeID
	return nil
}

// ============================================================================
// RENDERING
// ============================================================================

// GetContextBetweenNodes walks parents from start until end and returns
// the rendered actions in root-to-start order, joined by newlines. The
// walk rejects cycles and unreachable targets.
func (d *DAG) GetContextBetweenNodes(startID, endID string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.contextBetweenLocked(startID, endID)
}

func (d *DAG) contextBetweenLocked(startID, endID string) (string, error) {
	node, ok := d.nodes[startID]
	if !ok {
		return "", &NodeNotFoundError{ID: startID}
	}
	if _, ok := d.nodes[endID]; !ok {
		return "", &NodeNotFoundError{ID: endID}
	}

	var actions []action.Action
	visited := make(map[string]bool)
	for node.NodeID != endID {
		if visited[node.NodeID] {
			return "", ErrCycleDetected
		}
		visited[node.NodeID] = true
		actions = append(actions, node.Action)

		if node.ParentID == "" {
			return "", &UnreachableNodeError{Start: startID, End: endID}
		}
		parent, ok := d.nodes[node.ParentID]
		if !ok {
			return "", &NodeNotFoundError{ID: node.ParentID}
		}
		node = parent
	}
	actions = append(actions, node.Action)

	rendered := make([]string, 0, len(actions))
	for i := len(actions) - 1; i >= 0; i-- {
		rendered = append(rendered, FormatAction(actions[i]))
	}
	return strings.Join(rendered, "\n"), nil
}

// GetCurrentContext renders the full HEAD-to-root history, root first.
func (d *DAG) GetCurrentContext() string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.currentID == "" || d.rootID == "" {
		return ""
	}
	context, err := d.contextBetweenLocked(d.currentID, d.rootID)
	if err != nil {
		return ""
	}
	return context
}

// GetContext renders the full context; alias of GetCurrentContext.
func (d *DAG) GetContext() string {
	return d.GetCurrentContext()
}

// GetRecentContext renders a window of at most maxActions recent actions
// ending at HEAD, clamped to the root.
func (d *DAG) GetRecentContext(maxActions int) string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.currentID == "" || d.rootID == "" || maxActions <= 0 {
		return ""
	}
	path, err := d.pathToRootLocked(d.currentID)
	if err != nil {
		return ""
	}

	endID := d.currentID
	if ancestors := maxActions - 1; ancestors > 0 && len(path) > 0 {
		if ancestors > len(path) {
			ancestors = len(path)
		}
		endID = path[ancestors-1]
	}
	context, err := d.contextBetweenLocked(d.currentID, endID)
	if err != nil {
		return ""
	}
	return context
}

// ============================================================================
// COUNTERS
// ============================================================================

// GetConversationLength returns the numeric id of the HEAD action, or -1
// when the DAG is empty.
func (d *DAG) GetConversationLength() int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	node, ok := d.nodes[d.currentID]
	if !ok {
		return -1
	}
	n, err := strconv.Atoi(node.Action.ID)
	if err != nil {
		return -1
	}
	return n
}

// GetBranchLength returns the number of nodes on the HEAD-to-root path,
// HEAD included.
func (d *DAG) GetBranchLength() int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.currentID == "" {
		return 0
	}
	path, err := d.pathToRootLocked(d.currentID)
	if err != nil {
		return 0
	}
	return len(path) + 1
}

// GetStepCount returns the number of step-boundary nodes.
func (d *DAG) GetStepCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	count := 0
	for _, node := range d.nodes {
		if node.StepBoundary {
			count++
		}
	}
	return count
}

// Size returns the total number of nodes.
func (d *DAG) Size() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.nodes)
}

// Clear resets the DAG to empty.
func (d *DAG) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nodes = make(map[string]*ActionNode)
	d.rootID = ""
	d.currentID = ""
}

func (d *DAG) resolveLocked(nodeID string) (*ActionNode, error) {
	if nodeID == "" {
		nodeID = d.currentID
	}
	node, ok := d.nodes[nodeID]
	if !ok {
		return nil, &NodeNotFoundError{ID: nodeID}
	}
	return node, nil
}

// FormatAction renders one action for context display: a timestamped kind
// header followed by the indented action JSON.
func FormatAction(a action.Action) string {
	name := strings.ToUpper(strings.ReplaceAll(string(a.Kind), "_", " "))
	encoded, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		encoded = []byte(fmt.Sprintf("%+v", a))
	}
	return fmt.Sprintf("[%s] %s: \n %s", a.Timestamp.Format("15:04:05"), name, encoded)
}
