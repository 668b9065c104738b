// Package dagent is a tool-using conversational agent runtime.
//
// An agent session is a bounded loop over typed actions: the reasoning
// model proposes the next action, a transition table validates it, and
// tool search and execution go through an MCP tool gateway over HTTP.
// Every action is appended to a branchable DAG memory whose nodes carry
// derived memories (todo list, conversation state, compression) refreshed
// by a concurrent background memory agent.
//
// # Quick Start
//
// Install dagent:
//
//	go install github.com/dagent-ai/dagent/cmd/dagent@latest
//
// Start a chat session against a local tool gateway:
//
//	export GEMINI_API_KEY=...
//	dagent chat --gateway-url http://localhost:8080
//
// Or configure it with a YAML file:
//
//	llm:
//	  provider: gemini
//	  model: gemini-2.5-pro
//	gateway:
//	  base_url: http://localhost:8080
//
//	dagent chat --config config.yaml
//
// The packages under pkg/ are usable as a library: pkg/agent holds the
// action loop and the memory agent, pkg/memory the DAG, pkg/gateway the
// tool gateway client, pkg/llms the model providers.
package dagent
