package fabric

import "context"

// Provider abstracts the LLM capability (§6 "LLM Capability"). The
// HTTP/SSE protocol to a specific model provider is out of scope per §1 —
// implementations are pluggable and expected to be stateless between calls.
type Provider interface {
	// Chat sends a request and returns a complete response.
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	// ChatWithTools sends a request with tool definitions; the response may
	// contain zero or more tool calls (§4.3.1 step 3).
	ChatWithTools(ctx context.Context, req ChatRequest, tools []ToolDefinition) (ChatResponse, error)
	// ChatStream streams incremental events into ch, then returns the final
	// response with usage stats. ch is always closed before returning.
	ChatStream(ctx context.Context, req ChatRequest, ch chan<- StreamEvent) (ChatResponse, error)
	// Name returns the provider name (e.g. "anthropic", "bedrock").
	Name() string
}
