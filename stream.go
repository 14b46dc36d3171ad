package fabric

import "encoding/json"

// StreamEventType identifies the kind of streaming event a Provider emits
// while a ChatStream call is in flight.
type StreamEventType string

const (
	// EventTextDelta carries an incremental text chunk from the LLM.
	EventTextDelta StreamEventType = "text-delta"
	// EventToolCallStart signals the model has decided to invoke a tool.
	EventToolCallStart StreamEventType = "tool-call-start"
)

// StreamEvent is a typed event emitted by Provider.ChatStream.
type StreamEvent struct {
	// Type identifies the event kind.
	Type StreamEventType `json:"type"`
	// Name is the tool name (set for tool-call-start, empty for text-delta).
	Name string `json:"name,omitempty"`
	// Content carries the text delta (text-delta only).
	Content string `json:"content,omitempty"`
	// Args carries the tool call arguments (tool-call-start only).
	Args json.RawMessage `json:"args,omitempty"`
}
