package fabric

import "fmt"

// StorageError wraps a write/read failure in the Event Store (§7).
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage: %s: %v", e.Op, e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }

// DuplicateError is returned by PushEvent when a concurrent writer won the
// sequence race for the same (stream, aggregate type, aggregate id). The
// caller should retry with a freshly folded state.
type DuplicateError struct {
	StreamID      string
	AggregateType string
	AggregateID   string
	Sequence      int64
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("storage: duplicate sequence %d for %s/%s/%s", e.Sequence, e.StreamID, e.AggregateType, e.AggregateID)
}

// DecodeError is returned when a stored payload fails to deserialize.
type DecodeError struct {
	EventType    string
	EventVersion string
	Reason       string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode: %s@%s: %s", e.EventType, e.EventVersion, e.Reason)
}

// LaggedError signals a subscription's bounded buffer overflowed and one or
// more deliveries were dropped. The consumer should LoadEvents to catch up.
type LaggedError struct {
	Query Query
	Since int64
}

func (e *LaggedError) Error() string {
	return fmt.Sprintf("subscription lagged for stream %q since sequence %d", e.Query.StreamID, e.Since)
}

// ToolValidationError is surfaced as a ToolResult{IsError:true}, never
// propagated to the caller (§7).
type ToolValidationError struct {
	Tool   string
	Reason string
}

func (e *ToolValidationError) Error() string {
	return fmt.Sprintf("tool %q: invalid arguments: %s", e.Tool, e.Reason)
}

// ToolRuntimeError is surfaced as a ToolResult{IsError:true}, never
// propagated to the caller (§7).
type ToolRuntimeError struct {
	Tool string
	Err  error
}

func (e *ToolRuntimeError) Error() string { return fmt.Sprintf("tool %q: %v", e.Tool, e.Err) }
func (e *ToolRuntimeError) Unwrap() error { return e.Err }

// LLMError reports a failed or malformed LLM call, after the configured
// retry budget (§7, §F.6.1) has been exhausted.
type LLMError struct {
	Provider string
	Err      error
}

func (e *LLMError) Error() string { return fmt.Sprintf("llm: %s: %v", e.Provider, e.Err) }
func (e *LLMError) Unwrap() error { return e.Err }

// TimeoutError reports the runner's deadline expiring (§5 "Timeouts").
type TimeoutError struct {
	Activity string
	Timeout  string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout: %s exceeded %s", e.Activity, e.Timeout)
}

// HandlerInvariantError is returned by a Handler's process function when a
// command is inconsistent with the folded state (e.g. referencing a task id
// that does not exist).
type HandlerInvariantError struct {
	Reason string
}

func (e *HandlerInvariantError) Error() string { return fmt.Sprintf("invariant violated: %s", e.Reason) }
