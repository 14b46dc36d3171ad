package fabric

import "encoding/json"

// decodeInto unmarshals an envelope's raw Data into dst. Fold treats a
// decode failure as "skip this event" rather than aborting the whole replay,
// since a single malformed historical row should not make the aggregate
// unfoldable.
func decodeInto(data json.RawMessage, dst any) error {
	return json.Unmarshal(data, dst)
}

// AggregateTypeThread is the aggregate_type discriminator for Agent Runtime
// events (§3 "Agent Events").
const AggregateTypeThread = "thread"

// --- Agent Events (§3) ---

// PromptedEvent is a human-supplied user turn.
type PromptedEvent struct {
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

func (PromptedEvent) EventType() string    { return "agent.prompted" }
func (PromptedEvent) EventVersion() string { return "v1" }

// CompletedEvent is a model response: assistant text plus zero or more tool
// invocations (§4.3.1 step 3-4).
type CompletedEvent struct {
	AssistantMessage string     `json:"assistant_message"`
	ToolCalls        []ToolCall `json:"tool_calls,omitempty"`
}

func (CompletedEvent) EventType() string    { return "agent.completed" }
func (CompletedEvent) EventVersion() string { return "v1" }

// ToolResultEvent is the result of one tool call.
type ToolResultEvent struct {
	CallID  string `json:"call_id"`
	Output  string `json:"output"`
	IsError bool   `json:"is_error"`
}

func (ToolResultEvent) EventType() string    { return "agent.tool_result" }
func (ToolResultEvent) EventVersion() string { return "v1" }

// FinishedEvent is the terminal marker for a thread aggregate (§3 invariant 5:
// appears at most once, always terminal).
type FinishedEvent struct{}

func (FinishedEvent) EventType() string    { return "agent.finished" }
func (FinishedEvent) EventVersion() string { return "v1" }

// --- Thread State (§3) ---

// PendingCall is an outstanding tool call awaiting a ToolResult.
type PendingCall struct {
	CallID string
	Name   string
	Args   []byte
}

// ThreadState is folded from Agent events (§3 "Thread State").
type ThreadState struct {
	Messages     []ChatMessage
	Pending      map[string]PendingCall // call_id -> pending call
	Results      map[string]ToolResultEvent
	Done         bool
	lastEventKey string // EventType of the newest envelope folded, for idempotency checks
}

// NewThreadState returns the zero Thread state (no events folded).
func NewThreadState() ThreadState {
	return ThreadState{
		Pending: make(map[string]PendingCall),
		Results: make(map[string]ToolResultEvent),
	}
}

// ThreadCommand is the union of inputs the Thread Handler accepts. Exactly
// one field is populated.
type ThreadCommand struct {
	Prompt      *PromptedEvent
	Complete    *CompletedEvent
	ResultEvent *ToolResultEvent
	Finish      bool
}

// ThreadHandler implements Handler[ThreadState, ThreadCommand] (§4.2, §4.3).
// process is a thin, order-preserving validator: every ThreadCommand maps
// 1:1 onto the Agent Event of the same name, so the interesting logic lives
// in Fold and in the workers' idempotency checks (§5), not in process itself.
type ThreadHandler struct{}

// Fold replays Agent events into ThreadState (§4.2 "fold(events) -> State").
func (ThreadHandler) Fold(events []Envelope) ThreadState {
	st := NewThreadState()
	for _, env := range events {
		st.lastEventKey = env.EventType
		switch env.EventType {
		case (PromptedEvent{}).EventType():
			var ev PromptedEvent
			if err := decodeInto(env.Data, &ev); err != nil {
				continue
			}
			st.Messages = append(st.Messages, ChatMessage{Role: "user", Content: ev.Text, Attachments: ev.Attachments})
		case (CompletedEvent{}).EventType():
			var ev CompletedEvent
			if err := decodeInto(env.Data, &ev); err != nil {
				continue
			}
			st.Messages = append(st.Messages, ChatMessage{Role: "assistant", Content: ev.AssistantMessage, ToolCalls: ev.ToolCalls})
			for _, tc := range ev.ToolCalls {
				st.Pending[tc.ID] = PendingCall{CallID: tc.ID, Name: tc.Name, Args: tc.Args}
			}
		case (ToolResultEvent{}).EventType():
			var ev ToolResultEvent
			if err := decodeInto(env.Data, &ev); err != nil {
				continue
			}
			st.Results[ev.CallID] = ev
			delete(st.Pending, ev.CallID)
			st.Messages = append(st.Messages, ToolResultMessage(ev.CallID, ev.Output))
		case (FinishedEvent{}).EventType():
			st.Done = true
		}
	}
	return st
}

// Process validates command against state and returns the single Agent
// Event it maps to. Per §4.3, actual decision-making (when to emit a
// Completed, whether tool calls are outstanding) is the calling worker's
// responsibility, since it alone has the LLM response or tool result in
// hand; process only enforces the aggregate's structural invariants.
func (ThreadHandler) Process(state ThreadState, command ThreadCommand) ([]Event, error) {
	if state.Done {
		return nil, &HandlerInvariantError{Reason: "thread already finished"}
	}
	switch {
	case command.Prompt != nil:
		return []Event{*command.Prompt}, nil
	case command.Complete != nil:
		if len(state.Pending) > 0 {
			return nil, &HandlerInvariantError{Reason: "cannot complete while tool calls are outstanding"}
		}
		return []Event{*command.Complete}, nil
	case command.ResultEvent != nil:
		if _, ok := state.Pending[command.ResultEvent.CallID]; !ok {
			if _, already := state.Results[command.ResultEvent.CallID]; already {
				return nil, &HandlerInvariantError{Reason: "duplicate tool result for call " + command.ResultEvent.CallID}
			}
			return nil, &HandlerInvariantError{Reason: "no pending call " + command.ResultEvent.CallID}
		}
		return []Event{*command.ResultEvent}, nil
	case command.Finish:
		return []Event{FinishedEvent{}}, nil
	default:
		return nil, &HandlerInvariantError{Reason: "empty ThreadCommand"}
	}
}

// AllResultsPresent reports whether every pending tool call from the newest
// Completed has a matching ToolResult — the LLM Worker's idempotency gate
// (§4.3.1 "Idempotency").
func (st ThreadState) AllResultsPresent() bool {
	return len(st.Pending) == 0
}

// AwaitingToolResults reports whether the newest folded event is a Completed
// still awaiting at least one ToolResult.
func (st ThreadState) AwaitingToolResults() bool {
	return st.lastEventKey == (CompletedEvent{}).EventType() && len(st.Pending) > 0
}
