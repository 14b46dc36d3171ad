package fabric

import (
	"context"
	"log/slog"
)

// doneToolName is the distinguished tool invocation the LLM Worker treats as
// a terminal signal when the assistant message carries no other tool calls
// (§4.3.1 step 5, §4.6 "a built-in done tool exists by convention").
const doneToolName = "done"

// AgentRuntimeConfig wires the three Agent Runtime workers (§4.3) to one
// thread aggregate.
type AgentRuntimeConfig struct {
	Store       EventStore
	StreamID    string
	AggregateID string
	Provider    Provider
	Tools       *ToolRegistry
	Sandboxes   *sandboxRegistry
	Factory     SandboxFactory
	TemplateDir string
	Dockerfile  string
	ExportDir   string
	Logger      *slog.Logger
	// SystemPreamble is prepended to every LLM request (§4.3.1 step 2).
	SystemPreamble string
}

func (c AgentRuntimeConfig) query() Query {
	return Query{StreamID: c.StreamID, AggregateID: c.AggregateID, EventType: ""}
}

func (c AgentRuntimeConfig) logger() *slog.Logger {
	if c.Logger == nil {
		return nopLogger
	}
	return c.Logger
}

// SpawnAgentRuntime launches the LLM Worker, Tool Worker, and Finish Worker
// for one aggregate (§5 "typically three per active aggregate") and returns
// their handles. Each runs until it observes Finished, its subscription
// errors terminally, or ctx is cancelled.
func SpawnAgentRuntime(ctx context.Context, cfg AgentRuntimeConfig) (llm, tool, finish *WorkerHandle) {
	if cfg.Sandboxes == nil {
		cfg.Sandboxes = newSandboxRegistry()
	}
	llm = SpawnWorker(ctx, llmWorkerLoop(cfg), WorkerName("llm-worker"), WorkerLogger(cfg.logger()))
	tool = SpawnWorker(ctx, toolWorkerLoop(cfg), WorkerName("tool-worker"), WorkerLogger(cfg.logger()))
	finish = SpawnWorker(ctx, finishWorkerLoop(cfg), WorkerName("finish-worker"), WorkerLogger(cfg.logger()))
	return llm, tool, finish
}

// llmWorkerLoop implements §4.3.1. It subscribes to Prompted and ToolResult
// events; on each delivery it folds the full history and, if the
// idempotency gate allows, issues one LLM completion and emits exactly one
// Completed (plus Finished, when the model signals done). It returns once it
// observes Finished.
func llmWorkerLoop(cfg AgentRuntimeConfig) WorkerFunc {
	return func(ctx context.Context) error {
		logger := cfg.logger()
		sub, err := cfg.Store.Subscribe(ctx, cfg.query())
		if err != nil {
			return err
		}
		defer sub.Close()

		for {
			select {
			case <-ctx.Done():
				return nil
			case d, ok := <-sub.Deliveries():
				if !ok {
					return nil
				}
				if d.Err != nil {
					logger.Warn("llm-worker: subscription delivery error", "error", d.Err)
					continue
				}
				if d.Envelope.EventType == (FinishedEvent{}).EventType() {
					return nil
				}
				if d.Envelope.EventType != (PromptedEvent{}).EventType() && d.Envelope.EventType != (ToolResultEvent{}).EventType() {
					continue
				}
				if err := runLLMStep(ctx, cfg); err != nil {
					logger.Warn("llm-worker: step failed", "error", err)
				}
			}
		}
	}
}

// runLLMStep folds state, applies the idempotency gate, and — if clear to
// act — performs one LLM completion and appends the resulting event(s).
func runLLMStep(ctx context.Context, cfg AgentRuntimeConfig) error {
	h := ThreadHandler{}
	state, _, err := LoadAndFold(ctx, cfg.Store, cfg.query(), h)
	if err != nil {
		return err
	}
	if state.Done {
		return nil
	}
	// Idempotency gate (§4.3.1 "Idempotency"): act only when every tool call
	// of the newest Completed already has a matching ToolResult, which also
	// holds when the newest event is a Prompted after a settled turn.
	if !state.AllResultsPresent() {
		return nil
	}

	req := ChatRequest{Messages: append([]ChatMessage{SystemMessage(cfg.SystemPreamble)}, state.Messages...)}
	resp, err := cfg.Provider.ChatWithTools(ctx, req, cfg.Tools.Definitions())
	if ctx.Err() != nil {
		// Cancelled mid-call: emit nothing, per §5 "Cancellation".
		return nil
	}
	if err != nil {
		return &LLMError{Provider: cfg.Provider.Name(), Err: err}
	}

	events, err := h.Process(state, ThreadCommand{Complete: &CompletedEvent{AssistantMessage: resp.Content, ToolCalls: resp.ToolCalls}})
	if err != nil {
		return err
	}
	if err := pushAll(ctx, cfg, events); err != nil {
		return err
	}

	if isDoneSignal(resp) {
		return pushAll(ctx, cfg, []Event{FinishedEvent{}})
	}
	return nil
}

// isDoneSignal reports whether resp carries at least one tool call and every
// tool call names the distinguished done tool — the terminal condition of
// §4.3.1 step 5. A response with no tool calls is not a done signal.
func isDoneSignal(resp ChatResponse) bool {
	if len(resp.ToolCalls) == 0 {
		return false
	}
	for _, tc := range resp.ToolCalls {
		if tc.Name != doneToolName {
			return false
		}
	}
	return true
}

// toolWorkerLoop implements §4.3.2. It acts on Completed events; for
// each one with unfilled calls, it validates, acquires the sandbox, invokes
// the tool, and pushes one ToolResult per call, sequentially in arrival
// order (the spec's default — parallel-safe tools are not distinguished
// here since none of the built-in tools declare it). It returns once it
// observes Finished.
func toolWorkerLoop(cfg AgentRuntimeConfig) WorkerFunc {
	return func(ctx context.Context) error {
		logger := cfg.logger()
		q := cfg.query()
		sub, err := cfg.Store.Subscribe(ctx, q)
		if err != nil {
			return err
		}
		defer sub.Close()

		for {
			select {
			case <-ctx.Done():
				return nil
			case d, ok := <-sub.Deliveries():
				if !ok {
					return nil
				}
				if d.Err != nil {
					logger.Warn("tool-worker: subscription delivery error", "error", d.Err)
					continue
				}
				if d.Envelope.EventType == (FinishedEvent{}).EventType() {
					return nil
				}
				if d.Envelope.EventType != (CompletedEvent{}).EventType() {
					continue
				}
				if err := runToolStep(ctx, cfg); err != nil {
					logger.Warn("tool-worker: step failed", "error", err)
				}
			}
		}
	}
}

// runToolStep folds state, and for every pending call without a result,
// dispatches the tool and appends its ToolResult.
func runToolStep(ctx context.Context, cfg AgentRuntimeConfig) error {
	h := ThreadHandler{}
	state, envs, err := LoadAndFold(ctx, cfg.Store, cfg.query(), h)
	if err != nil {
		return err
	}
	if state.Done || len(state.Pending) == 0 {
		return nil
	}

	// Arrival order: walk the pending calls in the order their Completed
	// event listed them, which LoadAndFold's envelopes preserve.
	order := pendingCallOrder(envs, state.Pending)

	sb, err := cfg.Sandboxes.acquire(ctx, cfg.AggregateID, cfg.Factory, cfg.TemplateDir, cfg.Dockerfile)
	if err != nil {
		return err
	}

	for _, callID := range order {
		// Idempotency (§4.3.2 "Idempotency"): skip calls whose result is
		// already in the state folded at the start of this step, or was
		// pushed earlier in this loop.
		if _, already := state.Results[callID]; already {
			continue
		}
		pc, ok := state.Pending[callID]
		if !ok {
			continue
		}
		res, dispatchErr := cfg.Tools.Dispatch(ctx, sb, pc.Name, pc.Args)
		ev := ToolResultEvent{CallID: callID}
		if dispatchErr != nil {
			ev.IsError = true
			ev.Output = dispatchErr.Error()
		} else {
			ev.Output = res.Content
			ev.IsError = res.IsError
		}
		if err := pushAll(ctx, cfg, []Event{ev}); err != nil {
			return err
		}
		state.Results[callID] = ev
	}
	return nil
}

// pendingCallOrder returns the call ids of pending in the order they first
// appeared across envs' Completed events.
func pendingCallOrder(envs []Envelope, pending map[string]PendingCall) []string {
	order := make([]string, 0, len(pending))
	seen := make(map[string]bool, len(pending))
	for _, env := range envs {
		if env.EventType != (CompletedEvent{}).EventType() {
			continue
		}
		var ev CompletedEvent
		if err := decodeInto(env.Data, &ev); err != nil {
			continue
		}
		for _, tc := range ev.ToolCalls {
			if _, ok := pending[tc.ID]; ok && !seen[tc.ID] {
				seen[tc.ID] = true
				order = append(order, tc.ID)
			}
		}
	}
	return order
}

// finishWorkerLoop implements §4.3.3. It subscribes for Finished events and,
// on observation, replays the sandbox and exports it to the host.
func finishWorkerLoop(cfg AgentRuntimeConfig) WorkerFunc {
	return func(ctx context.Context) error {
		logger := cfg.logger()
		q := cfg.query()
		q.EventType = (FinishedEvent{}).EventType()
		sub, err := cfg.Store.Subscribe(ctx, q)
		if err != nil {
			return err
		}
		defer sub.Close()

		for {
			select {
			case <-ctx.Done():
				return nil
			case d, ok := <-sub.Deliveries():
				if !ok {
					return nil
				}
				if d.Err != nil {
					logger.Warn("finish-worker: subscription delivery error", "error", d.Err)
					continue
				}
				if err := runFinishStep(ctx, cfg); err != nil {
					logger.Warn("finish-worker: step failed", "error", err)
					return err
				}
				return nil
			}
		}
	}
}

// runFinishStep acquires (or recreates) the sandbox, replays every
// replay-eligible tool call, and exports the result to the host (§4.3.3).
// Export overwrites the destination directory each time it runs, which is
// what makes this worker naturally idempotent under at-least-once delivery
// (§5 "Idempotency policy").
func runFinishStep(ctx context.Context, cfg AgentRuntimeConfig) error {
	sb, err := cfg.Sandboxes.acquire(ctx, cfg.AggregateID, cfg.Factory, cfg.TemplateDir, cfg.Dockerfile)
	if err != nil {
		return err
	}

	envs, err := cfg.Store.LoadEvents(ctx, cfg.query())
	if err != nil {
		return err
	}
	if err := ReplaySandbox(ctx, sb, cfg.Tools, envs, cfg.logger()); err != nil {
		return err
	}
	if cfg.ExportDir != "" {
		if err := sb.Export(ctx, "/workspace", cfg.ExportDir); err != nil {
			return err
		}
	}
	// §3 Lifecycle: the sandbox is destroyed once its contents are safely
	// exported, not held past the aggregate's finish.
	return cfg.Sandboxes.release(ctx, cfg.AggregateID)
}

// pushAll appends each event to the store in order, wrapping the aggregate
// coordinates from cfg.
func pushAll(ctx context.Context, cfg AgentRuntimeConfig, events []Event) error {
	for _, ev := range events {
		if _, err := cfg.Store.PushEvent(ctx, cfg.StreamID, cfg.AggregateID, ev, Metadata{}); err != nil {
			return err
		}
	}
	return nil
}

