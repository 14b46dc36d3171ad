package fabric

import (
	"context"
	"strconv"
	"time"
)

// DefaultRunnerTimeout is the planner runner's default deadline (§5
// "Timeouts": "the planner runner wraps the whole operation in a
// caller-provided deadline (default 5 minutes)").
const DefaultRunnerTimeout = 5 * time.Minute

// RunnerConfig wires a Planner aggregate to the Agent Runtime it dispatches
// tasks to.
type RunnerConfig struct {
	Store       EventStore
	StreamID    string
	AggregateID string // planner aggregate id
	Timeout     time.Duration
	Agent       AgentRuntimeConfig // template; AggregateID is overridden per dispatched task
}

func (c RunnerConfig) timeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultRunnerTimeout
	}
	return c.Timeout
}

func (c RunnerConfig) query() Query {
	return Query{StreamID: c.StreamID, AggregateID: c.AggregateID}
}

// Runner drives one Planner aggregate end to end: Initialize, dispatch each
// task to a fresh Agent Runtime, fold the result back via
// HandleExecutorEvent, and repeat until PlanningCompleted (§4.5 "Terminal
// condition"). The whole operation is bounded by a deadline; on expiry
// every spawned worker is cancelled and a *TimeoutError surfaces (§5
// "Timeouts").
type Runner struct {
	cfg RunnerConfig
}

// NewRunner constructs a Runner for the given configuration.
func NewRunner(cfg RunnerConfig) *Runner {
	return &Runner{cfg: cfg}
}

// Run executes Initialize and then repeatedly dispatches the Planner's
// pending task to a fresh Agent Runtime, feeding its terminal outcome back
// as an ExecutorOutcome, until the Planner reaches PlanningCompleted or ctx
// expires.
func (r *Runner) Run(ctx context.Context, userInput string, attachments []PlanAttachment, parser TaskParser) (PlannerState, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.timeout())
	defer cancel()

	h := PlannerHandler{}
	if _, err := Dispatch(ctx, r.cfg.Store, r.cfg.StreamID, r.cfg.AggregateID, r.cfg.query(), h,
		PlannerCommand{Initialize: &InitializeCommand{UserInput: userInput, Attachments: attachments, Parser: parser}}, Metadata{}); err != nil {
		return PlannerState{}, r.wrapTimeout(ctx, "planner.initialize", err)
	}

	for {
		state, _, err := LoadAndFold(ctx, r.cfg.Store, r.cfg.query(), h)
		if err != nil {
			return state, r.wrapTimeout(ctx, "planner.fold", err)
		}
		if terminal(state) {
			return state, nil
		}

		idx := pendingTaskIndex(state)
		if idx < 0 {
			// Waiting on clarification or a running task with nothing new
			// to dispatch this iteration; a caller supplies
			// ClarificationAnswer/TaskCompleted/TaskFailed out of band via
			// HandleExecutorOutcome. Surface the state as-is.
			return state, nil
		}

		task := state.Tasks[idx]
		outcome, err := r.runTask(ctx, task)
		if err != nil {
			return state, r.wrapTimeout(ctx, "planner.run_task", err)
		}
		if _, err := Dispatch(ctx, r.cfg.Store, r.cfg.StreamID, r.cfg.AggregateID, r.cfg.query(), h,
			PlannerCommand{ExecutorEvent: outcome}, Metadata{}); err != nil {
			return state, r.wrapTimeout(ctx, "planner.handle_executor_event", err)
		}
	}
}

// HandleExecutorOutcome lets an external caller feed a clarification answer
// (or any other ExecutorOutcome) into the Planner aggregate directly,
// independent of Run's loop — used to resume a NeedsClarification task.
func (r *Runner) HandleExecutorOutcome(ctx context.Context, outcome ExecutorOutcome) ([]Envelope, error) {
	return Dispatch(ctx, r.cfg.Store, r.cfg.StreamID, r.cfg.AggregateID, r.cfg.query(), PlannerHandler{},
		PlannerCommand{ExecutorEvent: &outcome}, Metadata{})
}

// runTask spawns a thread aggregate and its Agent Runtime for task, feeds it
// a Prompted command, waits for the Finish Worker to return (after Finished)
// or for ctx to expire, and translates the result into an ExecutorOutcome.
// The outcome is TaskCompleted or TaskFailed; no clarification request is
// produced here.
func (r *Runner) runTask(ctx context.Context, task Task) (*ExecutorOutcome, error) {
	agentCfg := r.cfg.Agent
	agentCfg.AggregateID = r.cfg.AggregateID + ":" + strconv.Itoa(task.ID)

	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	llm, toolW, finish := SpawnAgentRuntime(workerCtx, agentCfg)
	defer func() {
		llm.Stop()
		toolW.Stop()
		finish.Stop()
	}()

	th := ThreadHandler{}
	if _, err := Dispatch(ctx, r.cfg.Store, agentCfg.StreamID, agentCfg.AggregateID,
		Query{StreamID: agentCfg.StreamID, AggregateID: agentCfg.AggregateID}, th,
		ThreadCommand{Prompt: &PromptedEvent{Text: task.Description}}, Metadata{}); err != nil {
		return nil, err
	}

	select {
	case <-finish.Done():
		if err := finish.Err(); err != nil {
			return &ExecutorOutcome{TaskFailed: &struct {
				ID    int
				Error string
			}{task.ID, err.Error()}}, nil
		}
		state, _, err := LoadAndFold(ctx, r.cfg.Store, Query{StreamID: agentCfg.StreamID, AggregateID: agentCfg.AggregateID}, th)
		if err != nil {
			return nil, err
		}
		return &ExecutorOutcome{TaskCompleted: &struct {
			ID     int
			Result string
		}{task.ID, finalAssistantMessage(state)}}, nil
	case <-ctx.Done():
		return nil, &TimeoutError{Activity: "task " + strconv.Itoa(task.ID), Timeout: r.cfg.timeout().String()}
	}
}

// finalAssistantMessage returns the content of the last assistant message
// in state, or "" if none.
func finalAssistantMessage(state ThreadState) string {
	for i := len(state.Messages) - 1; i >= 0; i-- {
		if state.Messages[i].Role == "assistant" {
			return state.Messages[i].Content
		}
	}
	return ""
}

func (r *Runner) wrapTimeout(ctx context.Context, activity string, err error) error {
	if ctx.Err() != nil {
		return &TimeoutError{Activity: activity, Timeout: r.cfg.timeout().String()}
	}
	return err
}
