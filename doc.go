// Package fabric is an event-sourced agent orchestration core: an append-only
// Event Store, a Handler/Fold pattern, an Agent Runtime that drives an LLM
// tool-calling conversation loop purely through the event log, Sandbox
// Replay for deterministic reconstruction of sandbox state, and a Planner
// that decomposes, dispatches, and reconciles multi-task work.
//
// # Core Model
//
// Every fact about a running agent or plan is an Event, appended to an
// [EventStore] under a (stream_id, aggregate_type, aggregate_id) triple with
// a strictly increasing sequence number. Nothing is ever mutated or
// deleted; state is a pure [Handler.Fold] over the events committed so far.
//
//	store, _ := eventsqlite.New("fabric.db")
//	store.Init(ctx)
//	runner := fabric.NewRunner(fabric.RunnerConfig{
//		Store:    store,
//		StreamID: "default",
//		Agent:    fabric.AgentRuntimeConfig{Store: store, StreamID: "default", Provider: p, Tools: tools, Factory: sbFactory},
//	})
//	state, err := runner.Run(ctx, "write hello world to greet.txt", nil, nil)
//
// # Core Interfaces
//
//   - [EventStore] — append, load, and subscribe to an aggregate's event log
//   - [Handler] — process(state, command) -> events, fold(events) -> state
//   - [Provider] — LLM capability (chat, tool calling, streaming)
//   - [Tool] — pluggable capability exposed to the LLM, with JSON Schema
//     argument validation and a replay-eligibility flag
//   - [Sandbox] — isolated execution environment a Tool runs against
//
// # Agent Runtime
//
// [SpawnAgentRuntime] launches the LLM Worker, Tool Worker, and Finish
// Worker for one aggregate: three independent [WorkerHandle]s coordinating
// solely through the event log, each idempotent by construction because
// every decision starts from a fresh fold of current state.
//
// # Planner
//
// [Runner] drives a Planner aggregate end to end — decomposing input into
// tasks via [TaskParser], dispatching each to its own Agent Runtime, and
// folding the outcome back in — pausing for human input via
// ClarificationRequested/ClarificationReceived events rather than
// suspending a goroutine, so a paused plan survives a process restart.
//
// # Included Implementations
//
// Event stores: store/eventsqlite (embedded, pure-Go SQLite), store/eventpg
// (networked, PostgreSQL via pgx). Sandboxes: sandbox/docker. Tools:
// tools/file, tools/shell, tools/done. Observability: package observer.
package fabric
