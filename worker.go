package fabric

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// WorkerState represents the execution state of a spawned worker loop
// (§5: LLM Worker, Tool Worker, Finish Worker).
type WorkerState int32

const (
	// WorkerPending indicates the worker has been spawned but its loop has not started.
	WorkerPending WorkerState = iota
	// WorkerRunning indicates the loop is in progress.
	WorkerRunning
	// WorkerStopped indicates the loop returned nil, typically because ctx was cancelled.
	WorkerStopped
	// WorkerFailed indicates the loop returned a non-nil, non-cancellation error.
	WorkerFailed
)

// String returns the state name.
func (s WorkerState) String() string {
	switch s {
	case WorkerPending:
		return "pending"
	case WorkerRunning:
		return "running"
	case WorkerStopped:
		return "stopped"
	case WorkerFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the state is a final state (stopped or failed).
func (s WorkerState) IsTerminal() bool {
	return s == WorkerStopped || s == WorkerFailed
}

// WorkerFunc is one iteration-until-cancelled loop body. It must return when
// ctx is done. Any other return is treated as a fatal failure of the worker.
type WorkerFunc func(ctx context.Context) error

// WorkerOption configures a SpawnWorker call.
type WorkerOption func(*workerConfig)

type workerConfig struct {
	logger *slog.Logger
	name   string
}

// WorkerLogger sets the structured logger for worker lifecycle events.
func WorkerLogger(l *slog.Logger) WorkerOption {
	return func(c *workerConfig) { c.logger = l }
}

// WorkerName labels the worker in log lines (e.g. "llm-worker", "tool-worker").
func WorkerName(name string) WorkerOption {
	return func(c *workerConfig) { c.name = name }
}

// WorkerHandle tracks a background worker loop. All methods are safe for
// concurrent use. Per §5, the LLM Worker, Tool Worker, and Finish Worker each
// run as one of these: independent goroutines that coordinate purely through
// the event log, each folding current state before acting so restarts and
// duplicate wakeups are idempotent.
type WorkerHandle struct {
	id     string
	name   string
	state  atomic.Int32
	err    error
	done   chan struct{}
	cancel context.CancelFunc
}

// SpawnWorker launches fn(ctx) in a background goroutine and returns
// immediately with a handle for tracking, awaiting, and stopping it. The
// parent ctx controls the worker's lifetime — cancelling it stops the worker.
func SpawnWorker(ctx context.Context, fn WorkerFunc, opts ...WorkerOption) *WorkerHandle {
	cfg := workerConfig{logger: nopLogger, name: "worker"}
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx, cancel := context.WithCancel(ctx)
	h := &WorkerHandle{
		id:     NewID(),
		name:   cfg.name,
		done:   make(chan struct{}),
		cancel: cancel,
	}
	h.state.Store(int32(WorkerPending))

	logger := cfg.logger
	logger.Info("worker spawned", "worker", h.name, "handle_id", h.id)

	go func() {
		defer cancel()
		defer func() {
			if p := recover(); p != nil {
				logger.Error("worker panic", "worker", h.name, "handle_id", h.id, "panic", fmt.Sprintf("%v", p))
				h.err = fmt.Errorf("worker panic: %v", p)
				h.state.Store(int32(WorkerFailed))
				close(h.done)
			}
		}()
		h.state.Store(int32(WorkerRunning))
		start := time.Now()
		err := fn(ctx)

		// Write err before close(done); the channel close is the
		// happens-before barrier for all readers (State, Err, Await).
		h.err = err
		switch {
		case err == nil || ctx.Err() != nil:
			h.state.Store(int32(WorkerStopped))
			logger.Info("worker stopped", "worker", h.name, "handle_id", h.id, "duration", time.Since(start))
		default:
			h.state.Store(int32(WorkerFailed))
			logger.Error("worker failed", "worker", h.name, "handle_id", h.id, "error", err, "duration", time.Since(start))
		}
		close(h.done)
	}()

	return h
}

// ID returns the unique handle identifier (UUIDv7, time-sortable).
func (h *WorkerHandle) ID() string { return h.id }

// Name returns the worker's label.
func (h *WorkerHandle) Name() string { return h.name }

// State returns the current execution state. If the state is terminal,
// State blocks until Done() is closed (nanoseconds) to guarantee that Err
// returns valid data when State().IsTerminal() is true.
func (h *WorkerHandle) State() WorkerState {
	s := WorkerState(h.state.Load())
	if s.IsTerminal() {
		<-h.done
	}
	return s
}

// Done returns a channel closed when the worker loop returns.
func (h *WorkerHandle) Done() <-chan struct{} { return h.done }

// Await blocks until the worker stops or ctx is cancelled.
func (h *WorkerHandle) Await(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the loop's terminal error. Only meaningful after Done() closes;
// returns nil before completion.
func (h *WorkerHandle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Stop requests cancellation. Non-blocking. The worker sees a cancelled
// context; State transitions to WorkerStopped once the loop returns.
func (h *WorkerHandle) Stop() { h.cancel() }
