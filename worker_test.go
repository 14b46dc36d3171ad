package fabric

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSpawnWorkerStopsOnContextCancel(t *testing.T) {
	started := make(chan struct{})
	fn := func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return nil
	}

	h := SpawnWorker(context.Background(), fn)
	<-started
	h.Stop()

	if err := h.Await(context.Background()); err != nil {
		t.Fatalf("Await returned unexpected error: %v", err)
	}
	if h.State() != WorkerStopped {
		t.Errorf("State = %v, want %v", h.State(), WorkerStopped)
	}
}

func TestSpawnWorkerFailure(t *testing.T) {
	wantErr := errors.New("worker failed")
	fn := func(ctx context.Context) error { return wantErr }

	h := SpawnWorker(context.Background(), fn)

	err := h.Await(context.Background())
	if !errors.Is(err, wantErr) {
		t.Errorf("Await error = %v, want %v", err, wantErr)
	}
	if h.State() != WorkerFailed {
		t.Errorf("State = %v, want %v", h.State(), WorkerFailed)
	}
}

func TestSpawnWorkerParentContextCancel(t *testing.T) {
	started := make(chan struct{})
	fn := func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := SpawnWorker(ctx, fn)
	<-started
	cancel()

	<-h.Done()
	if h.State() != WorkerStopped {
		t.Errorf("State = %v, want %v", h.State(), WorkerStopped)
	}
}

func TestSpawnWorkerAwaitContextCancel(t *testing.T) {
	started := make(chan struct{})
	fn := func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return nil
	}

	h := SpawnWorker(context.Background(), fn)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := h.Await(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Await error = %v, want context.DeadlineExceeded", err)
	}
	if h.State() != WorkerRunning {
		t.Errorf("State = %v, want %v (worker still running)", h.State(), WorkerRunning)
	}

	h.Stop()
	<-h.Done()
}

func TestSpawnWorkerDoneChannel(t *testing.T) {
	fn := func(ctx context.Context) error { return nil }

	h := SpawnWorker(context.Background(), fn)

	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("Done channel not closed after completion")
	}

	if err := h.Err(); err != nil {
		t.Fatalf("Err returned unexpected error: %v", err)
	}
}

func TestSpawnWorkerErrBeforeCompletion(t *testing.T) {
	started := make(chan struct{})
	fn := func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return nil
	}

	h := SpawnWorker(context.Background(), fn)
	defer func() { h.Stop(); <-h.Done() }()
	<-started

	if err := h.Err(); err != nil {
		t.Errorf("Err before completion should return nil, got %v", err)
	}
}

func TestSpawnWorkerID(t *testing.T) {
	fn := func(ctx context.Context) error { return nil }

	h1 := SpawnWorker(context.Background(), fn)
	h2 := SpawnWorker(context.Background(), fn)
	defer func() { <-h1.Done(); <-h2.Done() }()

	if h1.ID() == "" {
		t.Error("ID should not be empty")
	}
	if h1.ID() == h2.ID() {
		t.Errorf("IDs should be unique, got %q for both", h1.ID())
	}
}

func TestSpawnWorkerName(t *testing.T) {
	fn := func(ctx context.Context) error { return nil }

	h := SpawnWorker(context.Background(), fn, WorkerName("llm-worker"))
	<-h.Done()

	if h.Name() != "llm-worker" {
		t.Errorf("Name() = %q, want %q", h.Name(), "llm-worker")
	}
}

func TestSpawnWorkerMultiplexSelect(t *testing.T) {
	fastDone := make(chan struct{})
	fast := func(ctx context.Context) error {
		close(fastDone)
		return nil
	}
	slow := func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	}

	h1 := SpawnWorker(context.Background(), fast, WorkerName("fast"))
	h2 := SpawnWorker(context.Background(), slow, WorkerName("slow"))
	defer h2.Stop()

	select {
	case <-h1.Done():
		if err := h1.Err(); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	case <-h2.Done():
		t.Fatal("slow worker should not finish first")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for fast worker")
	}

	h2.Stop()
	<-h2.Done()
}

func TestWorkerStateString(t *testing.T) {
	tests := []struct {
		state WorkerState
		want  string
	}{
		{WorkerPending, "pending"},
		{WorkerRunning, "running"},
		{WorkerStopped, "stopped"},
		{WorkerFailed, "failed"},
		{WorkerState(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("WorkerState(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestWorkerStateIsTerminal(t *testing.T) {
	tests := []struct {
		state    WorkerState
		terminal bool
	}{
		{WorkerPending, false},
		{WorkerRunning, false},
		{WorkerStopped, true},
		{WorkerFailed, true},
	}
	for _, tt := range tests {
		if got := tt.state.IsTerminal(); got != tt.terminal {
			t.Errorf("WorkerState(%d).IsTerminal() = %v, want %v", tt.state, got, tt.terminal)
		}
	}
}
