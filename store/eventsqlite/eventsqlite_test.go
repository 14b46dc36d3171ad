package eventsqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nevindra/fabric"
)

type testEvent struct {
	Text string `json:"text"`
}

func (testEvent) EventType() string    { return "agent.prompted" }
func (testEvent) EventVersion() string { return "v1" }

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"), WithPollInterval(2*time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return s
}

func TestInitIdempotent(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "init.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()
	ctx := context.Background()
	if err := s.Init(ctx); err != nil {
		t.Fatalf("first Init: %v", err)
	}
	if err := s.Init(ctx); err != nil {
		t.Fatalf("second Init: %v", err)
	}
}

func TestPushEventAssignsSequentialNumbers(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for i, text := range []string{"first", "second", "third"} {
		env, err := s.PushEvent(ctx, "stream-1", "agg-1", testEvent{Text: text}, fabric.Metadata{})
		if err != nil {
			t.Fatalf("PushEvent %d: %v", i, err)
		}
		if env.Sequence != int64(i+1) {
			t.Fatalf("Sequence = %d, want %d", env.Sequence, i+1)
		}
		if env.AggregateType != fabric.AggregateTypeThread {
			t.Errorf("AggregateType = %q, want %q", env.AggregateType, fabric.AggregateTypeThread)
		}
	}
}

func TestPushEventSequencesPerAggregateIndependently(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if _, err := s.PushEvent(ctx, "stream-1", "agg-1", testEvent{Text: "a"}, fabric.Metadata{}); err != nil {
		t.Fatal(err)
	}
	env, err := s.PushEvent(ctx, "stream-1", "agg-2", testEvent{Text: "b"}, fabric.Metadata{})
	if err != nil {
		t.Fatal(err)
	}
	if env.Sequence != 1 {
		t.Fatalf("expected a separate sequence counter per aggregate_id, got %d", env.Sequence)
	}
}

func TestLoadEventsOrderedBySequence(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for _, text := range []string{"a", "b", "c"} {
		if _, err := s.PushEvent(ctx, "stream-1", "agg-1", testEvent{Text: text}, fabric.Metadata{}); err != nil {
			t.Fatal(err)
		}
	}

	envs, err := s.LoadEvents(ctx, fabric.Query{StreamID: "stream-1", AggregateID: "agg-1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(envs) != 3 {
		t.Fatalf("expected 3 envelopes, got %d", len(envs))
	}
	for i, env := range envs {
		if env.Sequence != int64(i+1) {
			t.Errorf("envs[%d].Sequence = %d, want %d", i, env.Sequence, i+1)
		}
	}
}

func TestLoadEventsFiltersBySequenceAfter(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for _, text := range []string{"a", "b", "c"} {
		if _, err := s.PushEvent(ctx, "stream-1", "agg-1", testEvent{Text: text}, fabric.Metadata{}); err != nil {
			t.Fatal(err)
		}
	}

	envs, err := s.LoadEvents(ctx, fabric.Query{StreamID: "stream-1", AggregateID: "agg-1", SequenceAfter: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(envs) != 2 {
		t.Fatalf("expected 2 envelopes after sequence 1, got %d", len(envs))
	}
	if envs[0].Sequence != 2 {
		t.Errorf("first envelope sequence = %d, want 2", envs[0].Sequence)
	}
}

func TestLoadEventsFiltersByEventTypeAndStream(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if _, err := s.PushEvent(ctx, "stream-1", "agg-1", testEvent{Text: "a"}, fabric.Metadata{}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.PushEvent(ctx, "stream-2", "agg-1", testEvent{Text: "b"}, fabric.Metadata{}); err != nil {
		t.Fatal(err)
	}

	envs, err := s.LoadEvents(ctx, fabric.Query{StreamID: "stream-1", EventType: "agent.prompted"})
	if err != nil {
		t.Fatal(err)
	}
	if len(envs) != 1 {
		t.Fatalf("expected 1 envelope scoped to stream-1, got %d", len(envs))
	}
}

func TestSubscribeDeliversNewEventsAfterSubscription(t *testing.T) {
	s := testStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := s.Subscribe(ctx, fabric.Query{StreamID: "stream-1", AggregateID: "agg-1"})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	if _, err := s.PushEvent(ctx, "stream-1", "agg-1", testEvent{Text: "live"}, fabric.Metadata{}); err != nil {
		t.Fatal(err)
	}

	select {
	case d := <-sub.Deliveries():
		if d.Err != nil {
			t.Fatalf("unexpected delivery error: %v", d.Err)
		}
		if d.Envelope.Sequence != 1 {
			t.Errorf("Sequence = %d, want 1", d.Envelope.Sequence)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for subscription delivery")
	}
}

func TestSubscribeIgnoresEventsFromOtherAggregates(t *testing.T) {
	s := testStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := s.Subscribe(ctx, fabric.Query{StreamID: "stream-1", AggregateID: "agg-1"})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	if _, err := s.PushEvent(ctx, "stream-1", "agg-2", testEvent{Text: "not mine"}, fabric.Metadata{}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.PushEvent(ctx, "stream-1", "agg-1", testEvent{Text: "mine"}, fabric.Metadata{}); err != nil {
		t.Fatal(err)
	}

	select {
	case d := <-sub.Deliveries():
		if d.Envelope.AggregateID != "agg-1" {
			t.Fatalf("expected only agg-1 events delivered, got %q", d.Envelope.AggregateID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for subscription delivery")
	}
}

func TestSubscribeCloseStopsDeliveries(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	sub, err := s.Subscribe(ctx, fabric.Query{StreamID: "stream-1", AggregateID: "agg-1"})
	if err != nil {
		t.Fatal(err)
	}
	sub.Close()

	select {
	case _, ok := <-sub.Deliveries():
		if ok {
			t.Fatal("expected channel closed, got a delivery instead")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for channel close")
	}
}

func TestLoadEventsPropagatesQueryError(t *testing.T) {
	s := testStore(t)
	s.Close()

	_, err := s.LoadEvents(context.Background(), fabric.Query{StreamID: "stream-1"})
	if err == nil {
		t.Fatal("expected an error once the underlying connection is closed")
	}
	var storageErr *fabric.StorageError
	if !errors.As(err, &storageErr) {
		t.Fatalf("expected *fabric.StorageError, got %T: %v", err, err)
	}
}
