package fabric

import (
	"context"
	"sync"
	"time"
)

// memStore is a minimal in-memory EventStore for exercising Handler,
// worker, and runner logic without a real backend. It mirrors
// store/eventsqlite's sequence-assignment and poll-based Subscribe, just
// without the SQL.
type memStore struct {
	mu   sync.Mutex
	envs []Envelope
}

func newMemStore() *memStore {
	return &memStore{}
}

var _ EventStore = (*memStore)(nil)

func (s *memStore) PushEvent(ctx context.Context, streamID, aggregateID string, event Event, meta Metadata) (Envelope, error) {
	data, err := Encode(event)
	if err != nil {
		return Envelope{}, err
	}
	aggregateType := AggregateTypeOf(event)

	s.mu.Lock()
	defer s.mu.Unlock()

	var maxSeq int64
	for _, e := range s.envs {
		if e.StreamID == streamID && e.AggregateType == aggregateType && e.AggregateID == aggregateID && e.Sequence > maxSeq {
			maxSeq = e.Sequence
		}
	}
	env := Envelope{
		StreamID:      streamID,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Sequence:      maxSeq + 1,
		EventType:     event.EventType(),
		EventVersion:  event.EventVersion(),
		Data:          data,
		Metadata:      meta,
	}
	s.envs = append(s.envs, env)
	return env, nil
}

func (s *memStore) LoadEvents(ctx context.Context, query Query) ([]Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Envelope
	for _, e := range s.envs {
		if !query.matches(e) {
			continue
		}
		if query.SequenceAfter > 0 && e.Sequence <= query.SequenceAfter {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Subscribe polls memStore every 2ms for envelopes after query.SequenceAfter
// (stored ones first, then new ones), mirroring the real backends' polling
// loop closely enough to exercise worker code against it.
func (s *memStore) Subscribe(ctx context.Context, query Query) (*Subscription, error) {
	sctx, cancel := context.WithCancel(ctx)
	ch := make(chan Delivery, 64)

	go func() {
		defer close(ch)
		ticker := time.NewTicker(2 * time.Millisecond)
		defer ticker.Stop()
		lastSeen := query.SequenceAfter

		for {
			select {
			case <-sctx.Done():
				return
			case <-ticker.C:
				q := query
				q.SequenceAfter = lastSeen
				envs, err := s.LoadEvents(sctx, q)
				if err != nil {
					continue
				}
				for _, env := range envs {
					select {
					case ch <- Delivery{Envelope: env}:
						lastSeen = env.Sequence
					case <-sctx.Done():
						return
					}
				}
			}
		}
	}()

	return NewSubscription(ch, cancel), nil
}

// failStore returns pushErr/loadErr from every call; used to exercise
// error propagation paths.
type failStore struct {
	pushErr error
	loadErr error
}

func (s failStore) PushEvent(ctx context.Context, streamID, aggregateID string, event Event, meta Metadata) (Envelope, error) {
	return Envelope{}, s.pushErr
}

func (s failStore) LoadEvents(ctx context.Context, query Query) ([]Envelope, error) {
	return nil, s.loadErr
}

func (s failStore) Subscribe(ctx context.Context, query Query) (*Subscription, error) {
	ch := make(chan Delivery)
	close(ch)
	_, cancel := context.WithCancel(ctx)
	return NewSubscription(ch, cancel), nil
}
