package fabric

import (
	"context"
	"encoding/json"
)

// Event is any value type carrying a stable event type name and version.
// Implementations are plain structs marshalled to JSON for storage.
type Event interface {
	// EventType returns the stable, storage-level type discriminator
	// (e.g. "agent.prompted", "planner.tasks_planned").
	EventType() string
	// EventVersion returns the schema version of the payload
	// (e.g. "v1"). Bump when a breaking payload change is made.
	EventVersion() string
}

// Metadata travels alongside every event, carrying causal links and
// free-form context. All fields are optional.
type Metadata struct {
	// CorrelationID propagates through every event causally related to the
	// same originating request. Typically set once on the initial event and
	// copied forward by the handler that reacts to it.
	CorrelationID string `json:"correlation_id,omitempty"`
	// CausationID references the event or command id that produced this
	// event, forming a causal chain distinct from CorrelationID's broader
	// "same overall request" grouping.
	CausationID string `json:"causation_id,omitempty"`
	// Extra carries free-form structured data not part of the formal schema.
	Extra map[string]any `json:"extra,omitempty"`
}

// Envelope is the stored, ordered form of an event.
type Envelope struct {
	StreamID      string          `json:"stream_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	Sequence      int64           `json:"sequence"`
	EventType     string          `json:"event_type"`
	EventVersion  string          `json:"event_version"`
	Data          json.RawMessage `json:"data"`
	Metadata      Metadata        `json:"metadata"`
}

// Query selects envelopes from the Event Store.
type Query struct {
	// StreamID is required: the logical channel to read from.
	StreamID string
	// EventType optionally restricts to one event type.
	EventType string
	// AggregateID optionally restricts to one aggregate.
	AggregateID string
	// SequenceAfter is an exclusive lower bound: only sequences strictly
	// greater than this value are returned. Zero means "from the start".
	SequenceAfter int64
}

// matches reports whether env satisfies q, ignoring SequenceAfter (callers
// apply that bound separately since it interacts with "last seen" tracking).
func (q Query) matches(env Envelope) bool {
	if q.StreamID != "" && env.StreamID != q.StreamID {
		return false
	}
	if q.EventType != "" && env.EventType != q.EventType {
		return false
	}
	if q.AggregateID != "" && env.AggregateID != q.AggregateID {
		return false
	}
	return true
}

// Delivery is one item produced by a Subscription: either an Envelope in
// commit order, or a non-nil Err signalling a subscription-level fault
// (typically *LaggedError, per §7).
type Delivery struct {
	Envelope Envelope
	Err      error
}

// Subscription is a live, asynchronous view over a Query. Consumers read
// Deliveries() until the channel closes (subscription cancelled or the
// store shut down) or an Err is delivered.
type Subscription struct {
	ch     chan Delivery
	cancel context.CancelFunc
}

// NewSubscription wraps a delivery channel and its cancel func into a
// Subscription. EventStore implementations in other packages (store/
// eventsqlite, store/eventpg) use this to construct the value Subscribe
// returns, since ch and cancel are unexported.
func NewSubscription(ch chan Delivery, cancel context.CancelFunc) *Subscription {
	return &Subscription{ch: ch, cancel: cancel}
}

// Deliveries returns the channel of incoming events. The channel is closed
// when the subscription is stopped via Close or its context is cancelled.
func (s *Subscription) Deliveries() <-chan Delivery { return s.ch }

// Close cancels the subscription's polling loop. Safe to call more than once.
func (s *Subscription) Close() { s.cancel() }

// EventStore is an append-only, per-aggregate-ordered event log with live
// fan-out, per §4.1. Implementations: store/eventsqlite (embedded file
// database), store/eventpg (networked SQL database).
type EventStore interface {
	// PushEvent assigns the next sequence for (streamID, event's aggregate
	// type, aggregateID) atomically and commits the envelope. Returns
	// *DuplicateError if a concurrent writer won the sequence race (the
	// caller should retry), or *StorageError on lower-level faults.
	PushEvent(ctx context.Context, streamID, aggregateID string, event Event, meta Metadata) (Envelope, error)

	// LoadEvents returns envelopes matching query, ordered by Sequence
	// ascending. Envelope.Data is returned as stored, not decoded into a
	// typed Event (see Decode); *DecodeError is returned only when an
	// envelope's stored metadata cannot be decoded.
	LoadEvents(ctx context.Context, query Query) ([]Envelope, error)

	// Subscribe returns a live Subscription delivering every envelope
	// matching query whose sequence is greater than query.SequenceAfter, in
	// commit order: envelopes already stored are delivered first, then new
	// ones as they commit. The subscription is
	// implemented as polling (§4.1 "Algorithm — subscription"); the
	// interval is an implementation detail and must not be relied upon.
	Subscribe(ctx context.Context, query Query) (*Subscription, error)
}

// EventTypeRegistry decodes stored JSON payloads back into typed Event
// values keyed by (event_type, event_version). Neither backend takes one;
// callers pass one to Decode for each Envelope that LoadEvents or Subscribe
// returns.
type EventTypeRegistry interface {
	// New returns a zero-value pointer suitable for json.Unmarshal, or
	// false if (eventType, eventVersion) is unknown.
	New(eventType, eventVersion string) (Event, bool)
}

// TypeRegistry is a simple map-backed EventTypeRegistry.
type TypeRegistry struct {
	factories map[string]func() Event
}

// NewTypeRegistry creates an empty registry.
func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{factories: make(map[string]func() Event)}
}

// Register associates (eventType, eventVersion) with a constructor that
// returns a fresh zero value of the concrete Event type.
func (r *TypeRegistry) Register(eventType, eventVersion string, factory func() Event) {
	r.factories[registryKey(eventType, eventVersion)] = factory
}

// New implements EventTypeRegistry.
func (r *TypeRegistry) New(eventType, eventVersion string) (Event, bool) {
	f, ok := r.factories[registryKey(eventType, eventVersion)]
	if !ok {
		return nil, false
	}
	return f(), true
}

func registryKey(eventType, eventVersion string) string {
	return eventType + "@" + eventVersion
}

// Decode unmarshals an envelope's Data into the Event registered for its
// (EventType, EventVersion), returning *DecodeError on any failure.
func Decode(reg EventTypeRegistry, env Envelope) (Event, error) {
	ev, ok := reg.New(env.EventType, env.EventVersion)
	if !ok {
		return nil, &DecodeError{EventType: env.EventType, EventVersion: env.EventVersion, Reason: "unregistered event type"}
	}
	if err := json.Unmarshal(env.Data, ev); err != nil {
		return nil, &DecodeError{EventType: env.EventType, EventVersion: env.EventVersion, Reason: err.Error()}
	}
	return ev, nil
}

// AggregateTypeOf derives the aggregate_type column value from an event's
// EventType namespace prefix (e.g. "agent.completed" -> AggregateTypeThread,
// "planner.tasks_planned" -> AggregateTypePlanner). Both EventStore
// backends call this at PushEvent time so the interface itself only needs
// to accept an Event, not a separate aggregate-type parameter.
func AggregateTypeOf(event Event) string {
	et := event.EventType()
	for i := 0; i < len(et); i++ {
		if et[i] == '.' {
			switch et[:i] {
			case "agent":
				return AggregateTypeThread
			case "planner":
				return AggregateTypePlanner
			default:
				return et[:i]
			}
		}
	}
	return et
}

// Encode marshals event to JSON for storage.
func Encode(event Event) (json.RawMessage, error) {
	b, err := json.Marshal(event)
	if err != nil {
		return nil, &StorageError{Op: "encode", Err: err}
	}
	return b, nil
}
