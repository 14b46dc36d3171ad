package fabric

import "context"

// Handler is the process/fold pair every aggregate in this system implements
// (§4.2). State is folded fresh from the event log before every command —
// there is no in-memory cache of authority, only a projection rebuilt on
// demand. This is what makes every worker in §5 idempotent: fold, decide,
// append, and if the append loses the sequence race, fold again and retry.
type Handler[S any, C any] interface {
	// Fold reduces envelopes, in sequence order, into a state value. Fold
	// must be pure and must tolerate an empty slice (the zero state).
	Fold(events []Envelope) S

	// Process validates command against the folded state and returns the
	// events it produces, or a *HandlerInvariantError if command is
	// inconsistent with state. Process must be pure: no I/O, no clock reads,
	// no randomness — every side effect is an event the caller appends.
	Process(state S, command C) ([]Event, error)
}

// LoadAndFold reads every envelope matching query from store and folds them
// with h, returning both the state and the raw envelopes (callers that need
// the last sequence number for SequenceAfter bookkeeping use the latter).
func LoadAndFold[S any, C any](ctx context.Context, store EventStore, query Query, h Handler[S, C]) (S, []Envelope, error) {
	envs, err := store.LoadEvents(ctx, query)
	if err != nil {
		var zero S
		return zero, nil, err
	}
	return h.Fold(envs), envs, nil
}

// Dispatch folds current state for query, runs command through h.Process,
// and appends the resulting events to store in order, one PushEvent per
// event. If any PushEvent returns *DuplicateError, Dispatch stops and
// returns it unwrapped so the caller can re-fold and retry the whole
// command — partially appended events from this attempt remain committed
// and are idempotently reconcilable because Process is driven off folded
// state, not off what this call already appended.
func Dispatch[S any, C any](ctx context.Context, store EventStore, streamID, aggregateID string, query Query, h Handler[S, C], command C, meta Metadata) ([]Envelope, error) {
	state, _, err := LoadAndFold(ctx, store, query, h)
	if err != nil {
		return nil, err
	}
	events, err := h.Process(state, command)
	if err != nil {
		return nil, err
	}
	out := make([]Envelope, 0, len(events))
	for _, ev := range events {
		env, err := store.PushEvent(ctx, streamID, aggregateID, ev, meta)
		if err != nil {
			return out, err
		}
		out = append(out, env)
	}
	return out, nil
}
