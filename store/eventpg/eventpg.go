// Package eventpg implements fabric.EventStore using PostgreSQL via pgx,
// grounded on store/postgres's externally-owned *pgxpool.Pool idiom: the
// caller creates and closes the pool, this package only ever borrows it.
package eventpg

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nevindra/fabric"
	"github.com/nevindra/fabric/store"
)

// Option configures a Store.
type Option func(*Store)

// WithPollInterval overrides the default 100ms Subscribe polling interval.
func WithPollInterval(d time.Duration) Option {
	return func(s *Store) { s.pollInterval = d }
}

// WithBufferSize overrides the default 256-item bounded delivery channel.
func WithBufferSize(n int) Option {
	return func(s *Store) { s.bufferSize = n }
}

// Store implements fabric.EventStore backed by PostgreSQL.
type Store struct {
	pool         *pgxpool.Pool
	pollInterval time.Duration
	bufferSize   int
}

var _ fabric.EventStore = (*Store)(nil)

// New creates a Store using an existing pgxpool.Pool. The caller owns the
// pool and is responsible for closing it.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{pool: pool, pollInterval: 100 * time.Millisecond, bufferSize: 256}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Init creates the events table and its indexes if they do not already
// exist (§4.1/§6 "Storage schema", JSONB variant).
func (s *Store) Init(ctx context.Context) error {
	const createTable = `
CREATE TABLE IF NOT EXISTS events (
  stream_id       TEXT    NOT NULL,
  aggregate_type  TEXT    NOT NULL,
  aggregate_id    TEXT    NOT NULL,
  sequence        BIGINT  NOT NULL,
  event_type      TEXT    NOT NULL,
  event_version   TEXT    NOT NULL,
  data            JSONB   NOT NULL,
  metadata        JSONB   NOT NULL,
  PRIMARY KEY (stream_id, aggregate_type, aggregate_id, sequence)
)`
	if _, err := s.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("eventpg: create table: %w", err)
	}
	for _, idx := range store.Indexes {
		stmt := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON events(%s)", idx.Name, columnList(idx.Columns))
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("eventpg: create index %s: %w", idx.Name, err)
		}
	}
	return nil
}

func columnList(cols []string) string {
	out := cols[0]
	for _, c := range cols[1:] {
		out += ", " + c
	}
	return out
}

// PushEvent assigns the next sequence via a single statement —
// INSERT ... SELECT COALESCE(MAX(sequence),0)+1 ... ON CONFLICT DO NOTHING
// RETURNING sequence — rather than the SQLite backend's explicit
// transaction, since Postgres's MVCC lets the SELECT and INSERT commit
// atomically as one statement without a manual lock upgrade. Zero rows
// returned means a concurrent writer won the sequence race; the caller
// retries with a freshly folded state (§4.1 "unique-constraint violation
// means retry").
func (s *Store) PushEvent(ctx context.Context, streamID, aggregateID string, event fabric.Event, meta fabric.Metadata) (fabric.Envelope, error) {
	data, err := fabric.Encode(event)
	if err != nil {
		return fabric.Envelope{}, err
	}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return fabric.Envelope{}, &fabric.StorageError{Op: "push_event: encode metadata", Err: err}
	}
	aggregateType := fabric.AggregateTypeOf(event)

	const stmt = `
INSERT INTO events (stream_id, aggregate_type, aggregate_id, sequence, event_type, event_version, data, metadata)
SELECT $1, $2, $3, COALESCE(MAX(sequence), 0) + 1, $4, $5, $6::jsonb, $7::jsonb
FROM events WHERE stream_id = $1 AND aggregate_type = $2 AND aggregate_id = $3
ON CONFLICT (stream_id, aggregate_type, aggregate_id, sequence) DO NOTHING
RETURNING sequence`

	var seq int64
	err = s.pool.QueryRow(ctx, stmt, streamID, aggregateType, aggregateID, event.EventType(), event.EventVersion(), string(data), string(metaBytes)).Scan(&seq)
	if err != nil {
		if err == pgx.ErrNoRows {
			return fabric.Envelope{}, &fabric.DuplicateError{StreamID: streamID, AggregateType: aggregateType, AggregateID: aggregateID}
		}
		return fabric.Envelope{}, &fabric.StorageError{Op: "push_event", Err: err}
	}

	return fabric.Envelope{
		StreamID:      streamID,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Sequence:      seq,
		EventType:     event.EventType(),
		EventVersion:  event.EventVersion(),
		Data:          data,
		Metadata:      meta,
	}, nil
}

// LoadEvents returns envelopes matching query, ordered by sequence
// ascending.
func (s *Store) LoadEvents(ctx context.Context, query fabric.Query) ([]fabric.Envelope, error) {
	clauses := []string{"stream_id = $1"}
	args := []any{query.StreamID}
	n := 2
	if query.EventType != "" {
		clauses = append(clauses, fmt.Sprintf("event_type = $%d", n))
		args = append(args, query.EventType)
		n++
	}
	if query.AggregateID != "" {
		clauses = append(clauses, fmt.Sprintf("aggregate_id = $%d", n))
		args = append(args, query.AggregateID)
		n++
	}
	if query.SequenceAfter > 0 {
		clauses = append(clauses, fmt.Sprintf("sequence > $%d", n))
		args = append(args, query.SequenceAfter)
		n++
	}
	where := clauses[0]
	for _, c := range clauses[1:] {
		where += " AND " + c
	}
	stmt := fmt.Sprintf(`SELECT stream_id, aggregate_type, aggregate_id, sequence, event_type, event_version, data, metadata
		FROM events WHERE %s ORDER BY sequence ASC`, where)

	rows, err := s.pool.Query(ctx, stmt, args...)
	if err != nil {
		return nil, &fabric.StorageError{Op: "load_events: query", Err: err}
	}
	defer rows.Close()

	var out []fabric.Envelope
	for rows.Next() {
		var env fabric.Envelope
		var data, metaRaw []byte
		if err := rows.Scan(&env.StreamID, &env.AggregateType, &env.AggregateID, &env.Sequence, &env.EventType, &env.EventVersion, &data, &metaRaw); err != nil {
			return nil, &fabric.StorageError{Op: "load_events: scan", Err: err}
		}
		env.Data = json.RawMessage(data)
		if err := json.Unmarshal(metaRaw, &env.Metadata); err != nil {
			return nil, &fabric.DecodeError{EventType: env.EventType, EventVersion: env.EventVersion, Reason: "metadata: " + err.Error()}
		}
		out = append(out, env)
	}
	if err := rows.Err(); err != nil {
		return nil, &fabric.StorageError{Op: "load_events: rows", Err: err}
	}
	return out, nil
}

// Subscribe returns a live Subscription delivering every envelope matching
// query in commit order, implemented as a ticker-driven poll loop — the
// same shape as the embedded backend, since polling is explicitly called
// out as an implementation detail, not a per-backend one (§4.1).
func (s *Store) Subscribe(ctx context.Context, query fabric.Query) (*fabric.Subscription, error) {
	sctx, cancel := context.WithCancel(ctx)
	ch := make(chan fabric.Delivery, s.bufferSize)

	go s.pollLoop(sctx, query, ch)

	return fabric.NewSubscription(ch, cancel), nil
}

func (s *Store) pollLoop(ctx context.Context, query fabric.Query, ch chan<- fabric.Delivery) {
	defer close(ch)
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	lastSeen := query.SequenceAfter
	lagSince := int64(-1) // last delivered sequence while a Lagged marker is owed

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if lagSince >= 0 {
				select {
				case ch <- fabric.Delivery{Err: &fabric.LaggedError{Query: query, Since: lagSince}}:
					lagSince = -1
				default:
					continue
				}
			}
			q := query
			q.SequenceAfter = lastSeen
			envs, err := s.LoadEvents(ctx, q)
			if err != nil {
				continue
			}
		batch:
			for _, env := range envs {
				select {
				case ch <- fabric.Delivery{Envelope: env}:
					lastSeen = env.Sequence
				default:
					// Buffer full: drop the rest of this batch and owe one
					// Lagged marker, delivered before anything newer.
					lagSince = lastSeen
					lastSeen = envs[len(envs)-1].Sequence
					break batch
				}
			}
		}
	}
}
