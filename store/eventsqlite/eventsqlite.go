// Package eventsqlite implements fabric.EventStore using pure-Go SQLite
// (modernc.org/sqlite). Zero CGO required, grounded on store/sqlite's
// embedded-file-database idiom: a single shared connection
// (SetMaxOpenConns(1)) so every writer serializes through one connection,
// eliminating SQLITE_BUSY instead of fighting it with busy_timeout retries.
package eventsqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nevindra/fabric"
	"github.com/nevindra/fabric/store"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store. When set, the store
// emits debug logs for every operation including timing. If not set, no
// logs are emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// WithPollInterval overrides the default 100ms Subscribe polling interval
// (§4.1 "Algorithm — subscription": "polling with a short interval, e.g.
// 100ms... an implementation knob").
func WithPollInterval(d time.Duration) StoreOption {
	return func(s *Store) { s.pollInterval = d }
}

// WithBufferSize overrides the default 256-item bounded delivery channel.
func WithBufferSize(n int) StoreOption {
	return func(s *Store) { s.bufferSize = n }
}

// nopLogger discards all output; the package-local default.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// Store implements fabric.EventStore backed by a local SQLite file.
type Store struct {
	db           *sql.DB
	logger       *slog.Logger
	pollInterval time.Duration
	bufferSize   int
}

var _ fabric.EventStore = (*Store)(nil)

// New opens a Store using a local SQLite file at dbPath. It opens a single
// shared connection (SetMaxOpenConns(1)) so all goroutines serialize
// through one connection, the same idiom store/sqlite.New uses for the
// same reason. Decoding stored payloads back into typed Events (via a
// fabric.EventTypeRegistry) is the caller's concern, applied to the
// Envelopes LoadEvents/Subscribe return.
func New(dbPath string, opts ...StoreOption) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("eventsqlite: open %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{
		db:           db,
		logger:       nopLogger,
		pollInterval: 100 * time.Millisecond,
		bufferSize:   256,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// DB returns the underlying *sql.DB, mainly for tests that want to inspect
// rows directly.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the underlying connection.
func (s *Store) Close() error { return s.db.Close() }

// Init creates the events table and its indexes if they do not already
// exist (§4.1/§6 "Storage schema").
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	s.logger.Debug("eventsqlite: init started")

	const createTable = `
CREATE TABLE IF NOT EXISTS events (
  stream_id       TEXT    NOT NULL,
  aggregate_type  TEXT    NOT NULL,
  aggregate_id    TEXT    NOT NULL,
  sequence        INTEGER NOT NULL,
  event_type      TEXT    NOT NULL,
  event_version   TEXT    NOT NULL,
  data            TEXT    NOT NULL,
  metadata        TEXT    NOT NULL,
  PRIMARY KEY (stream_id, aggregate_type, aggregate_id, sequence)
)`
	if _, err := s.db.ExecContext(ctx, createTable); err != nil {
		return fmt.Errorf("eventsqlite: create table: %w", err)
	}

	for _, idx := range store.Indexes {
		stmt := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON events(%s)", idx.Name, columnList(idx.Columns))
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("eventsqlite: create index %s: %w", idx.Name, err)
		}
	}

	s.logger.Debug("eventsqlite: init ok", "duration", time.Since(start))
	return nil
}

func columnList(cols []string) string {
	out := cols[0]
	for _, c := range cols[1:] {
		out += ", " + c
	}
	return out
}

// PushEvent assigns the next sequence for (streamID, event's aggregate
// type, aggregateID) inside one transaction (read max, insert, commit) per
// §4.1's sequence-assignment algorithm. The Store's single connection
// (SetMaxOpenConns(1)) is held by the transaction until it ends, so
// concurrent PushEvent calls on one Store run one after another; a
// primary-key conflict is reported as *fabric.DuplicateError.
func (s *Store) PushEvent(ctx context.Context, streamID, aggregateID string, event fabric.Event, meta fabric.Metadata) (fabric.Envelope, error) {
	start := time.Now()
	data, err := fabric.Encode(event)
	if err != nil {
		return fabric.Envelope{}, err
	}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return fabric.Envelope{}, &fabric.StorageError{Op: "push_event: encode metadata", Err: err}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fabric.Envelope{}, &fabric.StorageError{Op: "push_event: begin", Err: err}
	}
	defer tx.Rollback()

	aggregateType := fabric.AggregateTypeOf(event)
	var maxSeq sql.NullInt64
	err = tx.QueryRowContext(ctx,
		`SELECT MAX(sequence) FROM events WHERE stream_id = ? AND aggregate_type = ? AND aggregate_id = ?`,
		streamID, aggregateType, aggregateID,
	).Scan(&maxSeq)
	if err != nil {
		return fabric.Envelope{}, &fabric.StorageError{Op: "push_event: max sequence", Err: err}
	}
	seq := maxSeq.Int64 + 1

	env := fabric.Envelope{
		StreamID:      streamID,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Sequence:      seq,
		EventType:     event.EventType(),
		EventVersion:  event.EventVersion(),
		Data:          data,
		Metadata:      meta,
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (stream_id, aggregate_type, aggregate_id, sequence, event_type, event_version, data, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		env.StreamID, env.AggregateType, env.AggregateID, env.Sequence, env.EventType, env.EventVersion, string(data), string(metaBytes),
	)
	if err != nil {
		if isUniqueConstraintViolation(err) {
			return fabric.Envelope{}, &fabric.DuplicateError{StreamID: streamID, AggregateType: env.AggregateType, AggregateID: aggregateID, Sequence: seq}
		}
		return fabric.Envelope{}, &fabric.StorageError{Op: "push_event: insert", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return fabric.Envelope{}, &fabric.StorageError{Op: "push_event: commit", Err: err}
	}

	s.logger.Debug("eventsqlite: push_event ok", "aggregate_id", aggregateID, "sequence", seq, "event_type", env.EventType, "duration", time.Since(start))
	return env, nil
}

// isUniqueConstraintViolation reports whether err is a SQLite primary-key
// conflict, meaning a concurrent writer won the sequence race.
func isUniqueConstraintViolation(err error) bool {
	return containsAny(err.Error(), "UNIQUE constraint failed", "constraint failed: UNIQUE")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if len(sub) <= len(s) {
			for i := 0; i+len(sub) <= len(s); i++ {
				if s[i:i+len(sub)] == sub {
					return true
				}
			}
		}
	}
	return false
}

// LoadEvents returns envelopes matching query, ordered by sequence
// ascending.
func (s *Store) LoadEvents(ctx context.Context, query fabric.Query) ([]fabric.Envelope, error) {
	start := time.Now()
	clauses := []string{"stream_id = ?"}
	args := []any{query.StreamID}
	if query.EventType != "" {
		clauses = append(clauses, "event_type = ?")
		args = append(args, query.EventType)
	}
	if query.AggregateID != "" {
		clauses = append(clauses, "aggregate_id = ?")
		args = append(args, query.AggregateID)
	}
	if query.SequenceAfter > 0 {
		clauses = append(clauses, "sequence > ?")
		args = append(args, query.SequenceAfter)
	}

	where := clauses[0]
	for _, c := range clauses[1:] {
		where += " AND " + c
	}
	stmt := fmt.Sprintf(`SELECT stream_id, aggregate_type, aggregate_id, sequence, event_type, event_version, data, metadata
		FROM events WHERE %s ORDER BY sequence ASC`, where)

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, &fabric.StorageError{Op: "load_events: query", Err: err}
	}
	defer rows.Close()

	var out []fabric.Envelope
	for rows.Next() {
		var env fabric.Envelope
		var data, metaRaw string
		if err := rows.Scan(&env.StreamID, &env.AggregateType, &env.AggregateID, &env.Sequence, &env.EventType, &env.EventVersion, &data, &metaRaw); err != nil {
			return nil, &fabric.StorageError{Op: "load_events: scan", Err: err}
		}
		env.Data = json.RawMessage(data)
		if err := json.Unmarshal([]byte(metaRaw), &env.Metadata); err != nil {
			return nil, &fabric.DecodeError{EventType: env.EventType, EventVersion: env.EventVersion, Reason: "metadata: " + err.Error()}
		}
		out = append(out, env)
	}
	if err := rows.Err(); err != nil {
		return nil, &fabric.StorageError{Op: "load_events: rows", Err: err}
	}

	s.logger.Debug("eventsqlite: load_events ok", "stream_id", query.StreamID, "count", len(out), "duration", time.Since(start))
	return out, nil
}

// Subscribe returns a live Subscription delivering every envelope matching
// query in commit order. Implemented as a ticker-driven poll loop, grounded
// directly on the scheduler pattern of time.NewTicker plus
// select{<-ctx.Done(); <-ticker.C}. A bounded channel provides backpressure;
// when it is full, the rest of the current poll's batch is dropped and a
// single *fabric.LaggedError marker (Since: the last delivered sequence) is
// delivered before any newer envelope, instead of blocking the poller.
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
				s.logger.Warn("eventsqlite: subscription poll failed", "error", err)
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
