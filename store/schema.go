// Package store holds the schema shared by both Event Store backends
// (store/eventsqlite, store/eventpg), per §4.1/§6's "Storage schema (either
// backend)". Keeping the column list, primary key, and index set here as
// named constants is what keeps the two Init() implementations textually
// aligned even though one speaks SQLite DDL and the other Postgres DDL.
package store

// EventsTable is the table name both backends use.
const EventsTable = "events"

// EventsColumns lists the events table's columns in DDL order. sequence is
// SIGNED/INTEGER in the embedded backend and BIGINT in the networked
// backend; data/metadata are JSON text in the embedded backend and JSONB in
// the networked backend — everything else is textually identical.
var EventsColumns = []string{
	"stream_id",
	"aggregate_type",
	"aggregate_id",
	"sequence",
	"event_type",
	"event_version",
	"data",
	"metadata",
}

// PrimaryKeyColumns is the composite primary key from §4.1: total order
// within one (stream_id, aggregate_type, aggregate_id) triple is enforced
// by making sequence part of the key, not by a separate unique index.
var PrimaryKeyColumns = []string{"stream_id", "aggregate_type", "aggregate_id", "sequence"}

// Indexes lists the three secondary indexes required by §4.1/§6, each
// named so both backends' CREATE INDEX IF NOT EXISTS statements agree.
var Indexes = []struct {
	Name    string
	Columns []string
}{
	{Name: "idx_events_stream_sequence", Columns: []string{"stream_id", "sequence"}},
	{Name: "idx_events_type_sequence", Columns: []string{"event_type", "sequence"}},
	{Name: "idx_events_aggregate_sequence", Columns: []string{"aggregate_id", "sequence"}},
}
