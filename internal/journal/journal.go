// Package journal persists tagged cycle records to an append-only sqlite
// store. Payloads use canonical serialization (sorted map keys, round-trip
// float precision) so snapshots are byte-stable across runs.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/bastion/internal/database"
)

// RecordKind tags a journal entry.
type RecordKind string

const (
	KindParams RecordKind = "params"
	KindOrders RecordKind = "orders"
	KindVaR    RecordKind = "var"
	KindStress RecordKind = "stress"
	KindAlert  RecordKind = "alert"
)

// Record is one journaled entry.
type Record struct {
	ID        int64      `json:"id"`
	CycleID   int64      `json:"cycle_id"`
	Timestamp time.Time  `json:"timestamp"`
	Kind      RecordKind `json:"kind"`
	Payload   []byte     `json:"payload"`
}

const schema = `
CREATE TABLE IF NOT EXISTS records (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    cycle_id   INTEGER NOT NULL,
    ts         TEXT    NOT NULL,
    kind       TEXT    NOT NULL,
    payload    BLOB    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_records_kind ON records(kind, id);
CREATE INDEX IF NOT EXISTS idx_records_cycle ON records(cycle_id);
`

// Journal is the append-only store. Writes happen only from the
// orchestrator; reads are ad hoc.
type Journal struct {
	db  *database.DB
	log zerolog.Logger
}

// Open creates (or reopens) the journal database at path.
func Open(path string, log zerolog.Logger) (*Journal, error) {
	db, err := database.Open(path, database.ProfileJournal)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	if _, err := db.Conn().Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply journal schema: %w", err)
	}
	return &Journal{
		db:  db,
		log: log.With().Str("component", "journal").Logger(),
	}, nil
}

// Append canonical-serializes the payload and appends a tagged record.
func (j *Journal) Append(cycleID int64, ts time.Time, kind RecordKind, payload any) error {
	data, err := Canonical(payload)
	if err != nil {
		return fmt.Errorf("failed to serialize %s record: %w", kind, err)
	}
	_, err = j.db.Conn().Exec(
		`INSERT INTO records (cycle_id, ts, kind, payload) VALUES (?, ?, ?, ?)`,
		cycleID, ts.UTC().Format(time.RFC3339Nano), string(kind), data,
	)
	if err != nil {
		return fmt.Errorf("failed to append %s record: %w", kind, err)
	}
	return nil
}

// Recent returns up to limit most recent records of a kind, newest first.
func (j *Journal) Recent(kind RecordKind, limit int) ([]Record, error) {
	rows, err := j.db.Conn().Query(
		`SELECT id, cycle_id, ts, kind, payload FROM records WHERE kind = ? ORDER BY id DESC LIMIT ?`,
		string(kind), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var ts string
		if err := rows.Scan(&r.ID, &r.CycleID, &ts, &r.Kind, &r.Payload); err != nil {
			return nil, fmt.Errorf("failed to scan journal record: %w", err)
		}
		r.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("failed to parse journal timestamp: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Path returns the journal database file path.
func (j *Journal) Path() string { return j.db.Path() }

// Checkpoint truncates the WAL.
func (j *Journal) Checkpoint() error { return j.db.WALCheckpoint() }

// HealthCheck verifies the underlying store.
func (j *Journal) HealthCheck(ctx context.Context) error {
	return j.db.HealthCheck(ctx)
}

// Close closes the journal.
func (j *Journal) Close() error { return j.db.Close() }

// Canonical serializes a payload deterministically: encoding/json writes
// map keys in sorted order and floats with shortest round-trip precision.
// Structs serialize in field order, which is fixed at compile time.
func Canonical(payload any) ([]byte, error) {
	return json.Marshal(payload)
}
