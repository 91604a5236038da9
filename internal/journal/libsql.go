package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/flowrig/flowrig/pkg/schema"
)

// LibSQL is a Journal backed by libSQL (embedded SQLite fork).
type LibSQL struct {
	db *sql.DB
}

// OpenLibSQL opens a libSQL database at the given path and applies
// migrations. The path should be a file URI, e.g. "file:/path/to/runs.db".
func OpenLibSQL(ctx context.Context, dbPath string) (*LibSQL, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	j := &LibSQL{db: db}
	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

// DB returns the underlying *sql.DB for advanced usage.
func (j *LibSQL) DB() *sql.DB { return j.db }

func (j *LibSQL) Close() error { return j.db.Close() }

// AppendEvent appends an event with a monotonically increasing per-run
// sequence. The sequence read and insert run in one transaction so
// concurrent writers cannot interleave.
func (j *LibSQL) AppendEvent(ctx context.Context, event *Event) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// In WAL mode BeginTx may start a deferred transaction; force write
	// lock acquisition with a write-intent statement before reading the
	// sequence.
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO schema_version (version, name) VALUES (-1, '_lock_noop')`); err != nil {
		return fmt.Errorf("acquire write lock: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM schema_version WHERE version = -1`); err != nil {
		return fmt.Errorf("cleanup write lock: %w", err)
	}

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM run_events WHERE run_id = ?`, event.RunID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Sequence = seq

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO run_events (run_id, node_id, event_type, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.RunID, nullStr(event.NodeID), event.Type, nullRaw(event.Payload), event.Timestamp, seq,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		event.ID = id
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

func (j *LibSQL) Events(ctx context.Context, runID string, since int64) ([]*Event, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, run_id, node_id, event_type, payload, timestamp, sequence
		 FROM run_events WHERE run_id = ? AND sequence > ?
		 ORDER BY sequence ASC`, runID, since)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeJournal, "query events: %s", err.Error()).WithCause(err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		var nodeID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.RunID, &nodeID, &e.Type, &payload, &e.Timestamp, &e.Sequence); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeJournal, "scan event: %s", err.Error()).WithCause(err)
		}
		e.NodeID = nodeID.String
		if payload.Valid {
			e.Payload = []byte(payload.String)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func errClosed() error {
	return schema.NewError(schema.ErrCodeJournal, "journal is closed")
}

var _ Journal = (*LibSQL)(nil)
