// Package journal persists pipeline events and dispatch markers in a
// local SQLite database. The journal is an audit surface and a local
// idempotency backstop; the external tracker stays the source of truth
// for record state.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/cisift/cisift/internal/events"
)

// Fixed-width fraction so stored timestamps sort lexically.
const timestampFormat = "2006-01-02T15:04:05.000000000Z07:00"

const schema = `
CREATE TABLE IF NOT EXISTS pipeline_events (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	timestamp DATETIME NOT NULL,
	record_id TEXT,
	run_url TEXT,
	severity TEXT NOT NULL,
	message TEXT NOT NULL,
	data TEXT
);

CREATE INDEX IF NOT EXISTS idx_pipeline_events_record
	ON pipeline_events(record_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_pipeline_events_timestamp
	ON pipeline_events(timestamp);

CREATE TABLE IF NOT EXISTS dispatch_markers (
	record_id TEXT PRIMARY KEY,
	dispatched_at DATETIME NOT NULL
);
`

// SQLite is a file-backed journal.
type SQLite struct {
	db *sql.DB
}

// Open creates or opens a journal database at path, initializing the
// schema. WAL mode keeps concurrent pipeline invocations from blocking
// each other.
func Open(path string) (*SQLite, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	db, err := sql.Open("sqlite3", "file:"+path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping journal database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize journal schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close releases the database handle.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// StoreEvent persists one pipeline event.
func (s *SQLite) StoreEvent(ctx context.Context, event *events.PipelineEvent) error {
	var dataJSON []byte
	if event.Data != nil {
		var err error
		dataJSON, err = json.Marshal(event.Data)
		if err != nil {
			return fmt.Errorf("failed to marshal event data: %w", err)
		}
	}

	query := `
		INSERT INTO pipeline_events (id, type, timestamp, record_id, run_url, severity, message, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.Type,
		event.Timestamp.UTC().Format(timestampFormat),
		event.RecordID,
		event.RunURL,
		event.Severity,
		event.Message,
		string(dataJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to store event (type=%s, record=%s): %w", event.Type, event.RecordID, err)
	}
	return nil
}

// RecentEvents returns the newest events, newest first.
func (s *SQLite) RecentEvents(ctx context.Context, limit int) ([]*events.PipelineEvent, error) {
	query := `
		SELECT id, type, timestamp, record_id, run_url, severity, message, data
		FROM pipeline_events
		ORDER BY timestamp DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// EventsByRecord returns every event concerning one tracked record,
// oldest first.
func (s *SQLite) EventsByRecord(ctx context.Context, recordID string) ([]*events.PipelineEvent, error) {
	query := `
		SELECT id, type, timestamp, record_id, run_url, severity, message, data
		FROM pipeline_events
		WHERE record_id = ?
		ORDER BY timestamp ASC
	`
	rows, err := s.db.QueryContext(ctx, query, recordID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events for %s: %w", recordID, err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]*events.PipelineEvent, error) {
	var out []*events.PipelineEvent
	for rows.Next() {
		var ev events.PipelineEvent
		var timestamp string
		var dataJSON sql.NullString

		if err := rows.Scan(&ev.ID, &ev.Type, &timestamp, &ev.RecordID, &ev.RunURL,
			&ev.Severity, &ev.Message, &dataJSON); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}

		parsed, err := time.Parse(time.RFC3339Nano, timestamp)
		if err != nil {
			return nil, fmt.Errorf("failed to parse event timestamp %q: %w", timestamp, err)
		}
		ev.Timestamp = parsed

		if dataJSON.Valid && dataJSON.String != "" {
			if err := json.Unmarshal([]byte(dataJSON.String), &ev.Data); err != nil {
				return nil, fmt.Errorf("failed to unmarshal event data: %w", err)
			}
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}

// MarkDispatched records that a fix trigger was emitted for recordID.
// Re-marking is a no-op.
func (s *SQLite) MarkDispatched(ctx context.Context, recordID string) error {
	query := `INSERT OR IGNORE INTO dispatch_markers (record_id, dispatched_at) VALUES (?, ?)`
	if _, err := s.db.ExecContext(ctx, query, recordID, time.Now().UTC().Format(timestampFormat)); err != nil {
		return fmt.Errorf("failed to mark %s dispatched: %w", recordID, err)
	}
	return nil
}

// WasDispatched reports whether a fix trigger was previously emitted
// for recordID.
func (s *SQLite) WasDispatched(ctx context.Context, recordID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM dispatch_markers WHERE record_id = ?`, recordID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check dispatch marker for %s: %w", recordID, err)
	}
	return true, nil
}

// Counts summarizes the journal for the status command.
type Counts struct {
	TotalEvents   int
	ByType        map[events.EventType]int
	DispatchCount int
}

// GetCounts returns journal summary counts.
func (s *SQLite) GetCounts(ctx context.Context) (*Counts, error) {
	counts := &Counts{ByType: make(map[events.EventType]int)}

	rows, err := s.db.QueryContext(ctx,
		`SELECT type, COUNT(*) FROM pipeline_events GROUP BY type`)
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var eventType events.EventType
		var n int
		if err := rows.Scan(&eventType, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count row: %w", err)
		}
		counts.ByType[eventType] = n
		counts.TotalEvents += n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM dispatch_markers`).Scan(&counts.DispatchCount); err != nil {
		return nil, fmt.Errorf("failed to count dispatch markers: %w", err)
	}

	return counts, nil
}
