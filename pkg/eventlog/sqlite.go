// SPDX-License-Identifier: Apache-2.0

package eventlog

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteMirror mirrors appended events into SQLite for ad-hoc querying.
// It is an audit surface, not a recovery path: replaying the JSONL journal
// remains the only defined way to reconstruct state.
type SQLiteMirror struct {
	db *sql.DB
}

// NewSQLiteMirror creates a SQLite-backed event mirror and ensures schema.
func NewSQLiteMirror(db *sql.DB) (*SQLiteMirror, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if err := ensureEventSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteMirror{db: db}, nil
}

// OpenSQLiteMirror opens a SQLite database at path and returns a mirror.
func OpenSQLiteMirror(path string) (*SQLiteMirror, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite mirror: %w", err)
	}
	return NewSQLiteMirror(db)
}

// Write implements Sink.
func (m *SQLiteMirror) Write(event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	actionType := ""
	target := ""
	if event.Action != nil {
		actionType = event.Action.Type
		target = event.Action.Target
	}
	_, err = m.db.Exec(`
		INSERT INTO session_events (seq, ts, type, session_id, action_type, target, payload_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		event.Sequence,
		event.Timestamp.UTC(),
		string(event.Type),
		event.SessionID,
		actionType,
		target,
		string(payload),
	)
	return err
}

// List returns mirrored events for a session in sequence order.
func (m *SQLiteMirror) List(sessionID string) ([]Event, error) {
	rows, err := m.db.Query(`
		SELECT payload_json FROM session_events
		WHERE session_id = ?
		ORDER BY seq ASC, rowid ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var event Event
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			return nil, fmt.Errorf("decode mirrored event: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// Close closes the underlying database.
func (m *SQLiteMirror) Close() error {
	return m.db.Close()
}

func ensureEventSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS session_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			seq INTEGER NOT NULL,
			ts TIMESTAMP NOT NULL,
			type TEXT NOT NULL,
			session_id TEXT,
			action_type TEXT,
			target TEXT,
			payload_json TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_session_events_session ON session_events(session_id);
		CREATE INDEX IF NOT EXISTS idx_session_events_type ON session_events(type);
	`)
	return err
}
