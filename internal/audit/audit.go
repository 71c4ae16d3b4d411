// Package audit keeps a local record of every tool dispatch so a
// session can be reconstructed after the fact. Writes are best-effort;
// a broken trail must never interfere with the conversation.
package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"kota/internal/logging"
)

var slog = logging.Component("audit")

type Event struct {
	ID         int64
	Session    string
	Tool       string
	Preview    string
	Outcome    string // "call", "ok", or "error"
	Error      string
	DurationMs int64
	CreatedAt  time.Time
}

type Trail struct {
	db   *sql.DB
	path string
}

// Open creates or reuses the audit database at path.
func Open(path string) (*Trail, error) {
	if path == "" {
		return nil, errors.New("audit path must be set")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("prepare audit dir: %w", err)
	}
	db, err := openDatabase(path)
	if err != nil {
		// A corrupt or truncated file loses history, not the session:
		// move it aside and start a fresh trail.
		slog.Error("audit database unusable, recreating", map[string]any{"path": path, "error": err.Error()})
		if rerr := os.Rename(path, path+".corrupt"); rerr != nil && !os.IsNotExist(rerr) {
			return nil, fmt.Errorf("replace audit database: %w", rerr)
		}
		db, err = openDatabase(path)
		if err != nil {
			return nil, err
		}
	}

	slog.Debug("audit trail opened", map[string]any{"path": path})
	return &Trail{db: db, path: path}, nil
}

func openDatabase(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open audit trail: %w", err)
	}
	if _, err := db.ExecContext(context.Background(), `
CREATE TABLE IF NOT EXISTS tool_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session TEXT NOT NULL,
	tool TEXT NOT NULL,
	preview TEXT NOT NULL,
	outcome TEXT NOT NULL,
	error TEXT,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL
)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("init audit schema: %w", err)
	}
	return db, nil
}

// RecordCall logs a tool dispatch before it runs.
func (t *Trail) RecordCall(session, tool, preview string) error {
	_, err := t.db.ExecContext(context.Background(), `
INSERT INTO tool_events (session, tool, preview, outcome, duration_ms, created_at)
VALUES (?, ?, ?, 'call', 0, ?)`,
		session, tool, preview, time.Now())
	return err
}

// RecordResult logs the completion of a tool dispatch.
func (t *Trail) RecordResult(session, tool string, callErr error, duration time.Duration) error {
	outcome := "ok"
	errMsg := ""
	if callErr != nil {
		outcome = "error"
		errMsg = callErr.Error()
	}
	_, err := t.db.ExecContext(context.Background(), `
INSERT INTO tool_events (session, tool, preview, outcome, error, duration_ms, created_at)
VALUES (?, ?, '', ?, ?, ?, ?)`,
		session, tool, outcome, errMsg, duration.Milliseconds(), time.Now())
	return err
}

// Recent returns the newest events, most recent first.
func (t *Trail) Recent(limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := t.db.QueryContext(context.Background(), `
SELECT id, session, tool, preview, outcome, COALESCE(error, ''), duration_ms, created_at
FROM tool_events
ORDER BY id DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.Session, &ev.Tool, &ev.Preview, &ev.Outcome, &ev.Error, &ev.DurationMs, &ev.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (t *Trail) Path() string {
	return t.path
}

func (t *Trail) Close() error {
	if t.db != nil {
		return t.db.Close()
	}
	return nil
}
