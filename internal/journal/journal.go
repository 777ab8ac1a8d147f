// Package journal persists the action history to a local SQLite database.
// History is advisory: it informs `status --history`, never planning.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"vmfleet/internal/reconcile"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS actions (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	project TEXT NOT NULL,
	machine TEXT NOT NULL,
	kind    TEXT NOT NULL,
	outcome TEXT NOT NULL,
	error   TEXT NOT NULL DEFAULT '',
	at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS actions_project_at ON actions (project, at);
`

// Journal implements reconcile.Auditor backed by SQLite.
type Journal struct {
	db *sql.DB
}

var _ reconcile.Auditor = (*Journal)(nil)

// Open creates or opens the journal database at path.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply journal schema: %w", err)
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// RecordAction appends one executed action.
func (j *Journal) RecordAction(ctx context.Context, e reconcile.AuditEntry) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO actions (project, machine, kind, outcome, error, at) VALUES (?, ?, ?, ?, ?, ?)`,
		e.Project, e.Machine, e.Kind, e.Outcome, e.Error, e.At.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert action record: %w", err)
	}
	return nil
}

// History returns the most recent entries for project, newest first.
func (j *Journal) History(ctx context.Context, project string, limit int) ([]reconcile.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT project, machine, kind, outcome, error, at FROM actions
		 WHERE project = ? ORDER BY id DESC LIMIT ?`, project, limit)
	if err != nil {
		return nil, fmt.Errorf("query action history: %w", err)
	}
	defer rows.Close()

	var out []reconcile.AuditEntry
	for rows.Next() {
		var (
			e  reconcile.AuditEntry
			at string
		)
		if err := rows.Scan(&e.Project, &e.Machine, &e.Kind, &e.Outcome, &e.Error, &at); err != nil {
			return nil, fmt.Errorf("scan action record: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, at); err == nil {
			e.At = t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
