package report

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Ledger keeps a cumulative record of runs and per-file outcomes in SQLite,
// next to the one-off JSON report each run writes.
type Ledger struct {
	db *sql.DB
}

// OpenLedger opens or creates the ledger database at path.
func OpenLedger(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("error opening ledger: %w", err)
	}
	queries := []string{
		`PRAGMA journal_mode = WAL`,
		`CREATE TABLE IF NOT EXISTS runs (
            id TEXT PRIMARY KEY,
            kind TEXT NOT NULL,
            input TEXT,
            output TEXT,
            started_at TEXT,
            finished_at TEXT,
            total INTEGER DEFAULT 0,
            succeeded INTEGER DEFAULT 0,
            failed INTEGER DEFAULT 0
        );`,
		`CREATE TABLE IF NOT EXISTS entries (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            run_id TEXT NOT NULL,
            file TEXT,
            status TEXT,
            message TEXT,
            payload TEXT,
            FOREIGN KEY(run_id) REFERENCES runs(id)
        );`,
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			db.Close()
			return nil, fmt.Errorf("error initialising ledger: %w", err)
		}
	}
	return &Ledger{db: db}, nil
}

// Close releases the database.
func (l *Ledger) Close() error {
	if l == nil {
		return nil
	}
	return l.db.Close()
}

// Run is one ledger run; a nil *Run ignores every call, so callers need not
// check whether a ledger was configured.
type Run struct {
	ID     string
	ledger *Ledger
}

// Begin registers a new run.
func (l *Ledger) Begin(kind, input, output string) (*Run, error) {
	if l == nil {
		return nil, nil
	}
	id := uuid.NewString()
	_, err := l.db.Exec(`INSERT INTO runs (id, kind, input, output, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, kind, input, output, Now())
	if err != nil {
		return nil, fmt.Errorf("error recording run: %w", err)
	}
	return &Run{ID: id, ledger: l}, nil
}

// Record stores one per-file outcome; payload is stored as JSON.
func (r *Run) Record(file string, status Status, message string, payload any) error {
	if r == nil {
		return nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("error encoding ledger entry: %w", err)
	}
	_, err = r.ledger.db.Exec(`INSERT INTO entries (run_id, file, status, message, payload) VALUES (?, ?, ?, ?, ?)`,
		r.ID, file, string(status), message, string(raw))
	if err != nil {
		return fmt.Errorf("error recording entry: %w", err)
	}
	return nil
}

// Finish stores the run totals.
func (r *Run) Finish(total, succeeded, failed int) error {
	if r == nil {
		return nil
	}
	_, err := r.ledger.db.Exec(`UPDATE runs SET finished_at = ?, total = ?, succeeded = ?, failed = ? WHERE id = ?`,
		Now(), total, succeeded, failed, r.ID)
	if err != nil {
		return fmt.Errorf("error finishing run: %w", err)
	}
	return nil
}

// RunSummary is a row of the runs table.
type RunSummary struct {
	ID        string
	Kind      string
	Total     int
	Succeeded int
	Failed    int
	Entries   int
}

// Runs lists recorded runs, oldest first.
func (l *Ledger) Runs() ([]RunSummary, error) {
	rows, err := l.db.Query(`SELECT r.id, r.kind, r.total, r.succeeded, r.failed,
        (SELECT COUNT(*) FROM entries e WHERE e.run_id = r.id)
        FROM runs r ORDER BY r.started_at, r.rowid`)
	if err != nil {
		return nil, fmt.Errorf("error querying runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var s RunSummary
		if err := rows.Scan(&s.ID, &s.Kind, &s.Total, &s.Succeeded, &s.Failed, &s.Entries); err != nil {
			return nil, fmt.Errorf("error scanning run: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
