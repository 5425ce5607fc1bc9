package report

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/sofmeright/treebuild/src/scheduler"
)

// History is a SQLite-backed log of past runs.
type History struct {
	db *sql.DB
}

// RunSummary is one row of the run history.
type RunSummary struct {
	RunID     string
	Started   time.Time
	Duration  time.Duration
	Success   bool
	Images    int
	Succeeded int
	Failed    int
	Skipped   int
}

// OpenHistory opens (and creates) the history database at path.
func OpenHistory(path string) (*History, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping history: %w", err)
	}
	h := &History{db: db}
	if err := h.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate history: %w", err)
	}
	return h, nil
}

// Migrate creates the schema if needed.
func (h *History) Migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at DATETIME NOT NULL,
		duration_ms INTEGER NOT NULL,
		success INTEGER NOT NULL,
		images INTEGER NOT NULL,
		succeeded INTEGER NOT NULL,
		failed INTEGER NOT NULL,
		skipped INTEGER NOT NULL,
		data TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS run_nodes (
		run_id TEXT NOT NULL,
		node TEXT NOT NULL,
		status TEXT NOT NULL,
		duration_ms INTEGER NOT NULL,
		error TEXT DEFAULT '',
		PRIMARY KEY (run_id, node),
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_run_nodes_node ON run_nodes(node);
	`
	_, err := h.db.Exec(schema)
	return err
}

// Close closes the database.
func (h *History) Close() error {
	return h.db.Close()
}

// Save stores a report. Saving the same run twice replaces it.
func (h *History) Save(r *Report) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	tx, err := h.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM run_nodes WHERE run_id = ?`, r.RunID); err != nil {
		return fmt.Errorf("clear run nodes: %w", err)
	}
	_, err = tx.Exec(`
		INSERT INTO runs (id, started_at, duration_ms, success, images, succeeded, failed, skipped, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			started_at = excluded.started_at,
			duration_ms = excluded.duration_ms,
			success = excluded.success,
			images = excluded.images,
			succeeded = excluded.succeeded,
			failed = excluded.failed,
			skipped = excluded.skipped,
			data = excluded.data
	`, r.RunID, r.Started.UTC(), r.DurationMS, r.Success, len(r.Nodes),
		r.Count(scheduler.Succeeded), r.Count(scheduler.Failed), r.Count(scheduler.Skipped), string(data))
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for _, n := range r.Nodes {
		if _, err := tx.Exec(
			`INSERT INTO run_nodes (run_id, node, status, duration_ms, error) VALUES (?, ?, ?, ?, ?)`,
			r.RunID, n.ID, n.Status, n.DurationMS, n.Error,
		); err != nil {
			return fmt.Errorf("insert run node %s: %w", n.ID, err)
		}
	}
	return tx.Commit()
}

// List returns the most recent runs, newest first. limit <= 0 means all.
func (h *History) List(limit int) ([]RunSummary, error) {
	query := `SELECT id, started_at, duration_ms, success, images, succeeded, failed, skipped
		FROM runs ORDER BY started_at DESC, id`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := h.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var s RunSummary
		var ms int64
		if err := rows.Scan(&s.RunID, &s.Started, &ms, &s.Success, &s.Images, &s.Succeeded, &s.Failed, &s.Skipped); err != nil {
			return nil, err
		}
		s.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, s)
	}
	return out, rows.Err()
}

// Get loads the full report of one run.
func (h *History) Get(runID string) (*Report, error) {
	var data string
	err := h.db.QueryRow(`SELECT data FROM runs WHERE id = ?`, runID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("query run: %w", err)
	}

	var r Report
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return nil, fmt.Errorf("unmarshal run: %w", err)
	}
	return &r, nil
}

// NodeHistory returns the most recent statuses of one node, newest first.
func (h *History) NodeHistory(node string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := h.db.Query(`
		SELECT n.status FROM run_nodes n JOIN runs r ON r.id = n.run_id
		WHERE n.node = ? ORDER BY r.started_at DESC LIMIT ?`, node, limit)
	if err != nil {
		return nil, fmt.Errorf("node history: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
