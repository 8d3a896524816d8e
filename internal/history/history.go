// Package history journals completed runs in a local sqlite database.
// Recording is best-effort: a journal failure is logged by the caller and
// never fails the run itself.
package history

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"multicloud-deploy/internal/models"
)

type Store struct {
	db *sql.DB
}

// Run is one journaled orchestration run.
type Run struct {
	RunID       string    `json:"run_id"`
	Cloud       string    `json:"cloud"`
	Environment string    `json:"environment"`
	Region      string    `json:"region"`
	Project     string    `json:"project"`
	Action      string    `json:"action"`
	Status      string    `json:"status"`
	Adds        int       `json:"adds"`
	Changes     int       `json:"changes"`
	Destroys    int       `json:"destroys"`
	DurationMS  int64     `json:"duration_ms"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to history database: %w", err)
	}

	createTable := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT UNIQUE NOT NULL,
		cloud TEXT NOT NULL,
		environment TEXT NOT NULL,
		region TEXT NOT NULL,
		project TEXT NOT NULL,
		action TEXT NOT NULL,
		status TEXT NOT NULL,
		adds INTEGER NOT NULL DEFAULT 0,
		changes INTEGER NOT NULL DEFAULT 0,
		destroys INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);`
	if _, err := db.Exec(createTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create runs table: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Record journals one completed run.
func (s *Store) Record(req *models.DeploymentRequest, res *models.DeploymentResult) error {
	var adds, changes, destroys int
	if res.Changes != nil {
		adds, changes, destroys = res.Changes.Add, res.Changes.Change, res.Changes.Destroy
	}

	stmt, err := s.db.Prepare(`INSERT INTO runs
		(run_id, cloud, environment, region, project, action, status, adds, changes, destroys, duration_ms, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	_, err = stmt.Exec(
		res.RunID, string(req.Cloud), string(req.Environment), req.Region, req.Project,
		string(res.Action), string(res.Status), adds, changes, destroys,
		res.Duration.Milliseconds(), res.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// Recent returns the newest n runs.
func (s *Store) Recent(n int) ([]Run, error) {
	rows, err := s.db.Query(`SELECT run_id, cloud, environment, region, project, action, status,
		adds, changes, destroys, duration_ms, COALESCE(error, ''), created_at
		FROM runs ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.RunID, &r.Cloud, &r.Environment, &r.Region, &r.Project,
			&r.Action, &r.Status, &r.Adds, &r.Changes, &r.Destroys,
			&r.DurationMS, &r.Error, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
