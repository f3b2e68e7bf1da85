package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/telcoinsights/fabric-gateway/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Archive using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed archive.
func NewSQLite(dbPath string) (Archive, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS job_runs (
		job_id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		finished_at INTEGER,
		result_json TEXT,
		error TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_job_runs_kind ON job_runs(kind, started_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SaveJobRun creates or updates a job run record. Status transitions are
// writes of the full row; jobs write once at start and once at the end.
func (s *SQLiteStore) SaveJobRun(ctx context.Context, run *domain.JobRun) error {
	var resultJSON interface{}
	if run.Result != nil {
		data, err := json.Marshal(run.Result)
		if err != nil {
			return fmt.Errorf("marshal job result: %w", err)
		}
		resultJSON = string(data)
	}

	var finishedAt interface{}
	if !run.FinishedAt.IsZero() {
		finishedAt = run.FinishedAt.Unix()
	}

	var errText interface{}
	if run.Error != "" {
		errText = run.Error
	}

	query := `
	INSERT INTO job_runs (job_id, kind, status, started_at, finished_at, result_json, error)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(job_id) DO UPDATE SET
		status = excluded.status,
		finished_at = excluded.finished_at,
		result_json = excluded.result_json,
		error = excluded.error`

	_, err := s.db.ExecContext(ctx, query,
		run.ID, run.Kind, run.Status, run.StartedAt.Unix(),
		finishedAt, resultJSON, errText,
	)
	if err != nil {
		return fmt.Errorf("upsert job run: %w", err)
	}
	return nil
}

// GetJobRun retrieves a job run by id.
func (s *SQLiteStore) GetJobRun(ctx context.Context, id string) (*domain.JobRun, error) {
	query := `
		SELECT job_id, kind, status, started_at, finished_at, result_json, error
		FROM job_runs WHERE job_id = ?`

	run, err := scanJobRun(s.db.QueryRowContext(ctx, query, id).Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job run: %w", err)
	}
	return run, nil
}

// ListJobRuns retrieves recent runs, newest first, optionally filtered by
// kind. limit <= 0 means a default page of 50.
func (s *SQLiteStore) ListJobRuns(ctx context.Context, kind string, limit int) ([]*domain.JobRun, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT job_id, kind, status, started_at, finished_at, result_json, error
		FROM job_runs`
	args := []interface{}{}
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, kind)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query job runs: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close job run rows", "error", closeErr)
		}
	}()

	var runs []*domain.JobRun
	for rows.Next() {
		run, err := scanJobRun(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan job run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job runs: %w", err)
	}
	return runs, nil
}

func scanJobRun(scan func(dest ...any) error) (*domain.JobRun, error) {
	var run domain.JobRun
	var startedAt int64
	var finishedAt sql.NullInt64
	var resultJSON, errText sql.NullString

	if err := scan(
		&run.ID, &run.Kind, &run.Status,
		&startedAt, &finishedAt, &resultJSON, &errText,
	); err != nil {
		return nil, err
	}

	run.StartedAt = time.Unix(startedAt, 0)
	if finishedAt.Valid {
		run.FinishedAt = time.Unix(finishedAt.Int64, 0)
	}
	if resultJSON.Valid && resultJSON.String != "" {
		var result any
		if err := json.Unmarshal([]byte(resultJSON.String), &result); err == nil {
			run.Result = result
		}
	}
	run.Error = errText.String

	return &run, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
