// Package sqlite stores run history in an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/refactorswarm/swarm/internal/storage/migrations"
	"github.com/refactorswarm/swarm/internal/types"
)

// ErrRunNotFound is returned by GetRun for an unknown run ID.
var ErrRunNotFound = errors.New("run not found")

// SQLiteStorage keeps one row per run and one per processed file.
type SQLiteStorage struct {
	db *sql.DB
}

// New opens (creating if needed) the database at path and brings the schema
// up to date.
func New(path string) (*SQLiteStorage, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := migrations.NewManager(historyMigrations...).Apply(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLiteStorage{db: db}, nil
}

func dsn(path string) string {
	const pragmas = "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if path == ":memory:" {
		return "file::memory:?" + pragmas
	}
	return "file:" + filepath.ToSlash(path) + "?" + pragmas + "&_pragma=journal_mode(wal)"
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// RecordRun stores a run summary and its per-file results in one
// transaction. Recording the same run ID again replaces the earlier record.
func (s *SQLiteStorage) RecordRun(ctx context.Context, run *types.RunSummary) error {
	if run == nil || run.RunID == "" {
		return fmt.Errorf("run ID is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, run.RunID); err != nil {
		return fmt.Errorf("failed to replace run %s: %w", run.RunID, err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, target_dir, started_at, finished_at,
		                  files_processed, files_successful, files_failed)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, run.RunID, run.TargetDir, formatTime(run.StartedAt), formatTime(run.FinishedAt),
		run.FilesProcessed, run.FilesSuccessful, run.FilesFailed)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", run.RunID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO file_results (run_id, file, success, final_phase, iterations,
		                          max_iterations_reached, error, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare file result insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, d := range run.Details {
		_, err := stmt.ExecContext(ctx, run.RunID, d.File, d.Success, string(d.FinalPhase),
			d.Iterations, d.MaxIterationsReached, d.Error, d.Duration.Milliseconds())
		if err != nil {
			return fmt.Errorf("failed to insert result for %s: %w", d.File, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run %s: %w", run.RunID, err)
	}
	return nil
}

const runColumns = `id, target_dir, started_at, finished_at, files_processed, files_successful, files_failed`

// GetRun returns a run with its file results.
func (s *SQLiteStorage) GetRun(ctx context.Context, id string) (*types.RunSummary, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	details, err := s.GetFileResults(ctx, id)
	if err != nil {
		return nil, err
	}
	run.Details = details
	run.Tally()
	return run, nil
}

// RecentRuns returns up to limit runs, newest first, without file results.
func (s *SQLiteStorage) RecentRuns(ctx context.Context, limit int) ([]*types.RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*types.RunSummary
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run rows: %w", err)
	}
	return runs, nil
}

// GetFileResults returns the per-file results of a run ordered by path.
func (s *SQLiteStorage) GetFileResults(ctx context.Context, runID string) ([]types.FileResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT file, success, final_phase, iterations, max_iterations_reached, error, duration_ms
		FROM file_results
		WHERE run_id = ?
		ORDER BY file
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query file results: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []types.FileResult
	for rows.Next() {
		var r types.FileResult
		var phase string
		var durationMS int64
		if err := rows.Scan(&r.File, &r.Success, &phase, &r.Iterations,
			&r.MaxIterationsReached, &r.Error, &durationMS); err != nil {
			return nil, fmt.Errorf("failed to scan file result: %w", err)
		}
		r.FinalPhase = types.Phase(phase)
		r.Duration = time.Duration(durationMS) * time.Millisecond
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating file result rows: %w", err)
	}
	return results, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*types.RunSummary, error) {
	run := &types.RunSummary{}
	var started, finished string
	err := sc.Scan(&run.RunID, &run.TargetDir, &started, &finished,
		&run.FilesProcessed, &run.FilesSuccessful, &run.FilesFailed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}
	if run.StartedAt, err = parseTime(started); err != nil {
		return nil, fmt.Errorf("run %s: bad started_at: %w", run.RunID, err)
	}
	if run.FinishedAt, err = parseTime(finished); err != nil {
		return nil, fmt.Errorf("run %s: bad finished_at: %w", run.RunID, err)
	}
	return run, nil
}

// timeLayout is fixed-width so text order matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}
