package history

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is bumped whenever schema.sql changes incompatibly.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database was written by an incompatible build.
var ErrSchemaMismatch = errors.New("schema version mismatch")

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
	timeLayout              = time.RFC3339Nano
)

// Run summarizes one batch.
type Run struct {
	ID        string
	Started   time.Time
	Duration  time.Duration
	Succeeded int
	Failed    int
	Skipped   int
	Excluded  int
	Codec     string
	Results   []Result
}

// Result is the final outcome of one original item.
type Result struct {
	ItemID     int
	SourcePath string
	Category   string
	Phase      string
	Outcome    string
	OutputPath string
	Reason     string
	Duration   time.Duration
}

// Store manages run history persistence.
type Store struct {
	db       *sql.DB
	path     string
	keepRuns int
}

// Open creates or connects to the history database at path. keepRuns <= 0
// disables pruning.
func Open(ctx context.Context, path string, keepRuns int) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("history path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Pragmas are per connection; a single connection keeps foreign_keys on.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path, keepRuns: keepRuns}
	if err := store.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database location.
func (s *Store) Path() string { return s.path }

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record inserts a run and its results in one transaction, then prunes old runs.
func (s *Store) Record(ctx context.Context, run Run) error {
	if strings.TrimSpace(run.ID) == "" {
		return errors.New("run id is required")
	}
	err := retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin record tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO runs (id, started_at, duration_ms, succeeded, failed, skipped, excluded, codec)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, run.Started.UTC().Format(timeLayout), run.Duration.Milliseconds(),
			run.Succeeded, run.Failed, run.Skipped, run.Excluded, nullableString(run.Codec),
		); err != nil {
			return fmt.Errorf("insert run: %w", err)
		}
		for _, result := range run.Results {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO results (run_id, item_id, source_path, category, phase, outcome, output_path, reason, duration_ms)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				run.ID, result.ItemID, result.SourcePath, result.Category, result.Phase, result.Outcome,
				nullableString(result.OutputPath), nullableString(result.Reason), result.Duration.Milliseconds(),
			); err != nil {
				return fmt.Errorf("insert result %d: %w", result.ItemID, err)
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return err
	}
	return s.prune(ctx)
}

// Recent returns up to limit runs, newest first, without their results.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, duration_ms, succeeded, failed, skipped, excluded, codec
		 FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Results returns the stored results of one run ordered by item id.
func (s *Store) Results(ctx context.Context, runID string) ([]Result, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT item_id, source_path, category, phase, outcome, output_path, reason, duration_ms
		 FROM results WHERE run_id = ? ORDER BY item_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var (
			r          Result
			output     sql.NullString
			reason     sql.NullString
			durationMs int64
		)
		if err := rows.Scan(&r.ItemID, &r.SourcePath, &r.Category, &r.Phase, &r.Outcome, &output, &reason, &durationMs); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		r.OutputPath = output.String
		r.Reason = reason.String
		r.Duration = time.Duration(durationMs) * time.Millisecond
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *Store) prune(ctx context.Context) error {
	if s.keepRuns <= 0 {
		return nil
	}
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`DELETE FROM runs WHERE id NOT IN (
			   SELECT id FROM runs ORDER BY started_at DESC, id DESC LIMIT ?)`, s.keepRuns)
		if err != nil {
			return fmt.Errorf("prune runs: %w", err)
		}
		return nil
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		run        Run
		started    string
		durationMs int64
		codec      sql.NullString
	)
	if err := row.Scan(&run.ID, &started, &durationMs, &run.Succeeded, &run.Failed, &run.Skipped, &run.Excluded, &codec); err != nil {
		return Run{}, fmt.Errorf("scan run: %w", err)
	}
	parsed, err := time.Parse(timeLayout, started)
	if err != nil {
		return Run{}, fmt.Errorf("parse run start %q: %w", started, err)
	}
	run.Started = parsed
	run.Duration = time.Duration(durationMs) * time.Millisecond
	run.Codec = codec.String
	return run, nil
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete %s to reset history)",
			ErrSchemaMismatch, version, schemaVersion, s.path)
	}
	return nil
}

func (s *Store) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}
