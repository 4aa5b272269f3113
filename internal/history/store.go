// Package history provides a SQLite-backed store of planner run reports.
package history

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/pressly/goose/v3"

	"github.com/rand/planner/internal/report"
)

//go:embed migrations/*.sql
var migrations embed.FS

// timeLayout sorts lexically in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Errors returned by the store.
var (
	ErrNotFound  = errors.New("run not found")
	ErrDuplicate = errors.New("run already recorded")
	ErrNilReport = errors.New("report is nil")
)

// Store manages the run history database.
type Store struct {
	db      *sql.DB
	mu      sync.RWMutex
	path    string
	version int64
}

// Options configures the store.
type Options struct {
	// Path to the SQLite database file. If empty, uses an in-memory database.
	Path string

	// CreateIfNotExists creates the parent directory of Path.
	CreateIfNotExists bool
}

// Run is the summary row of a recorded report.
type Run struct {
	RunID          string    `json:"run_id" yaml:"run_id"`
	CreatedAt      time.Time `json:"created_at" yaml:"created_at"`
	PipelineName   string    `json:"pipeline_name" yaml:"pipeline_name"`
	PipelineDigest string    `json:"pipeline_digest" yaml:"pipeline_digest"`
	Iterations     int       `json:"iterations" yaml:"iterations"`
	Simulations    int       `json:"simulations" yaml:"simulations"`
	FrontierSize   int       `json:"frontier_size" yaml:"frontier_size"`
	ElapsedSeconds float64   `json:"elapsed_seconds" yaml:"elapsed_seconds"`
	TerminatedBy   string    `json:"terminated_by" yaml:"terminated_by"`
	Seed           uint64    `json:"seed" yaml:"seed"`

	// BestAccuracy is the highest frontier accuracy; zero when the frontier
	// was empty.
	BestAccuracy float64 `json:"best_accuracy" yaml:"best_accuracy"`
}

// Open opens or creates a history store.
func Open(opts Options) (*Store, error) {
	var dsn string

	if opts.Path == "" {
		dsn = "file::memory:"
	} else {
		if opts.CreateIfNotExists {
			if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
		dsn = "file:" + opts.Path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if opts.Path == "" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	version, err := migrate(context.Background(), db)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, path: opts.Path, version: version}, nil
}

// migrate applies pending schema migrations and returns the schema version.
func migrate(ctx context.Context, db *sql.DB) (int64, error) {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return 0, err
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return 0, fmt.Errorf("load migrations: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return 0, fmt.Errorf("migrate schema: %w", err)
	}
	version, err := provider.GetDBVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path returns the database file path; empty for in-memory stores.
func (s *Store) Path() string {
	return s.path
}

// SchemaVersion returns the applied migration version.
func (s *Store) SchemaVersion() int64 {
	return s.version
}

// Save records a report. Saving the same run id twice returns ErrDuplicate.
func (s *Store) Save(ctx context.Context, r *report.Report) error {
	if r == nil {
		return ErrNilReport
	}

	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	var best sql.NullFloat64
	if p := r.Frontier.Recommendations.BestAccuracy; p != nil {
		best = sql.NullFloat64{Float64: p.Accuracy, Valid: true}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, created_at, pipeline_name, pipeline_digest,
			iterations, simulations, frontier_size, elapsed_seconds,
			terminated_by, best_accuracy, seed, report)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.RunID, r.CreatedAt.UTC().Format(timeLayout), r.Pipeline.Name, r.Pipeline.Digest,
		r.Stats.Iterations, r.Stats.Simulations, r.Stats.FrontierSize, r.Stats.ElapsedSeconds,
		r.Stats.TerminatedBy, best, int64(r.Stats.Seed), string(data),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: %s", ErrDuplicate, r.RunID)
		}
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// Get returns the full report of a run.
func (s *Store) Get(ctx context.Context, runID string) (*report.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var data string
	err := s.db.QueryRowContext(ctx, "SELECT report FROM runs WHERE run_id = ?", runID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return report.Decode([]byte(data))
}

// List returns the most recent runs, newest first. Non-positive limit
// returns every run.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	return s.list(ctx, "", limit)
}

// ListByPipeline returns the most recent runs that started from the
// pipeline with the given digest.
func (s *Store) ListByPipeline(ctx context.Context, digest string, limit int) ([]Run, error) {
	return s.list(ctx, digest, limit)
}

func (s *Store) list(ctx context.Context, digest string, limit int) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT run_id, created_at, pipeline_name, pipeline_digest, iterations, " +
		"simulations, frontier_size, elapsed_seconds, terminated_by, best_accuracy, seed FROM runs WHERE 1=1"
	var args []any

	if digest != "" {
		query += " AND pipeline_digest = ?"
		args = append(args, digest)
	}

	query += " ORDER BY created_at DESC, rowid DESC"

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
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

// Delete removes a run.
func (s *Store) Delete(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx, "DELETE FROM runs WHERE run_id = ?", runID)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	return nil
}

// Count returns the number of recorded runs.
func (s *Store) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs").Scan(&n); err != nil {
		return 0, fmt.Errorf("count runs: %w", err)
	}
	return n, nil
}

func scanRun(rows *sql.Rows) (Run, error) {
	var (
		run     Run
		created string
		best    sql.NullFloat64
		seed    int64
	)
	err := rows.Scan(
		&run.RunID, &created, &run.PipelineName, &run.PipelineDigest,
		&run.Iterations, &run.Simulations, &run.FrontierSize, &run.ElapsedSeconds,
		&run.TerminatedBy, &best, &seed,
	)
	if err != nil {
		return Run{}, fmt.Errorf("scan run: %w", err)
	}

	run.CreatedAt, err = time.Parse(timeLayout, created)
	if err != nil {
		return Run{}, fmt.Errorf("parse created_at of %s: %w", run.RunID, err)
	}
	run.BestAccuracy = best.Float64
	run.Seed = uint64(seed)
	return run, nil
}
