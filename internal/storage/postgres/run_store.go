// Package postgres persists the job run audit trail in Postgres.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/video-optimizer-proxy/internal/store"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "job_runs"

// Config controls the connection pool used for job run rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// db is the subset of pgxpool.Pool the store needs; pgxmock satisfies it.
type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// RunStore implements store.RunRepository.
type RunStore struct {
	pool  db
	table string
}

var _ store.RunRepository = (*RunStore)(nil)

// NewRunStore connects to Postgres using cfg.
func NewRunStore(ctx context.Context, cfg Config) (*RunStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("database.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &RunStore{pool: pool, table: table}, nil
}

// NewRunStoreWithPool wraps an existing pool. Tests pass a pgxmock pool.
func NewRunStoreWithPool(pool db, table string) (*RunStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &RunStore{pool: pool, table: name}, nil
}

func tableName(name string) (string, error) {
	if name == "" {
		return defaultTable, nil
	}
	if !validTableName.MatchString(name) {
		return "", fmt.Errorf("invalid table name %q", name)
	}
	return name, nil
}

// Close releases the pool.
func (s *RunStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the run table when it does not exist yet.
func (s *RunStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			run_id          UUID PRIMARY KEY,
			job_id          TEXT NOT NULL DEFAULT '',
			video_id        TEXT NOT NULL DEFAULT '',
			operation       TEXT NOT NULL,
			started_at      TIMESTAMPTZ NOT NULL,
			finished_at     TIMESTAMPTZ,
			disconnected_at TIMESTAMPTZ,
			status          TEXT NOT NULL,
			error_message   TEXT
		);
		CREATE INDEX IF NOT EXISTS %[1]s_job_id_idx ON %[1]s (job_id, started_at DESC);`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("ensure %s schema: %w", s.table, err)
	}
	return nil
}

// StartRun inserts a running row.
func (s *RunStore) StartRun(ctx context.Context, run store.JobRun) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (run_id, job_id, video_id, operation, started_at, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (run_id) DO NOTHING;`, s.table)
	_, err := s.pool.Exec(ctx, query,
		run.RunID.String(),
		run.JobID,
		run.VideoID,
		run.Operation,
		run.StartedAt,
		string(store.RunRunning),
	)
	if err != nil {
		return fmt.Errorf("insert job run: %w", err)
	}
	return nil
}

// FinishRun stores the outcome of the upstream call.
func (s *RunStore) FinishRun(
	ctx context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET finished_at = $1, status = $2, error_message = $3
		WHERE run_id = $4;`, s.table)
	tag, err := s.pool.Exec(ctx, query, finishedAt, string(status), errMsg, runID.String())
	if err != nil {
		return fmt.Errorf("finish job run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("finish job run %s: %w", runID, store.ErrNotFound)
	}
	return nil
}

// MarkDisconnected records when the client left.
func (s *RunStore) MarkDisconnected(ctx context.Context, runID uuid.UUID, at time.Time) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET disconnected_at = $1
		WHERE run_id = $2 AND disconnected_at IS NULL;`, s.table)
	if _, err := s.pool.Exec(ctx, query, at, runID.String()); err != nil {
		return fmt.Errorf("mark job run disconnected: %w", err)
	}
	return nil
}

const runColumns = "run_id, job_id, video_id, operation, started_at, finished_at, disconnected_at, status, error_message"

// GetRun loads one run.
func (s *RunStore) GetRun(ctx context.Context, runID uuid.UUID) (store.JobRun, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE run_id = $1;`, runColumns, s.table)
	run, err := scanRun(s.pool.QueryRow(ctx, query, runID.String()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.JobRun{}, store.ErrNotFound
		}
		return store.JobRun{}, fmt.Errorf("get job run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs newest first, optionally filtered by job id and status.
func (s *RunStore) ListRuns(ctx context.Context, filter store.RunFilter, limit, offset int) ([]store.JobRun, error) {
	var (
		where []string
		args  []any
	)
	if filter.JobID != "" {
		args = append(args, filter.JobID)
		where = append(where, fmt.Sprintf("job_id = $%d", len(args)))
	}
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = "WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM %s %s ORDER BY started_at DESC LIMIT $%d OFFSET $%d;`,
		runColumns, s.table, clause, len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list job runs: %w", err)
	}
	defer rows.Close()

	runs := []store.JobRun{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job runs: %w", err)
	}
	return runs, nil
}

func scanRun(row pgx.Row) (store.JobRun, error) {
	var (
		run    store.JobRun
		runID  string
		status string
	)
	err := row.Scan(
		&runID,
		&run.JobID,
		&run.VideoID,
		&run.Operation,
		&run.StartedAt,
		&run.FinishedAt,
		&run.DisconnectedAt,
		&status,
		&run.ErrorMessage,
	)
	if err != nil {
		return store.JobRun{}, err
	}
	id, err := uuid.Parse(runID)
	if err != nil {
		return store.JobRun{}, fmt.Errorf("parse run id %q: %w", runID, err)
	}
	run.RunID = id
	run.Status = store.RunStatus(status)
	return run, nil
}
