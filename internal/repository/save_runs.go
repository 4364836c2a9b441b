package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/octobees/cardscan/api/internal/entity"
)

// ErrSaveRunNotFound is returned when no run matches the identifier.
var ErrSaveRunNotFound = errors.New("save run not found")

const defaultRecentLimit = 20

// SaveRunsRepository persists the audit trail of grid saves.
type SaveRunsRepository interface {
	Insert(ctx context.Context, run *entity.SaveRun) error
	Recent(ctx context.Context, limit int) ([]entity.SaveRun, error)
	FindByID(ctx context.Context, id uuid.UUID) (*entity.SaveRun, error)
}

type pgxPool interface {
	QueryRow(ctx context.Context, query string, args ...any) pgx.Row
	Query(ctx context.Context, query string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error)
}

var _ pgxPool = (*pgxpool.Pool)(nil)

// PGXSaveRunsRepository implements SaveRunsRepository with pgx.
type PGXSaveRunsRepository struct {
	pool pgxPool
}

// NewPGXSaveRunsRepository wires a pgx backed repository.
func NewPGXSaveRunsRepository(pool *pgxpool.Pool) *PGXSaveRunsRepository {
	return &PGXSaveRunsRepository{pool: pool}
}

const createSaveRunsTable = `
CREATE TABLE IF NOT EXISTS save_runs (
    id          UUID PRIMARY KEY,
    request_id  TEXT NOT NULL DEFAULT '',
    match_mode  TEXT NOT NULL,
    changed     INTEGER NOT NULL,
    updated     INTEGER NOT NULL,
    failed      INTEGER NOT NULL,
    failures    JSONB NOT NULL DEFAULT '{}'::jsonb,
    started_at  TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ NOT NULL
)`

// EnsureSchema creates the save_runs table when it does not exist.
func (r *PGXSaveRunsRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, createSaveRunsTable); err != nil {
		return fmt.Errorf("create save_runs table: %w", err)
	}
	return nil
}

// Insert stores one run. A zero ID is replaced by a fresh UUID.
func (r *PGXSaveRunsRepository) Insert(ctx context.Context, run *entity.SaveRun) error {
	if run == nil {
		return errors.New("save run is nil")
	}
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	failures := run.Failures
	if failures == nil {
		failures = map[string]string{}
	}
	payload, err := json.Marshal(failures)
	if err != nil {
		return fmt.Errorf("marshal failures: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
        INSERT INTO save_runs (id, request_id, match_mode, changed, updated, failed, failures, started_at, finished_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
    `, run.ID, run.RequestID, run.MatchMode, run.Changed, run.Updated, run.Failed, payload, run.StartedAt, run.FinishedAt)
	if err != nil {
		return fmt.Errorf("insert save run: %w", err)
	}
	return nil
}

// Recent lists the latest runs, newest first.
func (r *PGXSaveRunsRepository) Recent(ctx context.Context, limit int) ([]entity.SaveRun, error) {
	if limit <= 0 || limit > 100 {
		limit = defaultRecentLimit
	}
	rows, err := r.pool.Query(ctx, `
        SELECT id, request_id, match_mode, changed, updated, failed, failures, started_at, finished_at
        FROM save_runs
        ORDER BY started_at DESC
        LIMIT $1
    `, limit)
	if err != nil {
		return nil, fmt.Errorf("list save runs: %w", err)
	}
	defer rows.Close()

	runs := make([]entity.SaveRun, 0)
	for rows.Next() {
		run, err := scanSaveRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan save run: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate save runs: %w", err)
	}
	return runs, nil
}

// FindByID fetches one run.
func (r *PGXSaveRunsRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.SaveRun, error) {
	row := r.pool.QueryRow(ctx, `
        SELECT id, request_id, match_mode, changed, updated, failed, failures, started_at, finished_at
        FROM save_runs WHERE id = $1
    `, id)
	run, err := scanSaveRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSaveRunNotFound
		}
		return nil, fmt.Errorf("query save run: %w", err)
	}
	return run, nil
}

func scanSaveRun(row pgx.Row) (*entity.SaveRun, error) {
	var (
		run      entity.SaveRun
		failures []byte
	)
	if err := row.Scan(&run.ID, &run.RequestID, &run.MatchMode, &run.Changed, &run.Updated, &run.Failed, &failures, &run.StartedAt, &run.FinishedAt); err != nil {
		return nil, err
	}
	if len(failures) > 0 {
		if err := json.Unmarshal(failures, &run.Failures); err != nil {
			return nil, fmt.Errorf("decode failures: %w", err)
		}
	}
	return &run, nil
}

var _ SaveRunsRepository = (*PGXSaveRunsRepository)(nil)
