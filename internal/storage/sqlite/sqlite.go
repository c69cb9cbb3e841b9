package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/slok/rctl/internal/log"
	"github.com/slok/rctl/internal/model"
	"github.com/slok/rctl/internal/storage"
	"github.com/slok/rctl/internal/storage/sqlite/migrations"
)

// RepositoryConfig is the configuration for the SQLite repository.
type RepositoryConfig struct {
	DBPath string
	Logger log.Logger
}

func (c *RepositoryConfig) defaults() error {
	if c.DBPath == "" {
		return fmt.Errorf("db path is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "storage.SQLite"})
	return nil
}

// Repository is a SQLite implementation of storage.ExecutionRepository.
type Repository struct {
	db     *sql.DB
	logger log.Logger
}

var _ storage.ExecutionRepository = &Repository{}

// NewRepository creates a new SQLite repository.
func NewRepository(ctx context.Context, cfg RepositoryConfig) (*Repository, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	dir := filepath.Dir(cfg.DBPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("could not create db directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", cfg.DBPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not reach database: %w", err)
	}

	version, err := migrations.Apply(db, cfg.Logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("could not prepare journal: %w", err)
	}

	cfg.Logger.Debugf("SQLite repository initialized at %s (schema v%d)", cfg.DBPath, version)

	return &Repository{db: db, logger: cfg.Logger}, nil
}

// Close closes the database connection.
func (r *Repository) Close() error { return r.db.Close() }

// SaveExecution stores a finished execution.
func (r *Repository) SaveExecution(ctx context.Context, e model.ExecutionResult) error {
	if e.RunID == "" {
		return fmt.Errorf("run id is required: %w", model.ErrNotValid)
	}

	var returnCode *int64
	if e.ReturnCode != nil {
		rc := int64(*e.ReturnCode)
		returnCode = &rc
	}

	query := `
		INSERT INTO executions (
			run_id, resource_id, status,
			output, error, return_code,
			started_at, finished_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(
		ctx,
		query,
		e.RunID,
		e.ResourceID,
		e.Status,
		e.Output,
		e.Error,
		returnCode,
		e.StartedAt.UnixMilli(),
		e.FinishedAt.UnixMilli(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: executions.") {
			return fmt.Errorf("execution %s already exists: %w", e.RunID, model.ErrAlreadyExists)
		}
		return fmt.Errorf("could not insert execution: %w", err)
	}

	r.logger.Debugf("Saved execution in repository: %s", e.RunID)
	return nil
}

// GetExecution retrieves an execution by run ID.
func (r *Repository) GetExecution(ctx context.Context, runID string) (*model.ExecutionResult, error) {
	query := `
		SELECT
			run_id, resource_id, status,
			output, error, return_code,
			started_at, finished_at
		FROM executions
		WHERE run_id = ?
	`

	e, err := r.scanRow(r.db.QueryRowContext(ctx, query, runID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("execution %s: %w", runID, model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not query execution: %w", err)
	}

	return &e, nil
}

// ListExecutions lists executions, newest first.
func (r *Repository) ListExecutions(ctx context.Context, resourceID string, limit int) ([]model.ExecutionResult, error) {
	query := `
		SELECT
			run_id, resource_id, status,
			output, error, return_code,
			started_at, finished_at
		FROM executions
		WHERE (? = '' OR resource_id = ?)
		ORDER BY finished_at DESC, run_id DESC
		LIMIT ?
	`

	if limit <= 0 {
		limit = -1
	}

	rows, err := r.db.QueryContext(ctx, query, resourceID, resourceID, limit)
	if err != nil {
		return nil, fmt.Errorf("could not query executions: %w", err)
	}
	defer rows.Close()

	executions := []model.ExecutionResult{}
	for rows.Next() {
		e, err := r.scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("could not scan row: %w", err)
		}
		executions = append(executions, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return executions, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func (r *Repository) scanRow(s scanner) (model.ExecutionResult, error) {
	var (
		e                     model.ExecutionResult
		status                string
		returnCode            sql.NullInt64
		startedAt, finishedAt int64
	)

	err := s.Scan(
		&e.RunID,
		&e.ResourceID,
		&status,
		&e.Output,
		&e.Error,
		&returnCode,
		&startedAt,
		&finishedAt,
	)
	if err != nil {
		return model.ExecutionResult{}, err
	}

	e.Status = model.ExecutionStatus(status)
	if returnCode.Valid {
		rc := int(returnCode.Int64)
		e.ReturnCode = &rc
	}
	e.StartedAt = timeFromUnixMilli(startedAt)
	e.FinishedAt = timeFromUnixMilli(finishedAt)

	return e, nil
}

func timeFromUnixMilli(ms int64) time.Time { return time.UnixMilli(ms).UTC() }
