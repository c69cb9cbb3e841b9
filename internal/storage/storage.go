package storage

import (
	"context"

	"github.com/slok/rctl/internal/model"
)

// ExecutionRepository is the interface for the finished executions journal.
type ExecutionRepository interface {
	SaveExecution(ctx context.Context, r model.ExecutionResult) error
	GetExecution(ctx context.Context, runID string) (*model.ExecutionResult, error)
	// ListExecutions returns the newest executions first. An empty resourceID lists all
	// resources, a limit <= 0 means no limit.
	ListExecutions(ctx context.Context, resourceID string, limit int) ([]model.ExecutionResult, error)
}
