package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/slok/rctl/internal/log"
	"github.com/slok/rctl/internal/model"
	"github.com/slok/rctl/internal/storage"
)

// RepositoryConfig is the configuration for the memory repository.
type RepositoryConfig struct {
	Logger log.Logger
}

func (c *RepositoryConfig) defaults() error {
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "storage.Memory"})
	return nil
}

// Repository is an in-memory implementation of storage.ExecutionRepository.
type Repository struct {
	executions map[string]model.ExecutionResult
	mu         sync.RWMutex
	logger     log.Logger
}

var _ storage.ExecutionRepository = &Repository{}

// NewRepository creates a new memory repository.
func NewRepository(cfg RepositoryConfig) (*Repository, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Repository{
		executions: make(map[string]model.ExecutionResult),
		logger:     cfg.Logger,
	}, nil
}

// SaveExecution stores a finished execution.
func (r *Repository) SaveExecution(ctx context.Context, e model.ExecutionResult) error {
	if e.RunID == "" {
		return fmt.Errorf("run id is required: %w", model.ErrNotValid)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.executions[e.RunID]; ok {
		return fmt.Errorf("execution %s: %w", e.RunID, model.ErrAlreadyExists)
	}
	r.executions[e.RunID] = copyResult(e)
	r.logger.Debugf("Saved execution in repository: %s", e.RunID)

	return nil
}

// GetExecution retrieves an execution by run ID.
func (r *Repository) GetExecution(ctx context.Context, runID string) (*model.ExecutionResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.executions[runID]
	if !ok {
		return nil, fmt.Errorf("execution %s: %w", runID, model.ErrNotFound)
	}

	c := copyResult(e)
	return &c, nil
}

// ListExecutions lists executions, newest first.
func (r *Repository) ListExecutions(ctx context.Context, resourceID string, limit int) ([]model.ExecutionResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	es := make([]model.ExecutionResult, 0, len(r.executions))
	for _, e := range r.executions {
		if resourceID != "" && e.ResourceID != resourceID {
			continue
		}
		es = append(es, copyResult(e))
	}

	sort.Slice(es, func(i, j int) bool {
		if !es[i].FinishedAt.Equal(es[j].FinishedAt) {
			return es[i].FinishedAt.After(es[j].FinishedAt)
		}
		return es[i].RunID > es[j].RunID
	})

	if limit > 0 && len(es) > limit {
		es = es[:limit]
	}
	return es, nil
}

func copyResult(e model.ExecutionResult) model.ExecutionResult {
	if e.ReturnCode != nil {
		rc := *e.ReturnCode
		e.ReturnCode = &rc
	}
	return e
}
