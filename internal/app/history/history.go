package history

import (
	"context"
	"fmt"

	"github.com/slok/rctl/internal/log"
	"github.com/slok/rctl/internal/model"
	"github.com/slok/rctl/internal/storage"
)

const defaultLimit = 20

// ServiceConfig is the configuration for the history service.
type ServiceConfig struct {
	Repository storage.ExecutionRepository
	Logger     log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}

	return nil
}

// Service lists the finished executions journal.
type Service struct {
	repo   storage.ExecutionRepository
	logger log.Logger
}

// NewService creates a new history service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		repo:   cfg.Repository,
		logger: cfg.Logger,
	}, nil
}

// Request represents the history request parameters.
type Request struct {
	// RunID gets a single execution, it has priority over the other fields.
	RunID string
	// ResourceID filters by script, empty lists every script.
	ResourceID string
	// Limit defaults to 20, negative means no limit.
	Limit int
	// StatusFilter is an optional filter to only show executions with this status.
	StatusFilter *model.ExecutionStatus
}

// Run lists the executions, newest first.
func (s *Service) Run(ctx context.Context, req Request) ([]model.ExecutionResult, error) {
	if req.RunID != "" {
		e, err := s.repo.GetExecution(ctx, req.RunID)
		if err != nil {
			return nil, fmt.Errorf("could not get execution: %w", err)
		}
		return []model.ExecutionResult{*e}, nil
	}

	limit := req.Limit
	switch {
	case limit == 0:
		limit = defaultLimit
	case limit < 0:
		limit = 0
	}
	// Filtering happens after the query so the limit is applied over everything.
	if req.StatusFilter != nil {
		limit = 0
	}

	execs, err := s.repo.ListExecutions(ctx, req.ResourceID, limit)
	if err != nil {
		return nil, fmt.Errorf("could not list executions: %w", err)
	}

	if req.StatusFilter != nil {
		filtered := make([]model.ExecutionResult, 0, len(execs))
		for _, e := range execs {
			if e.Status == *req.StatusFilter {
				filtered = append(filtered, e)
			}
		}
		execs = filtered

		max := req.Limit
		if max == 0 {
			max = defaultLimit
		}
		if max > 0 && len(execs) > max {
			execs = execs[:max]
		}
	}

	s.logger.Debugf("found %d executions", len(execs))
	return execs, nil
}
