package runstop

import (
	"context"
	"fmt"

	"github.com/slok/rctl/internal/log"
	"github.com/slok/rctl/internal/model"
)

// Stopper is the part of the coordinator the run stop service needs.
type Stopper interface {
	StopExecution(ctx context.Context, runID string) (model.ExecutionReport, error)
}

// ServiceConfig is the configuration for the run stop service.
type ServiceConfig struct {
	Stopper Stopper
	Logger  log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Stopper == nil {
		return fmt.Errorf("stopper is required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}

	return nil
}

// Service stops a script run on the server.
type Service struct {
	stopper Stopper
	logger  log.Logger
}

// NewService creates a new run stop service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		stopper: cfg.Stopper,
		logger:  cfg.Logger,
	}, nil
}

// Request represents the run stop request parameters.
type Request struct {
	RunID string
}

// Run stops the run.
func (s *Service) Run(ctx context.Context, req Request) (*model.ExecutionReport, error) {
	if req.RunID == "" {
		return nil, fmt.Errorf("run id is required: %w", model.ErrNotValid)
	}

	report, err := s.stopper.StopExecution(ctx, req.RunID)
	if err != nil {
		return nil, err
	}

	s.logger.Infof("run %s stopped: %s", req.RunID, report.Status)
	return &report, nil
}
