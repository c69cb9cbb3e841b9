package run

import (
	"context"
	"fmt"

	"github.com/slok/rctl/internal/coordinator"
	"github.com/slok/rctl/internal/log"
	"github.com/slok/rctl/internal/model"
)

// Runner is the part of the coordinator the run service needs.
type Runner interface {
	Refresh(ctx context.Context, kind model.ResourceKind) error
	List(kind model.ResourceKind) []model.TrackedResource
	RunExecution(ctx context.Context, resourceID string, onFinished ...coordinator.ExecutionListener) (model.ExecutionHandle, error)
	DetachExecution(runID string) error
}

// ServiceConfig is the configuration for the run service.
type ServiceConfig struct {
	Runner Runner
	Logger log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Runner == nil {
		return fmt.Errorf("runner is required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}

	return nil
}

// Service runs scripts and optionally waits for them to finish.
type Service struct {
	runner Runner
	logger log.Logger
}

// NewService creates a new run service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		runner: cfg.Runner,
		logger: cfg.Logger,
	}, nil
}

// Request represents the run request parameters.
type Request struct {
	// NameOrID is the script ID (filename) or name.
	NameOrID string
	// Wait blocks until the execution finishes or ctx is done.
	Wait bool
}

// Response is the result of a run.
type Response struct {
	Handle model.ExecutionHandle
	// Result is set when waiting and the execution finished.
	Result *model.ExecutionResult
}

// Run starts the script. When waiting and ctx ends first the execution is detached,
// it keeps running on the server.
func (s *Service) Run(ctx context.Context, req Request) (*Response, error) {
	if err := s.runner.Refresh(ctx, model.KindScripts); err != nil {
		return nil, fmt.Errorf("could not refresh scripts: %w", err)
	}

	script, err := model.FindResource(s.runner.List(model.KindScripts), req.NameOrID)
	if err != nil {
		return nil, err
	}

	finished := make(chan model.ExecutionResult, 1)
	h, err := s.runner.RunExecution(ctx, script.ID, func(r model.ExecutionResult) { finished <- r })
	if err != nil {
		return nil, err
	}
	s.logger.Infof("script %s running (run %s)", script.ID, h.RunID)

	resp := &Response{Handle: h}
	if !req.Wait {
		return resp, nil
	}

	select {
	case r := <-finished:
		resp.Result = &r
		resp.Handle.Status = r.Status
		s.logger.Debugf("run %s finished: %s", r.RunID, r.Status)
	case <-ctx.Done():
		if err := s.runner.DetachExecution(h.RunID); err != nil {
			s.logger.Warningf("could not detach run %s: %s", h.RunID, err)
		}
		return resp, fmt.Errorf("stopped waiting for run %s: %w", h.RunID, ctx.Err())
	}

	return resp, nil
}
