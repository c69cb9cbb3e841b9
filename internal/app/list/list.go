package list

import (
	"context"
	"errors"
	"fmt"

	"github.com/slok/rctl/internal/log"
	"github.com/slok/rctl/internal/model"
)

// Syncer is the part of the coordinator the list service needs.
type Syncer interface {
	Refresh(ctx context.Context, kind model.ResourceKind) error
	List(kind model.ResourceKind) []model.TrackedResource
}

// DockerChecker is implemented by syncers that can tell if the containers backend is up.
type DockerChecker interface {
	DockerAvailable(ctx context.Context) (bool, error)
}

// ServiceConfig is the configuration for the list service.
type ServiceConfig struct {
	Syncer Syncer
	Logger log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Syncer == nil {
		return fmt.Errorf("syncer is required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}

	return nil
}

// Service lists resources of a kind with optional filtering.
type Service struct {
	syncer Syncer
	logger log.Logger
}

// NewService creates a new list service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		syncer: cfg.Syncer,
		logger: cfg.Logger,
	}, nil
}

// Request represents the list request parameters.
type Request struct {
	Kind model.ResourceKind
	// StatusFilter is an optional filter to only show resources with this status.
	StatusFilter *model.ResourceStatus
	// RunningOnly only shows running resources.
	RunningOnly bool
}

// Run refreshes the collection and lists it in server order.
func (s *Service) Run(ctx context.Context, req Request) ([]model.TrackedResource, error) {
	s.logger.Debugf("listing %s with filter: %v", req.Kind, req.StatusFilter)

	if req.Kind == model.KindContainers {
		if err := s.checkDocker(ctx); err != nil {
			return nil, err
		}
	}

	if err := s.syncer.Refresh(ctx, req.Kind); err != nil {
		return nil, fmt.Errorf("could not refresh %s: %w", req.Kind, err)
	}

	items := s.syncer.List(req.Kind)
	if req.StatusFilter != nil || req.RunningOnly {
		filtered := make([]model.TrackedResource, 0, len(items))
		for _, r := range items {
			if req.StatusFilter != nil && r.Status != *req.StatusFilter {
				continue
			}
			if req.RunningOnly && !r.Running {
				continue
			}
			filtered = append(filtered, r)
		}
		items = filtered
	}

	s.logger.Debugf("found %d %s", len(items), req.Kind)
	return items, nil
}

func (s *Service) checkDocker(ctx context.Context) error {
	dc, ok := s.syncer.(DockerChecker)
	if !ok {
		return nil
	}

	available, err := dc.DockerAvailable(ctx)
	if err != nil {
		if errors.Is(err, model.ErrNotValid) {
			return nil
		}
		return fmt.Errorf("could not check docker: %w", err)
	}
	if !available {
		return fmt.Errorf("docker is not available: %w", model.ErrRemoteRejected)
	}
	return nil
}
