package create

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/slok/rctl/internal/log"
	"github.com/slok/rctl/internal/model"
)

// Creator is the part of the coordinator the create service needs.
type Creator interface {
	ListAutomationTypes(ctx context.Context) ([]model.AutomationType, error)
	CreateAutomation(ctx context.Context, automationType string) (model.TrackedResource, error)
}

// ServiceConfig is the configuration for the create service.
type ServiceConfig struct {
	Creator Creator
	Logger  log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Creator == nil {
		return fmt.Errorf("creator is required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}

	return nil
}

// Service creates automations.
type Service struct {
	creator Creator
	logger  log.Logger
}

// NewService creates a new create service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		creator: cfg.Creator,
		logger:  cfg.Logger,
	}, nil
}

// Request represents the create request parameters.
type Request struct {
	// Type is the automation type to create.
	Type string
}

// Run validates the type against the server types and creates the automation.
func (s *Service) Run(ctx context.Context, req Request) (*model.TrackedResource, error) {
	req.Type = strings.TrimSpace(req.Type)
	if req.Type == "" {
		return nil, fmt.Errorf("automation type is required: %w", model.ErrNotValid)
	}

	types, err := s.Types(ctx)
	if err != nil {
		return nil, err
	}

	known := make([]string, 0, len(types))
	found := false
	for _, t := range types {
		known = append(known, t.Type)
		if t.Type == req.Type {
			found = true
		}
	}
	if !found {
		return nil, fmt.Errorf("unknown automation type %q (available: %s): %w", req.Type, strings.Join(known, ", "), model.ErrNotValid)
	}

	res, err := s.creator.CreateAutomation(ctx, req.Type)
	if err != nil {
		return nil, err
	}

	s.logger.Infof("created %s automation: %s", req.Type, res.ID)
	return &res, nil
}

// Types lists the automation types sorted by type.
func (s *Service) Types(ctx context.Context) ([]model.AutomationType, error) {
	types, err := s.creator.ListAutomationTypes(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not list automation types: %w", err)
	}

	sort.SliceStable(types, func(i, j int) bool { return types[i].Type < types[j].Type })
	return types, nil
}
