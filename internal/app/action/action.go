package action

import (
	"context"
	"errors"
	"fmt"

	"github.com/slok/rctl/internal/log"
	"github.com/slok/rctl/internal/model"
)

// Performer is the part of the coordinator the action service needs.
type Performer interface {
	Refresh(ctx context.Context, kind model.ResourceKind) error
	List(kind model.ResourceKind) []model.TrackedResource
	Get(kind model.ResourceKind, id string) (model.TrackedResource, error)
	PerformAction(ctx context.Context, kind model.ResourceKind, id string, action model.ActionKind, params map[string]string) (model.ResourcePatch, error)
}

// supportedActions are the actions each kind accepts. Scripts are run, not started.
var supportedActions = map[model.ResourceKind]map[model.ActionKind]bool{
	model.KindAutomations: {model.ActionStart: true, model.ActionStop: true, model.ActionDelete: true},
	model.KindContainers:  {model.ActionStart: true, model.ActionStop: true, model.ActionRestart: true},
}

// ServiceConfig is the configuration for the action service.
type ServiceConfig struct {
	Performer Performer
	Logger    log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Performer == nil {
		return fmt.Errorf("performer is required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}

	return nil
}

// Service runs an action on a resource.
type Service struct {
	performer Performer
	logger    log.Logger
}

// NewService creates a new action service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		performer: cfg.Performer,
		logger:    cfg.Logger,
	}, nil
}

// Request represents the action request parameters.
type Request struct {
	Kind model.ResourceKind
	// NameOrID is the resource ID or name.
	NameOrID string
	Action   model.ActionKind
	// Params are sent with the action (e.g. automation start config).
	Params map[string]string
}

// Run resolves the resource and runs the action on it. It returns the resource state
// after the action, or nil if the resource was removed.
func (s *Service) Run(ctx context.Context, req Request) (*model.TrackedResource, error) {
	if !supportedActions[req.Kind][req.Action] {
		return nil, fmt.Errorf("%s can't be %sed: %w", req.Kind, req.Action, model.ErrNotValid)
	}
	if len(req.Params) > 0 && (req.Kind != model.KindAutomations || req.Action != model.ActionStart) {
		return nil, fmt.Errorf("params are only accepted when starting automations: %w", model.ErrNotValid)
	}

	if err := s.performer.Refresh(ctx, req.Kind); err != nil {
		return nil, fmt.Errorf("could not refresh %s: %w", req.Kind, err)
	}

	res, err := model.FindResource(s.performer.List(req.Kind), req.NameOrID)
	if err != nil {
		return nil, err
	}

	s.logger.Debugf("running %s on %s %s", req.Action, req.Kind, res.ID)
	if _, err := s.performer.PerformAction(ctx, req.Kind, res.ID, req.Action, req.Params); err != nil {
		return nil, err
	}

	got, err := s.performer.Get(req.Kind, res.ID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			s.logger.Infof("%s %s removed", req.Kind, res.Name())
			return nil, nil
		}
		return nil, err
	}

	s.logger.Infof("%s %s: %s", req.Action, res.Name(), got.Status)
	return &got, nil
}
