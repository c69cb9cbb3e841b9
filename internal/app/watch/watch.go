package watch

import (
	"context"
	"fmt"

	"github.com/slok/rctl/internal/coordinator"
	"github.com/slok/rctl/internal/log"
	"github.com/slok/rctl/internal/model"
)

// Watcher is the part of the coordinator the watch service needs.
type Watcher interface {
	OnStoreChanged(kind model.ResourceKind, l func([]model.TrackedResource)) (unsubscribe func())
	OnAnyExecutionFinished(l coordinator.ExecutionListener) (unsubscribe func())
	OnError(l func(coordinator.ErrorEvent)) (unsubscribe func())
	Run(ctx context.Context) error
}

// ServiceConfig is the configuration for the watch service.
type ServiceConfig struct {
	Watcher Watcher
	Logger  log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Watcher == nil {
		return fmt.Errorf("watcher is required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}

	return nil
}

// Service keeps collections in sync and reports every change until stopped.
type Service struct {
	watcher Watcher
	logger  log.Logger
}

// NewService creates a new watch service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		watcher: cfg.Watcher,
		logger:  cfg.Logger,
	}, nil
}

// Event is a watch event, only one of its fields is set.
type Event struct {
	Kind      model.ResourceKind
	Resources []model.TrackedResource
	Execution *model.ExecutionResult
	Err       *coordinator.ErrorEvent
}

// Request represents the watch request parameters.
type Request struct {
	// Kinds to watch, empty watches every kind.
	Kinds []model.ResourceKind
	// OnEvent is called for every event. Calls are serialized.
	OnEvent func(Event)
}

// Run blocks watching until ctx is done.
func (s *Service) Run(ctx context.Context, req Request) error {
	if req.OnEvent == nil {
		return fmt.Errorf("event handler is required: %w", model.ErrNotValid)
	}
	kinds := req.Kinds
	if len(kinds) == 0 {
		kinds = model.AllKinds()
	}

	events := make(chan Event, 64)
	send := func(ev Event) {
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	}

	var unsubscribes []func()
	for _, k := range kinds {
		unsubscribes = append(unsubscribes, s.watcher.OnStoreChanged(k, func(items []model.TrackedResource) {
			send(Event{Kind: k, Resources: items})
		}))
	}
	unsubscribes = append(unsubscribes,
		s.watcher.OnAnyExecutionFinished(func(r model.ExecutionResult) {
			send(Event{Kind: model.KindScripts, Execution: &r})
		}),
		s.watcher.OnError(func(ev coordinator.ErrorEvent) {
			send(Event{Kind: ev.Kind, Err: &ev})
		}),
	)
	defer func() {
		for _, u := range unsubscribes {
			u()
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- s.watcher.Run(ctx) }()

	s.logger.Debugf("watching %v", kinds)
	for {
		select {
		case ev := <-events:
			req.OnEvent(ev)
		case err := <-runErr:
			if err != nil {
				return fmt.Errorf("sync stopped: %w", err)
			}
			return nil
		}
	}
}
