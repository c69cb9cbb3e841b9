package transport

import (
	"context"
	"fmt"

	"github.com/slok/rctl/internal/model"
)

// Transport is the boundary with the remote side. Errors must wrap model.ErrTransport when the
// remote could not be reached and model.ErrRemoteRejected when it refused the request.
type Transport interface {
	FetchCollection(ctx context.Context, kind model.ResourceKind) (model.Snapshot, error)
	InvokeAction(ctx context.Context, kind model.ResourceKind, id string, action model.ActionKind, params map[string]string) (model.ResourcePatch, error)
	FetchExecutionStatus(ctx context.Context, runID string) (model.ExecutionReport, error)
	// RunExecution starts a script run and returns its run id.
	RunExecution(ctx context.Context, resourceID string) (runID string, err error)
}

// ExecutionStopper is implemented by transports that can stop a script run.
type ExecutionStopper interface {
	StopExecution(ctx context.Context, runID string) (model.ExecutionReport, error)
}

// AutomationCreator is implemented by transports that can create automations.
type AutomationCreator interface {
	CreateAutomation(ctx context.Context, automationType string) (model.TrackedResource, error)
}

// AutomationTypeLister is implemented by transports that list the available automation types.
type AutomationTypeLister interface {
	ListAutomationTypes(ctx context.Context) ([]model.AutomationType, error)
}

// ContainerLogReader is implemented by transports that can read container logs.
type ContainerLogReader interface {
	ContainerLogs(ctx context.Context, id string, tail int) (string, error)
}

// DockerChecker is implemented by transports that know if the containers backend is up.
type DockerChecker interface {
	DockerAvailable(ctx context.Context) (bool, error)
}

// RouterConfig is the configuration for the router.
type RouterConfig struct {
	// Default handles every kind without a specific transport.
	Default Transport
	// ByKind overrides the transport for specific kinds.
	ByKind map[model.ResourceKind]Transport
}

func (c *RouterConfig) defaults() error {
	if c.Default == nil {
		return fmt.Errorf("default transport is required")
	}
	if c.ByKind == nil {
		c.ByKind = map[model.ResourceKind]Transport{}
	}
	return nil
}

// Router routes the calls to a transport per resource kind. Executions always go to the
// default transport.
type Router struct {
	def    Transport
	byKind map[model.ResourceKind]Transport
}

// NewRouter returns a new transport router.
func NewRouter(cfg RouterConfig) (*Router, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Router{def: cfg.Default, byKind: cfg.ByKind}, nil
}

var (
	_ Transport            = &Router{}
	_ ExecutionStopper     = &Router{}
	_ AutomationCreator    = &Router{}
	_ AutomationTypeLister = &Router{}
	_ ContainerLogReader   = &Router{}
	_ DockerChecker        = &Router{}
)

func (r *Router) get(kind model.ResourceKind) Transport {
	if t, ok := r.byKind[kind]; ok {
		return t
	}
	return r.def
}

func (r *Router) FetchCollection(ctx context.Context, kind model.ResourceKind) (model.Snapshot, error) {
	return r.get(kind).FetchCollection(ctx, kind)
}

func (r *Router) InvokeAction(ctx context.Context, kind model.ResourceKind, id string, action model.ActionKind, params map[string]string) (model.ResourcePatch, error) {
	return r.get(kind).InvokeAction(ctx, kind, id, action, params)
}

func (r *Router) FetchExecutionStatus(ctx context.Context, runID string) (model.ExecutionReport, error) {
	return r.get(model.KindScripts).FetchExecutionStatus(ctx, runID)
}

func (r *Router) RunExecution(ctx context.Context, resourceID string) (string, error) {
	return r.get(model.KindScripts).RunExecution(ctx, resourceID)
}

func (r *Router) StopExecution(ctx context.Context, runID string) (model.ExecutionReport, error) {
	s, ok := r.get(model.KindScripts).(ExecutionStopper)
	if !ok {
		return model.ExecutionReport{}, fmt.Errorf("stopping executions is not supported: %w", model.ErrNotValid)
	}
	return s.StopExecution(ctx, runID)
}

func (r *Router) CreateAutomation(ctx context.Context, automationType string) (model.TrackedResource, error) {
	c, ok := r.get(model.KindAutomations).(AutomationCreator)
	if !ok {
		return model.TrackedResource{}, fmt.Errorf("creating automations is not supported: %w", model.ErrNotValid)
	}
	return c.CreateAutomation(ctx, automationType)
}

func (r *Router) ListAutomationTypes(ctx context.Context) ([]model.AutomationType, error) {
	l, ok := r.get(model.KindAutomations).(AutomationTypeLister)
	if !ok {
		return nil, fmt.Errorf("listing automation types is not supported: %w", model.ErrNotValid)
	}
	return l.ListAutomationTypes(ctx)
}

func (r *Router) ContainerLogs(ctx context.Context, id string, tail int) (string, error) {
	l, ok := r.get(model.KindContainers).(ContainerLogReader)
	if !ok {
		return "", fmt.Errorf("reading container logs is not supported: %w", model.ErrNotValid)
	}
	return l.ContainerLogs(ctx, id, tail)
}

func (r *Router) DockerAvailable(ctx context.Context) (bool, error) {
	c, ok := r.get(model.KindContainers).(DockerChecker)
	if !ok {
		return false, fmt.Errorf("checking docker is not supported: %w", model.ErrNotValid)
	}
	return c.DockerAvailable(ctx)
}
