package transportmock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/slok/rctl/internal/model"
	"github.com/slok/rctl/internal/transport"
)

// MockTransport is a testify mock of transport.Transport, it also implements the
// optional transport interfaces.
type MockTransport struct {
	mock.Mock
}

var (
	_ transport.Transport            = &MockTransport{}
	_ transport.ExecutionStopper     = &MockTransport{}
	_ transport.AutomationCreator    = &MockTransport{}
	_ transport.AutomationTypeLister = &MockTransport{}
	_ transport.ContainerLogReader   = &MockTransport{}
	_ transport.DockerChecker        = &MockTransport{}
)

func (m *MockTransport) FetchCollection(ctx context.Context, kind model.ResourceKind) (model.Snapshot, error) {
	args := m.Called(ctx, kind)
	s, _ := args.Get(0).(model.Snapshot)
	return s, args.Error(1)
}

func (m *MockTransport) InvokeAction(ctx context.Context, kind model.ResourceKind, id string, action model.ActionKind, params map[string]string) (model.ResourcePatch, error) {
	args := m.Called(ctx, kind, id, action, params)
	p, _ := args.Get(0).(model.ResourcePatch)
	return p, args.Error(1)
}

func (m *MockTransport) FetchExecutionStatus(ctx context.Context, runID string) (model.ExecutionReport, error) {
	args := m.Called(ctx, runID)
	r, _ := args.Get(0).(model.ExecutionReport)
	return r, args.Error(1)
}

func (m *MockTransport) RunExecution(ctx context.Context, resourceID string) (string, error) {
	args := m.Called(ctx, resourceID)
	return args.String(0), args.Error(1)
}

func (m *MockTransport) StopExecution(ctx context.Context, runID string) (model.ExecutionReport, error) {
	args := m.Called(ctx, runID)
	r, _ := args.Get(0).(model.ExecutionReport)
	return r, args.Error(1)
}

func (m *MockTransport) CreateAutomation(ctx context.Context, automationType string) (model.TrackedResource, error) {
	args := m.Called(ctx, automationType)
	r, _ := args.Get(0).(model.TrackedResource)
	return r, args.Error(1)
}

func (m *MockTransport) ListAutomationTypes(ctx context.Context) ([]model.AutomationType, error) {
	args := m.Called(ctx)
	ts, _ := args.Get(0).([]model.AutomationType)
	return ts, args.Error(1)
}

func (m *MockTransport) ContainerLogs(ctx context.Context, id string, tail int) (string, error) {
	args := m.Called(ctx, id, tail)
	return args.String(0), args.Error(1)
}

func (m *MockTransport) DockerAvailable(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}
