package storagemock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/slok/rctl/internal/model"
	"github.com/slok/rctl/internal/storage"
)

// MockExecutionRepository is a testify mock of storage.ExecutionRepository.
type MockExecutionRepository struct {
	mock.Mock
}

var _ storage.ExecutionRepository = &MockExecutionRepository{}

func (m *MockExecutionRepository) SaveExecution(ctx context.Context, r model.ExecutionResult) error {
	args := m.Called(ctx, r)
	return args.Error(0)
}

func (m *MockExecutionRepository) GetExecution(ctx context.Context, runID string) (*model.ExecutionResult, error) {
	args := m.Called(ctx, runID)
	if v := args.Get(0); v != nil {
		return v.(*model.ExecutionResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockExecutionRepository) ListExecutions(ctx context.Context, resourceID string, limit int) ([]model.ExecutionResult, error) {
	args := m.Called(ctx, resourceID, limit)
	if v := args.Get(0); v != nil {
		return v.([]model.ExecutionResult), args.Error(1)
	}
	return nil, args.Error(1)
}
