package mocks

import (
	"context"
	"time"

	"github.com/dukex/deckflow/pkg/models"
	"github.com/dukex/deckflow/pkg/persistence"
	"github.com/stretchr/testify/mock"
)

var _ persistence.Persistence = (*MockPersistence)(nil)

// MockPersistence is a mock implementation of persistence.Persistence interface.
type MockPersistence struct {
	mock.Mock
}

func (m *MockPersistence) SaveExecution(ctx context.Context, execution *models.WorkflowExecution) error {
	args := m.Called(ctx, execution)

	return args.Error(0)
}

func (m *MockPersistence) ExecutionByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowExecution), args.Error(1)
}

func (m *MockPersistence) ExecutionsByUser(ctx context.Context, userID string, limit int) ([]*models.WorkflowExecution, error) {
	args := m.Called(ctx, userID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowExecution), args.Error(1)
}

func (m *MockPersistence) DeleteExecutionsBefore(ctx context.Context, before time.Time) (int, error) {
	args := m.Called(ctx, before)

	return args.Int(0), args.Error(1)
}

func (m *MockPersistence) SaveArtifact(ctx context.Context, artifact *models.Artifact) error {
	args := m.Called(ctx, artifact)

	return args.Error(0)
}

func (m *MockPersistence) Artifact(ctx context.Context, executionID, name string) (*models.Artifact, error) {
	args := m.Called(ctx, executionID, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Artifact), args.Error(1)
}

func (m *MockPersistence) Artifacts(ctx context.Context, executionID string) ([]*models.Artifact, error) {
	args := m.Called(ctx, executionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Artifact), args.Error(1)
}

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}
