// Package mock provides a function-field implementation of the API client for tests
package mock

import (
	"context"

	"github.com/naka0519/TownReady/internal/db/models"
	"github.com/naka0519/TownReady/internal/types"
	"github.com/naka0519/TownReady/pkg/api/v1/client"
)

// MockClient implements the Client interface for testing
type MockClient struct {
	// Function fields that can be set to mock behavior
	HealthCheckFn func(ctx context.Context) (map[string]string, error)
	CreateJobFn   func(ctx context.Context, req types.CreateJobRequest) (types.CreateJobResponse, error)
	GetJobFn      func(ctx context.Context, id string) (models.Job, error)
	PublishTaskFn func(ctx context.Context, id string, req types.PublishTaskRequest) (types.PublishTaskResponse, error)

	// Call tracking for verification
	CreateJobCalls []types.CreateJobRequest
	GetJobCalls    []string
	PublishTaskCalls []struct {
		ID  string
		Req types.PublishTaskRequest
	}
}

// Ensure MockClient implements Client interface
var _ client.Client = (*MockClient)(nil)

// HealthCheck implements client.Client
func (m *MockClient) HealthCheck(ctx context.Context) (map[string]string, error) {
	if m.HealthCheckFn != nil {
		return m.HealthCheckFn(ctx)
	}
	return map[string]string{"status": "healthy"}, nil
}

// CreateJob implements client.Client
func (m *MockClient) CreateJob(ctx context.Context, req types.CreateJobRequest) (types.CreateJobResponse, error) {
	m.CreateJobCalls = append(m.CreateJobCalls, req)
	if m.CreateJobFn != nil {
		return m.CreateJobFn(ctx, req)
	}
	return types.CreateJobResponse{}, nil
}

// GetJob implements client.Client
func (m *MockClient) GetJob(ctx context.Context, id string) (models.Job, error) {
	m.GetJobCalls = append(m.GetJobCalls, id)
	if m.GetJobFn != nil {
		return m.GetJobFn(ctx, id)
	}
	return models.Job{}, nil
}

// PublishTask implements client.Client
func (m *MockClient) PublishTask(ctx context.Context, id string, req types.PublishTaskRequest) (types.PublishTaskResponse, error) {
	m.PublishTaskCalls = append(m.PublishTaskCalls, struct {
		ID  string
		Req types.PublishTaskRequest
	}{ID: id, Req: req})
	if m.PublishTaskFn != nil {
		return m.PublishTaskFn(ctx, id, req)
	}
	return types.PublishTaskResponse{}, nil
}
