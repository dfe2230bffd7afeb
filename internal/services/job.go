// Package services holds the business logic behind the job API
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/datatypes"

	"github.com/naka0519/TownReady/internal/db/models"
	"github.com/naka0519/TownReady/internal/db/repos"
	"github.com/naka0519/TownReady/internal/logger"
	"github.com/naka0519/TownReady/internal/pipeline"
	"github.com/naka0519/TownReady/internal/transport"
)

var (
	// ErrInvalidTask is returned for a task name outside the pipeline
	ErrInvalidTask = errors.New("invalid task")
	// ErrInvalidPayload is returned when a job payload is not a JSON object
	ErrInvalidPayload = errors.New("payload must be a JSON object")
)

// Job provides business logic for job operations
type Job struct {
	repo *repos.JobRepository
	pub  transport.Publisher
}

// NewJobService creates a new job service instance
func NewJobService(repo *repos.JobRepository, pub transport.Publisher) *Job {
	return &Job{repo: repo, pub: pub}
}

// CreateJob stores a queued job and publishes its first task. A publish
// failure is logged and does not fail the call; the reconciler or a manual
// publish picks the job up later.
func (s *Job) CreateJob(ctx context.Context, task string, payload json.RawMessage) (*models.Job, error) {
	t, err := parseTask(task)
	if err != nil {
		return nil, err
	}
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil || obj == nil {
		return nil, ErrInvalidPayload
	}

	job := &models.Job{
		Status:  models.JobStatusQueued,
		Task:    t.String(),
		Payload: datatypes.JSON(payload),
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, err
	}

	if err := s.pub.Publish(ctx, transport.Message{JobID: job.ID, Task: t}); err != nil {
		logger.ForJob(job.ID, t.String()).Warnf("job stored but first task was not published: %v", err)
	} else {
		logger.ForJob(job.ID, t.String()).Info("job created")
	}
	return job, nil
}

// CheckStore reports whether the job store is reachable
func (s *Job) CheckStore(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

// GetJob retrieves a job by id
func (s *Job) GetJob(ctx context.Context, id string) (*models.Job, error) {
	return s.repo.Get(ctx, id)
}

// PublishTask publishes a trigger for task on an existing job. Used to recover
// a missing chain trigger or to re-run a task after retries were exhausted.
func (s *Job) PublishTask(ctx context.Context, id, task string) (pipeline.Task, error) {
	t, err := parseTask(task)
	if err != nil {
		return "", err
	}
	if _, err := s.repo.Get(ctx, id); err != nil {
		return "", err
	}
	if err := s.pub.Publish(ctx, transport.Message{JobID: id, Task: t}); err != nil {
		return "", fmt.Errorf("failed to publish task: %w", err)
	}
	logger.ForJob(id, t.String()).Info("task published manually")
	return t, nil
}

func parseTask(raw string) (pipeline.Task, error) {
	if raw == "" {
		return pipeline.Plan, nil
	}
	t := pipeline.Parse(raw)
	if !t.IsKnown() {
		return "", fmt.Errorf("%w: %s", ErrInvalidTask, raw)
	}
	return t, nil
}
