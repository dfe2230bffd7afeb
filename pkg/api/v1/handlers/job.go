package handlers

import (
	"errors"

	fiber "github.com/gofiber/fiber/v2"

	"github.com/naka0519/TownReady/internal/db/repos"
	"github.com/naka0519/TownReady/internal/logger"
	"github.com/naka0519/TownReady/internal/services"
	"github.com/naka0519/TownReady/internal/types"
)

// JobHandler handles HTTP requests for job operations
type JobHandler struct {
	jobService *services.Job
}

// NewJobHandler creates a new job handler instance
func NewJobHandler(s *services.Job) *JobHandler {
	return &JobHandler{jobService: s}
}

// CreateJob handles the request to create a job and publish its first task
func (h *JobHandler) CreateJob(c *fiber.Ctx) error {
	var req types.CreateJobRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).
				JSON(types.ErrInvalidInput(ErrMsgInvalidReqBody))
		}
	}
	return h.create(c, req)
}

// Generate creates a job starting at the task named in the path. The whole
// request body is the job payload.
func (h *JobHandler) Generate(c *fiber.Ctx) error {
	return h.create(c, types.CreateJobRequest{
		Task:    c.Params("task"),
		Payload: c.Body(),
	})
}

func (h *JobHandler) create(c *fiber.Ctx, req types.CreateJobRequest) error {
	job, err := h.jobService.CreateJob(c.UserContext(), req.Task, req.Payload)
	if err != nil {
		if errors.Is(err, services.ErrInvalidTask) || errors.Is(err, services.ErrInvalidPayload) {
			return c.Status(fiber.StatusBadRequest).
				JSON(types.ErrInvalidInput(err.Error()))
		}
		logger.Errorf("failed to create job: %v", err)
		return c.Status(fiber.StatusInternalServerError).
			JSON(types.ErrServer(ErrMsgJobCreateFailed))
	}

	return c.Status(fiber.StatusCreated).JSON(types.Success(types.CreateJobResponse{
		JobID:  job.ID,
		Status: job.Status.String(),
	}))
}

// GetJob handles the request to get a job
func (h *JobHandler) GetJob(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return c.Status(fiber.StatusBadRequest).
			JSON(types.ErrInvalidInput(ErrMsgJobIDRequired))
	}

	job, err := h.jobService.GetJob(c.UserContext(), id)
	if errors.Is(err, repos.ErrJobNotFound) {
		return c.Status(fiber.StatusNotFound).
			JSON(types.ErrNotFound(ErrMsgJobNotFound))
	}
	if err != nil {
		logger.Errorf("failed to get job %s: %v", id, err)
		return c.Status(fiber.StatusInternalServerError).
			JSON(types.ErrServer(ErrMsgJobGetFailed))
	}

	return c.JSON(types.Success(job))
}

// PublishTask handles the request to re-publish a task trigger for a job
func (h *JobHandler) PublishTask(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return c.Status(fiber.StatusBadRequest).
			JSON(types.ErrInvalidInput(ErrMsgJobIDRequired))
	}

	var req types.PublishTaskRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).
			JSON(types.ErrInvalidInput(ErrMsgInvalidReqBody))
	}

	task, err := h.jobService.PublishTask(c.UserContext(), id, req.Task)
	switch {
	case errors.Is(err, services.ErrInvalidTask):
		return c.Status(fiber.StatusBadRequest).
			JSON(types.ErrInvalidInput(err.Error()))
	case errors.Is(err, repos.ErrJobNotFound):
		return c.Status(fiber.StatusNotFound).
			JSON(types.ErrNotFound(ErrMsgJobNotFound))
	case err != nil:
		logger.Errorf("failed to publish task for job %s: %v", id, err)
		return c.Status(fiber.StatusInternalServerError).
			JSON(types.ErrServer(ErrMsgTaskPublishFailed))
	}

	return c.Status(fiber.StatusAccepted).JSON(types.Success(types.PublishTaskResponse{
		JobID: id,
		Task:  task.String(),
	}))
}
