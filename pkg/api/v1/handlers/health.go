package handlers

import (
	"context"
	"time"

	fiber "github.com/gofiber/fiber/v2"

	"github.com/naka0519/TownReady/internal/logger"
	"github.com/naka0519/TownReady/internal/services"
)

const storePingTimeout = 3 * time.Second

// HealthHandler answers readiness checks for the worker's dependencies
type HealthHandler struct {
	jobs *services.Job
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(s *services.Job) *HealthHandler {
	return &HealthHandler{jobs: s}
}

// Database reports whether the job store answers a ping
func (h *HealthHandler) Database(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), storePingTimeout)
	defer cancel()

	if err := h.jobs.CheckStore(ctx); err != nil {
		logger.Errorf("job store health check failed: %v", err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "unavailable",
			"error":  err.Error(),
		})
	}
	return c.JSON(fiber.Map{"status": "ok"})
}
