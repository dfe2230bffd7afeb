// Package app assembles the fiber application served by the worker
package app

import (
	"errors"

	fiber "github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/naka0519/TownReady/internal/api/middleware"
	"github.com/naka0519/TownReady/internal/types"
	"github.com/naka0519/TownReady/pkg/api/v1/handlers"
	"github.com/naka0519/TownReady/pkg/api/v1/routes"
)

// New returns a fiber app with the request logger and every route registered
func New(h *handlers.APIHandler, gatherer prometheus.Gatherer) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               routes.ServiceName,
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})

	app.Use(middleware.Logger("/", "/health", "/health/db", "/metrics"))

	routes.RegisterRoutes(app, h.Push, h.Job, h.Health, gatherer)

	return app
}

// errorHandler renders errors no handler answered itself, such as unknown
// routes, in the API's slug format
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
	}

	resp := types.ErrServer(err.Error())
	switch {
	case code == fiber.StatusNotFound:
		resp = types.ErrNotFound(err.Error())
	case code < fiber.StatusInternalServerError:
		resp = types.ErrInvalidInput(err.Error())
	}
	return c.Status(code).JSON(resp)
}
