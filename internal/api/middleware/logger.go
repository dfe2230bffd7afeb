// Package middleware holds fiber middleware shared by the worker routes
package middleware

import (
	"time"

	fiber "github.com/gofiber/fiber/v2"

	log "github.com/naka0519/TownReady/internal/logger"
)

// Logger returns a middleware that logs HTTP requests. Requests to any of
// the skip paths (liveness checks, metric scrapes) are only logged when they
// fail.
func Logger(skip ...string) fiber.Handler {
	quiet := make(map[string]struct{}, len(skip))
	for _, p := range skip {
		quiet[p] = struct{}{}
	}

	return func(c *fiber.Ctx) error {
		start := time.Now()

		// Continue chain
		err := c.Next()

		status := c.Response().StatusCode()
		if _, ok := quiet[c.Path()]; ok && err == nil && status < fiber.StatusBadRequest {
			return nil
		}

		fields := map[string]interface{}{
			"status":  status,
			"latency": time.Since(start).String(),
			"ip":      c.IP(),
			"method":  c.Method(),
			"path":    c.Path(),
			"handler": c.Route().Name,
		}
		if id := c.Params("id"); id != "" {
			fields["job_id"] = id
		}
		if err != nil {
			fields["error"] = err.Error()
			log.ErrorWithFields("Request", fields)
			return err
		}
		log.InfoWithFields("Request", fields)
		return nil
	}
}
