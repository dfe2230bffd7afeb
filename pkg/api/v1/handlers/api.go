package handlers

import (
	"github.com/naka0519/TownReady/internal/dispatch"
	"github.com/naka0519/TownReady/internal/services"
)

// APIHandler groups the handlers served by the worker
type APIHandler struct {
	Push   *PushHandler
	Job    *JobHandler
	Health *HealthHandler
}

// NewAPIHandler creates a new API handler
func NewAPIHandler(d *dispatch.Dispatcher, jobs *services.Job) *APIHandler {
	return &APIHandler{
		Push:   NewPushHandler(d),
		Job:    NewJobHandler(jobs),
		Health: NewHealthHandler(jobs),
	}
}
