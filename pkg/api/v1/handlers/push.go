package handlers

import (
	"encoding/json"

	fiber "github.com/gofiber/fiber/v2"

	"github.com/naka0519/TownReady/internal/dispatch"
	"github.com/naka0519/TownReady/internal/envelope"
)

// PushHandler receives push deliveries from the message transport
type PushHandler struct {
	dispatcher *dispatch.Dispatcher
}

// NewPushHandler creates a new push handler
func NewPushHandler(d *dispatch.Dispatcher) *PushHandler {
	return &PushHandler{dispatcher: d}
}

// Push handles one delivery. It always answers 200: a non-2xx would make the
// subscription redeliver, and retries are scheduled explicitly instead.
func (h *PushHandler) Push(c *fiber.Ctx) error {
	var req envelope.PushRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return c.Status(fiber.StatusOK).JSON(h.dispatcher.Reject(err))
	}

	a := h.dispatcher.HandlePush(c.UserContext(), req, c.Get(fiber.HeaderAuthorization))
	return c.Status(fiber.StatusOK).JSON(a)
}
