package handlers

import (
	"github.com/gofiber/fiber/v2"

	"realtycrm/internal/middleware"
	"realtycrm/internal/models"
	"realtycrm/internal/services"
)

// ActivityHandler serves call logs and the lead timeline
type ActivityHandler struct {
	activity *services.ActivityService
}

func NewActivityHandler(activity *services.ActivityService) *ActivityHandler {
	return &ActivityHandler{activity: activity}
}

// ListCalls returns the calls of a lead
// GET /api/call-logs?leadId=
func (h *ActivityHandler) ListCalls(c *fiber.Ctx) error {
	leadID := c.Query("leadId")
	if leadID == "" {
		return badRequest(c, "leadId is required")
	}
	calls, err := h.activity.Calls(c.UserContext(), leadID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"calls": calls})
}

// LogCall records a call
// POST /api/call-logs
func (h *ActivityHandler) LogCall(c *fiber.Ctx) error {
	var call models.CallLog
	if err := c.BodyParser(&call); err != nil {
		return badRequest(c, "Invalid request body")
	}
	logged, err := h.activity.LogCall(c.UserContext(), call, middleware.UserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(logged)
}

// ListInteractions returns the timeline of a lead
// GET /api/interactions?leadId=
func (h *ActivityHandler) ListInteractions(c *fiber.Ctx) error {
	leadID := c.Query("leadId")
	if leadID == "" {
		return badRequest(c, "leadId is required")
	}
	items, err := h.activity.Interactions(c.UserContext(), leadID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"interactions": items})
}

// AddInteraction adds a timeline entry
// POST /api/interactions
func (h *ActivityHandler) AddInteraction(c *fiber.Ctx) error {
	var in models.Interaction
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "Invalid request body")
	}
	added, err := h.activity.AddInteraction(c.UserContext(), in, middleware.UserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(added)
}
