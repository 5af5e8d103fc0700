package handlers

import (
	"github.com/gofiber/fiber/v2"

	"realtycrm/internal/middleware"
	"realtycrm/internal/models"
	"realtycrm/internal/services"
)

// WhatsAppHandler serves message templates and the message log
type WhatsAppHandler struct {
	whatsapp *services.WhatsAppService
}

func NewWhatsAppHandler(whatsapp *services.WhatsAppService) *WhatsAppHandler {
	return &WhatsAppHandler{whatsapp: whatsapp}
}

// GET /api/whatsapp/templates
func (h *WhatsAppHandler) ListTemplates(c *fiber.Ctx) error {
	templates, err := h.whatsapp.ListTemplates(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"templates": templates})
}

// GET /api/whatsapp/templates/:id
func (h *WhatsAppHandler) GetTemplate(c *fiber.Ctx) error {
	t, err := h.whatsapp.GetTemplate(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(t)
}

// POST /api/whatsapp/templates
func (h *WhatsAppHandler) CreateTemplate(c *fiber.Ctx) error {
	var t models.WhatsAppTemplate
	if err := c.BodyParser(&t); err != nil {
		return badRequest(c, "Invalid request body")
	}
	created, err := h.whatsapp.CreateTemplate(c.UserContext(), t)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(created)
}

// PUT /api/whatsapp/templates/:id
func (h *WhatsAppHandler) UpdateTemplate(c *fiber.Ctx) error {
	var t models.WhatsAppTemplate
	if err := c.BodyParser(&t); err != nil {
		return badRequest(c, "Invalid request body")
	}
	updated, err := h.whatsapp.UpdateTemplate(c.UserContext(), c.Params("id"), t)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(updated)
}

// DELETE /api/whatsapp/templates/:id
func (h *WhatsAppHandler) DeleteTemplate(c *fiber.Ctx) error {
	if err := h.whatsapp.DeleteTemplate(c.UserContext(), c.Params("id")); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}

// PreviewRequest carries the {{n}} placeholder values
type PreviewRequest struct {
	Params []string `json:"params"`
}

// Preview renders a template as text and HTML
// POST /api/whatsapp/templates/:id/preview
func (h *WhatsAppHandler) Preview(c *fiber.Ctx) error {
	var req PreviewRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "Invalid request body")
		}
	}
	preview, err := h.whatsapp.Preview(c.UserContext(), c.Params("id"), req.Params)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(preview)
}

// ListMessages returns the message log (?leadId=, ?campaignId=)
// GET /api/whatsapp/messages
func (h *WhatsAppHandler) ListMessages(c *fiber.Ctx) error {
	messages, err := h.whatsapp.ListMessages(c.UserContext(), c.Query("leadId"), c.Query("campaignId"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"messages": messages})
}

// SendMessage logs an outbound message
// POST /api/whatsapp/messages
func (h *WhatsAppHandler) SendMessage(c *fiber.Ctx) error {
	var req models.SendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	msg, err := h.whatsapp.SendMessage(c.UserContext(), req, middleware.UserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(msg)
}
