package handlers

import (
	"github.com/gofiber/fiber/v2"

	"realtycrm/internal/crm"
	"realtycrm/internal/models"
	"realtycrm/internal/services"
)

// CustomFieldHandler manages custom field definitions
type CustomFieldHandler struct {
	fields *services.CustomFieldService
}

func NewCustomFieldHandler(fields *services.CustomFieldService) *CustomFieldHandler {
	return &CustomFieldHandler{fields: fields}
}

// List returns the definitions, optionally of one entity (?entity=lead)
// GET /api/custom-fields
func (h *CustomFieldHandler) List(c *fiber.Ctx) error {
	var kind crm.EntityKind
	if raw := c.Query("entity"); raw != "" {
		parsed, err := crm.ParseKind(raw)
		if err != nil {
			return respondError(c, err)
		}
		kind = parsed
	}
	fields, err := h.fields.List(c.UserContext(), kind)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"fields": fields})
}

// GET /api/custom-fields/:id
func (h *CustomFieldHandler) Get(c *fiber.Ctx) error {
	field, err := h.fields.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(field)
}

// POST /api/custom-fields
func (h *CustomFieldHandler) Create(c *fiber.Ctx) error {
	var f models.CustomField
	if err := c.BodyParser(&f); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if f.Entity != "" {
		kind, err := crm.ParseKind(string(f.Entity))
		if err != nil {
			return respondError(c, err)
		}
		f.Entity = kind
	}
	created, err := h.fields.Create(c.UserContext(), f)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(created)
}

// PUT /api/custom-fields/:id
func (h *CustomFieldHandler) Update(c *fiber.Ctx) error {
	var f models.CustomField
	if err := c.BodyParser(&f); err != nil {
		return badRequest(c, "Invalid request body")
	}
	updated, err := h.fields.Update(c.UserContext(), c.Params("id"), f)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(updated)
}

// DELETE /api/custom-fields/:id
func (h *CustomFieldHandler) Delete(c *fiber.Ctx) error {
	if err := h.fields.Delete(c.UserContext(), c.Params("id")); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}
