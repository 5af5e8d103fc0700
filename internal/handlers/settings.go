package handlers

import (
	"log"

	"github.com/gofiber/fiber/v2"

	"realtycrm/internal/middleware"
	"realtycrm/internal/settings"
)

// SettingsHandler reads and writes the business settings
type SettingsHandler struct {
	store *settings.Store
}

func NewSettingsHandler(store *settings.Store) *SettingsHandler {
	return &SettingsHandler{store: store}
}

// GET /api/settings
func (h *SettingsHandler) Get(c *fiber.Ctx) error {
	return c.JSON(h.store.Get())
}

// Update replaces the settings document
// PUT /api/settings
func (h *SettingsHandler) Update(c *fiber.Ctx) error {
	next := h.store.Get()
	if err := c.BodyParser(&next); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := next.Validate(); err != nil {
		return badRequest(c, err.Error())
	}
	saved, err := h.store.Update(next)
	if err != nil {
		return respondError(c, err)
	}
	log.Printf("⚙️  [SETTINGS] Updated by %s", middleware.UserID(c))
	return c.JSON(saved)
}
