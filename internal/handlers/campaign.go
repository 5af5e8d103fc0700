package handlers

import (
	"log"

	"github.com/gofiber/fiber/v2"

	"realtycrm/internal/middleware"
	"realtycrm/internal/models"
	"realtycrm/internal/services"
)

// CampaignHandler manages marketing campaigns
type CampaignHandler struct {
	campaigns *services.CampaignService
}

func NewCampaignHandler(campaigns *services.CampaignService) *CampaignHandler {
	return &CampaignHandler{campaigns: campaigns}
}

// List returns campaigns, optionally of one status
// GET /api/campaigns
func (h *CampaignHandler) List(c *fiber.Ctx) error {
	campaigns, err := h.campaigns.List(c.UserContext(), c.Query("status"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"campaigns": campaigns})
}

// GET /api/campaigns/:id
func (h *CampaignHandler) Get(c *fiber.Ctx) error {
	campaign, err := h.campaigns.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(campaign)
}

// POST /api/campaigns
func (h *CampaignHandler) Create(c *fiber.Ctx) error {
	var campaign models.Campaign
	if err := c.BodyParser(&campaign); err != nil {
		return badRequest(c, "Invalid request body")
	}
	created, err := h.campaigns.Create(c.UserContext(), campaign, middleware.UserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(created)
}

// PUT /api/campaigns/:id
func (h *CampaignHandler) Update(c *fiber.Ctx) error {
	var campaign models.Campaign
	if err := c.BodyParser(&campaign); err != nil {
		return badRequest(c, "Invalid request body")
	}
	updated, err := h.campaigns.Update(c.UserContext(), c.Params("id"), campaign)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(updated)
}

// DELETE /api/campaigns/:id
func (h *CampaignHandler) Delete(c *fiber.Ctx) error {
	if err := h.campaigns.Delete(c.UserContext(), c.Params("id")); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}

// Audience returns the leads the campaign's filter currently matches
// GET /api/campaigns/:id/audience
func (h *CampaignHandler) Audience(c *fiber.Ctx) error {
	leads, err := h.campaigns.Audience(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"leads": leads, "total": len(leads)})
}

// Launch queues the campaign's message for every audience lead
// POST /api/campaigns/:id/launch
func (h *CampaignHandler) Launch(c *fiber.Ctx) error {
	queued, err := h.campaigns.Launch(c.UserContext(), c.Params("id"), middleware.UserID(c))
	if err != nil {
		return respondError(c, err)
	}
	log.Printf("🚀 [CAMPAIGNS] %s launched by %s, %d messages queued", c.Params("id"), middleware.UserID(c), queued)
	return c.JSON(fiber.Map{"queued": queued})
}
