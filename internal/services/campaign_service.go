package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"realtycrm/internal/crm"
	"realtycrm/internal/crm/filter"
	"realtycrm/internal/crm/view"
	"realtycrm/internal/models"
)

// CampaignService manages campaigns. A campaign's audience is a saved lead
// filter evaluated against the current leads whenever it is needed.
type CampaignService struct {
	repo     Repository[models.Campaign]
	pipeline *PipelineService
	whatsapp *WhatsAppService
	now      func() time.Time
}

// NewCampaignService creates a new campaign service. whatsapp may be nil,
// in which case campaigns can't be launched.
func NewCampaignService(repo Repository[models.Campaign], pipeline *PipelineService, whatsapp *WhatsAppService) *CampaignService {
	return &CampaignService{repo: repo, pipeline: pipeline, whatsapp: whatsapp, now: time.Now}
}

func (s *CampaignService) List(ctx context.Context, status string) ([]models.Campaign, error) {
	var match Match
	if status != "" {
		match = Match{"status": status}
	}
	return s.repo.List(ctx, match)
}

func (s *CampaignService) Get(ctx context.Context, id string) (models.Campaign, error) {
	return s.repo.Get(ctx, id)
}

// Create stores a draft campaign
func (s *CampaignService) Create(ctx context.Context, c models.Campaign, userID string) (models.Campaign, error) {
	if c.Status == "" {
		c.Status = models.CampaignDraft
	}
	if c.Audience == nil {
		c.Audience = filter.State{}
	}
	if err := c.Validate(); err != nil {
		return models.Campaign{}, invalid(err)
	}
	now := s.now()
	c.ID = uuid.NewString()
	c.CreatedBy = userID
	c.CreatedAt = now
	c.UpdatedAt = now
	if err := s.repo.Insert(ctx, c.ID, c); err != nil {
		return models.Campaign{}, fmt.Errorf("failed to create campaign: %w", err)
	}
	return c, nil
}

func (s *CampaignService) Update(ctx context.Context, id string, c models.Campaign) (models.Campaign, error) {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return models.Campaign{}, err
	}
	c.ID = current.ID
	c.CreatedBy = current.CreatedBy
	c.CreatedAt = current.CreatedAt
	if c.Status == "" {
		c.Status = current.Status
	}
	if c.Audience == nil {
		c.Audience = current.Audience
	}
	if err := c.Validate(); err != nil {
		return models.Campaign{}, invalid(err)
	}
	c.UpdatedAt = s.now()
	if err := s.repo.Replace(ctx, id, c); err != nil {
		return models.Campaign{}, fmt.Errorf("failed to update campaign: %w", err)
	}
	return c, nil
}

func (s *CampaignService) Delete(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}

// Audience returns the leads currently matching the campaign's filter,
// sorted by name
func (s *CampaignService) Audience(ctx context.Context, id string) ([]crm.Record, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.pipeline.Filtered(ctx, crm.KindLead, c.Audience, view.SortState{Key: crm.FieldName, Direction: view.Asc})
}

// Launch queues one templated WhatsApp message per audience lead that has a
// phone number and marks the campaign active. {{1}} is the lead's name and
// {{2}} the project.
func (s *CampaignService) Launch(ctx context.Context, id, userID string) (int, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	if c.Channel != models.ChannelWhatsApp || s.whatsapp == nil {
		return 0, invalid(fmt.Errorf("only whatsapp campaigns can be launched"))
	}
	if c.TemplateID == "" {
		return 0, invalid(errors.New("campaign has no template"))
	}
	if c.Status == models.CampaignCompleted {
		return 0, invalid(errors.New("campaign is already completed"))
	}

	leads, err := s.Audience(ctx, id)
	if err != nil {
		return 0, err
	}

	queued := 0
	for _, lead := range leads {
		if lead.Phone == "" {
			continue
		}
		_, err := s.whatsapp.SendMessage(ctx, models.SendMessageRequest{
			LeadID:     lead.ID,
			To:         lead.Phone,
			TemplateID: c.TemplateID,
			Params:     []string{lead.Name, lead.Project},
			CampaignID: c.ID,
		}, userID)
		if err != nil {
			return queued, fmt.Errorf("failed to queue message for lead %s: %w", lead.ID, err)
		}
		queued++
	}

	c.Status = models.CampaignActive
	c.UpdatedAt = s.now()
	if err := s.repo.Replace(ctx, c.ID, c); err != nil {
		return queued, fmt.Errorf("failed to activate campaign: %w", err)
	}

	log.Printf("📣 [CAMPAIGN] Launched %s: %d messages queued", c.ID, queued)
	return queued, nil
}
