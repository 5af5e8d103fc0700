package models

import (
	"fmt"
	"strings"
	"time"

	"realtycrm/internal/crm/filter"
)

// Campaign statuses
const (
	CampaignDraft     = "draft"
	CampaignActive    = "active"
	CampaignPaused    = "paused"
	CampaignCompleted = "completed"
)

// Campaign channels
const (
	ChannelWhatsApp = "whatsapp"
	ChannelSMS      = "sms"
	ChannelEmail    = "email"
)

// Campaign targets the leads matching Audience, a saved lead filter
type Campaign struct {
	ID         string       `bson:"_id" json:"id"`
	Name       string       `bson:"name" json:"name"`
	Channel    string       `bson:"channel" json:"channel"`
	TemplateID string       `bson:"templateId,omitempty" json:"templateId,omitempty"`
	Audience   filter.State `bson:"audience" json:"audience"`
	Status     string       `bson:"status" json:"status"`
	CreatedBy  string       `bson:"createdBy" json:"createdBy"`
	CreatedAt  time.Time    `bson:"createdAt" json:"createdAt"`
	UpdatedAt  time.Time    `bson:"updatedAt" json:"updatedAt"`
}

// Validate checks required fields and enumerations
func (c Campaign) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("campaign name is required")
	}
	switch c.Channel {
	case ChannelWhatsApp, ChannelSMS, ChannelEmail:
	default:
		return fmt.Errorf("unknown campaign channel %q", c.Channel)
	}
	switch c.Status {
	case CampaignDraft, CampaignActive, CampaignPaused, CampaignCompleted:
	default:
		return fmt.Errorf("unknown campaign status %q", c.Status)
	}
	return nil
}
