package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"realtycrm/internal/crm"
	"realtycrm/internal/models"
	"realtycrm/internal/settings"
)

// ErrWhatsAppDisabled is returned when the channel is switched off in settings
var ErrWhatsAppDisabled = errors.New("whatsapp messaging is disabled")

// TemplatePreview is a rendered template, as plain text and as HTML
type TemplatePreview struct {
	Text string `json:"text"`
	HTML string `json:"html"`
}

// WhatsAppService manages message templates and the outbound message log.
// Messages are recorded with status queued; nothing is delivered.
type WhatsAppService struct {
	templates Repository[models.WhatsAppTemplate]
	messages  Repository[models.WhatsAppMessage]
	pipeline  *PipelineService
	activity  *ActivityService
	settings  *settings.Store
	markdown  goldmark.Markdown
	now       func() time.Time
}

// NewWhatsAppService creates a new WhatsApp service. pipeline, activity and
// settings may be nil.
func NewWhatsAppService(templates Repository[models.WhatsAppTemplate], messages Repository[models.WhatsAppMessage], pipeline *PipelineService, activity *ActivityService, st *settings.Store) *WhatsAppService {
	return &WhatsAppService{
		templates: templates,
		messages:  messages,
		pipeline:  pipeline,
		activity:  activity,
		settings:  st,
		markdown:  goldmark.New(goldmark.WithExtensions(extension.Strikethrough, extension.Linkify)),
		now:       time.Now,
	}
}

func (s *WhatsAppService) ListTemplates(ctx context.Context) ([]models.WhatsAppTemplate, error) {
	return s.templates.List(ctx, nil)
}

func (s *WhatsAppService) GetTemplate(ctx context.Context, id string) (models.WhatsAppTemplate, error) {
	return s.templates.Get(ctx, id)
}

// CreateTemplate stores a template. Language defaults to the settings'.
func (s *WhatsAppService) CreateTemplate(ctx context.Context, t models.WhatsAppTemplate) (models.WhatsAppTemplate, error) {
	if t.Language == "" {
		t.Language = s.defaultLanguage()
	}
	if err := t.Validate(); err != nil {
		return models.WhatsAppTemplate{}, invalid(err)
	}
	existing, err := s.templates.List(ctx, Match{"name": t.Name, "language": t.Language})
	if err != nil {
		return models.WhatsAppTemplate{}, fmt.Errorf("failed to check template name: %w", err)
	}
	if len(existing) > 0 {
		return models.WhatsAppTemplate{}, invalid(fmt.Errorf("template %q (%s) already exists", t.Name, t.Language))
	}

	now := s.now()
	t.ID = uuid.NewString()
	t.CreatedAt = now
	t.UpdatedAt = now
	if err := s.templates.Insert(ctx, t.ID, t); err != nil {
		return models.WhatsAppTemplate{}, fmt.Errorf("failed to create template: %w", err)
	}
	return t, nil
}

func (s *WhatsAppService) UpdateTemplate(ctx context.Context, id string, t models.WhatsAppTemplate) (models.WhatsAppTemplate, error) {
	current, err := s.templates.Get(ctx, id)
	if err != nil {
		return models.WhatsAppTemplate{}, err
	}
	t.ID = current.ID
	t.CreatedAt = current.CreatedAt
	if t.Language == "" {
		t.Language = current.Language
	}
	if err := t.Validate(); err != nil {
		return models.WhatsAppTemplate{}, invalid(err)
	}
	t.UpdatedAt = s.now()
	if err := s.templates.Replace(ctx, id, t); err != nil {
		return models.WhatsAppTemplate{}, fmt.Errorf("failed to update template: %w", err)
	}
	return t, nil
}

func (s *WhatsAppService) DeleteTemplate(ctx context.Context, id string) error {
	return s.templates.Delete(ctx, id)
}

// Preview renders a template with params, also as HTML
func (s *WhatsAppService) Preview(ctx context.Context, id string, params []string) (TemplatePreview, error) {
	t, err := s.templates.Get(ctx, id)
	if err != nil {
		return TemplatePreview{}, err
	}
	return s.render(t, params)
}

func (s *WhatsAppService) render(t models.WhatsAppTemplate, params []string) (TemplatePreview, error) {
	body, err := t.Render(params)
	if err != nil {
		return TemplatePreview{}, invalid(err)
	}
	text := body
	if t.Header != "" {
		text = t.Header + "\n\n" + text
	}
	if t.Footer != "" {
		text = text + "\n\n" + t.Footer
	}

	var buf bytes.Buffer
	if err := s.markdown.Convert([]byte(whatsAppToMarkdown(text)), &buf); err != nil {
		return TemplatePreview{}, fmt.Errorf("failed to render preview: %w", err)
	}
	return TemplatePreview{Text: text, HTML: buf.String()}, nil
}

var (
	waBold   = regexp.MustCompile(`\*([^*\n]+)\*`)
	waStrike = regexp.MustCompile(`~([^~\n]+)~`)
)

// whatsAppToMarkdown rewrites WhatsApp's *bold* and ~strike~ markup into
// markdown; _italic_ is the same in both
func whatsAppToMarkdown(s string) string {
	s = waBold.ReplaceAllString(s, "**$1**")
	s = waStrike.ReplaceAllString(s, "~~$1~~")
	// keep single line breaks
	return strings.ReplaceAll(s, "\n", "  \n")
}

// SendMessage logs an outbound message. A lead id fills in the phone number
// and adds a whatsapp entry to the lead's timeline.
func (s *WhatsAppService) SendMessage(ctx context.Context, req models.SendMessageRequest, sender string) (models.WhatsAppMessage, error) {
	if s.settings != nil && !s.settings.Get().WhatsApp.Enabled {
		return models.WhatsAppMessage{}, ErrWhatsAppDisabled
	}

	msg := models.WhatsAppMessage{
		ID:         uuid.NewString(),
		LeadID:     req.LeadID,
		To:         strings.TrimSpace(req.To),
		TemplateID: req.TemplateID,
		CampaignID: req.CampaignID,
		Status:     models.MessageQueued,
		SentBy:     sender,
		CreatedAt:  s.now(),
	}

	if req.LeadID != "" && s.pipeline != nil {
		lead, err := s.pipeline.Get(ctx, crm.KindLead, req.LeadID)
		if err != nil {
			return models.WhatsAppMessage{}, err
		}
		if msg.To == "" {
			msg.To = lead.Phone
		}
	}
	if msg.To == "" {
		return models.WhatsAppMessage{}, invalid(errors.New("recipient phone number is required"))
	}

	switch {
	case req.TemplateID != "":
		t, err := s.templates.Get(ctx, req.TemplateID)
		if err != nil {
			return models.WhatsAppMessage{}, err
		}
		preview, err := s.render(t, req.Params)
		if err != nil {
			return models.WhatsAppMessage{}, err
		}
		msg.Body = preview.Text
	case strings.TrimSpace(req.Body) != "":
		msg.Body = req.Body
	default:
		return models.WhatsAppMessage{}, invalid(errors.New("either body or templateId is required"))
	}

	if err := s.messages.Insert(ctx, msg.ID, msg); err != nil {
		return models.WhatsAppMessage{}, fmt.Errorf("failed to log message: %w", err)
	}

	if msg.LeadID != "" && s.activity != nil {
		_, err := s.activity.AddInteraction(ctx, models.Interaction{
			LeadID:     msg.LeadID,
			Type:       models.InteractionWhatsApp,
			Summary:    msg.Body,
			OccurredAt: msg.CreatedAt,
		}, sender)
		if err != nil {
			log.Printf("⚠️ [WHATSAPP] Failed to add timeline entry for lead %s: %v", msg.LeadID, err)
		}
	}

	log.Printf("📨 [WHATSAPP] Queued message %s to %s", msg.ID, msg.To)
	return msg, nil
}

// ListMessages returns logged messages, optionally for one lead or campaign
func (s *WhatsAppService) ListMessages(ctx context.Context, leadID, campaignID string) ([]models.WhatsAppMessage, error) {
	match := Match{}
	if leadID != "" {
		match["leadId"] = leadID
	}
	if campaignID != "" {
		match["campaignId"] = campaignID
	}
	return s.messages.List(ctx, match)
}

func (s *WhatsAppService) defaultLanguage() string {
	if s.settings != nil {
		return s.settings.Get().WhatsApp.DefaultLanguage
	}
	return "en"
}
