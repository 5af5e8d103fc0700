package models

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Template categories as used by the WhatsApp Business catalogue
const (
	TemplateMarketing      = "marketing"
	TemplateUtility        = "utility"
	TemplateAuthentication = "authentication"
)

// Message statuses. Messages are only logged; nothing is delivered.
const (
	MessageQueued = "queued"
	MessageFailed = "failed"
)

var placeholder = regexp.MustCompile(`\{\{\s*(\d+)\s*\}\}`)

// WhatsAppTemplate is a reusable message body with {{1}}-style placeholders
type WhatsAppTemplate struct {
	ID        string    `bson:"_id" json:"id"`
	Name      string    `bson:"name" json:"name"`
	Category  string    `bson:"category" json:"category"`
	Language  string    `bson:"language" json:"language"`
	Header    string    `bson:"header,omitempty" json:"header,omitempty"`
	Body      string    `bson:"body" json:"body"`
	Footer    string    `bson:"footer,omitempty" json:"footer,omitempty"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`
}

// Validate checks required fields and placeholder numbering
func (t WhatsAppTemplate) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("template name is required")
	}
	if strings.TrimSpace(t.Body) == "" {
		return fmt.Errorf("template body is required")
	}
	switch t.Category {
	case TemplateMarketing, TemplateUtility, TemplateAuthentication:
	default:
		return fmt.Errorf("unknown template category %q", t.Category)
	}
	n := t.Placeholders()
	seen := make(map[int]bool, n)
	for _, m := range placeholder.FindAllStringSubmatch(t.Body, -1) {
		i, _ := strconv.Atoi(m[1])
		seen[i] = true
	}
	for i := 1; i <= n; i++ {
		if !seen[i] {
			return fmt.Errorf("placeholders must be numbered from {{1}} without gaps, missing {{%d}}", i)
		}
	}
	return nil
}

// Placeholders returns the highest placeholder number in the body
func (t WhatsAppTemplate) Placeholders() int {
	highest := 0
	for _, m := range placeholder.FindAllStringSubmatch(t.Body, -1) {
		if i, err := strconv.Atoi(m[1]); err == nil && i > highest {
			highest = i
		}
	}
	return highest
}

// Render substitutes params into the body. params[0] fills {{1}}.
func (t WhatsAppTemplate) Render(params []string) (string, error) {
	if len(params) < t.Placeholders() {
		return "", fmt.Errorf("template %q needs %d parameters, got %d", t.Name, t.Placeholders(), len(params))
	}
	return placeholder.ReplaceAllStringFunc(t.Body, func(m string) string {
		i, _ := strconv.Atoi(placeholder.FindStringSubmatch(m)[1])
		if i < 1 || i > len(params) {
			return m
		}
		return params[i-1]
	}), nil
}

// WhatsAppMessage is a logged outbound message
type WhatsAppMessage struct {
	ID         string    `bson:"_id" json:"id"`
	LeadID     string    `bson:"leadId,omitempty" json:"leadId,omitempty"`
	To         string    `bson:"to" json:"to"`
	TemplateID string    `bson:"templateId,omitempty" json:"templateId,omitempty"`
	CampaignID string    `bson:"campaignId,omitempty" json:"campaignId,omitempty"`
	Body       string    `bson:"body" json:"body"`
	Status     string    `bson:"status" json:"status"`
	SentBy     string    `bson:"sentBy" json:"sentBy"`
	CreatedAt  time.Time `bson:"createdAt" json:"createdAt"`
}

// SendMessageRequest is the body of POST /api/whatsapp/messages. Either
// Body or TemplateID (with Params) is given.
type SendMessageRequest struct {
	LeadID     string   `json:"leadId"`
	To         string   `json:"to"`
	TemplateID string   `json:"templateId"`
	Params     []string `json:"params"`
	Body       string   `json:"body"`
	CampaignID string   `json:"campaignId,omitempty"`
}
