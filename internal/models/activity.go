package models

import (
	"fmt"
	"time"
)

// Call directions
const (
	CallInbound  = "inbound"
	CallOutbound = "outbound"
)

// CallLog records a phone call with a lead
type CallLog struct {
	ID              string    `bson:"_id" json:"id"`
	LeadID          string    `bson:"leadId" json:"leadId"`
	UserID          string    `bson:"userId" json:"userId"`
	Direction       string    `bson:"direction" json:"direction"`
	DurationSeconds int       `bson:"durationSeconds" json:"durationSeconds"`
	Outcome         string    `bson:"outcome,omitempty" json:"outcome,omitempty"`
	Notes           string    `bson:"notes,omitempty" json:"notes,omitempty"`
	CalledAt        time.Time `bson:"calledAt" json:"calledAt"`
}

func (c CallLog) Validate() error {
	if c.LeadID == "" {
		return fmt.Errorf("leadId is required")
	}
	if c.Direction != CallInbound && c.Direction != CallOutbound {
		return fmt.Errorf("direction must be %q or %q", CallInbound, CallOutbound)
	}
	if c.DurationSeconds < 0 {
		return fmt.Errorf("durationSeconds must not be negative")
	}
	return nil
}

// Interaction types
const (
	InteractionNote     = "note"
	InteractionMeeting  = "meeting"
	InteractionEmail    = "email"
	InteractionWhatsApp = "whatsapp"
)

// Interaction is a timeline entry on a lead
type Interaction struct {
	ID         string    `bson:"_id" json:"id"`
	LeadID     string    `bson:"leadId" json:"leadId"`
	Type       string    `bson:"type" json:"type"`
	Summary    string    `bson:"summary" json:"summary"`
	CreatedBy  string    `bson:"createdBy" json:"createdBy"`
	OccurredAt time.Time `bson:"occurredAt" json:"occurredAt"`
}

func (i Interaction) Validate() error {
	if i.LeadID == "" {
		return fmt.Errorf("leadId is required")
	}
	switch i.Type {
	case InteractionNote, InteractionMeeting, InteractionEmail, InteractionWhatsApp:
	default:
		return fmt.Errorf("unknown interaction type %q", i.Type)
	}
	if i.Summary == "" {
		return fmt.Errorf("summary is required")
	}
	return nil
}

// StageHistoryEntry is one applied stage transition
type StageHistoryEntry struct {
	ID        int64     `json:"id"`
	Kind      string    `json:"kind"`
	RecordID  string    `json:"recordId"`
	FromStage string    `json:"fromStage"`
	ToStage   string    `json:"toStage"`
	ChangedBy string    `json:"changedBy,omitempty"`
	ChangedAt time.Time `json:"changedAt"`
}
