// Package crm holds the record model shared by leads, opportunities and site
// visits, together with the stage machines and the aggregate statistics that
// drive the pipeline views.
package crm

import (
	"fmt"
	"strings"
	"time"
)

// EntityKind identifies which CRM collection a record belongs to
type EntityKind string

const (
	KindLead        EntityKind = "lead"
	KindOpportunity EntityKind = "opportunity"
	KindVisit       EntityKind = "visit"
)

// Kinds lists every entity kind in display order
var Kinds = []EntityKind{KindLead, KindOpportunity, KindVisit}

// ParseKind accepts both singular and plural (route style) names
func ParseKind(s string) (EntityKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "lead", "leads":
		return KindLead, nil
	case "opportunity", "opportunities":
		return KindOpportunity, nil
	case "visit", "visits", "site-visits", "sitevisits":
		return KindVisit, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Plural returns the collection style name used in routes
func (k EntityKind) Plural() string {
	switch k {
	case KindOpportunity:
		return "opportunities"
	case KindVisit:
		return "visits"
	default:
		return string(k) + "s"
	}
}

// Record field keys understood by Field, filters and sorting
const (
	FieldID             = "id"
	FieldStage          = "stage"
	FieldStageEnteredAt = "stageEnteredAt"
	FieldAssignedTo     = "assignedTo"
	FieldCreatedAt      = "createdAt"
	FieldName           = "name"
	FieldPhone          = "phone"
	FieldEmail          = "email"
	FieldLocation       = "location"
	FieldValue          = "value"
	FieldSource         = "source"
	FieldProject        = "project"
	FieldTags           = "tags"
)

// Attribute keys of entity specific values kept in Record.Attrs
const (
	AttrNurturingProgress = "nurturingProgress"
	AttrScheduledAt       = "scheduledAt"
	AttrVisitDate         = "visitDate"
	AttrNotes             = "notes"
)

// CustomFieldPrefix namespaces custom field values inside Record.Attrs
const CustomFieldPrefix = "cf."

// Record is the common shape of a lead, opportunity or site visit as seen by
// the filter, sort and pipeline code.
type Record struct {
	ID             string         `json:"id"`
	Kind           EntityKind     `json:"kind"`
	Stage          string         `json:"stage"`
	StageEnteredAt time.Time      `json:"stageEnteredAt"`
	AssignedTo     *string        `json:"assignedTo,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	Name           string         `json:"name"`
	Phone          string         `json:"phone,omitempty"`
	Email          string         `json:"email,omitempty"`
	Location       string         `json:"location,omitempty"`
	Value          float64        `json:"value"`
	Source         string         `json:"source,omitempty"`
	Project        string         `json:"project,omitempty"`
	Tags           []string       `json:"tags,omitempty"`
	Attrs          map[string]any `json:"attrs,omitempty"`
}

// IsAssigned reports whether the record has a team member attached
func (r Record) IsAssigned() bool {
	return r.AssignedTo != nil && strings.TrimSpace(*r.AssignedTo) != ""
}

// SearchableText is the lower-cased text that free-text search runs against.
// It is derived on demand so it never goes stale after an edit.
func (r Record) SearchableText() string {
	parts := make([]string, 0, 4)
	for _, p := range []string{r.Name, r.Phone, r.Email, r.Location} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.ToLower(strings.Join(parts, " "))
}

// Field looks a value up by key. The boolean is false when the record has no
// value for the key, which predicates treat as "does not match".
func (r Record) Field(name string) (any, bool) {
	switch name {
	case FieldID:
		return r.ID, r.ID != ""
	case FieldStage:
		return r.Stage, r.Stage != ""
	case FieldStageEnteredAt:
		return r.StageEnteredAt, !r.StageEnteredAt.IsZero()
	case FieldAssignedTo:
		if !r.IsAssigned() {
			return nil, false
		}
		return *r.AssignedTo, true
	case FieldCreatedAt:
		return r.CreatedAt, !r.CreatedAt.IsZero()
	case FieldName:
		return r.Name, r.Name != ""
	case FieldPhone:
		return r.Phone, r.Phone != ""
	case FieldEmail:
		return r.Email, r.Email != ""
	case FieldLocation:
		return r.Location, r.Location != ""
	case FieldValue:
		return r.Value, true
	case FieldSource:
		return r.Source, r.Source != ""
	case FieldProject:
		return r.Project, r.Project != ""
	case FieldTags:
		return r.Tags, len(r.Tags) > 0
	}
	if r.Attrs == nil {
		return nil, false
	}
	v, ok := r.Attrs[name]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// Clone returns a deep copy so callers can derive new records without
// touching the store's copy.
func (r Record) Clone() Record {
	out := r
	if r.AssignedTo != nil {
		a := *r.AssignedTo
		out.AssignedTo = &a
	}
	if r.Tags != nil {
		out.Tags = append([]string(nil), r.Tags...)
	}
	if r.Attrs != nil {
		out.Attrs = make(map[string]any, len(r.Attrs))
		for k, v := range r.Attrs {
			out.Attrs[k] = v
		}
	}
	return out
}

// NewRecord builds a record with the kind's default stage. CreatedAt and
// StageEnteredAt both start at now.
func NewRecord(kind EntityKind, now time.Time) Record {
	return Record{
		Kind:           kind,
		Stage:          DefaultStage(kind),
		StageEnteredAt: now,
		CreatedAt:      now,
	}
}
