package models

import (
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"realtycrm/internal/crm"
)

// RecordDocument is how leads, opportunities and site visits are stored in
// MongoDB. Each kind lives in its own collection.
type RecordDocument struct {
	ID             primitive.ObjectID `bson:"_id,omitempty"`
	Stage          string             `bson:"stage"`
	StageEnteredAt time.Time          `bson:"stageEnteredAt"`
	AssignedTo     *string            `bson:"assignedTo,omitempty"`
	CreatedAt      time.Time          `bson:"createdAt"`
	UpdatedAt      time.Time          `bson:"updatedAt"`
	Name           string             `bson:"name"`
	Phone          string             `bson:"phone,omitempty"`
	Email          string             `bson:"email,omitempty"`
	Location       string             `bson:"location,omitempty"`
	Value          float64            `bson:"value"`
	Source         string             `bson:"source,omitempty"`
	Project        string             `bson:"project,omitempty"`
	Tags           []string           `bson:"tags,omitempty"`
	Attrs          bson.M             `bson:"attrs,omitempty"`
}

// ToRecord converts a stored document into the shared record shape
func (d RecordDocument) ToRecord(kind crm.EntityKind) crm.Record {
	r := crm.Record{
		ID:             d.ID.Hex(),
		Kind:           kind,
		Stage:          d.Stage,
		StageEnteredAt: d.StageEnteredAt.UTC(),
		AssignedTo:     d.AssignedTo,
		CreatedAt:      d.CreatedAt.UTC(),
		Name:           d.Name,
		Phone:          d.Phone,
		Email:          d.Email,
		Location:       d.Location,
		Value:          d.Value,
		Source:         d.Source,
		Project:        d.Project,
		Tags:           d.Tags,
	}
	if len(d.Attrs) > 0 {
		r.Attrs = make(map[string]any, len(d.Attrs))
		for k, v := range d.Attrs {
			if k == customFieldsKey {
				for name, cv := range customFieldDocument(v) {
					r.Attrs[CustomFieldAttr(name)] = attrValue(cv)
				}
				continue
			}
			r.Attrs[k] = attrValue(v)
		}
	}
	return r
}

// customFieldsKey holds custom field values as a sub-document of attrs, so
// "cf.<key>" attrs map onto the dotted path attrs.cf.<key>
const customFieldsKey = "cf"

func customFieldDocument(v any) map[string]any {
	switch doc := v.(type) {
	case bson.M:
		return doc
	case map[string]any:
		return doc
	case primitive.D:
		out := make(map[string]any, len(doc))
		for _, e := range doc {
			out[e.Key] = e.Value
		}
		return out
	}
	return nil
}

func attrValue(v any) any {
	if dt, ok := v.(primitive.DateTime); ok {
		return dt.Time().UTC()
	}
	return v
}

// DocumentFromRecord is the inverse of ToRecord. A record without a valid
// hex id produces a document with an empty id, which Mongo fills on insert.
func DocumentFromRecord(r crm.Record) RecordDocument {
	d := RecordDocument{
		Stage:          r.Stage,
		StageEnteredAt: r.StageEnteredAt,
		AssignedTo:     r.AssignedTo,
		CreatedAt:      r.CreatedAt,
		Name:           r.Name,
		Phone:          r.Phone,
		Email:          r.Email,
		Location:       r.Location,
		Value:          r.Value,
		Source:         r.Source,
		Project:        r.Project,
		Tags:           r.Tags,
	}
	if oid, err := primitive.ObjectIDFromHex(r.ID); err == nil {
		d.ID = oid
	}
	if len(r.Attrs) > 0 {
		d.Attrs = bson.M{}
		custom := bson.M{}
		for k, v := range r.Attrs {
			if name, ok := strings.CutPrefix(k, crm.CustomFieldPrefix); ok {
				custom[name] = v
				continue
			}
			d.Attrs[k] = v
		}
		if len(custom) > 0 {
			d.Attrs[customFieldsKey] = custom
		}
	}
	return d
}

// bsonFields maps record field keys to document paths for partial updates
var bsonFields = map[string]string{
	crm.FieldStage:          "stage",
	crm.FieldStageEnteredAt: "stageEnteredAt",
	crm.FieldAssignedTo:     "assignedTo",
	crm.FieldName:           "name",
	crm.FieldPhone:          "phone",
	crm.FieldEmail:          "email",
	crm.FieldLocation:       "location",
	crm.FieldValue:          "value",
	crm.FieldSource:         "source",
	crm.FieldProject:        "project",
	crm.FieldTags:           "tags",
}

// BSONPath returns the document path of a record field. Unknown keys are
// entity specific and live under attrs.
func BSONPath(field string) string {
	if p, ok := bsonFields[field]; ok {
		return p
	}
	return "attrs." + field
}

// RecordInput is the JSON body accepted when creating a lead, opportunity or
// site visit. The web client uses several names for the same concept, so
// status/stage, budget/dealValue/value and executive/assignedTo are all
// accepted.
type RecordInput struct {
	Name      string   `json:"name"`
	Client    string   `json:"client,omitempty"`
	Phone     string   `json:"phone"`
	Email     string   `json:"email"`
	Location  string   `json:"location"`
	Stage     string   `json:"stage"`
	Status    string   `json:"status"`
	Value     *float64 `json:"value"`
	Budget    *float64 `json:"budget"`
	DealValue *float64 `json:"dealValue"`
	Source    string   `json:"source"`
	Project   string   `json:"project"`
	Tags      []string `json:"tags"`

	AssignedTo *string `json:"assignedTo"`
	Executive  *string `json:"executive"`

	NurturingProgress *int       `json:"nurturingProgress,omitempty"`
	ScheduledAt       *time.Time `json:"scheduledAt,omitempty"`
	VisitDate         *time.Time `json:"visitDate,omitempty"`
	Notes             string     `json:"notes,omitempty"`

	CustomFields map[string]any `json:"customFields,omitempty"`
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func firstFloat(values ...*float64) (float64, bool) {
	for _, v := range values {
		if v != nil {
			return *v, true
		}
	}
	return 0, false
}

// ToRecord builds a new record of kind with that kind's defaults filled in
func (in RecordInput) ToRecord(kind crm.EntityKind, now time.Time) (crm.Record, error) {
	r := crm.NewRecord(kind, now)
	r.Name = firstNonEmpty(in.Name, in.Client)
	if r.Name == "" {
		return crm.Record{}, fmt.Errorf("name is required")
	}
	r.Phone = strings.TrimSpace(in.Phone)
	r.Email = strings.TrimSpace(in.Email)
	r.Location = in.Location
	r.Source = in.Source
	r.Project = in.Project
	r.Tags = in.Tags

	if stage := firstNonEmpty(in.Stage, in.Status); stage != "" {
		r.Stage = stage
	}
	if v, ok := firstFloat(in.Value, in.Budget, in.DealValue); ok {
		if v < 0 {
			return crm.Record{}, fmt.Errorf("value must not be negative")
		}
		r.Value = v
	}
	if in.AssignedTo != nil {
		r.AssignedTo = in.AssignedTo
	} else if in.Executive != nil {
		r.AssignedTo = in.Executive
	}

	attrs := map[string]any{}
	switch kind {
	case crm.KindLead:
		if r.Source == "" {
			r.Source = DefaultLeadSource
		}
		progress := DefaultNurturingProgress
		if in.NurturingProgress != nil {
			progress = *in.NurturingProgress
		}
		if progress < 0 || progress > 100 {
			return crm.Record{}, fmt.Errorf("nurturingProgress must be between 0 and 100")
		}
		attrs[crm.AttrNurturingProgress] = progress
	case crm.KindOpportunity:
		if in.VisitDate != nil {
			attrs[crm.AttrVisitDate] = in.VisitDate.UTC()
		}
	case crm.KindVisit:
		if in.ScheduledAt == nil {
			return crm.Record{}, fmt.Errorf("scheduledAt is required for a site visit")
		}
		attrs[crm.AttrScheduledAt] = in.ScheduledAt.UTC()
	}
	if in.Notes != "" {
		attrs[crm.AttrNotes] = in.Notes
	}
	for k, v := range in.CustomFields {
		attrs[CustomFieldAttr(k)] = v
	}
	if len(attrs) > 0 {
		r.Attrs = attrs
	}
	return r, nil
}

// PatchInput is the JSON body of an edit. A stage in the body is returned
// separately so the caller can run it through the stage machine.
type PatchInput map[string]any

var patchAliases = map[string]string{
	"status":    crm.FieldStage,
	"budget":    crm.FieldValue,
	"dealValue": crm.FieldValue,
	"executive": crm.FieldAssignedTo,
	"client":    crm.FieldName,
}

// ignoredPatchKeys are server managed. Clients that PUT the whole object
// they fetched echo them back; stageEnteredAt only moves with the stage.
var ignoredPatchKeys = map[string]bool{
	"_id":                   true,
	crm.FieldID:             true,
	"kind":                  true,
	crm.FieldCreatedAt:      true,
	"updatedAt":             true,
	crm.FieldStageEnteredAt: true,
}

const attrsKey = "attrs"

// Flatten lifts an echoed attrs object to the top level and gathers every
// "cf."-prefixed key into customFields, so custom values are validated the
// same way however they arrive. Explicit top-level keys win over attrs.
func (in PatchInput) Flatten() PatchInput {
	out := make(PatchInput, len(in))
	custom := map[string]any{}
	lift := func(k string, v any, explicit bool) {
		if name, ok := strings.CutPrefix(k, crm.CustomFieldPrefix); ok {
			if _, seen := custom[name]; !seen || explicit {
				custom[name] = v
			}
			return
		}
		if _, seen := out[k]; !seen || explicit {
			out[k] = v
		}
	}

	if attrs, ok := in[attrsKey].(map[string]any); ok {
		for k, v := range attrs {
			lift(k, v, false)
		}
	}
	for k, v := range in {
		switch k {
		case attrsKey:
			if _, ok := v.(map[string]any); !ok && v != nil {
				out[k] = v
			}
		case "customFields":
			m, ok := v.(map[string]any)
			if !ok {
				out[k] = v
				continue
			}
			for name, cv := range m {
				custom[strings.TrimPrefix(name, crm.CustomFieldPrefix)] = cv
			}
		default:
			lift(k, v, true)
		}
	}
	// a customFields value that is not an object stays for ToPatch to reject
	if _, ok := out["customFields"]; !ok && len(custom) > 0 {
		out["customFields"] = custom
	}
	return out
}

// ToPatch turns the body into a crm.Patch plus an optional stage change
func (in PatchInput) ToPatch() (crm.Patch, string, error) {
	p := crm.Patch{Fields: map[string]any{}}
	stage := ""
	for k, v := range in.Flatten() {
		if ignoredPatchKeys[k] {
			continue
		}
		key := k
		if alias, ok := patchAliases[k]; ok {
			key = alias
		}
		switch key {
		case crm.FieldStage:
			s, ok := v.(string)
			if !ok {
				return crm.Patch{}, "", fmt.Errorf("%w: %q must be a string", crm.ErrUnknownField, k)
			}
			stage = s
		case crm.FieldAssignedTo:
			if v == nil || v == "" {
				p.Unassign = true
				continue
			}
			s, ok := v.(string)
			if !ok {
				return crm.Patch{}, "", fmt.Errorf("%w: %q must be a string", crm.ErrUnknownField, k)
			}
			p.AssignedTo = &s
		case attrsKey:
			return crm.Patch{}, "", fmt.Errorf("%w: attrs must be an object", crm.ErrUnknownField)
		case "customFields":
			m, ok := v.(map[string]any)
			if !ok {
				return crm.Patch{}, "", fmt.Errorf("%w: customFields must be an object", crm.ErrUnknownField)
			}
			for name, value := range m {
				p.Fields[CustomFieldAttr(name)] = value
			}
		default:
			p.Fields[key] = v
		}
	}
	if len(p.Fields) == 0 {
		p.Fields = nil
	}
	return p, stage, p.Validate()
}
