package crm

import (
	"context"
	"fmt"
	"time"
)

// RecordStore is the persistence boundary for one entity kind. It is the
// only writer of records; everything else derives new values and hands them
// back through Update.
type RecordStore interface {
	Kind() EntityKind
	List(ctx context.Context) ([]Record, error)
	Get(ctx context.Context, id string) (Record, error)
	Create(ctx context.Context, r Record) (Record, error)
	Update(ctx context.Context, id string, patch Patch) (Record, error)
	Remove(ctx context.Context, id string) error
}

// Patch is a partial update. Stage and StageEnteredAt must be set together.
type Patch struct {
	Stage          *string        `json:"stage,omitempty"`
	StageEnteredAt *time.Time     `json:"stageEnteredAt,omitempty"`
	AssignedTo     *string        `json:"assignedTo,omitempty"`
	Unassign       bool           `json:"unassign,omitempty"`
	Fields         map[string]any `json:"fields,omitempty"`
}

// StagePatch builds the patch that records a stage change
func StagePatch(stage string, at time.Time) Patch {
	return Patch{Stage: &stage, StageEnteredAt: &at}
}

// IsEmpty reports whether the patch changes nothing
func (p Patch) IsEmpty() bool {
	return p.Stage == nil && p.StageEnteredAt == nil && p.AssignedTo == nil && !p.Unassign && len(p.Fields) == 0
}

// Validate checks the structural rules every store enforces
func (p Patch) Validate() error {
	if (p.Stage == nil) != (p.StageEnteredAt == nil) {
		return ErrStageWithoutTimestamp
	}
	if p.AssignedTo != nil && p.Unassign {
		return fmt.Errorf("patch both assigns and unassigns the record")
	}
	for key := range p.Fields {
		switch key {
		case FieldID, FieldCreatedAt:
			return fmt.Errorf("%w: %s", ErrImmutableField, key)
		case FieldStage, FieldStageEnteredAt:
			return ErrStageWithoutTimestamp
		case FieldAssignedTo:
			return fmt.Errorf("%w: %s must be set through AssignedTo", ErrUnknownField, key)
		}
	}
	return nil
}

// ApplyTo returns r with the patch applied. Unknown keys in Fields land in
// Attrs; callers that need a closed schema validate before applying.
func (p Patch) ApplyTo(r Record) (Record, error) {
	if err := p.Validate(); err != nil {
		return r, err
	}
	out := r.Clone()
	if p.Stage != nil {
		out.Stage = *p.Stage
		out.StageEnteredAt = *p.StageEnteredAt
	}
	if p.AssignedTo != nil {
		a := *p.AssignedTo
		out.AssignedTo = &a
	}
	if p.Unassign {
		out.AssignedTo = nil
	}
	for key, v := range p.Fields {
		switch key {
		case FieldName:
			out.Name = AsString(v)
		case FieldPhone:
			out.Phone = AsString(v)
		case FieldEmail:
			out.Email = AsString(v)
		case FieldLocation:
			out.Location = AsString(v)
		case FieldSource:
			out.Source = AsString(v)
		case FieldProject:
			out.Project = AsString(v)
		case FieldTags:
			out.Tags = append([]string(nil), AsStrings(v)...)
		case FieldValue:
			f, ok := ParseFloat(v)
			if !ok || f < 0 {
				return r, fmt.Errorf("value must be a non-negative number, got %v", v)
			}
			out.Value = f
		default:
			if out.Attrs == nil {
				out.Attrs = make(map[string]any)
			}
			if v == nil {
				delete(out.Attrs, key)
			} else {
				out.Attrs[key] = v
			}
		}
	}
	return out, nil
}
