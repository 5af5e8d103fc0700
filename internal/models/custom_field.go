package models

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"realtycrm/internal/crm"
)

// CustomFieldType is the data type of a custom field
type CustomFieldType string

const (
	FieldTypeText     CustomFieldType = "text"
	FieldTypeNumber   CustomFieldType = "number"
	FieldTypeDropdown CustomFieldType = "dropdown"
	FieldTypeBoolean  CustomFieldType = "boolean"
	FieldTypeDate     CustomFieldType = "date"
	FieldTypeFile     CustomFieldType = "file"
)

var customFieldKey = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]{0,63}$`)

// CustomField defines an extra field on leads, opportunities or visits
type CustomField struct {
	ID        string          `bson:"_id" json:"id"`
	Entity    crm.EntityKind  `bson:"entity" json:"entity"`
	Key       string          `bson:"key" json:"key"`
	Label     string          `bson:"label" json:"label"`
	Type      CustomFieldType `bson:"type" json:"type"`
	Options   []string        `bson:"options,omitempty" json:"options,omitempty"`
	Required  bool            `bson:"required" json:"required"`
	CreatedAt time.Time       `bson:"createdAt" json:"createdAt"`
}

// Validate checks the definition itself
func (f CustomField) Validate() error {
	if _, err := crm.ParseKind(string(f.Entity)); err != nil {
		return err
	}
	if !customFieldKey.MatchString(f.Key) {
		return fmt.Errorf("custom field key %q must start with a letter and contain only letters, digits and underscores", f.Key)
	}
	if strings.TrimSpace(f.Label) == "" {
		return fmt.Errorf("custom field label is required")
	}
	switch f.Type {
	case FieldTypeText, FieldTypeNumber, FieldTypeBoolean, FieldTypeDate, FieldTypeFile:
	case FieldTypeDropdown:
		if len(f.Options) == 0 {
			return fmt.Errorf("dropdown field %q needs at least one option", f.Key)
		}
	default:
		return fmt.Errorf("unknown custom field type %q", f.Type)
	}
	return nil
}

// FileRef is the value of a file custom field
type FileRef struct {
	Name string `bson:"name" json:"name"`
	URL  string `bson:"url" json:"url"`
}

// CustomFieldValue is a typed custom field value. Exactly one of the value
// fields is set, matching Type.
type CustomFieldValue struct {
	Type   CustomFieldType
	Text   string
	Number float64
	Bool   bool
	Date   time.Time
	File   FileRef
}

// Raw returns the value in the form stored in record attrs
func (v CustomFieldValue) Raw() any {
	switch v.Type {
	case FieldTypeNumber:
		return v.Number
	case FieldTypeBoolean:
		return v.Bool
	case FieldTypeDate:
		return v.Date
	case FieldTypeFile:
		return map[string]any{"name": v.File.Name, "url": v.File.URL}
	}
	return v.Text
}

// ParseValue converts a JSON decoded value into the field's type
func (f CustomField) ParseValue(raw any) (CustomFieldValue, error) {
	out := CustomFieldValue{Type: f.Type}
	switch f.Type {
	case FieldTypeText:
		s, ok := raw.(string)
		if !ok {
			return out, fmt.Errorf("%s: expected text, got %T", f.Key, raw)
		}
		out.Text = s
	case FieldTypeDropdown:
		s, ok := raw.(string)
		if !ok || !slices.Contains(f.Options, s) {
			return out, fmt.Errorf("%s: %v is not one of %v", f.Key, raw, f.Options)
		}
		out.Text = s
	case FieldTypeNumber:
		n, ok := crm.ParseFloat(raw)
		if !ok {
			return out, fmt.Errorf("%s: expected a number, got %v", f.Key, raw)
		}
		out.Number = n
	case FieldTypeBoolean:
		b, ok := raw.(bool)
		if !ok {
			return out, fmt.Errorf("%s: expected true or false, got %v", f.Key, raw)
		}
		out.Bool = b
	case FieldTypeDate:
		t, ok := crm.AsTime(raw)
		if !ok {
			return out, fmt.Errorf("%s: expected a date, got %v", f.Key, raw)
		}
		out.Date = t.UTC()
	case FieldTypeFile:
		m, ok := raw.(map[string]any)
		if !ok {
			return out, fmt.Errorf("%s: expected a file object, got %T", f.Key, raw)
		}
		out.File = FileRef{Name: crm.AsString(m["name"]), URL: crm.AsString(m["url"])}
		if out.File.URL == "" {
			return out, fmt.Errorf("%s: file url is required", f.Key)
		}
	default:
		return out, fmt.Errorf("unknown custom field type %q", f.Type)
	}
	return out, nil
}

// ValidateCustomValues checks values (keyed by field key) against the
// definitions of one entity and returns them coerced for storage. Keys
// without a definition are rejected; missing required fields are an error
// only when requireAll is set (creates, not partial edits).
func ValidateCustomValues(defs []CustomField, values map[string]any, requireAll bool) (map[string]any, error) {
	byKey := make(map[string]CustomField, len(defs))
	for _, d := range defs {
		byKey[d.Key] = d
	}
	out := make(map[string]any, len(values))
	for key, raw := range values {
		def, ok := byKey[strings.TrimPrefix(key, crm.CustomFieldPrefix)]
		if !ok {
			return nil, fmt.Errorf("%w: custom field %q", crm.ErrUnknownField, key)
		}
		if raw == nil {
			if def.Required {
				return nil, fmt.Errorf("%s is required", def.Key)
			}
			out[def.Key] = nil
			continue
		}
		v, err := def.ParseValue(raw)
		if err != nil {
			return nil, err
		}
		out[def.Key] = v.Raw()
	}
	if requireAll {
		for _, d := range defs {
			if _, ok := out[d.Key]; d.Required && !ok {
				return nil, fmt.Errorf("%s is required", d.Key)
			}
		}
	}
	return out, nil
}
