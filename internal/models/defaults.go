package models

import (
	"strings"

	"realtycrm/internal/crm"
)

// Record defaults applied by RecordInput.ToRecord
const (
	DefaultLeadSource        = "Direct"
	DefaultNurturingProgress = 0
)

// CustomFieldAttr returns the attrs key a custom field value is stored under
func CustomFieldAttr(name string) string {
	if strings.HasPrefix(name, crm.CustomFieldPrefix) {
		return name
	}
	return crm.CustomFieldPrefix + name
}

// CustomFieldValues extracts custom field values from a record's attrs,
// keyed without the prefix.
func CustomFieldValues(r crm.Record) map[string]any {
	out := map[string]any{}
	for k, v := range r.Attrs {
		if name, ok := strings.CutPrefix(k, crm.CustomFieldPrefix); ok {
			out[name] = v
		}
	}
	return out
}
