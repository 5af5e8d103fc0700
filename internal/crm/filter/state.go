// Package filter turns user-selected filter values into record predicates and
// applies them to record collections.
package filter

import (
	"sort"
	"strings"
)

// ValueKind tags which variant of Value is populated
type ValueKind string

const (
	KindString    ValueKind = "string"
	KindSet       ValueKind = "set"
	KindNumRange  ValueKind = "range"
	KindDateRange ValueKind = "dateRange"
)

// Value is one filter selection. Range bounds are kept as raw text so a
// malformed bound can be ignored instead of failing the whole query.
type Value struct {
	Kind   ValueKind `json:"kind" bson:"kind"`
	Str    string    `json:"value,omitempty" bson:"value,omitempty"`
	Items  []string  `json:"items,omitempty" bson:"items,omitempty"`
	Min    string    `json:"min,omitempty" bson:"min,omitempty"`
	Max    string    `json:"max,omitempty" bson:"max,omitempty"`
	From   string    `json:"from,omitempty" bson:"from,omitempty"`
	To     string    `json:"to,omitempty" bson:"to,omitempty"`
	Preset string    `json:"preset,omitempty" bson:"preset,omitempty"`
}

// String builds a single-value selection
func String(s string) Value { return Value{Kind: KindString, Str: s} }

// Set builds a multi-select value
func Set(items ...string) Value {
	return Value{Kind: KindSet, Items: append([]string(nil), items...)}
}

// NumRange builds a numeric range; empty bounds are open
func NumRange(min, max string) Value { return Value{Kind: KindNumRange, Min: min, Max: max} }

// DateBounds builds an explicit date range; empty bounds are open
func DateBounds(from, to string) Value { return Value{Kind: KindDateRange, From: from, To: to} }

// DatePreset builds a relative date range such as "last30days"
func DatePreset(preset string) Value { return Value{Kind: KindDateRange, Preset: preset} }

// Text returns the value as a single string
func (v Value) Text() string {
	if v.Kind == KindSet {
		if len(v.Items) == 0 {
			return ""
		}
		return v.Items[0]
	}
	return v.Str
}

// Strings returns the value as a list, dropping blanks
func (v Value) Strings() []string {
	var raw []string
	if v.Kind == KindSet {
		raw = v.Items
	} else if v.Str != "" {
		raw = strings.Split(v.Str, ",")
	}
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// State maps filter keys to their selections. Methods never modify the
// receiver; treat State as an immutable value.
type State map[string]Value

// Clone copies the state
func (s State) Clone() State {
	out := make(State, len(s))
	for k, v := range s {
		if v.Items != nil {
			v.Items = append([]string(nil), v.Items...)
		}
		out[k] = v
	}
	return out
}

// Set returns a copy with key set to v
func (s State) Set(key string, v Value) State {
	out := s.Clone()
	out[key] = v
	return out
}

// Delete returns a copy without key, which turns that filter off
func (s State) Delete(key string) State {
	out := s.Clone()
	delete(out, key)
	return out
}

// Get returns the selection for key
func (s State) Get(key string) (Value, bool) {
	v, ok := s[key]
	return v, ok
}

// Keys returns the active keys in a stable order
func (s State) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SetFilter returns state with key set to v
func SetFilter(state State, key string, v Value) State {
	return state.Set(key, v)
}

// ClearFilters returns a fresh copy of the entity defaults
func ClearFilters(defaults State) State {
	return defaults.Clone()
}
