package filter

import (
	"log/slog"
	"sort"
	"strings"
	"time"

	"realtycrm/internal/crm"
)

// Builder turns a selection into a predicate. now anchors relative windows
// such as "last30days" and aging buckets.
type Builder func(v Value, now time.Time) Predicate

// PrefixBuilder handles dynamic keys such as custom fields ("cf.<name>")
type PrefixBuilder func(key string, v Value, now time.Time) Predicate

type definition struct {
	kind  ValueKind
	build Builder
}

// Schema lists the filters one entity kind understands and its default
// selections. Keys outside the schema are ignored when filtering.
type Schema struct {
	kind     crm.EntityKind
	defs     map[string]definition
	prefixes map[string]PrefixBuilder
	defaults State
}

// NewSchema creates an empty schema for kind
func NewSchema(kind crm.EntityKind) *Schema {
	return &Schema{
		kind:     kind,
		defs:     make(map[string]definition),
		prefixes: make(map[string]PrefixBuilder),
		defaults: State{},
	}
}

// Register adds a filter key. Schemas are built once at start-up; Register
// must not be called while the schema is in use.
func (s *Schema) Register(key string, kind ValueKind, build Builder) *Schema {
	s.defs[key] = definition{kind: kind, build: build}
	return s
}

// RegisterPrefix adds a builder for every key starting with prefix
func (s *Schema) RegisterPrefix(prefix string, build PrefixBuilder) *Schema {
	s.prefixes[prefix] = build
	return s
}

// WithDefaults returns a copy of the schema with different default selections
func (s *Schema) WithDefaults(defaults State) *Schema {
	out := *s
	out.defaults = defaults.Clone()
	return &out
}

// Kind returns the entity kind of the schema
func (s *Schema) Kind() crm.EntityKind { return s.kind }

// Defaults returns a copy of the default selections
func (s *Schema) Defaults() State { return s.defaults.Clone() }

// Keys lists the registered filter keys
func (s *Schema) Keys() []string {
	keys := make([]string, 0, len(s.defs))
	for k := range s.defs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Has reports whether key is a known filter
func (s *Schema) Has(key string) bool {
	if _, ok := s.defs[key]; ok {
		return true
	}
	_, ok := s.prefixFor(key)
	return ok
}

// KindOf returns the value kind a filter key expects. Prefix keys take
// strings or sets and report KindString.
func (s *Schema) KindOf(key string) ValueKind {
	if d, ok := s.defs[key]; ok {
		return d.kind
	}
	return KindString
}

func (s *Schema) prefixFor(key string) (PrefixBuilder, bool) {
	for prefix, b := range s.prefixes {
		if strings.HasPrefix(key, prefix) && len(key) > len(prefix) {
			return b, true
		}
	}
	return nil, false
}

// Compile builds the conjunction of every known filter in state
func (s *Schema) Compile(state State, now time.Time) Predicate {
	if s == nil {
		return MatchAll
	}
	preds := make([]Predicate, 0, len(state))
	for _, key := range state.Keys() {
		v := state[key]
		if def, ok := s.defs[key]; ok {
			preds = append(preds, def.build(v, now))
			continue
		}
		if b, ok := s.prefixFor(key); ok {
			preds = append(preds, b(key, v, now))
			continue
		}
		slog.Debug("ignoring unknown filter key", "kind", s.kind, "key", key)
	}
	return All(preds...)
}

// Apply returns the records that pass every filter in state, in their
// original order. The input slice is never modified.
func Apply(records []crm.Record, state State, schema *Schema, now time.Time) []crm.Record {
	out := make([]crm.Record, 0, len(records))
	if len(records) == 0 {
		return out
	}
	pred := schema.Compile(state, now)
	for _, r := range records {
		if pred(r) {
			out = append(out, r)
		}
	}
	return out
}

// Clear returns the schema's default selections
func Clear(schema *Schema) State {
	return schema.Defaults()
}

// StateFromQuery reads filter selections from query parameters. Sets are
// comma separated; ranges use <key>Min/<key>Max; date ranges take a preset in
// <key> or explicit <key>From/<key>To.
func StateFromQuery(schema *Schema, query map[string]string) State {
	state := State{}
	get := func(k string) string { return strings.TrimSpace(query[k]) }

	for key, def := range schema.defs {
		switch def.kind {
		case KindString:
			if v := get(key); v != "" {
				state[key] = String(v)
			}
		case KindSet:
			if v := get(key); v != "" {
				state[key] = Set(String(v).Strings()...)
			}
		case KindNumRange:
			min, max := get(key+"Min"), get(key+"Max")
			if min != "" || max != "" {
				state[key] = NumRange(min, max)
			}
		case KindDateRange:
			from, to := get(key+"From"), get(key+"To")
			if from != "" || to != "" {
				state[key] = DateBounds(from, to)
			} else if preset := get(key); preset != "" {
				state[key] = DatePreset(preset)
			}
		}
	}
	for key, raw := range query {
		if _, known := schema.defs[key]; known {
			continue
		}
		if _, ok := schema.prefixFor(key); ok && strings.TrimSpace(raw) != "" {
			if strings.Contains(raw, ",") {
				state[key] = Set(String(raw).Strings()...)
			} else {
				state[key] = String(strings.TrimSpace(raw))
			}
		}
	}
	return state
}

// Date presets understood by date range filters
const (
	PresetAll        = "all"
	PresetCustom     = "custom"
	PresetToday      = "today"
	PresetYesterday  = "yesterday"
	PresetLast7Days  = "last7days"
	PresetLast30Days = "last30days"
	PresetLast90Days = "last90days"
	PresetThisMonth  = "thismonth"
	PresetLastMonth  = "lastmonth"
	PresetThisYear   = "thisyear"
)

// PresetRange resolves a relative preset against now. Zero times are open
// bounds. ok is false for unknown presets.
func PresetRange(preset string, now time.Time) (from, to time.Time, ok bool) {
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	switch strings.ToLower(strings.TrimSpace(preset)) {
	case "", PresetAll, "alltime", PresetCustom:
		return time.Time{}, time.Time{}, true
	case PresetToday:
		return startOfDay, startOfDay.Add(24*time.Hour - time.Nanosecond), true
	case PresetYesterday:
		return startOfDay.AddDate(0, 0, -1), startOfDay.Add(-time.Nanosecond), true
	case PresetLast7Days:
		return now.AddDate(0, 0, -7), time.Time{}, true
	case PresetLast30Days:
		return now.AddDate(0, 0, -30), time.Time{}, true
	case PresetLast90Days:
		return now.AddDate(0, 0, -90), time.Time{}, true
	case PresetThisMonth:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()), time.Time{}, true
	case PresetLastMonth:
		first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		return first.AddDate(0, -1, 0), first.Add(-time.Nanosecond), true
	case PresetThisYear:
		return time.Date(now.Year(), 1, 1, 0, 0, 0, 0, now.Location()), time.Time{}, true
	}
	return time.Time{}, time.Time{}, false
}
