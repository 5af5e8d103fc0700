package filter

import (
	"log/slog"
	"strconv"
	"strings"
	"time"

	"realtycrm/internal/crm"
)

// Predicate decides whether a record passes a filter
type Predicate func(crm.Record) bool

// MatchAll is the predicate of an inactive filter
func MatchAll(crm.Record) bool { return true }

// All combines predicates conjunctively
func All(preds ...Predicate) Predicate {
	active := make([]Predicate, 0, len(preds))
	for _, p := range preds {
		if p != nil {
			active = append(active, p)
		}
	}
	switch len(active) {
	case 0:
		return MatchAll
	case 1:
		return active[0]
	}
	return func(r crm.Record) bool {
		for _, p := range active {
			if !p(r) {
				return false
			}
		}
		return true
	}
}

// matchAllLabels are the "no selection" entries of the list filter menus,
// lower-cased. Real values that merely start with "All" still filter.
var matchAllLabels = map[string]bool{
	"":               true,
	"all":            true,
	"all executives": true,
	"all sources":    true,
	"all projects":   true,
	"all statuses":   true,
	"all stages":     true,
	"all tags":       true,
}

// IsMatchAll reports whether a selection means "no filter": blank, "all", or
// a menu label such as "All Executives".
func IsMatchAll(s string) bool {
	return matchAllLabels[strings.ToLower(strings.TrimSpace(s))]
}

// MatchMode selects how MemberOf compares values
type MatchMode int

const (
	// MatchExact compares whole values, used for enumerated fields
	MatchExact MatchMode = iota
	// MatchContains is case-insensitive substring containment for free text
	MatchContains
)

// Equals matches records whose field equals value. A blank or "All ..."
// value disables the filter.
func Equals(field, value string) Predicate {
	if IsMatchAll(value) {
		return MatchAll
	}
	return func(r crm.Record) bool {
		v, ok := r.Field(field)
		if !ok {
			return false
		}
		for _, s := range crm.AsStrings(v) {
			if s == value {
				return true
			}
		}
		return false
	}
}

// MemberOf matches records whose field is one of items (OR within the
// field). An empty selection disables the filter; a record without the field
// never matches an active selection.
func MemberOf(field string, items []string, mode MatchMode) Predicate {
	wanted := make([]string, 0, len(items))
	for _, item := range items {
		if IsMatchAll(item) {
			if strings.TrimSpace(item) == "" {
				continue
			}
			return MatchAll
		}
		if mode == MatchContains {
			item = strings.ToLower(item)
		}
		wanted = append(wanted, item)
	}
	if len(wanted) == 0 {
		return MatchAll
	}
	return func(r crm.Record) bool {
		v, ok := r.Field(field)
		if !ok {
			return false
		}
		for _, have := range crm.AsStrings(v) {
			if mode == MatchContains {
				have = strings.ToLower(have)
			}
			for _, w := range wanted {
				if mode == MatchExact && have == w {
					return true
				}
				if mode == MatchContains && strings.Contains(have, w) {
					return true
				}
			}
		}
		return false
	}
}

// Substring matches when any of fields contains term, ignoring case
func Substring(fields []string, term string) Predicate {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return MatchAll
	}
	return func(r crm.Record) bool {
		for _, f := range fields {
			v, ok := r.Field(f)
			if !ok {
				continue
			}
			if strings.Contains(strings.ToLower(crm.AsString(v)), term) {
				return true
			}
		}
		return false
	}
}

// DateRange matches records whose field falls between from and to,
// inclusive. A bare date as the upper bound covers that whole day. Bounds
// that don't parse are logged and ignored.
func DateRange(field, from, to string) Predicate {
	lo := parseBound(field, from, crm.ParseTime)
	hi := parseBound(field, to, crm.ParseTime)
	if !hi.IsZero() && crm.IsDateOnly(to) {
		hi = hi.Add(24*time.Hour - time.Nanosecond)
	}
	return Between(field, lo, hi)
}

// Between is DateRange with parsed bounds; zero times are open bounds
func Between(field string, from, to time.Time) Predicate {
	if from.IsZero() && to.IsZero() {
		return MatchAll
	}
	return func(r crm.Record) bool {
		v, ok := r.Field(field)
		if !ok {
			return false
		}
		t, ok := crm.AsTime(v)
		if !ok {
			return false
		}
		if !from.IsZero() && t.Before(from) {
			return false
		}
		if !to.IsZero() && t.After(to) {
			return false
		}
		return true
	}
}

// NumericRange matches records whose numeric field lies in [min, max].
// Unparsable bounds are logged and ignored.
func NumericRange(field, min, max string) Predicate {
	parse := func(s string) (float64, bool) {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		return f, err == nil
	}
	lo, hasLo := parseNumBound(field, min, parse)
	hi, hasHi := parseNumBound(field, max, parse)
	if !hasLo && !hasHi {
		return MatchAll
	}
	return func(r crm.Record) bool {
		v, ok := r.Field(field)
		if !ok {
			return false
		}
		f, ok := crm.ParseFloat(v)
		if !ok {
			return false
		}
		if hasLo && f < lo {
			return false
		}
		if hasHi && f > hi {
			return false
		}
		return true
	}
}

// AgingBucket matches records whose time in stage (measured from field)
// falls in the named bucket.
func AgingBucket(field, label string, now time.Time) Predicate {
	if IsMatchAll(label) {
		return MatchAll
	}
	bucket, ok := crm.LookupBucket(label)
	if !ok {
		slog.Warn("ignoring unknown aging bucket", "field", field, "bucket", label)
		return MatchAll
	}
	return func(r crm.Record) bool {
		v, ok := r.Field(field)
		if !ok {
			return false
		}
		t, ok := crm.AsTime(v)
		if !ok {
			return false
		}
		return bucket.Contains(crm.AgeDays(t, now))
	}
}

// Assignment options
const (
	Assigned   = "assigned"
	Unassigned = "unassigned"
)

// Assignment filters on whether a record has an owner. Selecting both
// options matches everything.
func Assignment(options []string) Predicate {
	var wantAssigned, wantUnassigned bool
	for _, o := range options {
		switch strings.ToLower(strings.TrimSpace(o)) {
		case Assigned:
			wantAssigned = true
		case Unassigned:
			wantUnassigned = true
		case "":
		default:
			slog.Warn("ignoring unknown assignment option", "option", o)
		}
	}
	if wantAssigned == wantUnassigned {
		return MatchAll
	}
	return func(r crm.Record) bool {
		return r.IsAssigned() == wantAssigned
	}
}

func parseBound(field, raw string, parse func(string) (time.Time, bool)) time.Time {
	if strings.TrimSpace(raw) == "" {
		return time.Time{}
	}
	t, ok := parse(raw)
	if !ok {
		slog.Warn("ignoring malformed date bound", "field", field, "value", raw)
		return time.Time{}
	}
	return t
}

func parseNumBound(field, raw string, parse func(string) (float64, bool)) (float64, bool) {
	if strings.TrimSpace(raw) == "" {
		return 0, false
	}
	f, ok := parse(raw)
	if !ok {
		slog.Warn("ignoring malformed numeric bound", "field", field, "value", raw)
		return 0, false
	}
	return f, true
}
