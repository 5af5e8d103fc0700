package filter

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"realtycrm/internal/crm"
)

var searchFields = []string{crm.FieldName, crm.FieldPhone, crm.FieldEmail}

func searchBuilder(v Value, _ time.Time) Predicate {
	return Substring(searchFields, v.Text())
}

func stageBuilder(kind crm.EntityKind) Builder {
	m, err := crm.MachineFor(kind)
	if err != nil {
		panic(fmt.Sprintf("filter: %v", err))
	}
	return func(v Value, _ time.Time) Predicate {
		items := v.Strings()
		canonical := make([]string, 0, len(items))
		for _, item := range items {
			if s, ok := m.Normalize(item); ok {
				canonical = append(canonical, s)
				continue
			}
			canonical = append(canonical, item)
		}
		return MemberOf(crm.FieldStage, canonical, MatchExact)
	}
}

func setBuilder(field string, mode MatchMode) Builder {
	return func(v Value, _ time.Time) Predicate {
		return MemberOf(field, v.Strings(), mode)
	}
}

func equalsBuilder(field string) Builder {
	return func(v Value, _ time.Time) Predicate {
		return Equals(field, v.Text())
	}
}

// rangeBuilder accepts a single string as a lower bound ("progress >= X")
func rangeBuilder(field string) Builder {
	return func(v Value, _ time.Time) Predicate {
		if v.Kind == KindString {
			return NumericRange(field, v.Str, "")
		}
		return NumericRange(field, v.Min, v.Max)
	}
}

func dateBuilder(field string) Builder {
	return func(v Value, now time.Time) Predicate {
		preset := v.Preset
		if v.Kind == KindString {
			preset = v.Str
		}
		if (v.From != "" || v.To != "") && (preset == "" || strings.EqualFold(preset, PresetCustom)) {
			return DateRange(field, v.From, v.To)
		}
		from, to, ok := PresetRange(preset, now)
		if !ok {
			slog.Warn("ignoring unknown date preset", "field", field, "preset", preset)
			return MatchAll
		}
		return Between(field, from, to)
	}
}

func agingBuilder(v Value, now time.Time) Predicate {
	return AgingBucket(crm.FieldStageEnteredAt, v.Text(), now)
}

func assignmentBuilder(v Value, _ time.Time) Predicate {
	return Assignment(v.Strings())
}

func customFieldBuilder(key string, v Value, _ time.Time) Predicate {
	if v.Kind == KindSet {
		return MemberOf(key, v.Items, MatchExact)
	}
	return Equals(key, v.Text())
}

// AllExecutives is the "no executive selected" sentinel used by the UI
const AllExecutives = "All Executives"

var (
	leadSchema = NewSchema(crm.KindLead).
			Register("search", KindString, searchBuilder).
			Register("status", KindSet, stageBuilder(crm.KindLead)).
			Register("source", KindSet, setBuilder(crm.FieldSource, MatchContains)).
			Register("project", KindSet, setBuilder(crm.FieldProject, MatchContains)).
			Register("assignment", KindSet, assignmentBuilder).
			Register("assignedTo", KindString, equalsBuilder(crm.FieldAssignedTo)).
			Register("tags", KindSet, setBuilder(crm.FieldTags, MatchExact)).
			Register("dateRange", KindDateRange, dateBuilder(crm.FieldCreatedAt)).
			Register("aging", KindString, agingBuilder).
			Register("nurturing", KindNumRange, rangeBuilder(crm.AttrNurturingProgress)).
			Register("budget", KindNumRange, rangeBuilder(crm.FieldValue)).
			RegisterPrefix(crm.CustomFieldPrefix, customFieldBuilder).
			WithDefaults(State{"dateRange": DatePreset(PresetLast30Days)})

	opportunitySchema = NewSchema(crm.KindOpportunity).
				Register("search", KindString, searchBuilder).
				Register("stage", KindSet, stageBuilder(crm.KindOpportunity)).
				Register("executive", KindString, equalsBuilder(crm.FieldAssignedTo)).
				Register("assignment", KindSet, assignmentBuilder).
				Register("project", KindSet, setBuilder(crm.FieldProject, MatchContains)).
				Register("source", KindSet, setBuilder(crm.FieldSource, MatchContains)).
				Register("dateRange", KindDateRange, dateBuilder(crm.FieldCreatedAt)).
				Register("visitDate", KindDateRange, dateBuilder(crm.AttrVisitDate)).
				Register("value", KindNumRange, rangeBuilder(crm.FieldValue)).
				Register("aging", KindString, agingBuilder).
				RegisterPrefix(crm.CustomFieldPrefix, customFieldBuilder).
				WithDefaults(State{"executive": String(AllExecutives)})

	visitSchema = NewSchema(crm.KindVisit).
			Register("search", KindString, searchBuilder).
			Register("status", KindSet, stageBuilder(crm.KindVisit)).
			Register("executive", KindString, equalsBuilder(crm.FieldAssignedTo)).
			Register("project", KindSet, setBuilder(crm.FieldProject, MatchContains)).
			Register("date", KindDateRange, dateBuilder(crm.AttrScheduledAt)).
			Register("dateRange", KindDateRange, dateBuilder(crm.FieldCreatedAt)).
			WithDefaults(State{"executive": String(AllExecutives)})
)

// SchemaFor returns the built-in schema for kind
func SchemaFor(kind crm.EntityKind) (*Schema, error) {
	switch kind {
	case crm.KindLead:
		return leadSchema, nil
	case crm.KindOpportunity:
		return opportunitySchema, nil
	case crm.KindVisit:
		return visitSchema, nil
	}
	return nil, fmt.Errorf("%w: %q", crm.ErrUnknownKind, kind)
}
