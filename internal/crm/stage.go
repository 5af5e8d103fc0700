package crm

import (
	"fmt"
	"strings"
	"time"
)

// Lead statuses
const (
	LeadNew          = "new"
	LeadContacted    = "contacted"
	LeadQualified    = "qualified"
	LeadNurturing    = "nurturing"
	LeadDisqualified = "disqualified"
	LeadConverted    = "converted"
)

// Opportunity stages
const (
	OpportunityScheduled   = "Scheduled"
	OpportunityVisitDone   = "Visit Done"
	OpportunityNegotiation = "Negotiation"
	OpportunityBooking     = "Booking"
	OpportunityLost        = "Lost"
)

// Site visit statuses (canonical spelling; see visitAliases for accepted variants)
const (
	VisitScheduled = "scheduled"
	VisitConfirmed = "confirmed"
	VisitPending   = "pending"
	VisitCompleted = "completed"
	VisitNoShow    = "no-show"
)

var visitAliases = map[string]string{
	"no show":  VisitNoShow,
	"noshow":   VisitNoShow,
	"no_show":  VisitNoShow,
	"done":     VisitCompleted,
	"complete": VisitCompleted,
	"upcoming": VisitScheduled,
}

var opportunityAliases = map[string]string{
	"visit_done": OpportunityVisitDone,
	"visit-done": OpportunityVisitDone,
	"visitdone":  OpportunityVisitDone,
	"booked":     OpportunityBooking,
}

// Machine is the stage model of one entity kind. Without an explicit
// transition table every stage may follow every other stage.
type Machine struct {
	kind        EntityKind
	stages      []string
	index       map[string]int
	folded      map[string]string
	transitions map[string]map[string]bool
}

// NewMachine builds a machine from an ordered stage list. aliases maps
// lower-cased spellings to canonical stage names.
func NewMachine(kind EntityKind, stages []string, aliases map[string]string) *Machine {
	m := &Machine{
		kind:   kind,
		stages: append([]string(nil), stages...),
		index:  make(map[string]int, len(stages)),
		folded: make(map[string]string, len(stages)+len(aliases)),
	}
	for i, s := range stages {
		m.index[s] = i
		m.folded[strings.ToLower(s)] = s
	}
	for alias, canonical := range aliases {
		if _, ok := m.index[canonical]; ok {
			m.folded[strings.ToLower(alias)] = canonical
		}
	}
	return m
}

var defaultMachines = map[EntityKind]*Machine{
	KindLead: NewMachine(KindLead, []string{
		LeadNew, LeadContacted, LeadQualified, LeadNurturing, LeadDisqualified, LeadConverted,
	}, nil),
	KindOpportunity: NewMachine(KindOpportunity, []string{
		OpportunityScheduled, OpportunityVisitDone, OpportunityNegotiation, OpportunityBooking, OpportunityLost,
	}, opportunityAliases),
	KindVisit: NewMachine(KindVisit, []string{
		VisitScheduled, VisitConfirmed, VisitPending, VisitCompleted, VisitNoShow,
	}, visitAliases),
}

// MachineFor returns the default (unrestricted) machine for kind
func MachineFor(kind EntityKind) (*Machine, error) {
	m, ok := defaultMachines[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return m, nil
}

// DefaultStage is the stage a freshly created record starts in
func DefaultStage(kind EntityKind) string {
	switch kind {
	case KindLead:
		return LeadNew
	case KindOpportunity:
		return OpportunityScheduled
	case KindVisit:
		return VisitScheduled
	}
	return ""
}

// Kind returns the entity kind this machine describes
func (m *Machine) Kind() EntityKind { return m.kind }

// Stages returns the stage enumeration in pipeline order
func (m *Machine) Stages() []string {
	return append([]string(nil), m.stages...)
}

// Contains reports whether stage is a canonical member of the enumeration
func (m *Machine) Contains(stage string) bool {
	_, ok := m.index[stage]
	return ok
}

// Position returns the pipeline index of a canonical stage, or -1
func (m *Machine) Position(stage string) int {
	if i, ok := m.index[stage]; ok {
		return i
	}
	return -1
}

// Normalize maps user input (any case, known aliases) to the canonical stage
func (m *Machine) Normalize(raw string) (string, bool) {
	if _, ok := m.index[raw]; ok {
		return raw, true
	}
	s, ok := m.folded[strings.ToLower(strings.TrimSpace(raw))]
	return s, ok
}

// Restricted reports whether an explicit transition table is attached
func (m *Machine) Restricted() bool {
	return m.transitions != nil
}

// WithTransitions returns a copy of m that only allows the listed moves.
// Staying in the same stage is always allowed.
func (m *Machine) WithTransitions(table map[string][]string) (*Machine, error) {
	out := *m
	out.transitions = make(map[string]map[string]bool, len(table))
	for from, targets := range table {
		f, ok := m.Normalize(from)
		if !ok {
			return nil, fmt.Errorf("transition table for %s: unknown stage %q", m.kind, from)
		}
		allowed := make(map[string]bool, len(targets))
		for _, to := range targets {
			t, ok := m.Normalize(to)
			if !ok {
				return nil, fmt.Errorf("transition table for %s: unknown stage %q", m.kind, to)
			}
			allowed[t] = true
		}
		out.transitions[f] = allowed
	}
	return &out, nil
}

// CanTransition reports whether from -> to is permitted. Both stages must be
// canonical members.
func (m *Machine) CanTransition(from, to string) bool {
	if !m.Contains(to) {
		return false
	}
	if m.transitions == nil || from == to {
		return true
	}
	// records sitting in a stage the table doesn't mention are not blocked
	allowed, ok := m.transitions[from]
	if !ok {
		return true
	}
	return allowed[to]
}

// Transition moves r into newStage at time now. The input record is never
// modified; on error it is returned unchanged alongside an
// *InvalidTransitionError.
func (m *Machine) Transition(r Record, newStage string, now time.Time) (Record, error) {
	if r.Kind != "" && r.Kind != m.kind {
		return r, &InvalidTransitionError{Kind: m.kind, From: r.Stage, To: newStage, Reason: fmt.Sprintf("record is a %s", r.Kind)}
	}
	to, ok := m.Normalize(newStage)
	if !ok {
		return r, &InvalidTransitionError{Kind: m.kind, From: r.Stage, To: newStage, Reason: "not a stage of this pipeline"}
	}
	if !m.CanTransition(r.Stage, to) {
		return r, &InvalidTransitionError{Kind: m.kind, From: r.Stage, To: to, Reason: "not allowed by transition table"}
	}

	out := r.Clone()
	out.Kind = m.kind
	out.Stage = to
	out.StageEnteredAt = now
	return out, nil
}

// Transition applies the default machine of r.Kind
func Transition(r Record, newStage string, now time.Time) (Record, error) {
	m, err := MachineFor(r.Kind)
	if err != nil {
		return r, &InvalidTransitionError{Kind: r.Kind, From: r.Stage, To: newStage, Reason: err.Error()}
	}
	return m.Transition(r, newStage, now)
}
