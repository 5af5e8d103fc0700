package crm

import (
	"errors"
	"testing"
	"time"

	"pgregory.net/rapid"
)

func TestTransition_UpdatesStageAndTimestamp(t *testing.T) {
	entered := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2026, 2, 1, 9, 30, 0, 0, time.UTC)
	rec := Record{ID: "l1", Kind: KindLead, Stage: LeadNew, StageEnteredAt: entered}

	out, err := Transition(rec, LeadQualified, now)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if out.Stage != LeadQualified {
		t.Errorf("Expected stage %q, got %q", LeadQualified, out.Stage)
	}
	if !out.StageEnteredAt.Equal(now) {
		t.Errorf("Expected stageEnteredAt %v, got %v", now, out.StageEnteredAt)
	}
	if rec.Stage != LeadNew || !rec.StageEnteredAt.Equal(entered) {
		t.Error("Expected input record to be left untouched")
	}
}

func TestTransition_RejectsUnknownStage(t *testing.T) {
	now := time.Now()
	assigned := "exec-1"
	rec := Record{ID: "o1", Kind: KindOpportunity, Stage: OpportunityNegotiation, AssignedTo: &assigned}

	out, err := Transition(rec, "Archived", now)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Expected ErrInvalidTransition, got %v", err)
	}
	var ite *InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("Expected *InvalidTransitionError, got %T", err)
	}
	if ite.To != "Archived" {
		t.Errorf("Expected To %q, got %q", "Archived", ite.To)
	}
	if out.Stage != OpportunityNegotiation || out.ID != "o1" || !out.StageEnteredAt.IsZero() {
		t.Errorf("Expected unchanged record, got %+v", out)
	}
}

func TestTransition_KindMismatch(t *testing.T) {
	m, _ := MachineFor(KindLead)
	rec := Record{Kind: KindVisit, Stage: VisitScheduled}
	if _, err := m.Transition(rec, LeadNew, time.Now()); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition for kind mismatch, got %v", err)
	}
}

func TestNormalize_VisitAliases(t *testing.T) {
	m, _ := MachineFor(KindVisit)
	tests := []struct {
		raw  string
		want string
		ok   bool
	}{
		{"scheduled", VisitScheduled, true},
		{"Scheduled", VisitScheduled, true},
		{"No Show", VisitNoShow, true},
		{"noshow", VisitNoShow, true},
		{"no_show", VisitNoShow, true},
		{"Done", VisitCompleted, true},
		{"cancelled", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := m.Normalize(tt.raw)
			if ok != tt.ok || got != tt.want {
				t.Errorf("Normalize(%q) = (%q, %v), expected (%q, %v)", tt.raw, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestNormalize_OpportunityCaseInsensitive(t *testing.T) {
	m, _ := MachineFor(KindOpportunity)
	got, ok := m.Normalize("visit done")
	if !ok || got != OpportunityVisitDone {
		t.Errorf("Expected %q, got %q (ok=%v)", OpportunityVisitDone, got, ok)
	}
}

func TestWithTransitions(t *testing.T) {
	base, _ := MachineFor(KindOpportunity)
	m, err := base.WithTransitions(map[string][]string{
		OpportunityBooking: {},
		OpportunityLost:    {OpportunityScheduled},
	})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if base.Restricted() {
		t.Error("Expected base machine to stay unrestricted")
	}

	booked := Record{Kind: KindOpportunity, Stage: OpportunityBooking}
	if _, err := m.Transition(booked, OpportunityLost, time.Now()); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expected Booking -> Lost to be blocked, got %v", err)
	}
	if _, err := m.Transition(booked, OpportunityBooking, time.Now()); err != nil {
		t.Errorf("Expected staying in Booking to be allowed, got %v", err)
	}
	lost := Record{Kind: KindOpportunity, Stage: OpportunityLost}
	if _, err := m.Transition(lost, OpportunityScheduled, time.Now()); err != nil {
		t.Errorf("Expected Lost -> Scheduled to be allowed, got %v", err)
	}
	// stages missing from the table stay unrestricted
	neg := Record{Kind: KindOpportunity, Stage: OpportunityNegotiation}
	if _, err := m.Transition(neg, OpportunityLost, time.Now()); err != nil {
		t.Errorf("Expected Negotiation -> Lost to be allowed, got %v", err)
	}

	if _, err := base.WithTransitions(map[string][]string{"Archived": {}}); err == nil {
		t.Error("Expected error for unknown stage in table")
	}
}

// Every stage is reachable from every stage and the result always carries the
// requested stage and timestamp.
func TestProperty_TransitionInvariant(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		kind := rapid.SampledFrom(Kinds).Draw(rt, "kind")
		m, _ := MachineFor(kind)
		stages := m.Stages()
		from := rapid.SampledFrom(stages).Draw(rt, "from")
		to := rapid.SampledFrom(stages).Draw(rt, "to")
		offset := rapid.Int64Range(0, 1<<32).Draw(rt, "offset")
		now := time.Unix(offset, 0).UTC()

		rec := Record{ID: "r", Kind: kind, Stage: from, StageEnteredAt: time.Unix(0, 0)}
		out, err := m.Transition(rec, to, now)
		if err != nil {
			rt.Fatalf("Transition(%q -> %q) failed: %v", from, to, err)
		}
		if out.Stage != to {
			rt.Fatalf("Stage = %q, want %q", out.Stage, to)
		}
		if !out.StageEnteredAt.Equal(now) {
			rt.Fatalf("StageEnteredAt = %v, want %v", out.StageEnteredAt, now)
		}
	})
}
