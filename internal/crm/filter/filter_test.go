package filter

import (
	"fmt"
	"testing"
	"time"

	"pgregory.net/rapid"

	"realtycrm/internal/crm"
)

var testNow = time.Date(2026, 5, 20, 12, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

func sampleLeads() []crm.Record {
	return []crm.Record{
		{ID: "1", Kind: crm.KindLead, Name: "Rajesh Kumar", Phone: "9876500001", Email: "rajesh@example.com",
			Stage: crm.LeadNew, Source: "Website Form", Project: "Skyline Towers", Value: 7500000,
			CreatedAt: testNow.AddDate(0, 0, -3), StageEnteredAt: testNow.AddDate(0, 0, -3),
			AssignedTo: strPtr("exec-1"), Attrs: map[string]any{crm.AttrNurturingProgress: 40}},
		{ID: "2", Kind: crm.KindLead, Name: "Priya", Phone: "9123400002", Email: "priya@example.com",
			Stage: crm.LeadQualified, Source: "Facebook Ads", Project: "Green Meadows", Value: 4200000,
			CreatedAt: testNow.AddDate(0, 0, -45), StageEnteredAt: testNow.AddDate(0, 0, -10),
			Attrs: map[string]any{crm.AttrNurturingProgress: 80, "cf.budgetType": "loan"}},
		{ID: "3", Kind: crm.KindLead, Name: "Amit Shah", Phone: "9000000003", Email: "amit@raj.in",
			Stage: crm.LeadNurturing, Source: "Walk-in", Project: "Skyline Towers", Value: 12000000,
			CreatedAt: testNow.AddDate(0, 0, -20), StageEnteredAt: testNow.AddDate(0, 0, -70),
			AssignedTo: strPtr("exec-2")},
		{ID: "4", Kind: crm.KindLead, Name: "Sneha", Stage: crm.LeadContacted, Source: "website referral",
			CreatedAt: testNow.AddDate(0, 0, -1), StageEnteredAt: testNow.AddDate(0, 0, -1)},
	}
}

func ids(records []crm.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestApply_SearchMatchesNamePhoneOrEmail(t *testing.T) {
	got := Apply(sampleLeads(), State{"search": String("raj")}, leadSchema, testNow)
	want := []string{"1", "3"}
	if !equalIDs(ids(got), want) {
		t.Errorf("Expected %v, got %v", want, ids(got))
	}

	got = Apply(sampleLeads(), State{"search": String("RAJESH")}, leadSchema, testNow)
	if !equalIDs(ids(got), []string{"1"}) {
		t.Errorf("Expected case-insensitive match on Rajesh, got %v", ids(got))
	}
}

func TestApply_AssignmentBothOptionsMatchesAll(t *testing.T) {
	records := sampleLeads()
	got := Apply(records, State{"assignment": Set(Assigned, Unassigned)}, leadSchema, testNow)
	if len(got) != len(records) {
		t.Errorf("Expected all %d records, got %d", len(records), len(got))
	}

	got = Apply(records, State{"assignment": Set(Unassigned)}, leadSchema, testNow)
	if !equalIDs(ids(got), []string{"2", "4"}) {
		t.Errorf("Expected unassigned leads [2 4], got %v", ids(got))
	}
}

func TestApply_SetIsOrWithinFieldAndAcrossFields(t *testing.T) {
	state := State{
		"source":  Set("website", "walk-in"),
		"project": Set("skyline"),
	}
	got := Apply(sampleLeads(), state, leadSchema, testNow)
	if !equalIDs(ids(got), []string{"1", "3"}) {
		t.Errorf("Expected [1 3], got %v", ids(got))
	}
}

func TestApply_StatusNormalizesSelection(t *testing.T) {
	got := Apply(sampleLeads(), State{"status": Set("Qualified", "NURTURING")}, leadSchema, testNow)
	if !equalIDs(ids(got), []string{"2", "3"}) {
		t.Errorf("Expected [2 3], got %v", ids(got))
	}
}

func TestApply_RangesAndMissingFields(t *testing.T) {
	got := Apply(sampleLeads(), State{"nurturing": NumRange("50", "")}, leadSchema, testNow)
	if !equalIDs(ids(got), []string{"2"}) {
		t.Errorf("Expected only lead 2 (leads without progress never match), got %v", ids(got))
	}

	got = Apply(sampleLeads(), State{"budget": NumRange("5000000", "10000000")}, leadSchema, testNow)
	if !equalIDs(ids(got), []string{"1"}) {
		t.Errorf("Expected [1], got %v", ids(got))
	}
}

func TestApply_MalformedBoundsFailOpen(t *testing.T) {
	records := sampleLeads()
	state := State{
		"budget":    NumRange("lots", "??"),
		"dateRange": DateBounds("yesterday-ish", "not a date"),
	}
	got := Apply(records, state, leadSchema, testNow)
	if len(got) != len(records) {
		t.Errorf("Expected malformed bounds to be ignored, got %d of %d", len(got), len(records))
	}

	got = Apply(records, State{"budget": NumRange("bad", "5000000")}, leadSchema, testNow)
	if !equalIDs(ids(got), []string{"2", "4"}) {
		t.Errorf("Expected the valid upper bound to still apply, got %v", ids(got))
	}
}

func TestApply_DateRangeAndPresets(t *testing.T) {
	got := Apply(sampleLeads(), State{"dateRange": DatePreset(PresetLast30Days)}, leadSchema, testNow)
	if !equalIDs(ids(got), []string{"1", "3", "4"}) {
		t.Errorf("Expected [1 3 4], got %v", ids(got))
	}

	to := testNow.AddDate(0, 0, -3).Format("2006-01-02")
	got = Apply(sampleLeads(), State{"dateRange": DateBounds("", to)}, leadSchema, testNow)
	if !equalIDs(ids(got), []string{"1", "2", "3"}) {
		t.Errorf("Expected a bare upper date to include that whole day, got %v", ids(got))
	}

	got = Apply(sampleLeads(), State{"dateRange": DatePreset("fortnight")}, leadSchema, testNow)
	if len(got) != 4 {
		t.Errorf("Expected unknown preset to match all, got %v", ids(got))
	}
}

func TestApply_AgingBucket(t *testing.T) {
	got := Apply(sampleLeads(), State{"aging": String("Fresh")}, leadSchema, testNow)
	if !equalIDs(ids(got), []string{"2"}) {
		t.Errorf("Expected [2], got %v", ids(got))
	}
	got = Apply(sampleLeads(), State{"aging": String("stale")}, leadSchema, testNow)
	if !equalIDs(ids(got), []string{"3"}) {
		t.Errorf("Expected [3], got %v", ids(got))
	}
}

func TestApply_UnknownKeysIgnored(t *testing.T) {
	records := sampleLeads()
	got := Apply(records, State{"colour": String("blue")}, leadSchema, testNow)
	if len(got) != len(records) {
		t.Errorf("Expected unknown key to be ignored, got %d records", len(got))
	}
}

func TestApply_CustomFieldPrefix(t *testing.T) {
	got := Apply(sampleLeads(), State{"cf.budgetType": String("loan")}, leadSchema, testNow)
	if !equalIDs(ids(got), []string{"2"}) {
		t.Errorf("Expected [2], got %v", ids(got))
	}
}

func TestApply_EmptyInput(t *testing.T) {
	got := Apply(nil, State{"search": String("x")}, leadSchema, testNow)
	if got == nil || len(got) != 0 {
		t.Errorf("Expected empty non-nil slice, got %#v", got)
	}
}

func TestApply_DoesNotMutateInput(t *testing.T) {
	records := sampleLeads()
	before := ids(records)
	_ = Apply(records, State{"status": Set("qualified")}, leadSchema, testNow)
	if !equalIDs(before, ids(records)) {
		t.Errorf("Expected input untouched, got %v", ids(records))
	}
}

func TestOpportunityExecutiveSentinel(t *testing.T) {
	records := []crm.Record{
		{ID: "o1", Kind: crm.KindOpportunity, Stage: crm.OpportunityScheduled, AssignedTo: strPtr("Anil")},
		{ID: "o2", Kind: crm.KindOpportunity, Stage: crm.OpportunityBooking},
	}
	got := Apply(records, opportunitySchema.Defaults(), opportunitySchema, testNow)
	if len(got) != 2 {
		t.Errorf("Expected 'All Executives' to match everything, got %v", ids(got))
	}
	got = Apply(records, State{"executive": String("Anil")}, opportunitySchema, testNow)
	if !equalIDs(ids(got), []string{"o1"}) {
		t.Errorf("Expected [o1], got %v", ids(got))
	}
}

func TestIsMatchAll(t *testing.T) {
	tests := map[string]bool{
		"":                      true,
		"  ":                    true,
		"All":                   true,
		AllExecutives:           true,
		"all sources":           true,
		"All Projects":          true,
		"All Seasons Residency": false,
		"Allure Heights":        false,
		"Website":               false,
	}
	for in, want := range tests {
		if got := IsMatchAll(in); got != want {
			t.Errorf("IsMatchAll(%q): expected %v, got %v", in, want, got)
		}
	}
}

func TestApply_ProjectNamedLikeSentinelStillFilters(t *testing.T) {
	records := append(sampleLeads(), crm.Record{ID: "5", Kind: crm.KindLead, Name: "Kavya", Stage: crm.LeadNew,
		Project: "All Seasons Residency", CreatedAt: testNow, StageEnteredAt: testNow})

	got := Apply(records, State{"project": Set("All Seasons Residency")}, leadSchema, testNow)
	if !equalIDs(ids(got), []string{"5"}) {
		t.Errorf("Expected [5], got %v", ids(got))
	}
	got = Apply(records, State{"project": Set("All Projects")}, leadSchema, testNow)
	if len(got) != len(records) {
		t.Errorf("Expected 'All Projects' to match everything, got %v", ids(got))
	}
}

func TestStateIsImmutable(t *testing.T) {
	base := State{"source": Set("web")}
	next := SetFilter(base, "search", String("raj"))
	if _, ok := base["search"]; ok {
		t.Error("Expected SetFilter to leave the original state untouched")
	}
	if _, ok := next["source"]; !ok {
		t.Error("Expected SetFilter to keep existing keys")
	}
	cleared := Clear(leadSchema)
	if v, ok := cleared.Get("dateRange"); !ok || v.Preset != PresetLast30Days {
		t.Errorf("Expected lead defaults to include last30days, got %#v", cleared)
	}
	cleared["dateRange"] = DatePreset(PresetAll)
	if leadSchema.Defaults()["dateRange"].Preset != PresetLast30Days {
		t.Error("Expected schema defaults to be copied, not shared")
	}
}

func TestStateFromQuery(t *testing.T) {
	state := StateFromQuery(leadSchema, map[string]string{
		"search":        "raj",
		"status":        "new, qualified",
		"budgetMin":     "100",
		"dateRangeFrom": "2026-01-01",
		"cf.budgetType": "loan",
		"page":          "2",
	})
	if state["search"].Str != "raj" {
		t.Errorf("Expected search raj, got %#v", state["search"])
	}
	if got := state["status"].Items; len(got) != 2 || got[1] != "qualified" {
		t.Errorf("Expected status set [new qualified], got %v", got)
	}
	if state["budget"].Min != "100" || state["budget"].Max != "" {
		t.Errorf("Expected budget min 100, got %#v", state["budget"])
	}
	if state["dateRange"].From != "2026-01-01" {
		t.Errorf("Expected dateRange from, got %#v", state["dateRange"])
	}
	if state["cf.budgetType"].Str != "loan" {
		t.Errorf("Expected custom field filter, got %#v", state["cf.budgetType"])
	}
	if _, ok := state["page"]; ok {
		t.Error("Expected non-filter params to be skipped")
	}
}

func TestPresetRange(t *testing.T) {
	from, to, ok := PresetRange(PresetLastMonth, testNow)
	if !ok {
		t.Fatal("Expected lastMonth to be known")
	}
	if from != time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC) {
		t.Errorf("Expected April 1st, got %v", from)
	}
	if to.Month() != time.April || to.Day() != 30 {
		t.Errorf("Expected end of April, got %v", to)
	}
	if _, _, ok := PresetRange("someday", testNow); ok {
		t.Error("Expected unknown preset to report false")
	}
}

func genRecord(t *rapid.T, i int) crm.Record {
	stages := []string{crm.LeadNew, crm.LeadContacted, crm.LeadQualified, crm.LeadNurturing}
	sources := []string{"Website", "Facebook", "Walk-in", ""}
	r := crm.Record{
		ID:             fmt.Sprintf("r%d", i),
		Kind:           crm.KindLead,
		Name:           rapid.SampledFrom([]string{"Rajesh", "Priya", "Amit", "Neha"}).Draw(t, "name"),
		Stage:          rapid.SampledFrom(stages).Draw(t, "stage"),
		Source:         rapid.SampledFrom(sources).Draw(t, "source"),
		Value:          float64(rapid.IntRange(0, 20).Draw(t, "value") * 1000000),
		CreatedAt:      testNow.AddDate(0, 0, -rapid.IntRange(0, 90).Draw(t, "created")),
		StageEnteredAt: testNow.AddDate(0, 0, -rapid.IntRange(0, 90).Draw(t, "entered")),
	}
	if rapid.Bool().Draw(t, "assigned") {
		r.AssignedTo = strPtr("exec")
	}
	return r
}

func genState(t *rapid.T, label string) State {
	choices := []State{
		{"search": String("a")},
		{"status": Set(crm.LeadNew, crm.LeadQualified)},
		{"source": Set("web", "walk")},
		{"assignment": Set(Assigned)},
		{"budget": NumRange("5000000", "")},
		{"dateRange": DatePreset(PresetLast30Days)},
		{"aging": String("Warm")},
	}
	return rapid.SampledFrom(choices).Draw(t, label)
}

func TestProperty_Conjunction(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 30).Draw(t, "n")
		records := make([]crm.Record, n)
		for i := range records {
			records[i] = genRecord(t, i)
		}
		a, b := genState(t, "a"), genState(t, "b")
		combined := State{}
		for k, v := range a {
			combined[k] = v
		}
		for k, v := range b {
			if _, dup := combined[k]; dup {
				return
			}
			combined[k] = v
		}

		both := Apply(records, combined, leadSchema, testNow)
		chained := Apply(Apply(records, a, leadSchema, testNow), b, leadSchema, testNow)
		reversed := Apply(Apply(records, b, leadSchema, testNow), a, leadSchema, testNow)
		if !equalIDs(ids(both), ids(chained)) || !equalIDs(ids(both), ids(reversed)) {
			t.Fatalf("Expected %v, got chained %v and reversed %v", ids(both), ids(chained), ids(reversed))
		}
	})
}

func TestProperty_NoopStateIsIdentity(t *testing.T) {
	noop := State{
		"search":     String(""),
		"status":     Set(),
		"assignment": Set(Assigned, Unassigned),
		"dateRange":  DatePreset(PresetAll),
		"aging":      String("All"),
		"budget":     NumRange("", ""),
	}
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 30).Draw(t, "n")
		records := make([]crm.Record, n)
		for i := range records {
			records[i] = genRecord(t, i)
		}
		got := Apply(records, noop, leadSchema, testNow)
		if !equalIDs(ids(got), ids(records)) {
			t.Fatalf("Expected %v, got %v", ids(records), ids(got))
		}
	})
}
