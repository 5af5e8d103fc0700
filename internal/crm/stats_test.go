package crm

import (
	"testing"
	"time"
)

func TestStageStatistics_CountsStage(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	records := []Record{
		{Stage: LeadNew, Value: 100, StageEnteredAt: now.Add(-2 * day)},
		{Stage: LeadQualified, Value: 500, StageEnteredAt: now},
		{Stage: LeadNew, Value: 300, StageEnteredAt: now.Add(-5*day - time.Hour)},
	}

	stats := StageStatistics(records, LeadNew, now)
	if stats.Count != 2 {
		t.Errorf("Expected count 2, got %d", stats.Count)
	}
	if stats.TotalValue != 400 {
		t.Errorf("Expected total value 400, got %v", stats.TotalValue)
	}
	if stats.AvgAgeDays != 3.5 {
		t.Errorf("Expected avg age 3.5, got %v", stats.AvgAgeDays)
	}
}

func TestStageStatistics_Empty(t *testing.T) {
	stats := StageStatistics(nil, LeadNew, time.Now())
	if stats.Count != 0 || stats.AvgAgeDays != 0 || stats.TotalValue != 0 {
		t.Errorf("Expected zero stats, got %+v", stats)
	}
}

func TestDropoffRate(t *testing.T) {
	tests := []struct {
		name     string
		current  int
		previous int
		want     float64
	}{
		{"funnel example", 892, 1245, 28.4},
		{"no previous", 10, 0, 0},
		{"no loss", 50, 50, 0},
		{"total loss", 0, 40, 100},
		{"growth", 12, 10, -20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DropoffRate(tt.current, tt.previous); got != tt.want {
				t.Errorf("DropoffRate(%d, %d) = %v, expected %v", tt.current, tt.previous, got, tt.want)
			}
		})
	}
}

func TestSummarize(t *testing.T) {
	now := time.Now()
	m, _ := MachineFor(KindOpportunity)
	records := []Record{
		{Stage: OpportunityScheduled, Value: 10},
		{Stage: OpportunityScheduled, Value: 10},
		{Stage: OpportunityScheduled, Value: 10},
		{Stage: OpportunityScheduled, Value: 10},
		{Stage: OpportunityVisitDone, Value: 20},
	}
	for i := range records {
		records[i].StageEnteredAt = now
	}

	sum := Summarize(records, m, now)
	if sum.Total != 5 {
		t.Errorf("Expected total 5, got %d", sum.Total)
	}
	if len(sum.Stages) != len(m.Stages()) {
		t.Fatalf("Expected %d stages, got %d", len(m.Stages()), len(sum.Stages))
	}
	if sum.Stages[0].DropoffRate != 0 {
		t.Errorf("Expected first stage drop-off 0, got %v", sum.Stages[0].DropoffRate)
	}
	if sum.Stages[1].DropoffRate != 75 {
		t.Errorf("Expected Visit Done drop-off 75, got %v", sum.Stages[1].DropoffRate)
	}
	if sum.TotalValue != 60 {
		t.Errorf("Expected total value 60, got %v", sum.TotalValue)
	}
}

func TestAgingBuckets_Boundaries(t *testing.T) {
	tests := []struct {
		days int
		want string
	}{
		{0, "New"}, {7, "New"}, {8, "Fresh"}, {15, "Fresh"}, {16, "Warm"},
		{30, "Warm"}, {31, "Cold"}, {60, "Cold"}, {61, "Stale"}, {400, "Stale"},
		{-3, "New"},
	}
	for _, tt := range tests {
		if got := BucketFor(tt.days).Label; got != tt.want {
			t.Errorf("BucketFor(%d) = %q, expected %q", tt.days, got, tt.want)
		}
	}
}

func TestAgingBuckets_NoGapsOrOverlaps(t *testing.T) {
	for d := 0; d <= 500; d++ {
		hits := 0
		for _, b := range AgingBuckets {
			if b.Contains(d) {
				hits++
			}
		}
		if hits != 1 {
			t.Fatalf("Expected day %d in exactly one bucket, found %d", d, hits)
		}
	}
}

func TestAgingDistribution(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	records := []Record{
		{StageEnteredAt: now.Add(-1 * day)},
		{StageEnteredAt: now.Add(-9 * day)},
		{StageEnteredAt: now.Add(-90 * day)},
		{StageEnteredAt: now.Add(-91 * day)},
	}
	dist := AgingDistribution(records, now)
	want := map[string]int{"New": 1, "Fresh": 1, "Warm": 0, "Cold": 0, "Stale": 2}
	for _, row := range dist {
		if row.Count != want[row.Label] {
			t.Errorf("Expected %d records in %s, got %d", want[row.Label], row.Label, row.Count)
		}
	}
}
