package crm

import (
	"math"
	"time"
)

const day = 24 * time.Hour

// AgeDays returns whole days between enteredAt and now. Future timestamps
// count as day 0.
func AgeDays(enteredAt, now time.Time) int {
	d := now.Sub(enteredAt)
	if d < 0 {
		return 0
	}
	return int(d / day)
}

// StageStats aggregates the records currently sitting in one stage
type StageStats struct {
	Stage      string  `json:"stage"`
	Count      int     `json:"count"`
	TotalValue float64 `json:"totalValue"`
	AvgAgeDays float64 `json:"avgAgeDays"`
}

// StageStatistics computes count, value sum and mean age for stage.
// An empty stage reports zeros.
func StageStatistics(records []Record, stage string, now time.Time) StageStats {
	stats := StageStats{Stage: stage}
	ageSum := 0
	for _, r := range records {
		if r.Stage != stage {
			continue
		}
		stats.Count++
		stats.TotalValue += r.Value
		ageSum += AgeDays(r.StageEnteredAt, now)
	}
	if stats.Count > 0 {
		stats.AvgAgeDays = float64(ageSum) / float64(stats.Count)
	}
	return stats
}

// DropoffRate is the percentage lost between two adjacent funnel stages,
// rounded to one decimal. A previous count of zero yields 0.
func DropoffRate(currentCount, previousCount int) float64 {
	if previousCount == 0 {
		return 0
	}
	rate := float64(previousCount-currentCount) / float64(previousCount) * 100
	return math.Round(rate*10) / 10
}

// FunnelStage is one row of a pipeline summary
type FunnelStage struct {
	StageStats
	DropoffRate float64 `json:"dropoffRate"`
}

// Summary is the per-stage breakdown of a record collection
type Summary struct {
	Kind       EntityKind    `json:"kind"`
	Total      int           `json:"total"`
	TotalValue float64       `json:"totalValue"`
	Stages     []FunnelStage `json:"stages"`
}

// Summarize computes statistics for every stage of m in pipeline order. The
// drop-off of the first stage is always 0.
func Summarize(records []Record, m *Machine, now time.Time) Summary {
	sum := Summary{Kind: m.Kind(), Stages: make([]FunnelStage, 0, len(m.stages))}
	prev := 0
	for i, stage := range m.stages {
		st := StageStatistics(records, stage, now)
		row := FunnelStage{StageStats: st}
		if i > 0 {
			row.DropoffRate = DropoffRate(st.Count, prev)
		}
		prev = st.Count
		sum.Total += st.Count
		sum.TotalValue += st.TotalValue
		sum.Stages = append(sum.Stages, row)
	}
	return sum
}
