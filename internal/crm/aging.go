package crm

import (
	"strings"
	"time"
)

// OpenEnded marks a bucket without an upper bound
const OpenEnded = -1

// AgingBucket is a named window of days since the record entered its stage.
// Both bounds are inclusive.
type AgingBucket struct {
	Label   string `json:"label"`
	MinDays int    `json:"minDays"`
	MaxDays int    `json:"maxDays"`
}

// AgingBuckets partitions day counts with no gaps or overlaps. Stale starts
// at 61 so that day 60 stays in Cold.
var AgingBuckets = []AgingBucket{
	{Label: "New", MinDays: 0, MaxDays: 7},
	{Label: "Fresh", MinDays: 8, MaxDays: 15},
	{Label: "Warm", MinDays: 16, MaxDays: 30},
	{Label: "Cold", MinDays: 31, MaxDays: 60},
	{Label: "Stale", MinDays: 61, MaxDays: OpenEnded},
}

// Contains reports whether days falls inside the bucket
func (b AgingBucket) Contains(days int) bool {
	if days < b.MinDays {
		return false
	}
	return b.MaxDays == OpenEnded || days <= b.MaxDays
}

// LookupBucket finds a bucket by label, ignoring case
func LookupBucket(label string) (AgingBucket, bool) {
	for _, b := range AgingBuckets {
		if strings.EqualFold(b.Label, strings.TrimSpace(label)) {
			return b, true
		}
	}
	return AgingBucket{}, false
}

// BucketFor returns the bucket a day count falls into
func BucketFor(days int) AgingBucket {
	if days < 0 {
		days = 0
	}
	for _, b := range AgingBuckets {
		if b.Contains(days) {
			return b
		}
	}
	return AgingBuckets[len(AgingBuckets)-1]
}

// BucketCount is one row of an aging distribution
type BucketCount struct {
	AgingBucket
	Count int `json:"count"`
}

// AgingDistribution counts records per aging bucket by time in current stage
func AgingDistribution(records []Record, now time.Time) []BucketCount {
	out := make([]BucketCount, len(AgingBuckets))
	pos := make(map[string]int, len(AgingBuckets))
	for i, b := range AgingBuckets {
		out[i] = BucketCount{AgingBucket: b}
		pos[b.Label] = i
	}
	for _, r := range records {
		b := BucketFor(AgeDays(r.StageEnteredAt, now))
		out[pos[b.Label]].Count++
	}
	return out
}
