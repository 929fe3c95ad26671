// Package analytics summarizes persisted action records.
package analytics

import (
	"sort"
	"time"

	"skyward/internal/model"
)

// DailyActions aggregates records into per-day (UTC) counts by kind.
func DailyActions(records []model.ActionRecord) map[time.Time]map[model.ActionKind]int {
	buckets := make(map[time.Time]map[model.ActionKind]int)
	for _, r := range records {
		at := r.At.UTC()
		key := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC)
		if _, ok := buckets[key]; !ok {
			buckets[key] = make(map[model.ActionKind]int)
		}
		buckets[key][r.Kind]++
	}
	return buckets
}

// SortedBucketKeys returns sorted day keys.
func SortedBucketKeys(m map[time.Time]map[model.ActionKind]int) []time.Time {
	keys := make([]time.Time, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Before(keys[j]) })
	return keys
}

// Totals counts records by kind.
func Totals(records []model.ActionRecord) map[model.ActionKind]int {
	out := make(map[model.ActionKind]int, len(model.Kinds))
	for _, r := range records {
		out[r.Kind]++
	}
	return out
}
