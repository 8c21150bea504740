// Package snapshot implements the Snapshot Engine (C4): it organizes loose
// classroom photos into date buckets, builds a descriptor of the current
// classroom-photo tree, persists it, and diffs two descriptors into an
// IncrementalPlan.
package snapshot

import (
	"fmt"
	"sort"
	"strings"
)

// Entry identifies one classroom photo file within a date bucket.
type Entry struct {
	RelPath string `json:"relative_path"` // relative to the classroom-photo root
	Size    int64  `json:"size"`
	MTime   int64  `json:"mtime"`
}

const formatVersion = 1

// Descriptor is the SnapshotDescriptor: a mapping from date
// bucket to its sorted set of file entries, plus a format version tag.
type Descriptor struct {
	Version int                `json:"version"`
	Dates   map[string][]Entry `json:"dates"`
}

// entrySet renders one date's entries into a form two Descriptors can
// compare for value equality regardless of scan order.
func entrySet(entries []Entry) string {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].RelPath < sorted[j].RelPath })

	var b strings.Builder
	for _, e := range sorted {
		fmt.Fprintf(&b, "%s|%d|%d;", e.RelPath, e.Size, e.MTime)
	}
	return b.String()
}

// IncrementalPlan is the diff between two Descriptors.
type IncrementalPlan struct {
	ChangedDates []string
	DeletedDates []string
	NewSnapshot  Descriptor
}

// Diff computes prev vs. curr: changed_dates are buckets
// new in curr or whose entry set differs from prev; deleted_dates are
// buckets present in prev but absent from curr.
func Diff(prev, curr Descriptor) IncrementalPlan {
	plan := IncrementalPlan{NewSnapshot: curr}

	for date, entries := range curr.Dates {
		prevEntries, ok := prev.Dates[date]
		if !ok || entrySet(prevEntries) != entrySet(entries) {
			plan.ChangedDates = append(plan.ChangedDates, date)
		}
	}
	for date := range prev.Dates {
		if _, ok := curr.Dates[date]; !ok {
			plan.DeletedDates = append(plan.DeletedDates, date)
		}
	}

	sort.Strings(plan.ChangedDates)
	sort.Strings(plan.DeletedDates)
	return plan
}
