// Package aggregate holds the pure folding primitives that turn raw view
// rows and documents into the grouped, deduplicated, time-bucketed counts
// the reports push as gauges. Nothing in this package touches a backend;
// every function is a plain fold over its inputs, which keeps the report
// pipelines testable with recorded data.
//
// Deduplication is centralized here rather than re-implemented at each call
// site: when the same entity can surface from overlapping queries, a seen
// set guarantees a repeated ID never increments a count twice.
package aggregate

import (
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"dashboard.sw360.org/common"
)

// CreatedOnFormat is the date layout SW360 stores in createdOn fields.
const CreatedOnFormat = "2006-01-02"

// MinReportYear filters out known-bad historical data: documents stamped
// 2015 or earlier predate reliable bookkeeping and are excluded from the
// per-year time series when the filter is enabled.
const MinReportYear = 2015

// CountByKey groups the keys and counts occurrences.
func CountByKey(keys []string) map[string]int {
	counts := make(map[string]int, len(keys))
	for _, k := range keys {
		counts[k]++
	}
	return counts
}

// NormalizeKey maps blank or whitespace-only keys to the given placeholder
// so empty grouping values still produce a labeled series.
func NormalizeKey(key, placeholder string) string {
	if strings.TrimSpace(key) == "" {
		return placeholder
	}
	return key
}

// YearBuckets parses date strings in CreatedOnFormat and buckets them by
// calendar year. Malformed or missing dates are dropped, never fatal: each
// drop is logged and counted so data loss stays visible. With filterOld
// set, years at or below MinReportYear are excluded.
func YearBuckets(dates []string, filterOld bool, logger *logrus.Logger) (buckets map[int]int, dropped int) {
	if logger == nil {
		logger = common.Logger
	}
	buckets = make(map[int]int)
	for _, raw := range dates {
		if raw == "" {
			logger.Debug("createdOn missing, skipping entry")
			dropped++
			continue
		}
		parsed, err := time.Parse(CreatedOnFormat, raw)
		if err != nil {
			logger.WithField("value", raw).Debug("invalid date format, skipping entry")
			dropped++
			continue
		}
		year := parsed.Year()
		if filterOld && year <= MinReportYear {
			continue
		}
		buckets[year]++
	}
	if dropped > 0 {
		logger.WithField("dropped", dropped).Warn("dropped entries with unparseable dates")
	}
	return buckets, dropped
}

// NamedCount is a counted entity carrying a display name for labels.
type NamedCount struct {
	ID    string
	Name  string
	Count int
}

// SortCounts orders counts descending, breaking ties by ascending name so
// equal counts always come out in the same order run to run.
func SortCounts(counts []NamedCount) {
	sort.SliceStable(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].Name < counts[j].Name
	})
}

// TopN returns the first n entries of the sorted counts. n <= 0 or beyond
// the input length returns everything.
func TopN(counts []NamedCount, n int) []NamedCount {
	sorted := make([]NamedCount, len(counts))
	copy(sorted, counts)
	SortCounts(sorted)
	if n > 0 && n < len(sorted) {
		sorted = sorted[:n]
	}
	return sorted
}

// Unreferenced computes all − referenced: the IDs present in all that no
// entry of referenced mentions. The result is sorted for determinism.
func Unreferenced(all, referenced []string) []string {
	seen := make(map[string]struct{}, len(referenced))
	for _, id := range referenced {
		seen[id] = struct{}{}
	}
	var unused []string
	emitted := make(map[string]struct{})
	for _, id := range all {
		if _, ok := seen[id]; ok {
			continue
		}
		if _, ok := emitted[id]; ok {
			continue
		}
		emitted[id] = struct{}{}
		unused = append(unused, id)
	}
	sort.Strings(unused)
	return unused
}

// Seen is the shared duplicate-suppression set. Add reports whether the ID
// was new; a repeated ID must never be processed twice.
type Seen map[string]struct{}

// NewSeen returns an empty seen set.
func NewSeen() Seen {
	return make(Seen)
}

// Add inserts the ID and returns true when it was not present before.
func (s Seen) Add(id string) bool {
	if _, ok := s[id]; ok {
		return false
	}
	s[id] = struct{}{}
	return true
}

// Dedupe returns the input with repeats removed, preserving first-seen
// order.
func Dedupe(ids []string) []string {
	seen := NewSeen()
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if seen.Add(id) {
			out = append(out, id)
		}
	}
	return out
}
