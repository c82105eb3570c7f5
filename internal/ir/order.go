package ir

import (
	"cmp"
	"slices"
)

// Dashboard status labels.
const (
	StatusViewed   = "Viewed"
	StatusUnopened = "Unopened"
)

// Status returns the dashboard label for r.
func (r ImageRecord) Status() string {
	if r.IsViewed {
		return StatusViewed
	}
	return StatusUnopened
}

// NewestFirst returns a copy of records ordered by createdAt descending.
// Records created in the same millisecond keep their stored order.
func NewestFirst(records []ImageRecord) []ImageRecord {
	out := slices.Clone(records)
	slices.SortStableFunc(out, func(a, b ImageRecord) int {
		return cmp.Compare(b.CreatedAt, a.CreatedAt)
	})
	return out
}

// LogsNewestFirst returns a copy of logs ordered by timestamp descending.
// The stored log itself is never reordered.
func LogsNewestFirst(logs []AccessLogEntry) []AccessLogEntry {
	out := slices.Clone(logs)
	slices.SortStableFunc(out, func(a, b AccessLogEntry) int {
		return cmp.Compare(b.Timestamp, a.Timestamp)
	})
	if out == nil {
		out = []AccessLogEntry{}
	}
	return out
}
