package harness

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/roach88/snapguard/internal/ir"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			switch {
			case event.Snapshot != nil:
				fmt.Fprintf(&buf, "  [%d] %s %s %s %s remaining=%d\n", event.Seq, event.Session,
					event.Type, event.Snapshot.State, event.Snapshot.Focus, event.Snapshot.Remaining)
			case event.Entry != nil:
				fmt.Fprintf(&buf, "  [%d] %s %s %s %s\n", event.Seq, event.Session,
					event.Type, event.Entry.ID, event.Entry.Device)
			}
		}
	}

	return buf.String()
}

// assertTraceOrder checks that the event types appear in the given order.
// Events don't need to be consecutive (intervening events are allowed), and
// a type may repeat.
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	next := 0
	for _, event := range trace {
		if next < len(assertion.Events) && event.Type == assertion.Events[next] {
			next++
		}
	}
	if next == len(assertion.Events) {
		return nil
	}

	return &AssertionError{
		Type:     AssertTraceOrder,
		Expected: fmt.Sprintf("events in order: %v", assertion.Events),
		Actual:   fmt.Sprintf("matched %v, then no %s", assertion.Events[:next], assertion.Events[next]),
		Trace:    trace,
	}
}

// assertTraceCount checks if the event type appears exactly the specified
// number of times.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Type == assertion.Event {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, assertion.Event),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}

	return nil
}

// assertRecord checks fields of a final record (subset match).
// The "exists" key checks presence; every other key requires the record.
func assertRecord(records map[string]ir.ImageRecord, assertion Assertion) error {
	rec, found := records[assertion.ID]

	if want, ok := assertion.Expect["exists"]; ok {
		if !valuesEqual(found, want) {
			return &AssertionError{
				Type:     AssertRecord,
				Expected: fmt.Sprintf("record %s exists=%v", assertion.ID, want),
				Actual:   fmt.Sprintf("exists=%v", found),
			}
		}
	}
	if !found {
		if len(assertion.Expect) == 1 && assertion.Expect["exists"] != nil {
			return nil
		}
		return &AssertionError{
			Type:     AssertRecord,
			Expected: fmt.Sprintf("record %s", assertion.ID),
			Actual:   "record not found",
		}
	}

	return matchFields(AssertRecord, fmt.Sprintf("record %s", assertion.ID), recordFields(rec), assertion.Expect)
}

// assertLogEntry checks one access log entry of a final record.
func assertLogEntry(records map[string]ir.ImageRecord, assertion Assertion) error {
	rec, found := records[assertion.ID]
	if !found {
		return &AssertionError{
			Type:     AssertLogEntry,
			Expected: fmt.Sprintf("record %s", assertion.ID),
			Actual:   "record not found",
		}
	}
	if assertion.Index >= len(rec.Logs) {
		return &AssertionError{
			Type:     AssertLogEntry,
			Expected: fmt.Sprintf("log entry %d of record %s", assertion.Index, assertion.ID),
			Actual:   fmt.Sprintf("%d log entries", len(rec.Logs)),
		}
	}

	what := fmt.Sprintf("record %s log[%d]", assertion.ID, assertion.Index)
	return matchFields(AssertLogEntry, what, entryFields(rec.Logs[assertion.Index]), assertion.Expect)
}

func recordFields(rec ir.ImageRecord) map[string]any {
	fields := map[string]any{
		"exists":     true,
		"name":       rec.Name,
		"data_url":   rec.DataURL,
		"created_at": rec.CreatedAt,
		"view_count": rec.ViewCount,
		"is_viewed":  rec.IsViewed,
		"log_count":  len(rec.Logs),
	}
	if rec.ExpiresAt != nil {
		fields["expires_at"] = *rec.ExpiresAt
	}
	return fields
}

func entryFields(e ir.AccessLogEntry) map[string]any {
	return map[string]any{
		"id":         e.ID,
		"timestamp":  e.Timestamp,
		"ip":         e.IP,
		"device":     string(e.Device),
		"user_agent": e.UserAgent,
		"platform":   e.Platform,
	}
}

// matchFields checks that actual contains every expected key with an
// equal value. Extra keys in actual are ignored.
func matchFields(assertType, what string, actual, expected map[string]any) error {
	keys := make([]string, 0, len(expected))
	for k := range expected {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		want := expected[key]
		got, exists := actual[key]
		if !exists {
			return &AssertionError{
				Type:     assertType,
				Expected: fmt.Sprintf("%s field %s = %v", what, key, want),
				Actual:   "field not present",
			}
		}
		if !valuesEqual(got, want) {
			return &AssertionError{
				Type:     assertType,
				Expected: fmt.Sprintf("%s field %s = %v", what, key, want),
				Actual:   fmt.Sprintf("%v", got),
			}
		}
	}
	return nil
}

// valuesEqual compares two values for equality. Integers compare by value
// regardless of width, since YAML decodes numbers as int.
func valuesEqual(actual, expected any) bool {
	if actual == nil && expected == nil {
		return true
	}
	if actual == nil || expected == nil {
		return false
	}

	if a, ok := asInt64(actual); ok {
		e, ok := asInt64(expected)
		return ok && a == e
	}

	return reflect.DeepEqual(actual, expected)
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case uint64:
		return int64(n), true
	default:
		return 0, false
	}
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertRecord:
			err = assertRecord(result.Records, assertion)
		case AssertLogEntry:
			err = assertLogEntry(result.Records, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
