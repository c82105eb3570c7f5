package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/snapguard/internal/ir"
	"github.com/roach88/snapguard/internal/session"
)

func sampleTrace() []TraceEvent {
	active := session.Snapshot{ImageID: "abc", State: session.StateActive, Focus: session.FocusFocused, Remaining: 2}
	ticked := session.Snapshot{ImageID: "abc", State: session.StateActive, Focus: session.FocusFocused, Remaining: 1}
	expired := session.Snapshot{ImageID: "abc", State: session.StateExpired}
	entry := ir.AccessLogEntry{ID: "log-1", Device: ir.DeviceMobile}
	return []TraceEvent{
		{Seq: 1, Type: EventActivate, Session: "main", Snapshot: &active},
		{Seq: 2, Type: EventAccess, Session: "main", Entry: &entry},
		{Seq: 3, Type: EventTick, Session: "main", Snapshot: &ticked},
		{Seq: 4, Type: EventTick, Session: "main", Snapshot: &expired},
	}
}

func sampleRecords() map[string]ir.ImageRecord {
	expires := int64(1800000000000)
	rec := ir.NewImageRecord("abc", "cat.png", "data:image/png;base64,AA", 1700000000000)
	rec.ExpiresAt = &expires
	rec.AppendAccess(ir.AccessLogEntry{
		ID:        "log-1",
		Timestamp: 1700000000000,
		IP:        "203.0.113.7",
		Device:    ir.DeviceMobile,
		UserAgent: "Mozilla/5.0 (iPhone)",
		Platform:  "iPhone",
	})
	return map[string]ir.ImageRecord{"abc": rec}
}

func TestAssertTraceOrder(t *testing.T) {
	tests := []struct {
		name    string
		events  []string
		wantErr string
	}{
		{"consecutive", []string{EventActivate, EventAccess}, ""},
		{"gaps allowed", []string{EventActivate, EventTick}, ""},
		{"repeats", []string{EventTick, EventTick}, ""},
		{"too many repeats", []string{EventTick, EventTick, EventTick}, "then no tick"},
		{"wrong order", []string{EventAccess, EventActivate}, "then no activate"},
		{"missing event", []string{EventActivate, EventClose}, "then no close"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := assertTraceOrder(sampleTrace(), Assertion{Type: AssertTraceOrder, Events: tt.events})
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var assertErr *AssertionError
			require.ErrorAs(t, err, &assertErr)
			assert.Equal(t, AssertTraceOrder, assertErr.Type)
			assert.Contains(t, assertErr.Actual, tt.wantErr)
		})
	}
}

func TestAssertTraceCount(t *testing.T) {
	assert.NoError(t, assertTraceCount(sampleTrace(), Assertion{Event: EventTick, Count: 2}))
	assert.NoError(t, assertTraceCount(sampleTrace(), Assertion{Event: EventClose, Count: 0}))

	err := assertTraceCount(sampleTrace(), Assertion{Event: EventAccess, Count: 2})
	require.Error(t, err)
	var assertErr *AssertionError
	require.ErrorAs(t, err, &assertErr)
	assert.Equal(t, "2 occurrences of access", assertErr.Expected)
	assert.Equal(t, "1 occurrences", assertErr.Actual)
}

func TestAssertRecord(t *testing.T) {
	records := sampleRecords()

	tests := []struct {
		name    string
		id      string
		expect  map[string]any
		wantErr string
	}{
		{"counters", "abc", map[string]any{"view_count": 1, "is_viewed": true, "log_count": 1}, ""},
		{"metadata", "abc", map[string]any{"name": "cat.png", "created_at": 1700000000000, "expires_at": 1800000000000}, ""},
		{"exists", "abc", map[string]any{"exists": true}, ""},
		{"absent", "zzz", map[string]any{"exists": false}, ""},
		{"wrong count", "abc", map[string]any{"view_count": 3}, "field view_count = 3"},
		{"wrong type", "abc", map[string]any{"is_viewed": "yes"}, "field is_viewed = yes"},
		{"unknown field", "abc", map[string]any{"colour": "red"}, "field colour = red"},
		{"unexpected presence", "abc", map[string]any{"exists": false}, "exists=false"},
		{"missing record", "zzz", map[string]any{"view_count": 0}, "record zzz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := assertRecord(records, Assertion{Type: AssertRecord, ID: tt.id, Expect: tt.expect})
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestAssertLogEntry(t *testing.T) {
	records := sampleRecords()

	err := assertLogEntry(records, Assertion{ID: "abc", Index: 0, Expect: map[string]any{
		"id":         "log-1",
		"ip":         "203.0.113.7",
		"device":     "MOBILE",
		"user_agent": "Mozilla/5.0 (iPhone)",
		"platform":   "iPhone",
		"timestamp":  1700000000000,
	}})
	assert.NoError(t, err)

	err = assertLogEntry(records, Assertion{ID: "abc", Index: 0, Expect: map[string]any{"device": "TABLET"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "record abc log[0] field device = TABLET")
	assert.Contains(t, err.Error(), "Actual: MOBILE")

	err = assertLogEntry(records, Assertion{ID: "abc", Index: 1, Expect: map[string]any{"ip": "x"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 log entries")

	err = assertLogEntry(records, Assertion{ID: "zzz", Expect: map[string]any{"ip": "x"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "record not found")
}

func TestValuesEqual(t *testing.T) {
	assert.True(t, valuesEqual(int64(5), 5))
	assert.True(t, valuesEqual(5, int64(5)))
	assert.True(t, valuesEqual("a", "a"))
	assert.True(t, valuesEqual(true, true))
	assert.True(t, valuesEqual(nil, nil))
	assert.False(t, valuesEqual(int64(5), "5"))
	assert.False(t, valuesEqual(true, 1))
	assert.False(t, valuesEqual(nil, 0))
}

func TestAssertionError_IncludesTrace(t *testing.T) {
	err := assertTraceCount(sampleTrace(), Assertion{Event: EventBlur, Count: 1})
	require.Error(t, err)

	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: trace_count")
	assert.Contains(t, msg, "[1] main activate ACTIVE FOCUSED remaining=2")
	assert.Contains(t, msg, "[2] main access log-1 MOBILE")
	assert.Contains(t, msg, "[4] main tick EXPIRED  remaining=0")
}

func TestEvaluateAssertions(t *testing.T) {
	result := NewResult()
	result.Trace = sampleTrace()
	result.Records = sampleRecords()

	errs := EvaluateAssertions(result, []Assertion{
		{Type: AssertTraceCount, Event: EventAccess, Count: 1},
		{Type: AssertTraceOrder, Events: []string{EventActivate, EventTick}},
		{Type: AssertRecord, ID: "abc", Expect: map[string]any{"view_count": 1}},
		{Type: AssertLogEntry, ID: "abc", Expect: map[string]any{"ip": "203.0.113.7"}},
	})
	assert.Empty(t, errs)

	errs = EvaluateAssertions(result, []Assertion{
		{Type: AssertTraceCount, Event: EventAccess, Count: 3},
		{Type: "final_state"},
	})
	require.Len(t, errs, 2)
	assert.Contains(t, errs[1], `unknown assertion type "final_state"`)
}
