package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/snapguard/internal/ir"
	"github.com/roach88/snapguard/internal/session"
)

func intPtr(n int) *int    { return &n }
func boolPtr(b bool) *bool { return &b }

const iPhoneUA = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) Mobile/15E148"

func TestRun_MinimalScenario(t *testing.T) {
	scenario := &Scenario{
		Name:        "minimal",
		Description: "Minimal test scenario",
		IP:          "203.0.113.7",
		Setup:       []RecordSeed{{ID: "abc", Name: "a.png"}},
		Flow: []FlowStep{
			{
				Step:    EventActivate,
				ImageID: "abc",
				Env:     ir.Environment{UserAgent: iPhoneUA, Platform: "iPhone"},
				Expect:  &ExpectClause{State: "ACTIVE", Focus: "FOCUSED", Remaining: intPtr(10), Device: "MOBILE"},
			},
		},
		Assertions: []Assertion{
			{Type: AssertTraceCount, Event: EventAccess, Count: 1},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Empty(t, result.Errors)

	// activate snapshot + access entry
	require.Len(t, result.Trace, 2)
	assert.Equal(t, EventActivate, result.Trace[0].Type)
	assert.Equal(t, EventAccess, result.Trace[1].Type)
	assert.Equal(t, int64(1), result.Trace[0].Seq)
	assert.Equal(t, int64(2), result.Trace[1].Seq)

	entry := result.Trace[1].Entry
	require.NotNil(t, entry)
	assert.Equal(t, "log-1", entry.ID)
	assert.Equal(t, "203.0.113.7", entry.IP)
	assert.Equal(t, ir.DeviceMobile, entry.Device)

	rec := result.Records["abc"]
	assert.Equal(t, 1, rec.ViewCount)
	assert.True(t, rec.IsViewed)
}

func TestRun_CountdownExpires(t *testing.T) {
	scenario := &Scenario{
		Name:        "expiry",
		Description: "Countdown runs out",
		Countdown:   2,
		Setup:       []RecordSeed{{ID: "abc", Name: "a.png"}},
		Flow: []FlowStep{
			{Step: EventActivate, ImageID: "abc"},
			{Step: EventTick, Count: 3},
		},
		Assertions: []Assertion{
			{Type: AssertTraceCount, Event: EventTick, Count: 3},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	ticks := result.Trace[2:]
	require.Len(t, ticks, 3)
	assert.Equal(t, session.StateActive, ticks[0].Snapshot.State)
	assert.Equal(t, 1, ticks[0].Snapshot.Remaining)
	assert.Equal(t, session.StateExpired, ticks[1].Snapshot.State)
	assert.Equal(t, 0, ticks[1].Snapshot.Remaining)
	assert.Empty(t, ticks[1].Snapshot.Focus)
	// Extra ticks after expiry are ignored
	assert.Equal(t, *ticks[1].Snapshot, *ticks[2].Snapshot)
}

func TestRun_UnresolvedAddress(t *testing.T) {
	scenario := &Scenario{
		Name:        "no_ip",
		Description: "Address lookup fails",
		Setup:       []RecordSeed{{ID: "abc", Name: "a.png"}},
		Flow:        []FlowStep{{Step: EventActivate, ImageID: "abc"}},
		Assertions: []Assertion{
			{Type: AssertLogEntry, ID: "abc", Expect: map[string]any{"ip": ir.UnresolvedIP, "device": "DESKTOP"}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_ExpectMismatchFails(t *testing.T) {
	scenario := &Scenario{
		Name:        "mismatch",
		Description: "Expectations that do not hold",
		Setup:       []RecordSeed{{ID: "abc", Name: "a.png"}},
		Flow: []FlowStep{
			{
				Step:    EventActivate,
				ImageID: "abc",
				Env:     ir.Environment{UserAgent: iPhoneUA},
				Expect:  &ExpectClause{State: "EXPIRED", Device: "TABLET"},
			},
			{Step: EventBlur, Expect: &ExpectClause{Focus: "FOCUSED", Closed: boolPtr(true)}},
		},
		Assertions: []Assertion{
			{Type: AssertRecord, ID: "abc", Expect: map[string]any{"view_count": 2}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 5)
	assert.Contains(t, result.Errors[0], "flow[0] (activate main): state: expected EXPIRED, got ACTIVE")
	assert.Contains(t, result.Errors[1], "device: expected TABLET, got MOBILE")
	assert.Contains(t, result.Errors[2], "flow[1] (blur main): focus: expected FOCUSED")
	assert.Contains(t, result.Errors[3], "closed: expected true, got false")
	assert.Contains(t, result.Errors[4], "view_count")
}

func TestRun_NotFoundDeviceExpectation(t *testing.T) {
	scenario := &Scenario{
		Name:        "missing_device",
		Description: "A refused activation logs nothing",
		Flow: []FlowStep{
			{Step: EventActivate, ImageID: "nope", Expect: &ExpectClause{Device: "DESKTOP"}},
		},
		Assertions: []Assertion{
			{Type: AssertTraceCount, Event: EventAccess, Count: 0},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "no access was logged")
}

func TestRun_DuplicateSetupFails(t *testing.T) {
	scenario := &Scenario{
		Name:        "dup",
		Description: "Seeds collide",
		Setup: []RecordSeed{
			{ID: "abc", Name: "a.png"},
			{ID: "abc", Name: "b.png"},
		},
		Flow:       []FlowStep{{Step: EventActivate, ImageID: "abc"}},
		Assertions: []Assertion{{Type: AssertTraceCount, Event: EventAccess, Count: 1}},
	}

	_, err := Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to execute setup")
}

func TestRun_Backends(t *testing.T) {
	for _, backend := range []string{"memory", "blob", "relational"} {
		t.Run(backend, func(t *testing.T) {
			scenario := &Scenario{
				Name:        "backend_" + backend,
				Description: "Same flow on every backend",
				Backend:     backend,
				IP:          "198.51.100.1",
				Setup:       []RecordSeed{{ID: "abc", Name: "a.png", CreatedAt: 1600000000000}},
				Flow: []FlowStep{
					{Step: EventActivate, ImageID: "abc"},
					{Step: EventActivate, Session: "again", ImageID: "abc"},
				},
				Assertions: []Assertion{
					{Type: AssertRecord, ID: "abc", Expect: map[string]any{"view_count": 2, "log_count": 2, "created_at": 1600000000000}},
					{Type: AssertLogEntry, ID: "abc", Index: 1, Expect: map[string]any{"id": "log-2", "timestamp": 1700000001000}},
				},
			}

			result, err := Run(scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRun_Deterministic(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/share_and_expire.yaml")
	require.NoError(t, err)

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	a := NewTraceSnapshot(scenario.Name, first)
	b := NewTraceSnapshot(scenario.Name, second)
	digestA, err := a.Digest()
	require.NoError(t, err)
	digestB, err := b.Digest()
	require.NoError(t, err)
	assert.Equal(t, digestA, digestB)
	assert.Len(t, digestA, 64)
}

func TestScenarioFiles(t *testing.T) {
	tests := []string{
		"share_and_expire",
		"unknown_link",
		"interlock_and_close",
		"view_once",
	}

	for _, name := range tests {
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario("testdata/scenarios/" + name + ".yaml")
			require.NoError(t, err, "failed to load scenario %s", name)
			assert.Equal(t, name, scenario.Name, "scenario name mismatch")

			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err, "scenario execution failed")
			assert.True(t, result.Pass, "scenario should pass: errors=%v", result.Errors)
		})
	}
}
