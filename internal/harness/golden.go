package harness

import (
	"slices"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/snapguard/internal/ir"
)

// TraceSnapshot captures the trace and final records of a scenario run.
// All fields use canonical JSON serialization for deterministic comparison.
type TraceSnapshot struct {
	ScenarioName string           `json:"scenario_name"`
	Trace        []TraceEvent     `json:"trace"`
	Records      []ir.ImageRecord `json:"records"`
}

// NewTraceSnapshot builds the snapshot of result, with records ordered by id.
func NewTraceSnapshot(scenarioName string, result *Result) TraceSnapshot {
	ids := make([]string, 0, len(result.Records))
	for id := range result.Records {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	records := make([]ir.ImageRecord, len(ids))
	for i, id := range ids {
		records[i] = result.Records[id]
	}
	return TraceSnapshot{
		ScenarioName: scenarioName,
		Trace:        result.Trace,
		Records:      records,
	}
}

// toCanonicalMap converts a TraceSnapshot to a map[string]any for canonical
// JSON serialization. Record payloads are left out; the golden file pins the
// audit trail, not the image bytes.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, event := range s.Trace {
		traceList[i] = event.canonicalMap()
	}

	recordList := make([]any, len(s.Records))
	for i, rec := range s.Records {
		m := rec.CanonicalMap()
		delete(m, "dataUrl")
		recordList[i] = m
	}

	return map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         traceList,
		"records":       recordList,
	}
}

// MarshalCanonical returns the canonical JSON bytes of the snapshot.
func (s *TraceSnapshot) MarshalCanonical() ([]byte, error) {
	return ir.MarshalCanonical(s.toCanonicalMap())
}

// Digest returns a content digest of the snapshot. Two runs of the same
// scenario have equal digests.
func (s *TraceSnapshot) Digest() (string, error) {
	data, err := s.MarshalCanonical()
	if err != nil {
		return "", err
	}
	return ir.TraceDigest(data), nil
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if trace doesn't match golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}

	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares the given result's trace against a golden file.
// This is useful when you've already run a scenario and want to compare
// the result against a golden file without re-running.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	snapshot := NewTraceSnapshot(scenarioName, result)
	traceJSON, err := snapshot.MarshalCanonical()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)

	return nil
}
