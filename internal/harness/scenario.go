package harness

import (
	"bytes"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/roach88/snapguard/internal/ir"
	"github.com/roach88/snapguard/internal/session"
	"github.com/roach88/snapguard/internal/store"
)

// DefaultSession labels flow steps that do not name a session.
const DefaultSession = "main"

// Scenario defines a scripted view-session test.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Backend selects the record store: memory (default), blob or relational.
	// SQLite backends run against a throwaway database file.
	Backend string `yaml:"backend,omitempty"`

	// Countdown is the tick budget of each session. Zero means the default.
	Countdown int `yaml:"countdown,omitempty"`

	// ViewOnce refuses activation of already viewed records.
	ViewOnce bool `yaml:"view_once,omitempty"`

	// IP is the address the resolver reports. Empty simulates a failed
	// lookup, so entries carry the unresolved sentinel.
	IP string `yaml:"ip,omitempty"`

	// Setup lists records created before the flow runs.
	Setup []RecordSeed `yaml:"setup,omitempty"`

	// Flow contains the session steps with optional expectations.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the final trace and records.
	// Supported types: record, log_entry, trace_count, trace_order
	Assertions []Assertion `yaml:"assertions"`
}

// RecordSeed is a record created during setup.
type RecordSeed struct {
	ID        string `yaml:"id"`
	Name      string `yaml:"name"`
	DataURL   string `yaml:"data_url,omitempty"` // defaults to a one-pixel PNG
	CreatedAt int64  `yaml:"created_at,omitempty"`
	ExpiresAt *int64 `yaml:"expires_at,omitempty"`
}

// FlowStep drives one session.
type FlowStep struct {
	// Step is one of activate, tick, blur, focus, close.
	Step string `yaml:"step"`

	// Session labels the session the step acts on. Default "main".
	Session string `yaml:"session,omitempty"`

	// ImageID is the record to open (activate only).
	ImageID string `yaml:"image_id,omitempty"`

	// Env is the viewer environment (activate only).
	Env ir.Environment `yaml:"env,omitempty"`

	// Count repeats a tick step. Zero means once.
	Count int `yaml:"count,omitempty"`

	// Expect is checked against the snapshot after the (last) step.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies the expected session snapshot. Only set fields
// are validated.
type ExpectClause struct {
	State     string `yaml:"state,omitempty"`
	Focus     string `yaml:"focus,omitempty"`
	Remaining *int   `yaml:"remaining,omitempty"`
	Closed    *bool  `yaml:"closed,omitempty"`

	// Device is the classified device of the logged entry (activate only).
	Device string `yaml:"device,omitempty"`
}

// Assertion validates the trace or the final records.
type Assertion struct {
	// Type specifies the assertion type:
	// - "record": Check fields of a final record
	// - "log_entry": Check one access log entry of a final record
	// - "trace_count": Check an event type appears exactly N times
	// - "trace_order": Check event types appear in order
	Type string `yaml:"type"`

	// ID is the record id (used by record, log_entry).
	ID string `yaml:"id,omitempty"`

	// Index is the log position, oldest first (used by log_entry).
	Index int `yaml:"index,omitempty"`

	// Expect contains expected field values (used by record, log_entry).
	// Subset match - only specified fields are validated.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Event is the trace event type (used by trace_count).
	Event string `yaml:"event,omitempty"`

	// Count is the expected number of occurrences (used by trace_count).
	Count int `yaml:"count,omitempty"`

	// Events is the expected event order (used by trace_order).
	Events []string `yaml:"events,omitempty"`
}

// Assertion type constants.
const (
	AssertRecord     = "record"
	AssertLogEntry   = "log_entry"
	AssertTraceCount = "trace_count"
	AssertTraceOrder = "trace_order"
)

var (
	flowSteps  = []string{EventActivate, EventTick, EventBlur, EventFocus, EventClose}
	eventTypes = append(slices.Clone(flowSteps), EventAccess)
	states     = []string{
		string(session.StateInitializing),
		string(session.StateNotFound),
		string(session.StateActive),
		string(session.StateExpired),
	}
	focuses = []string{string(session.FocusFocused), string(session.FocusInterlocked)}
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if s.Backend != "" && !slices.Contains(store.ValidBackends, store.Backend(s.Backend)) {
		return fmt.Errorf("unknown backend %q: must be one of %v", s.Backend, store.ValidBackends)
	}

	if s.Countdown < 0 {
		return fmt.Errorf("countdown must be non-negative")
	}

	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	seeded := make(map[string]bool, len(s.Setup))
	for i, seed := range s.Setup {
		if seed.ID == "" {
			return fmt.Errorf("setup[%d]: id is required", i)
		}
		if seeded[seed.ID] {
			return fmt.Errorf("setup[%d]: duplicate id %q", i, seed.ID)
		}
		seeded[seed.ID] = true
	}

	opened := make(map[string]bool)
	for i, step := range s.Flow {
		if err := validateFlowStep(i, &step, opened); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateFlowStep validates one step. opened tracks the session labels
// activated by earlier steps.
func validateFlowStep(index int, step *FlowStep, opened map[string]bool) error {
	if step.Step == "" {
		return fmt.Errorf("flow[%d]: step is required", index)
	}
	if !slices.Contains(flowSteps, step.Step) {
		return fmt.Errorf("flow[%d]: unknown step %q", index, step.Step)
	}

	label := step.sessionLabel()
	if step.Step == EventActivate {
		if step.ImageID == "" {
			return fmt.Errorf("flow[%d]: image_id is required for activate", index)
		}
		if opened[label] {
			return fmt.Errorf("flow[%d]: session %q is already activated", index, label)
		}
		opened[label] = true
	} else if !opened[label] {
		return fmt.Errorf("flow[%d]: session %q is not activated", index, label)
	}

	if step.Count < 0 {
		return fmt.Errorf("flow[%d]: count must be non-negative", index)
	}
	if step.Count > 0 && step.Step != EventTick {
		return fmt.Errorf("flow[%d]: count is only valid for tick", index)
	}

	if e := step.Expect; e != nil {
		if e.State != "" && !slices.Contains(states, e.State) {
			return fmt.Errorf("flow[%d].expect: unknown state %q", index, e.State)
		}
		if e.Focus != "" && !slices.Contains(focuses, e.Focus) {
			return fmt.Errorf("flow[%d].expect: unknown focus %q", index, e.Focus)
		}
		if e.Device != "" {
			if step.Step != EventActivate {
				return fmt.Errorf("flow[%d].expect: device is only valid for activate", index)
			}
			if !ir.ValidDeviceTypes[ir.DeviceType(e.Device)] {
				return fmt.Errorf("flow[%d].expect: unknown device %q", index, e.Device)
			}
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertRecord:
		if a.ID == "" {
			return fmt.Errorf("assertions[%d]: id is required for record", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for record", index)
		}
	case AssertLogEntry:
		if a.ID == "" {
			return fmt.Errorf("assertions[%d]: id is required for log_entry", index)
		}
		if a.Index < 0 {
			return fmt.Errorf("assertions[%d]: index must be non-negative for log_entry", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for log_entry", index)
		}
	case AssertTraceCount:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_count", index)
		}
		if !slices.Contains(eventTypes, a.Event) {
			return fmt.Errorf("assertions[%d]: unknown event %q", index, a.Event)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertTraceOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for trace_order", index)
		}
		for _, ev := range a.Events {
			if !slices.Contains(eventTypes, ev) {
				return fmt.Errorf("assertions[%d]: unknown event %q", index, ev)
			}
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}

func (s *FlowStep) sessionLabel() string {
	if s.Session == "" {
		return DefaultSession
	}
	return s.Session
}
