package harness

import (
	"github.com/roach88/snapguard/internal/ir"
	"github.com/roach88/snapguard/internal/session"
)

// Trace event types. Flow steps record their own name; activation of a
// present record additionally records EventAccess.
const (
	EventActivate = "activate"
	EventTick     = "tick"
	EventBlur     = "blur"
	EventFocus    = "focus"
	EventClose    = "close"
	EventAccess   = "access"
)

// TraceEvent is one observable outcome of a scenario step: either the
// session snapshot after the step, or the access log entry it wrote.
type TraceEvent struct {
	Seq      int64              `json:"seq"`
	Type     string             `json:"type"`
	Session  string             `json:"session"`
	Snapshot *session.Snapshot  `json:"snapshot,omitempty"`
	Entry    *ir.AccessLogEntry `json:"entry,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if all expect clauses and assertions match.
	Pass bool `json:"pass"`

	// Trace contains every step outcome in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Records holds the final store contents keyed by record id.
	Records map[string]ir.ImageRecord `json:"records,omitempty"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:    true,
		Trace:   []TraceEvent{},
		Errors:  []string{},
		Records: make(map[string]ir.ImageRecord),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// addSnapshot appends a snapshot event and returns its sequence number.
func (r *Result) addSnapshot(eventType, label string, snap session.Snapshot) int64 {
	seq := int64(len(r.Trace) + 1)
	r.Trace = append(r.Trace, TraceEvent{
		Seq:      seq,
		Type:     eventType,
		Session:  label,
		Snapshot: &snap,
	})
	return seq
}

// addAccess appends an access log entry event.
func (r *Result) addAccess(label string, entry ir.AccessLogEntry) {
	r.Trace = append(r.Trace, TraceEvent{
		Seq:     int64(len(r.Trace) + 1),
		Type:    EventAccess,
		Session: label,
		Entry:   &entry,
	})
}

// canonicalMap converts e to the shape accepted by ir.MarshalCanonical.
func (e TraceEvent) canonicalMap() map[string]any {
	m := map[string]any{
		"seq":     e.Seq,
		"type":    e.Type,
		"session": e.Session,
	}
	if e.Snapshot != nil {
		m["imageId"] = e.Snapshot.ImageID
		m["state"] = string(e.Snapshot.State)
		m["remaining"] = e.Snapshot.Remaining
		if e.Snapshot.Focus != "" {
			m["focus"] = string(e.Snapshot.Focus)
		}
		if e.Snapshot.Closed {
			m["closed"] = true
		}
	}
	if e.Entry != nil {
		m["entry"] = e.Entry.CanonicalMap()
	}
	return m
}
