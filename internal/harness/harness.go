package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/roach88/snapguard/internal/access"
	"github.com/roach88/snapguard/internal/ipresolve"
	"github.com/roach88/snapguard/internal/ir"
	"github.com/roach88/snapguard/internal/session"
	"github.com/roach88/snapguard/internal/store"
	"github.com/roach88/snapguard/internal/testutil"
)

// defaultDataURL is a 1x1 transparent PNG, used for seeds without a payload.
const defaultDataURL = "data:image/png;base64,iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR42mNkYAAAAAYAAjCB0C8AAAAASUVORK5CYII="

// Harness is the scenario execution engine.
// It drives real sessions against a fresh store with a deterministic clock
// and entry ids.
type Harness struct {
	records  store.RecordStore
	engine   *session.Engine
	clock    *testutil.DeterministicClock
	sessions map[string]*session.Session
	logger   *slog.Logger
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs against a fresh store for isolation. Deterministic
// helpers ensure reproducible results.
//
// Execution flow:
// 1. Open a fresh store for the scenario backend
// 2. Create the setup records
// 3. Execute flow steps with expect validation
// 4. Read back the final records and evaluate assertions
//
// Expectation and assertion failures are reported in the result. Store
// failures abort the run and are returned as errors.
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller-supplied context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	records, cleanup, err := openScenarioStore(scenario.Backend)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	clock := testutil.NewDeterministicClock()
	logger := access.NewLogger(records, ipresolve.Static(scenario.IP),
		access.WithIDGenerator(testutil.NewSequenceGenerator("log")),
		access.WithNow(clock.Now),
	)

	opts := []session.Option{session.WithViewOnce(scenario.ViewOnce)}
	if scenario.Countdown > 0 {
		opts = append(opts, session.WithCountdown(scenario.Countdown))
	}

	h := &Harness{
		records:  records,
		engine:   session.New(records, logger, opts...),
		clock:    clock,
		sessions: make(map[string]*session.Session),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
	}
	defer h.closeSessions()

	result := NewResult()
	if err := h.executeSetup(ctx, scenario.Setup); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}

	if err := h.executeFlow(ctx, scenario.Flow, result); err != nil {
		return nil, fmt.Errorf("failed to execute flow: %w", err)
	}

	final, err := records.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read final records: %w", err)
	}
	for _, rec := range final {
		result.Records[rec.ID] = rec
	}

	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(errMsg)
	}

	return result, nil
}

// openScenarioStore opens the named backend. SQLite backends get a database
// file in a temporary directory that cleanup removes.
func openScenarioStore(backend string) (store.RecordStore, func(), error) {
	b := store.Backend(backend)
	if b == "" {
		b = store.BackendMemory
	}

	if b == store.BackendMemory {
		st := store.NewMemory()
		return st, func() { _ = st.Close() }, nil
	}

	dir, err := os.MkdirTemp("", "snapguard-harness-*")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	st, err := store.OpenBackend(b, filepath.Join(dir, "records.db"))
	if err != nil {
		os.RemoveAll(dir)
		return nil, nil, fmt.Errorf("failed to open %s store: %w", b, err)
	}
	return st, func() {
		_ = st.Close()
		os.RemoveAll(dir)
	}, nil
}

// executeSetup creates the seed records in order.
func (h *Harness) executeSetup(ctx context.Context, setup []RecordSeed) error {
	for i, seed := range setup {
		dataURL := seed.DataURL
		if dataURL == "" {
			dataURL = defaultDataURL
		}
		createdAt := seed.CreatedAt
		if createdAt == 0 {
			createdAt = h.clock.Current().UnixMilli()
		}

		rec := ir.NewImageRecord(seed.ID, seed.Name, dataURL, createdAt)
		rec.ExpiresAt = seed.ExpiresAt
		if err := h.records.Create(ctx, rec); err != nil {
			return fmt.Errorf("setup[%d]: %w", i, err)
		}

		h.logger.Info("setup record created", "step", i, "image_id", seed.ID)
	}
	return nil
}

// executeFlow runs all flow steps and validates expect clauses.
//
// Each step acts on the real session: activate goes through the engine
// (store lookup and access logging), the other steps call the session
// transitions directly. Ticks are applied synchronously, so no wall-clock
// timer is involved.
func (h *Harness) executeFlow(ctx context.Context, flow []FlowStep, result *Result) error {
	for i, step := range flow {
		label := step.sessionLabel()

		var snap session.Snapshot
		var entry *ir.AccessLogEntry

		switch step.Step {
		case EventActivate:
			sess, err := h.engine.Activate(ctx, step.ImageID, step.Env)
			if err != nil {
				return fmt.Errorf("flow[%d]: %w", i, err)
			}
			h.sessions[label] = sess
			snap = sess.Snapshot()
			result.addSnapshot(EventActivate, label, snap)
			if snap.State == session.StateActive {
				e := sess.Entry()
				entry = &e
				result.addAccess(label, e)
			}

		case EventTick:
			sess := h.sessions[label]
			n := max(step.Count, 1)
			for i := 0; i < n; i++ {
				snap = sess.Tick()
				result.addSnapshot(EventTick, label, snap)
			}

		case EventBlur:
			snap = h.sessions[label].LoseFocus()
			result.addSnapshot(EventBlur, label, snap)

		case EventFocus:
			snap = h.sessions[label].GainFocus()
			result.addSnapshot(EventFocus, label, snap)

		case EventClose:
			sess := h.sessions[label]
			sess.Close()
			snap = sess.Snapshot()
			result.addSnapshot(EventClose, label, snap)

		default:
			return fmt.Errorf("flow[%d]: unknown step %q", i, step.Step)
		}

		if step.Expect != nil {
			for _, msg := range checkExpect(step.Expect, snap, entry) {
				result.AddError(fmt.Sprintf("flow[%d] (%s %s): %s", i, step.Step, label, msg))
			}
		}

		h.logger.Info("flow step completed",
			"step", i,
			"kind", step.Step,
			"session", label,
			"state", snap.State,
			"remaining", snap.Remaining,
		)
	}

	return nil
}

// checkExpect compares the snapshot (and logged entry) after a step with
// the expect clause.
func checkExpect(e *ExpectClause, snap session.Snapshot, entry *ir.AccessLogEntry) []string {
	var errs []string
	if e.State != "" && string(snap.State) != e.State {
		errs = append(errs, fmt.Sprintf("state: expected %s, got %s", e.State, snap.State))
	}
	if e.Focus != "" && string(snap.Focus) != e.Focus {
		errs = append(errs, fmt.Sprintf("focus: expected %s, got %q", e.Focus, snap.Focus))
	}
	if e.Remaining != nil && snap.Remaining != *e.Remaining {
		errs = append(errs, fmt.Sprintf("remaining: expected %d, got %d", *e.Remaining, snap.Remaining))
	}
	if e.Closed != nil && snap.Closed != *e.Closed {
		errs = append(errs, fmt.Sprintf("closed: expected %v, got %v", *e.Closed, snap.Closed))
	}
	if e.Device != "" {
		switch {
		case entry == nil:
			errs = append(errs, fmt.Sprintf("device: expected %s, no access was logged", e.Device))
		case string(entry.Device) != e.Device:
			errs = append(errs, fmt.Sprintf("device: expected %s, got %s", e.Device, entry.Device))
		}
	}
	return errs
}

// closeSessions releases every session the flow opened.
func (h *Harness) closeSessions() {
	for _, sess := range h.sessions {
		sess.Close()
	}
}
