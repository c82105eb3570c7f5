package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/snapguard/internal/ir"
)

// State is the top-level session state.
type State string

const (
	StateInitializing State = "INITIALIZING"
	StateNotFound     State = "NOT_FOUND"
	StateActive       State = "ACTIVE"
	StateExpired      State = "EXPIRED"
)

// Terminal reports whether no further transition can leave s.
func (s State) Terminal() bool {
	return s == StateNotFound || s == StateExpired
}

// Focus is the sub-state of an active session.
type Focus string

const (
	FocusFocused     Focus = "FOCUSED"
	FocusInterlocked Focus = "INTERLOCKED"
)

// ExpiredMessage is shown for both terminal states.
const ExpiredMessage = "This link has expired"

// ErrAlreadyRunning is returned by a second concurrent Run.
var ErrAlreadyRunning = errors.New("session countdown already running")

// Snapshot is the observable state of a session at one instant.
type Snapshot struct {
	ImageID   string `json:"imageId"`
	State     State  `json:"state"`
	Focus     Focus  `json:"focus,omitempty"`
	Remaining int    `json:"remaining"`
	Closed    bool   `json:"closed,omitempty"`
}

// Interlocked reports whether the view must be obscured.
func (s Snapshot) Interlocked() bool {
	return s.State == StateActive && s.Focus == FocusInterlocked
}

// Message returns the viewer-facing text for a terminal snapshot, or "".
func (s Snapshot) Message() string {
	if s.State.Terminal() {
		return ExpiredMessage
	}
	return ""
}

// Session is one activation of a share link.
//
// Thread-safety: all methods are safe for concurrent use. Each transition
// runs under the session mutex as one uninterrupted unit.
type Session struct {
	mu        sync.Mutex
	imageID   string
	state     State
	focus     Focus
	remaining int
	closed    bool
	running   bool

	record *ir.ImageRecord
	entry  ir.AccessLogEntry

	interval  time.Duration
	newTicker TickerFactory
	ticker    Ticker

	updates  chan Snapshot
	done     chan struct{}
	finished bool
}

func newSession(id string, interval time.Duration, newTicker TickerFactory) *Session {
	return &Session{
		imageID:   id,
		state:     StateInitializing,
		interval:  interval,
		newTicker: newTicker,
		updates:   make(chan Snapshot, 1),
		done:      make(chan struct{}),
	}
}

// activate moves INITIALIZING to ACTIVE/FOCUSED.
func (s *Session) activate(rec ir.ImageRecord, entry ir.AccessLogEntry, countdown int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := rec.Clone()
	s.record = &r
	s.entry = entry
	s.state = StateActive
	s.focus = FocusFocused
	s.remaining = countdown
	s.emit()
}

// finishNotFound moves INITIALIZING to NOT_FOUND.
func (s *Session) finishNotFound() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = StateNotFound
	s.emit()
	s.finish()
}

// Tick applies one countdown tick. Outside ACTIVE, or after Close, it is a
// no-op.
func (s *Session) Tick() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.state != StateActive {
		return s.snapshot()
	}

	s.remaining--
	if s.remaining <= 0 {
		s.remaining = 0
		s.state = StateExpired
		s.record = nil
		slog.Info("session expired", "image_id", s.imageID, "entry_id", s.entry.ID)
		s.emit()
		s.finish()
		return s.snapshot()
	}

	s.emit()
	return s.snapshot()
}

// LoseFocus engages the interlock.
func (s *Session) LoseFocus() Snapshot {
	return s.setFocus(FocusInterlocked)
}

// GainFocus releases the interlock.
func (s *Session) GainFocus() Snapshot {
	return s.setFocus(FocusFocused)
}

func (s *Session) setFocus(f Focus) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.state != StateActive || s.focus == f {
		return s.snapshot()
	}
	s.focus = f
	slog.Debug("session focus changed", "image_id", s.imageID, "focus", f)
	s.emit()
	return s.snapshot()
}

// Close cancels the session: the ticker stops, the payload is dropped and
// later ticks and focus events are ignored. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	s.record = nil
	if s.ticker != nil {
		s.ticker.Stop()
	}
	slog.Debug("session closed", "image_id", s.imageID, "state", s.state)
	s.emit()
	s.finish()
}

// Run arms the countdown ticker and applies its ticks until the session
// expires, is closed, or ctx is cancelled (which closes the session).
// Run on a session that is not ACTIVE returns nil at once.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.closed || s.state != StateActive {
		s.mu.Unlock()
		return nil
	}
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.running = true
	t := s.newTicker(s.interval)
	s.ticker = t
	s.mu.Unlock()

	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Close()
			return ctx.Err()
		case <-s.done:
			return nil
		case <-t.C():
			s.Tick()
		}
	}
}

// Snapshot returns the current observable state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

// Record returns the record captured at activation while the session is
// ACTIVE and open. It reports false once the payload has been dropped.
func (s *Session) Record() (ir.ImageRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.record == nil || s.closed || s.state != StateActive {
		return ir.ImageRecord{}, false
	}
	return s.record.Clone(), true
}

// Entry returns the access log entry written at activation. Zero for a
// NOT_FOUND session.
func (s *Session) Entry() ir.AccessLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entry
}

// Updates delivers a snapshot after every transition. Slow consumers see
// only the latest one. The channel is closed once the session is terminal
// or closed, after the final snapshot.
func (s *Session) Updates() <-chan Snapshot {
	return s.updates
}

// Done is closed when the session reaches a terminal state or is closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// snapshot builds a Snapshot. Caller must hold s.mu.
func (s *Session) snapshot() Snapshot {
	snap := Snapshot{
		ImageID:   s.imageID,
		State:     s.state,
		Remaining: s.remaining,
		Closed:    s.closed,
	}
	if s.state == StateActive {
		snap.Focus = s.focus
	}
	return snap
}

// emit publishes the current snapshot, replacing an unread one.
// Caller must hold s.mu.
func (s *Session) emit() {
	if s.finished {
		return
	}
	snap := s.snapshot()
	select {
	case s.updates <- snap:
		return
	default:
	}
	select {
	case <-s.updates:
	default:
	}
	select {
	case s.updates <- snap:
	default:
	}
}

// finish closes the update and done channels once. Caller must hold s.mu.
func (s *Session) finish() {
	if s.finished {
		return
	}
	s.finished = true
	close(s.updates)
	close(s.done)
}
