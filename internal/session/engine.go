package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/snapguard/internal/access"
	"github.com/roach88/snapguard/internal/ir"
)

// DefaultCountdown is the number of ticks an active session survives.
const DefaultCountdown = 10

// DefaultTickInterval is the wall-clock length of one tick.
const DefaultTickInterval = time.Second

// RecordReader is the slice of store.RecordStore the engine reads through.
type RecordReader interface {
	Get(ctx context.Context, id string) (ir.ImageRecord, bool, error)
}

// AccessLogger records one access attempt. Implemented by *access.Logger.
type AccessLogger interface {
	LogAccess(ctx context.Context, imageID string, env ir.Environment) (ir.AccessLogEntry, error)
}

// Engine activates view sessions.
//
// Thread-safety: Engine is immutable after construction; Activate may be
// called from any goroutine.
type Engine struct {
	records   RecordReader
	logger    AccessLogger
	countdown int
	interval  time.Duration
	viewOnce  bool
	newTicker TickerFactory
}

// Option configures an Engine.
type Option func(*Engine)

// WithCountdown sets the tick budget of an active session.
//
// Default: 10 ticks (DefaultCountdown). Values below 1 are ignored.
func WithCountdown(ticks int) Option {
	return func(e *Engine) {
		if ticks > 0 {
			e.countdown = ticks
		}
	}
}

// WithTickInterval sets the wall-clock tick length used by Run.
//
// Default: one second (DefaultTickInterval).
func WithTickInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.interval = d
		}
	}
}

// WithViewOnce refuses activation of a record that was already viewed.
// The refused session is NOT_FOUND and no access is logged.
//
// Default: false, every activation is allowed and logged.
func WithViewOnce(enabled bool) Option {
	return func(e *Engine) {
		e.viewOnce = enabled
	}
}

// WithTicker sets the factory Run uses to arm the countdown.
//
// Default: NewWallTicker.
func WithTicker(factory TickerFactory) Option {
	return func(e *Engine) {
		if factory != nil {
			e.newTicker = factory
		}
	}
}

// New creates an Engine reading records from records and logging accesses
// through logger.
func New(records RecordReader, logger AccessLogger, opts ...Option) *Engine {
	e := &Engine{
		records:   records,
		logger:    logger,
		countdown: DefaultCountdown,
		interval:  DefaultTickInterval,
		newTicker: NewWallTicker,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Activate runs the INITIALIZING step for the record id.
//
// An absent record (or, under WithViewOnce, an already viewed one) yields a
// NOT_FOUND session and a nil error. A present record gets exactly one access
// log entry, then the session is ACTIVE and FOCUSED with the full countdown.
// Store failures and context cancellation are returned as errors and leave
// no session behind.
func (e *Engine) Activate(ctx context.Context, id string, env ir.Environment) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("activate %s: %w", id, err)
	}

	s := newSession(id, e.interval, e.newTicker)

	rec, found, err := e.records.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("activate %s: %w", id, err)
	}
	if !found {
		slog.Info("session not found", "image_id", id)
		s.finishNotFound()
		return s, nil
	}
	if e.viewOnce && rec.IsViewed {
		slog.Info("session refused: already viewed", "image_id", id, "view_count", rec.ViewCount)
		s.finishNotFound()
		return s, nil
	}

	entry, err := e.logger.LogAccess(ctx, id, env)
	if errors.Is(err, access.ErrRecordNotFound) {
		slog.Info("session not found: record vanished before logging", "image_id", id)
		s.finishNotFound()
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("activate %s: %w", id, err)
	}

	s.activate(rec, entry, e.countdown)
	slog.Info("session active",
		"image_id", id,
		"entry_id", entry.ID,
		"device", entry.Device,
		"countdown", e.countdown,
	)
	return s, nil
}
