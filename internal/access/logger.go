// Package access turns a viewer environment into one audit log entry and
// appends it to the record store.
package access

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/snapguard/internal/device"
	"github.com/roach88/snapguard/internal/ipresolve"
	"github.com/roach88/snapguard/internal/ir"
)

// ErrRecordNotFound is returned when the record disappeared between lookup
// and append.
var ErrRecordNotFound = errors.New("record not found")

// LogAppender is the slice of store.RecordStore the logger writes through.
type LogAppender interface {
	AppendLog(ctx context.Context, id string, entry ir.AccessLogEntry) (bool, error)
}

// Logger records access attempts.
//
// Thread-safety: Logger is immutable after construction and safe for
// concurrent use.
type Logger struct {
	records  LogAppender
	resolver ipresolve.Resolver
	ids      IDGenerator
	now      func() time.Time
}

// Option configures a Logger.
type Option func(*Logger)

// WithIDGenerator sets the generator for log entry ids.
// Default: UUIDv7Generator.
func WithIDGenerator(ids IDGenerator) Option {
	return func(l *Logger) {
		l.ids = ids
	}
}

// WithNow sets the time source for entry timestamps.
// Default: time.Now.
func WithNow(now func() time.Time) Option {
	return func(l *Logger) {
		l.now = now
	}
}

// NewLogger creates a Logger appending to records and resolving addresses
// with resolver. A nil resolver always yields the unresolved sentinel.
func NewLogger(records LogAppender, resolver ipresolve.Resolver, opts ...Option) *Logger {
	if resolver == nil {
		resolver = ipresolve.Static("")
	}
	l := &Logger{
		records:  records,
		resolver: resolver,
		ids:      UUIDv7Generator{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Using returns a copy of l that resolves addresses with resolver.
// The HTTP boundary uses it to bind a logger to one viewer request.
func (l *Logger) Using(resolver ipresolve.Resolver) *Logger {
	c := *l
	if resolver != nil {
		c.resolver = resolver
	}
	return &c
}

// LogAccess resolves the viewer address, classifies the device and appends
// one entry to the record identified by imageID.
//
// Address lookup never fails; the sentinel is stored instead. Store failures
// are returned wrapped and keep their store error code.
func (l *Logger) LogAccess(ctx context.Context, imageID string, env ir.Environment) (ir.AccessLogEntry, error) {
	ip := l.resolver.Resolve(ctx)

	if err := ctx.Err(); err != nil {
		return ir.AccessLogEntry{}, fmt.Errorf("log access %s: %w", imageID, err)
	}

	entry := ir.AccessLogEntry{
		ID:        l.ids.Generate(),
		Timestamp: l.now().UnixMilli(),
		IP:        ip,
		Device:    device.Classify(env.UserAgent),
		UserAgent: env.UserAgent,
		Platform:  env.Platform,
	}

	ok, err := l.records.AppendLog(ctx, imageID, entry)
	if err != nil {
		return ir.AccessLogEntry{}, fmt.Errorf("log access %s: %w", imageID, err)
	}
	if !ok {
		return ir.AccessLogEntry{}, fmt.Errorf("log access %s: %w", imageID, ErrRecordNotFound)
	}

	slog.Debug("access logged",
		"image_id", imageID,
		"entry_id", entry.ID,
		"device", entry.Device,
		"ip", entry.IP,
	)
	return entry, nil
}
