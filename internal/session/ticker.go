package session

import "time"

// Ticker delivers countdown ticks. *time.Ticker is wrapped by NewWallTicker;
// tests drive sessions with a manual implementation.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFactory creates a Ticker firing every d.
type TickerFactory func(d time.Duration) Ticker

type wallTicker struct {
	t *time.Ticker
}

// NewWallTicker returns a Ticker backed by time.NewTicker.
func NewWallTicker(d time.Duration) Ticker {
	return wallTicker{t: time.NewTicker(d)}
}

func (w wallTicker) C() <-chan time.Time { return w.t.C }

func (w wallTicker) Stop() { w.t.Stop() }
