package store

import (
	"log/slog"
	"sync"

	"github.com/roach88/snapguard/internal/ir"
)

// DefaultSubscriberBuffer is used when Subscribe is called with buffer <= 0.
const DefaultSubscriberBuffer = 16

// broadcaster fans record events out to subscribers.
//
// publish never blocks: a subscriber whose buffer is full misses the event.
// Dashboard consumers treat events as refresh hints and re-read the store.
type broadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan ir.RecordEvent
	nextID int
	closed bool
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[int]chan ir.RecordEvent)}
}

// Subscribe registers a new subscriber.
func (b *broadcaster) Subscribe(buffer int) (<-chan ir.RecordEvent, func()) {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	ch := make(chan ir.RecordEvent, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
}

func (b *broadcaster) publish(ev ir.RecordEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			slog.Warn("dropping record event for slow subscriber",
				"subscriber", id,
				"record_id", ev.ID,
				"event", ev.Type,
			)
		}
	}
}

// closeAll closes every subscriber channel. Later Subscribe calls get a
// closed channel.
func (b *broadcaster) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
