package access

import (
	"encoding/binary"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// IDGenerator produces unique identifiers.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 log entry ids.
//
// UUIDv7 embeds a timestamp in the most significant bits, so entry ids sort
// by creation time.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
//
// Panics if UUID generation fails (should never happen in practice).
func (g UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// ShortIDLength is the length of record ids handed out in share links.
const ShortIDLength = 9

// ShortIDGenerator generates short lowercase base36 record ids suitable for
// share links, drawn from the random half of a UUIDv4.
type ShortIDGenerator struct{}

// Generate returns a ShortIDLength-character base36 token.
func (g ShortIDGenerator) Generate() string {
	u := uuid.New()
	s := strconv.FormatUint(binary.BigEndian.Uint64(u[8:]), 36)
	if len(s) < ShortIDLength {
		s = strings.Repeat("0", ShortIDLength-len(s)) + s
	}
	return s[len(s)-ShortIDLength:]
}

// FixedGenerator returns predetermined ids for testing.
//
// Thread-safety: FixedGenerator is safe for concurrent use via internal mutex.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedGenerator creates a generator that returns ids in order.
//
// Example:
//
//	gen := NewFixedGenerator("log-1", "log-2")
//	gen.Generate() // "log-1"
//	gen.Generate() // "log-2"
//	gen.Generate() // panic: all ids exhausted
func NewFixedGenerator(ids ...string) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

// Generate returns the next predetermined id.
//
// Panics if all ids have been consumed, which catches a test that logs more
// accesses than it expected.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.ids) {
		panic("FixedGenerator: all ids exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}
