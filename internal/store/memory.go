package store

import (
	"context"
	"sync"

	"github.com/roach88/snapguard/internal/ir"
)

// MemoryStore keeps records in process memory behind a mutex.
// Nothing survives Close.
type MemoryStore struct {
	*broadcaster

	mu      sync.Mutex
	records []ir.ImageRecord
	closed  bool
}

var _ RecordStore = (*MemoryStore)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{broadcaster: newBroadcaster(), records: []ir.ImageRecord{}}
}

// ListAll returns copies of every record in insertion order.
func (m *MemoryStore) ListAll(ctx context.Context) ([]ir.ImageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(ctx, "list", ""); err != nil {
		return nil, err
	}
	out := make([]ir.ImageRecord, len(m.records))
	for i, rec := range m.records {
		out[i] = rec.Clone()
	}
	return out, nil
}

// Get returns a copy of the record for id.
func (m *MemoryStore) Get(ctx context.Context, id string) (ir.ImageRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(ctx, "get", id); err != nil {
		return ir.ImageRecord{}, false, err
	}
	idx := indexOf(m.records, id)
	if idx < 0 {
		return ir.ImageRecord{}, false, nil
	}
	return m.records[idx].Clone(), true, nil
}

// Create adds a record.
func (m *MemoryStore) Create(ctx context.Context, rec ir.ImageRecord) error {
	rec, err := prepareCreate(rec)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(ctx, "create", rec.ID); err != nil {
		return err
	}
	if indexOf(m.records, rec.ID) >= 0 {
		return duplicateError(rec.ID)
	}
	m.records = append(m.records, rec)
	m.publish(ir.EventFor(ir.RecordCreated, rec))
	return nil
}

// Update applies mutate under the store lock.
func (m *MemoryStore) Update(ctx context.Context, id string, mutate func(*ir.ImageRecord)) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(ctx, "update", id); err != nil {
		return false, err
	}
	idx := indexOf(m.records, id)
	if idx < 0 {
		return false, nil
	}
	next, err := applyMutation(m.records[idx], mutate)
	if err != nil {
		return false, invalidError("update", id, err)
	}
	m.records[idx] = next
	m.publish(ir.EventFor(ir.RecordUpdated, next))
	return true, nil
}

// AppendLog appends an access entry to the record.
func (m *MemoryStore) AppendLog(ctx context.Context, id string, entry ir.AccessLogEntry) (bool, error) {
	return m.Update(ctx, id, appendMutation(entry))
}

// Close discards all records.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.records = nil
	m.mu.Unlock()

	m.closeAll()
	return nil
}

// check fails operations on a closed store or a cancelled context.
// Caller must hold m.mu.
func (m *MemoryStore) check(ctx context.Context, op, id string) error {
	if m.closed {
		return ioError(op, id, errStoreClosed)
	}
	if err := ctx.Err(); err != nil {
		return ioError(op, id, err)
	}
	return nil
}
