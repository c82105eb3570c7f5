package store

import (
	"context"
	"fmt"

	"github.com/roach88/snapguard/internal/ir"
)

// RecordStore is the persistence contract shared by every backend.
//
// All methods are safe for concurrent use. Returned records are copies;
// mutating them never affects stored state.
type RecordStore interface {
	// ListAll returns every stored record. An empty store yields an empty,
	// non-nil slice.
	ListAll(ctx context.Context) ([]ir.ImageRecord, error)

	// Get returns the record for id. A missing record is (zero, false, nil).
	Get(ctx context.Context, id string) (ir.ImageRecord, bool, error)

	// Create stores a new record. Fails with ErrCodeDuplicate when the id is
	// already present.
	Create(ctx context.Context, rec ir.ImageRecord) error

	// Update applies mutate to a fresh copy of the record and writes it back
	// as one exclusive unit. Reports false (and does nothing) when the record
	// is absent.
	Update(ctx context.Context, id string, mutate func(*ir.ImageRecord)) (bool, error)

	// AppendLog appends entry, increments viewCount and sets isViewed.
	// Not idempotent: each call is a distinct access attempt.
	AppendLog(ctx context.Context, id string, entry ir.AccessLogEntry) (bool, error)

	// Subscribe registers for change notifications. The returned function
	// unsubscribes and closes the channel. Events are dropped for a
	// subscriber whose buffer is full.
	Subscribe(buffer int) (<-chan ir.RecordEvent, func())

	// Close releases the backend. Subscriber channels are closed.
	Close() error
}

// Backend names a RecordStore implementation.
type Backend string

const (
	BackendBlob       Backend = "blob"
	BackendRelational Backend = "relational"
	BackendMemory     Backend = "memory"
)

// ValidBackends lists the accepted backend names.
var ValidBackends = []Backend{BackendBlob, BackendRelational, BackendMemory}

// OpenBackend opens the named backend at path. path is ignored for memory.
func OpenBackend(backend Backend, path string) (RecordStore, error) {
	switch backend {
	case BackendBlob, "":
		return Open(path)
	case BackendRelational:
		return OpenRelational(path)
	case BackendMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q: must be one of %v", backend, ValidBackends)
	}
}

// appendMutation is the mutation AppendLog applies through Update.
func appendMutation(entry ir.AccessLogEntry) func(*ir.ImageRecord) {
	return func(rec *ir.ImageRecord) {
		rec.AppendAccess(entry)
	}
}

// applyMutation runs mutate on a copy of before and checks that the result
// is a legal successor. The returned record is safe to persist.
func applyMutation(before ir.ImageRecord, mutate func(*ir.ImageRecord)) (ir.ImageRecord, error) {
	after := before.Clone()
	mutate(&after)

	if after.ID != before.ID {
		return ir.ImageRecord{}, fmt.Errorf("record id changed from %q to %q", before.ID, after.ID)
	}
	if after.CreatedAt != before.CreatedAt {
		return ir.ImageRecord{}, fmt.Errorf("created_at changed from %d to %d", before.CreatedAt, after.CreatedAt)
	}
	if len(after.Logs) < len(before.Logs) {
		return ir.ImageRecord{}, fmt.Errorf("log entries removed (%d -> %d)", len(before.Logs), len(after.Logs))
	}
	for i := range before.Logs {
		if after.Logs[i] != before.Logs[i] {
			return ir.ImageRecord{}, fmt.Errorf("log entry %d (%s) modified", i, before.Logs[i].ID)
		}
	}
	if after.ViewCount < before.ViewCount {
		return ir.ImageRecord{}, fmt.Errorf("view count decreased (%d -> %d)", before.ViewCount, after.ViewCount)
	}
	if before.IsViewed && !after.IsViewed {
		return ir.ImageRecord{}, fmt.Errorf("viewed flag cleared")
	}
	if err := after.Validate(); err != nil {
		return ir.ImageRecord{}, err
	}
	if after.Logs == nil {
		after.Logs = []ir.AccessLogEntry{}
	}
	return after, nil
}

// prepareCreate validates a record handed to Create and normalizes nil logs.
func prepareCreate(rec ir.ImageRecord) (ir.ImageRecord, error) {
	out := rec.Clone()
	if err := out.Validate(); err != nil {
		return ir.ImageRecord{}, invalidError("create", rec.ID, err)
	}
	return out, nil
}
