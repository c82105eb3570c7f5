// Package store provides durable storage for SnapGuard image records and
// their access audit trail.
//
// Every backend implements RecordStore:
//   - Store: SQLite, the whole record set serialized as one JSON array under
//     the store-wide key "snapguard_data" (the single-key layout)
//   - RelationalStore: SQLite via GORM, one row per record and per log entry
//   - MemoryStore: in-process map, for tests and ephemeral runs
//
// # Update discipline
//
// Update and AppendLog are read-modify-write cycles: read a fresh copy, apply
// the mutation, write it back. Each cycle runs as one exclusive unit per
// store (process mutex plus an IMMEDIATE transaction on SQLite) so two
// concurrent appends can never lose each other's entries.
//
// Mutations are checked before they are written:
//   - the record id cannot change
//   - existing log entries cannot be changed or removed (append-only)
//   - viewCount never decreases
//   - isViewed is never true while logs are empty
//
// # Errors
//
// A missing record is not an error: Get and Update report it with a boolean.
// Failures of the persistence medium are *Error with ErrCodeIO so callers can
// tell "link invalid" apart from "storage broken".
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - _txlock=immediate: write lock taken at BEGIN
package store
