// Package ir holds the shared record types for SnapGuard.
//
// This package contains type definitions and their invariants only. All other
// internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Timestamps are epoch milliseconds (int64), never time.Time, so the
//     persisted layout matches the wire format byte for byte
//   - JSON tags use the camelCase wire names (id, dataUrl, createdAt, ...)
//   - AccessLogEntry values are immutable once appended to a record
//   - ImageRecord.IsViewed is a cache of len(Logs) > 0
package ir
