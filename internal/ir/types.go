package ir

import (
	"errors"
	"fmt"
)

// DeviceType is the coarse device category recorded for each access.
type DeviceType string

const (
	DeviceMobile  DeviceType = "MOBILE"
	DeviceDesktop DeviceType = "DESKTOP"
	DeviceTablet  DeviceType = "TABLET"

	// DeviceUnknown exists for wire compatibility. The classifier never
	// produces it; unmatched user agents are DESKTOP.
	DeviceUnknown DeviceType = "UNKNOWN"
)

// ValidDeviceTypes lists every device literal accepted on the wire.
var ValidDeviceTypes = map[DeviceType]bool{
	DeviceMobile:  true,
	DeviceDesktop: true,
	DeviceTablet:  true,
	DeviceUnknown: true,
}

// UnresolvedIP is stored in place of an address when lookup fails.
const UnresolvedIP = "Hidden/Protected"

// Environment is the raw viewer environment supplied by the boundary.
// Both strings are stored verbatim.
type Environment struct {
	UserAgent string `json:"userAgent" yaml:"user_agent"`
	Platform  string `json:"platform" yaml:"platform"`
}

// AccessLogEntry is one access attempt against a record.
type AccessLogEntry struct {
	ID        string     `json:"id"`
	Timestamp int64      `json:"timestamp"` // epoch milliseconds
	IP        string     `json:"ip"`
	Device    DeviceType `json:"device"`
	UserAgent string     `json:"userAgent"`
	Platform  string     `json:"platform"`
}

// ImageRecord is a shared image plus its audit trail.
type ImageRecord struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	DataURL   string           `json:"dataUrl"`
	CreatedAt int64            `json:"createdAt"` // epoch milliseconds
	ViewCount int              `json:"viewCount"`
	IsViewed  bool             `json:"isViewed"`
	ExpiresAt *int64           `json:"expiresAt,omitempty"`
	Logs      []AccessLogEntry `json:"logs"`
}

// NewImageRecord returns a fresh, never-viewed record.
func NewImageRecord(id, name, dataURL string, createdAt int64) ImageRecord {
	return ImageRecord{
		ID:        id,
		Name:      name,
		DataURL:   dataURL,
		CreatedAt: createdAt,
		Logs:      []AccessLogEntry{},
	}
}

// Clone returns a deep copy. Stores hand out clones so callers can never
// mutate persisted state by accident.
func (r ImageRecord) Clone() ImageRecord {
	out := r
	out.Logs = make([]AccessLogEntry, len(r.Logs))
	copy(out.Logs, r.Logs)
	if r.ExpiresAt != nil {
		v := *r.ExpiresAt
		out.ExpiresAt = &v
	}
	return out
}

// AppendAccess records one access attempt: the entry is appended, the view
// counter incremented and the record marked viewed.
//
// Not idempotent. Every call is a distinct access.
func (r *ImageRecord) AppendAccess(entry AccessLogEntry) {
	r.Logs = append(r.Logs, entry)
	r.ViewCount++
	r.IsViewed = true
}

// Validate checks the record invariants.
func (r ImageRecord) Validate() error {
	if r.ID == "" {
		return errors.New("record id is required")
	}
	if r.ViewCount < 0 {
		return fmt.Errorf("record %s: negative view count %d", r.ID, r.ViewCount)
	}
	if r.ViewCount != len(r.Logs) {
		return fmt.Errorf("record %s: view count %d does not match %d log entries", r.ID, r.ViewCount, len(r.Logs))
	}
	if r.IsViewed && len(r.Logs) == 0 {
		return fmt.Errorf("record %s: marked viewed with empty log", r.ID)
	}
	if !r.IsViewed && len(r.Logs) > 0 {
		return fmt.Errorf("record %s: unviewed with %d log entries", r.ID, len(r.Logs))
	}
	seen := make(map[string]bool, len(r.Logs))
	for i, entry := range r.Logs {
		if !ValidDeviceTypes[entry.Device] {
			return fmt.Errorf("record %s: log[%d]: invalid device %q", r.ID, i, entry.Device)
		}
		if seen[entry.ID] {
			return fmt.Errorf("record %s: log[%d]: duplicate entry id %q", r.ID, i, entry.ID)
		}
		seen[entry.ID] = true
	}
	return nil
}

// RecordEventType distinguishes store notifications.
type RecordEventType string

const (
	RecordCreated RecordEventType = "created"
	RecordUpdated RecordEventType = "updated"
)

// RecordEvent notifies subscribers that a record changed. It carries the
// counters only; the payload never travels on the notification path.
type RecordEvent struct {
	Type      RecordEventType `json:"type"`
	ID        string          `json:"id"`
	ViewCount int             `json:"viewCount"`
	IsViewed  bool            `json:"isViewed"`
}

// EventFor builds the notification for a record.
func EventFor(t RecordEventType, r ImageRecord) RecordEvent {
	return RecordEvent{Type: t, ID: r.ID, ViewCount: r.ViewCount, IsViewed: r.IsViewed}
}
