package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content digests.
// Version suffix enables future algorithm migration.
const (
	DomainRecord = "snapguard/record/v1"
	DomainTrace  = "snapguard/trace/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte (0x00) separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// CanonicalMap returns r in the shape accepted by MarshalCanonical, using
// the persistence wire names.
func (r ImageRecord) CanonicalMap() map[string]any {
	logs := make([]map[string]any, len(r.Logs))
	for i, e := range r.Logs {
		logs[i] = e.CanonicalMap()
	}
	m := map[string]any{
		"id":        r.ID,
		"name":      r.Name,
		"dataUrl":   r.DataURL,
		"createdAt": r.CreatedAt,
		"viewCount": r.ViewCount,
		"isViewed":  r.IsViewed,
		"logs":      logs,
	}
	if r.ExpiresAt != nil {
		m["expiresAt"] = *r.ExpiresAt
	}
	return m
}

// CanonicalMap returns e in the shape accepted by MarshalCanonical.
func (e AccessLogEntry) CanonicalMap() map[string]any {
	return map[string]any{
		"id":        e.ID,
		"timestamp": e.Timestamp,
		"ip":        e.IP,
		"device":    e.Device,
		"userAgent": e.UserAgent,
		"platform":  e.Platform,
	}
}

// RecordDigest computes a content digest of r. Any change to the record,
// including a new log entry, changes the digest. Used as an HTTP ETag.
func RecordDigest(r ImageRecord) (string, error) {
	canonical, err := MarshalCanonical(r.CanonicalMap())
	if err != nil {
		return "", fmt.Errorf("RecordDigest: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainRecord, canonical), nil
}

// TraceDigest computes a digest over canonical trace bytes.
func TraceDigest(canonical []byte) string {
	return hashWithDomain(DomainTrace, canonical)
}
