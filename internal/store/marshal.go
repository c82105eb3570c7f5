package store

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/roach88/snapguard/internal/ir"
)

// encodeRecordSet serializes the full record set as a JSON array using the
// wire names. HTML escaping is disabled so data URLs and user agents are
// stored as written.
func encodeRecordSet(records []ir.ImageRecord) ([]byte, error) {
	if records == nil {
		records = []ir.ImageRecord{}
	}
	for i := range records {
		if records[i].Logs == nil {
			records[i].Logs = []ir.AccessLogEntry{}
		}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(records); err != nil {
		return nil, fmt.Errorf("encode record set: %w", err)
	}
	// Encoder adds a trailing newline, remove it
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// decodeRecordSet parses a stored record set. An empty blob is an empty set.
func decodeRecordSet(data []byte) ([]ir.ImageRecord, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return []ir.ImageRecord{}, nil
	}

	var records []ir.ImageRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode record set: %w", err)
	}
	if records == nil {
		records = []ir.ImageRecord{}
	}
	for i := range records {
		if records[i].Logs == nil {
			records[i].Logs = []ir.AccessLogEntry{}
		}
	}
	return records, nil
}

// indexOf returns the position of id in records, or -1.
func indexOf(records []ir.ImageRecord, id string) int {
	for i := range records {
		if records[i].ID == id {
			return i
		}
	}
	return -1
}
