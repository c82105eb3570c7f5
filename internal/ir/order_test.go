package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatus(t *testing.T) {
	rec := NewImageRecord("a", "a.png", "", 1)
	assert.Equal(t, StatusUnopened, rec.Status())

	rec.AppendAccess(AccessLogEntry{ID: "e", Device: DeviceDesktop})
	assert.Equal(t, StatusViewed, rec.Status())
}

func TestNewestFirst(t *testing.T) {
	records := []ImageRecord{
		NewImageRecord("old", "", "", 10),
		NewImageRecord("new", "", "", 30),
		NewImageRecord("mid-a", "", "", 20),
		NewImageRecord("mid-b", "", "", 20),
	}

	sorted := NewestFirst(records)

	var ids []string
	for _, r := range sorted {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"new", "mid-a", "mid-b", "old"}, ids)
	assert.Equal(t, "old", records[0].ID, "input must not be reordered")
}

func TestLogsNewestFirst(t *testing.T) {
	logs := []AccessLogEntry{{ID: "1", Timestamp: 100}, {ID: "2", Timestamp: 300}, {ID: "3", Timestamp: 200}}

	sorted := LogsNewestFirst(logs)
	assert.Equal(t, "2", sorted[0].ID)
	assert.Equal(t, "3", sorted[1].ID)
	assert.Equal(t, "1", sorted[2].ID)
	assert.Equal(t, "1", logs[0].ID)

	assert.NotNil(t, LogsNewestFirst(nil))
}
