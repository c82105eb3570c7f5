package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/snapguard/internal/ir"
)

func TestEncodeRecordSet_NilIsEmptyArray(t *testing.T) {
	data, err := encodeRecordSet(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}

func TestEncodeRecordSet_NoHTMLEscape(t *testing.T) {
	rec := testRecord("x", 1)
	rec.Name = "<b>&</b>.png"
	data, err := encodeRecordSet([]ir.ImageRecord{rec})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"name":"<b>&</b>.png"`)
	assert.NotContains(t, string(data), "\n")
}

func TestDecodeRecordSet(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantLen int
		wantErr bool
	}{
		{"empty blob", "", 0, false},
		{"whitespace", "  \n", 0, false},
		{"null", "null", 0, false},
		{"empty array", "[]", 0, false},
		{"one record without logs", `[{"id":"a","name":"a.png","dataUrl":"","createdAt":1,"viewCount":0,"isViewed":false}]`, 1, false},
		{"corrupt", "{", 0, true},
		{"wrong shape", `{"id":"a"}`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := decodeRecordSet([]byte(tt.input))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, records)
			assert.Len(t, records, tt.wantLen)
			for _, r := range records {
				assert.NotNil(t, r.Logs)
			}
		})
	}
}
