package sync

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRange(t *testing.T) {
	const size = int64(1000)

	tests := []struct {
		name        string
		header      string
		wantStart   int64
		wantEnd     int64
		wantStatus  int
		expectError bool
	}{
		{"no range", "", 0, 999, http.StatusOK, false},
		{"full explicit range", "bytes=0-999", 0, 999, http.StatusPartialContent, false},
		{"open-ended range", "bytes=500-", 500, 999, http.StatusPartialContent, false},
		{"bounded range", "bytes=100-199", 100, 199, http.StatusPartialContent, false},
		{"suffix range", "bytes=-100", 900, 999, http.StatusPartialContent, false},
		{"suffix longer than size", "bytes=-5000", 0, 999, http.StatusPartialContent, false},
		{"end past EOF is unsatisfiable", "bytes=900-5000", 0, 0, 0, true},
		{"malformed, no dash", "bytes=abc", 0, 0, 0, true},
		{"malformed suffix", "bytes=-abc", 0, 0, 0, true},
		{"start beyond size", "bytes=1000-1001", 0, 0, 0, true},
		{"end before start", "bytes=500-100", 0, 0, 0, true},
		{"negative suffix", "bytes=-0", 0, 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end, status, err := parseRange(tt.header, size)
			if tt.expectError {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStart, start)
			assert.Equal(t, tt.wantEnd, end)
			assert.Equal(t, tt.wantStatus, status)
		})
	}
}
