package transfer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseContentRange(t *testing.T) {
	tests := []struct {
		header    string
		wantStart int64
		wantEnd   int64
		wantTotal int64
		wantErr   bool
	}{
		{"bytes 0-99/100", 0, 99, 100, false},
		{"bytes 40-99/100", 40, 99, 100, false},
		{"bytes 40-99/*", 40, 99, -1, false},
		{"bytes */100", -1, -1, 100, false},
		{"bytes */*", 0, 0, 0, true},
		{"bytes 99-40/100", 0, 0, 0, true},
		{"40-99/100", 0, 0, 0, true},
		{"bytes 40/100", 0, 0, 0, true},
		{"bytes a-99/100", 0, 0, 0, true},
		{"", 0, 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			start, end, total, err := ParseContentRange(tt.header)
			if tt.wantErr {
				assert.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantStart, start)
			assert.Equal(t, tt.wantEnd, end)
			assert.Equal(t, tt.wantTotal, total)
		})
	}
}
