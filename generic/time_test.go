package generic

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimePoint(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
		gran Granularity
	}{
		{"2025-03-10", time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), GranularityDay},
		{"2025-03-10T14:30", time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC), GranularityMinute},
		{"2025-03-10T14:30:05+05:30", time.Date(2025, 3, 10, 9, 0, 5, 0, time.UTC), GranularityInstant},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			tp, err := ParseTimePoint(tt.in)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(tp.Time))
			assert.Equal(t, tt.gran, tp.Granularity)
		})
	}

	empty, err := ParseTimePoint("  ")
	require.NoError(t, err)
	assert.True(t, empty.IsZero())

	_, err = ParseTimePoint("10/03/2025")
	assert.Error(t, err)
}

func TestExpiry(t *testing.T) {
	assert.True(t, ValidExpiry(""))
	assert.True(t, ValidExpiry("2027-03"))
	assert.False(t, ValidExpiry("03/27"))
	assert.False(t, ValidExpiry("2027-13"))

	// an expiry month stays sellable until its last day
	assert.False(t, Expired("2027-03", time.Date(2027, 3, 31, 23, 0, 0, 0, time.UTC)))
	assert.True(t, Expired("2027-03", time.Date(2027, 4, 1, 0, 0, 0, 0, time.UTC)))
	assert.False(t, Expired("", time.Now()))
}
