package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIntervalDuration(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"30s", 30 * time.Second},
		{"3m", 3 * time.Minute},
		{"15m", 15 * time.Minute},
		{"1h", time.Hour},
		{"4h", 4 * time.Hour},
		{"1d", 24 * time.Hour},
		{"1w", 7 * 24 * time.Hour},
		{" 1H ", time.Hour},
	}
	for _, tc := range cases {
		got, err := ParseIntervalDuration(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestParseIntervalDurationInvalid(t *testing.T) {
	for _, in := range []string{"", "m", "0m", "-5m", "5x", "abc", "1.5h"} {
		_, err := ParseIntervalDuration(in)
		assert.Error(t, err, in)
	}
}
