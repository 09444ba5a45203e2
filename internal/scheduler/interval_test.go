package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseIntervalDuration(t *testing.T) {
	cases := map[string]struct {
		want time.Duration
		ok   bool
	}{
		"15m": {15 * time.Minute, true},
		"1h":  {time.Hour, true},
		"4H":  {4 * time.Hour, true},
		"1d":  {24 * time.Hour, true},
		"1w":  {7 * 24 * time.Hour, true},
		"":    {0, false},
		"m":   {0, false},
		"0h":  {0, false},
		"5x":  {0, false},
	}
	for in, tc := range cases {
		got, ok := ParseIntervalDuration(in)
		assert.Equal(t, tc.ok, ok, "input %q", in)
		assert.Equal(t, tc.want, got, "input %q", in)
	}
}
