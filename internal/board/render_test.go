package board

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/danpilch/tubeboard/internal/catalog"
)

func arrivalsWithTTS(tts ...int) []catalog.Arrival {
	out := make([]catalog.Arrival, 0, len(tts))
	for _, s := range tts {
		out = append(out, catalog.Arrival{TimeToStation: s})
	}
	return out
}

func TestNextPollDelay(t *testing.T) {
	tests := []struct {
		name string
		tts  []int
		want time.Duration
	}{
		// 45%30=15 is under 30, so the near-term rule forces 10.
		{"near-term arrival", []int{45, 600}, 10 * time.Second},
		// Remainder 0 coalesces to 30, same as a missing slot.
		{"exact multiples only", []int{60, 90, 120}, 30 * time.Second},
		{"single distant arrival", []int{600}, 30 * time.Second},
		// Raw value below the 5s floor clamps, then forces to 10.
		{"raw below minimum", []int{31}, 10 * time.Second},
		{"due now", []int{0}, 30 * time.Second},
		{"imminent", []int{7}, 10 * time.Second},
		{"more than three slots uses top three", []int{60, 90, 120, 44}, 30 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, nextPollDelay(arrivalsWithTTS(tt.tts...)))
		})
	}
}

func TestNextPollDelayBounds(t *testing.T) {
	for tts := 0; tts <= 120; tts++ {
		got := nextPollDelay(arrivalsWithTTS(tts))
		assert.GreaterOrEqual(t, got, 5*time.Second, "tts=%d", tts)
		assert.LessOrEqual(t, got, 30*time.Second, "tts=%d", tts)
		// The near-term rule leaves only two reachable values.
		assert.Contains(t, []time.Duration{10 * time.Second, 30 * time.Second}, got, "tts=%d", tts)
	}
}

func TestPromptFor(t *testing.T) {
	line := &catalog.Line{ID: "central", Name: "Central"}
	assert.Equal(t, "Select a line and station...", promptFor(NoSelection, nil))
	assert.Equal(t, "Select a station on the Central line...", promptFor(LineOnly, line))
	assert.Equal(t, "Select a platform...", promptFor(LineAndStation, line))
	assert.Equal(t, "Loading...", promptFor(FullySelected, line))
}
