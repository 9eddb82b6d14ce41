package board

import (
	"fmt"
	"time"

	"github.com/danpilch/tubeboard/internal/catalog"
)

const (
	topSlots        = 3
	imminentSeconds = 10

	// atPlatformLocation is the upstream free-text location for a train
	// that has reached the platform.
	atPlatformLocation = "At Platform"

	minDelaySeconds      = 5
	maxDelaySeconds      = 30
	nearTermDelaySeconds = 10

	retryDelay    = 5 * time.Second
	fallbackDelay = 30 * time.Second
)

// Board messages.
const (
	MsgNoTrains       = "No trains arriving"
	MsgImminentBanner = "*** STAND BACK - TRAIN APPROACHING ***"
)

// RenderState is everything needed to draw the board. Derived, never
// persisted: Arrivals holds at most the top three soonest arrivals for the
// current selection, soonest first.
type RenderState struct {
	State      State
	Message    string
	Arrivals   []catalog.Arrival
	NoTrains   bool
	Imminent   bool
	AtPlatform bool
	ObservedAt time.Time
	UpdatedAt  time.Time
}

func promptFor(state State, line *catalog.Line) string {
	switch state {
	case NoSelection:
		return "Select a line and station..."
	case LineOnly:
		return fmt.Sprintf("Select a station on the %s line...", line.Name)
	case LineAndStation:
		return "Select a platform..."
	default:
		return "Loading..."
	}
}

// nextPollDelay biases polling to land just after a train's predicted
// arrival. Each of the top three slots contributes seconds-to-station
// modulo 30, substituting 30 for a missing slot or a zero remainder (a slot
// exactly on a 30s boundary coalesces the same as no slot). The minimum is
// clamped below to 5, and any result under 30 is forced to 10 so
// fast-changing near-term arrivals are tracked more tightly. Integer
// seconds make the non-finite fallback of the delay rule unreachable; the
// empty-list path uses fallbackDelay instead.
func nextPollDelay(top []catalog.Arrival) time.Duration {
	raw := maxDelaySeconds
	for i := 0; i < topSlots; i++ {
		slot := maxDelaySeconds
		if i < len(top) {
			if r := top[i].TimeToStation % maxDelaySeconds; r > 0 {
				slot = r
			}
		}
		if slot < raw {
			raw = slot
		}
	}
	if raw < minDelaySeconds {
		raw = minDelaySeconds
	}
	if raw < maxDelaySeconds {
		raw = nearTermDelaySeconds
	}
	return time.Duration(raw) * time.Second
}
