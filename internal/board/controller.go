package board

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/danpilch/tubeboard/internal/catalog"
)

// State is the board controller's selection state.
type State int

const (
	NoSelection State = iota
	LineOnly
	LineAndStation
	FullySelected
)

func (s State) String() string {
	switch s {
	case NoSelection:
		return "no-selection"
	case LineOnly:
		return "line-only"
	case LineAndStation:
		return "line-and-station"
	case FullySelected:
		return "fully-selected"
	default:
		return "unknown"
	}
}

// Selection invariant violations. These reject the mutation and leave the
// current selection untouched.
var (
	ErrNoLine          = errors.New("board: no line selected")
	ErrNoStation       = errors.New("board: no station selected")
	ErrNotOnLine       = errors.New("board: station is not on the selected line")
	ErrUnknownPlatform = errors.New("board: platform not in the current discovery set")
)

// Directory is the slice of the catalog the controller consumes.
type Directory interface {
	Arrivals(ctx context.Context, line *catalog.Line, station *catalog.Station, platform string) ([]catalog.Arrival, error)
	DiscoverPlatforms(ctx context.Context, line *catalog.Line, station *catalog.Station) ([]string, error)
	HasActivePlatform(station *catalog.Station, name string) bool
}

// Subscriber points the push feed at a line/station pair, replacing any
// previous subscription.
type Subscriber interface {
	Subscribe(line *catalog.Line, station *catalog.Station) error
}

// Notifier sends the imminent-train alert.
type Notifier interface {
	SendTrainApproaching(line, station, platform, towards string) error
}

// Controller owns the current selection, drives the poll loop while fully
// selected, and arbitrates between poll results and push deliveries.
//
// There is never more than one live poll loop: every selection change bumps
// a generation counter and stops the pending timer, so a stale continuation
// finds a dead generation and exits without touching the new selection's
// render state.
type Controller struct {
	ctx    context.Context
	dir    Directory
	feed   Subscriber
	alerts Notifier
	logger *logrus.Logger

	mu            sync.Mutex
	line          *catalog.Line
	station       *catalog.Station
	platform      string
	render        RenderState
	lastObserved  time.Time
	gen           int
	timer         *time.Timer
	pollPreempted bool
	onUpdate      func(RenderState)
	alerted       bool
}

// New creates a controller. feed and alerts may be nil. ctx bounds every
// request the poll loop makes.
func New(ctx context.Context, dir Directory, feed Subscriber, alerts Notifier, logger *logrus.Logger) *Controller {
	c := &Controller{
		ctx:    ctx,
		dir:    dir,
		feed:   feed,
		alerts: alerts,
		logger: logger,
	}
	c.render = RenderState{State: NoSelection, Message: promptFor(NoSelection, nil), UpdatedAt: time.Now()}
	return c
}

// OnUpdate registers the render callback. Only the most recent registration
// is invoked.
func (c *Controller) OnUpdate(fn func(RenderState)) {
	c.mu.Lock()
	c.onUpdate = fn
	c.mu.Unlock()
}

// Line returns the selected line, or nil.
func (c *Controller) Line() *catalog.Line {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.line
}

// Station returns the selected station, or nil.
func (c *Controller) Station() *catalog.Station {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.station
}

// Platform returns the selected platform name, or "".
func (c *Controller) Platform() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.platform
}

// State returns the current selection state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

// Render returns a snapshot of the current render state.
func (c *Controller) Render() RenderState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.render
}

// SetLine selects a line. nil clears it. Station and platform are always
// reset: a child selection cannot outlive its parent.
func (c *Controller) SetLine(line *catalog.Line) {
	c.mu.Lock()
	c.line = line
	c.station = nil
	c.platform = ""
	snapshot := c.selectionChangedLocked()
	c.mu.Unlock()
	c.emit(snapshot)
}

// SetStation selects a station on the current line. nil clears it and the
// platform with it. A station outside the line's member set is rejected.
// Selecting a station re-points the push feed at the new pair.
func (c *Controller) SetStation(station *catalog.Station) error {
	c.mu.Lock()
	if station != nil {
		if c.line == nil {
			c.mu.Unlock()
			return ErrNoLine
		}
		if _, ok := c.line.Stations[station.ID]; !ok {
			c.mu.Unlock()
			return ErrNotOnLine
		}
	}
	c.station = station
	c.platform = ""
	line := c.line
	snapshot := c.selectionChangedLocked()
	c.mu.Unlock()

	if station != nil && c.feed != nil {
		if err := c.feed.Subscribe(line, station); err != nil {
			c.logger.WithField("error", err).Warn("push subscription failed, continuing with polling only")
		}
	}
	c.emit(snapshot)
	return nil
}

// SetPlatform selects a platform at the current station. "" clears it.
// Names outside the most recent discovery set are rejected.
func (c *Controller) SetPlatform(name string) error {
	c.mu.Lock()
	if name != "" {
		if c.station == nil {
			c.mu.Unlock()
			return ErrNoStation
		}
		if !c.dir.HasActivePlatform(c.station, name) {
			c.mu.Unlock()
			return ErrUnknownPlatform
		}
	}
	c.platform = name
	snapshot := c.selectionChangedLocked()
	c.mu.Unlock()
	c.emit(snapshot)
	return nil
}

// DiscoverPlatforms runs platform discovery for the current line/station.
func (c *Controller) DiscoverPlatforms(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	line, station := c.line, c.station
	c.mu.Unlock()
	if line == nil || station == nil {
		return nil, ErrNoStation
	}
	return c.dir.DiscoverPlatforms(ctx, line, station)
}

// ApplyPush feeds a push delivery into the board. The batch is filtered to
// the current line, station, and platform and then treated exactly like a
// successful poll result; the pending poll is dropped so the loop cannot
// race the push. The line/station check matters because platform labels
// repeat across stations, and a batch from the previous room can arrive
// after the selection moved on.
func (c *Controller) ApplyPush(arrivals []catalog.Arrival) {
	c.mu.Lock()
	if c.stateLocked() != FullySelected {
		c.mu.Unlock()
		return
	}
	filtered := make([]catalog.Arrival, 0, len(arrivals))
	for _, a := range arrivals {
		if a.Line == nil || a.Line.ID != c.line.ID {
			continue
		}
		if a.Station == nil || a.Station.ID != c.station.ID {
			continue
		}
		if a.Platform == c.platform {
			filtered = append(filtered, a)
		}
	}

	// Push preempts pull: the scheduled poll is cancelled, and an
	// in-flight iteration observes the flag and exits without fetching.
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.pollPreempted = true

	delay, snapshot, ok := c.applyArrivalsLocked(filtered)
	if !ok {
		// Stale push: discard it, but don't leave the board without a
		// driver. Resume polling with a short retry.
		c.pollPreempted = false
		gen := c.gen
		c.timer = time.AfterFunc(delay, func() { c.poll(gen) })
	}
	c.mu.Unlock()
	if ok {
		c.emit(snapshot)
	}
}

func (c *Controller) stateLocked() State {
	switch {
	case c.line == nil:
		return NoSelection
	case c.station == nil:
		return LineOnly
	case c.platform == "":
		return LineAndStation
	default:
		return FullySelected
	}
}

// selectionChangedLocked invalidates any pending poll continuation, resets
// the staleness baseline, and either starts a fresh poll loop or renders
// the selection prompt.
func (c *Controller) selectionChangedLocked() RenderState {
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.pollPreempted = false
	c.lastObserved = time.Time{}
	c.alerted = false

	state := c.stateLocked()
	c.render = RenderState{State: state, Message: promptFor(state, c.line), UpdatedAt: time.Now()}
	c.logger.WithField("state", state.String()).Debug("selection changed")

	if state == FullySelected {
		gen := c.gen
		go c.poll(gen)
	}
	return c.render
}

// poll is one iteration of the poll loop for generation gen.
func (c *Controller) poll(gen int) {
	c.mu.Lock()
	if gen != c.gen || c.pollPreempted {
		c.mu.Unlock()
		return
	}
	line, station, platform := c.line, c.station, c.platform
	c.mu.Unlock()

	arrivals, err := c.dir.Arrivals(c.ctx, line, station, platform)
	if err != nil {
		// Failures never blank the board: keep the last good render
		// state and retry shortly.
		c.logger.WithFields(logrus.Fields{
			"line":    line.ID,
			"station": station.ID,
			"error":   err,
		}).Warn("arrivals fetch failed, retrying shortly")
		c.schedule(gen, retryDelay)
		return
	}

	delay, snapshot, ok := c.applyArrivals(gen, arrivals)
	if ok {
		c.emit(snapshot)
	}
	c.schedule(gen, delay)
}

func (c *Controller) schedule(gen int, delay time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.pollPreempted || delay <= 0 {
		return
	}
	// A stale push can arm a retry timer while this iteration is still in
	// flight. Replacing without stopping would leave two live poll chains.
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(delay, func() { c.poll(gen) })
}

func (c *Controller) applyArrivals(gen int, arrivals []catalog.Arrival) (time.Duration, RenderState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.pollPreempted {
		return 0, RenderState{}, false
	}
	return c.applyArrivalsLocked(arrivals)
}

// applyArrivalsLocked runs the staleness guard and recomputes the render
// state and next delay from a successful result. The returned bool is
// false when the result was discarded as stale.
func (c *Controller) applyArrivalsLocked(arrivals []catalog.Arrival) (time.Duration, RenderState, bool) {
	now := time.Now()

	if len(arrivals) == 0 {
		c.render = RenderState{
			State:     FullySelected,
			Message:   MsgNoTrains,
			NoTrains:  true,
			UpdatedAt: now,
		}
		return fallbackDelay, c.render, true
	}

	// Staleness guard: two fetches can complete out of order. Never let
	// an older observation overwrite a newer one on the board.
	if !c.lastObserved.IsZero() && !arrivals[0].ObservedAt.After(c.lastObserved) {
		c.logger.WithFields(logrus.Fields{
			"observed":  arrivals[0].ObservedAt,
			"displayed": c.lastObserved,
		}).Debug("discarding stale arrivals snapshot")
		return retryDelay, RenderState{}, false
	}
	c.lastObserved = arrivals[0].ObservedAt

	top := arrivals
	if len(top) > topSlots {
		top = top[:topSlots]
	}
	c.render = RenderState{
		State:      FullySelected,
		Arrivals:   append([]catalog.Arrival(nil), top...),
		Imminent:   top[0].TimeToStation < imminentSeconds,
		AtPlatform: top[0].CurrentLocation == atPlatformLocation,
		ObservedAt: arrivals[0].ObservedAt,
		UpdatedAt:  now,
	}
	if c.render.Imminent {
		c.maybeAlertLocked(top[0])
	}
	return nextPollDelay(top), c.render, true
}

// maybeAlertLocked sends at most one imminent-train alert per selection.
func (c *Controller) maybeAlertLocked(next catalog.Arrival) {
	if c.alerts == nil || c.alerted {
		return
	}
	c.alerted = true
	line, station, platform := c.line.Name, c.station.Name, c.platform
	towards := next.Towards
	go func() {
		if err := c.alerts.SendTrainApproaching(line, station, platform, towards); err != nil {
			c.logger.WithField("error", err).Warn("failed to send approaching-train alert")
		}
	}()
}

func (c *Controller) emit(snapshot RenderState) {
	c.mu.Lock()
	fn := c.onUpdate
	c.mu.Unlock()
	if fn != nil {
		fn(snapshot)
	}
}
