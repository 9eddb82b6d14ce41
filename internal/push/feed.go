// Package push subscribes to the TfL prediction push channel and forwards
// normalized arrival batches to a single registered callback.
package push

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/danpilch/tubeboard/internal/catalog"
)

// ErrNotConnected reports a room operation before Connect.
var ErrNotConnected = errors.New("push: feed not connected")

// room identifies one line/station subscription.
type room struct {
	LineID   string `json:"LineId"`
	NaptanID string `json:"NaptanId"`
}

// roomRequest is an outbound subscription change.
type roomRequest struct {
	Action string `json:"action"`
	Rooms  []room `json:"rooms"`
}

// prediction is the push-channel wire shape. It carries the same semantics
// as the REST prediction but with capitalized field names.
type prediction struct {
	ID                string    `json:"Id"`
	Vehicle           string    `json:"Vehicle"`
	LineID            string    `json:"LineId"`
	NaptanID          string    `json:"NaptanId"`
	PlatformName      string    `json:"PlatformName"`
	CurrentLocation   string    `json:"CurrentLocation"`
	DestinationNaptan string    `json:"DestinationNaptanId"`
	Towards           string    `json:"Towards"`
	TimeToStation     int       `json:"TimeToStation"`
	ExpectedArrival   time.Time `json:"ExpectedArrival"`
	Timing            timing    `json:"Timing"`
}

type timing struct {
	Read time.Time `json:"Read"`
}

// Feed maintains at most one active room subscription over a websocket and
// delivers normalized arrival batches to the most recently registered
// callback. Connection failures are not retried here; reconnection policy
// belongs to the caller.
type Feed struct {
	url    string
	cat    *catalog.Catalog
	logger *logrus.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	active   *room
	callback func([]catalog.Arrival)
}

// New creates an unconnected feed for the given websocket URL.
func New(url string, cat *catalog.Catalog, logger *logrus.Logger) *Feed {
	return &Feed{
		url:    url,
		cat:    cat,
		logger: logger,
	}
}

// Connect dials the push endpoint and starts the read loop.
func (f *Feed) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("push: dialing %s: %w", f.url, err)
	}
	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()
	go f.readLoop(conn)
	f.logger.WithField("url", f.url).Info("push feed connected")
	return nil
}

// Close tears down the connection. The read loop exits on its own.
func (f *Feed) Close() error {
	f.mu.Lock()
	conn := f.conn
	f.conn = nil
	f.active = nil
	f.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// SetCallback registers the delivery callback. Only the most recent
// registration is invoked; the previous one is silently discarded.
func (f *Feed) SetCallback(fn func([]catalog.Arrival)) {
	f.mu.Lock()
	f.callback = fn
	f.mu.Unlock()
}

// Subscribe switches the feed to a new line/station pair. Any prior room is
// unsubscribed first: switching always replaces, never layers.
func (f *Feed) Subscribe(line *catalog.Line, station *catalog.Station) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn == nil {
		return ErrNotConnected
	}

	if f.active != nil {
		if err := f.conn.WriteJSON(roomRequest{Action: "removeRooms", Rooms: []room{*f.active}}); err != nil {
			return fmt.Errorf("push: leaving room: %w", err)
		}
		f.active = nil
	}

	next := room{LineID: line.ID, NaptanID: station.ID}
	if err := f.conn.WriteJSON(roomRequest{Action: "addRooms", Rooms: []room{next}}); err != nil {
		return fmt.Errorf("push: joining room: %w", err)
	}
	f.active = &next
	f.logger.WithFields(logrus.Fields{
		"line":    line.ID,
		"station": station.ID,
	}).Debug("push room switched")
	return nil
}

func (f *Feed) readLoop(conn *websocket.Conn) {
	for {
		var batch []prediction
		if err := conn.ReadJSON(&batch); err != nil {
			f.logger.WithField("error", err).Warn("push feed read failed, stopping")
			return
		}
		if len(batch) == 0 {
			f.logger.Warn("push feed delivered an empty batch")
			continue
		}

		arrivals := f.normalize(batch)
		catalog.SortArrivals(arrivals)

		f.mu.Lock()
		fn := f.callback
		f.mu.Unlock()
		if fn != nil {
			fn(arrivals)
		}
	}
}

// normalize maps push predictions to the same arrival shape the fetcher
// produces. Predictions naming lines or stations outside the catalog are
// dropped, matching the catalog's tolerance of upstream inconsistency.
func (f *Feed) normalize(batch []prediction) []catalog.Arrival {
	arrivals := make([]catalog.Arrival, 0, len(batch))
	for _, p := range batch {
		line := f.cat.Line(p.LineID)
		station := f.cat.Station(p.NaptanID)
		if line == nil || station == nil {
			f.logger.WithFields(logrus.Fields{
				"line":    p.LineID,
				"station": p.NaptanID,
			}).Debug("dropping push prediction outside catalog")
			continue
		}
		var destination *catalog.Station
		if p.DestinationNaptan != "" {
			destination = f.cat.Station(p.DestinationNaptan)
		}
		arrivals = append(arrivals, catalog.Arrival{
			ID:              p.ID,
			VehicleID:       p.Vehicle,
			Line:            line,
			Station:         station,
			Platform:        p.PlatformName,
			CurrentLocation: p.CurrentLocation,
			Destination:     destination,
			Towards:         p.Towards,
			TimeToStation:   p.TimeToStation,
			ExpectedArrival: p.ExpectedArrival,
			ObservedAt:      p.Timing.Read,
		})
	}
	return arrivals
}
