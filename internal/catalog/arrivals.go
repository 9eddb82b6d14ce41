package catalog

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/danpilch/tubeboard/internal/api/tfl"
)

// Arrival is one predicted train event. Arrivals are immutable values,
// created fresh on every fetch. Destination is nil when the upstream
// destination id is not in the catalog. ObservedAt is the upstream read
// timestamp of the snapshot that produced the prediction.
type Arrival struct {
	ID              string
	VehicleID       string
	Line            *Line
	Station         *Station
	Platform        string
	CurrentLocation string
	Destination     *Station
	Towards         string
	TimeToStation   int
	ExpectedArrival time.Time
	ObservedAt      time.Time
}

// Arrivals fetches the current arrivals for a line at a station, keeps only
// those on the given platform (no filter when platform is empty) and returns
// them sorted ascending by seconds-to-station. Subject to the client's
// request spacing: callers polling too fast get tfl.ErrThrottled.
func (c *Catalog) Arrivals(ctx context.Context, line *Line, station *Station, platform string) ([]Arrival, error) {
	predictions, err := c.api.Arrivals(ctx, line.ID, station.ID, false)
	if err != nil {
		return nil, err
	}

	arrivals := make([]Arrival, 0, len(predictions))
	for _, p := range predictions {
		if platform != "" && p.PlatformName != platform {
			continue
		}
		arrivals = append(arrivals, c.arrivalFromPrediction(p, line, station))
	}
	SortArrivals(arrivals)
	return arrivals, nil
}

// DiscoverPlatforms snapshots the platform names with trains currently
// approaching the station on the given line, in first-seen order. The result
// replaces the station's transient active-platform set. A platform with no
// approaching train will not appear: this is "active right now", not
// topology.
func (c *Catalog) DiscoverPlatforms(ctx context.Context, line *Line, station *Station) ([]string, error) {
	predictions, err := c.api.Arrivals(ctx, line.ID, station.ID, true)
	if err != nil {
		return nil, fmt.Errorf("discovering platforms for %s at %s: %w", line.ID, station.ID, err)
	}

	seen := make(map[string]struct{})
	names := []string{}
	for _, p := range predictions {
		if p.PlatformName == "" {
			continue
		}
		if _, ok := seen[p.PlatformName]; ok {
			continue
		}
		seen[p.PlatformName] = struct{}{}
		names = append(names, p.PlatformName)
	}

	c.mu.Lock()
	station.ActivePlatforms = names
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"line":      line.ID,
		"station":   station.ID,
		"platforms": len(names),
	}).Debug("platforms discovered")
	return names, nil
}

func (c *Catalog) arrivalFromPrediction(p tfl.Prediction, line *Line, station *Station) Arrival {
	var destination *Station
	if p.DestinationNaptan != "" {
		destination = c.Station(p.DestinationNaptan)
	}
	return Arrival{
		ID:              p.ID,
		VehicleID:       p.VehicleID,
		Line:            line,
		Station:         station,
		Platform:        p.PlatformName,
		CurrentLocation: p.CurrentLocation,
		Destination:     destination,
		Towards:         p.Towards,
		TimeToStation:   p.TimeToStation,
		ExpectedArrival: p.ExpectedArrival,
		ObservedAt:      p.Timing.Read,
	}
}

// SortArrivals orders arrivals ascending by seconds-to-station. Upstream
// order is not guaranteed sorted.
func SortArrivals(arrivals []Arrival) {
	sort.SliceStable(arrivals, func(i, j int) bool {
		return arrivals[i].TimeToStation < arrivals[j].TimeToStation
	})
}

func sortLinesByName(lines []*Line) {
	sort.Slice(lines, func(i, j int) bool {
		return lines[i].Name < lines[j].Name
	})
}

func sortStationsByName(stations []*Station) {
	sort.Slice(stations, func(i, j int) bool {
		return stations[i].Name < stations[j].Name
	})
}
