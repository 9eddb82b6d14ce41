package catalog

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/danpilch/tubeboard/internal/api/tfl"
)

// stationNameSuffix is stripped from upstream common names for display.
const stationNameSuffix = " Underground Station"

// zonePropertyKey is the key the upstream property bag uses for a station's
// fare zone. Lookup fails soft: stations without the key get an empty zone.
const zonePropertyKey = "Zone"

// Line is an underground line and the stations it serves.
type Line struct {
	ID           string
	Name         string
	ServiceTypes []string
	Stations     map[string]*Station
	Loaded       bool
}

// Station is a stop point served by one or more lines. ActivePlatforms is
// transient: it holds the most recent platform discovery snapshot and is
// replaced wholesale on every discovery.
type Station struct {
	ID              string
	Name            string
	Modes           []string
	StopType        string
	PlaceType       string
	Lat             float64
	Lon             float64
	Zone            string
	Lines           []*Line
	ActivePlatforms []string
	Loaded          bool
}

// API is the slice of the TfL client the catalog consumes.
type API interface {
	Lines(ctx context.Context, mode string) ([]tfl.Line, error)
	StopPoints(ctx context.Context, stopType string) ([]tfl.StopPoint, error)
	Arrivals(ctx context.Context, lineID, stationID string, bypass bool) ([]tfl.Prediction, error)
}

// Catalog holds the static line/station reference data and answers arrival
// and platform queries against it. Construct with New and call Load before
// use; Ready is closed once the catalog is published.
type Catalog struct {
	api      API
	logger   *logrus.Logger
	mode     string
	stopType string

	mu       sync.RWMutex
	lines    map[string]*Line
	stations map[string]*Station
	loaded   bool
	ready    chan struct{}
}

// New creates an empty catalog for the given mode and stop type
// (e.g. "tube" and "NaptanMetroStation").
func New(api API, mode, stopType string, logger *logrus.Logger) *Catalog {
	return &Catalog{
		api:      api,
		logger:   logger,
		mode:     mode,
		stopType: stopType,
		ready:    make(chan struct{}),
	}
}

// Load performs the two bootstrap reads and publishes the line and station
// maps in one pass. On any failure nothing is published and Ready never
// fires: callers must treat the error as fatal to startup.
func (c *Catalog) Load(ctx context.Context) error {
	upstreamLines, err := c.api.Lines(ctx, c.mode)
	if err != nil {
		return fmt.Errorf("loading catalog: %w", err)
	}
	upstreamStops, err := c.api.StopPoints(ctx, c.stopType)
	if err != nil {
		return fmt.Errorf("loading catalog: %w", err)
	}
	if len(upstreamLines) == 0 {
		return fmt.Errorf("loading catalog: upstream returned no %s lines", c.mode)
	}

	lines := make(map[string]*Line, len(upstreamLines))
	for _, ul := range upstreamLines {
		services := make([]string, 0, len(ul.ServiceTypes))
		for _, st := range ul.ServiceTypes {
			services = append(services, st.Name)
		}
		lines[ul.ID] = &Line{
			ID:           ul.ID,
			Name:         ul.Name,
			ServiceTypes: services,
			Stations:     make(map[string]*Station),
		}
	}

	stations := make(map[string]*Station, len(upstreamStops))
	for _, us := range upstreamStops {
		station := &Station{
			ID:        us.ID,
			Name:      strings.TrimSuffix(us.CommonName, stationNameSuffix),
			Modes:     us.Modes,
			StopType:  us.StopType,
			PlaceType: us.PlaceType,
			Lat:       us.Lat,
			Lon:       us.Lon,
			Zone:      zoneOf(us.AdditionalProperties),
			Loaded:    true,
		}
		for _, ref := range us.Lines {
			line, ok := lines[ref.ID]
			if !ok {
				// Upstream sometimes references lines outside the
				// requested mode; drop them from the station.
				c.logger.WithFields(logrus.Fields{
					"station": us.ID,
					"line":    ref.ID,
				}).Debug("dropping unknown line reference")
				continue
			}
			station.Lines = append(station.Lines, line)
			line.Stations[station.ID] = station
		}
		stations[station.ID] = station
	}

	for _, line := range lines {
		line.Loaded = true
	}

	c.mu.Lock()
	c.lines = lines
	c.stations = stations
	c.loaded = true
	c.mu.Unlock()
	close(c.ready)

	c.logger.WithFields(logrus.Fields{
		"lines":    len(lines),
		"stations": len(stations),
	}).Info("catalog loaded")
	return nil
}

// Ready is closed once Load has published the catalog.
func (c *Catalog) Ready() <-chan struct{} {
	return c.ready
}

// Loaded reports whether the catalog has been published.
func (c *Catalog) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded
}

// Line returns the line with the given id, or nil.
func (c *Catalog) Line(id string) *Line {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lines[id]
}

// Station returns the station with the given id, or nil.
func (c *Catalog) Station(id string) *Station {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stations[id]
}

// Lines returns all loaded lines sorted by name.
func (c *Catalog) Lines() []*Line {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]*Line, 0, len(c.lines))
	for _, l := range c.lines {
		result = append(result, l)
	}
	sortLinesByName(result)
	return result
}

// StationsOnLine returns the member stations of a line sorted by name.
func (c *Catalog) StationsOnLine(line *Line) []*Station {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]*Station, 0, len(line.Stations))
	for _, s := range line.Stations {
		result = append(result, s)
	}
	sortStationsByName(result)
	return result
}

// HasActivePlatform reports whether name appeared in the station's most
// recent platform discovery.
func (c *Catalog) HasActivePlatform(station *Station, name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range station.ActivePlatforms {
		if p == name {
			return true
		}
	}
	return false
}

func zoneOf(properties []tfl.AdditionalProperty) string {
	for _, p := range properties {
		if p.Key == zonePropertyKey {
			return p.Value
		}
	}
	return ""
}
