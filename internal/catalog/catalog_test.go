package catalog

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danpilch/tubeboard/internal/api/tfl"
)

type fakeAPI struct {
	mu          sync.Mutex
	lines       []tfl.Line
	stops       []tfl.StopPoint
	predictions []tfl.Prediction

	linesErr    error
	stopsErr    error
	arrivalsErr error

	arrivalsCalls int
	lastBypass    bool
}

func (f *fakeAPI) Lines(ctx context.Context, mode string) ([]tfl.Line, error) {
	return f.lines, f.linesErr
}

func (f *fakeAPI) StopPoints(ctx context.Context, stopType string) ([]tfl.StopPoint, error) {
	return f.stops, f.stopsErr
}

func (f *fakeAPI) Arrivals(ctx context.Context, lineID, stationID string, bypass bool) ([]tfl.Prediction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.arrivalsCalls++
	f.lastBypass = bypass
	return f.predictions, f.arrivalsErr
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testFixture() *fakeAPI {
	return &fakeAPI{
		lines: []tfl.Line{
			{ID: "central", Name: "Central", ServiceTypes: []tfl.ServiceType{{Name: "Regular"}}},
			{ID: "northern", Name: "Northern", ServiceTypes: []tfl.ServiceType{{Name: "Regular"}, {Name: "Night"}}},
		},
		stops: []tfl.StopPoint{
			{
				ID:         "940GZZLUBNK",
				CommonName: "Bank Underground Station",
				Lines:      []tfl.LineRef{{ID: "central"}, {ID: "waterloo-city"}},
				Lat:        51.5133,
				Lon:        -0.0886,
				AdditionalProperties: []tfl.AdditionalProperty{
					{Key: "WiFi", Value: "yes"},
					{Key: "Zone", Value: "1"},
				},
			},
			{
				ID:         "940GZZLUODS",
				CommonName: "Old Street Underground Station",
				Lines:      []tfl.LineRef{{ID: "northern"}},
			},
		},
	}
}

func loadedCatalog(t *testing.T, api *fakeAPI) *Catalog {
	t.Helper()
	cat := New(api, "tube", "NaptanMetroStation", testLogger())
	require.NoError(t, cat.Load(context.Background()))
	return cat
}

func TestLoadBuildsMembership(t *testing.T) {
	cat := loadedCatalog(t, testFixture())

	central := cat.Line("central")
	require.NotNil(t, central)
	assert.True(t, central.Loaded)
	assert.Equal(t, []string{"Regular"}, central.ServiceTypes)

	bank := cat.Station("940GZZLUBNK")
	require.NotNil(t, bank)
	assert.Equal(t, "Bank", bank.Name)
	assert.Equal(t, "1", bank.Zone)
	assert.Contains(t, central.Stations, "940GZZLUBNK")

	// The waterloo-city reference names a line outside the loaded mode
	// set and is silently dropped from the station.
	require.Len(t, bank.Lines, 1)
	assert.Equal(t, "central", bank.Lines[0].ID)

	select {
	case <-cat.Ready():
	default:
		t.Fatal("Ready must be closed after a successful load")
	}
}

func TestLoadZoneFailsSoft(t *testing.T) {
	cat := loadedCatalog(t, testFixture())
	assert.Equal(t, "", cat.Station("940GZZLUODS").Zone)
}

func TestLoadFailurePublishesNothing(t *testing.T) {
	api := testFixture()
	api.stopsErr = errors.New("upstream down")

	cat := New(api, "tube", "NaptanMetroStation", testLogger())
	err := cat.Load(context.Background())
	require.Error(t, err)

	assert.False(t, cat.Loaded())
	assert.Nil(t, cat.Line("central"))
	select {
	case <-cat.Ready():
		t.Fatal("Ready must not fire after a failed load")
	default:
	}
}

func TestStationsOnLineSorted(t *testing.T) {
	api := testFixture()
	api.stops = append(api.stops, tfl.StopPoint{
		ID:         "940GZZLUEPG",
		CommonName: "Epping Underground Station",
		Lines:      []tfl.LineRef{{ID: "central"}},
	})
	cat := loadedCatalog(t, api)

	stations := cat.StationsOnLine(cat.Line("central"))
	require.Len(t, stations, 2)
	assert.Equal(t, "Bank", stations[0].Name)
	assert.Equal(t, "Epping", stations[1].Name)
}
