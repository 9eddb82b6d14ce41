package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danpilch/tubeboard/internal/api/tfl"
	"github.com/danpilch/tubeboard/internal/board"
	"github.com/danpilch/tubeboard/internal/catalog"
)

type fakeAPI struct {
	predictions []tfl.Prediction
}

func (f *fakeAPI) Lines(ctx context.Context, mode string) ([]tfl.Line, error) {
	return []tfl.Line{
		{ID: "central", Name: "Central", ServiceTypes: []tfl.ServiceType{{Name: "Regular"}}},
	}, nil
}

func (f *fakeAPI) StopPoints(ctx context.Context, stopType string) ([]tfl.StopPoint, error) {
	return []tfl.StopPoint{
		{
			ID:         "940GZZLUBNK",
			CommonName: "Bank Underground Station",
			Lines:      []tfl.LineRef{{ID: "central"}},
			AdditionalProperties: []tfl.AdditionalProperty{
				{Key: "Zone", Value: "1"},
			},
		},
	}, nil
}

func (f *fakeAPI) Arrivals(ctx context.Context, lineID, stationID string, bypass bool) ([]tfl.Prediction, error) {
	return f.predictions, nil
}

func testServer(t *testing.T, api *fakeAPI) *httptest.Server {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cat := catalog.New(api, "tube", "NaptanMetroStation", logger)
	require.NoError(t, cat.Load(context.Background()))
	ctrl := board.New(context.Background(), cat, nil, nil, logger)

	srv := httptest.NewServer(New(cat, ctrl, t.TempDir(), logger).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

func putSelection(t *testing.T, base, body string) (int, boardJSON) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPut, base+"/api/selection", strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out boardJSON
	if resp.Header.Get("Content-Type") == "application/json" {
		json.NewDecoder(resp.Body).Decode(&out)
	}
	return resp.StatusCode, out
}

func TestLinesEndpoint(t *testing.T) {
	srv := testServer(t, &fakeAPI{})

	var lines []lineJSON
	code := getJSON(t, srv.URL+"/api/lines", &lines)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, lines, 1)
	assert.Equal(t, "central", lines[0].ID)
	assert.Equal(t, []string{"Regular"}, lines[0].ServiceTypes)
}

func TestStationsEndpoint(t *testing.T) {
	srv := testServer(t, &fakeAPI{})

	var stations []stationJSON
	code := getJSON(t, srv.URL+"/api/lines/central/stations", &stations)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, stations, 1)
	assert.Equal(t, "Bank", stations[0].Name)
	assert.Equal(t, "1", stations[0].Zone)

	var errBody map[string]string
	code = getJSON(t, srv.URL+"/api/lines/hogwarts-express/stations", &errBody)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestBoardEndpointInitialState(t *testing.T) {
	srv := testServer(t, &fakeAPI{})

	var b boardJSON
	code := getJSON(t, srv.URL+"/api/board", &b)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "no-selection", b.State)
	assert.Equal(t, "Select a line and station...", b.Message)
}

func TestSelectionFlow(t *testing.T) {
	api := &fakeAPI{predictions: []tfl.Prediction{
		{ID: "a", PlatformName: "Eastbound - Platform 1", TimeToStation: 45,
			Timing: tfl.Timing{Read: time.Now()}},
	}}
	srv := testServer(t, api)

	code, b := putSelection(t, srv.URL, `{"line":"central","station":"940GZZLUBNK"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "line-and-station", b.State)

	// Platform selection requires a prior discovery snapshot.
	code, _ = putSelection(t, srv.URL, `{"line":"central","station":"940GZZLUBNK","platform":"Eastbound - Platform 1"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	var platforms []string
	code = getJSON(t, srv.URL+"/api/platforms", &platforms)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []string{"Eastbound - Platform 1"}, platforms)

	code, b = putSelection(t, srv.URL, `{"line":"central","station":"940GZZLUBNK","platform":"Eastbound - Platform 1"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "fully-selected", b.State)

	// Clearing the line cascades the whole selection away.
	code, b = putSelection(t, srv.URL, `{}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "no-selection", b.State)
}

func TestPlatformsWithoutStation(t *testing.T) {
	srv := testServer(t, &fakeAPI{})

	var errBody map[string]string
	code := getJSON(t, srv.URL+"/api/platforms", &errBody)
	assert.Equal(t, http.StatusConflict, code)
}

func TestUnknownSelectionIDs(t *testing.T) {
	srv := testServer(t, &fakeAPI{})

	code, _ := putSelection(t, srv.URL, `{"line":"hogwarts-express"}`)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = putSelection(t, srv.URL, `{"line":"central","station":"nowhere"}`)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestIndexServedOnDeepLinks(t *testing.T) {
	api := &fakeAPI{}
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cat := catalog.New(api, "tube", "NaptanMetroStation", logger)
	require.NoError(t, cat.Load(context.Background()))
	ctrl := board.New(context.Background(), cat, nil, nil, logger)

	staticDir := t.TempDir()
	page := []byte("<!DOCTYPE html><title>board</title>")
	require.NoError(t, os.WriteFile(filepath.Join(staticDir, "index.html"), page, 0o644))

	srv := httptest.NewServer(New(cat, ctrl, staticDir, logger).Handler())
	t.Cleanup(srv.Close)

	for _, path := range []string{"/", "/central", "/central/940GZZLUBNK", "/central/940GZZLUBNK/Eastbound%20-%20Platform%201"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.Equal(t, page, body, path)
	}
}

func TestDisplayFor(t *testing.T) {
	tests := []struct {
		name    string
		arrival catalog.Arrival
		want    string
	}{
		{"at platform", catalog.Arrival{CurrentLocation: "At Platform", TimeToStation: 0}, "Arrived"},
		{"due", catalog.Arrival{TimeToStation: 15}, "Due"},
		{"rounds to minutes", catalog.Arrival{TimeToStation: 95}, "2 min"},
		{"just over due", catalog.Arrival{TimeToStation: 31}, "1 min"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, displayFor(tt.arrival))
		})
	}
}
