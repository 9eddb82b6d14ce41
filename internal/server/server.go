// Package server exposes the catalog, selection, and board render state
// over HTTP for the departure-board page.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/unrolled/logger"

	"github.com/danpilch/tubeboard/internal/board"
	"github.com/danpilch/tubeboard/internal/catalog"
)

type Server struct {
	cat       *catalog.Catalog
	board     *board.Controller
	logger    *logrus.Logger
	staticDir string
	router    *mux.Router
}

func New(cat *catalog.Catalog, ctrl *board.Controller, staticDir string, log *logrus.Logger) *Server {
	s := &Server{
		cat:       cat,
		board:     ctrl,
		logger:    log,
		staticDir: staticDir,
		router:    mux.NewRouter(),
	}
	s.routes()
	return s
}

// Handler returns the fully wired HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	l := logger.New()
	s.router.Use(l.Handler)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/lines", s.handleLines).Methods(http.MethodGet)
	api.HandleFunc("/lines/{line}/stations", s.handleStations).Methods(http.MethodGet)
	api.HandleFunc("/platforms", s.handlePlatforms).Methods(http.MethodGet)
	api.HandleFunc("/board", s.handleBoard).Methods(http.MethodGet)
	api.HandleFunc("/selection", s.handleSelection).Methods(http.MethodPut)

	s.router.PathPrefix("/static/").Handler(http.StripPrefix("/static/",
		http.FileServer(http.Dir(s.staticDir))))

	// Deep links: /{line}/{station}/{platform} all serve the board page,
	// which reads its selection from the path.
	s.router.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	s.router.HandleFunc("/{line}", s.handleIndex).Methods(http.MethodGet)
	s.router.HandleFunc("/{line}/{station}", s.handleIndex).Methods(http.MethodGet)
	s.router.HandleFunc("/{line}/{station}/{platform}", s.handleIndex).Methods(http.MethodGet)
}

type lineJSON struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	ServiceTypes []string `json:"serviceTypes"`
}

type stationJSON struct {
	ID   string  `json:"id"`
	Name string  `json:"name"`
	Zone string  `json:"zone,omitempty"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
}

type arrivalJSON struct {
	ID              string    `json:"id"`
	Platform        string    `json:"platform"`
	Towards         string    `json:"towards"`
	Destination     string    `json:"destination,omitempty"`
	CurrentLocation string    `json:"currentLocation"`
	TimeToStation   int       `json:"timeToStation"`
	ExpectedArrival time.Time `json:"expectedArrival"`
	Display         string    `json:"display"`
}

type boardJSON struct {
	State      string        `json:"state"`
	Message    string        `json:"message,omitempty"`
	Arrivals   []arrivalJSON `json:"arrivals"`
	NoTrains   bool          `json:"noTrains"`
	Imminent   bool          `json:"imminent"`
	AtPlatform bool          `json:"atPlatform"`
	Banner     string        `json:"banner,omitempty"`
	ObservedAt time.Time     `json:"observedAt,omitzero"`
	UpdatedAt  time.Time     `json:"updatedAt"`
}

type selectionJSON struct {
	Line     string `json:"line"`
	Station  string `json:"station"`
	Platform string `json:"platform"`
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	http.ServeFile(w, r, filepath.Join(s.staticDir, "index.html"))
}

func (s *Server) handleLines(w http.ResponseWriter, r *http.Request) {
	if !s.ready(w) {
		return
	}
	lines := s.cat.Lines()
	out := make([]lineJSON, 0, len(lines))
	for _, l := range lines {
		out = append(out, lineJSON{ID: l.ID, Name: l.Name, ServiceTypes: l.ServiceTypes})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStations(w http.ResponseWriter, r *http.Request) {
	if !s.ready(w) {
		return
	}
	line := s.cat.Line(mux.Vars(r)["line"])
	if line == nil {
		s.writeError(w, http.StatusNotFound, "unknown line")
		return
	}
	stations := s.cat.StationsOnLine(line)
	out := make([]stationJSON, 0, len(stations))
	for _, st := range stations {
		out = append(out, stationJSON{ID: st.ID, Name: st.Name, Zone: st.Zone, Lat: st.Lat, Lon: st.Lon})
	}
	s.writeJSON(w, http.StatusOK, out)
}

// handlePlatforms runs platform discovery for the current line/station.
// The result is a snapshot of platforms with trains approaching right now.
func (s *Server) handlePlatforms(w http.ResponseWriter, r *http.Request) {
	if !s.ready(w) {
		return
	}
	platforms, err := s.board.DiscoverPlatforms(r.Context())
	if err != nil {
		if errors.Is(err, board.ErrNoStation) {
			s.writeError(w, http.StatusConflict, "select a line and station first")
			return
		}
		s.logger.WithField("error", err).Warn("platform discovery failed")
		s.writeError(w, http.StatusBadGateway, "platform discovery failed")
		return
	}
	s.writeJSON(w, http.StatusOK, platforms)
}

func (s *Server) handleBoard(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, boardToJSON(s.board.Render()))
}

// handleSelection applies a full selection in cascade order. Invariant
// violations reject the request and leave the selection unchanged from the
// point of failure.
func (s *Server) handleSelection(w http.ResponseWriter, r *http.Request) {
	if !s.ready(w) {
		return
	}
	var sel selectionJSON
	if err := json.NewDecoder(r.Body).Decode(&sel); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid selection body")
		return
	}

	if sel.Line == "" {
		s.board.SetLine(nil)
		s.writeJSON(w, http.StatusOK, boardToJSON(s.board.Render()))
		return
	}
	line := s.cat.Line(sel.Line)
	if line == nil {
		s.writeError(w, http.StatusNotFound, "unknown line")
		return
	}
	s.board.SetLine(line)

	if sel.Station != "" {
		station := s.cat.Station(sel.Station)
		if station == nil {
			s.writeError(w, http.StatusNotFound, "unknown station")
			return
		}
		if err := s.board.SetStation(station); err != nil {
			s.writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
	}

	if sel.Platform != "" {
		if err := s.board.SetPlatform(sel.Platform); err != nil {
			s.writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
	}

	s.writeJSON(w, http.StatusOK, boardToJSON(s.board.Render()))
}

func boardToJSON(render board.RenderState) boardJSON {
	out := boardJSON{
		State:      render.State.String(),
		Message:    render.Message,
		Arrivals:   make([]arrivalJSON, 0, len(render.Arrivals)),
		NoTrains:   render.NoTrains,
		Imminent:   render.Imminent,
		AtPlatform: render.AtPlatform,
		ObservedAt: render.ObservedAt,
		UpdatedAt:  render.UpdatedAt,
	}
	if render.Imminent {
		out.Banner = board.MsgImminentBanner
	}
	for _, a := range render.Arrivals {
		aj := arrivalJSON{
			ID:              a.ID,
			Platform:        a.Platform,
			Towards:         a.Towards,
			CurrentLocation: a.CurrentLocation,
			TimeToStation:   a.TimeToStation,
			ExpectedArrival: a.ExpectedArrival,
			Display:         displayFor(a),
		}
		if a.Destination != nil {
			aj.Destination = a.Destination.Name
		}
		out.Arrivals = append(out.Arrivals, aj)
	}
	return out
}

// displayFor renders the countdown cell: "Arrived" at the platform, "Due"
// under 30s, otherwise whole minutes.
func displayFor(a catalog.Arrival) string {
	if a.CurrentLocation == "At Platform" {
		return "Arrived"
	}
	if a.TimeToStation < 30 {
		return "Due"
	}
	minutes := (a.TimeToStation + 30) / 60
	if minutes < 1 {
		minutes = 1
	}
	return fmt.Sprintf("%d min", minutes)
}

func (s *Server) ready(w http.ResponseWriter) bool {
	if !s.cat.Loaded() {
		s.writeError(w, http.StatusServiceUnavailable, "catalog still loading")
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithField("error", err).Warn("failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, map[string]string{"error": msg})
}
