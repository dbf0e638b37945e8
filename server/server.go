package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/klauspost/compress/gzhttp"

	"tidbyt.dev/caltrain"
	"tidbyt.dev/caltrain/model"
)

const (
	DefaultBoardLimit = 5
	DefaultStaleAfter = 5 * time.Minute
	DefaultGzipLevel  = 6
)

// HTTP API for the interactive surface, and a timeline endpoint for
// hosts driving the background surface.
type Server struct {
	Engine     *caltrain.Engine
	Hub        *Hub
	BoardLimit int
	StaleAfter time.Duration
	GzipLevel  int

	logger *slog.Logger
}

func New(engine *caltrain.Engine, hub *Hub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		Engine:     engine,
		Hub:        hub,
		BoardLimit: DefaultBoardLimit,
		StaleAfter: DefaultStaleAfter,
		GzipLevel:  DefaultGzipLevel,
		logger:     logger.With("component", "server"),
	}
}

func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("GET /v1/stations", s.ListStations)
	api.HandleFunc("GET /v1/stations/nearest", s.NearestStation)
	api.HandleFunc("GET /v1/stations/{id}", s.GetStation)
	api.HandleFunc("GET /v1/stations/{id}/departures", s.GetDepartures)
	api.HandleFunc("POST /v1/stations/{id}/select", s.SelectStation)
	api.HandleFunc("PUT /v1/stations/{id}/favorite", s.SetFavorite)
	api.HandleFunc("DELETE /v1/stations/{id}/favorite", s.SetFavorite)
	api.HandleFunc("GET /v1/timeline", s.GetTimeline)
	api.HandleFunc("POST /v1/refresh", s.PostRefresh)
	api.HandleFunc("GET /healthz", s.Healthz)
	api.HandleFunc("GET /readyz", s.Readyz)

	ws := NewWSHandler(s.Engine, s.Hub, s.BoardLimit, s.logger)

	compressed, err := GzipMiddleware(api, s.GzipLevel)
	if err != nil {
		s.logger.Error("serving without compression", "error", err)
		compressed = api
	}

	// Websocket upgrades bypass compression
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/stations/{id}/live", ws.ServeLive)
	mux.Handle("/", compressed)

	return mux
}

func GzipMiddleware(next http.Handler, level int) (http.Handler, error) {
	wrapper, err := gzhttp.NewWrapper(
		gzhttp.MinSize(1024),
		gzhttp.CompressionLevel(level),
	)
	if err != nil {
		return nil, fmt.Errorf("creating gzip wrapper: %w", err)
	}
	return wrapper(next), nil
}

type StationsResponse struct {
	Stations []StationMatch `json:"stations"`
	Count    int            `json:"count"`
}

type StationMatch struct {
	model.Station
	MatchedIndexes []int `json:"matchedIndexes"`
}

func (s *Server) ListStations(w http.ResponseWriter, r *http.Request) {
	dir, err := s.Engine.Directory()
	if err != nil {
		respondEngineError(w, err)
		return
	}

	results := dir.Search(r.URL.Query().Get("q"))
	stations := make([]StationMatch, 0, len(results))
	for _, res := range results {
		stations = append(stations, StationMatch{
			Station:        res.Station,
			MatchedIndexes: res.MatchedIndexes,
		})
	}

	respondJSON(w, http.StatusOK, StationsResponse{Stations: stations, Count: len(stations)})
}

func (s *Server) GetStation(w http.ResponseWriter, r *http.Request) {
	dir, err := s.Engine.Directory()
	if err != nil {
		respondEngineError(w, err)
		return
	}

	st, found := dir.Station(r.PathValue("id"))
	if !found {
		respondError(w, http.StatusNotFound, "station not found")
		return
	}

	respondJSON(w, http.StatusOK, st)
}

type NearestResponse struct {
	Station        model.Station `json:"station"`
	DistanceMeters float64       `json:"distanceMeters"`
	Distance       string        `json:"distance"`
}

// Nearest station to the rider's reported position. The position is
// cached for the background surface.
func (s *Server) NearestStation(w http.ResponseWriter, r *http.Request) {
	lat, err := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	if err != nil || lat < -90 || lat > 90 {
		respondError(w, http.StatusBadRequest, "invalid lat parameter")
		return
	}
	lon, err := strconv.ParseFloat(r.URL.Query().Get("lon"), 64)
	if err != nil || lon < -180 || lon > 180 {
		respondError(w, http.StatusBadRequest, "invalid lon parameter")
		return
	}
	coord := model.Coordinate{Lat: lat, Lon: lon}

	dir, err := s.Engine.Directory()
	if err != nil {
		respondEngineError(w, err)
		return
	}

	st, distance, found := caltrain.NearestStation(coord, dir.Stations())
	if !found {
		respondEngineError(w, caltrain.ErrNoStation)
		return
	}

	err = s.Engine.Locations.Save(coord, st.ID)
	if err != nil {
		s.logger.Warn("caching location failed", "error", err)
	}

	respondJSON(w, http.StatusOK, NearestResponse{
		Station:        st,
		DistanceMeters: distance,
		Distance:       caltrain.FormatDistance(distance),
	})
}

type DeparturesResponse struct {
	StationID   string                  `json:"stationId"`
	Northbound  []model.MergedDeparture `json:"northbound"`
	Southbound  []model.MergedDeparture `json:"southbound"`
	LastRefresh *time.Time              `json:"lastRefresh,omitempty"`
	ServerTime  time.Time               `json:"serverTime"`
}

func (s *Server) GetDepartures(w http.ResponseWriter, r *http.Request) {
	stationID := r.PathValue("id")

	filter, err := model.ParseDirectionFilter(r.URL.Query().Get("direction"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	limit := s.BoardLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			respondError(w, http.StatusBadRequest, "invalid limit parameter")
			return
		}
	}

	now := s.Engine.TimeNow()
	merged, err := s.Engine.UpcomingDepartures(stationID, now)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	board := caltrain.NewBoard(caltrain.FilterDirections(merged, filter), limit)

	resp := DeparturesResponse{
		StationID:  stationID,
		Northbound: board.Northbound,
		Southbound: board.Southbound,
		ServerTime: now,
	}
	if last, found := s.Engine.Gate.LastRefresh(); found {
		resp.LastRefresh = &last
	}

	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) SelectStation(w http.ResponseWriter, r *http.Request) {
	err := s.Engine.SelectStation(r.PathValue("id"))
	if err != nil {
		respondEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) SetFavorite(w http.ResponseWriter, r *http.Request) {
	err := s.Engine.SetFavorite(r.PathValue("id"), r.Method == http.MethodPut)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type TimelineResponse struct {
	caltrain.Timeline
	Error string `json:"error,omitempty"`
}

func (s *Server) GetTimeline(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter, err := model.ParseDirectionFilter(q.Get("direction"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	layout, err := caltrain.ParseLayout(q.Get("layout"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	timeline := s.Engine.Timeline(r.Context(), caltrain.TimelineRequest{
		Selection:  caltrain.StationSelection{StationID: q.Get("station")},
		Directions: filter,
		Layout:     layout,
	})

	resp := TimelineResponse{Timeline: timeline}
	if timeline.Err != nil {
		resp.Error = timeline.Err.Error()
	}

	respondJSON(w, http.StatusOK, resp)
}

type RefreshResponse struct {
	Outcome string `json:"outcome"`
}

func (s *Server) PostRefresh(w http.ResponseWriter, r *http.Request) {
	force := false
	if forceStr := r.URL.Query().Get("force"); forceStr != "" {
		var err error
		force, err = strconv.ParseBool(forceStr)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid force parameter")
			return
		}
	}

	outcome, err := s.Engine.Refresh(r.Context(), force)
	if err != nil {
		s.logger.Warn("refresh failed", "error", err)
		respondEngineError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, RefreshResponse{Outcome: outcome.String()})
}

func (s *Server) Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type ReadyResponse struct {
	caltrain.Health
	Ready      bool      `json:"ready"`
	Clients    int       `json:"clients"`
	ServerTime time.Time `json:"serverTime"`
}

// Ready once the directory is loaded and the cache has been
// refreshed recently.
func (s *Server) Readyz(w http.ResponseWriter, r *http.Request) {
	health, err := s.Engine.Healthcheck(s.StaleAfter)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	ready := health.Stations > 0 && !health.Stale
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}

	respondJSON(w, status, ReadyResponse{
		Health:     health,
		Ready:      ready,
		Clients:    s.Hub.ClientCount(),
		ServerTime: s.Engine.TimeNow(),
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Error: message})
}

func respondEngineError(w http.ResponseWriter, err error) {
	var fetchErr *caltrain.FetchError
	var decodeErr *caltrain.DecodeError

	switch {
	case errors.Is(err, caltrain.ErrNoStation):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, caltrain.ErrNoLocation):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &fetchErr), errors.As(err, &decodeErr):
		respondError(w, http.StatusBadGateway, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}
