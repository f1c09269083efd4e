// Package api serves the operational HTTP surface: health, Prometheus
// metrics and a small JSON API for inspecting the control loop.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"passivac/internal/control"
	"passivac/internal/history"
	"passivac/internal/sensor"
	"passivac/internal/weather"
)

const (
	defaultHistoryHours = 24
	maxHistoryHours     = 31 * 24

	defaultSummaryDays = 7
	maxSummaryDays     = 90
)

// Server exposes the control loop over HTTP. The history store is
// optional; its endpoints answer 404 when local history is disabled.
type Server struct {
	orch    *control.Orchestrator
	tracker *sensor.Tracker
	weather *weather.Cache
	store   *history.Store

	deviceID string
	addr     string
	logger   *zap.Logger
}

func NewServer(orch *control.Orchestrator, tracker *sensor.Tracker, cache *weather.Cache, store *history.Store, deviceID, addr string, logger *zap.Logger) *Server {
	return &Server{
		orch:     orch,
		tracker:  tracker,
		weather:  cache,
		store:    store,
		deviceID: deviceID,
		addr:     addr,
		logger:   logger,
	}
}

func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	r.HandleFunc("/api/v1/status", s.handleStatus).Methods("GET")
	r.HandleFunc("/api/v1/transitions", s.handleTransitions).Methods("GET")
	r.HandleFunc("/api/v1/history", s.handleHistory).Methods("GET")
	r.HandleFunc("/api/v1/summary", s.handleSummary).Methods("GET")

	return handlers.LoggingHandler(os.Stdout, r)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("http server listening", zap.String("addr", s.addr))
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

type healthResponse struct {
	Status           string `json:"status"`
	SensorOnline     bool   `json:"sensorOnline"`
	WeatherAvailable bool   `json:"weatherAvailable"`
	State            string `json:"state,omitempty"`
}

// handleHealth reports degraded when an input feed is down and error
// when the control loop is blind. The AC side is intentionally absent:
// command failures retry on their own and do not make the core
// unhealthy.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := healthResponse{
		Status:           "ok",
		SensorOnline:     s.tracker.Online(),
		WeatherAvailable: s.weather.Available(),
		State:            string(s.orch.Machine().State()),
	}
	if !h.WeatherAvailable {
		h.Status = "degraded"
	}
	if !h.SensorOnline {
		h.Status = "error"
	}

	code := http.StatusOK
	if h.Status == "error" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, h)
}

type statusResponse struct {
	Time               time.Time                `json:"time"`
	State              string                   `json:"state"`
	TimeInStateSeconds float64                  `json:"timeInStateSeconds"`
	Reason             string                   `json:"reason"`
	Season             string                   `json:"season"`
	SeasonSelect       string                   `json:"seasonSelect"`
	UserTarget         float64                  `json:"userTarget"`
	RoomTemp           *float64                 `json:"roomTemp"`
	Humidity           *float64                 `json:"humidity"`
	OutdoorTemp        *float64                 `json:"outdoorTemp"`
	SolarRadiation     *float64                 `json:"solarRadiation"`
	Prediction         control.PredictionResult `json:"prediction"`
	DispatchedSetpoint *float64                 `json:"dispatchedSetpoint"`
	SensorOffset       float64                  `json:"sensorOffset"`
	SensorOnline       bool                     `json:"sensorOnline"`
	WeatherAvailable   bool                     `json:"weatherAvailable"`
	Power              bool                     `json:"power"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.orch.Status()
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, "no control cycle has completed yet")
		return
	}

	resp := statusResponse{
		Time:               st.Time,
		State:              string(st.State),
		TimeInStateSeconds: s.orch.Machine().TimeInState().Seconds(),
		Reason:             st.Reason,
		Season:             st.Season.String(),
		SeasonSelect:       st.SeasonSelect.String(),
		UserTarget:         st.UserTarget,
		RoomTemp:           st.RoomTemp,
		OutdoorTemp:        st.OutdoorTemp,
		SolarRadiation:     s.weather.CurrentSolar(),
		Prediction:         st.Prediction,
		DispatchedSetpoint: s.orch.Dispatched(),
		SensorOffset:       s.tracker.Offset(),
		SensorOnline:       s.tracker.Online(),
		WeatherAvailable:   s.weather.Available(),
		Power:              st.Power,
	}
	if reading, ok := s.tracker.Latest(); ok {
		resp.Humidity = reading.Humidity
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTransitions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.Machine().History())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, "local history is disabled")
		return
	}

	hours := queryInt(r, "hours", defaultHistoryHours, maxHistoryHours)
	since := time.Now().Add(-time.Duration(hours) * time.Hour)

	points, err := s.store.RecentPoints(r.Context(), s.deviceID, since)
	if err != nil {
		s.logger.Warn("history query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "history query failed")
		return
	}
	if points == nil {
		points = []history.Point{}
	}
	writeJSON(w, http.StatusOK, points)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, "local history is disabled")
		return
	}

	days := queryInt(r, "days", defaultSummaryDays, maxSummaryDays)

	summaries, err := s.store.RecentDailySummaries(r.Context(), s.deviceID, days)
	if err != nil {
		s.logger.Warn("summary query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "summary query failed")
		return
	}
	if summaries == nil {
		summaries = []history.DailySummary{}
	}
	writeJSON(w, http.StatusOK, summaries)
}

// queryInt reads a positive integer query parameter, falling back to
// def and capping at max.
func queryInt(r *http.Request, name string, def, max int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return def
	}
	if v > max {
		return max
	}
	return v
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
