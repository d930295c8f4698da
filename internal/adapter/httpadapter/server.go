package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/tornado-season/internal/domain"
	"github.com/couchcryptid/tornado-season/internal/pipeline"
	"github.com/couchcryptid/tornado-season/internal/report"
)

// ResultsSource returns the last completed analysis run.
type ResultsSource interface {
	sharedobs.ReadinessChecker
	Latest() (*pipeline.Results, error)
}

// Server exposes health, readiness, metrics and read-only result endpoints.
type Server struct {
	httpServer *http.Server
	results    ResultsSource
	logger     *slog.Logger
}

// YearTotal is one entry of the /api/v1/years listing.
type YearTotal struct {
	Year  int `json:"year"`
	Total int `json:"total"`
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics and the
// /api/v1 result routes.
func NewServer(addr string, results ResultsSource, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		results: results,
		logger:  logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(results))
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /api/v1/years", s.handleYears)
	mux.HandleFunc("GET /api/v1/counts", s.handleCounts)
	mux.HandleFunc("GET /api/v1/fits", s.handleFits)

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) latest(w http.ResponseWriter) (*pipeline.Results, bool) {
	res, err := s.results.Latest()
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, pipeline.ErrNoResults) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err.Error())
		return nil, false
	}
	return res, true
}

func (s *Server) handleYears(w http.ResponseWriter, _ *http.Request) {
	res, ok := s.latest(w)
	if !ok {
		return
	}
	totals := domain.YearTotals(res.Cumulative)
	years := domain.Years(res.Cumulative)
	out := make([]YearTotal, len(years))
	for i, y := range years {
		out[i] = YearTotal{Year: y, Total: totals[y]}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCounts(w http.ResponseWriter, r *http.Request) {
	year, err := strconv.Atoi(r.URL.Query().Get("year"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "year query parameter must be an integer")
		return
	}
	res, ok := s.latest(w)
	if !ok {
		return
	}
	rows := domain.ForYear(res.Cumulative, year)
	if len(rows) == 0 {
		writeError(w, http.StatusNotFound, "year not in analysis")
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleFits(w http.ResponseWriter, _ *http.Request) {
	res, ok := s.latest(w)
	if !ok {
		return
	}
	// The report writer drops non-finite values.
	var buf bytes.Buffer
	if err := report.WriteFits(&buf, res.Fits); err != nil {
		s.logger.Error("encode fits", "error", err)
		writeError(w, http.StatusInternalServerError, "encode fits")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes()) //nolint:errcheck // client went away
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}
