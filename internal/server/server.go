// Package server exposes stored recordings over a read-only JSON API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"devutils/internal/cpuusage"
	"devutils/internal/export"
	"devutils/internal/logger"
	"devutils/internal/storage"
)

// Server serves runs from a Store.
type Server struct {
	store storage.Store
	log   *zap.Logger
}

// New returns a server reading from store.
func New(store storage.Store, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{store: store, log: log}
}

// Message is the body of every error response.
type Message struct {
	Msg string `json:"msg"`
}

// Handler returns the routes:
//
//	GET /healthz
//	GET /runs
//	GET /runs/{id}?format=json|csv|yaml
//	GET /runs/{id}/segments
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.get(s.handleHealth))
	mux.HandleFunc("/runs", s.get(s.handleRuns))
	mux.HandleFunc("/runs/{id}", s.get(s.handleRun))
	mux.HandleFunc("/runs/{id}/segments", s.get(s.handleSegments))
	return s.withLogger(mux)
}

// withLogger attaches a request-scoped logger to every request context.
func (s *Server) withLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqLog := s.log.With(zap.String("method", r.Method), zap.String("path", r.URL.Path))
		reqLog.Debug("request")
		next.ServeHTTP(w, r.WithContext(logger.WithContext(r.Context(), reqLog)))
	})
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("listening", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}

// get rejects everything but GET and HEAD.
func (s *Server) get(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			s.writeError(w, r, http.StatusMethodNotAllowed, r.Method+" - Method not allowed")
			return
		}
		h(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, Message{Msg: "ok"})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.Runs(r.Context())
	if err != nil {
		logger.FromContext(r.Context(), s.log).Error("list runs", zap.Error(err))
		s.writeError(w, r, http.StatusInternalServerError, "Internal server error")
		return
	}
	if runs == nil {
		runs = []storage.Run{}
	}
	s.writeJSON(w, r, http.StatusOK, runs)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	series, ok := s.loadSeries(w, r)
	if !ok {
		return
	}

	format := export.JSON
	if q := r.URL.Query().Get("format"); q != "" {
		f, err := export.ParseFormat(q)
		if err != nil {
			s.writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		format = f
	}

	w.Header().Set("Content-Type", contentType(format))
	if err := export.Write(w, format, series); err != nil {
		// Headers are gone by now; all that is left is to log it.
		logger.FromContext(r.Context(), s.log).Error("write run", zap.Error(err))
	}
}

// segmentView is the JSON shape of one segment summary.
type segmentView struct {
	Label        string    `json:"label"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	Samples      int       `json:"samples"`
	Mean         float64   `json:"mean"`
	Max          float64   `json:"max"`
	MaxProcesses int       `json:"max_processes"`
}

func (s *Server) handleSegments(w http.ResponseWriter, r *http.Request) {
	series, ok := s.loadSeries(w, r)
	if !ok {
		return
	}
	stats := cpuusage.Summarize(series.Samples)
	out := make([]segmentView, 0, len(stats))
	for _, st := range stats {
		out = append(out, segmentView{
			Label:        st.Label,
			Start:        st.Start,
			End:          st.End,
			Samples:      st.Len(),
			Mean:         st.Mean,
			Max:          st.Max,
			MaxProcesses: st.MaxProcesses,
		})
	}
	s.writeJSON(w, r, http.StatusOK, out)
}

func (s *Server) loadSeries(w http.ResponseWriter, r *http.Request) (cpuusage.Series, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, r, http.StatusBadRequest, "Bad Request: invalid run id")
		return cpuusage.Series{}, false
	}
	series, err := s.store.Series(r.Context(), id)
	switch {
	case errors.Is(err, storage.ErrRunNotFound):
		s.writeError(w, r, http.StatusNotFound, "Run not found")
		return series, false
	case err != nil:
		logger.FromContext(r.Context(), s.log).Error("load run", zap.Int64("run_id", id), zap.Error(err))
		s.writeError(w, r, http.StatusInternalServerError, "Internal server error")
		return series, false
	}
	if err := series.Validate(); err != nil {
		s.writeError(w, r, http.StatusNotFound, err.Error())
		return series, false
	}
	return series, true
}

func contentType(f export.Format) string {
	switch f {
	case export.CSV:
		return "text/csv"
	case export.YAML:
		return "application/yaml"
	default:
		return "application/json"
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.FromContext(r.Context(), s.log).Debug("write response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	s.writeJSON(w, r, status, Message{Msg: msg})
}
