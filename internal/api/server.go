package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/clip-harvester/internal/clip"
	"github.com/JakeFAU/clip-harvester/internal/entity"
	"github.com/JakeFAU/clip-harvester/internal/harvest"
	"github.com/JakeFAU/clip-harvester/internal/metrics"
)

// Runs is the harvest surface the server drives.
type Runs interface {
	Status() harvest.Report
	Start(ctx context.Context, phases ...harvest.Phase) error
}

// Directory answers lookups against the harvested records.
type Directory interface {
	FindStudents(ctx context.Context, query string) ([]entity.Student, error)
	PeriodsForMonth(month time.Month) []*entity.Period
}

// Config tunes the server.
type Config struct {
	// APIKey guards every route but the probes when set.
	APIKey         string
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the harvester and the store.
type Server struct {
	router    chi.Router
	runs      Runs
	directory Directory
	clock     clip.Clock
	logger    *zap.Logger
	// runCtx outlives requests; background runs are started on it.
	runCtx context.Context
}

// NewServer constructs a Server with middleware and routes. Background runs
// started through the API are bound to runCtx.
func NewServer(runCtx context.Context, runs Runs, directory Directory, clock clip.Clock, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	s := &Server{
		runs:      runs,
		directory: directory,
		clock:     clock,
		logger:    logger.Named("api"),
		runCtx:    runCtx,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(metrics.Middleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(cfg.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Group(func(r chi.Router) {
		if cfg.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Method(http.MethodGet, "/metrics", metrics.Handler())
		r.Route("/v1", func(r chi.Router) {
			r.Get("/status", s.status)
			r.Post("/runs", s.startRun)
			r.Get("/students", s.findStudents)
			r.Get("/periods/current", s.currentPeriods)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server started", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve %s: %w", addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.runs.Status())
}

type runRequest struct {
	Phases []string `json:"phases"`
}

func (s *Server) startRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	phases := make([]harvest.Phase, 0, len(req.Phases))
	for _, name := range req.Phases {
		p, err := harvest.ParsePhase(name)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		phases = append(phases, p)
	}

	if err := s.runs.Start(s.runCtx, phases...); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, harvest.ErrRunning) {
			status = http.StatusConflict
		}
		s.writeError(w, status, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{"phases": req.Phases, "status": "started"})
}

type studentView struct {
	ExternalID   string `json:"external_id"`
	Name         string `json:"name"`
	Abbreviation string `json:"abbreviation,omitempty"`
	Course       string `json:"course,omitempty"`
	Institution  string `json:"institution,omitempty"`
}

func (s *Server) findStudents(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		s.writeError(w, http.StatusBadRequest, "q required")
		return
	}
	students, err := s.directory.FindStudents(r.Context(), q)
	if err != nil {
		s.logger.Error("find students", zap.String("query", q), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "student search failed")
		return
	}
	out := make([]studentView, 0, len(students))
	for _, st := range students {
		v := studentView{ExternalID: st.ExternalID, Name: st.Name, Abbreviation: st.Abbreviation}
		if st.Course != nil {
			v.Course = st.Course.Abbreviation
		}
		if st.Institution != nil {
			v.Institution = st.Institution.Abbreviation
		}
		out = append(out, v)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"students": out})
}

type periodView struct {
	Letter string `json:"letter"`
	Stage  int    `json:"stage"`
	Stages int    `json:"stages"`
	Name   string `json:"name"`
}

func (s *Server) currentPeriods(w http.ResponseWriter, _ *http.Request) {
	now := s.clock.Now()
	periods := s.directory.PeriodsForMonth(now.Month())
	out := make([]periodView, 0, len(periods))
	for _, p := range periods {
		out = append(out, periodView{Letter: p.Letter, Stage: p.Stage, Stages: p.Stages, Name: p.String()})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"month": int(now.Month()), "periods": out})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		reqID, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.Debug("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", reqID),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec), zap.String("path", r.URL.Path))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"error":"unauthorized"}` + "\n"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
