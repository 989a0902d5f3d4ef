// Package server exposes the facegate HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/pario-ai/facegate/pkg/attendance"
	"github.com/pario-ai/facegate/pkg/gallery"
	"github.com/pario-ai/facegate/pkg/matcher"
	"github.com/pario-ai/facegate/pkg/models"
	"github.com/pario-ai/facegate/pkg/status"
	"github.com/pario-ai/facegate/pkg/tracker"
)

const maxBodyBytes = 16 << 20

// Deps are the services the API serves. History, Attendance and Gatherer are
// optional; their routes answer 503 (or are not mounted, for /metrics) when nil.
type Deps struct {
	Matcher    *matcher.Matcher
	Status     *status.Facade
	History    tracker.Tracker
	Attendance *attendance.Service
	Gatherer   prometheus.Gatherer
	Logger     zerolog.Logger
}

// Server is the facegate HTTP API.
type Server struct {
	listen string
	deps   Deps
	logger zerolog.Logger
	router chi.Router
}

// New creates a Server listening on listen.
func New(listen string, deps Deps) *Server {
	s := &Server{
		listen: listen,
		deps:   deps,
		logger: deps.Logger,
		router: chi.NewRouter(),
	}

	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealth)
	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/search", s.handleSearch)
		r.Get("/cache", s.handleCacheInfo)
		r.Delete("/cache", s.handleCacheClear)
		r.Post("/cache/preload", s.handlePreload)
		r.Get("/performance", s.handlePerformance)
		r.Get("/history", s.handleHistory)
		r.Get("/history/summary", s.handleHistorySummary)
		r.Post("/attendance", s.handleMarkAttendance)
		r.Get("/attendance", s.handleListAttendance)
	})
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe starts the server with graceful shutdown support.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.listen,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.listen).Msg("facegate listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	ready := false
	if s.deps.Matcher != nil {
		select {
		case <-s.deps.Matcher.Ready():
			ready = true
		default:
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "ready": ready})
}

type searchRequest struct {
	Sample         string                `json:"sample"`
	Gallery        []models.GalleryEntry `json:"gallery,omitempty"`
	MarkAttendance bool                  `json:"mark_attendance,omitempty"`
}

type searchResponse struct {
	models.MatchOutcome
	Progress   []progressEvent          `json:"progress"`
	Attendance *models.AttendanceRecord `json:"attendance,omitempty"`
}

type progressEvent struct {
	Processed int `json:"processed"`
	Total     int `json:"total"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Sample == "" {
		writeJSONError(w, http.StatusBadRequest, "sample is required")
		return
	}

	entries := req.Gallery
	if len(entries) == 0 {
		entries = s.deps.Matcher.Gallery()
	} else if err := gallery.Validate(entries); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	var (
		mu       sync.Mutex
		progress = make([]progressEvent, 0)
	)
	outcome := s.deps.Matcher.Search(r.Context(), req.Sample, entries, func(processed, total int) {
		mu.Lock()
		progress = append(progress, progressEvent{Processed: processed, Total: total})
		mu.Unlock()
	})
	mu.Lock()
	resp := searchResponse{MatchOutcome: outcome, Progress: append([]progressEvent(nil), progress...)}
	mu.Unlock()
	if resp.Progress == nil {
		resp.Progress = []progressEvent{}
	}

	if req.MarkAttendance && outcome.Matched && s.deps.Attendance != nil {
		rec, err := s.deps.Attendance.Mark(r.Context(), outcome.BestID, outcome.BestScore)
		if err != nil {
			s.logger.Warn().Err(err).Str("user_id", outcome.BestID).Msg("mark attendance after search")
		} else {
			resp.Attendance = &rec
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCacheInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Status.CacheInfo())
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Status.ClearAll(r.Context()); err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cleared": true})
}

type preloadRequest struct {
	Sources []string `json:"sources"`
}

func (s *Server) handlePreload(w http.ResponseWriter, r *http.Request) {
	var req preloadRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	refs := req.Sources
	if len(refs) == 0 {
		refs = models.GallerySourceRefs(s.deps.Matcher.Gallery())
	}
	writeJSON(w, http.StatusOK, s.deps.Status.Preload(r.Context(), refs))
}

func (s *Server) handlePerformance(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Status.PerformanceStats())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "run history not configured")
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	runs, err := s.deps.History.Recent(r.Context(), limit)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleHistorySummary(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "run history not configured")
		return
	}
	summary, err := s.deps.History.Summary(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type markRequest struct {
	UserID     string  `json:"user_id"`
	Similarity float64 `json:"similarity"`
}

func (s *Server) handleMarkAttendance(w http.ResponseWriter, r *http.Request) {
	if s.deps.Attendance == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "attendance not configured")
		return
	}
	var req markRequest
	if !decodeBody(w, r, &req) {
		return
	}
	rec, err := s.deps.Attendance.Mark(r.Context(), req.UserID, req.Similarity)
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, attendance.ErrInvalidMark) {
			code = http.StatusBadRequest
		}
		writeJSONError(w, code, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleListAttendance(w http.ResponseWriter, r *http.Request) {
	if s.deps.Attendance == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "attendance not configured")
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	opts := models.AttendanceQueryOpts{
		UserID: r.URL.Query().Get("user_id"),
		Limit:  limit,
	}
	if since := r.URL.Query().Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid since: %v", err))
			return
		}
		opts.Since = t
	}
	records, err := s.deps.Attendance.List(r.Context(), opts)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s: %q", name, raw)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":{"message":%q,"type":"facegate_error","code":%d}}`, message, code)
}
