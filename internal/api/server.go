package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/sourcesync/internal/clock/system"
	"github.com/JakeFAU/sourcesync/internal/ingest"
	"github.com/JakeFAU/sourcesync/internal/lifecycle"
	"github.com/JakeFAU/sourcesync/internal/metrics"
	"github.com/JakeFAU/sourcesync/internal/progress"
	"github.com/JakeFAU/sourcesync/internal/scheduler"
)

const defaultRequestTimeout = 30 * time.Second

// Scheduler is the control surface the API drives.
type Scheduler interface {
	GetStatus() scheduler.Status
	TriggerNow(ctx context.Context, sourceID string) (*ingest.WorkerHandle, error)
	Tick(ctx context.Context) (int, error)
	Forget(sourceID string)
}

// Lifecycle applies operator actions to a source.
type Lifecycle interface {
	Pause(ctx context.Context, sourceID string) error
	Resume(ctx context.Context, sourceID string) error
	ResetErrors(ctx context.Context, sourceID string) error
	Delete(ctx context.Context, sourceID string) error
}

// SourceReader serves read-only source views.
type SourceReader interface {
	GetSource(ctx context.Context, id string) (ingest.Source, error)
	ListSources(ctx context.Context) ([]ingest.Source, error)
}

// History returns recently finished runs for a source, newest first.
type History interface {
	Recent(sourceID string) []progress.Event
}

// Config controls optional server behavior.
type Config struct {
	APIKey         string
	RequestTimeout time.Duration
}

// Deps groups the server's collaborators. History may be nil; Clock
// defaults to the system clock.
type Deps struct {
	Scheduler Scheduler
	Lifecycle Lifecycle
	Sources   SourceReader
	History   History
	Clock     ingest.Clock
}

// Server wires HTTP handlers to the scheduler and lifecycle manager.
type Server struct {
	router chi.Router
	deps   Deps
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	s := &Server{deps: deps, logger: logger.Named("api")}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(cfg.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Get("/scheduler/status", s.schedulerStatus)
		r.Post("/scheduler/tick", s.schedulerTick)
		r.Get("/sources", s.listSources)
		r.Route("/sources/{source_id}", func(r chi.Router) {
			r.Get("/", s.getSource)
			r.Delete("/", s.deleteSource)
			r.Get("/history", s.sourceHistory)
			r.Post("/sync", s.syncSource)
			r.Post("/pause", s.pauseSource)
			r.Post("/resume", s.resumeSource)
			r.Post("/reset-errors", s.resetErrors)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) schedulerStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Scheduler.GetStatus())
}

func (s *Server) schedulerTick(w http.ResponseWriter, r *http.Request) {
	n, err := s.deps.Scheduler.Tick(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"dispatched": n})
}

func (s *Server) listSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.deps.Sources.ListSources(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": s.viewSources(sources...)})
}

func (s *Server) getSource(w http.ResponseWriter, r *http.Request) {
	source, err := s.deps.Sources.GetSource(r.Context(), chi.URLParam(r, "source_id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.viewSources(source)[0])
}

// deleteSource removes the source and drops any scheduler bookkeeping for it.
// A worker already collecting the source finishes without recording.
func (s *Server) deleteSource(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "source_id")
	if err := s.deps.Lifecycle.Delete(r.Context(), id); err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.deps.Scheduler.Forget(id)
	writeJSON(w, http.StatusOK, map[string]string{"source_id": id, "status": "deleted"})
}

type sourceView struct {
	ingest.Source
	State lifecycle.State `json:"state"`
}

func (s *Server) viewSources(sources ...ingest.Source) []sourceView {
	collecting := make(map[string]bool)
	for _, w := range s.deps.Scheduler.GetStatus().Active {
		collecting[w.SourceID] = true
	}
	now := s.deps.Clock.Now()
	views := make([]sourceView, 0, len(sources))
	for _, src := range sources {
		views = append(views, sourceView{
			Source: src,
			State:  lifecycle.StateOf(src, now, collecting[src.ID]),
		})
	}
	return views
}

func (s *Server) sourceHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "source_id")
	if s.deps.History == nil {
		writeError(w, http.StatusNotFound, "run history is disabled")
		return
	}
	events := s.deps.History.Recent(id)
	runs := make([]runView, 0, len(events))
	for _, evt := range events {
		runs = append(runs, newRunView(evt))
	}
	writeJSON(w, http.StatusOK, map[string]any{"source_id": id, "runs": runs})
}

func (s *Server) syncSource(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "source_id")
	h, err := s.deps.Scheduler.TriggerNow(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"source_id":  h.SourceID,
		"started_at": h.StartedAt,
		"trigger":    h.Trigger,
	})
}

func (s *Server) pauseSource(w http.ResponseWriter, r *http.Request) {
	s.applyAction(w, r, "paused", s.deps.Lifecycle.Pause)
}

func (s *Server) resumeSource(w http.ResponseWriter, r *http.Request) {
	s.applyAction(w, r, "resumed", s.deps.Lifecycle.Resume)
}

func (s *Server) resetErrors(w http.ResponseWriter, r *http.Request) {
	s.applyAction(w, r, "errors_reset", s.deps.Lifecycle.ResetErrors)
}

func (s *Server) applyAction(
	w http.ResponseWriter,
	r *http.Request,
	status string,
	action func(context.Context, string) error,
) {
	id := chi.URLParam(r, "source_id")
	if err := action(r.Context(), id); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"source_id": id, "status": status})
}

func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	var cfgErr *ingest.ConfigurationError
	switch {
	case errors.Is(err, ingest.ErrSourceNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ingest.ErrAlreadyRunning),
		errors.Is(err, ingest.ErrSourcePaused),
		errors.Is(err, ingest.ErrSourceInactive):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ingest.ErrSchedulerStopped), errors.Is(err, scheduler.ErrAtCapacity):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &cfgErr):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

type runView struct {
	RunID      string    `json:"run_id"`
	Stage      string    `json:"stage"`
	Trigger    string    `json:"trigger"`
	FinishedAt time.Time `json:"finished_at"`
	Documents  int       `json:"documents"`
	DurationMS int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
}

func newRunView(evt progress.Event) runView {
	return runView{
		RunID:      evt.RunUUID().String(),
		Stage:      string(evt.Stage),
		Trigger:    evt.Trigger,
		FinishedAt: evt.TS,
		Documents:  evt.Documents,
		DurationMS: evt.Dur.Milliseconds(),
		Error:      evt.Note,
	}
}

type requestIDKey struct{}

// RequestID returns the request ID stored by the server middleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
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
		s.logger.Info("request completed",
			zap.String("request_id", RequestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec), zap.String("path", r.URL.Path))
				writeError(w, http.StatusInternalServerError, "internal server error")
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

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
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

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
