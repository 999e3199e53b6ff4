// Package api exposes a read-only HTTP status surface for a running worker:
// health, governor state, consumer counters and job lookup.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/article-engine/internal/governor"
	"github.com/sells-group/article-engine/internal/model"
	"github.com/sells-group/article-engine/internal/queue"
	"github.com/sells-group/article-engine/internal/store"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	pingTimeout      = 5 * time.Second
)

// Jobs is the read side of the queue store used by the status API.
type Jobs interface {
	GetJob(ctx context.Context, id string) (*model.Job, error)
	ListJobs(ctx context.Context, filter store.JobFilter) ([]model.Job, error)
	GetArtifact(ctx context.Context, id string) (*model.Artifact, error)
	Ping(ctx context.Context) error
}

// Governor reports per-provider budget and circuit state.
type Governor interface {
	Snapshot() []governor.ProviderSnapshot
}

// Options wires the status API. Order and Stats may be nil.
type Options struct {
	Jobs           Jobs
	Governor       Governor
	Order          func() []string
	Stats          func() queue.Stats
	AllowedOrigins []string
}

type server struct {
	jobs  Jobs
	gov   Governor
	order func() []string
	stats func() queue.Stats
}

// NewHandler builds the chi router for the status API.
func NewHandler(opts Options) http.Handler {
	s := &server{
		jobs:  opts.Jobs,
		gov:   opts.Governor,
		order: opts.Order,
		stats: opts.Stats,
	}

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(requestLogger)

	r.Get("/healthz", s.health)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/providers", s.providers)
		r.Get("/stats", s.consumerStats)
		r.Get("/jobs", s.listJobs)
		r.Get("/jobs/{id}", s.getJob)
	})
	return r
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	if s.jobs != nil {
		ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
		defer cancel()
		if err := s.jobs.Ping(ctx); err != nil {
			zap.L().Warn("api: health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type providersResponse struct {
	Order     []string                    `json:"order"`
	Providers []governor.ProviderSnapshot `json:"providers"`
}

func (s *server) providers(w http.ResponseWriter, _ *http.Request) {
	resp := providersResponse{Order: []string{}, Providers: []governor.ProviderSnapshot{}}
	if s.order != nil {
		resp.Order = s.order()
	}
	if s.gov != nil {
		resp.Providers = s.gov.Snapshot()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) consumerStats(w http.ResponseWriter, _ *http.Request) {
	if s.stats == nil {
		writeError(w, http.StatusNotFound, "consumer not running")
		return
	}
	writeJSON(w, http.StatusOK, s.stats())
}

func (s *server) listJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := store.JobFilter{Limit: defaultListLimit}
	if v := q.Get("status"); v != "" {
		st := model.JobStatus(v)
		switch st {
		case model.JobStatusPending, model.JobStatusProcessing, model.JobStatusCompleted, model.JobStatusFailed:
			filter.Status = st
		default:
			writeError(w, http.StatusBadRequest, "unknown status "+strconv.Quote(v))
			return
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = min(n, maxListLimit)
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
			return
		}
		filter.Offset = n
	}

	jobs, err := s.jobs.ListJobs(r.Context(), filter)
	if err != nil {
		zap.L().Error("api: list jobs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list jobs failed")
		return
	}
	if jobs == nil {
		jobs = []model.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "count": len(jobs)})
}

type jobResponse struct {
	Job      *model.Job      `json:"job"`
	Artifact *model.Artifact `json:"artifact,omitempty"`
}

func (s *server) getJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	job, err := s.jobs.GetJob(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		zap.L().Error("api: get job", zap.String("job_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "get job failed")
		return
	}

	resp := jobResponse{Job: job}
	if job.Status == model.JobStatusCompleted {
		a, err := s.jobs.GetArtifact(r.Context(), id)
		switch {
		case err == nil:
			resp.Artifact = a
		case !errors.Is(err, store.ErrNotFound):
			zap.L().Warn("api: get artifact", zap.String("job_id", id), zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("api: write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
