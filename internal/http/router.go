package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nathanwhyte/build-hook/internal/service/pipeline"
)

// Pipeline is the part of the pipeline service the router drives.
type Pipeline interface {
	Trigger(ctx context.Context, slug string) (pipeline.Run, error)
	Ready() error
}

// Options configures a Router.
type Options struct {
	Logger   *slog.Logger
	Pipeline Pipeline
	// Tokens is the bearer token allow-list for build triggers.
	Tokens []string
	// Registry receives the HTTP collectors and backs /metrics. The default
	// Prometheus registry is used when nil.
	Registry *prometheus.Registry
}

// Router exposes HTTP endpoints for the build hook.
type Router struct {
	mux      chi.Router
	logger   *slog.Logger
	pipeline Pipeline
	auth     *tokenAuth
	metrics  *httpMetrics
	gatherer prometheus.Gatherer
}

// New creates and registers handlers.
func New(opts Options) *Router {
	var (
		reg      prometheus.Registerer = prometheus.DefaultRegisterer
		gatherer prometheus.Gatherer   = prometheus.DefaultGatherer
	)
	if opts.Registry != nil {
		reg, gatherer = opts.Registry, opts.Registry
	}
	r := &Router{
		mux:      chi.NewRouter(),
		logger:   opts.Logger,
		pipeline: opts.Pipeline,
		auth:     newTokenAuth(opts.Tokens),
		metrics:  newHTTPMetrics(reg),
		gatherer: gatherer,
	}
	r.routes()
	return r
}

// ServeHTTP satisfies http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func (r *Router) routes() {
	r.mux.Use(middleware.Recoverer)
	r.mux.Handle("/metrics", promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{}))
	r.mux.Get("/health", r.instrument("/health", r.handleHealth))
	r.mux.Get("/ready", r.instrument("/ready", r.handleReady))
	r.mux.Post("/{slug}", r.instrument("/{slug}", r.requireAuth(r.handleTrigger)))
}

func (r *Router) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (r *Router) handleReady(w http.ResponseWriter, _ *http.Request) {
	if err := r.pipeline.Ready(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type triggerResponse struct {
	Status  string `json:"status"`
	Project string `json:"project"`
	BuildID string `json:"build_id"`
	Message string `json:"message"`
}

func (r *Router) handleTrigger(w http.ResponseWriter, req *http.Request) {
	slug := chi.URLParam(req, "slug")
	ctx := req.Context()
	if caller, ok := callerFromContext(ctx); ok {
		ctx = pipeline.WithCaller(ctx, caller)
	}

	run, err := r.pipeline.Trigger(ctx, slug)
	if err != nil {
		r.logger.Warn("build trigger failed", "project", slug, "error", err)
		writeError(w, triggerStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, triggerResponse{
		Status:  "started",
		Project: run.Project,
		BuildID: run.ID,
		Message: "Build started; rollout restart will run after build completes",
	})
}

func triggerStatus(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrUnknownProject):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrBuildInProgress):
		return http.StatusConflict
	case errors.Is(err, pipeline.ErrBuilderNotReady):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// instrument records request count and latency under a fixed route label.
func (r *Router) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &responseRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)
		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		r.metrics.record(req.Method, route, status, time.Since(start))
		r.logger.Debug("request handled", "method", req.Method, "path", req.URL.Path, "status", status)
	}
}
