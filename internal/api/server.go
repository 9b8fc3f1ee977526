// Package api exposes the analytical HTTP interface of the warehouse and
// the pipeline trigger endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/addisanalytics/medtel-warehouse/internal/metrics"
	"github.com/addisanalytics/medtel-warehouse/internal/pipeline"
	"github.com/addisanalytics/medtel-warehouse/internal/warehouse"
)

// AuthConfig enables API key checks on every route.
type AuthConfig struct {
	Enabled bool
	APIKey  string
}

// Server wires HTTP handlers to the analytics queries, the aggregation
// engine and the pipeline runner.
type Server struct {
	router    chi.Router
	analytics *Analytics
	engine    *warehouse.Engine
	runner    *pipeline.Runner
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(analytics *Analytics, engine *warehouse.Engine, runner *pipeline.Runner, auth AuthConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	s := &Server{
		analytics: analytics,
		engine:    engine,
		runner:    runner,
		logger:    logger.Named("api"),
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metricsMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))
	if auth.Enabled {
		r.Use(apiKeyMiddleware(auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/reports", func(r chi.Router) {
			r.Get("/top-products", s.topProducts)
			r.Get("/visual-content", s.visualContent)
		})
		r.Get("/channels/{channel_name}/activity", s.channelActivity)
		r.Get("/search/messages", s.searchMessages)
		r.Route("/pipeline", func(r chi.Router) {
			r.Get("/status", s.pipelineStatus)
			r.Post("/run", s.pipelineRun)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) topProducts(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 10)
	if limit > 100 {
		limit = 100
	}
	products, err := s.analytics.TopProducts(r.Context(), limit)
	if err != nil {
		s.logger.Error("top products query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": emptyIfNil(products)})
}

func (s *Server) channelActivity(w http.ResponseWriter, r *http.Request) {
	channel := chi.URLParam(r, "channel_name")
	activity, err := s.analytics.ChannelActivity(r.Context(), channel)
	if err != nil {
		s.logger.Error("channel activity query failed", zap.String("channel", channel), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"channel_name": channel,
		"activity":     emptyIfNil(activity),
	})
}

func (s *Server) searchMessages(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	if SanitizeQuery(query) == "" {
		writeError(w, http.StatusBadRequest, "query parameter is required")
		return
	}
	limit := queryInt(r, "limit", 20)
	if limit > 100 {
		limit = 100
	}
	results, err := s.analytics.SearchMessages(r.Context(), query, limit)
	if err != nil {
		s.logger.Error("message search failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": emptyIfNil(results)})
}

func (s *Server) visualContent(w http.ResponseWriter, r *http.Request) {
	aggregates, err := s.engine.AggregateByChannel(r.Context())
	if err != nil {
		s.logger.Error("visual content rollup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"channels": emptyIfNil(aggregates)})
}

func (s *Server) pipelineStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.runner.Snapshot())
}

func (s *Server) pipelineRun(w http.ResponseWriter, r *http.Request) {
	// The run outlives the request; detach it from the request lifecycle.
	runID, err := s.runner.Start(context.WithoutCancel(r.Context()))
	if err != nil {
		if errors.Is(err, pipeline.ErrRunInProgress) {
			writeError(w, http.StatusConflict, "a pipeline run is already in progress")
			return
		}
		s.logger.Error("pipeline trigger failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to start run")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// emptyIfNil keeps JSON arrays as [] rather than null.
func emptyIfNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

type requestIDKey struct{}

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
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unknown"
		}
		metrics.ObserveHTTPRequest(r.Method, route, ww.status, time.Since(start))
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

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
