package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/aeriedb/aerie/internal/logger"
	"github.com/aeriedb/aerie/pkg/coord"
	"github.com/aeriedb/aerie/pkg/coord/master"
	"github.com/aeriedb/aerie/pkg/metrics"
)

// NewRouter builds the admin router.
//
// Routes:
//   - GET /health           liveness probe
//   - GET /health/ready     readiness probe
//   - GET /metrics          Prometheus metrics (when enabled)
//   - GET /v1/sessions      tracked sessions
//   - GET /v1/handles       open handles
//   - GET /v1/locks         nodes with lock state
//   - GET /v1/namespace?path=/a/b   one node plus children
func NewRouter(m *master.Master, timeout time.Duration) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))

	r.Route("/health", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
		r.Get("/ready", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{
				"status":      "ready",
				"instance_id": m.InstanceID(),
			})
		})
	})

	if metrics.IsEnabled() {
		r.Method(http.MethodGet, "/metrics", metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/sessions", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, m.Sessions())
		})
		r.Get("/handles", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, m.Handles())
		})
		r.Get("/locks", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, m.Locks())
		})
		r.Get("/namespace", func(w http.ResponseWriter, req *http.Request) {
			path := req.URL.Query().Get("path")
			if path == "" {
				path = "/"
			}
			info, err := m.Inspect(req.Context(), path)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, info)
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("admin response encode failed", logger.KeyError, err.Error())
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch coord.CodeOf(err) {
	case coord.CodeNodeNotFound, coord.CodeAttrNotFound:
		status = http.StatusNotFound
	case coord.CodeBadRequest:
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]string{
		"code":  coord.CodeOf(err).String(),
		"error": err.Error(),
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logArgs := []any{
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			logger.KeyStatus, ww.Status(),
			logger.KeyDuration, time.Since(start).String(),
		}
		// Health probes stay at DEBUG so orchestrator polling does not
		// flood the log.
		if strings.HasPrefix(r.URL.Path, "/health") {
			logger.Debug("admin request completed", logArgs...)
		} else {
			logger.Info("admin request completed", logArgs...)
		}
	})
}
