package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/mithzak/are-you-dead/internal/metrics"

	"go.uber.org/zap"
)

// Router http.ServeMux with request metrics and access logging
type Router struct {
	mux     *http.ServeMux
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewRouter(m *metrics.Metrics, logger *zap.Logger) *Router {
	return &Router{
		mux:     http.NewServeMux(),
		metrics: m,
		logger:  logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.Handle(pattern, r.instrument(pattern, h))
}

// HandleHandler registers a plain http.Handler (metrics exposition)
func (r *Router) HandleHandler(pattern string, h http.Handler) {
	r.mux.Handle(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// RegisterRoutes wires the check-in API
func (r *Router) RegisterRoutes(h *Handler) {
	r.Handle("/api/check-in", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.CheckIn(w, req)
	})

	r.Handle("/api/users", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.Register(w, req)
	})

	// /api/users/{id}, /api/users/{id}/check-ins, /api/users/{id}/escalations
	r.Handle("/api/users/", func(w http.ResponseWriter, req *http.Request) {
		rest := strings.TrimPrefix(req.URL.Path, "/api/users/")
		id, sub, _ := strings.Cut(rest, "/")
		if id == "" {
			writeJSON(w, http.StatusNotFound, Fail("not found"))
			return
		}

		switch {
		case sub == "" && req.Method == http.MethodGet:
			h.Status(w, req, id)
		case sub == "" && req.Method == http.MethodDelete:
			h.Erase(w, req, id)
		case sub == "check-ins" && req.Method == http.MethodGet:
			h.History(w, req, id)
		case sub == "escalations" && req.Method == http.MethodGet:
			h.Escalations(w, req, id)
		case sub == "" || sub == "check-ins" || sub == "escalations":
			w.WriteHeader(http.StatusMethodNotAllowed)
		default:
			writeJSON(w, http.StatusNotFound, Fail("not found"))
		}
	})

	r.Handle("/healthz", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (r *Router) instrument(route string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, req)

		elapsed := time.Since(started)
		r.metrics.HTTPRequest(req.Method, route, rec.status, elapsed)
		r.logger.Debug("HTTP request",
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", elapsed),
		)
	})
}
