// Package server exposes the protection pipeline over HTTP.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ipishield/ipishield/internal/gateway"
	"github.com/ipishield/ipishield/internal/logging"
	"github.com/ipishield/ipishield/internal/ratelimit"
)

// MaxBodySize is the maximum allowed request body size (10MB).
const MaxBodySize = 10 * 1024 * 1024

// Option configures the Server.
type Option func(*Server)

// WithRateLimiter throttles requests per client IP.
func WithRateLimiter(l *ratelimit.Limiter) Option {
	return func(s *Server) { s.limiter = l }
}

// WithSanitizeDefaults sets the sanitisation mode and custom patterns
// applied when a request leaves them unset.
func WithSanitizeDefaults(mode string, patterns []string) Option {
	return func(s *Server) {
		s.defaultMode = mode
		s.defaultPatterns = patterns
	}
}

// Server is the HTTP front for the gateway.
type Server struct {
	gw      *gateway.Gateway
	limiter *ratelimit.Limiter
	started time.Time

	defaultMode     string
	defaultPatterns []string
}

// New creates a Server around a gateway.
func New(gw *gateway.Gateway, opts ...Option) *Server {
	s := &Server{
		gw:          gw,
		started:     time.Now(),
		defaultMode: "BALANCED",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP handler with the middleware chain applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /analyze", s.handleAnalyze)
	mux.HandleFunc("POST /analyze/file", s.handleAnalyzeFile)
	mux.HandleFunc("POST /sanitize", s.handleSanitize)
	mux.HandleFunc("POST /sanitize/batch", s.handleSanitizeBatch)
	mux.HandleFunc("POST /proxy_llm", s.handleProxy)
	mux.HandleFunc("GET /report/{id}", s.handleReport)
	mux.HandleFunc("GET /report/{id}/html", s.handleReportHTML)
	mux.HandleFunc("GET /reports", s.handleReports)
	mux.HandleFunc("GET /proxy/stats", s.handleStats)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	var handler http.Handler = mux
	if s.limiter != nil {
		handler = s.limiter.Middleware(handler)
	}
	return requestIDMiddleware(logMiddleware(handler))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// logMiddleware emits one structured event per handled request.
func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		logging.RequestEvent{
			Action:     strings.TrimPrefix(r.URL.Path, "/"),
			RequestID:  w.Header().Get("X-Request-ID"),
			Path:       r.URL.Path,
			Method:     r.Method,
			StatusCode: rec.status,
		}.Log(slog.Default())
	})
}

// requestIDMiddleware tags every response with an X-Request-ID, keeping
// the caller's id when one is supplied.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

type pinger interface {
	Ping(ctx context.Context) error
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	storeStatus := "operational"
	if p, ok := s.gw.Store().(pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			storeStatus = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "healthy",
		"uptime_seconds": int(time.Since(s.started).Seconds()),
		"components": map[string]string{
			"detector":    "operational",
			"sanitizer":   "operational",
			"audit_store": storeStatus,
		},
	})
}
