package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/vietddude/squai/internal/core/domain"
	"github.com/vietddude/squai/internal/infra/requester"
	"github.com/vietddude/squai/internal/infra/storage"
	"github.com/vietddude/squai/internal/metrics"
	"github.com/vietddude/squai/internal/qa"
)

// Answerer answers questions.
type Answerer interface {
	NewQuery(question string) domain.Query
	Answer(ctx context.Context, q domain.Query) (*qa.Outcome, error)
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Config holds gateway settings.
type Config struct {
	Port           int           `yaml:"port"`
	RateLimit      float64       `yaml:"rate_limit"` // submits per second, 0 = unlimited
	RateBurst      int           `yaml:"rate_burst"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// Server exposes the question form, a JSON API, health and metrics.
type Server struct {
	answerer Answerer
	history  storage.HistoryRepository
	checks   map[string]HealthCheck
	limiter  *rate.Limiter
	timeout  time.Duration
	server   *http.Server
	log      *slog.Logger
}

// NewServer creates a new gateway server. history may be nil.
func NewServer(cfg Config, answerer Answerer, history storage.HistoryRepository, checks map[string]HealthCheck) *Server {
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}

	mux := http.NewServeMux()
	s := &Server{
		answerer: answerer,
		history:  history,
		checks:   checks,
		limiter:  rate.NewLimiter(limit, burst),
		timeout:  cfg.RequestTimeout,
		log:      slog.Default().With("component", "server"),
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}

	mux.Handle("GET /{$}", s.instrument("form", http.HandlerFunc(s.handleForm)))
	mux.Handle("POST /{$}", s.instrument("submit", s.limited(http.HandlerFunc(s.handleSubmit))))
	mux.Handle("POST /api/ask", s.instrument("api_ask", s.limited(http.HandlerFunc(s.handleAsk))))
	mux.Handle("GET /api/history", s.instrument("api_history", http.HandlerFunc(s.handleHistory)))
	mux.Handle("GET /api/history/{id}", s.instrument("api_history_entry", http.HandlerFunc(s.handleHistoryEntry)))
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server. It blocks until the server stops.
func (s *Server) Start() error {
	s.log.Info("Gateway listening", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type askResponse struct {
	ID         string             `json:"id"`
	Cached     bool               `json:"cached"`
	DurationMS int64              `json:"duration_ms"`
	Split      domain.SplitResult `json:"split"`
	domain.AskResult
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	q := s.answerer.NewQuery("")
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&q); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body: " + err.Error()})
		return
	}

	out, err := s.answer(r.Context(), q)
	if err != nil {
		writeJSON(w, statusFor(err), errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, askResponse{
		ID:         out.ID,
		Cached:     out.Cached,
		DurationMS: out.Duration.Milliseconds(),
		Split:      out.Answer.Split,
		AskResult:  out.Answer.Result,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "history is disabled"})
		return
	}

	limit := storage.DefaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}

	entries, err := s.history.List(r.Context(), limit)
	if err != nil {
		s.log.Error("Failed to list history", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to list history"})
		return
	}
	if total, err := s.history.Count(r.Context()); err == nil {
		w.Header().Set("X-Total-Count", strconv.Itoa(total))
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleHistoryEntry(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "history is disabled"})
		return
	}

	entry, err := s.history.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, storage.ErrHistoryNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	}
	if err != nil {
		s.log.Error("Failed to get history entry", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to get history entry"})
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := "healthy"
	deps := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			deps[name] = err.Error()
			status = "degraded"
			continue
		}
		deps[name] = "ok"
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": status, "dependencies": deps})
}

// answer applies the per-request timeout on top of the caller's context.
func (s *Server) answer(ctx context.Context, q domain.Query) (*qa.Outcome, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	return s.answerer.Answer(ctx, q)
}

func (s *Server) limited(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "too many requests"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// statusFor maps an answer error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidQuery):
		return http.StatusBadRequest
	case errors.Is(err, requester.ErrTimeoutExceeded), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
