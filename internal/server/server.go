// Package server exposes the monitoring and confidence API over HTTP.
//
// Feedback never enters the system through this API; it is collected in
// process. The surface here is observational (health, integrity,
// patterns, adaptations, learning state, cycle history), plus manual
// cycle triggering and decision-scoped confidence scoring.
package server

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/wesheets/promethios-sub018/internal/adaptation"
	"github.com/wesheets/promethios-sub018/internal/confidence"
	"github.com/wesheets/promethios-sub018/internal/learning"
	"github.com/wesheets/promethios-sub018/internal/memory"
	promotel "github.com/wesheets/promethios-sub018/internal/otel"
)

const defaultTimeout = 30 * time.Second

// Server holds all dependencies for the ops HTTP API.
type Server struct {
	router     *chi.Mux
	store      *memory.Store
	controller *learning.Controller
	engine     *adaptation.Engine
	scorer     *confidence.Scorer
	analytics  *confidence.Analytics
	apiKey     string
	limiter    *rate.Limiter
	startTime  time.Time
}

// Option configures the Server.
type Option func(*Server)

// WithAPIKey enables bearer token auth on every route except health.
func WithAPIKey(key string) Option {
	return func(s *Server) { s.apiKey = key }
}

// WithRateLimit caps requests per second with the given burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Server) { s.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// WithAnalytics exposes the confidence analytics log.
func WithAnalytics(a *confidence.Analytics) Option {
	return func(s *Server) { s.analytics = a }
}

// NewServer builds a Server with the required dependencies.
func NewServer(store *memory.Store, controller *learning.Controller, engine *adaptation.Engine, scorer *confidence.Scorer, opts ...Option) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		store:      store,
		controller: controller,
		engine:     engine,
		scorer:     scorer,
		limiter:    rate.NewLimiter(rate.Limit(50), 100),
		startTime:  time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes returns the configured http.Handler.
func (s *Server) Routes() http.Handler {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(defaultTimeout))
	r.Use(promotel.Middleware())
	r.Use(s.rateLimitMiddleware)

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/v1/memory/integrity", s.handleIntegrity)
		r.Get("/v1/memory/counts", s.handleCounts)
		r.Get("/v1/patterns", s.handlePatterns)
		r.Get("/v1/adaptations", s.handleAdaptations)
		r.Get("/v1/adaptations/{id}", s.handleAdaptation)
		r.Get("/v1/learning/state", s.handleLearningState)
		r.Get("/v1/learning/cycles", s.handleCycleHistory)
		r.Post("/v1/learning/cycle", s.handleRunCycle)
		r.Get("/v1/runtime", s.handleRuntime)
		r.Post("/v1/confidence/{decisionID}", s.handleCalculateConfidence)
		r.Put("/v1/confidence/{decisionID}", s.handleUpdateConfidence)
		r.Get("/v1/confidence/{decisionID}", s.handleGetConfidence)
		r.Get("/v1/confidence/{decisionID}/analytics", s.handleConfidenceAnalytics)
	})

	return r
}

// authMiddleware validates Authorization: Bearer <key>. With no key
// configured, auth is disabled.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" {
			next.ServeHTTP(w, r)
			return
		}
		key := ""
		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			key = strings.TrimPrefix(auth, "Bearer ")
		}
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid or missing API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate_limited", "Too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}
