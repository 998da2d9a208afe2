// Package api exposes search sessions, stored businesses and site
// generation over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/platter/internal/metrics"
	"github.com/sells-group/platter/internal/model"
	"github.com/sells-group/platter/internal/pipeline"
	"github.com/sells-group/platter/internal/resilience"
	"github.com/sells-group/platter/internal/sitegen"
	"github.com/sells-group/platter/internal/store"
)

// Searches starts and reports on search sessions.
type Searches interface {
	Start(ctx context.Context, query string) (string, error)
	Status(ctx context.Context, id string, since time.Time) (*pipeline.StatusView, error)
	Results(ctx context.Context, id string) ([]model.Card, error)
	BreakerState() resilience.CircuitState
}

// Deployer builds and publishes the sites for one business.
type Deployer interface {
	Deploy(ctx context.Context, rec model.Record) (*sitegen.Output, error)
}

// Server holds the handlers' collaborators.
type Server struct {
	searches       Searches
	store          store.Store
	sites          Deployer
	metrics        *metrics.Metrics
	allowedOrigins []string
	sitesDir       string
	log            *zap.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithDeployer enables POST /api/generate.
func WithDeployer(d Deployer) Option {
	return func(s *Server) { s.sites = d }
}

// WithMetrics records request counts and serves GET /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithAllowedOrigins sets the CORS origins. Empty means any origin.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) {
		if len(origins) > 0 {
			s.allowedOrigins = origins
		}
	}
}

// WithSitesDir serves locally published sites under /sites/.
func WithSitesDir(dir string) Option {
	return func(s *Server) { s.sitesDir = dir }
}

// NewServer creates a Server.
func NewServer(searches Searches, st store.Store, opts ...Option) *Server {
	s := &Server{
		searches:       searches,
		store:          st,
		allowedOrigins: []string{"*"},
		log:            zap.L().With(zap.String("component", "api")),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.recoverer)
	r.Use(s.instrument)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/search", s.handleStartSearch)
		r.Get("/search/{id}/status", s.handleSearchStatus)
		r.Get("/results/{id}", s.handleResults)
		r.Get("/businesses", s.handleListBusinesses)
		r.Patch("/businesses/{id}", s.handleUpdateBusiness)
		r.Get("/sites", s.handleListSites)
		r.Post("/generate", s.handleGenerate)
	})

	if s.sitesDir != "" {
		r.Handle("/sites/*", http.StripPrefix("/sites/", http.FileServer(http.Dir(s.sitesDir))))
	}
	return r
}

// instrument counts requests by route pattern so ids stay out of labels.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		s.metrics.HTTPRequest(route, r.Method, ww.Status())
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				s.log.Error("api: handler panicked", zap.Any("panic", v), zap.Stack("stack"))
				writeError(w, http.StatusInternalServerError, "Internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
