package http

import (
	"context"
	stdhttp "net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/getsentry/sentry-go"
	"github.com/rotisserie/eris"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"legjenda/app/internal/activity"
	"legjenda/app/internal/adminrequest"
	"legjenda/app/internal/analytics"
	"legjenda/app/internal/identity"
	"legjenda/app/internal/metrics"
	"legjenda/app/internal/story"
	"legjenda/app/internal/taxonomy"
)

// Accounts signs users up, in and out.
type Accounts interface {
	Register(ctx context.Context, email, password, fullName string) (*identity.Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (*identity.Session, error)
	SignOut(ctx context.Context) error
}

// VerdictResolver answers who the caller is.
type VerdictResolver interface {
	Resolve(ctx context.Context) (identity.Verdict, error)
}

// Options configures the HTTP server wiring.
type Options struct {
	Accounts      Accounts
	Resolver      VerdictResolver
	Stories       story.Service
	Taxonomy      taxonomy.Service
	AdminRequests adminrequest.Service
	Analytics     *analytics.Aggregator
	Activity      *activity.Log
	Database      *gorm.DB
	Metrics       *metrics.Metrics
	Logger        *logrus.Logger
	SentryHub     *sentry.Hub
	RateLimiter   RateLimiterSettings
	CORSOrigins   []string
	// CoverUploads reports whether a blob store is configured, for the health check.
	CoverUploads bool
	// Summaries reports whether an LLM summarizer is configured, for the health check.
	Summaries bool
}

// RateLimiterSettings configures the HTTP rate limiter behaviour.
type RateLimiterSettings struct {
	RequestsPerSecond float64
	Burst             int
	ClientTTL         time.Duration
}

// Server wires the JSON API via Huma.
type Server struct {
	api           huma.API
	mux           *stdhttp.ServeMux
	handler       stdhttp.Handler
	accounts      Accounts
	resolver      VerdictResolver
	stories       story.Service
	taxonomy      taxonomy.Service
	adminRequests adminrequest.Service
	analytics     *analytics.Aggregator
	activity      *activity.Log
	metrics       *metrics.Metrics
	logger        *logrus.Logger
	sentry        *sentry.Hub
	db            *gorm.DB
	rateLimiter   *RateLimiter
	coverUploads  bool
	summaries     bool
}

// NewServer constructs the HTTP server.
func NewServer(opts Options) (*Server, error) {
	switch {
	case opts.Accounts == nil:
		return nil, eris.New("accounts are required")
	case opts.Resolver == nil:
		return nil, eris.New("resolver is required")
	case opts.Stories == nil:
		return nil, eris.New("story service is required")
	case opts.Taxonomy == nil:
		return nil, eris.New("taxonomy service is required")
	case opts.AdminRequests == nil:
		return nil, eris.New("admin request service is required")
	case opts.Analytics == nil:
		return nil, eris.New("analytics aggregator is required")
	case opts.Activity == nil:
		return nil, eris.New("activity log is required")
	case opts.Database == nil:
		return nil, eris.New("database is required")
	}

	mux := stdhttp.NewServeMux()
	config := huma.DefaultConfig("Legjenda API", "1.0.0")
	config.Info.Description = "Bilingual stories, moderation and community interactions."

	api := humago.New(mux, config)

	srv := &Server{
		api:           api,
		mux:           mux,
		accounts:      opts.Accounts,
		resolver:      opts.Resolver,
		stories:       opts.Stories,
		taxonomy:      opts.Taxonomy,
		adminRequests: opts.AdminRequests,
		analytics:     opts.Analytics,
		activity:      opts.Activity,
		metrics:       opts.Metrics,
		logger:        opts.Logger,
		sentry:        opts.SentryHub,
		db:            opts.Database,
		coverUploads:  opts.CoverUploads,
		summaries:     opts.Summaries,
	}

	settings := opts.RateLimiter
	if settings.Burst <= 0 {
		return nil, eris.New("rate limiter burst must be greater than zero")
	}
	if settings.RequestsPerSecond <= 0 {
		return nil, eris.New("rate limiter requests per second must be greater than zero")
	}
	if settings.ClientTTL <= 0 {
		return nil, eris.New("rate limiter client TTL must be greater than zero")
	}

	var observer limiterObserver
	if opts.Metrics != nil {
		observer = opts.Metrics
	}
	srv.rateLimiter = NewRateLimiter(settings, observer)

	srv.registerMiddlewares()
	srv.registerRoutes()

	srv.handler = cors.New(cors.Options{
		AllowedOrigins:   opts.CORSOrigins,
		AllowedMethods:   []string{stdhttp.MethodGet, stdhttp.MethodPost, stdhttp.MethodPut, stdhttp.MethodPatch, stdhttp.MethodDelete},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           600,
	}).Handler(mux)

	return srv, nil
}

// Handler exposes the HTTP handler, CORS included, for wiring into the application.
func (s *Server) Handler() stdhttp.Handler {
	return s.handler
}

// API exposes the underlying Huma API instance.
func (s *Server) API() huma.API {
	return s.api
}

func (s *Server) registerMiddlewares() {
	s.api.UseMiddleware(
		s.sentryMiddleware(),
		s.recoveryMiddleware(),
		s.requestIDMiddleware(),
		s.requestMetadataMiddleware(),
		s.rateLimitMiddleware(),
		s.metricsMiddleware(),
		s.loggingMiddleware(),
	)
}

func (s *Server) registerRoutes() {
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}

	s.registerHealthRoute()
	s.registerAuthRoutes()
	s.registerTaxonomyRoutes()
	s.registerStoryRoutes()
	s.registerInteractionRoutes()
	s.registerCommunityRoutes()
	s.registerAdminStoryRoutes()
	s.registerAdminModerationRoutes()
	s.registerAdminTaxonomyRoutes()
	s.registerAdminInsightRoutes()
}

// Close stops background work owned by the server.
func (s *Server) Close() {
	s.rateLimiter.Close()
}

func (s *Server) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	s.handler.ServeHTTP(w, r)
}
