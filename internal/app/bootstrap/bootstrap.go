package bootstrap

import (
	"context"
	"os"
	"path/filepath"

	"github.com/getsentry/sentry-go"
	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"legjenda/app/internal/activity"
	"legjenda/app/internal/adminrequest"
	"legjenda/app/internal/analytics"
	"legjenda/app/internal/blob"
	"legjenda/app/internal/db"
	"legjenda/app/internal/emailcheck"
	apphttp "legjenda/app/internal/http"
	"legjenda/app/internal/identity"
	"legjenda/app/internal/llm"
	"legjenda/app/internal/metrics"
	"legjenda/app/internal/platform/config"
	"legjenda/app/internal/story"
	"legjenda/app/internal/taxonomy"
)

type Dependencies struct {
	Config    config.Config
	Logger    *logrus.Logger
	SentryHub *sentry.Hub
}

type Result struct {
	HTTPServer *apphttp.Server
	Database   *gorm.DB
	Scheduler  *cron.Cron
	Cleanup    func() error
}

type migration struct {
	name string
	run  func(context.Context, *gorm.DB, *logrus.Logger) error
}

var migrations = []migration{
	{"identity", identity.Migrate},
	{"activity", activity.Migrate},
	{"taxonomy", taxonomy.Migrate},
	{"story", story.Migrate},
	{"admin request", adminrequest.Migrate},
	{"analytics", analytics.Migrate},
}

// Build composes the Legjenda services and returns the constructed components. The
// scheduler is returned stopped.
func Build(ctx context.Context, deps Dependencies) (Result, error) {
	cfg := deps.Config

	if cfg.DBDriver == config.DriverSQLite {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			return Result{}, eris.Wrap(err, "creating database directory")
		}
	}

	database, err := db.Open(db.Options{Driver: cfg.DBDriver, Path: cfg.DBPath, DSN: cfg.DBDSN})
	if err != nil {
		return Result{}, eris.Wrap(err, "opening database")
	}

	closeOnError := func(wrapper error) (Result, error) {
		if closeErr := db.Close(database); closeErr != nil && deps.Logger != nil {
			deps.Logger.WithError(closeErr).Error("closing database after bootstrap failure")
		}
		return Result{}, wrapper
	}

	for _, m := range migrations {
		if err := m.run(ctx, database, deps.Logger); err != nil {
			return closeOnError(eris.Wrapf(err, "running %s migrations", m.name))
		}
	}

	provider, err := identity.NewJWTProvider(database, identity.JWTOptions{
		Secret: cfg.JWTSecret,
		TTL:    cfg.SessionTTL,
	}, deps.Logger, deps.SentryHub)
	if err != nil {
		return closeOnError(eris.Wrap(err, "creating session provider"))
	}

	allowlist, err := identity.NewAllowlist(database, deps.Logger)
	if err != nil {
		return closeOnError(eris.Wrap(err, "creating admin allow-list"))
	}
	if err := allowlist.Seed(ctx, cfg.AdminEmails); err != nil {
		return closeOnError(eris.Wrap(err, "seeding admin allow-list"))
	}

	resolver, err := identity.NewResolver(provider, allowlist, deps.Logger, deps.SentryHub)
	if err != nil {
		return closeOnError(eris.Wrap(err, "creating identity resolver"))
	}

	activityLog, err := activity.NewLog(database, resolver, deps.Logger, deps.SentryHub)
	if err != nil {
		return closeOnError(eris.Wrap(err, "creating activity log"))
	}

	collectors := metrics.New()

	taxonomyService, err := taxonomy.NewService(database, resolver, activityLog, deps.Logger, deps.SentryHub)
	if err != nil {
		return closeOnError(eris.Wrap(err, "creating taxonomy service"))
	}
	if err := taxonomyService.SeedCategories(ctx); err != nil {
		return closeOnError(eris.Wrap(err, "seeding categories"))
	}

	storyDeps := story.Dependencies{
		DB:        database,
		Auth:      resolver,
		Activity:  activityLog,
		Observer:  collectors,
		Logger:    deps.Logger,
		SentryHub: deps.SentryHub,
	}

	if cfg.StorageEnabled() {
		store, err := blob.NewS3Store(ctx, blob.Options{
			Endpoint:      cfg.S3Endpoint,
			Region:        cfg.S3Region,
			Bucket:        cfg.S3Bucket,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			PublicBaseURL: cfg.S3PublicBaseURL,
		}, deps.Logger)
		if err != nil {
			return closeOnError(eris.Wrap(err, "creating cover store"))
		}
		storyDeps.Blob = store
	} else if deps.Logger != nil {
		deps.Logger.Warn("S3 storage not configured; cover uploads are disabled")
	}

	if cfg.LLMAPIKey != "" {
		client, err := llm.NewClient(llm.ClientOptions{
			APIKey:  cfg.LLMAPIKey,
			BaseURL: cfg.LLMEndpoint,
			Logger:  deps.Logger,
		})
		if err != nil {
			return closeOnError(eris.Wrap(err, "creating llm client"))
		}

		summarizer, err := llm.NewSummarizer(llm.SummarizerOptions{Client: client, Model: cfg.LLMModel})
		if err != nil {
			return closeOnError(eris.Wrap(err, "initialising llm summarizer"))
		}
		storyDeps.Summarizer = summarizer
	} else if deps.Logger != nil {
		deps.Logger.Warn("LLM_API_KEY not set; excerpts fall back to truncation")
	}

	storyService, err := story.NewService(storyDeps)
	if err != nil {
		return closeOnError(eris.Wrap(err, "creating story service"))
	}

	var checker emailcheck.Checker = emailcheck.Static{}
	if cfg.KickboxAPIKey != "" {
		kickbox, err := emailcheck.NewKickbox(emailcheck.KickboxOptions{
			APIKey:  cfg.KickboxAPIKey,
			BaseURL: cfg.KickboxBaseURL,
			Logger:  deps.Logger,
		})
		if err != nil {
			return closeOnError(eris.Wrap(err, "creating kickbox checker"))
		}
		checker = kickbox
	} else if deps.Logger != nil {
		deps.Logger.Warn("KICKBOX_API_KEY not set; admin request emails are not checked for deliverability")
	}

	requests, err := adminrequest.NewService(adminrequest.Dependencies{
		DB:        database,
		Auth:      resolver,
		Allowlist: allowlist,
		Checker:   checker,
		Activity:  activityLog,
		Observer:  collectors,
		Logger:    deps.Logger,
		SentryHub: deps.SentryHub,
	})
	if err != nil {
		return closeOnError(eris.Wrap(err, "creating admin request service"))
	}

	aggregator, err := analytics.NewAggregator(database, resolver, deps.Logger, deps.SentryHub)
	if err != nil {
		return closeOnError(eris.Wrap(err, "creating analytics aggregator"))
	}

	httpServer, err := apphttp.NewServer(apphttp.Options{
		Accounts:      provider,
		Resolver:      resolver,
		Stories:       storyService,
		Taxonomy:      taxonomyService,
		AdminRequests: requests,
		Analytics:     aggregator,
		Activity:      activityLog,
		Database:      database,
		Metrics:       collectors,
		Logger:        deps.Logger,
		SentryHub:     deps.SentryHub,
		RateLimiter: apphttp.RateLimiterSettings{
			Burst:             cfg.RateLimit.Burst,
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			ClientTTL:         cfg.RateLimit.ClientTTL,
		},
		CORSOrigins:  cfg.CORSOrigins,
		CoverUploads: storyDeps.Blob != nil,
		Summaries:    storyDeps.Summarizer != nil,
	})
	if err != nil {
		return closeOnError(eris.Wrap(err, "initialising http server"))
	}

	scheduler, err := newScheduler(cfg.SessionPurgeSchedule, provider, deps.Logger)
	if err != nil {
		return closeOnError(err)
	}

	cleanup := func() error {
		<-scheduler.Stop().Done()
		httpServer.Close()
		return db.Close(database)
	}

	return Result{
		HTTPServer: httpServer,
		Database:   database,
		Scheduler:  scheduler,
		Cleanup:    cleanup,
	}, nil
}

type sessionPurger interface {
	PurgeRevoked(ctx context.Context) (int64, error)
}

func newScheduler(schedule string, purger sessionPurger, logger *logrus.Logger) (*cron.Cron, error) {
	scheduler := cron.New()

	_, err := scheduler.AddFunc(schedule, func() {
		removed, err := purger.PurgeRevoked(context.Background())
		if logger == nil {
			return
		}
		if err != nil {
			logger.WithError(err).Error("purging revoked sessions")
			return
		}
		logger.WithField("removed", removed).Debug("purged revoked sessions")
	})
	if err != nil {
		return nil, eris.Wrapf(err, "invalid SESSION_PURGE_SCHEDULE %q", schedule)
	}

	return scheduler, nil
}
