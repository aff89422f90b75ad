package app

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/api"
	"github.com/JakeFAU/catalog-crawler/internal/clock/system"
	"github.com/JakeFAU/catalog-crawler/internal/config"
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/extract"
	collyfetcher "github.com/JakeFAU/catalog-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/catalog-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/catalog-crawler/internal/id/uuid"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
	"github.com/JakeFAU/catalog-crawler/internal/orchestrator"
	"github.com/JakeFAU/catalog-crawler/internal/policy/ratelimit"
	gcppublisher "github.com/JakeFAU/catalog-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/catalog-crawler/internal/robots"
	"github.com/JakeFAU/catalog-crawler/internal/scheduler"
	gcsstorage "github.com/JakeFAU/catalog-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/catalog-crawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/catalog-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/catalog-crawler/internal/storage/postgres"
	"github.com/JakeFAU/catalog-crawler/internal/telemetry"
	"github.com/JakeFAU/catalog-crawler/internal/walker"
)

// Build creates the application's dependencies. Resources opened before a
// failure are released before Build returns.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, version string) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			app.closeInfrastructure()
		}
	}()

	logger.Info("building application",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("storage_driver", cfg.Storage.Driver),
		zap.String("archive_driver", cfg.Archive.Driver),
		zap.String("version", version),
	)
	metrics.Init()

	app.tracerProvider, err = telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		Sample:         cfg.Telemetry.Tracing,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}

	clock := system.New()
	products, jobs, err := setupStores(ctx, app, clock)
	if err != nil {
		return nil, err
	}
	app.products = products

	archive, err := setupArchive(ctx, app)
	if err != nil {
		return nil, err
	}

	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		return nil, err
	}

	limiter, err := ratelimit.New(ratelimit.Config{PerHostQPS: cfg.Headless.DomainQPS})
	if err != nil {
		return nil, fmt.Errorf("rate limiter init failed: %w", err)
	}

	browser, err := headless.New(headless.Config{
		UserAgent:         cfg.Crawler.UserAgent,
		ExecPath:          cfg.Headless.ExecPath,
		Headless:          cfg.Headless.Headless,
		MaxParallel:       cfg.Headless.MaxParallel,
		NavigationTimeout: cfg.Headless.RenderTimeout,
		Limiter:           limiter,
	}, logger.Named("browser"))
	if err != nil {
		return nil, fmt.Errorf("headless browser init failed: %w", err)
	}

	extractor := setupExtractor(app, browser, limiter, archive, clock)

	categories, err := cfg.Crawler.ResolvedCategories()
	if err != nil {
		return nil, fmt.Errorf("resolve categories: %w", err)
	}
	app.crawls, err = orchestrator.New(orchestrator.Config{
		Categories:            categories,
		MaxCategoryPages:      cfg.Crawler.MaxCategoryPages,
		FullProgressEvery:     cfg.Crawler.FullProgressEvery,
		CategoryProgressEvery: cfg.Crawler.CategoryProgressEvery,
		PriceTopic:            cfg.PubSub.Topic,
	}, orchestrator.Deps{
		Products:  products,
		Jobs:      jobs,
		Browser:   browser,
		Extractor: extractor,
		Walker:    walker.New(extractor, logger.Named("walker")),
		Publisher: publisher,
		Clock:     clock,
	}, logger.Named("orchestrator"))
	if err != nil {
		return nil, fmt.Errorf("orchestrator init failed: %w", err)
	}

	if cfg.Schedule.FullCrawl != "" {
		app.scheduler = scheduler.New(app.crawls, logger.Named("scheduler"))
		if err := app.scheduler.ScheduleFullCrawl(cfg.Schedule.FullCrawl); err != nil {
			return nil, fmt.Errorf("schedule full crawl: %w", err)
		}
	}

	apiKey := ""
	if cfg.Auth.Enabled {
		apiKey = cfg.Auth.APIKey
	}
	app.apiServer = api.NewServer(app.crawls, products, api.Options{
		APIKey:         apiKey,
		RequestTimeout: cfg.Server.RequestTimeout,
	}, logger.Named("api"))

	return app, nil
}

func setupStores(
	ctx context.Context,
	app *App,
	clock crawler.Clock,
) (crawler.ProductStore, crawler.JobStore, error) {
	ids := uuid.New()
	if app.cfg.Storage.Driver != config.DriverPostgres {
		app.logger.Warn("using in-memory product and job stores; data is lost on exit")
		return memorystorage.NewProductStore(clock), memorystorage.NewJobStore(ids, clock), nil
	}

	pool, err := pgstore.Connect(ctx, pgstore.Config{
		DSN:             app.cfg.DB.DSN,
		MaxConns:        app.cfg.DB.MaxConns,
		MinConns:        app.cfg.DB.MinConns,
		MaxConnLifetime: app.cfg.DB.MaxConnLifetime,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("postgres init failed: %w", err)
	}
	app.pool = pool
	if app.cfg.DB.Migrate {
		if err := pgstore.Migrate(ctx, pool); err != nil {
			return nil, nil, fmt.Errorf("postgres migrate failed: %w", err)
		}
		app.logger.Info("postgres schema applied")
	}
	products, err := pgstore.NewProductStore(pool, clock)
	if err != nil {
		return nil, nil, fmt.Errorf("product store init failed: %w", err)
	}
	jobs, err := pgstore.NewJobStore(pool, ids, clock)
	if err != nil {
		return nil, nil, fmt.Errorf("job store init failed: %w", err)
	}
	app.logger.Info("using postgres product and job stores", zap.Int32("max_conns", app.cfg.DB.MaxConns))
	return products, jobs, nil
}

// setupArchive returns nil when page archiving is disabled.
func setupArchive(ctx context.Context, app *App) (crawler.BlobStore, error) {
	switch app.cfg.Archive.Driver {
	case config.DriverGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.storageClient = client
		store, err := gcsstorage.Open(ctx, client, gcsstorage.Config{
			Bucket:       app.cfg.Archive.Bucket,
			VerifyBucket: true,
		}, app.logger.Named("gcs"))
		if err != nil {
			return nil, fmt.Errorf("gcs archive init failed: %w", err)
		}
		app.logger.Info("archiving pages to GCS", zap.String("bucket", app.cfg.Archive.Bucket))
		return store, nil
	case config.DriverLocal:
		store, err := localstorage.New(localstorage.Config{BaseDir: app.cfg.Archive.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local archive init failed: %w", err)
		}
		app.logger.Info("archiving pages locally", zap.String("path", app.cfg.Archive.BaseDir))
		return store, nil
	case config.DriverMemory:
		app.logger.Warn("archiving pages in memory; archived pages are lost on exit")
		return memorystorage.NewBlobStore(), nil
	default:
		app.logger.Info("page archiving disabled")
		return nil, nil
	}
}

// setupPublisher returns nil when no price topic is configured.
func setupPublisher(ctx context.Context, app *App) (crawler.Publisher, error) {
	if app.cfg.PubSub.Topic == "" {
		app.logger.Info("no Pub/Sub topic configured, price events disabled")
		return nil, nil
	}
	client, err := pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubClient = client
	pub, err := gcppublisher.New(client, app.logger.Named("pubsub"))
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	app.publisher = pub
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.Topic),
	)
	return pub, nil
}

func setupExtractor(
	app *App,
	browser crawler.Browser,
	limiter crawler.HostLimiter,
	archive crawler.BlobStore,
	clock crawler.Clock,
) *extract.Extractor {
	cfg := app.cfg.Crawler
	policy := robots.NewCache(robots.Config{
		UserAgent: cfg.UserAgent,
		TTL:       cfg.PolicyTTL,
		Timeout:   cfg.PolicyTimeout,
	}, clock, app.logger.Named("robots"))

	opts := []extract.Option{
		extract.WithClock(clock),
		extract.WithLogger(app.logger.Named("extract")),
	}
	if archive != nil {
		opts = append(opts, extract.WithArchive(archive))
	}
	if cfg.StaticFallback {
		opts = append(opts, extract.WithStaticFetcher(collyfetcher.New(collyfetcher.Config{
			UserAgent: cfg.UserAgent,
			Timeout:   cfg.StaticTimeout,
			Limiter:   limiter,
		})))
	}
	return extract.New(extract.Config{
		UserAgent:           cfg.UserAgent,
		RequestDelay:        cfg.RequestDelay,
		MaxAttempts:         cfg.MaxRetries,
		SelectorTimeout:     cfg.SelectorTimeout,
		ProductPathSegments: cfg.ProductPathSegments,
		DefaultCurrency:     cfg.DefaultCurrency,
		Vendor:              cfg.Vendor,
		ArchivePrefix:       app.cfg.Archive.Prefix,
	}, browser, policy, opts...)
}
