// Package app builds the long-lived services of the crawler from configuration
// and runs them: the worker pool, the HTTP API and the one-shot seeders.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/wikigames-crawler/internal/api"
	"github.com/JakeFAU/wikigames-crawler/internal/catalog"
	"github.com/JakeFAU/wikigames-crawler/internal/clock/system"
	"github.com/JakeFAU/wikigames-crawler/internal/config"
	"github.com/JakeFAU/wikigames-crawler/internal/crawler"
	"github.com/JakeFAU/wikigames-crawler/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/wikigames-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/wikigames-crawler/internal/frontier"
	"github.com/JakeFAU/wikigames-crawler/internal/hash/sha256"
	"github.com/JakeFAU/wikigames-crawler/internal/id/uuid"
	"github.com/JakeFAU/wikigames-crawler/internal/logging"
	"github.com/JakeFAU/wikigames-crawler/internal/mediawiki"
	"github.com/JakeFAU/wikigames-crawler/internal/metrics"
	"github.com/JakeFAU/wikigames-crawler/internal/pipeline"
	"github.com/JakeFAU/wikigames-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/wikigames-crawler/internal/processor"
	memorypublisher "github.com/JakeFAU/wikigames-crawler/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/wikigames-crawler/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/wikigames-crawler/internal/queue/memory"
	gcsstorage "github.com/JakeFAU/wikigames-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/wikigames-crawler/internal/storage/local"
	memoryStorage "github.com/JakeFAU/wikigames-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/wikigames-crawler/internal/storage/postgres"
	"github.com/JakeFAU/wikigames-crawler/internal/worker"
)

const shutdownTimeout = 10 * time.Second

// queue is what the app needs from either queue backend.
type queue interface {
	crawler.Queue
	dispatcher.PendingCounter
}

// App contains the application's dependencies.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	pool      *pgxpool.Pool
	queue     queue
	memQueue  *queueMemory.Queue
	catalog   catalog.Repository
	gateway   crawler.Gateway
	publisher crawler.Publisher
	pubsub    *gcppublisher.Publisher
	storage   *storage.Client

	frontier  *frontier.Frontier
	dispatch  *dispatcher.Dispatcher
	apiServer *api.Server
}

// Options overrides collaborators that are otherwise built from configuration.
type Options struct {
	Logger  *zap.Logger
	Fetcher crawler.Fetcher
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		var err error
		logger, err = logging.NewWithLevel(cfg.Logging.Development, cfg.Logging.Level)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		zap.ReplaceGlobals(logger)
	}
	metrics.Init()

	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.String("queue", cfg.Queue.Connection),
		zap.String("api_endpoint", cfg.Wiki.APIEndpoint),
		zap.Int("concurrency", cfg.Crawl.Concurrency),
	)

	if err := app.build(ctx, opts); err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context, opts Options) error {
	if err := setupDatabase(ctx, a); err != nil {
		return err
	}
	if err := setupQueue(a); err != nil {
		return err
	}
	if err := setupCatalog(a); err != nil {
		return err
	}
	if err := setupGateway(a, opts.Fetcher); err != nil {
		return err
	}
	archive, err := setupArchive(ctx, a)
	if err != nil {
		return err
	}
	if err := setupPublisher(ctx, a); err != nil {
		return err
	}

	a.frontier, err = frontier.New(a.gateway, a.queue, a.logger.Named("frontier"),
		frontier.WithSkippedTitles(a.cfg.Crawl.SkipTitles))
	if err != nil {
		return fmt.Errorf("frontier init failed: %w", err)
	}
	var hasher crawler.Hasher
	if archive != nil {
		hasher = sha256.New()
	}
	proc, err := processor.New(
		a.gateway,
		catalog.NewResolver(a.catalog, a.logger.Named("resolver")),
		a.queue,
		archive,
		hasher,
		processor.Config{PageBaseURL: a.cfg.Wiki.PageBaseURL, ArchivePrefix: a.cfg.Archive.Prefix},
		a.logger.Named("processor"),
	)
	if err != nil {
		return fmt.Errorf("processor init failed: %w", err)
	}
	router, err := pipeline.New(a.frontier, proc)
	if err != nil {
		return fmt.Errorf("pipeline init failed: %w", err)
	}
	if err := setupDispatcher(a, router); err != nil {
		return err
	}

	var ready []api.ReadyCheck
	if a.pool != nil {
		ready = append(ready, a.pool.Ping)
	}
	a.apiServer = api.NewServer(a.frontier, api.Config{
		APIKey:          a.cfg.Server.APIKey,
		DefaultPageSize: a.cfg.Crawl.Limit,
	}, a.logger.Named("api"), ready...)
	return nil
}

func setupDatabase(ctx context.Context, app *App) error {
	if !app.cfg.UsesPostgres() {
		app.logger.Info("no database configured, using in-memory catalog, queue and throttle")
		return nil
	}
	var err error
	app.pool, err = pgstore.Open(ctx, pgstore.Config{
		DSN:      app.cfg.DB.DSN,
		MaxConns: int32(app.cfg.DB.MaxConns),
		MinConns: int32(app.cfg.DB.MinConns),
	})
	if err != nil {
		return fmt.Errorf("database init failed: %w", err)
	}
	app.logger.Info("postgres pool initialized")
	return nil
}

func setupQueue(app *App) error {
	if app.cfg.Queue.Connection == config.QueuePostgres {
		q, err := pgstore.NewTaskQueue(app.pool, pgstore.TaskQueueConfig{
			Name:              app.cfg.Queue.Name,
			VisibilityTimeout: app.cfg.VisibilityTimeout(),
		})
		if err != nil {
			return fmt.Errorf("task queue init failed: %w", err)
		}
		app.queue = q
		app.logger.Info("using postgres task queue", zap.String("name", app.cfg.Queue.Name))
		return nil
	}
	app.memQueue = queueMemory.NewQueue(app.cfg.Queue.Capacity, uuid.New())
	app.queue = app.memQueue
	app.logger.Info("using in-memory task queue", zap.Int("capacity", app.cfg.Queue.Capacity))
	return nil
}

func setupCatalog(app *App) error {
	if app.pool == nil {
		app.catalog = memoryStorage.NewCatalogStore()
		return nil
	}
	store, err := pgstore.NewCatalogStore(app.pool)
	if err != nil {
		return fmt.Errorf("catalog store init failed: %w", err)
	}
	app.catalog = store
	return nil
}

func setupGateway(app *App, fetcher crawler.Fetcher) error {
	if fetcher == nil {
		fetcher = collyfetcher.New(collyfetcher.Config{
			UserAgent: app.cfg.Wiki.UserAgent,
			Timeout:   app.cfg.WikiTimeout(),
		})
		app.logger.Info("using colly fetcher", zap.String("user_agent", app.cfg.Wiki.UserAgent))
	}
	client, err := mediawiki.New(mediawiki.Config{
		APIEndpoint:  app.cfg.Wiki.APIEndpoint,
		RESTEndpoint: app.cfg.Wiki.RESTEndpoint,
		UserAgent:    app.cfg.Wiki.UserAgent,
		CacheSize:    app.cfg.Wiki.CacheSize,
	}, fetcher, app.logger.Named("mediawiki"))
	if err != nil {
		return fmt.Errorf("gateway init failed: %w", err)
	}
	app.gateway = client
	return nil
}

func setupArchive(ctx context.Context, app *App) (crawler.BlobStore, error) {
	if !app.cfg.Archive.Enabled {
		return nil, nil
	}
	switch app.cfg.Archive.Backend {
	case config.ArchiveGCS:
		var err error
		app.storage, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		store, err := gcsstorage.New(app.storage, gcsstorage.Config{
			Bucket:       app.cfg.Archive.GCSBucket,
			CacheControl: app.cfg.Archive.CacheControl,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.logger.Info("archiving pages to GCS", zap.String("bucket", app.cfg.Archive.GCSBucket))
		return store, nil
	default:
		store, err := localstorage.New(localstorage.Config{BaseDir: app.cfg.Archive.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Info("archiving pages locally", zap.String("path", app.cfg.Archive.BaseDir))
		return store, nil
	}
}

func setupPublisher(ctx context.Context, app *App) error {
	if app.cfg.PubSub.DeadLetterTopic == "" || app.cfg.PubSub.ProjectID == "" {
		app.logger.Warn("no Pub/Sub dead-letter topic configured, using in-memory publisher")
		app.publisher = memorypublisher.New()
		return nil
	}
	var err error
	app.pubsub, err = gcppublisher.NewFromProject(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return err
	}
	app.publisher = app.pubsub
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.DeadLetterTopic),
	)
	return nil
}

func setupDispatcher(app *App, handler worker.Handler) error {
	var permits ratelimit.PermitStore = ratelimit.NewLocalPermits()
	if app.pool != nil {
		store, err := pgstore.NewPermitStore(app.pool)
		if err != nil {
			return fmt.Errorf("permit store init failed: %w", err)
		}
		permits = store
	}
	throttle, err := ratelimit.NewThrottle(permits, ratelimit.Config{
		LockName: ratelimit.DefaultLockName,
		Interval: app.cfg.ThrottleInterval(),
	}, app.logger.Named("throttle"))
	if err != nil {
		return fmt.Errorf("throttle init failed: %w", err)
	}

	retry := crawler.NewFixedRetryPolicyWith(
		app.cfg.Retry.MaxAttempts,
		app.cfg.TraversalBackoff(),
		app.cfg.PageBackoff(),
	)
	workerCfg := worker.Config{DeadLetterTopic: app.cfg.PubSub.DeadLetterTopic}
	if workerCfg.DeadLetterTopic == "" {
		workerCfg.DeadLetterTopic = "dead-letters"
	}
	app.logger.Info("worker config",
		zap.Duration("throttle_interval", app.cfg.ThrottleInterval()),
		zap.Int("max_attempts", retry.MaxAttempts()),
		zap.String("dead_letter_topic", workerCfg.DeadLetterTopic),
	)

	clock := system.New()
	workers := make([]*worker.Worker, 0, app.cfg.Crawl.Concurrency)
	for i := 0; i < app.cfg.Crawl.Concurrency; i++ {
		workers = append(workers, worker.New(
			app.queue,
			handler,
			throttle,
			retry,
			app.publisher,
			clock,
			workerCfg,
			app.logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	app.dispatch = dispatcher.New(app.queue, workers)
	return nil
}

// Seeder exposes the frontier's seed operations.
func (a *App) Seeder() api.Seeder {
	return a.frontier
}

// Catalog exposes the repository the processor writes to.
func (a *App) Catalog() catalog.Repository {
	return a.catalog
}

// Publisher exposes the dead-letter channel.
func (a *App) Publisher() crawler.Publisher {
	return a.publisher
}

// Migrate applies the database schema.
func (a *App) Migrate(ctx context.Context) error {
	if a.pool == nil {
		return errors.New("migrate requires db.dsn")
	}
	if err := pgstore.Migrate(ctx, a.pool); err != nil {
		return err
	}
	a.logger.Info("schema applied")
	return nil
}

// Drain runs the worker pool until no task is pending or running.
func (a *App) Drain(ctx context.Context) error {
	a.logger.Info("draining task queue")
	if err := a.dispatch.RunUntilIdle(ctx, a.queue, dispatcher.DefaultIdlePoll); err != nil {
		return fmt.Errorf("drain queue: %w", err)
	}
	a.logger.Info("task queue drained")
	return nil
}

// Work runs the worker pool until SIGINT/SIGTERM.
func (a *App) Work(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	a.logger.Info("dispatcher started")
	a.dispatch.Run(ctx)
	a.logger.Info("dispatcher stopped")
	return nil
}

// Serve runs the worker pool and the HTTP API until SIGINT/SIGTERM or until
// the server fails.
func (a *App) Serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("dispatcher started")
		a.dispatch.Run(gctx)
		a.logger.Info("dispatcher stopped")
		return nil
	})
	g.Go(func() error {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
		return nil
	})
	return g.Wait()
}

// Handler exposes the HTTP API for tests and embedding.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	if a.memQueue != nil {
		a.memQueue.Close()
	}
	a.closeInfrastructure(ctx)
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	return nil
}

func (a *App) closeInfrastructure(context.Context) {
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
