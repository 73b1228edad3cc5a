// Package server builds the service's dependency graph and runs the HTTP process.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/seo-automation/internal/analysis"
	"github.com/JakeFAU/seo-automation/internal/api"
	"github.com/JakeFAU/seo-automation/internal/clock/system"
	"github.com/JakeFAU/seo-automation/internal/config"
	collyfetcher "github.com/JakeFAU/seo-automation/internal/fetcher/colly"
	"github.com/JakeFAU/seo-automation/internal/hash/sha256"
	"github.com/JakeFAU/seo-automation/internal/id/uuid"
	"github.com/JakeFAU/seo-automation/internal/lifecycle"
	"github.com/JakeFAU/seo-automation/internal/llm"
	"github.com/JakeFAU/seo-automation/internal/logging"
	"github.com/JakeFAU/seo-automation/internal/metrics"
	"github.com/JakeFAU/seo-automation/internal/orchestrator"
	"github.com/JakeFAU/seo-automation/internal/pipeline"
	"github.com/JakeFAU/seo-automation/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/seo-automation/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/seo-automation/internal/publisher/pubsub"
	"github.com/JakeFAU/seo-automation/internal/stats"
	gcsstorage "github.com/JakeFAU/seo-automation/internal/storage/gcs"
	localstorage "github.com/JakeFAU/seo-automation/internal/storage/local"
	memorystorage "github.com/JakeFAU/seo-automation/internal/storage/memory"
	pgstore "github.com/JakeFAU/seo-automation/internal/storage/postgres"
	"github.com/JakeFAU/seo-automation/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

// App holds the constructed services and the handles that need closing.
type App struct {
	cfg            config.Config
	logger         *zap.Logger
	store          pipeline.Store
	orchestrator   *orchestrator.Orchestrator
	lifecycle      *lifecycle.Service
	stats          *stats.Aggregator
	apiServer      *api.Server
	pubsubClient   *pubsub.Client
	pubsubPub      *pubsub.Publisher
	storageClient  *storage.Client
	tracerProvider *sdktrace.TracerProvider
}

// Build constructs every dependency from cfg. The caller owns the returned App and
// must Close it. Partially built handles are released when Build fails.
func Build(ctx context.Context, cfg config.Config) (_ *App, err error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	app := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			app.closeInfrastructure()
			app.closeObservability(context.Background())
		}
	}()

	logger.Info("building application",
		zap.Int("port", cfg.Server.Port),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("analysis_provider", cfg.Analysis.Provider),
		zap.Bool("postgres", cfg.Database.DSN != ""),
	)
	metrics.Init()

	app.tracerProvider, err = telemetry.InitTracerProvider(ctx, cfg.Telemetry.ServiceName)
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}

	if err = app.setupStore(ctx); err != nil {
		return nil, err
	}
	blobs, err := app.setupBlobs(ctx)
	if err != nil {
		return nil, err
	}
	events, err := app.setupPublisher(ctx)
	if err != nil {
		return nil, err
	}
	analyzer, err := app.setupAnalyzer()
	if err != nil {
		return nil, err
	}

	clock := system.New()
	ids := uuid.New()

	app.stats = stats.New(app.store, logger.Named("stats"))
	app.lifecycle, err = lifecycle.New(lifecycle.Dependencies{
		Store:  app.store,
		Stats:  app.stats,
		Events: events,
		Clock:  clock,
		IDs:    ids,
		Logger: logger.Named("lifecycle"),
	})
	if err != nil {
		return nil, fmt.Errorf("lifecycle init failed: %w", err)
	}

	app.orchestrator, err = orchestrator.New(orchestrator.Dependencies{
		Store:    app.store,
		Fetcher:  app.setupFetcher(),
		Analyzer: analyzer,
		Blobs:    blobs,
		Hasher:   sha256.New(),
		Events:   events,
		Clock:    clock,
		IDs:      ids,
		Tracer:   telemetry.Tracer(),
		Logger:   logger.Named("orchestrator"),
	}, orchestrator.Config{SnapshotPrefix: cfg.Storage.Prefix})
	if err != nil {
		return nil, fmt.Errorf("orchestrator init failed: %w", err)
	}

	app.apiServer, err = api.NewServer(api.Dependencies{
		Onboarder: app.orchestrator,
		Lifecycle: app.lifecycle,
		Stats:     app.stats,
		Ready:     app.store,
		Logger:    logger.Named("api"),
	}, cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("api init failed: %w", err)
	}
	return app, nil
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Onboarder returns the project orchestrator.
func (a *App) Onboarder() api.Onboarder { return a.orchestrator }

// Handler returns the HTTP API wrapped in server spans.
func (a *App) Handler() http.Handler {
	return otelhttp.NewHandler(a.apiServer.Handler(), "seo-api")
}

// Run serves the API on the configured port until ctx is canceled or SIGINT/SIGTERM
// arrives, then drains in-flight requests and closes the App.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", a.cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return a.serve(ctx, ln)
}

func (a *App) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown initiated")
	case runErr = <-serveErr:
		a.logger.Error("http server error", zap.Error(runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	return errors.Join(runErr, a.Close(shutdownCtx))
}

// Close releases infrastructure handles and flushes observability.
func (a *App) Close(ctx context.Context) error {
	a.closeInfrastructure()
	a.logger.Info("shutdown complete")
	a.closeObservability(ctx)
	return nil
}

func (a *App) closeInfrastructure() {
	if a.pubsubPub != nil {
		a.pubsubPub.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storageClient != nil {
		if err := a.storageClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.store != nil {
		a.store.Close()
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerProvider != nil {
		if err := a.tracerProvider.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	// Sync fails on stdout/stderr on some platforms; nothing useful to do about it.
	_ = a.logger.Sync()
}

func (a *App) setupStore(ctx context.Context) error {
	if a.cfg.Database.DSN == "" {
		a.logger.Warn("no database DSN configured, using in-memory store")
		a.store = memorystorage.NewStore()
		return nil
	}
	pg, err := pgstore.New(ctx, pgstore.Config{
		DSN:             a.cfg.Database.DSN,
		MaxConns:        a.cfg.Database.MaxConns,
		MinConns:        a.cfg.Database.MinConns,
		MaxConnLifetime: a.cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("postgres store init failed: %w", err)
	}
	a.store = pg
	if err := pg.Migrate(ctx); err != nil {
		return fmt.Errorf("postgres migrate failed: %w", err)
	}
	a.logger.Info("postgres store initialized", zap.Int32("max_conns", a.cfg.Database.MaxConns))
	return nil
}

func (a *App) setupBlobs(ctx context.Context) (pipeline.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case config.BackendGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.storageClient = client
		blobs, err := gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Storage.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("using GCS snapshot storage", zap.String("bucket", a.cfg.Storage.Bucket))
		return blobs, nil
	case config.BackendLocal:
		blobs, err := localstorage.New(a.cfg.Storage.Local)
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("using local snapshot storage", zap.String("path", a.cfg.Storage.Local.BaseDir))
		return blobs, nil
	default:
		a.logger.Info("using in-memory snapshot storage")
		return memorystorage.NewBlobStore(), nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (pipeline.Publisher, error) {
	if a.cfg.PubSub.TopicName == "" || a.cfg.PubSub.ProjectID == "" {
		a.logger.Warn("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubClient = client
	a.pubsubPub = client.Publisher(a.cfg.PubSub.TopicName)
	a.pubsubPub.EnableMessageOrdering = a.cfg.PubSub.Ordered
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
		zap.Bool("ordered", a.cfg.PubSub.Ordered),
	)
	return gcppublisher.New(a.pubsubPub, a.cfg.PubSub.Ordered), nil
}

func (a *App) setupFetcher() *collyfetcher.Fetcher {
	limiter := ratelimit.New(ratelimit.Config{
		RPS:   a.cfg.Crawler.RateLimitRPS,
		Burst: a.cfg.Crawler.RateLimitBurst,
	})
	a.logger.Info("crawler configured",
		zap.String("user_agent", a.cfg.Crawler.UserAgent),
		zap.Bool("respect_robots", a.cfg.Crawler.RespectRobots),
		zap.Float64("rate_limit_rps", a.cfg.Crawler.RateLimitRPS),
	)
	return collyfetcher.New(collyfetcher.Config{
		UserAgent:     a.cfg.Crawler.UserAgent,
		RespectRobots: a.cfg.Crawler.RespectRobots,
		Timeout:       a.cfg.Crawler.Timeout(),
	}, limiter, a.logger.Named("crawler"))
}

func (a *App) setupAnalyzer() (*analysis.Adapter, error) {
	generator, err := llm.New(a.cfg.Analysis.Provider, a.cfg.Analysis.APIKey)
	if err != nil {
		return nil, fmt.Errorf("analysis provider init failed: %w", err)
	}
	if generator == nil {
		a.logger.Warn("no analysis provider configured, every project gets the default record")
	}
	return analysis.New(generator, analysis.Config{
		Model:     a.cfg.Analysis.Model,
		MaxTokens: a.cfg.Analysis.MaxTokens,
		Timeout:   a.cfg.Analysis.Timeout(),
	}, a.logger.Named("analysis")), nil
}
