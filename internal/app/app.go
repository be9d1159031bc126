// Package app initializes and holds the follower's long-lived services, acting
// as a dependency injection container for the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	gcsstorage "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/depfollow/internal/api"
	"github.com/JakeFAU/depfollow/internal/blob"
	gcsblob "github.com/JakeFAU/depfollow/internal/blob/gcs"
	localblob "github.com/JakeFAU/depfollow/internal/blob/local"
	memoryblob "github.com/JakeFAU/depfollow/internal/blob/memory"
	"github.com/JakeFAU/depfollow/internal/changes/couch"
	"github.com/JakeFAU/depfollow/internal/config"
	"github.com/JakeFAU/depfollow/internal/follower"
	iduuid "github.com/JakeFAU/depfollow/internal/id/uuid"
	"github.com/JakeFAU/depfollow/internal/jobs"
	"github.com/JakeFAU/depfollow/internal/metrics"
	"github.com/JakeFAU/depfollow/internal/normalize"
	"github.com/JakeFAU/depfollow/internal/policy/ratelimit"
	"github.com/JakeFAU/depfollow/internal/progress"
	"github.com/JakeFAU/depfollow/internal/progress/sinks"
	"github.com/JakeFAU/depfollow/internal/publisher"
	memorypublisher "github.com/JakeFAU/depfollow/internal/publisher/memory"
	natspublisher "github.com/JakeFAU/depfollow/internal/publisher/nats"
	pubsubpublisher "github.com/JakeFAU/depfollow/internal/publisher/pubsub"
	memorystore "github.com/JakeFAU/depfollow/internal/storage/memory"
	postgresstore "github.com/JakeFAU/depfollow/internal/storage/postgres"
	redisstore "github.com/JakeFAU/depfollow/internal/storage/redis"
	"github.com/JakeFAU/depfollow/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

// Option customizes App construction.
type Option func(*options)

type options struct {
	registerer prometheus.Registerer
	httpClient *http.Client
}

// WithRegisterer registers follower collectors somewhere other than the
// default Prometheus registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithHTTPClient overrides the client used for the change feed.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) { o.httpClient = client }
}

type closer struct {
	name string
	fn   func(context.Context) error
}

// App holds the shared services for one follower process.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	store    follower.Store
	recent   *sinks.RecentSink
	follower *follower.Follower
	closers  []closer
}

// New builds every service named by cfg. Anything already opened is released
// when a later step fails.
func New(ctx context.Context, cfg config.Config, version string, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{cfg: cfg, logger: logger}
	if err := a.init(ctx, version, o); err != nil {
		if cerr := a.Close(ctx); cerr != nil {
			logger.Warn("release partially initialized services", zap.Error(cerr))
		}
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context, version string, o options) error {
	l := a.logger
	l.Info("initializing application services",
		zap.String("store", a.cfg.Store.Backend),
		zap.String("artifacts", a.cfg.Artifacts.Backend),
		zap.String("notify", a.cfg.Notify.Backend),
	)

	metrics.Init()
	metrics.SetBuildInfo(version)

	if a.cfg.Tracing.Enabled {
		if err := a.initTracing(ctx, version); err != nil {
			return err
		}
	}

	store, closeStore, err := OpenStore(ctx, a.cfg, l)
	if err != nil {
		return err
	}
	a.store = store
	a.addCloser("store", closeStore)

	source, err := couch.New(couch.Config{
		URL:        a.cfg.Feed.URL,
		Heartbeat:  a.cfg.Heartbeat(),
		Attempts:   a.cfg.Feed.ConnectAttempts,
		RetryDelay: a.cfg.RetryDelay(),
		UserAgent:  a.cfg.Feed.UserAgent,
		OnRetry:    func(uint, error) { metrics.ObserveFeedRetry() },
		Client:     o.httpClient,
		Logger:     l.Named("feed"),
	})
	if err != nil {
		return fmt.Errorf("init change feed: %w", err)
	}

	job, err := a.buildJob(ctx)
	if err != nil {
		return err
	}

	promSink, err := sinks.NewPrometheusSink(o.registerer)
	if err != nil {
		return fmt.Errorf("init progress metrics: %w", err)
	}
	a.recent = sinks.NewRecentSink(0)
	hub := progress.NewHub(progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   a.cfg.BatchWait(),
		Logger:         l.Named("progress"),
	}, sinks.NewLogSink(l.Named("progress")), promSink, a.recent)
	a.addCloser("progress hub", hub.Close)

	from, err := a.cfg.StartSequence()
	if err != nil {
		return fmt.Errorf("follower.from_sequence: %w", err)
	}
	runID, err := iduuid.New().NewRunID()
	if err != nil {
		return err
	}
	a.follower, err = follower.New(
		follower.Config{
			FromSequence:   from,
			JobConcurrency: a.cfg.Follower.JobConcurrency,
			RunID:          runID,
		},
		source,
		store,
		normalize.New(l.Named("normalize")),
		job,
		hub,
		nil, // wall clock
		l.Named("follower"),
	)
	if err != nil {
		return fmt.Errorf("init follower: %w", err)
	}

	l.Info("application services initialized")
	return nil
}

func (a *App) initTracing(ctx context.Context, version string) error {
	var tpOpts []sdktrace.TracerProviderOption
	if endpoint := a.cfg.Tracing.OTLPEndpoint; endpoint != "" {
		exporter, err := telemetry.NewOTLPExporter(ctx, endpoint, a.cfg.Tracing.OTLPInsecure)
		if err != nil {
			return err
		}
		tpOpts = append(tpOpts, sdktrace.WithBatcher(exporter))
	}
	tp, err := telemetry.InitTracerProvider(ctx, a.cfg.Tracing.ServiceName, version, tpOpts...)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	a.addCloser("tracer provider", tp.Shutdown)
	return nil
}

// OpenStore connects the configured key-value backend. The returned func
// releases it.
func OpenStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (follower.Store, func(context.Context) error, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	noop := func(context.Context) error { return nil }
	switch cfg.Store.Backend {
	case config.BackendMemory:
		logger.Warn("using in-memory store; the checkpoint will not survive a restart")
		return memorystore.NewKVStore(), noop, nil
	case config.BackendRedis:
		store, err := redisstore.New(redisstore.Config{
			Addr:      cfg.Store.Redis.Addr,
			Password:  cfg.Store.Redis.Password,
			DB:        cfg.Store.Redis.DB,
			KeyPrefix: cfg.Store.Redis.KeyPrefix,
		}, logger.Named("redis"))
		if err != nil {
			return nil, nil, fmt.Errorf("init redis store: %w", err)
		}
		return store, func(context.Context) error { return store.Close() }, nil
	case config.BackendPostgres:
		store, err := postgresstore.New(ctx, postgresstore.Config{
			DSN:      cfg.Store.Postgres.DSN,
			Table:    cfg.Store.Postgres.Table,
			MaxConns: cfg.Store.Postgres.MaxConns,
		}, logger.Named("postgres"))
		if err != nil {
			return nil, nil, fmt.Errorf("init postgres store: %w", err)
		}
		if cfg.Store.Postgres.EnsureSchema {
			if err := store.EnsureSchema(ctx); err != nil {
				store.Close()
				return nil, nil, fmt.Errorf("ensure postgres schema: %w", err)
			}
		}
		return store, func(context.Context) error { store.Close(); return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend: %s", cfg.Store.Backend)
	}
}

func (a *App) buildJob(ctx context.Context) (follower.Job, error) {
	var chain []follower.Job

	blobs, err := a.openBlobStore(ctx)
	if err != nil {
		return nil, err
	}
	if blobs != nil {
		manifest, err := jobs.NewManifestJob(blobs, a.cfg.Artifacts.Prefix, a.logger.Named("manifest"))
		if err != nil {
			return nil, fmt.Errorf("init manifest job: %w", err)
		}
		chain = append(chain, throttle("manifest", a.cfg.Artifacts.MaxPerSecond, manifest))
	}

	pub, err := a.openPublisher(ctx)
	if err != nil {
		return nil, err
	}
	if pub != nil {
		notify, err := jobs.NewNotifyJob(pub, a.cfg.Notify.Topic, a.logger.Named("notify"))
		if err != nil {
			return nil, fmt.Errorf("init notify job: %w", err)
		}
		chain = append(chain, throttle("notify", a.cfg.Notify.MaxPerSecond, notify))
	}

	return jobs.Chain(chain...), nil
}

// throttle rate limits job when rps is positive. Burst allows one second of
// work so a small release does not wait at all.
func throttle(destination string, rps float64, job follower.Job) follower.Job {
	if rps <= 0 {
		return job
	}
	limiter := ratelimit.New(ratelimit.Config{DefaultRPS: rps, DefaultBurst: int(math.Ceil(rps))})
	return ratelimit.Job(limiter, destination, job)
}

func (a *App) openBlobStore(ctx context.Context) (blob.Store, error) {
	switch a.cfg.Artifacts.Backend {
	case config.BackendNone:
		return nil, nil
	case config.BackendMemory:
		return memoryblob.NewBlobStore(), nil
	case config.BackendLocal:
		store, err := localblob.New(localblob.Config{BaseDir: a.cfg.Artifacts.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("init local artifacts: %w", err)
		}
		return store, nil
	case config.BackendGCS:
		client, err := gcsstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		a.addCloser("gcs client", func(context.Context) error { return client.Close() })
		store, err := gcsblob.New(client, gcsblob.Config{Bucket: a.cfg.Artifacts.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("init gcs artifacts: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown artifacts backend: %s", a.cfg.Artifacts.Backend)
	}
}

func (a *App) openPublisher(ctx context.Context) (publisher.Publisher, error) {
	switch a.cfg.Notify.Backend {
	case config.BackendNone:
		return nil, nil
	case config.BackendMemory:
		return memorypublisher.New(), nil
	case config.BackendPubSub:
		client, err := pubsub.NewClient(ctx, a.cfg.Notify.PubSubProjectID)
		if err != nil {
			return nil, fmt.Errorf("init pubsub client: %w", err)
		}
		pub := pubsubpublisher.New(client)
		a.addCloser("pubsub client", func(context.Context) error {
			pub.Stop()
			return client.Close()
		})
		return pub, nil
	case config.BackendNATS:
		pub, err := natspublisher.Connect(natspublisher.Config{
			URL:           a.cfg.Notify.NATSURL,
			SubjectPrefix: a.cfg.Notify.SubjectPrefix,
		}, a.logger.Named("nats"))
		if err != nil {
			return nil, fmt.Errorf("init nats publisher: %w", err)
		}
		a.addCloser("nats connection", func(context.Context) error { return pub.Close() })
		return pub, nil
	default:
		return nil, fmt.Errorf("unknown notify backend: %s", a.cfg.Notify.Backend)
	}
}

func (a *App) addCloser(name string, fn func(context.Context) error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// Store exposes the configured key-value store.
func (a *App) Store() follower.Store {
	return a.store
}

// Recent exposes the buffer of recent lifecycle events.
func (a *App) Recent() *sinks.RecentSink {
	return a.recent
}

// Run starts the follower and, when enabled, the HTTP server. It blocks until
// ctx is cancelled, the follower halts or the server fails to serve, and
// returns the follower's error joined with any server error.
func (a *App) Run(ctx context.Context) error {
	handle := a.follower.Start(ctx)

	var srv *http.Server
	serveErr := make(chan error, 1)
	if a.cfg.Server.Enabled {
		apiServer := api.NewServer(a.store, handle, a.recent, a.logger.Named("api"))
		srv = &http.Server{
			Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
			Handler:           apiServer.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("http server error", zap.Error(err))
				serveErr <- err
				handle.Stop()
			}
		}()
	}

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown initiated")
		handle.Stop()
	case <-handle.Done():
	}
	err := handle.Wait()
	select {
	case serr := <-serveErr:
		err = errors.Join(err, fmt.Errorf("http server: %w", serr))
	default:
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if serr := srv.Shutdown(shutdownCtx); serr != nil {
			a.logger.Error("server shutdown error", zap.Error(serr))
		}
	}
	return err
}

// Close releases services in reverse order of construction so the progress
// hub drains before the backends it reports on go away.
func (a *App) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(ctx); err != nil {
			a.logger.Warn("error closing service", zap.String("service", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
