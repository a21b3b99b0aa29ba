// Package main wires together the location scraper service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/qsrscan/location-scraper/internal/api"
	"github.com/qsrscan/location-scraper/internal/clock/system"
	"github.com/qsrscan/location-scraper/internal/config"
	"github.com/qsrscan/location-scraper/internal/fetch"
	"github.com/qsrscan/location-scraper/internal/fetch/collystrategy"
	"github.com/qsrscan/location-scraper/internal/fetch/headless"
	"github.com/qsrscan/location-scraper/internal/id/uuid"
	jobmemory "github.com/qsrscan/location-scraper/internal/jobstore/memory"
	"github.com/qsrscan/location-scraper/internal/logging"
	"github.com/qsrscan/location-scraper/internal/metrics"
	"github.com/qsrscan/location-scraper/internal/orchestrator"
	"github.com/qsrscan/location-scraper/internal/plugins/parsers"
	"github.com/qsrscan/location-scraper/internal/plugins/transformers"
	publishermemory "github.com/qsrscan/location-scraper/internal/publisher/memory"
	publisherpubsub "github.com/qsrscan/location-scraper/internal/publisher/pubsub"
	queuememory "github.com/qsrscan/location-scraper/internal/queue/memory"
	"github.com/qsrscan/location-scraper/internal/registry"
	"github.com/qsrscan/location-scraper/internal/scraper"
	"github.com/qsrscan/location-scraper/internal/storage"
	gcsstore "github.com/qsrscan/location-scraper/internal/storage/gcs"
	jsonlstore "github.com/qsrscan/location-scraper/internal/storage/jsonl"
	postgresstore "github.com/qsrscan/location-scraper/internal/storage/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.File)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("service failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	clock := system.New()
	ids := uuid.NewUUIDGenerator()
	jobStore := jobmemory.New(clock)
	queue := queuememory.New(cfg.Worker.QueueDepth)
	defer queue.Close()

	publisher, stopPublisher, err := buildPublisher(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stopPublisher()

	reg, closeStores, err := buildRegistry(ctx, cfg, clock, logger)
	if err != nil {
		return err
	}
	defer closeStores()

	orch := orchestrator.New(
		queue,
		jobStore,
		reg,
		storage.NewFanout(logger.Named("storage")),
		publisher,
		clock,
		ids,
		cfg.Websites,
		orchestrator.Config{
			Workers:       cfg.Worker.MaxConcurrentWorkers,
			Topic:         cfg.PubSub.TopicName,
			DefaultBudget: time.Duration(cfg.Worker.DefaultBudgetSeconds) * time.Second,
		},
		logger.Named("orchestrator"),
	)

	apiServer := api.NewServer(jobStore, orch, cfg, logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	workersDone := make(chan struct{})
	go func() {
		logger.Info("worker pool started", zap.Int("workers", cfg.Worker.MaxConcurrentWorkers))
		orch.Run(ctx)
		close(workersDone)
	}()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}
	<-workersDone
	return nil
}

func buildPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (scraper.Publisher, func(), error) {
	if cfg.PubSub.ProjectID == "" {
		logger.Info("pubsub not configured, using in-memory publisher")
		return publishermemory.New(), func() {}, nil
	}
	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("create pubsub client: %w", err)
	}
	topic := client.Topic(cfg.PubSub.TopicName)
	publisher := publisherpubsub.New(topic)
	stop := func() {
		publisher.Stop()
		_ = client.Close()
	}
	return publisher, stop, nil
}

// buildRegistry constructs every named plugin the configuration can refer
// to. Storage backends are built once at startup and shared across runs;
// fetchers are built per run so their retry counters stay scoped to a job.
func buildRegistry(ctx context.Context, cfg config.Config, clock scraper.Clock, logger *zap.Logger) (*registry.Registry, func(), error) {
	reg := registry.New()
	var closers []func()
	closeAll := func() {
		for _, fn := range closers {
			fn()
		}
	}

	clientCfg := fetch.ClientConfig{
		MaxRetries: cfg.HTTP.MaxRetries,
		BaseDelay:  time.Duration(cfg.HTTP.BackoffInitialMs) * time.Millisecond,
		MaxDelay:   time.Duration(cfg.HTTP.BackoffMaxMs) * time.Millisecond,
	}
	httpStrategy := collystrategy.New(collystrategy.Config{
		UserAgent: cfg.HTTP.UserAgent,
		Timeout:   time.Duration(cfg.HTTP.TimeoutSeconds) * time.Second,
	})
	fetchLogger := logger.Named("fetch")

	reg.RegisterFetcher("http", func(site scraper.WebsiteConfig) (scraper.Fetcher, error) {
		return fetch.NewClient(httpStrategy, clientCfg, site.Name, fetchLogger), nil
	})

	if cfg.Headless.Enabled {
		headlessStrategy, err := headless.New(headless.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.HTTP.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("init headless strategy: %w", err)
		}
		closers = append(closers, headlessStrategy.Close)
		reg.RegisterFetcher("headless", func(site scraper.WebsiteConfig) (scraper.Fetcher, error) {
			return fetch.NewClient(headlessStrategy, clientCfg, site.Name, fetchLogger), nil
		})
	}

	if cfg.ScraperAPI.APIKey != "" {
		proxyStrategy, err := fetch.NewScraperAPI(fetch.ScraperAPIConfig{
			Endpoint: cfg.ScraperAPI.Endpoint,
			APIKey:   cfg.ScraperAPI.APIKey,
		}, httpStrategy)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("init scraperapi strategy: %w", err)
		}
		reg.RegisterFetcher("scraperapi", func(site scraper.WebsiteConfig) (scraper.Fetcher, error) {
			return fetch.NewClient(proxyStrategy, clientCfg, site.Name, fetchLogger), nil
		})
	}

	reg.RegisterParser("csslist", func(site scraper.WebsiteConfig) (scraper.Parser, error) {
		return parsers.NewCSSList(site.ParserOptions)
	})
	reg.RegisterParser("jsonld", func(site scraper.WebsiteConfig) (scraper.Parser, error) {
		return parsers.NewJSONLD(site.ParserOptions)
	})

	reg.RegisterTransformer("address", func(scraper.WebsiteConfig) (scraper.Transformer, error) {
		return transformers.New(clock), nil
	})

	jsonl, err := jsonlstore.New(jsonlstore.Config{BaseDir: cfg.Storage.JSONLDir})
	if err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("init jsonl store: %w", err)
	}
	reg.RegisterStorage("jsonl", func(scraper.WebsiteConfig) (scraper.Storage, error) {
		return jsonl, nil
	})

	if cfg.Storage.DSN != "" {
		pg, err := postgresstore.New(ctx, postgresstore.Config{
			DSN:      cfg.Storage.DSN,
			Table:    cfg.Storage.Table,
			MaxConns: cfg.Storage.MaxConns,
		})
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("init postgres store: %w", err)
		}
		closers = append(closers, pg.Close)
		reg.RegisterStorage("postgres", func(scraper.WebsiteConfig) (scraper.Storage, error) {
			return pg, nil
		})
	}

	if cfg.Storage.GCSBucket != "" {
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("create gcs client: %w", err)
		}
		closers = append(closers, func() { _ = client.Close() })
		gcs, err := gcsstore.New(client, gcsstore.Config{
			Bucket: cfg.Storage.GCSBucket,
			Prefix: cfg.Storage.GCSPrefix,
		})
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("init gcs store: %w", err)
		}
		reg.RegisterStorage("gcs", func(scraper.WebsiteConfig) (scraper.Storage, error) {
			return gcs, nil
		})
	}

	return reg, closeAll, nil
}
