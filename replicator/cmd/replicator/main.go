package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/flowlake/flowlake/common/config"
	"github.com/flowlake/flowlake/common/logging"
	"github.com/flowlake/flowlake/common/messaging"
	"github.com/flowlake/flowlake/replicator/internal/clickhouse"
	"github.com/flowlake/flowlake/replicator/internal/handlers"
	"github.com/flowlake/flowlake/replicator/internal/lease"
	"github.com/flowlake/flowlake/replicator/internal/notify"
	"github.com/flowlake/flowlake/replicator/internal/scheduler"
	"github.com/flowlake/flowlake/replicator/internal/schema"
	"github.com/flowlake/flowlake/replicator/internal/server"
	"github.com/flowlake/flowlake/replicator/internal/service"
	"github.com/flowlake/flowlake/replicator/internal/source"
	"github.com/flowlake/flowlake/replicator/internal/watermark"
	"github.com/flowlake/flowlake/replicator/internal/writer"

	natsclient "github.com/flowlake/flowlake/common/messaging/nats"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logging
	logger := logging.New(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	).With(logging.Service("replicator"))
	logging.SetDefault(logger)

	slog.Info("Starting replicator",
		slog.String("table", cfg.Replicator.Table),
		slog.String("source_table", cfg.Source.Table),
		slog.Duration("sync_interval", cfg.Replicator.SyncInterval),
		slog.Duration("lag", cfg.Replicator.Lag),
		slog.Int("batch_limit", cfg.Replicator.BatchLimit),
		slog.Int("retention_days", cfg.Replicator.RetentionDays),
	)
	if *configPath != "" {
		slog.Info("Loaded configuration", slog.String("config_path", *configPath))
	}

	epoch, err := cfg.Replicator.DefaultEpochTime()
	if err != nil {
		slog.Error("Invalid default epoch", logging.Error(err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to the analytical store
	store, err := connect(ctx, "clickhouse", cfg.Replicator.SchemaRetryDelay, func() (*clickhouse.Store, error) {
		return clickhouse.Open(ctx, clickhouse.Config{
			Addr:         cfg.ClickHouse.Addr,
			Database:     cfg.ClickHouse.Database,
			Username:     cfg.ClickHouse.Username,
			Password:     cfg.ClickHouse.Password,
			DialTimeout:  cfg.ClickHouse.DialTimeout,
			MaxOpenConns: cfg.ClickHouse.MaxOpenConns,
			Debug:        cfg.ClickHouse.Debug,
			Table:        cfg.Replicator.Table,
		}, logger.Logger)
	})
	if err != nil {
		slog.Error("Failed to connect to ClickHouse", logging.Error(err))
		os.Exit(1)
	}
	defer store.Close()

	// Connect to the operational store
	src, err := connect(ctx, "postgres", cfg.Replicator.SchemaRetryDelay, func() (*source.PostgresSource, error) {
		return source.NewPostgresSource(ctx, cfg.Source.Postgres.ConnString(), cfg.Source.Table, cfg.Replicator.ReadTimeout)
	})
	if err != nil {
		slog.Error("Failed to connect to PostgreSQL", logging.Error(err))
		os.Exit(1)
	}
	defer src.Close()

	// Sync must not start before the table exists
	schemaManager := schema.NewManager(store, cfg.Replicator.Table,
		schema.WithRetryDelay(cfg.Replicator.SchemaRetryDelay),
		schema.WithLogger(logger.Logger),
	)
	if err := schemaManager.EnsureWithRetry(ctx, schema.RetentionRule(cfg.Replicator.RetentionDays)); err != nil {
		slog.Info("Shutdown requested before the analytics table was ready", logging.Error(err))
		return
	}

	tracker := watermark.NewTracker(store, epoch,
		watermark.WithStrict(cfg.Replicator.StrictWatermark),
		watermark.WithReadTimeout(cfg.Replicator.ReadTimeout),
		watermark.WithLogger(logger.Logger),
	)
	batchWriter := writer.New(store, cfg.Replicator.BatchLimit,
		writer.WithTimeout(cfg.Replicator.WriteTimeout),
		writer.WithLogger(logger.Logger),
	)

	opts := []service.Option{service.WithLogger(logger)}

	// Cross-replica lease
	var cycleLease lease.Lease = lease.NoopLease{}
	if cfg.Redis.Enabled {
		redisLease, err := lease.NewRedisLease(cfg.Redis.URL, lease.Key(cfg.Replicator.Table), cfg.Redis.LeaseTTL)
		if err != nil {
			slog.Error("Failed to initialize Redis lease", logging.Error(err))
			os.Exit(1)
		}
		cycleLease = redisLease
		opts = append(opts, service.WithLease(redisLease))
		slog.Info("Redis lease enabled",
			slog.String("owner", redisLease.Owner()),
			slog.Duration("ttl", cfg.Redis.LeaseTTL))
	} else {
		slog.Info("Redis disabled - running as the only replica")
	}
	defer cycleLease.Close()

	// Progress events
	var msgClient messaging.Client
	if cfg.NATS.Enabled {
		natsCfg := natsclient.DefaultConfig()
		natsCfg.URL = cfg.NATS.URL
		natsCfg.MaxReconnects = cfg.NATS.MaxReconnects
		natsCfg.ReconnectWait = cfg.NATS.ReconnectWait
		natsCfg.Logger = logger.Logger

		client, err := natsclient.NewClient(natsCfg)
		if err != nil {
			slog.Warn("Failed to connect to NATS, progress events disabled", logging.Error(err))
		} else {
			msgClient = client
			opts = append(opts, service.WithNotifier(notify.NewPublisher(client, logger.Logger)))
			slog.Info("Progress events enabled", slog.String("nats_url", cfg.NATS.URL))
			defer func() {
				if err := client.Drain(); err != nil {
					slog.Warn("Failed to drain NATS connection", logging.Error(err))
				}
			}()
		}
	} else {
		slog.Info("NATS disabled - progress events will not be published")
	}

	replicator := service.New(service.Config{
		Table:        cfg.Replicator.Table,
		Lag:          cfg.Replicator.Lag,
		BatchLimit:   cfg.Replicator.BatchLimit,
		FlushRetries: cfg.Replicator.FlushRetries,
	}, src, batchWriter, tracker, opts...)

	// A failure here is retried lazily by the first cycle
	if err := replicator.Initialize(ctx); err != nil {
		slog.Warn("Failed to recover watermark at startup", logging.Error(err))
	}

	sched := scheduler.NewScheduler(replicator, scheduler.Config{
		Interval:   cfg.Replicator.SyncInterval,
		RetryDelay: cfg.Replicator.SupervisorRetryDelay,
	}, logger)
	if err := sched.Start(ctx); err != nil {
		slog.Error("Failed to start scheduler", logging.Error(err))
		os.Exit(1)
	}

	// Admin HTTP server
	handler := handlers.NewHandler(handlers.Deps{
		Table:     cfg.Replicator.Table,
		Scheduler: sched,
		Watermark: replicator,
		Schema:    schemaManager,
		Lease:     cycleLease,
		Messaging: msgClient,
		Logger:    logger,
	})
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.NewRouter(handler, logger.Logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		slog.Info("Admin server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Admin server error", logging.Error(err))
			stop()
		}
	}()

	// Graceful shutdown
	<-ctx.Done()

	slog.Info("Shutting down replicator...")
	if err := sched.Stop(); err != nil && !errors.Is(err, scheduler.ErrNotRunning) {
		slog.Error("Failed to stop scheduler", logging.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Admin server forced to shutdown", logging.Error(err))
	}

	slog.Info("Replicator stopped", logging.Watermark(replicator.Watermark()))
}

// connect retries dial with a constant delay until it succeeds or ctx is done.
func connect[T any](ctx context.Context, name string, delay time.Duration, dial func() (T, error)) (T, error) {
	b := backoff.WithContext(backoff.NewConstantBackOff(delay), ctx)
	return backoff.RetryNotifyWithData(dial, b, func(err error, wait time.Duration) {
		slog.Warn("Connection failed, retrying",
			slog.String("store", name),
			logging.Error(err),
			slog.Duration("retry_in", wait))
	})
}
