package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"gisengine/internal/api"
	"gisengine/internal/auth"
	"gisengine/internal/config"
	xerrors "gisengine/internal/errors"
	"gisengine/internal/events"
	"gisengine/internal/observability/alerting"
	"gisengine/internal/observability/metrics"
	"gisengine/internal/run"
	"gisengine/internal/storage/redis"
	"gisengine/internal/storage/sqldb"
	"gisengine/pkg/logger"
	"gisengine/pkg/plugin"
)

func newServeCommand(c *cli) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and process queued runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				c.cfg.Server.Address = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, c.cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address override")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := logger.Named("serve")

	shutdownTracing, err := setupTracing(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Warn("flush traces", slog.String("error", err.Error()))
		}
	}()

	collector := metrics.New(cfg.Metrics.Namespace)
	bus := events.NewBus(events.WithHistory(256), events.WithBusLogger(logger.Named("events")))
	if cfg.Events.Enabled() {
		publisher, err := events.DialMQTT(cfg.Events, logger.Named("mqtt"))
		if err != nil {
			return err
		}
		detach := publisher.Attach(bus)
		defer publisher.Close()
		defer detach()
	}

	st, err := buildStack(ctx, cfg, collector, bus)
	if err != nil {
		return err
	}

	store, err := openStore(ctx, cfg.Runs.Store)
	if err != nil {
		return err
	}
	queue, err := openQueue(ctx, cfg.Runs.Queue)
	if err != nil {
		_ = store.Close()
		return err
	}
	runs := run.NewService(store, queue, cfg.Runs.MaxRetries, run.WithResolver(st.registry))
	defer func() {
		if err := runs.Close(); err != nil {
			log.Warn("close run backends", slog.String("error", err.Error()))
		}
	}()
	if n, err := runs.RequeueStale(ctx, cfg.Runs.StaleAfter); err != nil {
		log.Warn("requeue stale runs", slog.String("error", err.Error()))
	} else if n > 0 {
		log.Info("requeued stale runs", slog.Int("count", n))
	}

	processor := run.NewProcessor(st.engine, store, queue, queue,
		run.WithWorkerCount(cfg.Runs.Workers),
		run.WithProcessorLogger(logger.Named("runs")),
		run.WithAlertDispatcher(buildAlerts(cfg.Alerts)),
	)

	authSvc, err := auth.NewService(cfg.Auth)
	if err != nil {
		return err
	}
	if !authSvc.Enabled() && cfg.Engine.DataRoot == "" {
		log.Warn("auth is disabled and engine.data_root is empty: API clients can read and write any file the process can reach")
	}
	server := api.NewServer(cfg.Server.Address, st.engine, st.registry,
		api.WithRuns(runs),
		api.WithPlugins(st.loader),
		api.WithEventBus(bus),
		api.WithMetrics(collector),
		api.WithAuth(authSvc),
		api.WithRateLimit(cfg.Server.RateLimit, cfg.Server.Burst),
		api.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(gctx) })
	g.Go(func() error { return ignoreCancel(processor.Start(gctx)) })
	if cfg.Metrics.Address != "" {
		g.Go(func() error { return ignoreCancel(collector.StartServer(gctx, cfg.Metrics.Address)) })
	}
	if cfg.Plugins.Watch {
		watcher := plugin.NewWatcher(st.loader, plugin.WithPassCallback(func(r plugin.Report, err error) {
			if err != nil {
				log.Warn("plugin rescan failed", slog.String("error", err.Error()))
				return
			}
			log.Info("plugin rescan", slog.Int("loaded", len(r.Loaded)), slog.Int("components", r.Components()))
		}))
		if err := watcher.Start(gctx); err != nil {
			return err
		}
		defer watcher.Stop()
	}
	if cfg.Runs.StaleAfter > 0 {
		g.Go(func() error { return requeueLoop(gctx, runs, cfg.Runs.StaleAfter, log) })
	}

	log.Info("gisengine started",
		slog.String("address", cfg.Server.Address),
		slog.Int("components", st.registry.Len()),
		slog.String("store", cfg.Runs.Store.Driver),
		slog.String("queue", cfg.Runs.Queue.Driver),
		slog.String("auth", string(authSvc.Mode())))
	err = g.Wait()
	log.Info("gisengine stopped")
	return err
}

func requeueLoop(ctx context.Context, runs *run.Service, staleAfter time.Duration, log *slog.Logger) error {
	ticker := time.NewTicker(staleAfter / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n, err := runs.RequeueStale(ctx, staleAfter); err != nil {
				log.Warn("requeue stale runs", slog.String("error", err.Error()))
			} else if n > 0 {
				log.Info("requeued stale runs", slog.Int("count", n))
			}
		}
	}
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func openStore(ctx context.Context, cfg config.StoreConfig) (run.Store, error) {
	if cfg.Driver == "memory" || cfg.Driver == "" {
		return run.NewMemoryStore(), nil
	}
	db, err := sqldb.Open(ctx, cfg.Config)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "open run store")
	}
	store, err := run.NewSQLStore(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func openQueue(ctx context.Context, cfg config.QueueConfig) (run.Queue, error) {
	switch cfg.Driver {
	case "", "memory":
		return run.NewMemoryQueue(cfg.Size), nil
	case "redis":
		client, err := redis.Open(ctx, cfg.Redis)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "connect redis")
		}
		q, err := run.NewRedisQueue(client, cfg.RedisQueue)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		return q, nil
	case "rabbitmq":
		return run.NewRabbitMQQueue(cfg.RabbitMQ)
	default:
		return nil, fmt.Errorf("unsupported queue driver %q", cfg.Driver)
	}
}

func buildAlerts(cfg config.AlertsConfig) alerting.Dispatcher {
	var notifiers []alerting.Notifier
	if cfg.Log {
		notifiers = append(notifiers, &alerting.LogNotifier{Logger: logger.Named("alerts")})
	}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{URL: cfg.WebhookURL, Headers: cfg.Headers})
	}
	if cfg.SlackURL != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{URL: cfg.SlackURL, Slack: true})
	}
	fanout := alerting.NewFanout(notifiers...)
	fanout.MinSeverity = xerrors.Severity(cfg.MinSeverity)
	return fanout
}
