package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"github.com/spec-kit/ticketbot/internal/community"
	"github.com/spec-kit/ticketbot/internal/config"
	"github.com/spec-kit/ticketbot/internal/events"
	"github.com/spec-kit/ticketbot/internal/observability"
	"github.com/spec-kit/ticketbot/internal/persistence"
	slackplatform "github.com/spec-kit/ticketbot/internal/platform/slack"
	"github.com/spec-kit/ticketbot/internal/repository"
	"github.com/spec-kit/ticketbot/internal/service"
	"github.com/spec-kit/ticketbot/internal/transcript"
	"github.com/spec-kit/ticketbot/internal/worker"
)

// runtime holds the process-wide collaborators shared by the subcommands.
type runtime struct {
	cfg    *config.Config
	logger *zap.Logger

	store   repository.Store
	redis   *persistence.Redis
	metrics *observability.Metrics

	registry   *community.Registry
	dispatcher events.Dispatcher
	slackAPI   *slack.Client
	platform   *slackplatform.Client
	lifecycle  *service.LifecycleService

	closers []func()
}

func loadBase() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := observability.NewLogger(cfg.Logger, cfg.App)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logger, nil
}

// openStore connects the configured backend and applies migrations when
// enabled or forced.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger, migrate bool) (repository.Store, func(), error) {
	migrate = migrate || cfg.Store.RunMigrations
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
		if err != nil {
			return repository.Store{}, nil, fmt.Errorf("connect postgres: %w", err)
		}
		if migrate {
			if err := persistence.RunPostgresMigrations(ctx, pg.Pool, logger); err != nil {
				pg.Close()
				return repository.Store{}, nil, fmt.Errorf("migrate postgres: %w", err)
			}
		}
		return repository.NewPostgresStore(pg.Pool), pg.Close, nil
	default:
		db, err := persistence.NewSQLite(ctx, cfg.SQLite, logger)
		if err != nil {
			return repository.Store{}, nil, err
		}
		if migrate {
			if err := persistence.RunSQLiteMigrations(ctx, db.DB, logger); err != nil {
				db.Close()
				return repository.Store{}, nil, fmt.Errorf("migrate sqlite: %w", err)
			}
		}
		return repository.NewSQLiteStore(db.DB), db.Close, nil
	}
}

// newRuntime wires the store, Redis, events and the lifecycle engine. The
// Slack bot token is required because every transition touches the platform.
func newRuntime(ctx context.Context) (*runtime, error) {
	cfg, logger, err := loadBase()
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg, logger: logger}

	if cfg.Slack.BotToken == "" {
		rt.Close()
		return nil, errors.New("SLACK_BOT_TOKEN is required")
	}

	shutdownTracing := observability.SetupTracing(ctx, cfg.Telemetry, cfg.App, logger)
	rt.closers = append(rt.closers, func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("trace shutdown failed", zap.Error(err))
		}
	})

	store, closeStore, err := openStore(ctx, cfg, logger, false)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.store = store
	rt.closers = append(rt.closers, closeStore)

	rt.redis = persistence.NewRedis(ctx, cfg.Redis, logger)
	rt.closers = append(rt.closers, rt.redis.Close)

	rt.metrics = observability.NewMetrics()
	rt.registry = community.NewRegistry(store.Config, logger)
	rt.dispatcher = events.NewInMemoryDispatcher()

	opts := []slack.Option{slack.OptionDebug(cfg.Slack.Debug)}
	if cfg.Slack.AppToken != "" {
		opts = append(opts, slack.OptionAppLevelToken(cfg.Slack.AppToken))
	}
	rt.slackAPI = slack.New(cfg.Slack.BotToken, opts...)
	rt.platform = slackplatform.NewClient(rt.slackAPI, logger)

	rt.lifecycle = service.NewLifecycleService(service.LifecycleDependencies{
		Tickets:     store.Tickets,
		Registry:    rt.registry,
		Platform:    rt.platform,
		Dispatcher:  rt.dispatcher,
		Transcripts: transcript.NewStore(cfg.Transcript.Dir),
		Metrics:     rt.metrics,
		Logger:      logger,
		GraceDelay:  cfg.Scheduler.CloseGraceDelay,
	})

	var mirror *events.StreamMirror
	if rt.redis != nil {
		mirror = events.NewStreamMirror(rt.redis.Client, cfg.Redis.EventStream, cfg.Redis.StreamMaxLen, logger)
	}
	notifications := service.NewNotificationService(rt.dispatcher, store.History, rt.registry, rt.platform, logger)
	worker.StartNotificationWorker(rt.dispatcher, notifications, mirror)

	return rt, nil
}

func (rt *runtime) scheduler() *worker.Scheduler {
	return worker.NewScheduler(rt.lifecycle, rt.store.Tickets, rt.registry,
		rt.cfg.Scheduler.InactivityInterval, rt.cfg.Scheduler.StalenessInterval, rt.logger)
}

// Close waits for in-flight close pipelines, then releases resources in
// reverse order.
func (rt *runtime) Close() {
	if rt.lifecycle != nil {
		rt.lifecycle.Wait()
	}
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	_ = rt.logger.Sync()
}
