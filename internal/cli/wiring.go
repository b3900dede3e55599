package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"

	"quizroom/internal/app"
	"quizroom/internal/config"
	"quizroom/internal/infra/memory"
	"quizroom/internal/infra/postgres"
	"quizroom/internal/infra/rabbitmq"
	infraredis "quizroom/internal/infra/redis"
)

// runtime is the wired engine plus the resources start and sweep must release.
type runtime struct {
	engine  *app.Engine
	logger  *slog.Logger
	ready   func() error
	closers []func()
}

func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func engineConfig(cfg config.Config) app.EngineConfig {
	return app.EngineConfig{
		AnswerPoints:  cfg.Engine.AnswerPoints,
		SpamWindow:    config.TTLDuration(cfg.Engine.SpamWindow, app.DefaultSpamWindow),
		DigestBuckets: cfg.Engine.DigestBuckets,
		Workers:       cfg.Engine.Workers,
		Sweeper: app.SweeperConfig{
			Interval:  config.TTLDuration(cfg.Retention.Interval, 24*time.Hour),
			MaxAge:    config.TTLDuration(cfg.Retention.Cutoff, 24*time.Hour),
			BatchSize: cfg.Retention.BatchSize,
			ChunkSize: cfg.Retention.ChunkSize,
		},
	}
}

// buildRuntime picks Redis or the in-process store, Postgres or the in-memory
// audit sink, and RabbitMQ paging when configured.
func buildRuntime(ctx context.Context, cfg config.Config, logger *slog.Logger) (*runtime, error) {
	rt := &runtime{logger: logger, ready: func() error { return nil }}

	var store app.Store
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		rt.closers = append(rt.closers, func() { _ = client.Close() })
		if err := client.Ping(ctx).Err(); err != nil {
			rt.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		rs, err := infraredis.NewStore(ctx, client, infraredis.Options{Consumer: cfg.Redis.Consumer})
		if err != nil {
			rt.Close()
			return nil, err
		}
		store = rs
		rt.ready = func() error { return client.Ping(context.Background()).Err() }
		logger.Info("using redis store", slog.String("addr", cfg.Redis.Addr))
	} else {
		store = memory.NewStore()
		logger.Warn("redis not configured, using in-process store")
	}

	var (
		sink  app.AuditSink
		roles app.RoleDirectory
	)
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		rt.closers = append(rt.closers, pool.Close)
		sink = postgres.NewAuditSink(pool)
		roles = postgres.NewRoleDirectory(pool)
	} else {
		sink = memory.NewAuditSink()
		roles = memory.NewStaticRoles(cfg.Auth.Admins...)
		logger.Warn("postgres not configured, audit records stay in memory")
	}

	deps := app.EngineDeps{
		Store:     store,
		Questions: memory.NewQuestionCache(store, config.TTLDuration(cfg.Engine.QuestionCacheTTL, 10*time.Minute)),
		Sink:      sink,
		Roles:     roles,
		Logger:    logger,
	}
	if cfg.RabbitMQ.URL != "" {
		notifier, err := rabbitmq.Dial(cfg.RabbitMQ.URL, cfg.RabbitMQ.Queue)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.closers = append(rt.closers, func() { _ = notifier.Close() })
		deps.Notifier = notifier
	}

	rt.engine = app.NewEngine(deps, engineConfig(cfg))
	return rt, nil
}
