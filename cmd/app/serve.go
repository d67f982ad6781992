package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"telegram-subscriber-notify/internal/application"
	"telegram-subscriber-notify/internal/config"
	"telegram-subscriber-notify/internal/domain"
	"telegram-subscriber-notify/internal/domain/ports/adapter"
	"telegram-subscriber-notify/internal/infra/db"
	"telegram-subscriber-notify/internal/infra/db/postgres"
	"telegram-subscriber-notify/internal/infra/forward"
	"telegram-subscriber-notify/internal/infra/logging"
	"telegram-subscriber-notify/internal/infra/metrics"
	red "telegram-subscriber-notify/internal/infra/redis"
	"telegram-subscriber-notify/internal/infra/sched"
	"telegram-subscriber-notify/internal/infra/telegram"
	"telegram-subscriber-notify/internal/infra/web"
	"telegram-subscriber-notify/internal/infra/worker"
	"telegram-subscriber-notify/internal/usecase"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the Telegram bot and the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, true)
		},
	}
}

func newAPICommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "api",
		Short: "Run only the HTTP API (the bot token is optional)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, false)
		},
	}
}

func run(ctx context.Context, opts *rootOptions, withBot bool) error {
	cfg, err := config.LoadConfig(opts.configPath, opts.dev)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Info().Msg("[DEV MODE] Enabled")
	}
	if withBot && strings.TrimSpace(cfg.Bot.Token) == "" {
		return errors.New("TELEGRAM_TOKEN is required to run the bot")
	}

	metrics.MustRegister()

	// ---- Registry ----
	store, err := db.Open(ctx, cfg.Database, cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("registry: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn().Err(err).Msg("registry close")
		}
	}()
	metrics.SetBuildInfo(version, commit, store.Backend)

	g, ctx := errgroup.WithContext(ctx)
	if store.Pool != nil {
		go postgres.ReportPoolStats(ctx, store.Pool, 15*time.Second, logger)
	}

	// ---- Redis (optional) ----
	var redisClient red.RedisClient
	if cfg.Redis.URL != "" {
		rc, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer rc.Close()
		redisClient = rc
	}

	// ---- Telegram ----
	var (
		bot       *telegram.Bot
		messenger adapter.Messenger
	)
	if strings.TrimSpace(cfg.Bot.Token) != "" {
		var botOpts []telegram.Option
		if withBot && redisClient != nil && cfg.Bot.RateLimit > 0 {
			botOpts = append(botOpts, telegram.WithLimiter(red.NewRateLimiter(redisClient)))
			logger.Info().Int("limit", cfg.Bot.RateLimit).Dur("window", cfg.Bot.RateWindow).Msg("per-chat rate limiting enabled")
		}
		bot, err = telegram.NewBot(cfg.Bot, logger, botOpts...)
		if err != nil {
			return err
		}
		messenger = bot
	} else {
		logger.Warn().Msg("TELEGRAM_TOKEN not set; notify and sync endpoints will answer 500")
	}

	// ---- Use cases ----
	limit := cfg.API.Concurrency
	subUC := usecase.NewSubscriberUseCase(store.Repo, messenger, limit, logger)
	dispatcher := usecase.NewDispatcher(messenger, logger, cfg.Runtime.Dev)
	notifyUC := usecase.NewNotificationUseCase(store.Repo, dispatcher, limit, logger)

	// ---- Bot ----
	if withBot {
		pool := worker.NewPool(cfg.Bot.Workers, logger)
		pool.Start(ctx)
		defer pool.Stop()

		forwarder, err := newForwarder(cfg.Forward, logger)
		if err != nil {
			return err
		}
		if strings.ToLower(cfg.Bot.Mode) != "polling" {
			logger.Warn().Str("mode", cfg.Bot.Mode).Msg("bot mode not implemented; falling back to polling")
		}
		facade := application.NewBotFacade(subUC, messenger, forwarder, pool, cfg.Bot, logger)
		g.Go(func() error { return bot.StartPolling(ctx, facade) })
	}

	// ---- HTTP API ----
	server := web.NewServer(subUC, notifyUC, cfg.API.Key, logger)
	g.Go(func() error { return server.ListenAndServe(ctx, cfg.API.Addr) })

	// ---- Scheduled profile refresh ----
	if cfg.Sync.Cron != "" {
		if messenger == nil {
			logger.Warn().Msg("sync.cron set but no messenger configured; scheduled sync disabled")
		} else {
			w, err := sched.NewSyncWorker(cfg.Sync.Cron, subUC, 0, logger)
			if err != nil {
				return err
			}
			if redisClient != nil {
				w.WithLock(red.NewLocker(redisClient), red.SyncLockKey)
			}
			g.Go(func() error {
				if err := w.Run(ctx); !errors.Is(err, context.Canceled) {
					return err
				}
				return nil
			})
		}
	}

	err = g.Wait()
	logger.Info().Msg("shutdown complete")
	return err
}

// newForwarder returns nil when forwarding is not configured; the bot then
// tells users the feature is unavailable.
func newForwarder(cfg config.ForwardConfig, logger *zerolog.Logger) (adapter.Forwarder, error) {
	f, err := forward.New(cfg, logger)
	switch {
	case errors.Is(err, domain.ErrForwardNotConfigured):
		logger.Info().Msg("forwarding disabled")
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("forward: %w", err)
	}
	return f, nil
}
