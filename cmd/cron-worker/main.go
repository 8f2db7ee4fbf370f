package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/rentescrow-backend/internal/bootstrap"
	"github.com/angelmondragon/rentescrow-backend/internal/cron"
	"github.com/angelmondragon/rentescrow-backend/internal/notifications"
	"github.com/angelmondragon/rentescrow-backend/pkg/metrics"
	"github.com/angelmondragon/rentescrow-backend/pkg/outbox"
	"github.com/angelmondragon/rentescrow-backend/pkg/redis"
)

func main() {
	cfg, logg := bootstrap.Init("cron-worker")
	ctx := context.Background()

	var closers bootstrap.Closers
	defer func() {
		if err := closers.Close(); err != nil {
			logg.Error(ctx, "error releasing resources", err)
		}
	}()

	dbClient, err := bootstrap.OpenDB(ctx, cfg, logg)
	bootstrap.Must(ctx, logg, "failed to bootstrap database", err)
	closers.Add(dbClient)

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	bootstrap.Must(ctx, logg, "failed to bootstrap redis", err)
	closers.Add(redisClient)

	engines, err := bootstrap.NewEngines(cfg, dbClient, logg, prometheus.DefaultRegisterer)
	bootstrap.Must(ctx, logg, "failed to build escrow engines", err)

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("cron-worker"), cfg.Cron.LockTTL)
	bootstrap.Must(ctx, logg, "failed to create cron lock", err)

	autoRelease, err := cron.NewAutoReleaseJob(cron.AutoReleaseJobParams{
		Logger:    logg,
		Custody:   engines.Custody,
		BatchSize: cfg.Cron.AutoReleaseBatch,
	})
	bootstrap.Must(ctx, logg, "failed to build auto release job", err)

	settlement, err := cron.NewSettlementJob(cron.SettlementJobParams{
		Logger:    logg,
		Custody:   engines.Custody,
		BatchSize: cfg.Cron.SettlementBatch,
	})
	bootstrap.Must(ctx, logg, "failed to build settlement job", err)

	outboxRetention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		Repository: outbox.NewRepository(dbClient.DB()),
	})
	bootstrap.Must(ctx, logg, "failed to build outbox retention job", err)

	notificationCleanup, err := cron.NewNotificationCleanupJob(cron.NotificationCleanupJobParams{
		Logger:     logg,
		Repository: notifications.NewRepository(dbClient.DB()),
	})
	bootstrap.Must(ctx, logg, "failed to build notification cleanup job", err)

	registry, err := cron.NewRegistry(autoRelease, settlement, outboxRetention, notificationCleanup)
	bootstrap.Must(ctx, logg, "failed to register cron jobs", err)

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	bootstrap.Must(ctx, logg, "failed to create cron service", err)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(runCtx, "starting cron worker")

	if err := service.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(runCtx, "cron worker shutting down gracefully")
}
