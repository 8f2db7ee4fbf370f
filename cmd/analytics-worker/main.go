package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/angelmondragon/rentescrow-backend/internal/analytics/router"
	"github.com/angelmondragon/rentescrow-backend/internal/analytics/worker"
	"github.com/angelmondragon/rentescrow-backend/internal/analytics/writer"
	"github.com/angelmondragon/rentescrow-backend/internal/bootstrap"
	"github.com/angelmondragon/rentescrow-backend/pkg/bigquery"
	"github.com/angelmondragon/rentescrow-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/rentescrow-backend/pkg/pubsub"
	"github.com/angelmondragon/rentescrow-backend/pkg/redis"
)

func main() {
	cfg, logg := bootstrap.Init("analytics-worker")
	ctx := context.Background()

	var closers bootstrap.Closers
	defer func() {
		if err := closers.Close(); err != nil {
			logg.Error(ctx, "error releasing resources", err)
		}
	}()

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	bootstrap.Must(ctx, logg, "failed to bootstrap redis", err)
	closers.Add(redisClient)

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg, cfg.PubSub.AnalyticsSubscription)
	bootstrap.Must(ctx, logg, "failed to bootstrap pubsub", err)
	closers.Add(pubsubClient)

	bqClient, err := bigquery.NewClient(ctx, cfg.GCP, cfg.BigQuery, logg)
	bootstrap.Must(ctx, logg, "failed to bootstrap bigquery", err)
	closers.Add(bqClient)

	subscription := pubsubClient.AnalyticsSubscription()
	if subscription == nil {
		bootstrap.Must(ctx, logg, "analytics subscription", errors.New("subscription not configured"))
	}

	manager, err := idempotency.NewManager(redisClient, cfg.Eventing.OutboxIdempotencyTTL)
	bootstrap.Must(ctx, logg, "failed to build idempotency manager", err)

	escrowWriter, err := writer.New(bqClient, writer.Config{EscrowTable: bqClient.EscrowTable()})
	bootstrap.Must(ctx, logg, "failed to build bigquery writer", err)

	rowRouter, err := router.NewRouter(escrowWriter, logg, nil)
	bootstrap.Must(ctx, logg, "failed to build analytics router", err)

	service, err := worker.NewService(subscription, worker.HandlerFunc(rowRouter.Handle), manager, escrowWriter, logg)
	bootstrap.Must(ctx, logg, "failed to build analytics worker", err)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(runCtx, "analytics worker ready")

	if err := service.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "analytics worker failed", err)
		os.Exit(1)
	}
}
