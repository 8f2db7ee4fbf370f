package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/angelmondragon/rentescrow-backend/internal/bootstrap"
	"github.com/angelmondragon/rentescrow-backend/internal/notifications"
	"github.com/angelmondragon/rentescrow-backend/pkg/instance"
	"github.com/angelmondragon/rentescrow-backend/pkg/kafka"
	"github.com/angelmondragon/rentescrow-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/rentescrow-backend/pkg/outbox/registry"
	"github.com/angelmondragon/rentescrow-backend/pkg/pubsub"
	"github.com/angelmondragon/rentescrow-backend/pkg/redis"
)

func main() {
	cfg, logg := bootstrap.Init("worker")
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

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg, cfg.PubSub.NotificationSubscription)
	bootstrap.Must(ctx, logg, "failed to bootstrap pubsub", err)
	closers.Add(pubsubClient)

	var email *kafka.Producer
	if len(cfg.Kafka.Brokers) > 0 {
		email, err = kafka.NewProducer(cfg.Kafka)
		bootstrap.Must(ctx, logg, "failed to bootstrap kafka producer", err)
		closers.Add(email)
	}

	manager, err := idempotency.NewManager(redisClient, cfg.Eventing.OutboxIdempotencyTTL)
	bootstrap.Must(ctx, logg, "failed to build idempotency manager", err)

	params := notifications.ConsumerParams{
		Repo:         notifications.NewRepository(dbClient.DB()),
		Subscription: pubsubClient.NotificationSubscription(),
		Decoder:      registry.NewDecoderRegistry(),
		Idempotency:  manager,
		Logger:       logg,
	}
	if email != nil {
		params.Email = email
	}
	notificationConsumer, err := notifications.NewConsumer(params)
	bootstrap.Must(ctx, logg, "failed to build notification consumer", err)

	service, err := NewService(ServiceParams{
		Logger:       logg,
		DB:           dbClient,
		Redis:        redisClient,
		PubSub:       pubsubClient,
		Notification: notificationConsumer,
	})
	bootstrap.Must(ctx, logg, "failed to create worker service", err)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"env":          cfg.App.Env,
		"instance":     instance.GetID(),
		"subscription": cfg.PubSub.NotificationSubscription,
	})
	logg.Info(runCtx, "starting worker")

	if err := service.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "worker stopped unexpectedly", err)
		return
	}
	logg.Info(runCtx, "worker shutting down gracefully")
}
