package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/angelmondragon/rentescrow-backend/internal/bootstrap"
	"github.com/angelmondragon/rentescrow-backend/pkg/outbox"
	"github.com/angelmondragon/rentescrow-backend/pkg/outbox/registry"
	"github.com/angelmondragon/rentescrow-backend/pkg/pubsub"
)

func main() {
	cfg, logg := bootstrap.Init("outbox-publisher")
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

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	bootstrap.Must(ctx, logg, "failed to bootstrap pubsub", err)
	closers.Add(pubsubClient)

	eventRegistry, err := registry.NewEventRegistry(cfg.PubSub)
	bootstrap.Must(ctx, logg, "failed to build event registry", err)

	service, err := NewService(ServiceParams{
		Config:        cfg,
		Logger:        logg,
		DB:            dbClient,
		PubSub:        pubsubClient,
		Repository:    outbox.NewRepository(dbClient.DB()),
		Registry:      eventRegistry,
		DLQRepository: outbox.NewDLQRepository(dbClient.DB()),
	})
	bootstrap.Must(ctx, logg, "failed to create outbox publisher", err)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"env":   cfg.App.Env,
		"topic": cfg.PubSub.EscrowTopic,
	})
	logg.Info(runCtx, "starting outbox publisher")

	if err := service.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "outbox publisher stopped unexpectedly", err)
		return
	}
	logg.Info(runCtx, "outbox publisher shutting down gracefully")
}
