package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/angelmondragon/rentescrow-backend/internal/bootstrap"
	"github.com/angelmondragon/rentescrow-backend/internal/chainevents"
)

func main() {
	cfg, logg := bootstrap.Init("chain-listener")
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

	engines, err := bootstrap.NewEngines(cfg, dbClient, logg, nil)
	bootstrap.Must(ctx, logg, "failed to build escrow engines", err)

	nc, js, err := chainevents.Connect(cfg.NATS, logg)
	bootstrap.Must(ctx, logg, "failed to connect to nats", err)
	defer nc.Close()

	handler, err := chainevents.NewHandler(engines.Funding, logg)
	bootstrap.Must(ctx, logg, "failed to build chain event handler", err)

	listener, err := chainevents.NewListener(js, cfg.NATS, handler, logg)
	bootstrap.Must(ctx, logg, "failed to build chain listener", err)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"stream":      cfg.NATS.Stream,
	})
	logg.Info(runCtx, "chain listener starting")

	if err := listener.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "chain listener stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(runCtx, "chain listener stopped")
}
