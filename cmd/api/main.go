package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/angelmondragon/rentescrow-backend/api"
	"github.com/angelmondragon/rentescrow-backend/api/routes"
	"github.com/angelmondragon/rentescrow-backend/internal/analytics"
	"github.com/angelmondragon/rentescrow-backend/internal/bootstrap"
	"github.com/angelmondragon/rentescrow-backend/internal/notifications"
	"github.com/angelmondragon/rentescrow-backend/internal/webhooks/onramp"
	"github.com/angelmondragon/rentescrow-backend/pkg/bigquery"
	"github.com/angelmondragon/rentescrow-backend/pkg/instance"
	"github.com/angelmondragon/rentescrow-backend/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, logg := bootstrap.Init("api")
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

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	engines, err := bootstrap.NewEngines(cfg, dbClient, logg, registry)
	bootstrap.Must(ctx, logg, "failed to build escrow engines", err)

	onrampSvc, err := onramp.NewService(engines.Funding, logg)
	bootstrap.Must(ctx, logg, "failed to build onramp webhook service", err)
	onrampGuard, err := onramp.NewIdempotencyGuard(redisClient, cfg.Webhook.ReplayTTL, "onramp-webhook")
	bootstrap.Must(ctx, logg, "failed to build onramp idempotency guard", err)

	notificationSvc, err := notifications.NewService(notifications.NewRepository(dbClient.DB()))
	bootstrap.Must(ctx, logg, "failed to build notifications service", err)

	probes := routes.Probes{DB: dbClient, Redis: redisClient}
	var analyticsSvc analytics.Service
	if cfg.FeatureFlags.Analytics {
		bqClient, err := bigquery.NewClient(ctx, cfg.GCP, cfg.BigQuery, logg)
		bootstrap.Must(ctx, logg, "failed to bootstrap bigquery", err)
		closers.Add(bqClient)
		probes.BigQuery = bqClient

		analyticsSvc, err = analytics.NewService(bqClient, bqClient.ProjectID(), bqClient.DatasetID(), bqClient.EscrowTable())
		bootstrap.Must(ctx, logg, "failed to build analytics service", err)
	}

	router := routes.NewRouter(cfg, logg, registry,
		probes,
		redisClient,
		routes.Services{
			Custody:       engines.Custody,
			Disputes:      engines.Disputes,
			Stats:         engines.Stats,
			Notifications: notificationSvc,
			Analytics:     analyticsSvc,
			Resolver:      engines.Resolver,
			Funding:       engines.Funding,
			Onramp:        onrampSvc,
			OnrampGuard:   onrampGuard,
		},
	)

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instance.GetID(),
		"chain":    cfg.Chain.Mode,
	})

	server := api.NewServer(addr, router)
	errCh := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting api server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil {
			logg.Error(ctx, "api server stopped unexpectedly", err)
		}
		return
	case <-sigCtx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logg.Error(ctx, "api server shutdown failed", err)
		return
	}
	logg.Info(ctx, "api server stopped")
}
