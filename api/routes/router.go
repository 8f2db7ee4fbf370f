package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/rentescrow-backend/api/controllers"
	analyticscontrollers "github.com/angelmondragon/rentescrow-backend/api/controllers/analytics"
	depositcontrollers "github.com/angelmondragon/rentescrow-backend/api/controllers/deposits"
	disputecontrollers "github.com/angelmondragon/rentescrow-backend/api/controllers/disputes"
	notificationcontrollers "github.com/angelmondragon/rentescrow-backend/api/controllers/notifications"
	statscontrollers "github.com/angelmondragon/rentescrow-backend/api/controllers/stats"
	webhookcontrollers "github.com/angelmondragon/rentescrow-backend/api/controllers/webhooks"
	"github.com/angelmondragon/rentescrow-backend/api/middleware"
	"github.com/angelmondragon/rentescrow-backend/internal/custody"
	"github.com/angelmondragon/rentescrow-backend/internal/disputes"
	"github.com/angelmondragon/rentescrow-backend/internal/gateway"
	"github.com/angelmondragon/rentescrow-backend/pkg/config"
	"github.com/angelmondragon/rentescrow-backend/pkg/enums"
	"github.com/angelmondragon/rentescrow-backend/pkg/logger"
	"github.com/angelmondragon/rentescrow-backend/pkg/metrics"
	"github.com/angelmondragon/rentescrow-backend/pkg/redis"
)

// Services are the engines and adapters the HTTP surface dispatches to.
type Services struct {
	Custody       custody.Service
	Disputes      disputes.Service
	Stats         statscontrollers.Reader
	Notifications notificationcontrollers.Service
	Analytics     analyticscontrollers.Service
	Resolver      *gateway.Resolver
	Funding       *gateway.Funding
	Onramp        webhookcontrollers.OnrampWebhookService
	OnrampGuard   webhookcontrollers.OnrampWebhookGuard
}

// Probes are the readiness dependencies. Nil entries are skipped.
type Probes struct {
	DB       controllers.Pinger
	Redis    controllers.Pinger
	BigQuery controllers.Pinger
}

// RedisStore is the subset of the redis client the middleware chain uses.
type RedisStore interface {
	redis.IdempotencyStore
	redis.Pinger
	middleware.RateLimitStore
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	registry *prometheus.Registry,
	probes Probes,
	store RedisStore,
	svcs Services,
) http.Handler {
	r := chi.NewRouter()

	var httpMetrics *metrics.HTTPMetrics
	if registry != nil {
		httpMetrics = metrics.NewHTTPMetrics(registry)
	}

	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.CORS(cfg.App.CORSOrigins),
		middleware.Logging(logg, httpMetrics),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"db":       probes.DB,
			"redis":    probes.Redis,
			"bigquery": probes.BigQuery,
		}))
	})

	if registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/onramp", webhookcontrollers.OnrampWebhook(
			svcs.Onramp,
			svcs.OnrampGuard,
			cfg.Webhook.OnrampSecret,
			cfg.Webhook.MaxBodyBytes,
			logg,
		))
	})

	policy := middleware.NewRateLimitPolicy("api", cfg.RateLimit.Window, cfg.RateLimit.IPLimit, cfg.RateLimit.WalletLimit)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		if store != nil {
			r.Use(middleware.RateLimit(policy, store, logg))
			r.Use(middleware.Idempotency(store, logg))
		}

		r.Get("/stats", statscontrollers.Overview(svcs.Stats, logg))

		r.Route("/deposits", func(r chi.Router) {
			r.Post("/", depositcontrollers.Create(svcs.Custody, svcs.Resolver, logg))
			r.Get("/stats", statscontrollers.Deposits(svcs.Stats, logg))
			r.Route("/{depositId}", func(r chi.Router) {
				r.Get("/", depositcontrollers.Detail(svcs.Custody, svcs.Resolver, logg))
				r.Post("/fund", depositcontrollers.Fund(svcs.Funding, logg))
				r.Post("/consents", depositcontrollers.Consent(svcs.Custody, svcs.Resolver, logg))
				r.Post("/release", depositcontrollers.Release(svcs.Custody, svcs.Resolver, logg))
				r.Post("/refund", depositcontrollers.Refund(svcs.Custody, svcs.Resolver, logg))
			})
		})

		if svcs.Notifications != nil {
			r.Route("/notifications", func(r chi.Router) {
				r.Get("/", notificationcontrollers.List(svcs.Notifications, logg))
				r.Post("/read-all", notificationcontrollers.MarkAllRead(svcs.Notifications, logg))
				r.Post("/{notificationId}/read", notificationcontrollers.MarkRead(svcs.Notifications, logg))
			})
		}

		if svcs.Analytics != nil {
			r.With(middleware.RequireRole(logg, enums.TokenRoleArbiter, enums.TokenRoleSystem)).
				Get("/analytics/volume", analyticscontrollers.Volume(svcs.Analytics, logg))
		}

		r.Route("/disputes", func(r chi.Router) {
			r.Post("/", disputecontrollers.Raise(svcs.Disputes, svcs.Custody, svcs.Resolver, logg))
			r.Get("/stats", statscontrollers.Disputes(svcs.Stats, logg))
			r.Route("/{disputeId}", func(r chi.Router) {
				r.Get("/", disputecontrollers.Detail(svcs.Disputes, svcs.Custody, svcs.Resolver, logg))
				r.Group(func(r chi.Router) {
					r.Use(middleware.RequireRole(logg, enums.TokenRoleArbiter))
					r.Post("/review", disputecontrollers.BeginReview(svcs.Disputes, svcs.Resolver, logg))
					r.Post("/resolve", disputecontrollers.Resolve(svcs.Disputes, svcs.Resolver, logg))
				})
			})
		})
	})

	return r
}
