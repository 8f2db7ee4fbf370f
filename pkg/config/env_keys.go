package config

// EnvPrefix namespaces every key read by Load.
const EnvPrefix = "RENTESCROW"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	ChainModeSimulated = "simulated"
	ChainModeRelayer   = "relayer"
)

const (
	EnvAppEnv   = EnvPrefix + "_APP_ENV"
	EnvPort     = EnvPrefix + "_APP_PORT"
	EnvDBDSN    = EnvPrefix + "_DB_DSN"
	EnvDBHost   = EnvPrefix + "_DB_HOST"
	EnvDBUser   = EnvPrefix + "_DB_USER"
	EnvDBName   = EnvPrefix + "_DB_NAME"
	EnvDBPass   = EnvPrefix + "_DB_PASSWORD"
	EnvRedisURL = EnvPrefix + "_REDIS_URL"

	EnvJWTSecret  = EnvPrefix + "_JWT_SECRET"
	EnvJWTIssuer  = EnvPrefix + "_JWT_ISSUER"
	EnvJWTExpMins = EnvPrefix + "_JWT_EXPIRATION_MINUTES"

	EnvReleaseWindow = EnvPrefix + "_RELEASE_WINDOW"
	EnvRetryAttempts = EnvPrefix + "_RETRY_ATTEMPTS"
	EnvChainTimeout  = EnvPrefix + "_CHAIN_TIMEOUT"
	EnvChainMode     = EnvPrefix + "_CHAIN_MODE"

	EnvGCPProjectID        = EnvPrefix + "_GCP_PROJECT_ID"
	EnvPubSubNotifySub     = EnvPrefix + "_PUBSUB_NOTIFICATION_SUBSCRIPTION"
	EnvPubSubAnalyticsSub  = EnvPrefix + "_PUBSUB_ANALYTICS_SUBSCRIPTION"
	EnvKafkaBrokers        = EnvPrefix + "_KAFKA_BROKERS"
	EnvOnrampWebhookSecret = EnvPrefix + "_ONRAMP_WEBHOOK_SECRET"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
