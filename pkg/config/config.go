package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Escrow       EscrowConfig
	Chain        ChainConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	BigQuery     BigQueryConfig
	Outbox       OutboxConfig
	NATS         NATSConfig
	Kafka        KafkaConfig
	Webhook      WebhookConfig
	Cron         CronConfig
	RateLimit    RateLimitConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Escrow.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"RENTESCROW_APP_ENV" required:"true"`
	Port         string `envconfig:"RENTESCROW_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"RENTESCROW_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"RENTESCROW_LOG_WARN_STACK" default:"false"`

	CORSOrigins []string `envconfig:"RENTESCROW_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"RENTESCROW_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"RENTESCROW_DB_DSN"`
	Driver string `envconfig:"RENTESCROW_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"RENTESCROW_DB_HOST"`
	LegacyPort     int    `envconfig:"RENTESCROW_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"RENTESCROW_DB_USER"`
	LegacyPassword string `envconfig:"RENTESCROW_DB_PASSWORD"`
	LegacyName     string `envconfig:"RENTESCROW_DB_NAME"`
	LegacySSLMode  string `envconfig:"RENTESCROW_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"RENTESCROW_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"RENTESCROW_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"RENTESCROW_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"RENTESCROW_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"RENTESCROW_REDIS_URL" required:"true"`
	Address      string        `envconfig:"RENTESCROW_REDIS_ADDR"`
	Password     string        `envconfig:"RENTESCROW_REDIS_PASSWORD"`
	DB           int           `envconfig:"RENTESCROW_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"RENTESCROW_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"RENTESCROW_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"RENTESCROW_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"RENTESCROW_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"RENTESCROW_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"RENTESCROW_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"RENTESCROW_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"RENTESCROW_JWT_EXPIRATION_MINUTES" required:"true"`
}

// EscrowConfig holds the custody rules that are deployment choices rather than
// protocol constants.
type EscrowConfig struct {
	ReleaseWindow  time.Duration `envconfig:"RENTESCROW_RELEASE_WINDOW" default:"336h"`
	ConsentTTL     time.Duration `envconfig:"RENTESCROW_CONSENT_TTL" default:"72h"`
	RetryAttempts  int           `envconfig:"RENTESCROW_RETRY_ATTEMPTS" default:"3"`
	RetryBaseDelay time.Duration `envconfig:"RENTESCROW_RETRY_BASE_DELAY" default:"25ms"`
	ReasonMaxLen   int           `envconfig:"RENTESCROW_DISPUTE_REASON_MAX_LEN" default:"1000"`
}

func (e EscrowConfig) validate() error {
	if e.ReleaseWindow <= 0 {
		return fmt.Errorf("%s must be positive", EnvReleaseWindow)
	}
	if e.RetryAttempts < 1 {
		return fmt.Errorf("%s must be at least 1", EnvRetryAttempts)
	}
	return nil
}

type ChainConfig struct {
	Mode       string        `envconfig:"RENTESCROW_CHAIN_MODE" default:"simulated"`
	RelayerURL string        `envconfig:"RENTESCROW_CHAIN_RELAYER_URL"`
	APIKey     string        `envconfig:"RENTESCROW_CHAIN_RELAYER_API_KEY"`
	Timeout    time.Duration `envconfig:"RENTESCROW_CHAIN_TIMEOUT" default:"10s"`
	Network    string        `envconfig:"RENTESCROW_CHAIN_NETWORK" default:"sepolia"`
}

// Simulated reports whether fund movements are kept in-process.
func (c ChainConfig) Simulated() bool {
	return c.Mode == "" || strings.EqualFold(c.Mode, ChainModeSimulated)
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"RENTESCROW_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"RENTESCROW_AUTO_MIGRATE" default:"false"`
	Analytics   bool `envconfig:"RENTESCROW_ANALYTICS_API" default:"false"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL time.Duration `envconfig:"RENTESCROW_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"RENTESCROW_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"RENTESCROW_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"RENTESCROW_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	EscrowTopic              string `envconfig:"RENTESCROW_PUBSUB_ESCROW_TOPIC" default:"rentescrow-escrow-events"`
	NotificationSubscription string `envconfig:"RENTESCROW_PUBSUB_NOTIFICATION_SUBSCRIPTION" required:"true"`
	AnalyticsSubscription    string `envconfig:"RENTESCROW_PUBSUB_ANALYTICS_SUBSCRIPTION" required:"true"`
}

type BigQueryConfig struct {
	Dataset           string `envconfig:"RENTESCROW_BIGQUERY_DATASET" default:"rentescrow"`
	EscrowEventsTable string `envconfig:"RENTESCROW_BIGQUERY_ESCROW_EVENTS_TABLE" default:"escrow_events"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"RENTESCROW_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"RENTESCROW_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"RENTESCROW_OUTBOX_MAX_ATTEMPTS" default:"10"`
	Retention      time.Duration `envconfig:"RENTESCROW_OUTBOX_RETENTION" default:"720h"`
}

type NATSConfig struct {
	URL             string `envconfig:"RENTESCROW_NATS_URL" default:"nats://localhost:4222"`
	Stream          string `envconfig:"RENTESCROW_NATS_STREAM" default:"ESCROW_CHAIN"`
	SubjectPrefix   string `envconfig:"RENTESCROW_NATS_SUBJECT_PREFIX" default:"escrow.chain"`
	DurableConsumer string `envconfig:"RENTESCROW_NATS_DURABLE_CONSUMER" default:"rentescrow-chain-listener"`
}

type KafkaConfig struct {
	Brokers    []string `envconfig:"RENTESCROW_KAFKA_BROKERS" default:"localhost:9092"`
	EmailTopic string   `envconfig:"RENTESCROW_KAFKA_EMAIL_TOPIC" default:"rentescrow.email-requests"`
}

type WebhookConfig struct {
	OnrampSecret string        `envconfig:"RENTESCROW_ONRAMP_WEBHOOK_SECRET"`
	ReplayTTL    time.Duration `envconfig:"RENTESCROW_ONRAMP_WEBHOOK_REPLAY_TTL" default:"720h"`
	MaxBodyBytes int64         `envconfig:"RENTESCROW_ONRAMP_WEBHOOK_MAX_BODY_BYTES" default:"65536"`
}

type CronConfig struct {
	Interval         time.Duration `envconfig:"RENTESCROW_CRON_INTERVAL" default:"1m"`
	LockTTL          time.Duration `envconfig:"RENTESCROW_CRON_LOCK_TTL" default:"5m"`
	AutoReleaseBatch int           `envconfig:"RENTESCROW_CRON_AUTO_RELEASE_BATCH" default:"100"`
	SettlementBatch  int           `envconfig:"RENTESCROW_CRON_SETTLEMENT_BATCH" default:"100"`
}

// RateLimitConfig throttles mutating API calls per client IP and per wallet.
type RateLimitConfig struct {
	Window      time.Duration `envconfig:"RENTESCROW_RATE_LIMIT_WINDOW" default:"1m"`
	IPLimit     int           `envconfig:"RENTESCROW_RATE_LIMIT_IP" default:"120"`
	WalletLimit int           `envconfig:"RENTESCROW_RATE_LIMIT_WALLET" default:"60"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
