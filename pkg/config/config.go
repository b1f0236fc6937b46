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
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Workflow     WorkflowConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	if err := cfg.Workflow.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"WARRANTY_APP_ENV" required:"true"`
	Port         string `envconfig:"WARRANTY_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"WARRANTY_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"WARRANTY_LOG_WARN_STACK" default:"false"`

	CORSAllowedOrigins []string `envconfig:"WARRANTY_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"WARRANTY_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"WARRANTY_DB_DSN"`
	Driver string `envconfig:"WARRANTY_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"WARRANTY_DB_HOST"`
	LegacyPort     int    `envconfig:"WARRANTY_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"WARRANTY_DB_USER"`
	LegacyPassword string `envconfig:"WARRANTY_DB_PASSWORD"`
	LegacyName     string `envconfig:"WARRANTY_DB_NAME"`
	LegacySSLMode  string `envconfig:"WARRANTY_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"WARRANTY_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"WARRANTY_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"WARRANTY_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"WARRANTY_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"WARRANTY_REDIS_URL" required:"true"`
	Password     string        `envconfig:"WARRANTY_REDIS_PASSWORD"`
	DB           int           `envconfig:"WARRANTY_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"WARRANTY_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"WARRANTY_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"WARRANTY_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"WARRANTY_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"WARRANTY_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig holds the shared secret of the external identity provider. Tokens are
// only verified here, never minted.
type JWTConfig struct {
	Secret string `envconfig:"WARRANTY_JWT_SECRET" required:"true"`
	Issuer string `envconfig:"WARRANTY_JWT_ISSUER" required:"true"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"WARRANTY_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"WARRANTY_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	IdempotencyTTL time.Duration `envconfig:"WARRANTY_EVENTING_IDEMPOTENCY_TTL" default:"24h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"WARRANTY_GCP_PROJECT_ID" required:"true"`
	ApplicationCredentials string `envconfig:"WARRANTY_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	WorkflowTopic        string `envconfig:"WARRANTY_PUBSUB_WORKFLOW_TOPIC" required:"true"`
	WorkflowSubscription string `envconfig:"WARRANTY_PUBSUB_WORKFLOW_SUBSCRIPTION"`
	TransferTopic        string `envconfig:"WARRANTY_PUBSUB_TRANSFER_TOPIC" required:"true"`
	TransferSubscription string `envconfig:"WARRANTY_PUBSUB_TRANSFER_SUBSCRIPTION"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"WARRANTY_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"WARRANTY_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"WARRANTY_OUTBOX_MAX_ATTEMPTS" default:"10"`
	Retention      time.Duration `envconfig:"WARRANTY_OUTBOX_RETENTION" default:"720h"`
}

// WorkflowConfig tunes lock contention handling and the allocation policy.
type WorkflowConfig struct {
	LockTimeout             time.Duration `envconfig:"WARRANTY_WORKFLOW_LOCK_TIMEOUT" default:"2s"`
	MaxLockRetries          uint64        `envconfig:"WARRANTY_WORKFLOW_MAX_LOCK_RETRIES" default:"4"`
	RetryBaseDelay          time.Duration `envconfig:"WARRANTY_WORKFLOW_RETRY_BASE_DELAY" default:"25ms"`
	AllowCompanyFallback    bool          `envconfig:"WARRANTY_WORKFLOW_ALLOW_COMPANY_FALLBACK" default:"true"`
	AutoTransferOnShortfall bool          `envconfig:"WARRANTY_WORKFLOW_AUTO_TRANSFER_ON_SHORTFALL" default:"true"`
	StaleReservationAge     time.Duration `envconfig:"WARRANTY_WORKFLOW_STALE_RESERVATION_AGE" default:"72h"`
}

func (w WorkflowConfig) validate() error {
	if w.LockTimeout <= 0 {
		return fmt.Errorf("%s must be positive", EnvWorkflowLockTimeout)
	}
	if w.RetryBaseDelay <= 0 {
		return fmt.Errorf("%s must be positive", EnvWorkflowRetryBaseDelay)
	}
	return nil
}

type CronConfig struct {
	Interval time.Duration `envconfig:"WARRANTY_CRON_INTERVAL" default:"5m"`
	LockTTL  time.Duration `envconfig:"WARRANTY_CRON_LOCK_TTL" default:"4m"`
	// DeadLetterWindow is how far back the dead letter report counts.
	DeadLetterWindow time.Duration `envconfig:"WARRANTY_CRON_DEAD_LETTER_WINDOW" default:"24h"`
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if db.DSN != "" {
		return nil
	}
	if useSQLite {
		db.DSN = defaultSQLiteDSN
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
