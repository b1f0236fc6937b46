package config

const (
	EnvPrefix = "WARRANTY"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv   = "WARRANTY_APP_ENV"
	EnvPort     = "WARRANTY_APP_PORT"
	EnvLogLevel = "WARRANTY_LOG_LEVEL"

	EnvDBDSN  = "WARRANTY_DB_DSN"
	EnvDBHost = "WARRANTY_DB_HOST"
	EnvDBUser = "WARRANTY_DB_USER"
	EnvDBName = "WARRANTY_DB_NAME"

	EnvRedisURL     = "WARRANTY_REDIS_URL"
	EnvJWTSecret    = "WARRANTY_JWT_SECRET"
	EnvJWTIssuer    = "WARRANTY_JWT_ISSUER"
	EnvGCPProjectID = "WARRANTY_GCP_PROJECT_ID"
	EnvUseSQLite    = "WARRANTY_USE_SQLITE"

	EnvPubSubWorkflowTopic = "WARRANTY_PUBSUB_WORKFLOW_TOPIC"
	EnvPubSubTransferTopic = "WARRANTY_PUBSUB_TRANSFER_TOPIC"

	EnvWorkflowLockTimeout    = "WARRANTY_WORKFLOW_LOCK_TIMEOUT"
	EnvWorkflowRetryBaseDelay = "WARRANTY_WORKFLOW_RETRY_BASE_DELAY"
	EnvWorkflowMaxLockRetries = "WARRANTY_WORKFLOW_MAX_LOCK_RETRIES"

	defaultSQLiteDSN = "file:warranty.db?_busy_timeout=5000"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
