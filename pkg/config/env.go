package config

const EnvPrefix = "FULFILLMENT"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"
)

const (
	EnvAppEnv   = "FULFILLMENT_APP_ENV"
	EnvPort     = "FULFILLMENT_APP_PORT"
	EnvLogLevel = "FULFILLMENT_LOG_LEVEL"

	EnvDBDSN    = "FULFILLMENT_DB_DSN"
	EnvDBDriver = "FULFILLMENT_DB_DRIVER"
	EnvDBHost   = "FULFILLMENT_DB_HOST"
	EnvDBPort   = "FULFILLMENT_DB_PORT"
	EnvDBUser   = "FULFILLMENT_DB_USER"
	EnvDBPass   = "FULFILLMENT_DB_PASSWORD"
	EnvDBName   = "FULFILLMENT_DB_NAME"

	EnvRedisURL = "FULFILLMENT_REDIS_URL"

	EnvJWTSecret = "FULFILLMENT_JWT_SECRET"
	EnvJWTIssuer = "FULFILLMENT_JWT_ISSUER"

	EnvGCPProjectID           = "FULFILLMENT_GCP_PROJECT_ID"
	EnvPubSubAdminAlertsTopic = "FULFILLMENT_PUBSUB_ADMIN_ALERTS_TOPIC"

	EnvStripeAPIKey = "FULFILLMENT_STRIPE_API_KEY"
	EnvStripeSecret = "FULFILLMENT_STRIPE_SECRET"

	EnvRefundTolerance = "FULFILLMENT_REFUND_TOLERANCE"
	EnvCronClaimExpiry = "FULFILLMENT_CRON_CLAIM_EXPIRY"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
