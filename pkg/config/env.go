package config

// EnvPrefix is handed to envconfig; every field carries an explicit name so it is informational.
const EnvPrefix = "STOREFRONT"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite"

	PayPalModeSandbox = "sandbox"
	PayPalModeLive    = "live"
)

const (
	EnvAppEnv     = "STOREFRONT_APP_ENV"
	EnvPort       = "STOREFRONT_APP_PORT"
	EnvDBDSN      = "STOREFRONT_DB_DSN"
	EnvDBDriver   = "STOREFRONT_DB_DRIVER"
	EnvDBHost     = "STOREFRONT_DB_HOST"
	EnvDBUser     = "STOREFRONT_DB_USER"
	EnvDBPassword = "STOREFRONT_DB_PASSWORD"
	EnvDBName     = "STOREFRONT_DB_NAME"
	EnvRedisURL   = "STOREFRONT_REDIS_URL"
	EnvJWTSecret  = "STOREFRONT_JWT_SECRET"
	EnvUseSQLite  = "STOREFRONT_USE_SQLITE"

	EnvStripeAPIKey        = "STOREFRONT_STRIPE_API_KEY"
	EnvStripeWebhookSecret = "STOREFRONT_STRIPE_WEBHOOK_SECRET"
	EnvPayPalClientID      = "STOREFRONT_PAYPAL_CLIENT_ID"
	EnvPayPalMode          = "STOREFRONT_PAYPAL_MODE"
)
