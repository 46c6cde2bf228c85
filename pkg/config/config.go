package config

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App           AppConfig
	DB            DBConfig
	Redis         RedisConfig
	JWT           JWTConfig
	Password      PasswordConfig
	AuthRateLimit AuthRateLimitConfig
	FeatureFlags  FeatureFlagsConfig
	Checkout      CheckoutConfig
	Stripe        StripeConfig
	PayPal        PayPalConfig
	Webhooks      WebhooksConfig
	Cron          CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"STOREFRONT_APP_ENV" required:"true"`
	Port         string `envconfig:"STOREFRONT_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"STOREFRONT_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"STOREFRONT_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"STOREFRONT_LOG_WARN_STACK" default:"false"`
	// PublicURL is the browser facing origin used to build gateway return URLs.
	PublicURL string `envconfig:"STOREFRONT_PUBLIC_URL" default:"http://localhost:8080"`
	// AdminEmails register with the admin role instead of customer.
	AdminEmails []string `envconfig:"STOREFRONT_ADMIN_EMAILS"`
	CORSOrigins []string `envconfig:"STOREFRONT_CORS_ORIGINS" default:"http://localhost:3000"`
	BrandName   string   `envconfig:"STOREFRONT_BRAND_NAME" default:"Storefront"`
}

// URL joins PublicURL and a browser path.
func (a AppConfig) URL(path string) string {
	return strings.TrimRight(a.PublicURL, "/") + "/" + strings.TrimLeft(path, "/")
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"STOREFRONT_DB_DSN"`
	Driver string `envconfig:"STOREFRONT_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"STOREFRONT_DB_HOST"`
	Port     int    `envconfig:"STOREFRONT_DB_PORT" default:"5432"`
	User     string `envconfig:"STOREFRONT_DB_USER"`
	Password string `envconfig:"STOREFRONT_DB_PASSWORD"`
	Name     string `envconfig:"STOREFRONT_DB_NAME"`
	SSLMode  string `envconfig:"STOREFRONT_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"STOREFRONT_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"STOREFRONT_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"STOREFRONT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"STOREFRONT_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"STOREFRONT_REDIS_URL"`
	Address      string        `envconfig:"STOREFRONT_REDIS_ADDR" default:"localhost:6379"`
	Password     string        `envconfig:"STOREFRONT_REDIS_PASSWORD"`
	DB           int           `envconfig:"STOREFRONT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"STOREFRONT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"STOREFRONT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"STOREFRONT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"STOREFRONT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"STOREFRONT_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"STOREFRONT_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"STOREFRONT_JWT_ISSUER" default:"storefront"`
	ExpirationMinutes int    `envconfig:"STOREFRONT_JWT_EXPIRATION_MINUTES" default:"60"`
}

// AccessTTL returns the access token lifetime.
func (j JWTConfig) AccessTTL() time.Duration {
	if j.ExpirationMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(j.ExpirationMinutes) * time.Minute
}

type PasswordConfig struct {
	ArgonMemoryKB    int `envconfig:"STOREFRONT_ARGON_MEMORY_KB" default:"65536"`
	ArgonTime        int `envconfig:"STOREFRONT_ARGON_TIME" default:"3"`
	ArgonParallelism int `envconfig:"STOREFRONT_ARGON_PARALLELISM" default:"2"`
	ArgonSaltLen     int `envconfig:"STOREFRONT_ARGON_SALT_LEN" default:"16"`
	ArgonKeyLen      int `envconfig:"STOREFRONT_ARGON_KEY_LEN" default:"32"`
}

type AuthRateLimitConfig struct {
	LoginWindow     time.Duration `envconfig:"STOREFRONT_AUTH_RATE_LIMIT_LOGIN_WINDOW" default:"1m"`
	LoginEmailLimit int           `envconfig:"STOREFRONT_AUTH_RATE_LIMIT_LOGIN_EMAIL_LIMIT" default:"5"`
	LoginIPLimit    int           `envconfig:"STOREFRONT_AUTH_RATE_LIMIT_LOGIN_IP_LIMIT" default:"20"`
}

type FeatureFlagsConfig struct {
	UseSQLite    bool `envconfig:"STOREFRONT_USE_SQLITE" default:"false"`
	AutoMigrate  bool `envconfig:"STOREFRONT_AUTO_MIGRATE" default:"false"`
	EnablePayPal bool `envconfig:"STOREFRONT_FEATURE_PAYPAL" default:"true"`
}

type CheckoutConfig struct {
	Currency            string        `envconfig:"STOREFRONT_CHECKOUT_CURRENCY" default:"usd"`
	SuccessPath         string        `envconfig:"STOREFRONT_CHECKOUT_SUCCESS_PATH" default:"/checkout/success"`
	CancelPath          string        `envconfig:"STOREFRONT_CHECKOUT_CANCEL_PATH" default:"/checkout/cancel"`
	DonationSuccessPath string        `envconfig:"STOREFRONT_DONATION_SUCCESS_PATH" default:"/donate/thanks"`
	DonationCancelPath  string        `envconfig:"STOREFRONT_DONATION_CANCEL_PATH" default:"/donate"`
	IdempotencyTTL      time.Duration `envconfig:"STOREFRONT_CHECKOUT_IDEMPOTENCY_TTL" default:"24h"`
}

type StripeConfig struct {
	APIKey string `envconfig:"STOREFRONT_STRIPE_API_KEY"`
	Secret string `envconfig:"STOREFRONT_STRIPE_WEBHOOK_SECRET"`
	Env    string `envconfig:"STOREFRONT_STRIPE_ENV" default:"test"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type PayPalConfig struct {
	ClientID     string `envconfig:"STOREFRONT_PAYPAL_CLIENT_ID"`
	ClientSecret string `envconfig:"STOREFRONT_PAYPAL_CLIENT_SECRET"`
	WebhookID    string `envconfig:"STOREFRONT_PAYPAL_WEBHOOK_ID"`
	Mode         string `envconfig:"STOREFRONT_PAYPAL_MODE" default:"sandbox"`
	// TokenEarlyExpiry refreshes the OAuth token this long before PayPal expires it.
	TokenEarlyExpiry time.Duration `envconfig:"STOREFRONT_PAYPAL_TOKEN_EARLY_EXPIRY" default:"5m"`
	Timeout          time.Duration `envconfig:"STOREFRONT_PAYPAL_TIMEOUT" default:"15s"`
}

// BaseURL resolves the REST endpoint for the configured mode.
func (p PayPalConfig) BaseURL() string {
	if strings.EqualFold(strings.TrimSpace(p.Mode), PayPalModeLive) {
		return "https://api-m.paypal.com"
	}
	return "https://api-m.sandbox.paypal.com"
}

type WebhooksConfig struct {
	InFlightTTL time.Duration `envconfig:"STOREFRONT_WEBHOOK_INFLIGHT_TTL" default:"2m"`
	MaxBodyKB   int64         `envconfig:"STOREFRONT_WEBHOOK_MAX_BODY_KB" default:"512"`
	StuckAfter  time.Duration `envconfig:"STOREFRONT_WEBHOOK_STUCK_AFTER" default:"1h"`
}

type CronConfig struct {
	Interval              time.Duration `envconfig:"STOREFRONT_CRON_INTERVAL" default:"15m"`
	PendingOrderTTL       time.Duration `envconfig:"STOREFRONT_CRON_PENDING_ORDER_TTL" default:"48h"`
	GuestCartTTL          time.Duration `envconfig:"STOREFRONT_CRON_GUEST_CART_TTL" default:"720h"`
	NotificationRetention time.Duration `envconfig:"STOREFRONT_CRON_NOTIFICATION_RETENTION" default:"2160h"`
	LockTTL               time.Duration `envconfig:"STOREFRONT_CRON_LOCK_TTL" default:"10m"`
}

func (db *DBConfig) ensureDSN(sqlite bool) error {
	if db.DSN != "" {
		return nil
	}
	if sqlite || strings.EqualFold(db.Driver, DriverSQLite) {
		db.Driver = DriverSQLite
		db.DSN = "file:storefront.db?cache=shared"
		return nil
	}

	missing := []string{}
	for env, value := range map[string]string{EnvDBHost: db.Host, EnvDBUser: db.User, EnvDBName: db.Name} {
		if value == "" {
			missing = append(missing, env)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	if strings.EqualFold(db.Driver, DriverMySQL) {
		db.DSN = fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4", db.User, db.Password, db.Host, db.Port, db.Name)
		return nil
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}
	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}
	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}
	db.DSN = u.String()
	return nil
}
