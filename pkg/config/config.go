package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App         AppConfig
	Service     ServiceConfig
	DB          DBConfig
	Redis       RedisConfig
	JWT         JWTConfig
	GCP         GCPConfig
	PubSub      PubSubConfig
	Stripe      StripeConfig
	Sendgrid    SendgridConfig
	Fulfillment FulfillmentConfig
	Cron        CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"FULFILLMENT_APP_ENV" required:"true"`
	Port         string `envconfig:"FULFILLMENT_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"FULFILLMENT_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"FULFILLMENT_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"FULFILLMENT_LOG_WARN_STACK" default:"false"`
	AutoMigrate  bool   `envconfig:"FULFILLMENT_AUTO_MIGRATE" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"FULFILLMENT_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"FULFILLMENT_DB_DSN"`
	Driver string `envconfig:"FULFILLMENT_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"FULFILLMENT_DB_HOST"`
	LegacyPort     int    `envconfig:"FULFILLMENT_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"FULFILLMENT_DB_USER"`
	LegacyPassword string `envconfig:"FULFILLMENT_DB_PASSWORD"`
	LegacyName     string `envconfig:"FULFILLMENT_DB_NAME"`
	LegacySSLMode  string `envconfig:"FULFILLMENT_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"FULFILLMENT_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"FULFILLMENT_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"FULFILLMENT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"FULFILLMENT_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

// IsSQLite reports whether the local sqlite driver was requested.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(strings.TrimSpace(db.Driver), DBDriverSQLite)
}

type RedisConfig struct {
	URL          string        `envconfig:"FULFILLMENT_REDIS_URL" required:"true"`
	Address      string        `envconfig:"FULFILLMENT_REDIS_ADDR"`
	Password     string        `envconfig:"FULFILLMENT_REDIS_PASSWORD"`
	DB           int           `envconfig:"FULFILLMENT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"FULFILLMENT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"FULFILLMENT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"FULFILLMENT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"FULFILLMENT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"FULFILLMENT_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig holds the secret used to verify admin bearer tokens.
type JWTConfig struct {
	Secret            string `envconfig:"FULFILLMENT_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"FULFILLMENT_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"FULFILLMENT_JWT_EXPIRATION_MINUTES" default:"60"`
}

type GCPConfig struct {
	ProjectID       string `envconfig:"FULFILLMENT_GCP_PROJECT_ID"`
	CredentialsJSON string `envconfig:"FULFILLMENT_GCP_CREDENTIALS_JSON"`
}

type PubSubConfig struct {
	AdminAlertsTopic string `envconfig:"FULFILLMENT_PUBSUB_ADMIN_ALERTS_TOPIC" default:"fulfillment-admin-alerts"`
	EmulatorHost     string `envconfig:"FULFILLMENT_PUBSUB_EMULATOR_HOST"`
}

// Enabled reports whether admin alerts should be published at all.
func (p PubSubConfig) Enabled(gcp GCPConfig) bool {
	return strings.TrimSpace(gcp.ProjectID) != "" && strings.TrimSpace(p.AdminAlertsTopic) != ""
}

type StripeConfig struct {
	APIKey string `envconfig:"FULFILLMENT_STRIPE_API_KEY"`
	Secret string `envconfig:"FULFILLMENT_STRIPE_SECRET"`
	Env    string `envconfig:"FULFILLMENT_STRIPE_ENV" default:"test"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type SendgridConfig struct {
	APIKey      string        `envconfig:"FULFILLMENT_SENDGRID_API_KEY"`
	DefaultFrom string        `envconfig:"FULFILLMENT_SENDGRID_FROM_EMAIL"`
	FromName    string        `envconfig:"FULFILLMENT_SENDGRID_FROM_NAME" default:"Orders"`
	BaseURL     string        `envconfig:"FULFILLMENT_SENDGRID_BASE_URL" default:"https://api.sendgrid.com"`
	Timeout     time.Duration `envconfig:"FULFILLMENT_SENDGRID_TIMEOUT" default:"10s"`
}

type FulfillmentConfig struct {
	DispatchTimeout time.Duration   `envconfig:"FULFILLMENT_DISPATCH_TIMEOUT" default:"60s"`
	RefundTolerance decimal.Decimal `envconfig:"FULFILLMENT_REFUND_TOLERANCE" default:"0.0001"`
	AdminEmail      string          `envconfig:"FULFILLMENT_ADMIN_EMAIL"`
	StoreName       string          `envconfig:"FULFILLMENT_STORE_NAME" default:"Our store"`
	DefaultCurrency string          `envconfig:"FULFILLMENT_DEFAULT_CURRENCY" default:"GBP"`
}

type CronConfig struct {
	Interval             time.Duration `envconfig:"FULFILLMENT_CRON_INTERVAL" default:"5m"`
	LockTTL              time.Duration `envconfig:"FULFILLMENT_CRON_LOCK_TTL" default:"10m"`
	StaleClaimAge        time.Duration `envconfig:"FULFILLMENT_CRON_STALE_CLAIM_AGE" default:"15m"`
	ClaimExpiry          time.Duration `envconfig:"FULFILLMENT_CRON_CLAIM_EXPIRY" default:"72h"`
	InvoiceResendBackoff time.Duration `envconfig:"FULFILLMENT_CRON_INVOICE_RESEND_BACKOFF" default:"30m"`
	MaxInvoiceAttempts   int           `envconfig:"FULFILLMENT_CRON_MAX_INVOICE_ATTEMPTS" default:"5"`
	BatchSize            int           `envconfig:"FULFILLMENT_CRON_BATCH_SIZE" default:"50"`
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
