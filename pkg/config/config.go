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
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	FeatureFlags FeatureFlagsConfig
	Settlement   SettlementConfig
	Returns      ReturnsConfig
	Orders       OrdersConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Ops          OpsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Settlement.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"MARKETSETTLE_APP_ENV" required:"true"`
	LogLevel     string `envconfig:"MARKETSETTLE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"MARKETSETTLE_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd) || strings.EqualFold(a.Env, "production")
}

type ServiceConfig struct {
	Kind string `envconfig:"MARKETSETTLE_SERVICE_KIND" default:"settlement-worker"`
}

type DBConfig struct {
	DSN    string `envconfig:"MARKETSETTLE_DB_DSN"`
	Driver string `envconfig:"MARKETSETTLE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"MARKETSETTLE_DB_HOST"`
	LegacyPort     int    `envconfig:"MARKETSETTLE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"MARKETSETTLE_DB_USER"`
	LegacyPassword string `envconfig:"MARKETSETTLE_DB_PASSWORD"`
	LegacyName     string `envconfig:"MARKETSETTLE_DB_NAME"`
	LegacySSLMode  string `envconfig:"MARKETSETTLE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"MARKETSETTLE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"MARKETSETTLE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"MARKETSETTLE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"MARKETSETTLE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"MARKETSETTLE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"MARKETSETTLE_REDIS_ADDR"`
	Password     string        `envconfig:"MARKETSETTLE_REDIS_PASSWORD"`
	DB           int           `envconfig:"MARKETSETTLE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"MARKETSETTLE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"MARKETSETTLE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"MARKETSETTLE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"MARKETSETTLE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"MARKETSETTLE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type FeatureFlagsConfig struct {
	UseSQLite         bool `envconfig:"MARKETSETTLE_USE_SQLITE" default:"false"`
	AutoMigrate       bool `envconfig:"MARKETSETTLE_AUTO_MIGRATE" default:"false"`
	InstantSettlement bool `envconfig:"MARKETSETTLE_FEATURE_INSTANT_SETTLEMENT" default:"true"`
}

// SettlementConfig controls when delivered orders are paid out to sellers.
type SettlementConfig struct {
	HoldingPeriod         time.Duration `envconfig:"MARKETSETTLE_SETTLEMENT_HOLDING_PERIOD" default:"168h"`
	SweepInterval         time.Duration `envconfig:"MARKETSETTLE_SETTLEMENT_SWEEP_INTERVAL" default:"1m"`
	SweepBatchSize        int           `envconfig:"MARKETSETTLE_SETTLEMENT_SWEEP_BATCH_SIZE" default:"200"`
	SweepWorkers          int           `envconfig:"MARKETSETTLE_SETTLEMENT_SWEEP_WORKERS" default:"4"`
	DefaultFeeRate        string        `envconfig:"MARKETSETTLE_SETTLEMENT_DEFAULT_FEE_RATE" default:"0.05"`
	FailureAlertThreshold int           `envconfig:"MARKETSETTLE_SETTLEMENT_FAILURE_ALERT_THRESHOLD" default:"3"`
	FailureWindow         time.Duration `envconfig:"MARKETSETTLE_SETTLEMENT_FAILURE_WINDOW" default:"72h"`
	LockTTL               time.Duration `envconfig:"MARKETSETTLE_SETTLEMENT_LOCK_TTL" default:"10m"`
}

// FeeRate parses DefaultFeeRate as a decimal fraction.
func (s SettlementConfig) FeeRate() decimal.Decimal {
	rate, err := decimal.NewFromString(strings.TrimSpace(s.DefaultFeeRate))
	if err != nil {
		return decimal.Zero
	}
	return rate
}

func (s SettlementConfig) validate() error {
	if s.HoldingPeriod < 0 {
		return fmt.Errorf("%s must not be negative", EnvSettlementHoldingPeriod)
	}
	if s.SweepWorkers <= 0 {
		return fmt.Errorf("%s must be positive", EnvSettlementSweepWorkers)
	}
	if s.SweepBatchSize <= 0 {
		return fmt.Errorf("%s must be positive", EnvSettlementSweepBatchSize)
	}
	rate, err := decimal.NewFromString(strings.TrimSpace(s.DefaultFeeRate))
	if err != nil {
		return fmt.Errorf("%s: %w", EnvSettlementDefaultFeeRate, err)
	}
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("%s must be within [0,1]", EnvSettlementDefaultFeeRate)
	}
	return nil
}

// OrdersConfig bounds how long unconfirmed orders may hold inventory.
type OrdersConfig struct {
	PendingTTL      time.Duration `envconfig:"MARKETSETTLE_ORDERS_PENDING_TTL" default:"72h"`
	ExpiryBatchSize int           `envconfig:"MARKETSETTLE_ORDERS_EXPIRY_BATCH_SIZE" default:"100"`

	// EnforcePerOrderLimit caps checkout lines at the oldest batch's remaining stock.
	EnforcePerOrderLimit bool `envconfig:"MARKETSETTLE_ORDERS_ENFORCE_PER_ORDER_LIMIT" default:"false"`
}

type ReturnsConfig struct {
	RestockingFee int64 `envconfig:"MARKETSETTLE_RETURNS_RESTOCKING_FEE" default:"0"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"MARKETSETTLE_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"MARKETSETTLE_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"MARKETSETTLE_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	OrdersTopic     string `envconfig:"MARKETSETTLE_PUBSUB_ORDERS_TOPIC" default:"ms-order-events"`
	SettlementTopic string `envconfig:"MARKETSETTLE_PUBSUB_SETTLEMENT_TOPIC" default:"ms-settlement-events"`
	ReturnsTopic    string `envconfig:"MARKETSETTLE_PUBSUB_RETURNS_TOPIC" default:"ms-return-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"MARKETSETTLE_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"MARKETSETTLE_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"MARKETSETTLE_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays  int `envconfig:"MARKETSETTLE_OUTBOX_RETENTION_DAYS" default:"30"`
}

type OpsConfig struct {
	Port string `envconfig:"MARKETSETTLE_OPS_PORT" default:"9090"`
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
