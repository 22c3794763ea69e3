package config

const (
	EnvPrefix = "MARKETSETTLE"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv   = "MARKETSETTLE_APP_ENV"
	EnvLogLevel = "MARKETSETTLE_LOG_LEVEL"

	EnvDBDSN  = "MARKETSETTLE_DB_DSN"
	EnvDBHost = "MARKETSETTLE_DB_HOST"
	EnvDBUser = "MARKETSETTLE_DB_USER"
	EnvDBName = "MARKETSETTLE_DB_NAME"

	EnvRedisURL = "MARKETSETTLE_REDIS_URL"

	EnvSettlementHoldingPeriod  = "MARKETSETTLE_SETTLEMENT_HOLDING_PERIOD"
	EnvSettlementSweepWorkers   = "MARKETSETTLE_SETTLEMENT_SWEEP_WORKERS"
	EnvSettlementSweepBatchSize = "MARKETSETTLE_SETTLEMENT_SWEEP_BATCH_SIZE"
	EnvSettlementDefaultFeeRate = "MARKETSETTLE_SETTLEMENT_DEFAULT_FEE_RATE"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
