package config

const (
	EnvPrefix = "VYRIS"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	TracingExporterNone   = "none"
	TracingExporterOTLP   = "otlp"
	TracingExporterStdout = "stdout"
)

const (
	EnvAppEnv = "VYRIS_APP_ENV"
	EnvPort   = "VYRIS_APP_PORT"

	EnvDBDSN  = "VYRIS_DB_DSN"
	EnvDBHost = "VYRIS_DB_HOST"
	EnvDBUser = "VYRIS_DB_USER"
	EnvDBName = "VYRIS_DB_NAME"

	EnvRedisURL = "VYRIS_REDIS_URL"

	EnvDropTier     = "VYRIS_DROP_TIER"
	EnvDropYear     = "VYRIS_DROP_YEAR"
	EnvDropCapacity = "VYRIS_DROP_CAPACITY"

	EnvEncounterPublicKey = "VYRIS_ENCOUNTER_JWT_PUBLIC_KEY"
	EnvReforgeBaseURL     = "VYRIS_REFORGE_BASE_URL"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
