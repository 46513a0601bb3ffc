package config

// EnvPrefix is the envconfig prefix shared by every variable.
const EnvPrefix = "PROCSUBS"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv    = "PROCSUBS_APP_ENV"
	EnvPort      = "PROCSUBS_APP_PORT"
	EnvRedisURL  = "PROCSUBS_REDIS_URL"
	EnvJWTSecret = "PROCSUBS_JWT_SECRET"
	EnvJWTIssuer = "PROCSUBS_JWT_ISSUER"

	EnvDBDSN  = "PROCSUBS_DB_DSN"
	EnvDBHost = "PROCSUBS_DB_HOST"
	EnvDBUser = "PROCSUBS_DB_USER"
	EnvDBName = "PROCSUBS_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
