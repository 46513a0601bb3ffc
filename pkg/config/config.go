package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App        AppConfig
	DB         DBConfig
	Redis      RedisConfig
	JWT        JWTConfig
	Stripe     StripeConfig
	LicenseAPI LicenseAPIConfig
	Sweep      SweepConfig
	Mail       MailConfig
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
	Env          string `envconfig:"PROCSUBS_APP_ENV" required:"true"`
	Port         string `envconfig:"PROCSUBS_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"PROCSUBS_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"PROCSUBS_LOG_WARN_STACK" default:"false"`
	AutoMigrate  bool   `envconfig:"PROCSUBS_AUTO_MIGRATE" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"PROCSUBS_DB_DSN"`
	Driver string `envconfig:"PROCSUBS_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"PROCSUBS_DB_HOST"`
	LegacyPort     int    `envconfig:"PROCSUBS_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"PROCSUBS_DB_USER"`
	LegacyPassword string `envconfig:"PROCSUBS_DB_PASSWORD"`
	LegacyName     string `envconfig:"PROCSUBS_DB_NAME"`
	LegacySSLMode  string `envconfig:"PROCSUBS_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"PROCSUBS_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"PROCSUBS_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"PROCSUBS_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"PROCSUBS_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"PROCSUBS_REDIS_URL" required:"true"`
	Password     string        `envconfig:"PROCSUBS_REDIS_PASSWORD"`
	DB           int           `envconfig:"PROCSUBS_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"PROCSUBS_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"PROCSUBS_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"PROCSUBS_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"PROCSUBS_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"PROCSUBS_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"PROCSUBS_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"PROCSUBS_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"PROCSUBS_JWT_EXPIRATION_MINUTES" default:"60"`
}

type StripeConfig struct {
	APIKey        string `envconfig:"PROCSUBS_STRIPE_API_KEY"`
	WebhookSecret string `envconfig:"PROCSUBS_STRIPE_WEBHOOK_SECRET"`
	Env           string `envconfig:"PROCSUBS_STRIPE_ENV" default:"test"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type LicenseAPIConfig struct {
	BaseURL string        `envconfig:"PROCSUBS_LICENSE_API_URL"`
	APIKey  string        `envconfig:"PROCSUBS_LICENSE_API_KEY"`
	Timeout time.Duration `envconfig:"PROCSUBS_LICENSE_API_TIMEOUT" default:"15s"`
}

// Enabled reports whether the license API integration is configured. An
// unset key downgrades every license call to a logged skip.
func (l LicenseAPIConfig) Enabled() bool {
	return l.BaseURL != "" && l.APIKey != ""
}

type SweepConfig struct {
	Interval         time.Duration `envconfig:"PROCSUBS_SWEEP_INTERVAL" default:"24h"`
	ReminderLeadDays int           `envconfig:"PROCSUBS_SWEEP_REMINDER_LEAD_DAYS" default:"7"`
	BatchSize        int           `envconfig:"PROCSUBS_SWEEP_BATCH_SIZE" default:"200"`
}

type MailConfig struct {
	FromAddress string `envconfig:"PROCSUBS_MAIL_FROM"`
	FromName    string `envconfig:"PROCSUBS_MAIL_FROM_NAME" default:"Billing"`
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
