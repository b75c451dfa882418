package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	Drop         DropConfig
	Mint         MintConfig
	Encounter    EncounterConfig
	Reforge      ReforgeConfig
	Ledger       LedgerConfig
	Reconcile    ReconcileConfig
	Cron         CronConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Tracing      TracingConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Drop.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env            string        `envconfig:"VYRIS_APP_ENV" required:"true"`
	Port           string        `envconfig:"VYRIS_APP_PORT" default:"3000"`
	LogLevel       string        `envconfig:"VYRIS_LOG_LEVEL" default:"info"`
	LogWarnStack   bool          `envconfig:"VYRIS_LOG_WARN_STACK" default:"false"`
	RequestTimeout time.Duration `envconfig:"VYRIS_REQUEST_TIMEOUT" default:"10s"`
	ShutdownGrace  time.Duration `envconfig:"VYRIS_SHUTDOWN_GRACE" default:"15s"`
	AllowedOrigins []string      `envconfig:"VYRIS_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000,https://vyris.app"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"VYRIS_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN string `envconfig:"VYRIS_DB_DSN"`

	LegacyHost     string `envconfig:"VYRIS_DB_HOST"`
	LegacyPort     int    `envconfig:"VYRIS_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"VYRIS_DB_USER"`
	LegacyPassword string `envconfig:"VYRIS_DB_PASSWORD"`
	LegacyName     string `envconfig:"VYRIS_DB_NAME"`
	LegacySSLMode  string `envconfig:"VYRIS_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"VYRIS_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"VYRIS_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"VYRIS_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"VYRIS_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"VYRIS_REDIS_URL"`
	Address      string        `envconfig:"VYRIS_REDIS_ADDR"`
	Password     string        `envconfig:"VYRIS_REDIS_PASSWORD"`
	DB           int           `envconfig:"VYRIS_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"VYRIS_REDIS_POOL_SIZE" default:"50"`
	MinIdleConns int           `envconfig:"VYRIS_REDIS_MIN_IDLE_CONNS" default:"5"`
	DialTimeout  time.Duration `envconfig:"VYRIS_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"VYRIS_REDIS_READ_TIMEOUT" default:"2s"`
	WriteTimeout time.Duration `envconfig:"VYRIS_REDIS_WRITE_TIMEOUT" default:"2s"`
}

// DropConfig identifies the drop currently open for minting.
type DropConfig struct {
	Tier        string `envconfig:"VYRIS_DROP_TIER" default:"genesis"`
	Year        int    `envconfig:"VYRIS_DROP_YEAR" default:"2025"`
	Capacity    int    `envconfig:"VYRIS_DROP_CAPACITY" default:"999"`
	CatalogPath string `envconfig:"VYRIS_DROP_CATALOG"`
}

func (d DropConfig) validate() error {
	if strings.TrimSpace(d.Tier) == "" {
		return fmt.Errorf("%s is required", EnvDropTier)
	}
	if d.Year <= 0 {
		return fmt.Errorf("%s must be positive", EnvDropYear)
	}
	if d.Capacity <= 0 {
		return fmt.Errorf("%s must be positive", EnvDropCapacity)
	}
	return nil
}

type MintConfig struct {
	CommitTimeout   time.Duration `envconfig:"VYRIS_MINT_COMMIT_TIMEOUT" default:"15s"`
	MaxReceiptBytes int           `envconfig:"VYRIS_MINT_MAX_RECEIPT_BYTES" default:"65536"`
}

type EncounterConfig struct {
	PublicKeyPEM string        `envconfig:"VYRIS_ENCOUNTER_JWT_PUBLIC_KEY"`
	MaxAge       time.Duration `envconfig:"VYRIS_ENCOUNTER_MAX_AGE" default:"300s"`
	ClockSkew    time.Duration `envconfig:"VYRIS_ENCOUNTER_CLOCK_SKEW" default:"30s"`
}

type ReforgeConfig struct {
	BaseURL string        `envconfig:"VYRIS_REFORGE_BASE_URL" default:"https://vyris.app"`
	TTL     time.Duration `envconfig:"VYRIS_REFORGE_TTL" default:"24h"`
}

type LedgerConfig struct {
	StaleAfter time.Duration `envconfig:"VYRIS_LEDGER_STALE_AFTER" default:"5m"`
}

type ReconcileConfig struct {
	AlertOnly bool `envconfig:"VYRIS_RECONCILE_ALERT_ONLY" default:"false"`
}

// CronConfig drives the cron worker. Interval is the tick; reconcile and the
// stale-pending sweep run every tick, the cleanup jobs on their own cadence.
type CronConfig struct {
	Interval       time.Duration `envconfig:"VYRIS_CRON_INTERVAL" default:"1m"`
	LockTTL        time.Duration `envconfig:"VYRIS_CRON_LOCK_TTL" default:"5m"`
	JobTimeout     time.Duration `envconfig:"VYRIS_CRON_JOB_TIMEOUT" default:"2m"`
	ExpiryEvery    time.Duration `envconfig:"VYRIS_CRON_REFORGE_EXPIRY_EVERY" default:"5m"`
	RetentionEvery time.Duration `envconfig:"VYRIS_CRON_OUTBOX_RETENTION_EVERY" default:"24h"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"VYRIS_AUTO_MIGRATE" default:"false"`
	AutoSeed    bool `envconfig:"VYRIS_AUTO_SEED" default:"false"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"VYRIS_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	MembershipTopic        string `envconfig:"VYRIS_PUBSUB_MEMBERSHIP_TOPIC" default:"vyris-membership-events"`
	NotificationTopic      string `envconfig:"VYRIS_PUBSUB_NOTIFICATION_TOPIC" default:"vyris-notification-events"`
	NotificationSubscriber string `envconfig:"VYRIS_PUBSUB_NOTIFICATION_SUBSCRIPTION"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"VYRIS_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"VYRIS_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"VYRIS_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays  int `envconfig:"VYRIS_OUTBOX_RETENTION_DAYS" default:"30"`
}

type TracingConfig struct {
	Exporter    string  `envconfig:"VYRIS_TRACING_EXPORTER" default:"none"`
	Endpoint    string  `envconfig:"VYRIS_TRACING_ENDPOINT"`
	Insecure    bool    `envconfig:"VYRIS_TRACING_INSECURE" default:"false"`
	SampleRatio float64 `envconfig:"VYRIS_TRACING_SAMPLE_RATIO" default:"0.1"`
}

// Enabled reports whether a tracing exporter is configured.
func (t TracingConfig) Enabled() bool {
	exporter := strings.ToLower(strings.TrimSpace(t.Exporter))
	return exporter != "" && exporter != TracingExporterNone
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
