package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is the envconfig prefix shared by every process.
const EnvPrefix = "PULSEBOARD"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Ingest       IngestConfig
	Consumer     ConsumerConfig
	Auth         AuthConfig
	RateLimit    RateLimitConfig
	FeatureFlags FeatureFlagsConfig
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
	Env          string `envconfig:"PULSEBOARD_APP_ENV" required:"true"`
	Port         string `envconfig:"PULSEBOARD_APP_PORT" default:"8080"`
	MetricsPort  string `envconfig:"PULSEBOARD_METRICS_PORT" default:"9090"`
	LogLevel     string `envconfig:"PULSEBOARD_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"PULSEBOARD_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"PULSEBOARD_DB_DSN"`
	Driver string `envconfig:"PULSEBOARD_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"PULSEBOARD_DB_HOST"`
	LegacyPort     int    `envconfig:"PULSEBOARD_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"PULSEBOARD_DB_USER"`
	LegacyPassword string `envconfig:"PULSEBOARD_DB_PASSWORD"`
	LegacyName     string `envconfig:"PULSEBOARD_DB_NAME"`
	LegacySSLMode  string `envconfig:"PULSEBOARD_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"PULSEBOARD_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"PULSEBOARD_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"PULSEBOARD_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"PULSEBOARD_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

// ensureDSN assembles a DSN from the discrete legacy fields when one was not
// provided directly.
func (d *DBConfig) ensureDSN() error {
	if strings.TrimSpace(d.DSN) != "" {
		return nil
	}
	if d.LegacyHost == "" || d.LegacyUser == "" || d.LegacyName == "" {
		return fmt.Errorf("db config: either PULSEBOARD_DB_DSN or host/user/name are required")
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.LegacyUser, d.LegacyPassword),
		Host:   fmt.Sprintf("%s:%d", d.LegacyHost, d.LegacyPort),
		Path:   d.LegacyName,
	}
	q := u.Query()
	q.Set("sslmode", d.LegacySSLMode)
	u.RawQuery = q.Encode()
	d.DSN = u.String()
	return nil
}

type RedisConfig struct {
	URL          string        `envconfig:"PULSEBOARD_REDIS_URL" required:"true"`
	Address      string        `envconfig:"PULSEBOARD_REDIS_ADDR"`
	Password     string        `envconfig:"PULSEBOARD_REDIS_PASSWORD"`
	DB           int           `envconfig:"PULSEBOARD_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"PULSEBOARD_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"PULSEBOARD_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"PULSEBOARD_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"PULSEBOARD_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"PULSEBOARD_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"PULSEBOARD_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"PULSEBOARD_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"PULSEBOARD_GOOGLE_APPLICATION_CREDENTIALS"`
}

// PubSubConfig maps the logical broker subjects onto Pub/Sub resources.
type PubSubConfig struct {
	IngestTopic        string `envconfig:"PULSEBOARD_PUBSUB_INGEST_TOPIC" default:"events-ingest"`
	IngestSubscription string `envconfig:"PULSEBOARD_PUBSUB_INGEST_SUBSCRIPTION" default:"events-ingest-worker"`
	DLQTopic           string `envconfig:"PULSEBOARD_PUBSUB_DLQ_TOPIC" default:"events-dlq"`
	DLQSubscription    string `envconfig:"PULSEBOARD_PUBSUB_DLQ_SUBSCRIPTION" default:"events-dlq-monitor"`
}

type IngestConfig struct {
	MaxBatchSize int `envconfig:"PULSEBOARD_INGEST_MAX_BATCH_SIZE" default:"5000"`
}

type ConsumerConfig struct {
	MaxRetries  int `envconfig:"PULSEBOARD_CONSUMER_MAX_RETRIES" default:"5"`
	BackoffBase int `envconfig:"PULSEBOARD_CONSUMER_BACKOFF_BASE" default:"3"`
}

type AuthConfig struct {
	APIKeys []string `envconfig:"PULSEBOARD_API_KEYS" required:"true"`
}

type RateLimitConfig struct {
	IngestWindow time.Duration `envconfig:"PULSEBOARD_RATE_LIMIT_INGEST_WINDOW" default:"1m"`
	IngestLimit  int           `envconfig:"PULSEBOARD_RATE_LIMIT_INGEST_LIMIT" default:"600"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"PULSEBOARD_AUTO_MIGRATE" default:"false"`
}
