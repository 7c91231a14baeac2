package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrMissingDSN is returned when no store connection can be derived from the configuration.
var ErrMissingDSN = errors.New("config: postgres connection string is not configured")

// Config captures the full configuration surface for the application.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Scylla    ScyllaConfig    `mapstructure:"scylla"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Delivery  DeliveryConfig  `mapstructure:"delivery"`
}

type AppConfig struct {
	Name    string `mapstructure:"name"`
	Env     string `mapstructure:"env"`
	Version string `mapstructure:"version"`
}

type HTTPConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// PostgresConfig describes the campaign/contact store. DSN wins over the discrete fields.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
}

type RedisConfig struct {
	Address      string        `mapstructure:"address"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

type KafkaConfig struct {
	Brokers       []string      `mapstructure:"brokers"`
	ClientID      string        `mapstructure:"client_id"`
	CampaignTopic string        `mapstructure:"campaign_topic"`
	Partitions    int           `mapstructure:"partitions"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	PublishBudget time.Duration `mapstructure:"publish_budget"`
}

type ScyllaConfig struct {
	Hosts       []string      `mapstructure:"hosts"`
	Port        int           `mapstructure:"port"`
	Keyspace    string        `mapstructure:"keyspace"`
	Consistency string        `mapstructure:"consistency"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type TelemetryConfig struct {
	Endpoint       string  `mapstructure:"endpoint"`
	ServiceVersion string  `mapstructure:"service_version"`
	SampleRatio    float64 `mapstructure:"sample_ratio"`
	TracingEnabled bool    `mapstructure:"tracing_enabled"`
	MetricsEnabled bool    `mapstructure:"metrics_enabled"`
	MetricsPort    int     `mapstructure:"metrics_port"`
}

// SchedulerConfig drives the campaign sweep.
type SchedulerConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	DryRun      bool          `mapstructure:"dry_run"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	Statuses    []string      `mapstructure:"statuses"`
	LockKey     string        `mapstructure:"lock_key"`
	LockTTL     time.Duration `mapstructure:"lock_ttl"`
}

// DeliveryConfig points at the email-send endpoint.
type DeliveryConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	Path          string        `mapstructure:"path"`
	Timeout       time.Duration `mapstructure:"timeout"`
	SubjectPrefix string        `mapstructure:"subject_prefix"`
}

// Endpoint joins base URL and path.
func (d DeliveryConfig) Endpoint() string {
	return strings.TrimRight(d.BaseURL, "/") + "/" + strings.TrimLeft(d.Path, "/")
}

// ConnString returns the DSN, building it from discrete fields when only those are set.
func (p PostgresConfig) ConnString() (string, error) {
	if p.DSN != "" {
		return p.DSN, nil
	}
	if p.Host == "" || p.Database == "" {
		return "", ErrMissingDSN
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", p.Host, p.Port),
		Path:   p.Database,
	}
	if p.User != "" {
		u.User = url.UserPassword(p.User, p.Password)
	}
	q := u.Query()
	if p.SSLMode != "" {
		q.Set("sslmode", p.SSLMode)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Load reads configuration from an optional file and environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvPrefix("AFROBOOST")
	v.SetEnvKeyReplacer(NewEnvReplacer())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config: failed to read config file: %w", err)
			}
		}
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal config: %w", err)
	}

	// Comma separated env values arrive as a single element.
	cfg.Kafka.Brokers = splitList(cfg.Kafka.Brokers)
	cfg.Scylla.Hosts = splitList(cfg.Scylla.Hosts)
	cfg.Scheduler.Statuses = splitList(cfg.Scheduler.Statuses)

	return cfg, nil
}

// NewEnvReplacer standardizes environment variable names.
func NewEnvReplacer() *strings.Replacer {
	return strings.NewReplacer(".", "_", "-", "_")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "afroboost")
	v.SetDefault("app.env", "development")

	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", 10*time.Second)
	v.SetDefault("http.write_timeout", 10*time.Second)
	v.SetDefault("http.idle_timeout", 60*time.Second)

	// Registering empty defaults lets AutomaticEnv bind these keys during Unmarshal.
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.host", "")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.database", "")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 4)
	v.SetDefault("postgres.connect_timeout", 10*time.Second)

	v.SetDefault("redis.address", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.dial_timeout", 5*time.Second)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.client_id", "afroboost-scheduler")
	v.SetDefault("kafka.campaign_topic", "campaign.events")
	v.SetDefault("kafka.partitions", 6)
	v.SetDefault("kafka.write_timeout", 5*time.Second)
	v.SetDefault("kafka.publish_budget", 10*time.Second)

	v.SetDefault("scylla.hosts", []string{})
	v.SetDefault("scylla.port", 9042)
	v.SetDefault("scylla.keyspace", "afroboost")
	v.SetDefault("scylla.consistency", "local_quorum")
	v.SetDefault("scylla.timeout", 5*time.Second)

	v.SetDefault("telemetry.endpoint", "")
	v.SetDefault("telemetry.sample_ratio", 1.0)
	v.SetDefault("telemetry.tracing_enabled", false)
	v.SetDefault("telemetry.metrics_enabled", false)
	v.SetDefault("telemetry.metrics_port", 9102)

	v.SetDefault("scheduler.interval", 60*time.Second)
	v.SetDefault("scheduler.dry_run", false)
	v.SetDefault("scheduler.max_attempts", 3)
	v.SetDefault("scheduler.statuses", []string{"scheduled", "sending", "failed"})
	v.SetDefault("scheduler.lock_key", "afroboost:scheduler:sweep")
	v.SetDefault("scheduler.lock_ttl", 10*time.Minute)

	v.SetDefault("delivery.base_url", "http://localhost:8001")
	v.SetDefault("delivery.path", "/api/campaigns/send-email")
	v.SetDefault("delivery.timeout", 30*time.Second)
	v.SetDefault("delivery.subject_prefix", "📢 ")
}

func splitList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
