package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Log          LogConfig          `mapstructure:"log"`
	Idempotency  IdempotencyConfig  `mapstructure:"idempotency"`
	Outbox       OutboxConfig       `mapstructure:"outbox"`
	EventChannel EventChannelConfig `mapstructure:"event_channel"`
	Breaker      BreakerConfig      `mapstructure:"breaker"`
	Retry        RetryConfig        `mapstructure:"retry"`
	Stripe       StripeConfig       `mapstructure:"stripe"`
	Storage      StorageConfig      `mapstructure:"storage"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address         string        `mapstructure:"address"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN returns the database connection string.
func (c *DatabaseConfig) DSN() string {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Database, c.SSLMode,
	)
	if c.Password != "" {
		dsn += fmt.Sprintf(" password=%s", c.Password)
	}
	return dsn
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// IdempotencyConfig holds idempotency service configuration.
type IdempotencyConfig struct {
	Driver     string        `mapstructure:"driver"` // memory, redis
	RequestTTL time.Duration `mapstructure:"request_ttl"`
	WebhookTTL time.Duration `mapstructure:"webhook_ttl"`
	LockTTL    time.Duration `mapstructure:"lock_ttl"`
	LockWait   time.Duration `mapstructure:"lock_wait"`
}

// OutboxConfig holds outbox publisher configuration.
type OutboxConfig struct {
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	BatchSize       int           `mapstructure:"batch_size"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	Retention       time.Duration `mapstructure:"retention"`
	PublishTimeout  time.Duration `mapstructure:"publish_timeout"`
	ListenNotify    bool          `mapstructure:"listen_notify"`
	ArchiveBucket   string        `mapstructure:"archive_bucket"`
	ArchivePrefix   string        `mapstructure:"archive_prefix"`
}

// EventChannelConfig selects and configures the event channel driver.
type EventChannelConfig struct {
	Driver string             `mapstructure:"driver"` // redis, kafka, pubsub, memory
	Redis  RedisChannelConfig `mapstructure:"redis"`
	Kafka  KafkaConfig        `mapstructure:"kafka"`
	PubSub PubSubConfig       `mapstructure:"pubsub"`
}

// RedisChannelConfig configures Redis Pub/Sub.
type RedisChannelConfig struct {
	Channel string `mapstructure:"channel"`
}

// KafkaConfig configures the Kafka event channel.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
}

// PubSubConfig configures the Google Cloud Pub/Sub event channel.
type PubSubConfig struct {
	ProjectID    string `mapstructure:"project_id"`
	Topic        string `mapstructure:"topic"`
	Subscription string `mapstructure:"subscription"`
}

// BreakerConfig holds circuit breaker thresholds.
type BreakerConfig struct {
	FailureThreshold uint32        `mapstructure:"failure_threshold"`
	SuccessThreshold uint32        `mapstructure:"success_threshold"`
	Timeout          time.Duration `mapstructure:"timeout"`
	ResetTimeout     time.Duration `mapstructure:"reset_timeout"`
}

// RetryConfig holds backoff settings for outbound calls.
type RetryConfig struct {
	MaxRetries   uint64        `mapstructure:"max_retries"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
}

// StripeConfig holds Stripe configuration.
type StripeConfig struct {
	SecretKey     string `mapstructure:"secret_key"`
	WebhookSecret string `mapstructure:"webhook_secret"`
}

// StorageConfig holds object storage configuration.
type StorageConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// Load loads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Set config file name and paths
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/pledgeflow")

	// Set defaults
	setDefaults(v)

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found, use defaults and env
	}

	// Read from environment variables
	v.SetEnvPrefix("PLEDGEFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads secrets and list values from the environment.
func applyEnvOverrides(cfg *Config) {
	if password := os.Getenv("PLEDGEFLOW_DB_PASSWORD"); password != "" {
		cfg.Database.Password = password
	}
	if password := os.Getenv("PLEDGEFLOW_REDIS_PASSWORD"); password != "" {
		cfg.Redis.Password = password
	}
	if secretKey := os.Getenv("PLEDGEFLOW_STRIPE_SECRET_KEY"); secretKey != "" {
		cfg.Stripe.SecretKey = secretKey
	}
	if webhookSecret := os.Getenv("PLEDGEFLOW_STRIPE_WEBHOOK_SECRET"); webhookSecret != "" {
		cfg.Stripe.WebhookSecret = webhookSecret
	}
	if key := os.Getenv("PLEDGEFLOW_STORAGE_SECRET_KEY"); key != "" {
		cfg.Storage.SecretAccessKey = key
	}
	if s := os.Getenv("PLEDGEFLOW_KAFKA_BROKERS"); s != "" {
		cfg.EventChannel.Kafka.Brokers = parseCommaSeparatedList(s)
	}
	if s := os.Getenv("PLEDGEFLOW_CORS_ORIGINS"); s != "" {
		cfg.Server.CORSOrigins = parseCommaSeparatedList(s)
	}
}

func parseCommaSeparatedList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.cors_origins", []string{"*"})

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.database", "pledgeflow")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", 30*time.Minute)
	v.SetDefault("database.auto_migrate", true)

	// Redis defaults
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.db", 0)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Idempotency defaults
	v.SetDefault("idempotency.driver", "redis")
	v.SetDefault("idempotency.request_ttl", 24*time.Hour)
	v.SetDefault("idempotency.webhook_ttl", 7*24*time.Hour)
	v.SetDefault("idempotency.lock_ttl", 30*time.Second)
	v.SetDefault("idempotency.lock_wait", 100*time.Millisecond)

	// Outbox defaults
	v.SetDefault("outbox.poll_interval", time.Second)
	v.SetDefault("outbox.batch_size", 50)
	v.SetDefault("outbox.cleanup_interval", time.Hour)
	v.SetDefault("outbox.retention", 24*time.Hour)
	v.SetDefault("outbox.publish_timeout", 5*time.Second)
	v.SetDefault("outbox.listen_notify", true)
	v.SetDefault("outbox.archive_prefix", "outbox/")

	// Event channel defaults
	v.SetDefault("event_channel.driver", "redis")
	v.SetDefault("event_channel.redis.channel", "events")
	v.SetDefault("event_channel.kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("event_channel.kafka.topic", "pledgeflow.events")
	v.SetDefault("event_channel.kafka.group_id", "pledgeflow-payments")
	v.SetDefault("event_channel.pubsub.topic", "pledgeflow-events")
	v.SetDefault("event_channel.pubsub.subscription", "pledgeflow-payments")

	// Circuit breaker defaults
	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.success_threshold", 3)
	v.SetDefault("breaker.timeout", 30*time.Second)
	v.SetDefault("breaker.reset_timeout", 60*time.Second)

	// Retry defaults
	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.initial_delay", 100*time.Millisecond)
	v.SetDefault("retry.max_delay", 5*time.Second)

	// Storage defaults
	v.SetDefault("storage.region", "auto")
}
