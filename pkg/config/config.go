package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	OTel     OTelConfig     `mapstructure:"otel"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Booking  BookingConfig  `mapstructure:"booking"`
	Payment  PaymentConfig  `mapstructure:"payment"`
	Queue    QueueConfig    `mapstructure:"queue"`
}

// AppConfig holds application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"` // development, staging, production
	Debug       bool   `mapstructure:"debug"`
	Version     string `mapstructure:"version"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int           `mapstructure:"max_conns"`
	MinConns        int           `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	// ConnectTimeout bounds each dial, ConnectRetries the startup attempts after the first
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
	ConnectRetries   int           `mapstructure:"connect_retries"`
	RetryInterval    time.Duration `mapstructure:"retry_interval"`
	StatementTimeout time.Duration `mapstructure:"statement_timeout"`
	// TxRetries is how often a serialization failure or deadlock is retried
	TxRetries   int  `mapstructure:"tx_retries"`
	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// DSN returns the PostgreSQL connection string
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Addr returns the Redis address
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// KafkaConfig holds Kafka/Redpanda connection settings
type KafkaConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Brokers  []string `mapstructure:"brokers"`
	ClientID string   `mapstructure:"client_id"`
	Topic    string   `mapstructure:"topic"`
}

// JWTConfig holds JWT verification settings. Tokens are issued elsewhere.
type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	ServiceName   string  `mapstructure:"service_name"`
	CollectorAddr string  `mapstructure:"collector_addr"`
	SampleRatio   float64 `mapstructure:"sample_ratio"`
}

// MetricsConfig holds Prometheus settings
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// BookingConfig holds reservation policy settings
type BookingConfig struct {
	HoldWindow         time.Duration `mapstructure:"hold_window"`
	SweepInterval      time.Duration `mapstructure:"sweep_interval"`
	SweepBatchSize     int           `mapstructure:"sweep_batch_size"`
	CompletionInterval time.Duration `mapstructure:"completion_interval"`
	Timezone           string        `mapstructure:"timezone"`
	Currency           string        `mapstructure:"currency"`
	DefaultOpen        string        `mapstructure:"default_open"`
	DefaultClose       string        `mapstructure:"default_close"`
	SlotMinutes        int           `mapstructure:"slot_minutes"`
	EnableSweeper      bool          `mapstructure:"enable_sweeper"`
	MaxCartItems       int           `mapstructure:"max_cart_items"`
	BookedCacheTTL     time.Duration `mapstructure:"booked_cache_ttl"`
}

// Location resolves the configured booking timezone
func (b *BookingConfig) Location() (*time.Location, error) {
	return time.LoadLocation(b.Timezone)
}

// PaymentConfig holds payment provider settings
type PaymentConfig struct {
	Provider        string        `mapstructure:"provider"` // mock, stripe
	StripeSecretKey string        `mapstructure:"stripe_secret_key"`
	ProviderTimeout time.Duration `mapstructure:"provider_timeout"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	LockTTL         time.Duration `mapstructure:"lock_ttl"`
	LockWait        time.Duration `mapstructure:"lock_wait"`
	ReconcileWindow time.Duration `mapstructure:"reconcile_window"`
}

// QueueConfig holds asynq settings
type QueueConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	RedisDB     int  `mapstructure:"redis_db"`
	Concurrency int  `mapstructure:"concurrency"`
}

// Load loads configuration from environment variables and .env file
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	// .env is optional, environment variables are enough
	_ = v.ReadInConfig()

	return load(v)
}

// LoadWithPath loads configuration from a specific path
func LoadWithPath(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetConfigType("env")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	cfg := &Config{}
	bindConfig(v, cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("APP_NAME", "facility-rental")
	v.SetDefault("APP_ENVIRONMENT", "development")
	v.SetDefault("APP_DEBUG", true)
	v.SetDefault("APP_VERSION", "1.0.0")

	// Server defaults
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", 8080)
	v.SetDefault("SERVER_READ_TIMEOUT", "15s")
	v.SetDefault("SERVER_WRITE_TIMEOUT", "45s")
	v.SetDefault("SERVER_IDLE_TIMEOUT", "120s")

	// Database defaults
	v.SetDefault("DATABASE_HOST", "localhost")
	v.SetDefault("DATABASE_PORT", 5432)
	v.SetDefault("DATABASE_USER", "postgres")
	v.SetDefault("DATABASE_PASSWORD", "postgres")
	v.SetDefault("DATABASE_DBNAME", "facility_rental")
	v.SetDefault("DATABASE_SSLMODE", "disable")
	v.SetDefault("DATABASE_MAX_CONNS", 25)
	v.SetDefault("DATABASE_MIN_CONNS", 5)
	v.SetDefault("DATABASE_CONN_MAX_LIFETIME", "1h")
	v.SetDefault("DATABASE_CONN_MAX_IDLE_TIME", "30m")
	v.SetDefault("DATABASE_CONNECT_TIMEOUT", "5s")
	v.SetDefault("DATABASE_CONNECT_RETRIES", 3)
	v.SetDefault("DATABASE_RETRY_INTERVAL", "1s")
	v.SetDefault("DATABASE_STATEMENT_TIMEOUT", "10s")
	v.SetDefault("DATABASE_TX_RETRIES", 3)
	v.SetDefault("DATABASE_AUTO_MIGRATE", true)

	// Redis defaults
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_POOL_SIZE", 50)
	v.SetDefault("REDIS_MIN_IDLE_CONNS", 5)
	v.SetDefault("REDIS_DIAL_TIMEOUT", "5s")
	v.SetDefault("REDIS_READ_TIMEOUT", "3s")
	v.SetDefault("REDIS_WRITE_TIMEOUT", "3s")

	// Kafka defaults
	v.SetDefault("KAFKA_ENABLED", true)
	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("KAFKA_CLIENT_ID", "facility-rental")
	v.SetDefault("KAFKA_TOPIC", "reservation-events")

	// JWT defaults
	v.SetDefault("JWT_SECRET", "your-secret-key-change-in-production")
	v.SetDefault("JWT_ISSUER", "facility-rental")

	// OTel defaults
	v.SetDefault("OTEL_ENABLED", false)
	v.SetDefault("OTEL_SERVICE_NAME", "facility-rental")
	v.SetDefault("OTEL_COLLECTOR_ADDR", "localhost:4317")
	v.SetDefault("OTEL_SAMPLE_RATIO", 1.0)

	// Metrics defaults
	v.SetDefault("METRICS_ENABLED", true)
	v.SetDefault("METRICS_PATH", "/metrics")

	// Booking defaults
	v.SetDefault("BOOKING_HOLD_WINDOW", "10m")
	v.SetDefault("BOOKING_SWEEP_INTERVAL", "60s")
	v.SetDefault("BOOKING_SWEEP_BATCH_SIZE", 100)
	v.SetDefault("BOOKING_COMPLETION_INTERVAL", "5m")
	v.SetDefault("BOOKING_TIMEZONE", "Asia/Seoul")
	v.SetDefault("BOOKING_CURRENCY", "KRW")
	v.SetDefault("BOOKING_DEFAULT_OPEN", "09:00")
	v.SetDefault("BOOKING_DEFAULT_CLOSE", "18:00")
	v.SetDefault("BOOKING_SLOT_MINUTES", 30)
	v.SetDefault("BOOKING_ENABLE_SWEEPER", false)
	v.SetDefault("BOOKING_MAX_CART_ITEMS", 10)
	v.SetDefault("BOOKING_BOOKED_CACHE_TTL", "30s")

	// Payment defaults
	v.SetDefault("PAYMENT_PROVIDER", "mock")
	v.SetDefault("PAYMENT_STRIPE_SECRET_KEY", "")
	v.SetDefault("PAYMENT_PROVIDER_TIMEOUT", "30s")
	v.SetDefault("PAYMENT_POLL_INTERVAL", "2s")
	v.SetDefault("PAYMENT_LOCK_TTL", "60s")
	v.SetDefault("PAYMENT_LOCK_WAIT", "5s")
	v.SetDefault("PAYMENT_RECONCILE_WINDOW", "24h")

	// Queue defaults
	v.SetDefault("QUEUE_ENABLED", true)
	v.SetDefault("QUEUE_REDIS_DB", 1)
	v.SetDefault("QUEUE_CONCURRENCY", 5)
}

func bindConfig(v *viper.Viper, cfg *Config) {
	// App
	cfg.App.Name = v.GetString("APP_NAME")
	cfg.App.Environment = v.GetString("APP_ENVIRONMENT")
	cfg.App.Debug = v.GetBool("APP_DEBUG")
	cfg.App.Version = v.GetString("APP_VERSION")

	// Server
	cfg.Server.Host = v.GetString("SERVER_HOST")
	cfg.Server.Port = v.GetInt("SERVER_PORT")
	cfg.Server.ReadTimeout = v.GetDuration("SERVER_READ_TIMEOUT")
	cfg.Server.WriteTimeout = v.GetDuration("SERVER_WRITE_TIMEOUT")
	cfg.Server.IdleTimeout = v.GetDuration("SERVER_IDLE_TIMEOUT")

	// Database
	cfg.Database.Host = v.GetString("DATABASE_HOST")
	cfg.Database.Port = v.GetInt("DATABASE_PORT")
	cfg.Database.User = v.GetString("DATABASE_USER")
	cfg.Database.Password = v.GetString("DATABASE_PASSWORD")
	cfg.Database.DBName = v.GetString("DATABASE_DBNAME")
	cfg.Database.SSLMode = v.GetString("DATABASE_SSLMODE")
	cfg.Database.MaxConns = v.GetInt("DATABASE_MAX_CONNS")
	cfg.Database.MinConns = v.GetInt("DATABASE_MIN_CONNS")
	cfg.Database.ConnMaxLifetime = v.GetDuration("DATABASE_CONN_MAX_LIFETIME")
	cfg.Database.ConnMaxIdleTime = v.GetDuration("DATABASE_CONN_MAX_IDLE_TIME")
	cfg.Database.ConnectTimeout = v.GetDuration("DATABASE_CONNECT_TIMEOUT")
	cfg.Database.ConnectRetries = v.GetInt("DATABASE_CONNECT_RETRIES")
	cfg.Database.RetryInterval = v.GetDuration("DATABASE_RETRY_INTERVAL")
	cfg.Database.StatementTimeout = v.GetDuration("DATABASE_STATEMENT_TIMEOUT")
	cfg.Database.TxRetries = v.GetInt("DATABASE_TX_RETRIES")
	cfg.Database.AutoMigrate = v.GetBool("DATABASE_AUTO_MIGRATE")

	// Redis
	cfg.Redis.Host = v.GetString("REDIS_HOST")
	cfg.Redis.Port = v.GetInt("REDIS_PORT")
	cfg.Redis.Password = v.GetString("REDIS_PASSWORD")
	cfg.Redis.DB = v.GetInt("REDIS_DB")
	cfg.Redis.PoolSize = v.GetInt("REDIS_POOL_SIZE")
	cfg.Redis.MinIdleConns = v.GetInt("REDIS_MIN_IDLE_CONNS")
	cfg.Redis.DialTimeout = v.GetDuration("REDIS_DIAL_TIMEOUT")
	cfg.Redis.ReadTimeout = v.GetDuration("REDIS_READ_TIMEOUT")
	cfg.Redis.WriteTimeout = v.GetDuration("REDIS_WRITE_TIMEOUT")

	// Kafka
	cfg.Kafka.Enabled = v.GetBool("KAFKA_ENABLED")
	cfg.Kafka.Brokers = splitList(v.GetString("KAFKA_BROKERS"))
	cfg.Kafka.ClientID = v.GetString("KAFKA_CLIENT_ID")
	cfg.Kafka.Topic = v.GetString("KAFKA_TOPIC")

	// JWT
	cfg.JWT.Secret = v.GetString("JWT_SECRET")
	cfg.JWT.Issuer = v.GetString("JWT_ISSUER")

	// OTel
	cfg.OTel.Enabled = v.GetBool("OTEL_ENABLED")
	cfg.OTel.ServiceName = v.GetString("OTEL_SERVICE_NAME")
	cfg.OTel.CollectorAddr = v.GetString("OTEL_COLLECTOR_ADDR")
	cfg.OTel.SampleRatio = v.GetFloat64("OTEL_SAMPLE_RATIO")

	// Metrics
	cfg.Metrics.Enabled = v.GetBool("METRICS_ENABLED")
	cfg.Metrics.Path = v.GetString("METRICS_PATH")

	// Booking
	cfg.Booking.HoldWindow = v.GetDuration("BOOKING_HOLD_WINDOW")
	cfg.Booking.SweepInterval = v.GetDuration("BOOKING_SWEEP_INTERVAL")
	cfg.Booking.SweepBatchSize = v.GetInt("BOOKING_SWEEP_BATCH_SIZE")
	cfg.Booking.CompletionInterval = v.GetDuration("BOOKING_COMPLETION_INTERVAL")
	cfg.Booking.Timezone = v.GetString("BOOKING_TIMEZONE")
	cfg.Booking.Currency = v.GetString("BOOKING_CURRENCY")
	cfg.Booking.DefaultOpen = v.GetString("BOOKING_DEFAULT_OPEN")
	cfg.Booking.DefaultClose = v.GetString("BOOKING_DEFAULT_CLOSE")
	cfg.Booking.SlotMinutes = v.GetInt("BOOKING_SLOT_MINUTES")
	cfg.Booking.EnableSweeper = v.GetBool("BOOKING_ENABLE_SWEEPER")
	cfg.Booking.MaxCartItems = v.GetInt("BOOKING_MAX_CART_ITEMS")
	cfg.Booking.BookedCacheTTL = v.GetDuration("BOOKING_BOOKED_CACHE_TTL")

	// Payment
	cfg.Payment.Provider = v.GetString("PAYMENT_PROVIDER")
	cfg.Payment.StripeSecretKey = v.GetString("PAYMENT_STRIPE_SECRET_KEY")
	if cfg.Payment.StripeSecretKey == "" {
		cfg.Payment.StripeSecretKey = v.GetString("STRIPE_SECRET_KEY")
	}
	cfg.Payment.ProviderTimeout = v.GetDuration("PAYMENT_PROVIDER_TIMEOUT")
	cfg.Payment.PollInterval = v.GetDuration("PAYMENT_POLL_INTERVAL")
	cfg.Payment.LockTTL = v.GetDuration("PAYMENT_LOCK_TTL")
	cfg.Payment.LockWait = v.GetDuration("PAYMENT_LOCK_WAIT")
	cfg.Payment.ReconcileWindow = v.GetDuration("PAYMENT_RECONCILE_WINDOW")

	// Queue
	cfg.Queue.Enabled = v.GetBool("QUEUE_ENABLED")
	cfg.Queue.RedisDB = v.GetInt("QUEUE_REDIS_DB")
	cfg.Queue.Concurrency = v.GetInt("QUEUE_CONCURRENCY")
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("app name is required")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT secret is required")
	}

	if c.IsProduction() && c.JWT.Secret == "your-secret-key-change-in-production" {
		return fmt.Errorf("JWT secret must be changed in production")
	}

	if c.Booking.HoldWindow <= 0 {
		return fmt.Errorf("booking hold window must be positive")
	}

	if c.Booking.SlotMinutes <= 0 || 60%c.Booking.SlotMinutes != 0 {
		return fmt.Errorf("booking slot minutes must divide an hour: %d", c.Booking.SlotMinutes)
	}

	if _, err := c.Booking.Location(); err != nil {
		return fmt.Errorf("invalid booking timezone %q: %w", c.Booking.Timezone, err)
	}

	switch c.Payment.Provider {
	case "mock":
		if c.IsProduction() {
			return fmt.Errorf("mock payment provider is not allowed in production")
		}
	case "stripe":
		if c.Payment.StripeSecretKey == "" {
			return fmt.Errorf("STRIPE_SECRET_KEY is required for the stripe provider")
		}
	default:
		return fmt.Errorf("unknown payment provider: %s", c.Payment.Provider)
	}

	return nil
}

// ValidateDatabase validates database configuration
func (c *Config) ValidateDatabase() error {
	if c.Database.Host == "" {
		return fmt.Errorf("DATABASE_HOST is required")
	}
	if c.Database.DBName == "" {
		return fmt.Errorf("DATABASE_DBNAME is required")
	}
	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}
