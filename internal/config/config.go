package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"mailcampaign/internal/service"
)

// Dispatch modes
const (
	DispatchModeInline = "inline"
	DispatchModeAMQP   = "amqp"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	RabbitMQ RabbitMQConfig
	Dispatch DispatchConfig
	Stream   StreamConfig
	Log      LogConfig
	Sentry   SentryConfig
	Env      string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host         string
	Port         string
	User         string
	Password     string
	DBName       string
	MaxOpenConns int
	MaxIdleConns int
}

// RabbitMQConfig holds RabbitMQ configuration
type RabbitMQConfig struct {
	Host     string
	Port     string
	User     string
	Password string
}

// DispatchConfig controls how and how fast campaigns are delivered
type DispatchConfig struct {
	Mode              string
	Queue             string
	ProgressExchange  string
	WorkerConcurrency int
	DelayMin          int
	DelayMax          int
	DelayUnit         time.Duration
	FailureThreshold  int
}

// StreamConfig holds Server-Sent Events settings
type StreamConfig struct {
	Heartbeat time.Duration
	Buffer    int
}

// LogConfig holds logrus settings
type LogConfig struct {
	Level  string
	Format string
}

// SentryConfig holds error reporting settings; an empty DSN disables it
type SentryConfig struct {
	DSN string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
		},
		Database: DatabaseConfig{
			Host:         getEnv("POSTGRES_HOST", "localhost"),
			Port:         getEnv("POSTGRES_PORT", "5432"),
			User:         getEnv("POSTGRES_USER", "mailcampaign"),
			Password:     getEnv("POSTGRES_PASSWORD", ""),
			DBName:       getEnv("POSTGRES_DB", "mailcampaign_db"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		},
		RabbitMQ: RabbitMQConfig{
			Host:     getEnv("RABBITMQ_HOST", "localhost"),
			Port:     getEnv("RABBITMQ_PORT", "5672"),
			User:     getEnv("RABBITMQ_DEFAULT_USER", "guest"),
			Password: getEnv("RABBITMQ_DEFAULT_PASS", "guest"),
		},
		Dispatch: DispatchConfig{
			Mode:              getEnv("DISPATCH_MODE", DispatchModeInline),
			Queue:             getEnv("DISPATCH_QUEUE", "campaign_dispatch"),
			ProgressExchange:  getEnv("PROGRESS_EXCHANGE", "campaign_progress"),
			WorkerConcurrency: getEnvAsInt("WORKER_CONCURRENCY", 4),
			DelayMin:          getEnvAsInt("DISPATCH_DELAY_MIN", 1),
			DelayMax:          getEnvAsInt("DISPATCH_DELAY_MAX", 3),
			DelayUnit:         getEnvAsDuration("DISPATCH_DELAY_UNIT", time.Second),
			FailureThreshold:  getEnvAsInt("DISPATCH_FAILURE_THRESHOLD", 10),
		},
		Stream: StreamConfig{
			Heartbeat: getEnvAsDuration("STREAM_HEARTBEAT", 15*time.Second),
			Buffer:    getEnvAsInt("STREAM_BUFFER", 32),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
		Sentry: SentryConfig{
			DSN: getEnv("SENTRY_DSN", ""),
		},
		Env: getEnv("ENV", "development"),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate reports every invalid setting at once
func (c *Config) Validate() error {
	var errs []error

	if c.Database.Password == "" {
		errs = append(errs, fmt.Errorf("POSTGRES_PASSWORD is required"))
	}
	if c.Dispatch.Mode != DispatchModeInline && c.Dispatch.Mode != DispatchModeAMQP {
		errs = append(errs, fmt.Errorf("DISPATCH_MODE must be %q or %q, got %q", DispatchModeInline, DispatchModeAMQP, c.Dispatch.Mode))
	}
	if c.Dispatch.DelayMin < 0 || c.Dispatch.DelayMax < c.Dispatch.DelayMin {
		errs = append(errs, fmt.Errorf("dispatch delay range [%d, %d] is invalid", c.Dispatch.DelayMin, c.Dispatch.DelayMax))
	}
	if c.Dispatch.DelayUnit <= 0 {
		errs = append(errs, fmt.Errorf("DISPATCH_DELAY_UNIT must be positive"))
	}
	if c.Dispatch.FailureThreshold < 0 || c.Dispatch.FailureThreshold > 100 {
		errs = append(errs, fmt.Errorf("DISPATCH_FAILURE_THRESHOLD must be between 0 and 100, got %d", c.Dispatch.FailureThreshold))
	}
	if c.Dispatch.WorkerConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("WORKER_CONCURRENCY must be positive"))
	}
	if c.Stream.Buffer <= 0 {
		errs = append(errs, fmt.Errorf("STREAM_BUFFER must be positive"))
	}

	return errors.Join(errs...)
}

// GetDatabaseDSN returns PostgreSQL connection string
func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.DBName,
	)
}

// GetRabbitMQURL returns RabbitMQ connection URL
func (c *Config) GetRabbitMQURL() string {
	return fmt.Sprintf(
		"amqp://%s:%s@%s:%s/",
		c.RabbitMQ.User,
		c.RabbitMQ.Password,
		c.RabbitMQ.Host,
		c.RabbitMQ.Port,
	)
}

// SimulatorConfig converts the dispatch settings for the delivery simulator
func (c *Config) SimulatorConfig() service.SimulatorConfig {
	return service.SimulatorConfig{
		DelayMin:         c.Dispatch.DelayMin,
		DelayMax:         c.Dispatch.DelayMax,
		Unit:             c.Dispatch.DelayUnit,
		FailureThreshold: c.Dispatch.FailureThreshold,
	}
}

// UsesQueue returns true when dispatch runs go through RabbitMQ workers
func (c *Config) UsesQueue() bool {
	return c.Dispatch.Mode == DispatchModeAMQP
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// getEnv gets environment variable or returns default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets environment variable as integer or returns default
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("500ms") or plain seconds
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
