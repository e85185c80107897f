// Package config provides functionality for loading and accessing application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	// Environment is the current running environment (development, staging, production)
	Environment string `mapstructure:"environment"`

	// Server configuration
	Server struct {
		// Port is the HTTP server port; the stream endpoint listens on Port+1
		Port int `mapstructure:"port"`
		// Host is the HTTP server host
		Host string `mapstructure:"host"`
		// ReadTimeout is the maximum duration for reading the entire request
		ReadTimeout time.Duration `mapstructure:"read_timeout"`
		// WriteTimeout is the maximum duration before timing out writes of the response
		WriteTimeout time.Duration `mapstructure:"write_timeout"`
		// IdleTimeout is the maximum amount of time to wait for the next request
		IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	} `mapstructure:"server"`

	// Database configuration
	Database struct {
		// Postgres configuration (durable store)
		Postgres struct {
			// URI is the Postgres connection URI
			URI string `mapstructure:"uri"`
			// MaxConns is the maximum number of pooled connections
			MaxConns int32 `mapstructure:"max_conns"`
			// MinConns is the minimum number of pooled connections
			MinConns int32 `mapstructure:"min_conns"`
			// ConnectTimeout bounds the initial connect and ping
			ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
		} `mapstructure:"postgres"`

		// Redis configuration (ephemeral state store)
		Redis struct {
			// Addresses is the list of Redis server addresses
			Addresses []string `mapstructure:"addresses"`
			// Username is the Redis username
			Username string `mapstructure:"username"`
			// Password is the Redis password
			Password string `mapstructure:"password"`
			// Database is the Redis database index
			Database int `mapstructure:"database"`
			// MaxRetries is the maximum number of retries for Redis operations
			MaxRetries int `mapstructure:"max_retries"`
			// PoolSize is the Redis connection pool size
			PoolSize int `mapstructure:"pool_size"`
			// MinIdleConns is the minimum number of idle connections
			MinIdleConns int `mapstructure:"min_idle_conns"`
			// DialTimeout is the timeout for establishing new connections
			DialTimeout time.Duration `mapstructure:"dial_timeout"`
			// ReadTimeout is the timeout for Redis reads
			ReadTimeout time.Duration `mapstructure:"read_timeout"`
			// WriteTimeout is the timeout for Redis writes
			WriteTimeout time.Duration `mapstructure:"write_timeout"`
			// IdleTimeout is the timeout for idle connections
			IdleTimeout time.Duration `mapstructure:"idle_timeout"`
		} `mapstructure:"redis"`
	} `mapstructure:"database"`

	// Authentication configuration
	Auth struct {
		// JWTSecret is the secret key for verifying access tokens
		JWTSecret string `mapstructure:"jwt_secret"`
		// TokenIssuer is the expected issuer claim
		TokenIssuer string `mapstructure:"token_issuer"`
		// TokenAudience is the expected audience claim
		TokenAudience string `mapstructure:"token_audience"`
		// AccessTokenExpiry is the expiry time for access tokens
		AccessTokenExpiry time.Duration `mapstructure:"access_token_expiry"`
		// AllowedOrigins is the list of allowed CORS origins
		AllowedOrigins []string `mapstructure:"allowed_origins"`
	} `mapstructure:"auth"`

	// Room configuration
	Room struct {
		// HostGraceWindow is how long a room stays alive awaiting its
		// disconnected host before it is closed
		HostGraceWindow time.Duration `mapstructure:"host_grace_window"`
		// MaxQueueSize caps the number of tracks in a room queue
		MaxQueueSize int `mapstructure:"max_queue_size"`
		// ParticipantQueueAdd lets non-host members add queue tracks
		ParticipantQueueAdd bool `mapstructure:"participant_queue_add"`
		// CreateLimitPerHour caps rooms created per user per hour; 0 disables
		CreateLimitPerHour int `mapstructure:"create_limit_per_hour"`
	} `mapstructure:"room"`

	// Stream configuration
	Stream struct {
		// QueueCapacity is the per-subscriber outbound event buffer; a
		// subscriber whose buffer fills is dropped as slow
		QueueCapacity int `mapstructure:"queue_capacity"`
		// DrainTimeout bounds how long shutdown waits for subscriber
		// buffers to flush
		DrainTimeout time.Duration `mapstructure:"drain_timeout"`
	} `mapstructure:"stream"`

	// WebSocket configuration
	WebSocket struct {
		// MaxMessageSize is the maximum inbound message size
		MaxMessageSize int64 `mapstructure:"max_message_size"`
		// WriteWait is the time allowed to write a message to the peer
		WriteWait time.Duration `mapstructure:"write_wait"`
		// PingInterval is the time between keepalive pings
		PingInterval time.Duration `mapstructure:"ping_interval"`
		// PongTimeout is how long after a ping the peer may take to answer
		PongTimeout time.Duration `mapstructure:"pong_timeout"`
		// MaxConnections is the maximum number of concurrent WebSocket connections
		MaxConnections int `mapstructure:"max_connections"`
	} `mapstructure:"websocket"`

	// Maintenance configuration
	Maintenance struct {
		// Enabled toggles the background maintenance loop
		Enabled bool `mapstructure:"enabled"`
		// SweepInterval is how often session state is swept for stale rooms
		SweepInterval time.Duration `mapstructure:"sweep_interval"`
		// EventLogMaxAge is how long playback event-log rows are kept
		EventLogMaxAge time.Duration `mapstructure:"event_log_max_age"`
		// TaskTimeout bounds a single maintenance task run
		TaskTimeout time.Duration `mapstructure:"task_timeout"`
	} `mapstructure:"maintenance"`

	// Logging configuration
	Logging struct {
		// Level is the logging level
		Level string `mapstructure:"level"`
		// Format is the logging format (json or console)
		Format string `mapstructure:"format"`
		// OutputPaths is the list of output paths for logs
		OutputPaths []string `mapstructure:"output_paths"`
		// ErrorOutputPaths is the list of output paths for error logs
		ErrorOutputPaths []string `mapstructure:"error_output_paths"`
	} `mapstructure:"logging"`
}

// PongWait returns the full deadline for reading the next pong: one ping
// interval plus the allowed answer time.
func (c *Config) PongWait() time.Duration {
	return c.WebSocket.PingInterval + c.WebSocket.PongTimeout
}

// LoadConfig loads the configuration from file and environment variables.
// It looks for a configuration file in the following locations:
// 1. Path specified in the CONFIG_FILE environment variable
// 2. ./configs directory
// 3. ../configs directory
// 4. /etc/syncroom directory
func LoadConfig() (*Config, error) {
	v := viper.New()

	// Set default values
	setDefaults(v)

	// Configuration file name and type
	v.SetConfigName("app")
	v.SetConfigType("yaml")

	// Add configuration paths
	configFile := os.Getenv("CONFIG_FILE")
	if configFile != "" {
		// Use configuration file from environment variable
		v.SetConfigFile(configFile)
	} else {
		// Search for configuration in common directories
		v.AddConfigPath("./configs")
		v.AddConfigPath("../configs")
		v.AddConfigPath("/etc/syncroom")
	}

	// Read the configuration file
	if err := v.ReadInConfig(); err != nil {
		// If the configuration file is not found, use environment variables and defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Check for environment-specific configuration file
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development" // Default environment
	}

	v.SetConfigName(fmt.Sprintf("app.%s", env))
	// Try to merge the environment-specific configuration file
	if err := v.MergeInConfig(); err != nil {
		// Ignore file not found error for environment config
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to merge environment config file: %w", err)
		}
	}

	// Override with environment variables
	v.SetEnvPrefix("APP") // Prefix for environment variables
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Load the configuration into the Config struct
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Set the environment
	config.Environment = env

	// Validate the configuration
	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets the default values for the configuration
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")

	// Database defaults
	v.SetDefault("database.postgres.uri", "postgres://localhost:5432/syncroom")
	v.SetDefault("database.postgres.max_conns", 16)
	v.SetDefault("database.postgres.min_conns", 2)
	v.SetDefault("database.postgres.connect_timeout", "10s")

	v.SetDefault("database.redis.addresses", []string{"localhost:6379"})
	v.SetDefault("database.redis.database", 0)
	v.SetDefault("database.redis.max_retries", 3)
	v.SetDefault("database.redis.pool_size", 100)
	v.SetDefault("database.redis.min_idle_conns", 10)
	v.SetDefault("database.redis.dial_timeout", "5s")
	v.SetDefault("database.redis.read_timeout", "3s")
	v.SetDefault("database.redis.write_timeout", "3s")
	v.SetDefault("database.redis.idle_timeout", "300s")

	// Authentication defaults
	v.SetDefault("auth.token_issuer", "syncroom")
	v.SetDefault("auth.token_audience", "syncroom-clients")
	v.SetDefault("auth.access_token_expiry", "15m")
	v.SetDefault("auth.allowed_origins", []string{"*"})

	// Room defaults
	v.SetDefault("room.host_grace_window", "180s")
	v.SetDefault("room.max_queue_size", 100)
	v.SetDefault("room.participant_queue_add", false)
	v.SetDefault("room.create_limit_per_hour", 0)

	// Stream defaults
	v.SetDefault("stream.queue_capacity", 64)
	v.SetDefault("stream.drain_timeout", "5s")

	// WebSocket defaults
	v.SetDefault("websocket.max_message_size", 4096)
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_timeout", "10s")
	v.SetDefault("websocket.max_connections", 10000)

	// Maintenance defaults
	v.SetDefault("maintenance.enabled", true)
	v.SetDefault("maintenance.sweep_interval", "1m")
	v.SetDefault("maintenance.event_log_max_age", "720h")
	v.SetDefault("maintenance.task_timeout", "5m")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})
}

// validateConfig validates the configuration
func validateConfig(config *Config) error {
	// Validate server configuration
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return errors.New("server port must be between 1 and 65535")
	}

	// Validate JWT Secret
	if config.Auth.JWTSecret == "" {
		return errors.New("JWT secret must be set")
	}

	// Validate Postgres configuration
	if config.Database.Postgres.URI == "" {
		return errors.New("Postgres URI must be set")
	}

	// Validate Redis configuration
	if len(config.Database.Redis.Addresses) == 0 {
		return errors.New("at least one Redis address must be provided")
	}

	// Validate room configuration
	if config.Room.HostGraceWindow <= 0 {
		return errors.New("host grace window must be positive")
	}

	// Validate stream configuration
	if config.Stream.QueueCapacity <= 0 {
		return errors.New("stream queue capacity must be positive")
	}

	// Validate keepalive configuration
	if config.WebSocket.PingInterval <= 0 || config.WebSocket.PongTimeout <= 0 {
		return errors.New("websocket ping interval and pong timeout must be positive")
	}

	// Validate maintenance configuration
	if config.Maintenance.Enabled && config.Maintenance.SweepInterval <= 0 {
		return errors.New("maintenance sweep interval must be positive")
	}

	return nil
}

// GetConfigString returns a formatted string with the current configuration
func GetConfigString(config *Config) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Environment: %s\n", config.Environment))
	sb.WriteString(fmt.Sprintf("Server: %s:%d\n", config.Server.Host, config.Server.Port))
	sb.WriteString(fmt.Sprintf("Postgres Max Conns: %d\n", config.Database.Postgres.MaxConns))
	sb.WriteString(fmt.Sprintf("Redis Database: %d\n", config.Database.Redis.Database))
	sb.WriteString(fmt.Sprintf("Host Grace Window: %s\n", config.Room.HostGraceWindow))
	sb.WriteString(fmt.Sprintf("Stream Queue Capacity: %d\n", config.Stream.QueueCapacity))
	sb.WriteString(fmt.Sprintf("Ping Interval: %s\n", config.WebSocket.PingInterval))

	return sb.String()
}

// EnsureConfigDirs ensures that all necessary directories for configuration exist
func EnsureConfigDirs() error {
	dirs := []string{
		"./configs",
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// WriteDefaultConfig writes the default configuration files
func WriteDefaultConfig() error {
	if err := EnsureConfigDirs(); err != nil {
		return err
	}

	// Create default configuration file
	defaultConfigPath := filepath.Join("./configs", "app.yaml")
	if _, err := os.Stat(defaultConfigPath); os.IsNotExist(err) {
		defaultConfig := `# Room Synchronization Engine Configuration

# Server configuration
server:
  port: 8080
  host: "0.0.0.0"
  read_timeout: "15s"
  write_timeout: "15s"
  idle_timeout: "60s"

# Database configuration
database:
  postgres:
    uri: "postgres://localhost:5432/syncroom"
    max_conns: 16
    min_conns: 2
    connect_timeout: "10s"
  redis:
    addresses: ["localhost:6379"]
    password: ""
    database: 0
    max_retries: 3
    pool_size: 100
    min_idle_conns: 10
    dial_timeout: "5s"
    read_timeout: "3s"
    write_timeout: "3s"
    idle_timeout: "300s"

# Authentication configuration
auth:
  jwt_secret: "" # Must be set in environment or secrets file
  token_issuer: "syncroom"
  token_audience: "syncroom-clients"
  access_token_expiry: "15m"
  allowed_origins: ["*"]

# Room configuration
room:
  host_grace_window: "180s"
  max_queue_size: 100
  participant_queue_add: false
  create_limit_per_hour: 0

# Stream configuration
stream:
  queue_capacity: 64
  drain_timeout: "5s"

# WebSocket configuration
websocket:
  max_message_size: 4096
  write_wait: "10s"
  ping_interval: "30s"
  pong_timeout: "10s"
  max_connections: 10000

# Maintenance configuration
maintenance:
  enabled: true
  sweep_interval: "1m"
  event_log_max_age: "720h" # 30 days
  task_timeout: "5m"

# Logging configuration
logging:
  level: "info"
  format: "json"
  output_paths: ["stdout"]
  error_output_paths: ["stderr"]
`
		if err := os.WriteFile(defaultConfigPath, []byte(defaultConfig), 0644); err != nil {
			return fmt.Errorf("failed to write default config file: %w", err)
		}
	}

	// Create development configuration file
	devConfigPath := filepath.Join("./configs", "app.development.yaml")
	if _, err := os.Stat(devConfigPath); os.IsNotExist(err) {
		devConfig := `# Development environment configuration
# This file overrides the values in app.yaml for the development environment

# Server configuration
server:
  port: 8080
  host: "localhost"

# Logging configuration
logging:
  level: "debug"
  format: "console"

# Short grace window so host-disconnect behavior is easy to exercise
room:
  host_grace_window: "30s"
`
		if err := os.WriteFile(devConfigPath, []byte(devConfig), 0644); err != nil {
			return fmt.Errorf("failed to write development config file: %w", err)
		}
	}

	return nil
}
