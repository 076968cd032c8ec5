package config

import (
	"fmt"
	"time"

	"pulsechat-backend/pkg/env"
)

// Config holds all configuration for the signaling service
type Config struct {
	Server           ServerConfig
	Database         DatabaseConfig
	Redis            RedisConfig
	Cassandra        CassandraConfig
	JWT              JWTConfig
	Log              LogConfig
	RateLimit        RateLimitConfig
	MessageRateLimit RateLimitConfig
	WebSocket        WebSocketConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int
	Environment    string // development, staging, production
	ServiceName    string
	AllowedOrigins []string
}

// DatabaseConfig holds CockroachDB configuration
type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MinConns int
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
	Timeout  time.Duration
}

// CassandraConfig holds Cassandra configuration
type CassandraConfig struct {
	Enabled  bool
	Hosts    []string
	Keyspace string
	Username string
	Password string
	Timeout  time.Duration
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level    string // debug, info, warn, error
	Format   string // json, text
	Output   string // stdout, file
	FilePath string
}

// RateLimitConfig configures one fixed-window limiter instance
type RateLimitConfig struct {
	Window      time.Duration
	MaxRequests int
}

// WebSocketConfig holds signaling socket limits
type WebSocketConfig struct {
	MaxConnections int
	// EventsPerSecond and EventBurst bound inbound events per socket
	EventsPerSecond float64
	EventBurst      int
	// CallEndOnDisconnect ends a user's live 1:1 calls when their last
	// connection closes
	CallEndOnDisconnect bool
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:           env.GetInt("PORT", 5001),
			Environment:    env.GetString("ENV", "development"),
			ServiceName:    env.GetString("SERVICE_NAME", "signaling-service"),
			AllowedOrigins: env.GetSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173", "http://localhost:3000"}),
		},
		Database: DatabaseConfig{
			Enabled:  env.GetBool("DB_ENABLED", true),
			Host:     env.GetString("DB_HOST", "localhost"),
			Port:     env.GetInt("DB_PORT", 26257),
			User:     env.GetString("DB_USER", "root"),
			Password: env.GetStringFromFile("DB_PASSWORD", ""),
			Database: env.GetString("DB_NAME", "pulsechat"),
			SSLMode:  env.GetString("DB_SSL_MODE", "disable"),
			MaxConns: env.GetPositiveInt("DB_MAX_CONNS", 25),
			MinConns: env.GetPositiveInt("DB_MIN_CONNS", 5),
		},
		Redis: RedisConfig{
			Enabled:  env.GetBool("REDIS_ENABLED", true),
			Host:     env.GetString("REDIS_HOST", "localhost"),
			Port:     env.GetInt("REDIS_PORT", 6379),
			Password: env.GetStringFromFile("REDIS_PASSWORD", ""),
			DB:       env.GetInt("REDIS_DB", 0),
			PoolSize: env.GetPositiveInt("REDIS_POOL_SIZE", 10),
			Timeout:  env.GetDuration("REDIS_TIMEOUT", 5*time.Second),
		},
		Cassandra: CassandraConfig{
			Enabled:  env.GetBool("CASSANDRA_ENABLED", false),
			Hosts:    env.GetSlice("CASSANDRA_HOSTS", []string{"localhost"}),
			Keyspace: env.GetString("CASSANDRA_KEYSPACE", "pulsechat"),
			Username: env.GetString("CASSANDRA_USER", ""),
			Password: env.GetStringFromFile("CASSANDRA_PASSWORD", ""),
			Timeout:  env.GetDuration("CASSANDRA_TIMEOUT", 10*time.Second),
		},
		JWT: JWTConfig{
			Secret: env.GetStringFromFile("JWT_SECRET", ""),
		},
		Log: LogConfig{
			Level:    env.GetString("LOG_LEVEL", "info"),
			Format:   env.GetString("LOG_FORMAT", "json"),
			Output:   env.GetString("LOG_OUTPUT", "stdout"),
			FilePath: env.GetString("LOG_FILE_PATH", "/logs/app.log"),
		},
		RateLimit: RateLimitConfig{
			Window:      env.GetMillis("RATE_LIMIT_WINDOW_MS", time.Minute),
			MaxRequests: env.GetPositiveInt("RATE_LIMIT_MAX_REQUESTS", 60),
		},
		MessageRateLimit: RateLimitConfig{
			Window:      env.GetMillis("MESSAGE_RATE_LIMIT_WINDOW_MS", 10*time.Second),
			MaxRequests: env.GetPositiveInt("MESSAGE_RATE_LIMIT_MAX", 10),
		},
		WebSocket: WebSocketConfig{
			MaxConnections:      env.GetPositiveInt("WS_MAX_CONNECTIONS", 1000),
			EventsPerSecond:     float64(env.GetPositiveInt("WS_EVENTS_PER_SECOND", 50)),
			EventBurst:          env.GetPositiveInt("WS_EVENT_BURST", 100),
			CallEndOnDisconnect: env.GetBool("CALL_END_ON_DISCONNECT", false),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Environment == "production" {
		if c.JWT.Secret == "" {
			return fmt.Errorf("JWT_SECRET must be set in production")
		}
		if len(c.JWT.Secret) < 32 {
			return fmt.Errorf("JWT_SECRET must be at least 32 characters in production")
		}
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("PORT out of range: %d", c.Server.Port)
	}
	return nil
}

// IsProduction reports whether ENV=production
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}
