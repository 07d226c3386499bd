package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds process level configuration read from the environment.
// Node settings (deployments, webhooks, agents) live in the YAML file at ConfigPath.
type Config struct {
	// Node configuration file
	ConfigPath string

	// Server configuration
	Port string

	// Logging configuration
	LogLevel          string
	LogFormat         string
	SuspiciousLogPath string

	// AWS configuration
	AWSRegion string

	// Execution history
	ExecutionsTableName string
	HistorySize         int

	// Lifecycle
	ShutdownGrace time.Duration
}

// New creates a new Config instance by loading environment variables
// from .env file (if present) and OS environment.
// OS environment variables take precedence over .env file values.
// Panics if configuration values are invalid.
func New() *Config {
	envPath := filepath.Join(".", ".env")
	_ = godotenv.Load(envPath)

	cfg := &Config{
		ConfigPath: getEnvOrDefault("FLEETD_CONFIG", "/etc/fleetd/config.yaml"),

		Port: os.Getenv("PORT"),

		LogLevel:          getEnvOrDefault("LOG_LEVEL", "INFO"),
		LogFormat:         getEnvOrDefault("LOG_FORMAT", "json"),
		SuspiciousLogPath: getEnvOrDefault("SUSPICIOUS_LOG_PATH", "/var/log/fleetd/suspicious.log"),

		AWSRegion: getEnvOrDefault("AWS_REGION", "us-east-1"),

		ExecutionsTableName: os.Getenv("DYNAMODB_EXECUTIONS_TABLE"),
		HistorySize:         mustInt("HISTORY_SIZE", 100),

		ShutdownGrace: mustDuration("SHUTDOWN_GRACE", 30*time.Second),
	}

	cfg.validate()

	return cfg
}

// validate checks that all configuration values are present and valid
func (c *Config) validate() {
	if c.ConfigPath == "" {
		panic("Missing required configuration values: [FLEETD_CONFIG]")
	}

	if c.Port != "" {
		if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
			panic(fmt.Sprintf("PORT must be a number between 1 and 65535 (got '%s')", c.Port))
		}
	}

	if c.HistorySize < 1 {
		panic(fmt.Sprintf("HISTORY_SIZE must be positive (got %d)", c.HistorySize))
	}

	if c.ShutdownGrace < 0 {
		panic(fmt.Sprintf("SHUTDOWN_GRACE must not be negative (got %s)", c.ShutdownGrace))
	}
}

// getEnvOrDefault returns the value of an environment variable or a default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func mustInt(key string, defaultValue int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		panic(fmt.Sprintf("%s must be an integer (got '%s')", key, raw))
	}
	return v
}

func mustDuration(key string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		panic(fmt.Sprintf("%s must be a duration such as 30s (got '%s')", key, raw))
	}
	return v
}

// GetConfigPath returns the node configuration file path
func (c *Config) GetConfigPath() string {
	return c.ConfigPath
}

// GetLogLevel returns the logging level
func (c *Config) GetLogLevel() string {
	return c.LogLevel
}

// GetAWSRegion returns the AWS region
func (c *Config) GetAWSRegion() string {
	return c.AWSRegion
}

// GetExecutionsTableName returns the DynamoDB table used for execution history.
// Empty means history is kept in memory.
func (c *Config) GetExecutionsTableName() string {
	return c.ExecutionsTableName
}
