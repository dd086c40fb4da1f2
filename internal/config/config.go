// Package config provides environment-based configuration management.
// All tunables load from environment variables with sane defaults; a .env
// file is honored when present for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// DBConfig holds database connection parameters
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

// RedisConfig holds Redis connection parameters
type RedisConfig struct {
	Addr string // Format: host:port
}

// AppConfig holds application-level configuration
type AppConfig struct {
	Port   int
	Secret string // Shared secret for admin/console/dashboard surfaces
}

// DispatchConfig holds routing and throttling tunables
type DispatchConfig struct {
	RateLimit          int           // Assignments allowed per agent per window
	RateWindow         time.Duration // Assignment rate-limit window
	QueueTTL           time.Duration // Rotation queue key expiry
	PresenceTTL        time.Duration // Presence cache entry expiry
	EscalationInterval time.Duration // Scanner tick interval
	EscalationTimeout  time.Duration // Age before an unanswered assignment escalates
}

// WidgetConfig holds widget session and abuse-control tunables
type WidgetConfig struct {
	SessionTTL     time.Duration // Sliding widget session expiry
	CaptchaTTL     time.Duration // Captcha challenge expiry
	AbuseThreshold int           // Messages per window before captcha triggers
	AbuseWindow    time.Duration // Abuse velocity window
	StreamIdle     time.Duration // SSE idle disconnect
	RequestRate    float64       // Per-IP requests per second
	RequestBurst   int           // Per-IP burst allowance
}

// Config aggregates all configuration sections
type Config struct {
	DB       DBConfig
	Redis    RedisConfig
	App      AppConfig
	Dispatch DispatchConfig
	Widget   WidgetConfig
}

// LoadConfig reads configuration from environment variables.
// Returns error if critical variables are missing.
func LoadConfig() (*Config, error) {
	// Best-effort: absent .env is the normal case in containers
	_ = godotenv.Load()

	cfg := &Config{}

	// Database Configuration
	cfg.DB.Host = getEnv("DB_HOST", "livechat_db")
	cfg.DB.Port = getEnvAsInt("DB_PORT", 3306)
	cfg.DB.User = getEnv("DB_USER", "root")
	cfg.DB.Password = getEnv("DB_PASS", "")
	cfg.DB.Database = getEnv("DB_NAME", "livechat")

	// Validate critical DB password
	if cfg.DB.Password == "" {
		return nil, fmt.Errorf("DB_PASS environment variable is required")
	}

	// Redis Configuration
	cfg.Redis.Addr = getEnv("REDIS_ADDR", "livechat_redis:6379")

	// Application Configuration
	cfg.App.Port = getEnvAsInt("APP_PORT", 8080)
	cfg.App.Secret = getEnv("DISPATCH_SECRET", "")
	if cfg.App.Secret == "" {
		return nil, fmt.Errorf("DISPATCH_SECRET environment variable is required")
	}

	// Dispatch Configuration
	cfg.Dispatch.RateLimit = getEnvAsInt("DISPATCH_RATE_LIMIT", 10)
	cfg.Dispatch.RateWindow = getEnvAsDuration("DISPATCH_RATE_WINDOW", 60*time.Second)
	cfg.Dispatch.QueueTTL = getEnvAsDuration("DISPATCH_QUEUE_TTL", 24*time.Hour)
	cfg.Dispatch.PresenceTTL = getEnvAsDuration("DISPATCH_PRESENCE_TTL", 5*time.Minute)
	cfg.Dispatch.EscalationInterval = getEnvAsDuration("ESCALATION_INTERVAL", time.Minute)
	cfg.Dispatch.EscalationTimeout = getEnvAsDuration("ESCALATION_TIMEOUT", 240*time.Second)

	// Widget Configuration
	cfg.Widget.SessionTTL = getEnvAsDuration("WIDGET_SESSION_TTL", 24*time.Hour)
	cfg.Widget.CaptchaTTL = getEnvAsDuration("WIDGET_CAPTCHA_TTL", 5*time.Minute)
	cfg.Widget.AbuseThreshold = getEnvAsInt("WIDGET_ABUSE_THRESHOLD", 30)
	cfg.Widget.AbuseWindow = getEnvAsDuration("WIDGET_ABUSE_WINDOW", 5*time.Minute)
	cfg.Widget.StreamIdle = getEnvAsDuration("WIDGET_STREAM_IDLE", 60*time.Second)
	cfg.Widget.RequestRate = getEnvAsFloat("WIDGET_REQUEST_RATE", 5)
	cfg.Widget.RequestBurst = getEnvAsInt("WIDGET_REQUEST_BURST", 10)

	return cfg, nil
}

// GetDSN returns MariaDB connection string
func (c *DBConfig) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Database,
	)
}

// getEnv reads environment variable with fallback default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt reads environment variable as integer with fallback default
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvAsFloat reads environment variable as float with fallback default
func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvAsDuration reads environment variable as a Go duration string
// (e.g. "90s", "5m") with fallback default
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
