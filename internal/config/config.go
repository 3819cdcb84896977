// internal/config/config.go

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Environment string
	Database    DatabaseConfig
	NATS        NATSConfig
	Discovery   DiscoveryConfig
	Watcher     WatcherConfig
	Clustering  ClusteringConfig
	Retention   RetentionConfig
	Retry       RetryConfig
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Database     string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
	SSLMode      string
}

// NATSConfig holds NATS configuration
type NATSConfig struct {
	URL            string
	MaxReconnects  int
	ReconnectWait  time.Duration
	ConnectTimeout time.Duration
}

// DiscoveryConfig holds discovery pass configuration
type DiscoveryConfig struct {
	MaxAge             time.Duration
	HistoryDepth       int
	CandidateLimit     int
	VelocityFloorHours float64
	// Channels overrides the stock stage plan with a flat channel
	// sweep when non-empty.
	Channels     []string
	MaxPerSource int
}

// WatcherConfig holds the recurring pass cadences and event topics
type WatcherConfig struct {
	DiscoveryInterval   time.Duration
	MonitorInterval     time.Duration
	AnalyzeInterval     time.Duration
	EventsTopic         string
	RateLimitCoolDown   time.Duration
	MonitorMaxPerSource int
	ShutdownTimeout     time.Duration
}

// ClusteringConfig holds trend clustering configuration
type ClusteringConfig struct {
	RelevanceFloor       float64
	MinMembers           int
	RisingVelocityFactor float64
	RisingAccelFloor     float64
	GemAccelFloor        float64
	GemMaxViews          int64
}

// RetentionConfig holds snapshot retention configuration
type RetentionConfig struct {
	Horizon time.Duration
}

// RetryConfig holds store write retry configuration
type RetryConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Load loads configuration from environment variables
func Load() (Config, error) {
	config := Config{
		Environment: getEnv("APP_ENV", "development"),
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnvAsInt("DB_PORT", 5432),
			User:         getEnv("DB_USER", "postgres"),
			Password:     getEnv("DB_PASSWORD", "postgres"),
			Database:     getEnv("DB_NAME", "trendspy"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:  getEnvAsDuration("DB_MAX_LIFETIME", 5*time.Minute),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
		},
		NATS: NATSConfig{
			URL:            getEnv("NATS_URL", "nats://localhost:4222"),
			MaxReconnects:  getEnvAsInt("NATS_MAX_RECONNECTS", 10),
			ReconnectWait:  getEnvAsDuration("NATS_RECONNECT_WAIT", 1*time.Second),
			ConnectTimeout: getEnvAsDuration("NATS_CONNECT_TIMEOUT", 2*time.Second),
		},
		Discovery: DiscoveryConfig{
			MaxAge:             getEnvAsDuration("DISCOVERY_MAX_AGE", 7*24*time.Hour),
			HistoryDepth:       getEnvAsInt("DISCOVERY_HISTORY_DEPTH", 3),
			CandidateLimit:     getEnvAsInt("DISCOVERY_CANDIDATE_LIMIT", 20),
			VelocityFloorHours: getEnvAsFloat("DISCOVERY_VELOCITY_FLOOR_HOURS", 0.1),
			Channels:           getEnvAsSlice("DISCOVERY_CHANNELS", nil),
			MaxPerSource:       getEnvAsInt("DISCOVERY_MAX_PER_SOURCE", 10),
		},
		Watcher: WatcherConfig{
			DiscoveryInterval:   getEnvAsDuration("WATCHER_DISCOVERY_INTERVAL", 4*time.Hour),
			MonitorInterval:     getEnvAsDuration("WATCHER_MONITOR_INTERVAL", 2*time.Hour),
			AnalyzeInterval:     getEnvAsDuration("WATCHER_ANALYZE_INTERVAL", 6*time.Hour),
			EventsTopic:         getEnv("WATCHER_EVENTS_TOPIC", "trendspy"),
			RateLimitCoolDown:   getEnvAsDuration("WATCHER_RATE_LIMIT_COOL_DOWN", 30*time.Minute),
			MonitorMaxPerSource: getEnvAsInt("WATCHER_MONITOR_MAX_PER_SOURCE", 10),
			ShutdownTimeout:     getEnvAsDuration("WATCHER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Clustering: ClusteringConfig{
			RelevanceFloor:       getEnvAsFloat("CLUSTER_RELEVANCE_FLOOR", 0.5),
			MinMembers:           getEnvAsInt("CLUSTER_MIN_MEMBERS", 2),
			RisingVelocityFactor: getEnvAsFloat("CLUSTER_RISING_VELOCITY_FACTOR", 2.0),
			RisingAccelFloor:     getEnvAsFloat("CLUSTER_RISING_ACCEL_FLOOR", 2.0),
			GemAccelFloor:        getEnvAsFloat("CLUSTER_GEM_ACCEL_FLOOR", 3.0),
			GemMaxViews:          int64(getEnvAsInt("CLUSTER_GEM_MAX_VIEWS", 100000)),
		},
		Retention: RetentionConfig{
			Horizon: getEnvAsDuration("RETENTION_HORIZON", 7*24*time.Hour),
		},
		Retry: RetryConfig{
			MaxAttempts:     getEnvAsInt("STORE_RETRY_MAX_ATTEMPTS", 3),
			InitialInterval: getEnvAsDuration("STORE_RETRY_INITIAL_INTERVAL", 200*time.Millisecond),
			MaxInterval:     getEnvAsDuration("STORE_RETRY_MAX_INTERVAL", 2*time.Second),
		},
	}

	return config, validate(config)
}

// validate checks if config is valid
func validate(config Config) error {
	if config.Watcher.DiscoveryInterval <= 0 ||
		config.Watcher.MonitorInterval <= 0 ||
		config.Watcher.AnalyzeInterval <= 0 {
		return fmt.Errorf("watcher intervals must be positive")
	}
	if config.Discovery.HistoryDepth < 2 {
		return fmt.Errorf("discovery history depth must be at least 2")
	}
	if config.Clustering.MinMembers < 2 {
		return fmt.Errorf("cluster min members must be at least 2")
	}

	return nil
}

// DSN renders the database connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	return strings.Split(valueStr, ",")
}
