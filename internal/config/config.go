package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mithzak/are-you-dead/common/config"
)

const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"

	DispatchLog    = "log"
	DispatchRouter = "router"
	DispatchStream = "stream"
)

// Config check-in engine configuration
type Config struct {
	HTTPAddr string

	// StoreBackend memory | redis | postgres
	StoreBackend string

	Database config.DatabaseConfig
	Redis    config.RedisConfig
	MQTT     config.MQTTConfig

	Watchdog struct {
		ScanInterval    time.Duration // default 60s
		InactivityLimit time.Duration // default 48h
	}

	Dispatch struct {
		// Mode log | router | stream
		Mode        string
		Concurrency int

		WebhookURL        string
		WebhookTimeout    time.Duration
		WebhookRetryCount int
		WebhookAuthToken  string

		MQTTTopicPrefix string

		Stream      string
		StreamGroup string
		// StreamRelay also consume the stream in this process
		StreamRelay bool
	}

	// EscalationLogEnabled record events in Postgres escalation_events
	EscalationLogEnabled bool
	HistoryPerUser       int
	RedisKeyPrefix       string

	SeedFile string

	Log struct {
		Level    string
		Format   string
		Filename string
	}
}

// Load reads configuration from the environment
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.HTTPAddr = getEnv("HTTP_ADDR", ":8080")
	cfg.StoreBackend = strings.ToLower(getEnv("STORE_BACKEND", StoreMemory))

	cfg.Database.Host = "localhost"
	cfg.Database.Port = 5432
	cfg.Database.User = "postgres"
	cfg.Database.Password = "postgres"
	cfg.Database.Database = "safecheck"
	cfg.Database.SSLMode = "disable"
	cfg.Database.MaxConns = 10
	cfg.Database.MaxIdle = 5
	cfg.Database.LoadFromEnv("DB")

	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.LoadFromEnv("REDIS")
	cfg.RedisKeyPrefix = getEnv("REDIS_KEY_PREFIX", "safecheck:")

	// empty broker disables the AppUser push channel
	cfg.MQTT.ClientID = "safecheck"
	cfg.MQTT.QoS = 1
	cfg.MQTT.LoadFromEnv("MQTT")

	var err error
	if cfg.Watchdog.ScanInterval, err = getDuration("WATCHDOG_SCAN_INTERVAL", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.Watchdog.InactivityLimit, err = getDuration("WATCHDOG_INACTIVITY_LIMIT", 48*time.Hour); err != nil {
		return nil, err
	}

	cfg.Dispatch.Mode = strings.ToLower(getEnv("DISPATCH_MODE", DispatchLog))
	if cfg.Dispatch.Concurrency, err = getInt("DISPATCH_CONCURRENCY", 8); err != nil {
		return nil, err
	}
	cfg.Dispatch.WebhookURL = getEnv("DISPATCH_WEBHOOK_URL", "")
	if cfg.Dispatch.WebhookTimeout, err = getDuration("DISPATCH_WEBHOOK_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.Dispatch.WebhookRetryCount, err = getInt("DISPATCH_WEBHOOK_RETRY_COUNT", 2); err != nil {
		return nil, err
	}
	cfg.Dispatch.WebhookAuthToken = getEnv("DISPATCH_WEBHOOK_TOKEN", "")
	cfg.Dispatch.MQTTTopicPrefix = getEnv("DISPATCH_MQTT_TOPIC_PREFIX", "safecheck/alerts")
	cfg.Dispatch.Stream = getEnv("DISPATCH_STREAM", "safecheck:escalations")
	cfg.Dispatch.StreamGroup = getEnv("DISPATCH_STREAM_GROUP", "safecheck-notifier")
	if cfg.Dispatch.StreamRelay, err = getBool("DISPATCH_STREAM_RELAY", false); err != nil {
		return nil, err
	}

	if cfg.EscalationLogEnabled, err = getBool("ESCALATION_LOG_ENABLED", false); err != nil {
		return nil, err
	}
	if cfg.HistoryPerUser, err = getInt("HISTORY_PER_USER", 100); err != nil {
		return nil, err
	}
	cfg.SeedFile = getEnv("SEED_FILE", "")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")
	cfg.Log.Filename = getEnv("LOG_FILENAME", "")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects combinations the service cannot wire
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case StoreMemory, StoreRedis, StorePostgres:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	switch c.Dispatch.Mode {
	case DispatchLog, DispatchRouter, DispatchStream:
	default:
		return fmt.Errorf("unknown DISPATCH_MODE %q", c.Dispatch.Mode)
	}
	if c.Watchdog.ScanInterval <= 0 {
		return fmt.Errorf("WATCHDOG_SCAN_INTERVAL must be positive")
	}
	if c.Watchdog.InactivityLimit <= 0 {
		return fmt.Errorf("WATCHDOG_INACTIVITY_LIMIT must be positive")
	}
	if c.Dispatch.Concurrency <= 0 {
		return fmt.Errorf("DISPATCH_CONCURRENCY must be positive")
	}
	if c.EscalationLogEnabled && c.StoreBackend != StorePostgres {
		return fmt.Errorf("ESCALATION_LOG_ENABLED requires STORE_BACKEND=postgres")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return i, nil
}

func getBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}
