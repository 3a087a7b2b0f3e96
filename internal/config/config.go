package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerHost string
	ServerPort string

	// Relay policy
	RateLimit           int           // inbound messages per minute per connection
	MaxOperations       int           // bounded operation log capacity per room
	ChatMaxLength       int           // chat payload ceiling in characters
	RoomTimeout         time.Duration // idle rooms beyond this are evicted
	MaintenanceInterval time.Duration // sweep period for the room registry

	// Client sync tuning
	HeartbeatInterval    time.Duration
	ReconnectBase        time.Duration
	ReconnectMaxAttempts int
	HistoryMaxSize       int

	// Optional durable operation log. Persistence is enabled only when
	// DB_HOST is set; the relay runs fully in-memory otherwise.
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Observability
	JaegerEndpoint string
}

func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		ServerHost: getEnv("SERVER_HOST", "0.0.0.0"),
		ServerPort: getEnv("SERVER_PORT", "8080"),

		RateLimit:           getEnvInt("RATE_LIMIT", 100),
		MaxOperations:       getEnvInt("MAX_OPERATIONS", 1000),
		ChatMaxLength:       getEnvInt("CHAT_MAX_LENGTH", 1000),
		RoomTimeout:         time.Duration(getEnvInt("ROOM_TIMEOUT_MINUTES", 60)) * time.Minute,
		MaintenanceInterval: time.Duration(getEnvInt("MAINTENANCE_INTERVAL_MINUTES", 15)) * time.Minute,

		HeartbeatInterval:    time.Duration(getEnvInt("HEARTBEAT_SECONDS", 30)) * time.Second,
		ReconnectBase:        time.Duration(getEnvInt("RECONNECT_BASE_MS", 1000)) * time.Millisecond,
		ReconnectMaxAttempts: getEnvInt("RECONNECT_MAX_ATTEMPTS", 5),
		HistoryMaxSize:       getEnvInt("HISTORY_MAX_SIZE", 100),

		DBHost:     getEnv("DB_HOST", ""),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "scene_collab"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		JaegerEndpoint: getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
	}

	if _, err := strconv.Atoi(cfg.ServerPort); err != nil {
		return nil, fmt.Errorf("SERVER_PORT must be numeric: %w", err)
	}
	if cfg.RateLimit <= 0 {
		return nil, fmt.Errorf("RATE_LIMIT must be positive, got %d", cfg.RateLimit)
	}
	if cfg.MaxOperations <= 0 {
		return nil, fmt.Errorf("MAX_OPERATIONS must be positive, got %d", cfg.MaxOperations)
	}

	return cfg, nil
}

// PersistenceEnabled reports whether the durable operation log is
// configured. Everything else works without a database.
func (c *Config) PersistenceEnabled() bool {
	return c.DBHost != ""
}

func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if result, err := strconv.Atoi(value); err == nil {
			return result
		}
	}
	return defaultValue
}
