package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"agentdeck/internal/models"
)

// Config holds all application configuration
type Config struct {
	Port        string
	DatabaseURL string // empty = SQLite at DataDir/agentdeck.db; mysql://... = MySQL
	DataDir     string
	MongoURL    string
	RedisURL    string

	// Provider catalog file, hot-reloaded on change
	ProvidersFile string

	// Auth configuration
	JWTSecret          string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration

	// Credential encryption (account store); 64 hex chars
	EncryptionMasterKey string

	// Local-inference discovery
	DiscoveryEndpoint string
	DiscoveryInterval time.Duration

	// Chat tuning
	ChatCacheTTL time.Duration

	// Background job schedules (standard five-field cron, UTC)
	OrphanCleanupCron  string
	ProviderHealthCron string
	RetentionCron      string

	// Retention limits. RetentionMaxMessages of 0 disables log trimming.
	RetentionMaxMessages int
	ErrorRetentionDays   int
}

// Load loads configuration from environment variables with defaults
func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "3001"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		DataDir:     getEnv("DATA_DIR", "./data"),
		MongoURL:    getEnv("MONGODB_URL", ""),
		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379"),

		ProvidersFile: getEnv("PROVIDERS_FILE", "providers.json"),

		JWTSecret:          getEnv("JWT_SECRET", ""),
		AccessTokenExpiry:  getDurationEnv("ACCESS_TOKEN_EXPIRY", 15*time.Minute),
		RefreshTokenExpiry: getDurationEnv("REFRESH_TOKEN_EXPIRY", 7*24*time.Hour),

		EncryptionMasterKey: getEnv("ENCRYPTION_MASTER_KEY", ""),

		DiscoveryEndpoint: getEnv("DISCOVERY_ENDPOINT", "http://localhost:11434"),
		DiscoveryInterval: getDurationEnv("DISCOVERY_INTERVAL", 5*time.Minute),

		ChatCacheTTL: getDurationEnv("CHAT_CACHE_TTL", 10*time.Minute),

		OrphanCleanupCron:  getEnv("ORPHAN_CLEANUP_CRON", "0 * * * *"),
		ProviderHealthCron: getEnv("PROVIDER_HEALTH_CRON", "*/30 * * * *"),
		RetentionCron:      getEnv("RETENTION_CRON", "0 3 * * *"),

		RetentionMaxMessages: getIntEnv("RETENTION_MAX_MESSAGES", 0),
		ErrorRetentionDays:   getIntEnv("ERROR_RETENTION_DAYS", 30),
	}
}

// SQLPath returns the device-store DSN: the configured DATABASE_URL when
// set, otherwise a SQLite file under DataDir.
func (c *Config) SQLPath() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return c.DataDir + "/agentdeck.db"
}

// LoadCatalog loads the provider catalog from a JSON file
func LoadCatalog(filePath string) (*models.Catalog, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read providers file: %w", err)
	}

	var catalog models.Catalog
	if err := json.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse providers JSON: %w", err)
	}

	return &catalog, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}
