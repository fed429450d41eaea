package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server configuration
	Port string
	Mode string

	// Database configuration
	DatabaseURL string

	// Redis configuration (remote profile store)
	RedisURL string

	// Client API key
	APIKey string

	// Billing configuration
	BonusIntervalDays       int
	EntitlementRetryDelayMS int
	LegacyPrefsFile         string
	ServiceName             string
}

var AppConfig *Config

func InitConfig() error {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		// Ignore error if .env file doesn't exist
	}

	AppConfig = &Config{
		Port:                    getEnv("PORT", "8080"),
		Mode:                    getEnv("GIN_MODE", "debug"),
		DatabaseURL:             getEnv("DATABASE_URL", ""),
		RedisURL:                getEnv("REDIS_URL", ""),
		APIKey:                  getEnv("API_KEY", ""),
		BonusIntervalDays:       getEnvInt("BONUS_INTERVAL_DAYS", 7),
		EntitlementRetryDelayMS: getEnvInt("ENTITLEMENT_RETRY_DELAY_MS", 1500),
		LegacyPrefsFile:         getEnv("LEGACY_PREFS_FILE", "billing-prefs.json"),
		ServiceName:             getEnv("SERVICE_NAME", "Billing Service"),
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
