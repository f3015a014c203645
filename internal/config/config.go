package config

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerAddr string
	LogLevel   string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	RedisAddr string

	JWTSecret       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	LoginRateMax      int
	LoginRateWindow   time.Duration
	RefreshRateMax    int
	RefreshRateWindow time.Duration

	CORSOrigins []string
}

// Load reads configuration from the environment. A .env file in the working
// directory is merged in first, so local development does not need exported
// variables.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		ServerAddr: getEnvOrDefault("SERVER_ADDR", ":8080"),
		LogLevel:   getEnvOrDefault("LOG_LEVEL", "info"),

		DBHost:     getEnvOrDefault("DB_HOST", "localhost"),
		DBPort:     getEnvOrDefault("DB_PORT", "5432"),
		DBUser:     getEnvOrDefault("DB_USER", "keygate"),
		DBPassword: getEnvOrDefault("DB_PASSWORD", "keygate_dev_password"),
		DBName:     getEnvOrDefault("DB_NAME", "keygate"),

		RedisAddr: getEnvOrDefault("REDIS_ADDR", "localhost:6379"),

		JWTSecret:       getEnvOrDefault("JWT_SECRET", generateDefaultSecret()),
		AccessTokenTTL:  getDurationOrDefault("ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTokenTTL: getDurationOrDefault("REFRESH_TOKEN_TTL", 7*24*time.Hour),

		LoginRateMax:      getIntOrDefault("LOGIN_RATE_MAX", 5),
		LoginRateWindow:   getDurationOrDefault("LOGIN_RATE_WINDOW", 15*time.Minute),
		RefreshRateMax:    getIntOrDefault("REFRESH_RATE_MAX", 10),
		RefreshRateWindow: getDurationOrDefault("REFRESH_RATE_WINDOW", 15*time.Minute),

		CORSOrigins: splitAndTrim(getEnvOrDefault("CORS_ORIGINS", "*")),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return n
		}
	}
	return defaultValue
}

// getDurationOrDefault accepts Go duration strings ("15m") or bare seconds ("900").
func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func generateDefaultSecret() string {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "dev-secret-change-in-production"
	}
	return hex.EncodeToString(bytes)
}
