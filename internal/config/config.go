package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

type Config struct {
	Server    ServerConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
	Auth      AuthConfig
}

type ServerConfig struct {
	Port        string
	Environment string
}

type PostgresConfig struct {
	DSN string
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

func (r RedisConfig) Addr() string {
	return r.Host + ":" + r.Port
}

type RateLimitConfig struct {
	// "memory" keeps counters process-local, "redis" shares them across instances.
	Backend string
	Tiers   map[string]TierLimits
}

type TierLimits struct {
	RequestsPerMinute int `json:"requests_per_minute"`
	RequestsPerHour   int `json:"requests_per_hour"`
	RequestsPerDay    int `json:"requests_per_day"`
}

type AuthConfig struct {
	JWTSecret   string
	ExpiryHours int
}

// Per-tier defaults. A tenant's subscription tier selects a row; custom
// per-tenant overrides are applied on top by the tier resolver.
func DefaultTiers() map[string]TierLimits {
	return map[string]TierLimits{
		"free":       {RequestsPerMinute: 60, RequestsPerHour: 1000, RequestsPerDay: 10000},
		"starter":    {RequestsPerMinute: 120, RequestsPerHour: 5000, RequestsPerDay: 50000},
		"growth":     {RequestsPerMinute: 300, RequestsPerHour: 20000, RequestsPerDay: 200000},
		"enterprise": {RequestsPerMinute: 1000, RequestsPerHour: 100000, RequestsPerDay: 1000000},
	}
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", "8080"),
			Environment: getEnv("ENVIRONMENT", "development"),
		},
		Postgres: PostgresConfig{
			DSN: getEnv("DATABASE_URL", "host=localhost user=postgres password=postgres dbname=ratelimitd port=5432 sslmode=disable"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		RateLimit: RateLimitConfig{
			Backend: getEnv("RATE_LIMIT_BACKEND", "memory"),
			Tiers:   DefaultTiers(),
		},
		Auth: AuthConfig{
			JWTSecret:   getEnv("JWT_SECRET", ""),
			ExpiryHours: getEnvInt("JWT_EXPIRY_HOURS", 24),
		},
	}

	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	// Optional tier table overrides, same shape as the defaults.
	if path := os.Getenv("RATE_LIMIT_TIERS_FILE"); path != "" {
		if err := loadTiers(path, cfg.RateLimit.Tiers); err != nil {
			return nil, fmt.Errorf("failed to load tier overrides: %w", err)
		}
	}

	return cfg, nil
}

func loadTiers(path string, tiers map[string]TierLimits) error {
	file, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var overrides map[string]TierLimits
	if err := json.Unmarshal(file, &overrides); err != nil {
		return err
	}

	for name, limits := range overrides {
		tiers[name] = limits
	}

	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}
