// Package config handles loading and validation of application configuration
// from environment variables. Supports .env files via godotenv.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const defaultJWTSecret = "dev-secret-change-in-production"

// Config holds all application configuration
type Config struct {
	// Server settings
	Port        int
	Environment string // "development" | "staging" | "production"

	// Storage: postgres://... or sqlite://path
	DatabaseURL string

	// Security
	JWTSecret      string
	AllowedOrigins []string
	RateLimitRPM   int
	SessionTTL     time.Duration
	AccountsFile   string
	PolicyFile     string

	// Sessions; empty keeps them in process
	RedisURL string

	// Merkle tree
	MerkleRebuildInterval int // minutes

	// Zone for the completed-cases month boundary
	StatsLocation *time.Location
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (development)
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnvInt("PORT", 8080),
		Environment: getEnv("ENVIRONMENT", "development"),

		DatabaseURL: getEnv("DATABASE_URL", "sqlite://custody.db"),

		JWTSecret:      getEnv("JWT_SECRET", defaultJWTSecret),
		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000")),
		RateLimitRPM:   getEnvInt("RATE_LIMIT_RPM", 120),
		AccountsFile:   getEnv("ACCOUNTS_FILE", ""),
		PolicyFile:     getEnv("POLICY_FILE", ""),

		RedisURL: getEnv("REDIS_URL", ""),

		MerkleRebuildInterval: getEnvInt("MERKLE_REBUILD_INTERVAL", 5),
	}

	ttl, err := time.ParseDuration(getEnv("SESSION_TTL", "12h"))
	if err != nil || ttl <= 0 {
		return nil, fmt.Errorf("SESSION_TTL must be a positive duration: %q", os.Getenv("SESSION_TTL"))
	}
	cfg.SessionTTL = ttl

	cfg.StatsLocation = time.Local
	if name := getEnv("STATS_TIMEZONE", ""); name != "" {
		loc, err := time.LoadLocation(name)
		if err != nil {
			return nil, fmt.Errorf("STATS_TIMEZONE: %w", err)
		}
		cfg.StatsLocation = loc
	}

	if cfg.MerkleRebuildInterval < 1 {
		return nil, fmt.Errorf("MERKLE_REBUILD_INTERVAL must be at least 1 minute")
	}

	// Validate required fields in production
	if cfg.IsProduction() {
		if os.Getenv("DATABASE_URL") == "" {
			return nil, fmt.Errorf("DATABASE_URL is required in production")
		}
		if cfg.JWTSecret == defaultJWTSecret {
			return nil, fmt.Errorf("JWT_SECRET must be set in production")
		}
		if cfg.AccountsFile == "" {
			return nil, fmt.Errorf("ACCOUNTS_FILE is required in production")
		}
	}

	return cfg, nil
}

// IsProduction reports whether the server runs with production safeguards.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// MerkleInterval returns the rebuild period.
func (c *Config) MerkleInterval() time.Duration {
	return time.Duration(c.MerkleRebuildInterval) * time.Minute
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
