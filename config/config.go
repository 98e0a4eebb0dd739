// Package config loads application settings from a .env file and environment variables.
// Environment variables always take precedence over .env file values.
package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	// PostgreSQL – either set DatabaseURL directly, or the individual fields.
	DatabaseURL string
	DBUser      string
	DBPass      string
	DBHost      string
	DBPort      string
	DBName      string
	DBSSLMode   string

	// JWT signing secret (required in production).
	JWTSecret string

	// Server
	Debug      bool
	Port       string
	TLSDomains []string

	// Scoring
	StoreTimeout  time.Duration
	SweepInterval time.Duration // 0 disables the background sweep

	// Redis snapshot of the global leaderboard; empty disables it.
	RedisAddr           string
	LeaderboardCacheTTL time.Duration

	// Tracing: "stdout", "otlp" or empty for none.
	TracesExporter string
	ServiceName    string
}

// Load reads configuration from a .env file (if present) and then from
// environment variables. Environment variables always win.
func Load() *Config {
	cfg := load()
	cfg.validate()
	return cfg
}

// LoadDB is Load for tools that only talk to the database and never sign tokens.
func LoadDB() *Config {
	cfg := load()
	if cfg.DatabaseURL == "" && cfg.DBPass == "" {
		log.Fatal("config: DATABASE_URL or DB_PASS must be set")
	}
	return cfg
}

func load() *Config {
	v := newViper()

	// Defaults
	v.SetDefault("DB_USER", "gridpicks")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_NAME", "gridpicks")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("PORT", ":9000")
	v.SetDefault("TLS_DOMAINS", "")
	v.SetDefault("DEBUG", false)
	v.SetDefault("STORE_TIMEOUT", "5s")
	v.SetDefault("SWEEP_INTERVAL", "1m")
	v.SetDefault("LEADERBOARD_CACHE_TTL", "30s")
	v.SetDefault("OTEL_SERVICE_NAME", "gridpicks")

	return &Config{
		DatabaseURL:         v.GetString("DATABASE_URL"),
		DBUser:              v.GetString("DB_USER"),
		DBPass:              v.GetString("DB_PASS"),
		DBHost:              v.GetString("DB_HOST"),
		DBPort:              v.GetString("DB_PORT"),
		DBName:              v.GetString("DB_NAME"),
		DBSSLMode:           v.GetString("DB_SSLMODE"),
		JWTSecret:           v.GetString("JWT_SECRET"),
		Debug:               v.GetBool("DEBUG"),
		Port:                v.GetString("PORT"),
		TLSDomains:          splitTrimmed(v.GetString("TLS_DOMAINS")),
		StoreTimeout:        v.GetDuration("STORE_TIMEOUT"),
		SweepInterval:       v.GetDuration("SWEEP_INTERVAL"),
		RedisAddr:           v.GetString("REDIS_ADDR"),
		LeaderboardCacheTTL: v.GetDuration("LEADERBOARD_CACHE_TTL"),
		TracesExporter:      strings.ToLower(v.GetString("OTEL_TRACES_EXPORTER")),
		ServiceName:         v.GetString("OTEL_SERVICE_NAME"),
	}
}

// PostgresDSN returns the full PostgreSQL connection string.
// DATABASE_URL takes precedence over individual fields.
func (c *Config) PostgresDSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUser,
		c.DBPass,
		c.DBHost,
		c.DBPort,
		c.DBName,
		c.DBSSLMode,
	)
}

// JWTKey returns the JWT signing key as a byte slice.
func (c *Config) JWTKey() []byte {
	return []byte(c.JWTSecret)
}

func (c *Config) validate() {
	if c.DatabaseURL == "" && c.DBPass == "" {
		log.Fatal("config: DATABASE_URL or DB_PASS must be set")
	}
	if c.JWTSecret == "" {
		log.Fatal("config: JWT_SECRET must be set")
	}
	if c.StoreTimeout <= 0 {
		log.Fatal("config: STORE_TIMEOUT must be positive")
	}
	if c.SweepInterval < 0 {
		log.Fatal("config: SWEEP_INTERVAL must not be negative")
	}
	switch c.TracesExporter {
	case "", "none", "stdout", "otlp":
	default:
		log.Fatalf("config: unknown OTEL_TRACES_EXPORTER %q", c.TracesExporter)
	}
}

func newViper() *viper.Viper {
	// Silently load .env – OK if the file doesn't exist (production uses real env vars).
	if err := godotenv.Load(); err != nil {
		log.Println("config: no .env file found, using environment variables only")
	}

	v := viper.New()
	v.AutomaticEnv()
	return v
}

func splitTrimmed(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
