package internal

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store modes.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	Env      string
	Port     int
	LogLevel string

	// Store selects the backing store: "postgres" or "memory".
	Store       string
	DatabaseUrl string

	// CatalogFile seeds platforms and offers in memory mode.
	CatalogFile string

	// CredentialKey is a 32 byte hex key sealing account credentials at rest.
	CredentialKey string

	// StaffAPIToken guards the account pool routes. Empty disables the check
	// in development only.
	StaffAPIToken string

	// Allocation
	ReserveRetries int

	// Expiry sweep
	SweepEnabled   bool
	SweepSchedule  string
	SweepBatchSize int

	// Worker Configuration
	WorkerEnabled      bool
	WorkerConcurrency  int
	WorkerPollInterval time.Duration
	WorkerJobTimeout   time.Duration

	// SMTP Configuration for staff alerts. Alerts go to the log when
	// SMTPHost or StaffAlertEmails is empty.
	SMTPHost         string
	SMTPPort         int
	SMTPUsername     string
	SMTPPassword     string
	SMTPFrom         string
	SMTPFromName     string
	StaffAlertEmails []string

	// Checkout rate limit per client IP
	CreateRateLimit  int
	CreateRateWindow time.Duration

	// Metrics endpoint authentication
	// If both are empty, the /metrics endpoint will be unprotected (not recommended)
	MetricsUsername string
	MetricsPassword string
}

func NewConfig() (*Config, error) {
	// Load .env file if it exists (ignored in production)
	_ = godotenv.Load()

	cfg := &Config{
		Env:      getEnv("ENV", "development"),
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "debug"),

		Store:       getEnv("STORE", StorePostgres),
		DatabaseUrl: os.Getenv("DATABASE_URL"),
		CatalogFile: getEnv("CATALOG_FILE", ""),

		CredentialKey: os.Getenv("CREDENTIAL_KEY"),
		StaffAPIToken: os.Getenv("STAFF_API_TOKEN"),

		ReserveRetries: getEnvInt("RESERVE_RETRIES", 1),

		SweepEnabled:   getEnvBool("SWEEP_ENABLED", true),
		SweepSchedule:  getEnv("SWEEP_SCHEDULE", "@every 15m"),
		SweepBatchSize: getEnvInt("SWEEP_BATCH_SIZE", 100),

		WorkerEnabled:      getEnvBool("WORKER_ENABLED", true),
		WorkerConcurrency:  getEnvInt("WORKER_CONCURRENCY", 2),
		WorkerPollInterval: getEnvDuration("WORKER_POLL_INTERVAL", 5*time.Second),
		WorkerJobTimeout:   getEnvDuration("WORKER_JOB_TIMEOUT", 5*time.Minute),

		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     getEnvInt("SMTP_PORT", 1025),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		SMTPFrom:     getEnv("SMTP_FROM", "alerts@streamshare.local"),
		SMTPFromName: getEnv("SMTP_FROM_NAME", "StreamShare"),

		CreateRateLimit:  getEnvInt("CREATE_RATE_LIMIT", 30),
		CreateRateWindow: getEnvDuration("CREATE_RATE_WINDOW", time.Minute),

		MetricsUsername: getEnv("METRICS_USERNAME", ""),
		MetricsPassword: getEnv("METRICS_PASSWORD", ""),
	}

	// Parse staff alert recipients (comma-separated)
	if v := getEnv("STAFF_ALERT_EMAILS", ""); v != "" {
		for _, addr := range strings.Split(v, ",") {
			if trimmed := strings.TrimSpace(addr); trimmed != "" {
				cfg.StaffAlertEmails = append(cfg.StaffAlertEmails, trimmed)
			}
		}
	}

	switch cfg.Store {
	case StorePostgres:
		if cfg.DatabaseUrl == "" {
			return nil, fmt.Errorf("DATABASE_URL is required when STORE is 'postgres'")
		}
	case StoreMemory:
		if cfg.Env != "development" {
			return nil, fmt.Errorf("STORE 'memory' is only allowed when ENV is 'development'")
		}
	default:
		return nil, fmt.Errorf("STORE must be either 'postgres' or 'memory', got: %s", cfg.Store)
	}

	if cfg.CredentialKey == "" {
		return nil, fmt.Errorf("CREDENTIAL_KEY is required")
	}
	if cfg.StaffAPIToken == "" && cfg.Env != "development" {
		return nil, fmt.Errorf("STAFF_API_TOKEN is required outside development")
	}
	if cfg.ReserveRetries < 0 {
		return nil, fmt.Errorf("RESERVE_RETRIES must not be negative, got: %d", cfg.ReserveRetries)
	}
	if cfg.SweepBatchSize < 1 {
		return nil, fmt.Errorf("SWEEP_BATCH_SIZE must be at least 1, got: %d", cfg.SweepBatchSize)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
