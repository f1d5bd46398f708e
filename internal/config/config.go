// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Limits holds the trade validation bounds. These are sanity guards against
// data-entry and unit errors, not business rules, so they are configurable
// rather than hard-coded.
type Limits struct {
	MaxQuantity   int64   // absolute signed quantity cap per trade
	MaxPrice      float64 // per-share price cap
	MaxCommission float64 // per-trade commission cap
}

// DefaultLimits returns the standard validation bounds.
func DefaultLimits() Limits {
	return Limits{
		MaxQuantity:   1_000_000,
		MaxPrice:      10_000,
		MaxCommission: 1_000,
	}
}

// CommissionSchedule holds the commission model applied to executor-created
// trades: a proportional rate with a minimum fee per order.
type CommissionSchedule struct {
	Rate   float64 // proportional commission as a decimal (0.0003 = 0.03%)
	MinFee float64 // minimum commission per order
}

// BackupConfig holds ledger backup settings. Backup is disabled unless a
// bucket is configured.
type BackupConfig struct {
	Bucket string
	Region string
	Prefix string
}

// Enabled reports whether ledger backups should run.
func (b BackupConfig) Enabled() bool { return b.Bucket != "" }

// Config holds application configuration
type Config struct {
	DataDir            string  // Base directory for all databases (always absolute)
	Port               int     // HTTP API port
	LogLevel           string  // debug, info, warn, error
	DevMode            bool    // Relaxed CORS, pretty logs
	QuoteServiceURL    string  // Price oracle endpoint
	CalendarServiceURL string  // Trading-calendar service endpoint (optional)
	StartingCash       float64 // Starting capital of the ledger bucket
	Limits             Limits
	Commission         CommissionSchedule
	Backup             BackupConfig
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("ABACUS_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	// Always resolve to absolute path
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	// Ensure directory exists
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	defaults := DefaultLimits()
	cfg := &Config{
		DataDir:            absDataDir,
		Port:               getEnvAsInt("ABACUS_PORT", 8010),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		DevMode:            getEnvAsBool("DEV_MODE", false),
		QuoteServiceURL:    getEnv("QUOTE_SERVICE_URL", "http://localhost:9100"),
		CalendarServiceURL: getEnv("CALENDAR_SERVICE_URL", ""),
		StartingCash:       getEnvAsFloat("ABACUS_STARTING_CASH", 100_000),
		Limits: Limits{
			MaxQuantity:   int64(getEnvAsInt("ABACUS_MAX_QUANTITY", int(defaults.MaxQuantity))),
			MaxPrice:      getEnvAsFloat("ABACUS_MAX_PRICE", defaults.MaxPrice),
			MaxCommission: getEnvAsFloat("ABACUS_MAX_COMMISSION", defaults.MaxCommission),
		},
		Commission: CommissionSchedule{
			Rate:   getEnvAsFloat("ABACUS_COMMISSION_RATE", 0.0003),
			MinFee: getEnvAsFloat("ABACUS_COMMISSION_MIN_FEE", 5.0),
		},
		Backup: BackupConfig{
			Bucket: getEnv("BACKUP_S3_BUCKET", ""),
			Region: getEnv("BACKUP_S3_REGION", "eu-central-1"),
			Prefix: getEnv("BACKUP_S3_PREFIX", "abacus"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present and sane
func (c *Config) Validate() error {
	if c.StartingCash <= 0 {
		return fmt.Errorf("starting cash must be positive, got %.2f", c.StartingCash)
	}
	if c.Limits.MaxQuantity <= 0 || c.Limits.MaxPrice <= 0 || c.Limits.MaxCommission < 0 {
		return fmt.Errorf("validation limits must be positive")
	}
	if c.Commission.Rate < 0 || c.Commission.MinFee < 0 {
		return fmt.Errorf("commission schedule must be non-negative")
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
