// Package config loads the startup configuration from the environment.
//
// Two knobs matter to the core: the data root for the journal and an
// optional RNG seed for deterministic Monte Carlo runs. The rest (port,
// log level, backup settings) belong to the serving shell.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	DataDir      string // root for the journal and cache snapshots
	RNGSeed      int64  // Monte Carlo seed; 0 means the built-in default
	LogLevel     string // debug, info, warn, error
	Port         int    // HTTP port
	Calibrations string // optional stress calibration YAML path
	BackupBucket string // optional S3 bucket for journal backups
	BackupPrefix string
	BackupRegion string
}

// Load reads configuration from the environment, loading .env first when
// present. The data directory is created if missing.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dataDir := getEnv("BASTION_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:      absDataDir,
		RNGSeed:      getEnvAsInt64("BASTION_RNG_SEED", 0),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		Port:         getEnvAsInt("GO_PORT", 8002),
		Calibrations: getEnv("BASTION_STRESS_CALIBRATIONS", ""),
		BackupBucket: getEnv("BASTION_BACKUP_BUCKET", ""),
		BackupPrefix: getEnv("BASTION_BACKUP_PREFIX", "bastion/"),
		BackupRegion: getEnv("AWS_REGION", ""),
	}
	return cfg, nil
}

// JournalPath returns the journal database location under the data root.
func (c *Config) JournalPath() string {
	return filepath.Join(c.DataDir, "journal.db")
}

// SnapshotPath returns the cache snapshot location under the data root.
func (c *Config) SnapshotPath() string {
	return filepath.Join(c.DataDir, "cache.msgpack")
}

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

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}
