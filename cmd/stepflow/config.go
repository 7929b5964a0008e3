package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"

	"github.com/avandres/stepflow/internal/tool"
)

// Config holds all stepflow CLI configuration.
// Priority: env vars > settings.json > defaults. Sources come from
// settings.json only.
type Config struct {
	DBPath              string              `json:"db_path"`
	LogLevel            string              `json:"log_level"`
	SnapshotInterval    int                 `json:"snapshot_interval"`
	CompactionThreshold int                 `json:"compaction_threshold"`
	VaultPassphrase     string              `json:"vault_passphrase"`
	VaultSalt           string              `json:"vault_salt"`
	Sources             []tool.SourceConfig `json:"sources"`
}

func defaultConfig() Config {
	return Config{
		DBPath:   filepath.Join(stepflowDir(), "stepflow.db"),
		LogLevel: "info",
	}
}

func stepflowDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".stepflow"
	}
	return filepath.Join(home, ".stepflow")
}

func settingsPath() string {
	return filepath.Join(stepflowDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("STEPFLOW_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("STEPFLOW_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("STEPFLOW_SNAPSHOT_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SnapshotInterval = n
		}
	}
	if v := os.Getenv("STEPFLOW_COMPACTION_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CompactionThreshold = n
		}
	}
	if v := os.Getenv("STEPFLOW_VAULT_PASSPHRASE"); v != "" {
		cfg.VaultPassphrase = v
	}
	if v := os.Getenv("STEPFLOW_VAULT_SALT"); v != "" {
		cfg.VaultSalt = v
	}

	return cfg
}
