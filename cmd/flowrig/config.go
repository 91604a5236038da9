package main

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Config holds flowrig CLI configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath   string `json:"db_path"`
	LogLevel string `json:"log_level"`
}

func defaultConfig() Config {
	return Config{
		// Empty DBPath keeps the run journal in memory.
		LogLevel: "info",
	}
}

func flowrigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".flowrig"
	}
	return filepath.Join(home, ".flowrig")
}

func settingsPath() string {
	return filepath.Join(flowrigDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("FLOWRIG_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("FLOWRIG_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	return cfg
}
