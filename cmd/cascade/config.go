package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds all cascade configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath       string   `json:"db_path"`
	LogLevel     string   `json:"log_level"`
	PoolSize     int      `json:"pool_size"`
	TickInterval string   `json:"tick_interval"`
	MCPCommand   string   `json:"mcp_command"`
	MCPArgs      []string `json:"mcp_args"`
}

func defaultConfig() Config {
	return Config{
		DBPath:       filepath.Join(cascadeDir(), "cascade.db"),
		LogLevel:     "info",
		PoolSize:     4,
		TickInterval: "1m",
	}
}

func cascadeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cascade"
	}
	return filepath.Join(home, ".cascade")
}

func settingsPath() string {
	return filepath.Join(cascadeDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("CASCADE_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("CASCADE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CASCADE_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PoolSize = n
		}
	}
	if v := os.Getenv("CASCADE_TICK_INTERVAL"); v != "" {
		cfg.TickInterval = v
	}
	if v := os.Getenv("CASCADE_MCP_COMMAND"); v != "" {
		cfg.MCPCommand = v
	}

	return cfg
}
