package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all autoflow server configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath            string `json:"db_path"`
	LogLevel          string `json:"log_level"`
	MaxConcurrent     int    `json:"max_concurrent"`
	QueuePollInterval string `json:"queue_poll_interval"`
	PoolSize          int    `json:"pool_size"`
	Headless          bool   `json:"headless"`
	BrowserTimeoutMS  int    `json:"browser_timeout_ms"`
	InstallBrowsers   bool   `json:"install_browsers"`
	Timezone          string `json:"timezone"`
	MetricsAddr       string `json:"metrics_addr"`
	MCP               bool   `json:"mcp"`
}

func defaultConfig() Config {
	return Config{
		DBPath:            filepath.Join(autoflowDir(), "autoflow.db"),
		LogLevel:          "info",
		MaxConcurrent:     5,
		QueuePollInterval: "1s",
		PoolSize:          16,
		BrowserTimeoutMS:  30000,
		Timezone:          "UTC",
		MetricsAddr:       ":9464",
		MCP:               true,
	}
}

func autoflowDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".autoflow"
	}
	return filepath.Join(home, ".autoflow")
}

func settingsPath() string {
	return filepath.Join(autoflowDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("AUTOFLOW_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("AUTOFLOW_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("AUTOFLOW_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxConcurrent = n
		}
	}
	if v := os.Getenv("AUTOFLOW_QUEUE_POLL_INTERVAL"); v != "" {
		cfg.QueuePollInterval = v
	}
	if v := os.Getenv("AUTOFLOW_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PoolSize = n
		}
	}
	if v := os.Getenv("AUTOFLOW_HEADLESS"); v != "" {
		cfg.Headless = v == "true" || v == "1"
	}
	if v := os.Getenv("AUTOFLOW_BROWSER_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BrowserTimeoutMS = n
		}
	}
	if v := os.Getenv("AUTOFLOW_INSTALL_BROWSERS"); v != "" {
		cfg.InstallBrowsers = v == "true" || v == "1"
	}
	if v := os.Getenv("AUTOFLOW_TIMEZONE"); v != "" {
		cfg.Timezone = v
	}
	if v, ok := os.LookupEnv("AUTOFLOW_METRICS_ADDR"); ok {
		// Empty disables the metrics listener.
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("AUTOFLOW_MCP"); v != "" {
		cfg.MCP = v == "true" || v == "1"
	}

	return cfg
}

// pollInterval parses QueuePollInterval, falling back to one second.
func (c Config) pollInterval() time.Duration {
	d, err := time.ParseDuration(c.QueuePollInterval)
	if err != nil || d <= 0 {
		return time.Second
	}
	return d
}

func (c Config) browserTimeout() time.Duration {
	return time.Duration(c.BrowserTimeoutMS) * time.Millisecond
}

func (c Config) location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// configDiff describes what changed between two configurations.
type configDiff struct {
	LogLevelChanged bool
	RestartNeeded   []string // fields that require a server restart
}

func diffConfigs(old, new Config) configDiff {
	var d configDiff
	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
	}
	if old.DBPath != new.DBPath {
		d.RestartNeeded = append(d.RestartNeeded, "db_path")
	}
	if old.MaxConcurrent != new.MaxConcurrent {
		d.RestartNeeded = append(d.RestartNeeded, "max_concurrent")
	}
	if old.QueuePollInterval != new.QueuePollInterval {
		d.RestartNeeded = append(d.RestartNeeded, "queue_poll_interval")
	}
	if old.PoolSize != new.PoolSize {
		d.RestartNeeded = append(d.RestartNeeded, "pool_size")
	}
	if old.Headless != new.Headless || old.BrowserTimeoutMS != new.BrowserTimeoutMS || old.InstallBrowsers != new.InstallBrowsers {
		d.RestartNeeded = append(d.RestartNeeded, "browser")
	}
	if old.Timezone != new.Timezone {
		d.RestartNeeded = append(d.RestartNeeded, "timezone")
	}
	if old.MetricsAddr != new.MetricsAddr {
		d.RestartNeeded = append(d.RestartNeeded, "metrics_addr")
	}
	if old.MCP != new.MCP {
		d.RestartNeeded = append(d.RestartNeeded, "mcp")
	}
	return d
}

func pidPath() string {
	return filepath.Join(autoflowDir(), "autoflow.pid")
}
