package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

func runInstall(args []string) {
	def := loadConfig()

	fs := flag.NewFlagSet("install", flag.ExitOnError)
	dbPath := fs.String("db-path", def.DBPath, "database path")
	logLevel := fs.String("log-level", def.LogLevel, "log level: debug, info, warn, error")
	maxConcurrent := fs.Int("max-concurrent", def.MaxConcurrent, "executions running at once (parallel runs excluded)")
	pollInterval := fs.String("queue-poll-interval", def.QueuePollInterval, "queue drain interval")
	poolSize := fs.Int("pool-size", def.PoolSize, "worker pool size")
	headless := fs.Bool("headless", def.Headless, "run every browser headless")
	browserTimeout := fs.Int("browser-timeout-ms", def.BrowserTimeoutMS, "default page operation timeout")
	installBrowsers := fs.Bool("install-browsers", def.InstallBrowsers, "download playwright browsers on start")
	timezone := fs.String("timezone", def.Timezone, "IANA zone for daily, weekly and monthly schedules")
	metricsAddr := fs.String("metrics-addr", def.MetricsAddr, "metrics listen address (empty disables)")
	mcpFlag := fs.Bool("mcp", def.MCP, "serve MCP tools on stdio")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg := Config{
		DBPath:            *dbPath,
		LogLevel:          *logLevel,
		MaxConcurrent:     *maxConcurrent,
		QueuePollInterval: *pollInterval,
		PoolSize:          *poolSize,
		Headless:          *headless,
		BrowserTimeoutMS:  *browserTimeout,
		InstallBrowsers:   *installBrowsers,
		Timezone:          *timezone,
		MetricsAddr:       *metricsAddr,
		MCP:               *mcpFlag,
	}
	if _, err := cfg.location(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := writeSettings(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Config written to %s\n", settingsPath())

	signalRunningServer()
}

func writeSettings(cfg Config) error {
	dir := autoflowDir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("cannot create %s: %w", dir, err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	path := settingsPath()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("cannot write %s: %w", path, err)
	}
	return nil
}

// signalRunningServer sends SIGHUP to a running autoflow server (via pidfile).
// Returns true if the server was signaled.
func signalRunningServer() bool {
	data, err := os.ReadFile(pidPath())
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Check if process is alive.
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return false
	}
	if err := proc.Signal(syscall.SIGHUP); err != nil {
		return false
	}
	fmt.Printf("Signaled running server (PID %d) to reload configuration\n", pid)
	return true
}
