package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rendis/autoflow/internal/compiler"
	"github.com/rendis/autoflow/internal/driver"
	"github.com/rendis/autoflow/internal/engine"
	"github.com/rendis/autoflow/internal/expressions"
	"github.com/rendis/autoflow/internal/logging"
	"github.com/rendis/autoflow/internal/scheduler"
	"github.com/rendis/autoflow/internal/store"
	"github.com/rendis/autoflow/internal/streaming"
	"github.com/rendis/autoflow/internal/telemetry"
	"github.com/rendis/autoflow/internal/validation"
	afmcp "github.com/rendis/autoflow/pkg/mcp"
)

const shutdownTimeout = 10 * time.Second

func runServe() {
	if err := serve(loadConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func serve(cfg Config) error {
	level := new(slog.LevelVar)
	level.Set(logging.ParseLevel(cfg.LogLevel))
	logger := slog.New(logging.NewCorrelationHandler(
		slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}),
	))

	loc, err := cfg.location()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := writePIDFile(); err != nil {
		logger.Warn("cannot write pid file", "error", err)
	}
	defer os.Remove(pidPath())

	metrics := telemetry.New(prometheus.NewRegistry())
	hub := streaming.NewMemoryHub(streaming.WithDropHook(func(ev streaming.StreamEvent) {
		metrics.EventDropped(ev.EventType)
	}))

	rt := driver.NewPlaywrightRuntime(driver.PlaywrightConfig{
		Install:        cfg.InstallBrowsers,
		ForceHeadless:  cfg.Headless,
		DefaultTimeout: cfg.browserTimeout(),
	}, logger)
	sessions := driver.NewPool(rt.NewDriver, logger)

	comp, err := compiler.NewDefault(logger)
	if err != nil {
		return fmt.Errorf("compiler: %w", err)
	}
	validator, err := validation.NewGraphValidator()
	if err != nil {
		return fmt.Errorf("validator: %w", err)
	}

	machine := engine.NewMachine(st, hub, sessions, comp, engine.MachineConfig{
		Evaluator:   expressions.NewExprEngine(),
		Transformer: expressions.NewGoJQEngine(),
		Metrics:     metrics,
		Logger:      logger,
	})
	queue := engine.NewQueue(machine, st, validator, engine.NewWorkerPool(cfg.PoolSize, logger), engine.QueueConfig{
		MaxConcurrent: cfg.MaxConcurrent,
		PollInterval:  cfg.pollInterval(),
		Metrics:       metrics,
		Logger:        logger,
	})
	sched := scheduler.NewScheduler(st, queue, hub, scheduler.Config{
		Location: loc,
		Metrics:  metrics,
		Logger:   logger,
	})

	if err := queue.Start(ctx); err != nil {
		return err
	}
	if err := sched.Start(ctx); err != nil {
		queue.Shutdown()
		return err
	}

	metricsSrv := startMetricsServer(cfg.MetricsAddr, metrics, logger)
	go watchReload(ctx, cfg, level, logger)

	logger.Info("autoflow started",
		"version", version,
		"db_path", cfg.DBPath,
		"max_concurrent", cfg.MaxConcurrent,
		"timezone", loc.String(),
		"mcp", cfg.MCP,
	)

	var serveErr error
	if cfg.MCP {
		srv := afmcp.NewAutoflowServer(afmcp.AutoflowServerDeps{
			Executions: queue,
			Tasks:      sched,
			Store:      st,
			Hub:        hub,
			Logger:     logger,
		})
		serveErr = srv.Serve(ctx)
		if errors.Is(serveErr, context.Canceled) {
			serveErr = nil
		}
	} else {
		<-ctx.Done()
	}

	logger.Info("shutting down")
	_ = sched.Stop()
	queue.Shutdown()
	if err := sessions.Close(); err != nil {
		logger.Warn("closing browser sessions", "error", err)
	}
	if err := rt.Stop(); err != nil {
		logger.Warn("stopping playwright", "error", err)
	}
	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return serveErr
}

func openStore(ctx context.Context, dbPath string) (*store.LibSQLStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	st, err := store.NewLibSQLStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	return st, nil
}

// startMetricsServer serves /metrics and /healthz on addr. Empty addr disables it.
func startMetricsServer(addr string, metrics *telemetry.Metrics, logger *slog.Logger) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
	logger.Info("metrics listening", "addr", addr)
	return srv
}

// watchReload re-reads the configuration on SIGHUP. The log level applies
// live; every other change is reported as needing a restart.
func watchReload(ctx context.Context, cfg Config, level *slog.LevelVar, logger *slog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			next := loadConfig()
			d := diffConfigs(cfg, next)
			if d.LogLevelChanged {
				level.Set(logging.ParseLevel(next.LogLevel))
				logger.Info("log level changed", "level", next.LogLevel)
			}
			if len(d.RestartNeeded) > 0 {
				logger.Warn("configuration changes require a restart", "fields", d.RestartNeeded)
			}
			cfg.LogLevel = next.LogLevel
		}
	}
}

func writePIDFile() error {
	if err := os.MkdirAll(autoflowDir(), 0o700); err != nil {
		return err
	}
	return os.WriteFile(pidPath(), []byte(strconv.Itoa(os.Getpid())), 0o644)
}
