// API server entry point for KidneyMatch.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/turtacn/KidneyMatch/internal/config"
	"github.com/turtacn/KidneyMatch/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KidneyMatch/internal/infrastructure/monitoring/prometheus"
	httpserver "github.com/turtacn/KidneyMatch/internal/interfaces/http"
)

const defaultConfigPath = "configs/config.yaml"

// Injected via ldflags.
var version = "dev"

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to configuration file")
	httpPort := flag.Int("http-port", 0, "HTTP server port (overrides config)")
	flag.Parse()

	if err := run(*configPath, *httpPort); err != nil {
		fmt.Fprintf(os.Stderr, "kmatch-apiserver: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, httpPort int) error {
	cfg, fromFile, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if httpPort > 0 {
		cfg.Server.Port = httpPort
	}

	logger, err := logging.NewLogger(logging.LogConfig{
		Level:       logging.LogLevel(cfg.Log.Level),
		Format:      cfg.Log.Format,
		OutputPaths: cfg.Log.OutputPaths,
	})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	logging.SetDefault(logger)

	logger.Info("starting KidneyMatch API server",
		logging.String("version", version),
		logging.String("addr", cfg.Server.Addr()),
		logging.String("reference_source", cfg.Reference.Source),
		logging.String("models_source", cfg.Models.Source),
		logging.Bool("redis", cfg.Redis.Enabled),
	)

	collector, err := prometheus.NewMetricsCollector(prometheus.CollectorConfig{
		Namespace:            cfg.Metrics.Namespace,
		EnableProcessMetrics: true,
		EnableGoMetrics:      true,
	}, logger)
	if err != nil {
		return fmt.Errorf("metrics collector: %w", err)
	}

	application, err := buildApp(cfg, logger, collector)
	if err != nil {
		logger.Error("failed to assemble the server", logging.Err(err))
		return err
	}
	defer application.close(logger)

	if fromFile {
		config.Watch(configPath, func(next *config.Config) {
			if err := logging.SetLevel(logger, logging.LogLevel(next.Log.Level)); err != nil {
				logger.Warn("log level not applied", logging.Err(err))
				return
			}
			logger.Info("configuration reloaded", logging.String("log_level", next.Log.Level))
		}, func(err error) {
			logger.Warn("ignoring invalid configuration change", logging.Err(err))
		})
	}

	srv := httpserver.NewServer(httpserver.ServerConfig{
		Addr:            cfg.Server.Addr(),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, application.handler, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	uptime := application.metrics.ServiceUptime.WithLabelValues("apiserver")
	started := time.Now()
	go func() {
		tick := time.NewTicker(15 * time.Second)
		defer tick.Stop()
		for {
			uptime.Set(time.Since(started).Seconds())
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("HTTP server error", logging.Err(err))
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutdown signal received")
	if err := srv.Stop(context.Background()); err != nil {
		logger.Error("HTTP server shutdown error", logging.Err(err))
		return err
	}
	return nil
}

// loadConfig reads path when it exists and falls back to environment-only
// configuration otherwise.  The boolean reports whether a file was used.
func loadConfig(path string) (*config.Config, bool, error) {
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return nil, false, err
		}
		fmt.Fprintf(os.Stderr, "config file %s not found, using environment and defaults\n", path)
		cfg, err := config.LoadFromEnv()
		return cfg, false, err
	}
	cfg, err := config.Load(path)
	return cfg, true, err
}
