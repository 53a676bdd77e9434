// Command vaultcached serves the vaultcache engine over a JSON-over-stdio
// protocol, with optional Prometheus metrics exposition.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/vaultcache/vaultcache/internal/cache"
	"github.com/vaultcache/vaultcache/internal/circuit"
	"github.com/vaultcache/vaultcache/internal/config"
	"github.com/vaultcache/vaultcache/internal/metrics"
	"github.com/vaultcache/vaultcache/internal/server"
	"github.com/vaultcache/vaultcache/pkg/logutil"
	"github.com/vaultcache/vaultcache/pkg/retry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "vaultcached: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to YAML configuration")
	profile := flag.String("profile", "", "configuration profile (development, production, low-memory)")
	rps := flag.Float64("rps", 0, "request rate limit, 0 disables")
	flag.Parse()

	cfg := config.NewDefault()
	if *profile != "" {
		if err := cfg.ApplyProfile(*profile); err != nil {
			return err
		}
	}
	if *configPath != "" {
		if err := cfg.LoadFromFile(*configPath); err != nil {
			return err
		}
	}
	cfg.LoadFromEnv()
	cfg.AutoTune()
	if err := cfg.Validate(); err != nil {
		return err
	}

	level, err := logutil.ParseLogLevel(cfg.Global.LogLevel)
	if err != nil {
		return err
	}
	format := logutil.FormatText
	if cfg.Global.LogFormat == "json" {
		format = logutil.FormatJSON
	}
	logger := logutil.New(&logutil.Config{Level: level, Output: os.Stderr, Format: format})

	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		return err
	}
	encryptor, err := cfg.BuildEncryptor()
	if err != nil {
		return err
	}
	access, err := cfg.BuildAccessController()
	if err != nil {
		return err
	}

	engine, err := cache.NewEngine(engineCfg, cache.Deps{
		Logger:    logger,
		Encryptor: encryptor,
		Access:    access,
		Breaker:   circuit.NewBreaker("loader", circuit.Config{}),
		Retryer:   retry.New(retry.DefaultConfig()),
	})
	if err != nil {
		return err
	}
	defer engine.Destroy()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)

	var collector *metrics.Collector
	if cfg.Monitoring.Enabled {
		collector, err = metrics.NewCollector(&metrics.Config{
			Enabled:        true,
			Port:           cfg.Monitoring.Port,
			Path:           "/metrics",
			Namespace:      "vaultcache",
			UpdateInterval: cfg.Monitoring.UpdateInterval,
			Alerts: metrics.AlertConfig{
				HitRateFloor:  cfg.Monitoring.HitRateFloor,
				MinRequests:   100,
				MemoryCeiling: cfg.Monitoring.MemoryCeiling,
			},
		}, engine.Stats, logger)
		if err != nil {
			return err
		}
		if err := collector.Start(ctx); err != nil {
			return err
		}
		defer func() { _ = collector.Stop(context.Background()) }()
	}

	srv := server.New(engine, server.Config{RequestsPerSecond: *rps}, collector, logger)

	logger.Info("vaultcached started", map[string]interface{}{
		"profile":      cfg.Global.Profile,
		"max_entries":  engineCfg.MaxEntries,
		"max_memory":   config.FormatSize(engineCfg.MaxMemory),
		"version_mode": engineCfg.VersionAware,
	})

	group.Go(func() error {
		return srv.Run(ctx, os.Stdin, os.Stdout)
	})

	err = group.Wait()
	if err == context.Canceled {
		err = nil
	}
	return err
}
