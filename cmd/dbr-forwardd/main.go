// Command dbr-forwardd is the forwarding daemon of SPEC_FULL.md §6.1: it
// speaks the upstream wire protocol of spec.md §6 over TCP, on behalf of
// callers in languages other than Go, and forwards decoded requests to a
// Redis-cluster backend engine.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dbroker/dbr/internal/logger"
	"github.com/dbroker/dbr/pkg/config"
	"github.com/dbroker/dbr/pkg/metrics"

	// Imported for its init() side effect: wires Prometheus collectors
	// into every engine.Metrics metrics.NewEngineMetrics constructs.
	_ "github.com/dbroker/dbr/pkg/metrics/prometheus"
	"github.com/dbroker/dbr/pkg/backend/redis/engine"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:           "dbr-forwardd",
	Short:         "Forwarding daemon for the dbr tuple-store Redis-cluster backend",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/dbr/config.yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engCfg, err := cfg.EngineConfig()
	if err != nil {
		return fmt.Errorf("resolving engine config: %w", err)
	}

	var engMetrics engine.Metrics
	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		engMetrics = metrics.NewEngineMetrics()
		metricsServer = metrics.NewServer(cfg.Metrics.Port)
		if err := metricsServer.Start(ctx); err != nil {
			return fmt.Errorf("starting metrics server: %w", err)
		}
		logger.Info("metrics enabled", "port", cfg.Metrics.Port)
	}

	eng := engine.New(engCfg, engMetrics)
	if err := eng.Bootstrap(); err != nil {
		return fmt.Errorf("bootstrapping engine: %w", err)
	}
	defer eng.Close()

	go eng.Run(ctx)

	srv := NewServer(cfg.Forwarder.ListenAddr, eng)
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting forwarding server: %w", err)
	}
	logger.Info("forwarding daemon listening", "addr", cfg.Forwarder.ListenAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	signal.Stop(sigCh)
	logger.Info("shutdown signal received, draining connections")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Forwarder.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Warn("forwarding server did not shut down cleanly", "error", err)
	}
	if metricsServer != nil {
		if err := metricsServer.Stop(shutdownCtx); err != nil {
			logger.Warn("metrics server did not shut down cleanly", "error", err)
		}
	}
	return nil
}
