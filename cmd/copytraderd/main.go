// Package main provides copytraderd - a real-time copy-trading daemon
// for Solana-family clusters.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/copytrade/engine/internal/control"
	"github.com/copytrade/engine/internal/core"
	"github.com/copytrade/engine/internal/coreconfig"
	"github.com/copytrade/engine/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	var (
		dataDir      = flag.String("data-dir", "~/.copytrade", "Data directory")
		configFile   = flag.String("config", "", "Config file path; config.yaml in this path's directory is loaded (default: <data-dir>/config.yaml)")
		rpcEndpoint  = flag.String("rpc", "", "Chain RPC HTTP endpoint, overrides config")
		wsEndpoint   = flag.String("ws", "", "Chain RPC websocket endpoint, overrides config")
		controlAddr = flag.String("control-addr", "", "Operator control RPC address, overrides config")
		logLevel     = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		showVersion  = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	log := logging.New(&logging.Config{Level: *logLevel, TimeFormat: time.TimeOnly})
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("copytraderd %s (commit: %s)", version, commit)
		os.Exit(0)
	}

	var cfg *coreconfig.Config
	var err error
	if *configFile != "" {
		cfg, err = coreconfig.LoadConfig(filepath.Dir(*configFile))
	} else {
		cfg, err = coreconfig.LoadConfig(*dataDir)
	}
	if err != nil {
		log.Fatal("failed to load config", "error", err)
	}

	if *rpcEndpoint != "" {
		cfg.RPC.HTTPEndpoint = *rpcEndpoint
	}
	if *wsEndpoint != "" {
		cfg.RPC.WebsocketEndpoint = *wsEndpoint
	}
	if *controlAddr != "" {
		cfg.Control.ListenAddr = *controlAddr
	}
	cfg.Logging.Level = *logLevel
	cfg.Storage.DataDir = *dataDir

	log = logging.New(&logging.Config{Level: cfg.Logging.Level, TimeFormat: time.TimeOnly})
	logging.SetDefault(log)
	log.Info("config loaded", "path", coreconfig.ConfigPath(*dataDir))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng, err := core.New(ctx, cfg)
	if err != nil {
		log.Fatal("failed to initialize engine", "error", err)
	}
	defer eng.Close()
	log.Info("engine initialized", "cluster", cfg.Cluster, "rpc", cfg.RPC.HTTPEndpoint)

	controlServer := control.NewServer(eng)
	if err := controlServer.Start(cfg.Control.ListenAddr); err != nil {
		log.Fatal("failed to start control server", "error", err)
	}

	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- eng.Run(ctx)
	}()

	printBanner(log, cfg)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info("shutting down...")
	case err := <-runErrCh:
		if err != nil && ctx.Err() == nil {
			log.Error("engine loop exited unexpectedly", "error", err)
		}
	}

	eng.Pause()
	drainCtx, drainCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := eng.Drain(drainCtx); err != nil {
		log.Warn("drain did not complete before deadline", "error", err)
	}
	drainCancel()

	cancel()

	if err := controlServer.Stop(); err != nil {
		log.Error("error stopping control server", "error", err)
	}

	log.Info("goodbye")
}

func printBanner(log *logging.Logger, cfg *coreconfig.Config) {
	log.Info("")
	log.Info("=================================================")
	log.Infof("  copytraderd (%s)", cfg.Cluster)
	log.Infof("  Version: %s", version)
	log.Info("=================================================")
	log.Info("")
	log.Infof("  RPC:     %s", cfg.RPC.HTTPEndpoint)
	log.Infof("  Stream:  %s", cfg.RPC.WebsocketEndpoint)
	log.Infof("  Control: http://%s", cfg.Control.ListenAddr)
	log.Infof("  Data dir: %s", cfg.Storage.DataDir)
	log.Info("")
	log.Info("=================================================")
	log.Info("")
}
