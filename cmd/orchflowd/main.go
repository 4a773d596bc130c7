// Command orchflowd is orchflow's single-binary entry point: it loads
// configuration, wires every subsystem, and serves the RPC hub over one
// websocket endpoint until signaled to shut down.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/foofork/orchflow/internal/common/config"
	"github.com/foofork/orchflow/internal/common/logger"
	"github.com/foofork/orchflow/internal/events"
	"github.com/foofork/orchflow/internal/orchestrator"
	"github.com/foofork/orchflow/internal/rpcapi"
	"github.com/foofork/orchflow/internal/rpcapi/tools"
	"github.com/foofork/orchflow/internal/state"
)

const (
	exitOK           = 0
	exitInitError    = 1
	exitBadConfig    = 2
	exitStateCorrupt = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	dataDir := flag.String("data-dir", "", "override state.dataDir")
	rpcPort := flag.Int("rpc-port", 0, "override server.port")
	maxWorkers := flag.Int("max-workers", 0, "override worker.maxWorkers")
	maxConcurrent := flag.Int("max-concurrent", 0, "override orchestrator.maxConcurrentTasks")
	autosaveMs := flag.Int("autosave-ms", 0, "override state.autosaveMs (milliseconds)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "orchflowd: failed to load configuration: %v\n", err)
		return exitBadConfig
	}
	applyFlagOverrides(cfg, *dataDir, *rpcPort, *maxWorkers, *maxConcurrent, time.Duration(*autosaveMs)*time.Millisecond)

	log, err := logger.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "orchflowd: failed to initialize logger: %v\n", err)
		return exitInitError
	}
	defer log.Sync()
	logger.SetDefault(log)
	log.Info("starting orchflowd")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var bus events.Bus
	if cfg.Events.NATSURL != "" {
		log.Info("connecting to NATS event bus", zap.String("url", cfg.Events.NATSURL))
		natsBus, err := events.NewNATSBus(cfg.Events.NATSURL, log)
		if err != nil {
			log.Error("failed to connect to NATS, falling back to in-memory bus", zap.Error(err))
			bus = events.NewMemoryBus(log)
		} else {
			bus = natsBus
		}
	} else {
		bus = events.NewMemoryBus(log)
	}
	defer bus.Close()

	store, err := state.Open(cfg.State.DataDir, cfg.State.AutosaveMs, log)
	if err != nil {
		log.Error("failed to open state store", zap.Error(err))
		return exitStateCorrupt
	}

	orch, err := orchestrator.New(cfg, bus, store, log)
	if err != nil {
		log.Error("failed to build orchestrator", zap.Error(err))
		return exitInitError
	}
	if err := orch.Start(ctx); err != nil {
		log.Error("failed to start orchestrator", zap.Error(err))
		return exitInitError
	}

	registry := tools.NewRegistry()
	tools.RegisterBuiltins(registry, orch)
	hub := rpcapi.NewHub(registry, bus, orch.SessionSnapshot, log)
	server := rpcapi.New(rpcapi.Config{Port: cfg.Server.Port}, hub, log)
	if err := server.Start(ctx); err != nil {
		log.Error("failed to start rpc server", zap.Error(err))
		return exitInitError
	}
	log.Info("orchflowd ready", zap.Int("rpc_port", server.Port()))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down orchflowd")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		log.Error("rpc server shutdown error", zap.Error(err))
	}
	if err := orch.Stop(shutdownCtx); err != nil {
		log.Error("orchestrator shutdown error", zap.Error(err))
	}

	log.Info("orchflowd stopped")
	return exitOK
}

func applyFlagOverrides(cfg *config.Config, dataDir string, rpcPort, maxWorkers, maxConcurrent int, autosaveMs time.Duration) {
	if dataDir != "" {
		cfg.State.DataDir = dataDir
	}
	if rpcPort != 0 {
		cfg.Server.Port = rpcPort
	}
	if maxWorkers != 0 {
		cfg.Worker.MaxWorkers = maxWorkers
	}
	if maxConcurrent != 0 {
		cfg.Orchestrator.MaxConcurrentTasks = maxConcurrent
	}
	if autosaveMs != 0 {
		cfg.State.AutosaveMs = autosaveMs
	}
}
