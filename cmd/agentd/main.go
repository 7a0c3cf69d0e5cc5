package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fogwarden/agent/internal/agentcfg"
	"github.com/fogwarden/agent/internal/agentlog"
	"github.com/fogwarden/agent/internal/registry"
	"github.com/fogwarden/agent/internal/runtime"
	"github.com/fogwarden/agent/internal/supervisor"
)

// version and commit are set at build time via ldflags:
//
//	-X main.version=$(VERSION) -X main.commit=$(COMMIT)
var version = "dev"
var commit = "unknown"

func main() {
	cfg := agentcfg.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log := agentlog.New(cfg.LogJSON)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	log.Info("fogwarden agent starting", "version", version, "commit", commit)
	for k, v := range cfg.Values() {
		log.Info("config", "key", k, "value", v)
	}

	reg, err := openRegistry(cfg)
	if err != nil {
		log.Error("failed to open registry", "error", err)
		os.Exit(1)
	}
	defer reg.Close()

	if seedPath := os.Getenv("FOGWARDEN_SEED_FILE"); seedPath != "" {
		if err := reg.LoadSeed(seedPath); err != nil {
			log.Error("failed to load seed file", "path", seedPath, "error", err)
			os.Exit(1)
		}
	}

	rt, err := runtime.NewDockerRuntime(cfg.RuntimeSock, nil)
	if err != nil {
		log.Error("failed to create runtime adapter", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	agent := supervisor.New(cfg, log, reg, rt)
	if err := agent.Run(ctx); err != nil {
		log.Error("agent exited with error", "error", err)
		os.Exit(1)
	}

	log.Info("fogwarden agent shutdown complete")
}

// openRegistry opens a BoltDB-backed registry, or an in-memory one when
// FOGWARDEN_DB_PATH is the special ":memory:" sentinel (used by
// integration smoke-tests that don't want on-disk state).
func openRegistry(cfg *agentcfg.Config) (*registry.Store, error) {
	if cfg.DBPath == ":memory:" {
		return registry.New(), nil
	}
	return registry.Open(cfg.DBPath)
}
