// Package supervisor wires the Runtime Adapter, Broker Adapter,
// Connector Client Pool, Status Reporter, Workload Registry, Lifecycle
// Engine, Message Routing Core, and Local API into one long-lived Agent
// context — explicitly constructed values held by a top-level struct
// rather than process-globals (spec §9's redesign note), grounded on
// the teacher's cmd/sentinel/main.go wiring.
package supervisor

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/fogwarden/agent/internal/agentcfg"
	"github.com/fogwarden/agent/internal/agentlog"
	"github.com/fogwarden/agent/internal/broker"
	"github.com/fogwarden/agent/internal/clock"
	"github.com/fogwarden/agent/internal/connector"
	"github.com/fogwarden/agent/internal/idgen"
	"github.com/fogwarden/agent/internal/lifecycle"
	"github.com/fogwarden/agent/internal/localapi"
	"github.com/fogwarden/agent/internal/registry"
	"github.com/fogwarden/agent/internal/routing"
	"github.com/fogwarden/agent/internal/runtime"
	"github.com/fogwarden/agent/internal/status"
)

// Agent holds every long-lived component for one agent process.
type Agent struct {
	cfg *agentcfg.Config
	log *agentlog.Logger

	reg     *registry.Store
	rt      runtime.Runtime
	brk     *broker.Broker
	pool    *connector.Pool
	reports *status.Reporter
	engine  *lifecycle.Engine
	core    *routing.Core
	local   *localapi.Server
}

// New wires the Agent from configuration. The registry and runtime are
// supplied by the caller; the broker, connector pool, status reporter,
// lifecycle engine, routing core, and local API are constructed here.
func New(cfg *agentcfg.Config, log *agentlog.Logger, reg *registry.Store, rt runtime.Runtime) *Agent {
	brk := broker.New()
	pool := connector.New(cfg.TrustStoreDir, log)
	reports := status.New()
	engine := lifecycle.New(rt, reg, reports, log)

	resolver := newRegistryResolver(reg, idgen.New().String())
	core := routing.New(brk, pool, resolver, reports, cfg, clock.Real{}, log)

	logBuf := localapi.NewLogBuffer()
	local := localapi.NewServer(localapi.Dependencies{
		Routing:   core,
		Registry:  reg,
		Config:    cfg,
		LogBuffer: logBuf,
		Version:   "dev",
		Log:       log,
	})

	return &Agent{
		cfg:     cfg,
		log:     log.Module("supervisor"),
		reg:     reg,
		rt:      rt,
		brk:     brk,
		pool:    pool,
		reports: reports,
		engine:  engine,
		core:    core,
		local:   local,
	}
}

// Run brings every component up, blocks until ctx is cancelled, then
// shuts everything down within the configured grace period.
//
// The broker and routing core are started synchronously: a failure here
// means the agent can't do anything useful, so it's fatal. The routing
// core's own watchdog (internal/routing/supervisor.go) already restarts
// the broker on its next tick if it goes down later — that's not
// duplicated here. The Local API's HTTP server is the one component with
// no existing self-healing loop, so it runs in its own supervised
// goroutine that restarts it with backoff on unexpected exit (spec §2's
// Supervisor row), recording its status with each transition.
func (a *Agent) Run(ctx context.Context) error {
	a.reports.SetComponentStatus("broker", "starting")
	if err := a.brk.StartServer(); err != nil {
		a.reports.SetComponentStatus("broker", "failed")
		return err
	}
	a.brk.Initialize()
	a.reports.SetComponentStatus("broker", "running")

	snap := a.reg.Snapshot()
	a.core.Initialize(ctx, snap.Routes)
	a.core.Run(ctx)
	a.reports.SetComponentStatus("routing_core", "running")

	a.reconcileExisting(ctx, snap.LatestMicroservices)

	go a.runLocalAPISupervised(ctx)

	a.log.Info("agent started", "httpAddr", a.cfg.HTTPAddr)
	<-ctx.Done()

	a.shutdown()
	return nil
}

// runLocalAPISupervised runs the Local API's HTTP server, restarting it
// with backoff whenever it exits with an error other than a requested
// shutdown. Returns once ctx is cancelled.
func (a *Agent) runLocalAPISupervised(ctx context.Context) {
	bo := newBackoff()
	for {
		a.reports.SetComponentStatus("local_api", "starting")
		err := a.local.ListenAndServe(a.cfg.HTTPAddr)

		if ctx.Err() != nil || errors.Is(err, http.ErrServerClosed) {
			a.reports.SetComponentStatus("local_api", "stopped")
			return
		}

		a.reports.SetComponentStatus("local_api", "failed")
		a.log.Error("local api exited unexpectedly, restarting", "error", err)

		select {
		case <-ctx.Done():
			a.reports.SetComponentStatus("local_api", "stopped")
			return
		case <-time.After(bo.next()):
		}
	}
}

// reconcileExisting submits an ADD task for every workload already in
// the latest-desired set, so a restart replays the current registry
// state against the runtime instead of waiting for the next controller
// push.
func (a *Agent) reconcileExisting(ctx context.Context, workloads []registry.Workload) {
	for _, w := range workloads {
		w := w
		done := a.engine.Execute(ctx, registry.Task{Action: registry.ActionAdd, WorkloadUUID: w.UUID})
		go func() {
			if err := <-done; err != nil {
				a.log.Warn("startup reconciliation failed", "uuid", w.UUID, "error", err)
			}
		}()
	}
}

func (a *Agent) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownGrace())
	defer cancel()

	if err := a.local.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("local api shutdown error", "error", err)
	}
	a.core.Stop()
	a.brk.StopServer()
	a.pool.Close()
	if err := a.reg.Close(); err != nil {
		a.log.Warn("registry close error", "error", err)
	}
	a.log.Info("agent shutdown complete")
}

// Reconfigure applies a new routes/workload snapshot from the
// controller (or a local seed reload) to the Routing Core, then wakes
// every workload's control socket so it knows to re-fetch its config.
func (a *Agent) Reconfigure(ctx context.Context, routes []registry.Route, workloadUUIDs []string) {
	a.core.Reconfigure(ctx, routes, workloadUUIDs)
	for _, uuid := range workloadUUIDs {
		a.local.NotifyConfigChanged(uuid)
	}
}
