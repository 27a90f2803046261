// Package engine wires the health check components into a single handle.
// It is the only place that owns every component's lifecycle, and it owns
// the sole process-wide mutable state: the epoch pointer used for hot
// configuration reload.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/dualpath/healthengine/internal/api"
	"github.com/dualpath/healthengine/internal/breaker"
	"github.com/dualpath/healthengine/internal/config"
	"github.com/dualpath/healthengine/internal/events"
	"github.com/dualpath/healthengine/internal/healthcheck"
	"github.com/dualpath/healthengine/internal/metricsstore"
	"github.com/dualpath/healthengine/internal/probe"
	"github.com/dualpath/healthengine/internal/scheduler"
	"github.com/dualpath/healthengine/internal/telemetry"
)

// Options controls the engine's component sizing, independent of the
// per-server ServerConfig document.
type Options struct {
	ListenAddr       string
	ProbeIdleTimeout time.Duration
	ResponseRingSize int
	InstanceID       string
}

// DefaultOptions returns sane defaults for a standalone process.
func DefaultOptions() Options {
	return Options{
		ListenAddr:       ":8090",
		ProbeIdleTimeout: 90 * time.Second,
		ResponseRingSize: config.DefaultResponseTimeRingSize,
		InstanceID:       "healthengine",
	}
}

// Engine owns every component instance: the epoch holder, the breaker, the
// metrics store, the health check service, the scheduler, and the Read API
// server. Tests instantiate a fresh Engine rather than reaching through
// package-level singletons.
type Engine struct {
	Epoch   *config.EpochHolder
	Breaker *breaker.Breaker
	Store   *metricsstore.Store
	Service *healthcheck.Service
	Sched   *scheduler.Scheduler
	API     *api.Server

	opts Options
}

// New constructs an Engine from an initial, already-normalized
// EngineConfig. It does not start any background goroutine or listener;
// call Start for that.
func New(cfg config.EngineConfig, opts Options) *Engine {
	epoch := config.NewEpochHolder(cfg)
	b := breaker.New()
	store := metricsstore.New(cfg.RetentionWindow, cfg.JanitorCadence, opts.ResponseRingSize)

	protocolClient := probe.NewProtocolClient(opts.ProbeIdleTimeout)
	restClient := probe.NewRESTClient(opts.ProbeIdleTimeout)

	svc := healthcheck.New(b, store, protocolClient, restClient, cfg.MaxConcurrentChecks)
	sched := scheduler.New(epoch, svc, config.DefaultSchedulerQueueSize, cfg.MaxConcurrentChecks)
	apiServer := api.NewServer(opts.ListenAddr, svc, b, store, epoch)

	return &Engine{
		Epoch:   epoch,
		Breaker: b,
		Store:   store,
		Service: svc,
		Sched:   sched,
		API:     apiServer,
		opts:    opts,
	}
}

// Start begins background work: the metrics janitor, the scheduler's
// driver/worker goroutines, and the Read API listener.
func (e *Engine) Start() error {
	e.Store.Start()
	e.Sched.Start()
	if err := e.API.Start(); err != nil {
		e.Sched.Stop()
		e.Store.Stop()
		return fmt.Errorf("engine: starting api server: %w", err)
	}
	return nil
}

// Shutdown stops every background component, in the reverse order Start
// brought them up.
func (e *Engine) Shutdown(ctx context.Context) error {
	err := e.API.Shutdown(ctx)
	e.Sched.Stop()
	e.Store.Stop()
	return err
}

// Reload atomically swaps in a new configuration document. Outstanding probes complete against the epoch they started
// with; the next scheduler tick picks up the new document.
func (e *Engine) Reload(cfg config.EngineConfig) (*config.Epoch, error) {
	normalized, err := cfg.Normalize()
	if err != nil {
		return nil, fmt.Errorf("engine: reload: %w", err)
	}
	next := e.Epoch.Swap(normalized)
	events.GetGlobalEventLogger().LogConfigReload(next.Seq, len(normalized.Servers))
	return next, nil
}
