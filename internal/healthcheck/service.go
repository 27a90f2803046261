// Package healthcheck implements the Health Check Service: the
// orchestrator that runs one dual-path check cycle for a server, consulting
// the circuit breaker for admission, dispatching probes concurrently, and
// publishing the combined result.
package healthcheck

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dualpath/healthengine/internal/aggregate"
	"github.com/dualpath/healthengine/internal/breaker"
	"github.com/dualpath/healthengine/internal/classify"
	"github.com/dualpath/healthengine/internal/config"
	"github.com/dualpath/healthengine/internal/events"
	"github.com/dualpath/healthengine/internal/metricsstore"
	"github.com/dualpath/healthengine/internal/probe"
	"github.com/dualpath/healthengine/internal/telemetry"
)

// Service orchestrates dual-path checks across all configured servers. It
// owns the shared Breaker and Store instances and enforces the service-wide
// and per-server concurrency limits.
type Service struct {
	Breaker  *breaker.Breaker
	Store    *metricsstore.Store
	Protocol probe.Client
	REST     probe.Client

	Logger  *events.EventLogger
	Metrics *telemetry.Metrics
	Tracer  *telemetry.Tracer

	sem chan struct{}

	inflightMu sync.Mutex
	inflight   map[string]bool

	latestMu sync.RWMutex
	latest   map[string]aggregate.DualResult

	lastOverwrites atomic.Int64
}

// New builds a Service. maxConcurrent bounds the number of checks running
// across all servers at once; excess check attempts are skipped,
// not queued, matching the per-server concurrency=1 policy.
func New(b *breaker.Breaker, store *metricsstore.Store, protocolClient, restClient probe.Client, maxConcurrent int) *Service {
	if maxConcurrent <= 0 {
		maxConcurrent = config.DefaultMaxConcurrentPerSrv
	}
	return &Service{
		Breaker:  b,
		Store:    store,
		Protocol: protocolClient,
		REST:     restClient,
		Logger:   events.GetGlobalEventLogger(),
		Metrics:  telemetry.GetGlobalMetrics(),
		Tracer:   telemetry.GetGlobalTracer(),
		sem:      make(chan struct{}, maxConcurrent),
		inflight: make(map[string]bool),
		latest:   make(map[string]aggregate.DualResult),
	}
}

// tryAcquire implements the skip-not-queue admission rule: a server already
// running a check is skipped, and a check that would exceed the service-wide
// concurrency budget is also skipped.
func (s *Service) tryAcquire(serverName string) bool {
	s.inflightMu.Lock()
	if s.inflight[serverName] {
		s.inflightMu.Unlock()
		return false
	}
	select {
	case s.sem <- struct{}{}:
		s.inflight[serverName] = true
		s.inflightMu.Unlock()
		return true
	default:
		s.inflightMu.Unlock()
		return false
	}
}

func (s *Service) release(serverName string) {
	s.inflightMu.Lock()
	delete(s.inflight, serverName)
	s.inflightMu.Unlock()
	<-s.sem
}

// RunCheck executes one dual-path check cycle for cfg. The bool return
// reports whether the check actually ran; false means it was skipped
// because the server already had a check in flight or the service-wide
// concurrency budget was exhausted.
func (s *Service) RunCheck(ctx context.Context, cfg config.ServerConfig) (aggregate.DualResult, bool) {
	if !s.tryAcquire(cfg.Name) {
		s.Logger.LogSchedulerDrop(cfg.Name, len(s.sem))
		return aggregate.DualResult{}, false
	}
	defer s.release(cfg.Name)

	ctx, span := s.Tracer.StartCheckSpan(ctx, cfg.Name)
	defer span.End()

	var wg sync.WaitGroup
	var protocolOutcome, restOutcome *probe.Outcome

	if cfg.ProtocolEnabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			protocolOutcome = s.runPath(ctx, cfg, config.PathProtocol)
		}()
	}
	if cfg.RESTEnabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			restOutcome = s.runPath(ctx, cfg, config.PathREST)
		}()
	}
	wg.Wait()

	for _, outcome := range []*probe.Outcome{protocolOutcome, restOutcome} {
		if outcome == nil {
			continue
		}
		s.Store.RecordOutcome(*outcome)
		if outcome.Suppressed {
			s.Metrics.RecordSuppressed(ctx, cfg.Name, string(outcome.Path))
			continue
		}
		transition := s.Breaker.RecordOutcome(outcome.Path, cfg, outcome.Success, outcome.ErrorCategory)
		s.Metrics.RecordProbeDuration(ctx, cfg.Name, string(outcome.Path), float64(outcome.DurationMs), outcome.Success)
		if !outcome.Success {
			s.Metrics.RecordError(ctx, cfg.Name, string(outcome.Path), string(outcome.ErrorCategory))
		}
		if transition.Changed() {
			s.Logger.LogCircuitTransition(cfg.Name, string(transition.Path), string(transition.SubFrom), string(transition.SubTo), string(outcome.ErrorCategory))
			s.Metrics.RecordCircuitTransition(ctx, cfg.Name, string(transition.Path), string(transition.SubTo))
			s.Metrics.SetOpenCircuitCount(s.Breaker.CountOpenOverall())
		}
	}

	if overwrites := s.Store.Overwrites(); overwrites > s.lastOverwrites.Load() {
		s.lastOverwrites.Store(overwrites)
		s.Logger.LogMetricsOverwrite(cfg.Name, "response_time", overwrites)
	}

	result := aggregate.Combine(cfg, protocolOutcome, restOutcome)

	s.Store.RecordCheck(cfg.Name, result.ObservedAt, result.CombinedDurationMs, result.HealthScore)
	s.Metrics.RecordCheck(ctx, cfg.Name, string(result.OverallStatus))
	s.Logger.LogCheckCompleted(cfg.Name, string(result.OverallStatus), result.CombinedDurationMs, result.HealthScore)

	s.latestMu.Lock()
	s.latest[cfg.Name] = result
	s.latestMu.Unlock()

	return result, true
}

// runPath consults the breaker for admission, then either dispatches a real
// probe or synthesizes a suppressed CIRCUIT_OPEN outcome.
func (s *Service) runPath(ctx context.Context, cfg config.ServerConfig, path config.Path) *probe.Outcome {
	decision := s.Breaker.Allow(path, cfg)
	if decision == breaker.Deny {
		return &probe.Outcome{
			ServerName:    cfg.Name,
			Path:          path,
			StartedAt:     time.Now(),
			Success:       false,
			ErrorCategory: classify.CategoryCircuitOpen,
			ErrorMessage:  "circuit open: probe suppressed",
			Suppressed:    true,
		}
	}

	ctx, span := s.Tracer.StartProbeSpan(ctx, telemetry.ProbeSpanOptions{Server: cfg.Name, Path: string(path)})
	defer span.End()

	pc := s.probeContext(ctx, cfg, path)
	var outcome probe.Outcome
	if path == config.PathProtocol {
		outcome = s.Protocol.Probe(pc)
	} else {
		outcome = s.REST.Probe(pc)
	}

	if !outcome.Success {
		telemetry.RecordError(span, &classify.OperationError{Category: outcome.ErrorCategory, Message: outcome.ErrorMessage}, string(outcome.ErrorCategory), classify.PolicyFor(outcome.ErrorCategory).Retryable)
	}

	return &outcome
}

func (s *Service) probeContext(ctx context.Context, cfg config.ServerConfig, path config.Path) probe.ProbeContext {
	if path == config.PathProtocol {
		return probe.ProbeContext{
			Ctx:           ctx,
			ServerName:    cfg.Name,
			Endpoint:      cfg.ProtocolEndpoint,
			AuthHeaders:   cfg.AuthHeaders,
			Timeout:       cfg.ProtocolTimeout,
			MaxRetries:    cfg.ProtocolRetries,
			ExpectedTools: cfg.ExpectedTools,
		}
	}
	return probe.ProbeContext{
		Ctx:                 ctx,
		ServerName:          cfg.Name,
		Endpoint:            cfg.RESTEndpoint,
		AuthHeaders:         cfg.AuthHeaders,
		Timeout:             cfg.RESTTimeout,
		MaxRetries:          cfg.RESTRetries,
		ExpectedStatusCodes: cfg.RESTExpectedStatusCodes,
	}
}

// Latest returns the most recently published DualResult for a server.
func (s *Service) Latest(serverName string) (aggregate.DualResult, bool) {
	s.latestMu.RLock()
	defer s.latestMu.RUnlock()
	r, ok := s.latest[serverName]
	return r, ok
}

// AllLatest returns a copy of every server's most recently published
// DualResult.
func (s *Service) AllLatest() map[string]aggregate.DualResult {
	s.latestMu.RLock()
	defer s.latestMu.RUnlock()
	out := make(map[string]aggregate.DualResult, len(s.latest))
	for k, v := range s.latest {
		out[k] = v
	}
	return out
}
