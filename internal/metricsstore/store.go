// Package metricsstore implements the Metrics Store:
// time-windowed per-server, per-path counters and percentile series.
package metricsstore

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/dualpath/healthengine/internal/classify"
	"github.com/dualpath/healthengine/internal/config"
	"github.com/dualpath/healthengine/internal/probe"
)

// Window is a query time window.
type Window string

const (
	WindowLast1m  Window = "LAST_1M"
	WindowLast5m  Window = "LAST_5M"
	WindowLast1h  Window = "LAST_1H"
	WindowLast24h Window = "LAST_24H"
)

// Duration returns the lookback duration for a window.
func (w Window) Duration() time.Duration {
	switch w {
	case WindowLast1m:
		return time.Minute
	case WindowLast5m:
		return 5 * time.Minute
	case WindowLast24h:
		return 24 * time.Hour
	default:
		return time.Hour
	}
}

// pathMetrics is the per-(server,path) counter set. Lifetime
// totals are kept for diagnostics; windowed queries (Query) are answered
// from events, a timestamped ring of every recorded outcome, so
// success_rate and the error/status/tool distributions are genuinely
// restricted to the query window.
type pathMetrics struct {
	mu sync.Mutex

	totalAttempts int64
	successes     int64
	failures      int64
	suppressed    int64
	errorCounts   map[classify.Category]int64

	responseTimes *ring
	events        *eventRing

	statusCodes map[int]int64 // REST only

	toolsReturnedTotal int64 // PROTOCOL only
	toolsMissingTotal  int64 // PROTOCOL only
}

func newPathMetrics(responseRingSize int) *pathMetrics {
	return &pathMetrics{
		errorCounts:   make(map[classify.Category]int64),
		responseTimes: newRing(responseRingSize),
		events:        newEventRing(responseRingSize),
		statusCodes:   make(map[int]int64),
	}
}

// serverMetrics is the per-server aggregate: both paths plus the combined
// duration and rolling health-score series.
type serverMetrics struct {
	protocol *pathMetrics
	rest     *pathMetrics

	mu               sync.Mutex
	combinedDuration *ring
	healthScore      *ring
}

// Store is the Metrics Store component.
type Store struct {
	mu               sync.RWMutex
	servers          map[string]*serverMetrics
	responseRingSize int
	overwrites       int64 // metrics_overwrites, aggregate across all rings

	retention time.Duration
	cadence   time.Duration

	stopCh   chan struct{}
	stoppedCh chan struct{}
	running  bool
	runMu    sync.Mutex
}

// New creates a Store with the given retention window and janitor cadence.
func New(retention, cadence time.Duration, responseRingSize int) *Store {
	if responseRingSize <= 0 {
		responseRingSize = config.DefaultResponseTimeRingSize
	}
	return &Store{
		servers:          make(map[string]*serverMetrics),
		responseRingSize: responseRingSize,
		retention:        retention,
		cadence:          cadence,
	}
}

func (s *Store) serverFor(name string) *serverMetrics {
	s.mu.RLock()
	sm, ok := s.servers[name]
	s.mu.RUnlock()
	if ok {
		return sm
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sm, ok := s.servers[name]; ok {
		return sm
	}
	sm = &serverMetrics{
		protocol:         newPathMetrics(s.responseRingSize),
		rest:             newPathMetrics(s.responseRingSize),
		combinedDuration: newRing(s.responseRingSize),
		healthScore:      newRing(s.responseRingSize),
	}
	s.servers[name] = sm
	return sm
}

func (sm *serverMetrics) pathMetrics(path config.Path) *pathMetrics {
	if path == config.PathProtocol {
		return sm.protocol
	}
	return sm.rest
}

// RecordOutcome appends one ProbeOutcome's statistics. Suppressed outcomes
// (breaker denials) increment only the suppressed counter, never
// total_attempts/successes/failures.
func (s *Store) RecordOutcome(o probe.Outcome) {
	sm := s.serverFor(o.ServerName)
	pm := sm.pathMetrics(o.Path)

	pm.mu.Lock()
	defer pm.mu.Unlock()

	event := outcomeEvent{at: o.StartedAt, success: o.Success, suppressed: o.Suppressed}

	if o.Suppressed {
		pm.suppressed++
		beforeE := pm.events.overwrites
		pm.events.push(event)
		if pm.events.overwrites > beforeE {
			atomic.AddInt64(&s.overwrites, 1)
		}
		return
	}

	pm.totalAttempts++
	if o.Success {
		pm.successes++
	} else {
		pm.failures++
		if o.ErrorCategory != classify.CategoryNone {
			pm.errorCounts[o.ErrorCategory]++
			event.category = o.ErrorCategory
			event.hasCategory = true
		}
	}

	before := pm.responseTimes.overwrites
	pm.responseTimes.push(o.StartedAt, float64(o.DurationMs))
	if pm.responseTimes.overwrites > before {
		atomic.AddInt64(&s.overwrites, 1)
	}

	if o.Path == config.PathREST && o.REST != nil {
		pm.statusCodes[o.REST.StatusCode]++
		event.hasStatus = true
		event.statusCode = o.REST.StatusCode
	}
	if o.Path == config.PathProtocol && o.Protocol != nil {
		pm.toolsReturnedTotal += int64(len(o.Protocol.ToolsReturned))
		pm.toolsMissingTotal += int64(len(o.Protocol.MissingTools))
		event.toolsReturned = len(o.Protocol.ToolsReturned)
		event.toolsMissing = len(o.Protocol.MissingTools)
	}

	beforeE := pm.events.overwrites
	pm.events.push(event)
	if pm.events.overwrites > beforeE {
		atomic.AddInt64(&s.overwrites, 1)
	}
}

// RecordCheck appends the combined-duration and health-score samples for
// one completed check.
func (s *Store) RecordCheck(serverName string, at time.Time, combinedDurationMs int64, healthScore float64) {
	sm := s.serverFor(serverName)
	sm.mu.Lock()
	defer sm.mu.Unlock()

	beforeD := sm.combinedDuration.overwrites
	sm.combinedDuration.push(at, float64(combinedDurationMs))
	if sm.combinedDuration.overwrites > beforeD {
		atomic.AddInt64(&s.overwrites, 1)
	}

	beforeH := sm.healthScore.overwrites
	sm.healthScore.push(at, healthScore)
	if sm.healthScore.overwrites > beforeH {
		atomic.AddInt64(&s.overwrites, 1)
	}
}

// Overwrites returns the aggregate metrics_overwrites counter.
func (s *Store) Overwrites() int64 {
	return atomic.LoadInt64(&s.overwrites)
}

// Servers returns the names of all servers with recorded metrics.
func (s *Store) Servers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.servers))
	for name := range s.servers {
		names = append(names, name)
	}
	return names
}

// PathSeries is the windowed query result for one (server,path).
type PathSeries struct {
	TotalAttempts     int64
	Successes         int64
	Failures          int64
	Suppressed        int64
	SuccessRate       float64
	AvgResponseTimeMs float64
	P50               float64
	P95               float64
	P99               float64
	ErrorCounts       map[classify.Category]int64
	StatusCodes       map[int]int64 // REST only
	ToolsReturnedTotal int64        // PROTOCOL only
	ToolsMissingTotal  int64        // PROTOCOL only
}

// CheckSeries is the windowed query result for a server's combined checks.
type CheckSeries struct {
	AvgCombinedDurationMs float64
	AvgHealthScore        float64
}

// Query returns the windowed statistics for one (server,path). Every
// counter — total_attempts, successes, failures, suppressed, the
// error/status/tool distributions, and the response-time percentiles — is
// restricted to events whose timestamp falls in the window W:
// `success_rate = successes_W / max(1, total_attempts_W)`. A narrower
// window is always a subset of a wider one, so successes_W1 <= successes_W2
// whenever W1 is contained in W2.
func (s *Store) Query(serverName string, path config.Path, w Window, now time.Time) PathSeries {
	sm := s.serverFor(serverName)
	pm := sm.pathMetrics(path)

	pm.mu.Lock()
	defer pm.mu.Unlock()

	cutoff := now.Add(-w.Duration())
	events := pm.events.since(cutoff)

	out := PathSeries{
		ErrorCounts: make(map[classify.Category]int64),
	}
	if path == config.PathREST {
		out.StatusCodes = make(map[int]int64)
	}

	for _, e := range events {
		if e.suppressed {
			out.Suppressed++
			continue
		}
		out.TotalAttempts++
		if e.success {
			out.Successes++
		} else {
			out.Failures++
			if e.hasCategory {
				out.ErrorCounts[e.category]++
			}
		}
		if path == config.PathREST && e.hasStatus {
			out.StatusCodes[e.statusCode]++
		}
		if path == config.PathProtocol {
			out.ToolsReturnedTotal += int64(e.toolsReturned)
			out.ToolsMissingTotal += int64(e.toolsMissing)
		}
	}
	if out.TotalAttempts > 0 {
		out.SuccessRate = float64(out.Successes) / float64(out.TotalAttempts)
	}

	samples := pm.responseTimes.since(cutoff)
	if len(samples) == 0 {
		return out
	}
	values := make([]float64, len(samples))
	var sum float64
	for i, sm := range samples {
		values[i] = sm.value
		sum += sm.value
	}
	out.AvgResponseTimeMs = sum / float64(len(values))
	out.P50 = percentile(values, 50)
	out.P95 = percentile(values, 95)
	out.P99 = percentile(values, 99)
	return out
}

// QueryChecks returns the windowed combined-duration/health-score averages
// for a server.
func (s *Store) QueryChecks(serverName string, w Window, now time.Time) CheckSeries {
	sm := s.serverFor(serverName)
	sm.mu.Lock()
	defer sm.mu.Unlock()

	cutoff := now.Add(-w.Duration())
	durationSamples := sm.combinedDuration.since(cutoff)
	scoreSamples := sm.healthScore.since(cutoff)

	var out CheckSeries
	if len(durationSamples) > 0 {
		var sum float64
		for _, s := range durationSamples {
			sum += s.value
		}
		out.AvgCombinedDurationMs = sum / float64(len(durationSamples))
	}
	if len(scoreSamples) > 0 {
		var sum float64
		for _, s := range scoreSamples {
			sum += s.value
		}
		out.AvgHealthScore = sum / float64(len(scoreSamples))
	}
	return out
}


// Start launches the background janitor goroutine, trimming samples older
// than the retention window from every tracked ring at the configured
// cadence. Idempotent, guarded by stopCh/stoppedCh.
func (s *Store) Start() {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.running {
		return
	}
	s.stopCh = make(chan struct{})
	s.stoppedCh = make(chan struct{})
	s.running = true

	go s.janitorLoop(s.stopCh, s.stoppedCh)
}

// Stop halts the janitor goroutine and waits for it to exit. Idempotent.
func (s *Store) Stop() {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if !s.running {
		return
	}
	close(s.stopCh)
	<-s.stoppedCh
	s.running = false
}

func (s *Store) janitorLoop(stopCh, stoppedCh chan struct{}) {
	defer close(stoppedCh)

	ticker := time.NewTicker(s.cadence)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			s.collectGarbage()
		}
	}
}

func (s *Store) collectGarbage() {
	cutoff := time.Now().Add(-s.retention)

	s.mu.RLock()
	servers := make([]*serverMetrics, 0, len(s.servers))
	for _, sm := range s.servers {
		servers = append(servers, sm)
	}
	s.mu.RUnlock()

	for _, sm := range servers {
		sm.protocol.mu.Lock()
		sm.protocol.responseTimes.dropOlderThan(cutoff)
		sm.protocol.events.dropOlderThan(cutoff)
		sm.protocol.mu.Unlock()

		sm.rest.mu.Lock()
		sm.rest.responseTimes.dropOlderThan(cutoff)
		sm.rest.events.dropOlderThan(cutoff)
		sm.rest.mu.Unlock()

		sm.mu.Lock()
		sm.combinedDuration.dropOlderThan(cutoff)
		sm.healthScore.dropOlderThan(cutoff)
		sm.mu.Unlock()
	}
}
