package breaker

import (
	"sync"
	"time"

	"github.com/dualpath/healthengine/internal/classify"
	"github.com/dualpath/healthengine/internal/config"
)

// entry is the per-server breaker state plus the mutex guarding it: a
// top-level map protects membership, each entry owns its own
// fine-grained lock.
type entry struct {
	mu sync.Mutex

	state CircuitState

	protocolEnabled bool
	restEnabled     bool
	protocolCfg     config.CircuitDefaults
	restCfg         config.CircuitDefaults
	relaxedClosed   bool
}

// Breaker is the dual-path circuit breaker, shared across all
// probes for all servers in the current epoch.
type Breaker struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// New creates an empty Breaker.
func New() *Breaker {
	return &Breaker{entries: make(map[string]*entry)}
}

func (b *Breaker) entryFor(cfg config.ServerConfig) *entry {
	b.mu.RLock()
	e, ok := b.entries[cfg.Name]
	b.mu.RUnlock()
	if ok {
		return e
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := b.entries[cfg.Name]; ok {
		return e
	}
	e = &entry{
		state: CircuitState{
			ServerName: cfg.Name,
			Protocol:   PathState{State: SubStateClosed},
			REST:       PathState{State: SubStateClosed},
		},
		protocolEnabled: cfg.ProtocolEnabled,
		restEnabled:     cfg.RESTEnabled,
		protocolCfg:     cfg.Circuit,
		restCfg:         cfg.Circuit,
		relaxedClosed:   cfg.RelaxedClosedComposition,
	}
	e.recompose()
	b.entries[cfg.Name] = e
	return e
}

func (e *entry) pathState(path config.Path) *PathState {
	if path == config.PathProtocol {
		return &e.state.Protocol
	}
	return &e.state.REST
}

func (e *entry) pathConfig(path config.Path) config.CircuitDefaults {
	if path == config.PathProtocol {
		return e.protocolCfg
	}
	return e.restCfg
}

func (e *entry) pathEnabled(path config.Path) bool {
	if path == config.PathProtocol {
		return e.protocolEnabled
	}
	return e.restEnabled
}

// Allow reports the admission decision for path on server. Must only be called for enabled paths; the
// Health Check Service skips disabled paths entirely.
func (b *Breaker) Allow(path config.Path, cfg config.ServerConfig) Decision {
	e := b.entryFor(cfg)
	e.mu.Lock()
	defer e.mu.Unlock()

	ps := e.pathState(path)
	pc := e.pathConfig(path)

	if ps.State == SubStateOpen {
		if time.Since(ps.OpenedAt) < pc.OpenTimeout {
			return Deny
		}
		ps.State = SubStateHalfOpen
		ps.HalfOpenInflight = 0
		ps.ConsecutiveSuccesses = 0
	}

	if ps.State == SubStateHalfOpen {
		if ps.HalfOpenInflight >= pc.HalfOpenMaxInflight {
			return Deny
		}
		ps.HalfOpenInflight++
		return AllowTrial
	}

	return Allow
}

// Transition reports a sub-state and/or overall-state change observed by
// one RecordOutcome call, for the caller to log and emit metrics for.
// Zero value (From == To for both fields) means nothing changed.
type Transition struct {
	Path        config.Path
	SubFrom     SubState
	SubTo       SubState
	OverallFrom OverallState
	OverallTo   OverallState
}

// Changed reports whether either the sub-state or the overall state moved.
func (t Transition) Changed() bool {
	return t.SubFrom != t.SubTo || t.OverallFrom != t.OverallTo
}

// RecordOutcome is the sole mutator of CircuitState. It must
// be called exactly once per real (non-suppressed) ProbeOutcome, in
// probe-completion order. It is infallible.
func (b *Breaker) RecordOutcome(path config.Path, cfg config.ServerConfig, success bool, category classify.Category) Transition {
	if !classify.PolicyFor(category).CountsAsFailure && !success {
		return Transition{}
	}

	e := b.entryFor(cfg)
	e.mu.Lock()
	defer e.mu.Unlock()

	ps := e.pathState(path)
	pc := e.pathConfig(path)

	subFrom := ps.State
	overallFrom := e.state.Overall

	switch ps.State {
	case SubStateHalfOpen:
		ps.HalfOpenInflight--
		if ps.HalfOpenInflight < 0 {
			ps.HalfOpenInflight = 0
		}
		if success {
			ps.ConsecutiveSuccesses++
			if ps.ConsecutiveSuccesses >= pc.SuccessThreshold {
				ps.State = SubStateClosed
				ps.ConsecutiveFailures = 0
				ps.ConsecutiveSuccesses = 0
			}
		} else {
			ps.recordFailure(FailureRecord{Timestamp: time.Now(), ErrorCategory: category}, pc.FailureHistorySize)
			ps.State = SubStateOpen
			ps.OpenedAt = time.Now()
			ps.ConsecutiveSuccesses = 0
		}

	case SubStateOpen:
		if !success {
			ps.recordFailure(FailureRecord{Timestamp: time.Now(), ErrorCategory: category}, pc.FailureHistorySize)
		}

	default: // SubStateClosed
		if success {
			ps.ConsecutiveFailures = 0
		} else {
			ps.ConsecutiveSuccesses = 0
			ps.ConsecutiveFailures++
			ps.recordFailure(FailureRecord{Timestamp: time.Now(), ErrorCategory: category}, pc.FailureHistorySize)
			if ps.ConsecutiveFailures >= pc.FailureThreshold {
				ps.State = SubStateOpen
				ps.OpenedAt = time.Now()
			}
		}
	}

	e.recompose()

	return Transition{
		Path:        path,
		SubFrom:     subFrom,
		SubTo:       ps.State,
		OverallFrom: overallFrom,
		OverallTo:   e.state.Overall,
	}
}

// CountOpenOverall returns the number of servers currently registered with
// this breaker whose overall state is OPEN.
func (b *Breaker) CountOpenOverall() int {
	b.mu.RLock()
	entries := make([]*entry, 0, len(b.entries))
	for _, e := range b.entries {
		entries = append(entries, e)
	}
	b.mu.RUnlock()

	n := 0
	for _, e := range entries {
		e.mu.Lock()
		if e.state.Overall == OverallOpen {
			n++
		}
		e.mu.Unlock()
	}
	return n
}

// recompose derives Overall and AdvertisedPaths from the two sub-states.
// Must be called with e.mu held.
func (e *entry) recompose() {
	effProtocol := effectiveState(e.state.Protocol.State, e.protocolEnabled)
	effREST := effectiveState(e.state.REST.State, e.restEnabled)

	overall, advertised := compose(effProtocol, effREST, e.relaxedClosed, e.protocolEnabled, e.restEnabled)
	e.state.Overall = overall
	e.state.AdvertisedPaths = advertised
}

// effectiveState treats a disabled path as OPEN for composition purposes.
func effectiveState(s SubState, enabled bool) SubState {
	if !enabled {
		return SubStateOpen
	}
	return s
}

func compose(protocol, rest SubState, relaxed, protocolEnabled, restEnabled bool) (OverallState, []config.Path) {
	bothClosed := protocol == SubStateClosed && rest == SubStateClosed
	eitherClosed := protocol == SubStateClosed || rest == SubStateClosed
	bothOpen := protocol == SubStateOpen && rest == SubStateOpen
	anyHalfOpen := protocol == SubStateHalfOpen || rest == SubStateHalfOpen

	closedCondition := bothClosed
	if relaxed {
		closedCondition = eitherClosed && !anyHalfOpen
	}

	switch {
	case closedCondition:
		return OverallClosed, closedAdvertised(protocol, rest, protocolEnabled, restEnabled)
	case protocol == SubStateClosed && rest == SubStateOpen:
		return OverallProtocolOnly, []config.Path{config.PathProtocol}
	case protocol == SubStateOpen && rest == SubStateClosed:
		return OverallRESTOnly, []config.Path{config.PathREST}
	case anyHalfOpen:
		return OverallHalfOpen, halfOpenAdvertised(protocol, rest)
	case bothOpen:
		return OverallOpen, nil
	default:
		return OverallOpen, nil
	}
}

func closedAdvertised(protocol, rest SubState, protocolEnabled, restEnabled bool) []config.Path {
	var paths []config.Path
	if protocolEnabled && protocol == SubStateClosed {
		paths = append(paths, config.PathProtocol)
	}
	if restEnabled && rest == SubStateClosed {
		paths = append(paths, config.PathREST)
	}
	return paths
}

func halfOpenAdvertised(protocol, rest SubState) []config.Path {
	var paths []config.Path
	if protocol == SubStateClosed || protocol == SubStateHalfOpen {
		paths = append(paths, config.PathProtocol)
	}
	if rest == SubStateClosed || rest == SubStateHalfOpen {
		paths = append(paths, config.PathREST)
	}
	return paths
}

// Snapshot returns a copy of the current CircuitState for server, with
// disabled paths' State field overridden to SubStateDisabled for reporting.
func (b *Breaker) Snapshot(cfg config.ServerConfig) CircuitState {
	e := b.entryFor(cfg)
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := e.state
	if !e.protocolEnabled {
		snap.Protocol.State = SubStateDisabled
	}
	if !e.restEnabled {
		snap.REST.State = SubStateDisabled
	}
	return snap
}

// Reset forces the given path(s) to CLOSED with counters zeroed.
// Idempotent: resetting an already-closed breaker is a no-op observably.
func (b *Breaker) Reset(cfg config.ServerConfig, path config.Path, both bool) CircuitState {
	e := b.entryFor(cfg)
	e.mu.Lock()
	defer e.mu.Unlock()

	if both || path == config.PathProtocol {
		e.state.Protocol = PathState{State: SubStateClosed}
	}
	if both || path == config.PathREST {
		e.state.REST = PathState{State: SubStateClosed}
	}
	e.recompose()
	return e.state
}
