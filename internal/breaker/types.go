// Package breaker implements the dual-path circuit breaker:
// per-server, per-path failure state machines plus a derived overall
// state used for traffic admission.
package breaker

import (
	"time"

	"github.com/dualpath/healthengine/internal/classify"
	"github.com/dualpath/healthengine/internal/config"
)

// SubState is a single path's circuit state.
type SubState string

const (
	SubStateClosed   SubState = "CLOSED"
	SubStateOpen     SubState = "OPEN"
	SubStateHalfOpen SubState = "HALF_OPEN"
	SubStateDisabled SubState = "DISABLED"
)

// OverallState is the composed, server-wide circuit state.
type OverallState string

const (
	OverallClosed       OverallState = "CLOSED"
	OverallOpen         OverallState = "OPEN"
	OverallHalfOpen     OverallState = "HALF_OPEN"
	OverallProtocolOnly OverallState = "PROTOCOL_ONLY"
	OverallRESTOnly     OverallState = "REST_ONLY"
)

// Decision is the traffic-admission verdict from Allow.
type Decision string

const (
	Allow      Decision = "ALLOW"
	Deny       Decision = "DENY"
	AllowTrial Decision = "ALLOW_TRIAL"
)

// FailureRecord is one entry in a sub-state's bounded failure-history ring.
type FailureRecord struct {
	Timestamp     time.Time
	ErrorCategory classify.Category
}

// PathState is the per-path sub-state machine.
type PathState struct {
	State                SubState
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	OpenedAt             time.Time
	HalfOpenInflight     int

	history     []FailureRecord
	historyHead int
	historyLen  int
}

// History returns a read-only copy of the bounded failure-history ring, in
// insertion order oldest-first. Exposed for future adaptive-threshold
// extensions; nothing in this package reads it back.
func (p *PathState) History() []FailureRecord {
	if len(p.history) == 0 {
		return make([]FailureRecord, 0)
	}
	out := make([]FailureRecord, p.historyLen)
	cap := len(p.history)
	start := (p.historyHead - p.historyLen + cap) % cap
	for i := 0; i < p.historyLen; i++ {
		out[i] = p.history[(start+i)%cap]
	}
	return out
}

func (p *PathState) recordFailure(rec FailureRecord, size int) {
	if cap(p.history) == 0 && len(p.history) == 0 {
		p.history = make([]FailureRecord, size)
	}
	p.history[p.historyHead] = rec
	p.historyHead = (p.historyHead + 1) % len(p.history)
	if p.historyLen < len(p.history) {
		p.historyLen++
	}
}

// CircuitState is the full per-server breaker state.
type CircuitState struct {
	ServerName      string
	Protocol        PathState
	REST            PathState
	Overall         OverallState
	AdvertisedPaths []config.Path
}
