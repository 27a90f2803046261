// Package aggregate implements the Result Aggregator: a pure
// function combining up to two ProbeOutcomes into one DualResult.
package aggregate

import (
	"time"

	"github.com/dualpath/healthengine/internal/config"
	"github.com/dualpath/healthengine/internal/probe"
)

// Status is the tri-state (plus UNKNOWN) verdict.
type Status string

const (
	StatusHealthy   Status = "HEALTHY"
	StatusDegraded  Status = "DEGRADED"
	StatusUnhealthy Status = "UNHEALTHY"
	StatusUnknown   Status = "UNKNOWN"
)

// DualResult is one logical check's combined outcome.
type DualResult struct {
	ServerName string
	ObservedAt time.Time

	ProtocolOutcome *probe.Outcome
	RESTOutcome     *probe.Outcome

	OverallStatus      Status
	OverallSuccess     bool
	CombinedDurationMs int64
	HealthScore        float64
	AvailablePaths     []config.Path
}

// Combine applies the status-determination table and health-score formula.
// Either outcome may be nil if that path is disabled. Combine never
// mutates its inputs and never mutates CircuitState.
func Combine(cfg config.ServerConfig, protocolOutcome, restOutcome *probe.Outcome) DualResult {
	result := DualResult{
		ServerName:      cfg.Name,
		ObservedAt:      time.Now(),
		ProtocolOutcome: protocolOutcome,
		RESTOutcome:     restOutcome,
	}

	protocolSucceeded := cfg.ProtocolEnabled && protocolOutcome != nil && protocolOutcome.Success
	restSucceeded := cfg.RESTEnabled && restOutcome != nil && restOutcome.Success

	if protocolSucceeded {
		result.AvailablePaths = append(result.AvailablePaths, config.PathProtocol)
	}
	if restSucceeded {
		result.AvailablePaths = append(result.AvailablePaths, config.PathREST)
	}

	result.OverallStatus = status(cfg, protocolSucceeded, restSucceeded)
	result.OverallSuccess = result.OverallStatus == StatusHealthy

	wp, wr := weightOf(cfg.ProtocolEnabled, cfg.WeightProtocol), weightOf(cfg.RESTEnabled, cfg.WeightREST)
	result.HealthScore = healthScore(wp, wr, protocolSucceeded, restSucceeded)

	result.CombinedDurationMs = maxDuration(cfg, protocolOutcome, restOutcome)

	return result
}

func status(cfg config.ServerConfig, protocolSucceeded, restSucceeded bool) Status {
	if !cfg.ProtocolEnabled && !cfg.RESTEnabled {
		return StatusUnknown
	}
	if cfg.RequireBothSuccess {
		protocolOK := !cfg.ProtocolEnabled || protocolSucceeded
		restOK := !cfg.RESTEnabled || restSucceeded
		if !protocolOK || !restOK {
			return StatusUnhealthy
		}
	}
	switch {
	case (cfg.ProtocolEnabled == protocolSucceeded) && (cfg.RESTEnabled == restSucceeded) && (cfg.ProtocolEnabled || cfg.RESTEnabled):
		return StatusHealthy
	case protocolSucceeded != restSucceeded:
		return StatusDegraded
	default:
		return StatusUnhealthy
	}
}

func weightOf(enabled bool, weight float64) float64 {
	if !enabled {
		return 0
	}
	return weight
}

func healthScore(wp, wr float64, protocolSucceeded, restSucceeded bool) float64 {
	total := wp + wr
	if total == 0 {
		return 0
	}
	sp, sr := 0.0, 0.0
	if protocolSucceeded {
		sp = 1.0
	}
	if restSucceeded {
		sr = 1.0
	}
	return (wp*sp + wr*sr) / total
}

func maxDuration(cfg config.ServerConfig, protocolOutcome, restOutcome *probe.Outcome) int64 {
	var max int64
	if cfg.ProtocolEnabled && protocolOutcome != nil && protocolOutcome.DurationMs > max {
		max = protocolOutcome.DurationMs
	}
	if cfg.RESTEnabled && restOutcome != nil && restOutcome.DurationMs > max {
		max = restOutcome.DurationMs
	}
	return max
}
