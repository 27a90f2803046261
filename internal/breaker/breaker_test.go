package breaker

import (
	"testing"
	"time"

	"github.com/dualpath/healthengine/internal/classify"
	"github.com/dualpath/healthengine/internal/config"
)

func testConfig() config.ServerConfig {
	return config.ServerConfig{
		Name:            "srv",
		ProtocolEnabled: true,
		RESTEnabled:     true,
		Circuit: config.CircuitDefaults{
			FailureThreshold:    3,
			SuccessThreshold:    2,
			OpenTimeout:         20 * time.Millisecond,
			HalfOpenMaxInflight: 1,
			FailureHistorySize:  5,
		},
	}
}

func TestAllowStartsClosed(t *testing.T) {
	b := New()
	cfg := testConfig()
	if d := b.Allow(config.PathProtocol, cfg); d != Allow {
		t.Fatalf("expected ALLOW for a fresh breaker, got %v", d)
	}
}

func TestRecordOutcomeOpensAfterThreshold(t *testing.T) {
	b := New()
	cfg := testConfig()

	var last Transition
	for i := 0; i < cfg.Circuit.FailureThreshold; i++ {
		last = b.RecordOutcome(config.PathProtocol, cfg, false, classify.CategoryNetworkTimeout)
	}

	if last.SubTo != SubStateOpen {
		t.Fatalf("expected SubStateOpen after %d failures, got %v", cfg.Circuit.FailureThreshold, last.SubTo)
	}
	if d := b.Allow(config.PathProtocol, cfg); d != Deny {
		t.Fatalf("expected DENY once open, got %v", d)
	}
}

func TestAllowTransitionsToHalfOpenAfterTimeout(t *testing.T) {
	b := New()
	cfg := testConfig()

	for i := 0; i < cfg.Circuit.FailureThreshold; i++ {
		b.RecordOutcome(config.PathProtocol, cfg, false, classify.CategoryNetworkTimeout)
	}

	time.Sleep(cfg.Circuit.OpenTimeout + 5*time.Millisecond)

	if d := b.Allow(config.PathProtocol, cfg); d != AllowTrial {
		t.Fatalf("expected ALLOW_TRIAL once the open timeout elapses, got %v", d)
	}
	if d := b.Allow(config.PathProtocol, cfg); d != Deny {
		t.Fatalf("expected a second concurrent trial to be denied (HalfOpenMaxInflight=1), got %v", d)
	}
}

func TestRecordOutcomeClosesAfterSuccessThresholdInHalfOpen(t *testing.T) {
	b := New()
	cfg := testConfig()

	for i := 0; i < cfg.Circuit.FailureThreshold; i++ {
		b.RecordOutcome(config.PathProtocol, cfg, false, classify.CategoryNetworkTimeout)
	}
	time.Sleep(cfg.Circuit.OpenTimeout + 5*time.Millisecond)
	b.Allow(config.PathProtocol, cfg) // admit one trial, moves state to HALF_OPEN

	var last Transition
	for i := 0; i < cfg.Circuit.SuccessThreshold; i++ {
		last = b.RecordOutcome(config.PathProtocol, cfg, true, classify.CategoryNone)
	}

	if last.SubTo != SubStateClosed {
		t.Fatalf("expected SubStateClosed after success threshold in half-open, got %v", last.SubTo)
	}
}

func TestRecordOutcomeHalfOpenFailureReopens(t *testing.T) {
	b := New()
	cfg := testConfig()

	for i := 0; i < cfg.Circuit.FailureThreshold; i++ {
		b.RecordOutcome(config.PathProtocol, cfg, false, classify.CategoryNetworkTimeout)
	}
	time.Sleep(cfg.Circuit.OpenTimeout + 5*time.Millisecond)
	b.Allow(config.PathProtocol, cfg)

	last := b.RecordOutcome(config.PathProtocol, cfg, false, classify.CategoryNetworkTimeout)
	if last.SubTo != SubStateOpen {
		t.Fatalf("expected a half-open failure to reopen the circuit, got %v", last.SubTo)
	}
}

func TestRecordOutcomeNonCountingCategoryIsNoop(t *testing.T) {
	b := New()
	cfg := testConfig()
	before := b.Snapshot(cfg)
	last := b.RecordOutcome(config.PathProtocol, cfg, false, classify.CategoryCircuitOpen)
	if last.Changed() {
		t.Fatalf("expected a suppressed CIRCUIT_OPEN outcome to never mutate state, got transition %+v", last)
	}
	after := b.Snapshot(cfg)
	if before.Protocol.State != after.Protocol.State {
		t.Fatalf("expected state unchanged, before=%v after=%v", before.Protocol.State, after.Protocol.State)
	}
}

func TestOverallStateBothClosedIsClosed(t *testing.T) {
	b := New()
	cfg := testConfig()
	snap := b.Snapshot(cfg)
	if snap.Overall != OverallClosed {
		t.Fatalf("expected OverallClosed for a fresh breaker, got %v", snap.Overall)
	}
}

func TestOverallStateOneOpenOneClosedIsPathOnly(t *testing.T) {
	b := New()
	cfg := testConfig()
	for i := 0; i < cfg.Circuit.FailureThreshold; i++ {
		b.RecordOutcome(config.PathREST, cfg, false, classify.CategoryNetworkTimeout)
	}
	snap := b.Snapshot(cfg)
	if snap.Overall != OverallProtocolOnly {
		t.Fatalf("expected PROTOCOL_ONLY when REST is open and PROTOCOL is closed, got %v", snap.Overall)
	}
}

func TestDisabledPathTreatedAsOpenForComposition(t *testing.T) {
	b := New()
	cfg := testConfig()
	cfg.RESTEnabled = false
	snap := b.Snapshot(cfg)
	if snap.REST.State != SubStateDisabled {
		t.Fatalf("expected the disabled path reported as DISABLED, got %v", snap.REST.State)
	}
	if snap.Overall != OverallProtocolOnly {
		t.Fatalf("expected a disabled REST path to compose as PROTOCOL_ONLY, got %v", snap.Overall)
	}
}

func TestResetForcesClosed(t *testing.T) {
	b := New()
	cfg := testConfig()
	for i := 0; i < cfg.Circuit.FailureThreshold; i++ {
		b.RecordOutcome(config.PathProtocol, cfg, false, classify.CategoryNetworkTimeout)
	}
	snap := b.Reset(cfg, config.PathProtocol, false)
	if snap.Protocol.State != SubStateClosed {
		t.Fatalf("expected PROTOCOL closed after reset, got %v", snap.Protocol.State)
	}
	if snap.Protocol.ConsecutiveFailures != 0 {
		t.Fatalf("expected counters zeroed after reset, got %d", snap.Protocol.ConsecutiveFailures)
	}
}

func TestResetIsIdempotent(t *testing.T) {
	b := New()
	cfg := testConfig()
	first := b.Reset(cfg, config.PathProtocol, true)
	second := b.Reset(cfg, config.PathProtocol, true)
	if first.Overall != second.Overall {
		t.Fatalf("expected resetting an already-closed breaker to observably no-op")
	}
}

func TestCountOpenOverall(t *testing.T) {
	b := New()
	cfg1 := testConfig()
	cfg2 := testConfig()
	cfg2.Name = "srv2"

	for i := 0; i < cfg1.Circuit.FailureThreshold; i++ {
		b.RecordOutcome(config.PathProtocol, cfg1, false, classify.CategoryNetworkTimeout)
		b.RecordOutcome(config.PathREST, cfg1, false, classify.CategoryNetworkTimeout)
	}
	b.Snapshot(cfg2) // registers srv2, stays closed

	if n := b.CountOpenOverall(); n != 1 {
		t.Fatalf("expected exactly one server OPEN, got %d", n)
	}
}
