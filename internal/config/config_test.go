package config

import (
	"testing"
	"time"
)

func validServer(name string) ServerConfig {
	return ServerConfig{
		Name:            name,
		ProtocolEnabled: true,
		ProtocolTimeout: 1,
		RESTEnabled:     true,
		RESTTimeout:     1,
	}
}

func TestValidateRejectsEmptyName(t *testing.T) {
	s := validServer("")
	if err := s.Validate(); err == nil {
		t.Fatal("expected error for empty name")
	}
}

func TestValidateRejectsNeitherPathEnabled(t *testing.T) {
	s := validServer("srv")
	s.ProtocolEnabled = false
	s.RESTEnabled = false
	if err := s.Validate(); err == nil {
		t.Fatal("expected error when neither path is enabled")
	}
}

func TestValidateRejectsNegativeWeights(t *testing.T) {
	s := validServer("srv")
	s.WeightProtocol = -1
	if err := s.Validate(); err == nil {
		t.Fatal("expected error for a negative weight")
	}
}

func TestValidateRejectsEnabledPathWithZeroTimeout(t *testing.T) {
	s := validServer("srv")
	s.ProtocolTimeout = 0
	if err := s.Validate(); err == nil {
		t.Fatal("expected error for an enabled path with zero timeout")
	}
}

func TestWithDefaultsFillsEqualWeights(t *testing.T) {
	s := ServerConfig{Name: "srv"}
	s = s.WithDefaults()
	if s.WeightProtocol != DefaultWeightProtocol || s.WeightREST != DefaultWeightREST {
		t.Fatalf("expected default equal weights, got protocol=%v rest=%v", s.WeightProtocol, s.WeightREST)
	}
}

func TestWithDefaultsPreservesExplicitWeights(t *testing.T) {
	s := ServerConfig{Name: "srv", WeightProtocol: 3, WeightREST: 0}
	s = s.WithDefaults()
	if s.WeightProtocol != 3 || s.WeightREST != 0 {
		t.Fatalf("expected explicit weights preserved, got protocol=%v rest=%v", s.WeightProtocol, s.WeightREST)
	}
}

func TestNormalizeAppliesGlobalDefaults(t *testing.T) {
	cfg := EngineConfig{Servers: []ServerConfig{validServer("a")}}
	normalized, err := cfg.Normalize()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if normalized.CheckIntervalMs != DefaultCheckIntervalMs {
		t.Fatalf("expected default check interval, got %d", normalized.CheckIntervalMs)
	}
	if normalized.MaxConcurrentChecks != 2 {
		t.Fatalf("expected MaxConcurrentChecks=2*len(servers)=2, got %d", normalized.MaxConcurrentChecks)
	}
}

func TestNormalizePropagatesFirstValidationError(t *testing.T) {
	cfg := EngineConfig{Servers: []ServerConfig{validServer("a"), {Name: ""}}}
	if _, err := cfg.Normalize(); err == nil {
		t.Fatal("expected normalize to surface the second server's validation error")
	}
}

func TestIntervalHonorsPerServerOverride(t *testing.T) {
	cfg := EngineConfig{CheckIntervalMs: 30000}
	s := validServer("srv")
	if got := cfg.Interval(s); got.Milliseconds() != 30000 {
		t.Fatalf("expected global interval 30000ms, got %v", got)
	}
	s.CheckIntervalOverride = 5000 * time.Millisecond
	if got := cfg.Interval(s); got.Milliseconds() != 5000 {
		t.Fatalf("expected overridden interval 5000ms, got %v", got)
	}
}

func TestServerByName(t *testing.T) {
	cfg := EngineConfig{Servers: []ServerConfig{validServer("a"), validServer("b")}}
	if _, ok := cfg.ServerByName("a"); !ok {
		t.Fatal("expected to find server a")
	}
	if _, ok := cfg.ServerByName("missing"); ok {
		t.Fatal("expected not to find a nonexistent server")
	}
}
