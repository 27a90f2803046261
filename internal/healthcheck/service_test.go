package healthcheck

import (
	"context"
	"testing"
	"time"

	"github.com/dualpath/healthengine/internal/aggregate"
	"github.com/dualpath/healthengine/internal/breaker"
	"github.com/dualpath/healthengine/internal/classify"
	"github.com/dualpath/healthengine/internal/config"
	"github.com/dualpath/healthengine/internal/metricsstore"
	"github.com/dualpath/healthengine/internal/probe"
)

type scriptedClient struct {
	outcome probe.Outcome
	calls   int
}

func (c *scriptedClient) Probe(pc probe.ProbeContext) probe.Outcome {
	c.calls++
	o := c.outcome
	o.ServerName = pc.ServerName
	return o
}

func dualPathConfig(name string) config.ServerConfig {
	s := config.ServerConfig{
		Name:               name,
		ProtocolEndpoint:   "http://example.invalid/mcp",
		ProtocolEnabled:    true,
		ProtocolTimeout:    time.Second,
		RESTEndpoint:       "http://example.invalid/health",
		RESTEnabled:        true,
		RESTTimeout:        time.Second,
		RESTExpectedStatusCodes: []int{200},
	}
	return s.WithDefaults()
}

func TestRunCheckBothPathsSucceedIsHealthy(t *testing.T) {
	protocol := &scriptedClient{outcome: probe.Outcome{Path: config.PathProtocol, Success: true, DurationMs: 5}}
	rest := &scriptedClient{outcome: probe.Outcome{Path: config.PathREST, Success: true, DurationMs: 7}}

	svc := New(breaker.New(), metricsstore.New(time.Hour, time.Minute, 16), protocol, rest, 4)
	result, ran := svc.RunCheck(context.Background(), dualPathConfig("srv"))

	if !ran {
		t.Fatal("expected the check to run")
	}
	if result.OverallStatus != aggregate.StatusHealthy {
		t.Fatalf("expected HEALTHY, got %v", result.OverallStatus)
	}
	if protocol.calls != 1 || rest.calls != 1 {
		t.Fatalf("expected exactly one call per path, got protocol=%d rest=%d", protocol.calls, rest.calls)
	}
}

func TestRunCheckOnePathFailsIsDegraded(t *testing.T) {
	protocol := &scriptedClient{outcome: probe.Outcome{Path: config.PathProtocol, Success: true, DurationMs: 5}}
	rest := &scriptedClient{outcome: probe.Outcome{Path: config.PathREST, Success: false, ErrorCategory: classify.CategoryNetworkTimeout, DurationMs: 7}}

	svc := New(breaker.New(), metricsstore.New(time.Hour, time.Minute, 16), protocol, rest, 4)
	result, _ := svc.RunCheck(context.Background(), dualPathConfig("srv"))

	if result.OverallStatus != aggregate.StatusDegraded {
		t.Fatalf("expected DEGRADED, got %v", result.OverallStatus)
	}
}

func TestRunCheckPublishesLatest(t *testing.T) {
	protocol := &scriptedClient{outcome: probe.Outcome{Path: config.PathProtocol, Success: true}}
	rest := &scriptedClient{outcome: probe.Outcome{Path: config.PathREST, Success: true}}

	svc := New(breaker.New(), metricsstore.New(time.Hour, time.Minute, 16), protocol, rest, 4)
	if _, ok := svc.Latest("srv"); ok {
		t.Fatal("expected no result before the first check")
	}

	svc.RunCheck(context.Background(), dualPathConfig("srv"))

	got, ok := svc.Latest("srv")
	if !ok {
		t.Fatal("expected a published result after RunCheck")
	}
	if got.ServerName != "srv" {
		t.Fatalf("expected ServerName srv, got %q", got.ServerName)
	}

	all := svc.AllLatest()
	if len(all) != 1 {
		t.Fatalf("expected one entry in AllLatest, got %d", len(all))
	}
}

func TestRunCheckSkipsWhenAlreadyInFlight(t *testing.T) {
	block := make(chan struct{})
	protocol := &blockingClient{release: block}
	rest := &scriptedClient{outcome: probe.Outcome{Path: config.PathREST, Success: true}}

	svc := New(breaker.New(), metricsstore.New(time.Hour, time.Minute, 16), protocol, rest, 4)

	done := make(chan struct{})
	go func() {
		svc.RunCheck(context.Background(), dualPathConfig("srv"))
		close(done)
	}()

	// Give the first check a moment to acquire admission before the second.
	time.Sleep(20 * time.Millisecond)
	_, ran := svc.RunCheck(context.Background(), dualPathConfig("srv"))
	if ran {
		t.Fatal("expected the concurrent check for the same server to be skipped")
	}

	close(block)
	<-done
}

type blockingClient struct {
	release chan struct{}
}

func (c *blockingClient) Probe(pc probe.ProbeContext) probe.Outcome {
	<-c.release
	return probe.Outcome{Path: config.PathProtocol, Success: true}
}

func TestRunCheckDeniedPathIsSuppressedNotCountedAsFailure(t *testing.T) {
	b := breaker.New()
	cfg := dualPathConfig("srv")
	cfg.Circuit.FailureThreshold = 1

	failing := &scriptedClient{outcome: probe.Outcome{Path: config.PathProtocol, Success: false, ErrorCategory: classify.CategoryNetworkTimeout}}
	rest := &scriptedClient{outcome: probe.Outcome{Path: config.PathREST, Success: true}}

	svc := New(b, metricsstore.New(time.Hour, time.Minute, 16), failing, rest, 4)

	// First check opens the PROTOCOL circuit.
	svc.RunCheck(context.Background(), cfg)
	// Second check should be suppressed for PROTOCOL, not call the client again.
	svc.RunCheck(context.Background(), cfg)

	if failing.calls != 1 {
		t.Fatalf("expected the PROTOCOL client to be called only once before the circuit opened, got %d", failing.calls)
	}
}
