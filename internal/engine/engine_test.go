package engine

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/dualpath/healthengine/internal/config"
	"github.com/dualpath/healthengine/internal/probeserver"
)

func testConfig(protocolEndpoint, restEndpoint string) config.EngineConfig {
	s := config.ServerConfig{
		Name:             "fixture",
		ProtocolEndpoint: protocolEndpoint,
		ProtocolEnabled:  true,
		ProtocolTimeout:  2 * time.Second,
		RESTEndpoint:     restEndpoint,
		RESTEnabled:      true,
		RESTTimeout:      2 * time.Second,
	}
	cfg, err := config.EngineConfig{CheckIntervalMs: 50, Servers: []config.ServerConfig{s}}.Normalize()
	if err != nil {
		panic(err)
	}
	return cfg
}

func TestEngineStartServesHealthAndShutsDownCleanly(t *testing.T) {
	fixture, cleanupFixture := probeserver.StartTestServer(probeserver.DefaultConfig())
	defer cleanupFixture()

	cfg := testConfig(fixture.MCPURL(), fixture.HealthURL())
	e := New(cfg, Options{ListenAddr: "127.0.0.1:0", ProbeIdleTimeout: 5 * time.Second, ResponseRingSize: 16, InstanceID: "test"})

	if err := e.Start(); err != nil {
		t.Fatalf("engine start: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		e.Shutdown(ctx)
	}()

	// Drive a check directly, bypassing the scheduler's tick granularity.
	serverCfg, _ := e.Epoch.Current().Config.ServerByName("fixture")
	e.Service.RunCheck(context.Background(), serverCfg)

	resp, err := http.Get("http://" + e.API.Addr() + "/status/health")
	if err != nil {
		t.Fatalf("GET /status/health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestEngineReloadIncrementsEpoch(t *testing.T) {
	cfg := testConfig("http://example.invalid/mcp", "http://example.invalid/health")
	e := New(cfg, Options{ListenAddr: "127.0.0.1:0", ProbeIdleTimeout: time.Second, ResponseRingSize: 16})

	before := e.Epoch.Current().Seq

	newCfg := testConfig("http://example.invalid/mcp2", "http://example.invalid/health2")
	epoch, err := e.Reload(newCfg)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if epoch.Seq != before+1 {
		t.Fatalf("expected seq %d, got %d", before+1, epoch.Seq)
	}

	sc, ok := e.Epoch.Current().Config.ServerByName("fixture")
	if !ok || sc.ProtocolEndpoint != "http://example.invalid/mcp2" {
		t.Fatalf("expected the reloaded config to take effect, got %+v", sc)
	}
}

func TestEngineReloadRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig("http://example.invalid/mcp", "http://example.invalid/health")
	e := New(cfg, Options{ListenAddr: "127.0.0.1:0", ProbeIdleTimeout: time.Second, ResponseRingSize: 16})

	bad := config.EngineConfig{Servers: []config.ServerConfig{{Name: ""}}}
	if _, err := e.Reload(bad); err == nil {
		t.Fatal("expected an error reloading an invalid config")
	}
}

func TestDefaultOptionsAreSane(t *testing.T) {
	opts := DefaultOptions()
	if opts.ListenAddr == "" {
		t.Fatal("expected a non-empty default listen address")
	}
	if opts.ResponseRingSize <= 0 {
		t.Fatal("expected a positive default response ring size")
	}
}
