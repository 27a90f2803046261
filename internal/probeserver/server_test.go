package probeserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

func postJSONRPC(t *testing.T, url, id string) *http.Response {
	t.Helper()
	body := strings.NewReader(`{"jsonrpc":"2.0","id":"` + id + `","method":"tools/list"}`)
	resp, err := http.Post(url, "application/json", body)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func TestDefaultConfigServesHealthyToolsList(t *testing.T) {
	srv, cleanup := StartTestServer(DefaultConfig())
	defer cleanup()

	resp := postJSONRPC(t, srv.MCPURL(), "1")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var out jsonrpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if out.ID != "1" {
		t.Fatalf("expected the request id to be echoed, got %q", out.ID)
	}
	if out.Result == nil || len(out.Result.Tools) != 2 {
		t.Fatalf("expected 2 tools in the default fixture, got %+v", out.Result)
	}
}

func TestDefaultConfigServesHealthyREST(t *testing.T) {
	srv, cleanup := StartTestServer(DefaultConfig())
	defer cleanup()

	resp, err := http.Get(srv.HealthURL())
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body restStatusBody
	json.NewDecoder(resp.Body).Decode(&body)
	if body.Status != "healthy" {
		t.Fatalf("expected status healthy, got %q", body.Status)
	}
}

func TestToolsMissingModeOmitsConfiguredTools(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Behavior.ProtocolFailureMode = FailureToolsMissing
	cfg.Behavior.MissingTools = []string{"fetch"}
	srv, cleanup := StartTestServer(cfg)
	defer cleanup()

	resp := postJSONRPC(t, srv.MCPURL(), "1")
	defer resp.Body.Close()
	var out jsonrpcResponse
	json.NewDecoder(resp.Body).Decode(&out)

	for _, tool := range out.Result.Tools {
		if tool.Name == "fetch" {
			t.Fatal("expected fetch to be omitted under tools_missing failure mode")
		}
	}
}

func TestCircuitBreakerModeHealsAfterFailCount(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Behavior.ProtocolFailureMode = FailureCircuitBreaker
	cfg.Behavior.CircuitFailCount = 2
	srv, cleanup := StartTestServer(cfg)
	defer cleanup()

	for i := 0; i < 2; i++ {
		resp := postJSONRPC(t, srv.MCPURL(), "1")
		resp.Body.Close()
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Fatalf("expected attempt %d to fail with 503, got %d", i+1, resp.StatusCode)
		}
	}

	resp := postJSONRPC(t, srv.MCPURL(), "1")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected the circuit to heal after CircuitFailCount attempts, got %d", resp.StatusCode)
	}
}

func TestRateLimitedModeReturns429OnceCapacityExhausted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Behavior.ProtocolFailureMode = FailureRateLimited
	cfg.Behavior.RateLimitCapacity = 1
	srv, cleanup := StartTestServer(cfg)
	defer cleanup()

	first := postJSONRPC(t, srv.MCPURL(), "1")
	first.Body.Close()
	if first.StatusCode != http.StatusOK {
		t.Fatalf("expected the first request within capacity to succeed, got %d", first.StatusCode)
	}

	second := postJSONRPC(t, srv.MCPURL(), "2")
	defer second.Body.Close()
	if second.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 once capacity is exhausted, got %d", second.StatusCode)
	}
}

func TestMalformedBodyModeReturnsInvalidJSON(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Behavior.ProtocolFailureMode = FailureMalformedBody
	srv, cleanup := StartTestServer(cfg)
	defer cleanup()

	resp := postJSONRPC(t, srv.MCPURL(), "1")
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	var out jsonrpcResponse
	if err := json.Unmarshal(raw, &out); err == nil {
		t.Fatal("expected the malformed_body fixture to return invalid JSON")
	}
}

func TestRESTUnhealthyStatusReported(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Behavior.RESTStatus = "unhealthy"
	srv, cleanup := StartTestServer(cfg)
	defer cleanup()

	resp, err := http.Get(srv.HealthURL())
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	var body restStatusBody
	json.NewDecoder(resp.Body).Decode(&body)
	if body.Status != "unhealthy" {
		t.Fatalf("expected status unhealthy, got %q", body.Status)
	}
}

func TestStopIsGraceful(t *testing.T) {
	srv := New(DefaultConfig())
	if err := srv.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	srv.Stop(ctx)
}
