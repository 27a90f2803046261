// Package probeserver implements a fixture remote tool server exposing
// both probe paths (PROTOCOL JSON-RPC tools/list, REST GET health
// endpoint) with injectable failure modes, for exercising the health
// check engine end-to-end without a real MCP server. Config/Server/
// New/StartTestServer plus a Start/Stop/Addr lifecycle.
package probeserver

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// FailureMode names one injectable misbehavior for the PROTOCOL path.
type FailureMode string

const (
	FailureNone            FailureMode = "none"
	FailureFlaky           FailureMode = "flaky"            // fails every 1/FailureRate-th attempt (deterministic)
	FailureCircuitBreaker  FailureMode = "circuit_breaker"  // fails the first N attempts, then heals
	FailureRateLimited     FailureMode = "rate_limited"     // 429s once the token bucket is empty
	FailureDegrading       FailureMode = "degrading"        // latency grows with each call
	FailureToolsMissing    FailureMode = "tools_missing"    // omits configured tools from the response; pair with MissingTools
	FailureMalformedBody   FailureMode = "malformed_body"   // returns invalid JSON
	FailureConnectionReset FailureMode = "connection_reset" // closes the connection mid-response
)

// BehaviorProfile controls how the fixture misbehaves.
type BehaviorProfile struct {
	ProtocolFailureMode FailureMode
	FailureRate         float64 // [0,1], consulted by FailureFlaky
	CircuitFailCount    int     // consulted by FailureCircuitBreaker
	RateLimitCapacity   int     // consulted by FailureRateLimited
	DegradeStepMs       int     // consulted by FailureDegrading
	MissingTools        []string

	RESTStatus     string // "healthy", "degraded", "unhealthy"
	RESTStatusCode int
	RESTFailureMode FailureMode // FailureNone, FailureFlaky, FailureConnectionReset
}

// Config configures the fixture server.
type Config struct {
	Addr      string
	ToolNames []string
	Behavior  BehaviorProfile
}

// DefaultConfig returns a healthy, well-behaved fixture.
func DefaultConfig() *Config {
	return &Config{
		Addr:      "127.0.0.1:0",
		ToolNames: []string{"search", "fetch"},
		Behavior: BehaviorProfile{
			ProtocolFailureMode: FailureNone,
			RESTStatus:          "healthy",
			RESTStatusCode:      http.StatusOK,
		},
	}
}

// Server is the fixture server interface, naming both probe endpoints.
type Server interface {
	Start() error
	Stop(ctx context.Context)
	Addr() string
	MCPURL() string
	HealthURL() string
}

// New creates a fixture server. It does not start listening.
func New(cfg *Config) Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &fixtureServer{
		cfg:         cfg,
		behavior:    cfg.Behavior,
		rateLimiter: newTokenBucket(maxInt(cfg.Behavior.RateLimitCapacity, 1)),
	}
}

// StartTestServer starts a server from cfg (DefaultConfig when cfg is
// nil), returning it plus a cleanup func.
func StartTestServer(cfg *Config) (server Server, cleanup func()) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	srv := New(cfg)
	if err := srv.Start(); err != nil {
		return srv, func() {}
	}
	cleanup = func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Stop(ctx)
	}
	return srv, cleanup
}

type fixtureServer struct {
	cfg      *Config
	behavior BehaviorProfile

	httpServer *http.Server
	listener   net.Listener
	addr       string

	protocolAttempts atomic.Int64
	restAttempts     atomic.Int64

	mu             sync.Mutex
	circuitHealed  bool
	rateLimiter    *tokenBucket
}

func (s *fixtureServer) Start() error {
	if s.cfg == nil {
		s.cfg = DefaultConfig()
	}

	ln, err := net.Listen("tcp", normalizeAddr(s.cfg.Addr))
	if err != nil {
		return err
	}
	s.listener = ln
	s.addr = ln.Addr().String()

	mux := http.NewServeMux()
	mux.HandleFunc("/mcp", s.handleProtocol)
	mux.HandleFunc("/health", s.handleREST)

	s.httpServer = &http.Server{Handler: mux}
	go s.httpServer.Serve(ln)
	return nil
}

func (s *fixtureServer) Stop(ctx context.Context) {
	if s.httpServer == nil {
		return
	}
	s.httpServer.Shutdown(ctx)
}

func (s *fixtureServer) Addr() string { return s.addr }

func (s *fixtureServer) MCPURL() string {
	if s.addr == "" {
		return ""
	}
	return "http://" + s.addr + "/mcp"
}

func (s *fixtureServer) HealthURL() string {
	if s.addr == "" {
		return ""
	}
	return "http://" + s.addr + "/health"
}

type jsonrpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
}

type jsonrpcTool struct {
	Name string `json:"name"`
}

type jsonrpcToolsResult struct {
	Tools []jsonrpcTool `json:"tools"`
}

type jsonrpcErrorObj struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type jsonrpcResponse struct {
	JSONRPC string              `json:"jsonrpc"`
	ID      string              `json:"id"`
	Result  *jsonrpcToolsResult `json:"result,omitempty"`
	Error   *jsonrpcErrorObj    `json:"error,omitempty"`
}

// handleProtocol answers the PROTOCOL path's JSON-RPC 2.0 tools/list
// request, applying whatever ProtocolFailureMode is configured.
func (s *fixtureServer) handleProtocol(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONRPCError(w, "", -32700, "failed to read body")
		return
	}
	var req jsonrpcRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSONRPCError(w, "", -32700, "invalid json")
		return
	}
	if req.Method != "tools/list" {
		writeJSONRPCError(w, req.ID, -32601, "method not found")
		return
	}

	attempt := s.protocolAttempts.Add(1)

	switch s.behavior.ProtocolFailureMode {
	case FailureFlaky:
		if flakyShouldFail(attempt, s.behavior.FailureRate) {
			http.Error(w, "upstream unavailable", http.StatusBadGateway)
			return
		}

	case FailureCircuitBreaker:
		s.mu.Lock()
		healed := s.circuitHealed
		if !healed && int(attempt) > s.behavior.CircuitFailCount {
			s.circuitHealed = true
			healed = true
		}
		s.mu.Unlock()
		if !healed {
			http.Error(w, "service unavailable", http.StatusServiceUnavailable)
			return
		}

	case FailureRateLimited:
		if !s.rateLimiter.Allow() {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}

	case FailureDegrading:
		time.Sleep(time.Duration(int(attempt)*s.behavior.DegradeStepMs) * time.Millisecond)

	case FailureMalformedBody:
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jsonrpc":"2.0","id":"` + req.ID + `"`)) // truncated, invalid JSON
		return

	case FailureConnectionReset:
		hj, ok := w.(http.Hijacker)
		if ok {
			conn, _, _ := hj.Hijack()
			conn.Close()
			return
		}
	}

	names := s.cfg.ToolNames
	if len(s.behavior.MissingTools) > 0 || s.behavior.ProtocolFailureMode == FailureToolsMissing {
		missing := make(map[string]bool, len(s.behavior.MissingTools))
		for _, m := range s.behavior.MissingTools {
			missing[m] = true
		}
		filtered := make([]string, 0, len(names))
		for _, n := range names {
			if !missing[n] {
				filtered = append(filtered, n)
			}
		}
		names = filtered
	}

	tools := make([]jsonrpcTool, len(names))
	for i, n := range names {
		tools[i] = jsonrpcTool{Name: n}
	}

	writeJSONRPCResult(w, req.ID, &jsonrpcToolsResult{Tools: tools})
}

type restStatusBody struct {
	Status string `json:"status"`
}

// handleREST answers the REST path's health GET, applying whatever
// RESTFailureMode/RESTStatus/RESTStatusCode is configured.
func (s *fixtureServer) handleREST(w http.ResponseWriter, r *http.Request) {
	attempt := s.restAttempts.Add(1)

	switch s.behavior.RESTFailureMode {
	case FailureFlaky:
		if flakyShouldFail(attempt, s.behavior.FailureRate) {
			http.Error(w, "upstream unavailable", http.StatusBadGateway)
			return
		}
	case FailureConnectionReset:
		hj, ok := w.(http.Hijacker)
		if ok {
			conn, _, _ := hj.Hijack()
			conn.Close()
			return
		}
	}

	code := s.behavior.RESTStatusCode
	if code == 0 {
		code = http.StatusOK
	}
	status := s.behavior.RESTStatus
	if status == "" {
		status = "healthy"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(restStatusBody{Status: status})
}

func writeJSONRPCResult(w http.ResponseWriter, id string, result *jsonrpcToolsResult) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(jsonrpcResponse{JSONRPC: "2.0", ID: id, Result: result})
}

func writeJSONRPCError(w http.ResponseWriter, id string, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(jsonrpcResponse{JSONRPC: "2.0", ID: id, Error: &jsonrpcErrorObj{Code: code, Message: message}})
}

// flakyShouldFail deterministically fails a fraction of attempts without
// depending on math/rand, so tests built against this fixture are
// reproducible: every 1/rate-th attempt fails.
func flakyShouldFail(attempt int64, rate float64) bool {
	if rate <= 0 {
		return false
	}
	every := int64(1.0 / rate)
	if every <= 0 {
		every = 1
	}
	return attempt%every == 0
}

// tokenBucket is a minimal fixed-capacity, per-process counter reset never
// refilled — enough to simulate "N requests then 429s" for a single test
// run, simplified since the fixture doesn't need a time-windowed refill.
type tokenBucket struct {
	mu        sync.Mutex
	remaining int
}

func newTokenBucket(capacity int) *tokenBucket {
	return &tokenBucket{remaining: capacity}
}

func (t *tokenBucket) Allow() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.remaining <= 0 {
		return false
	}
	t.remaining--
	return true
}

func normalizeAddr(addr string) string {
	if addr == "" {
		return "127.0.0.1:0"
	}
	if addr[0] == ':' {
		return "127.0.0.1" + addr
	}
	return addr
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
