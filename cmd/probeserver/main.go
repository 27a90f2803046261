// Package main provides the healthengine-probeserver CLI binary: a fixture
// remote tool server exposing both probe paths for exercising the engine
// end-to-end.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dualpath/healthengine/internal/probeserver"
)

func main() {
	addr := flag.String("addr", ":3100", "HTTP server address")
	tools := flag.String("tools", "search,fetch", "Comma-separated tool names advertised by tools/list")
	protocolFailureMode := flag.String("protocol-failure-mode", "none", "none|flaky|circuit_breaker|rate_limited|degrading|tools_missing|malformed_body|connection_reset")
	failureRate := flag.Float64("failure-rate", 0.0, "Fraction of attempts to fail, for flaky mode")
	circuitFailCount := flag.Int("circuit-fail-count", 3, "Number of attempts to fail before healing, for circuit_breaker mode")
	rateLimitCapacity := flag.Int("rate-limit-capacity", 5, "Number of attempts allowed before 429s, for rate_limited mode")
	degradeStepMs := flag.Int("degrade-step-ms", 100, "Milliseconds of added latency per attempt, for degrading mode")
	missingTools := flag.String("missing-tools", "", "Comma-separated tool names to omit, for tools_missing mode")
	restStatus := flag.String("rest-status", "healthy", "healthy|degraded|unhealthy")
	restStatusCode := flag.Int("rest-status-code", 200, "HTTP status code the REST health endpoint returns")
	restFailureMode := flag.String("rest-failure-mode", "none", "none|flaky|connection_reset")
	flag.Parse()

	cfg := &probeserver.Config{
		Addr:      *addr,
		ToolNames: splitNonEmpty(*tools),
		Behavior: probeserver.BehaviorProfile{
			ProtocolFailureMode: probeserver.FailureMode(*protocolFailureMode),
			FailureRate:         *failureRate,
			CircuitFailCount:    *circuitFailCount,
			RateLimitCapacity:   *rateLimitCapacity,
			DegradeStepMs:       *degradeStepMs,
			MissingTools:        splitNonEmpty(*missingTools),
			RESTStatus:          *restStatus,
			RESTStatusCode:      *restStatusCode,
			RESTFailureMode:     probeserver.FailureMode(*restFailureMode),
		},
	}

	server := probeserver.New(cfg)
	if err := server.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error starting probe server: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Probe fixture server listening on %s\n", server.Addr())
	fmt.Printf("PROTOCOL endpoint: %s\n", server.MCPURL())
	fmt.Printf("REST endpoint: %s\n", server.HealthURL())
	fmt.Println("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nShutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	server.Stop(ctx)
	fmt.Println("Probe server stopped")
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
