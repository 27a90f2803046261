// Package probe implements the two probe clients (Protocol, REST) and the
// outcome type they both produce.
package probe

import (
	"time"

	"github.com/dualpath/healthengine/internal/classify"
	"github.com/dualpath/healthengine/internal/config"
)

// MaxDiagnosticBodyBytes caps response body retention for diagnostics.
const MaxDiagnosticBodyBytes = 16 * 1024

// ProtocolPayload carries the path-specific fields for a PROTOCOL outcome.
type ProtocolPayload struct {
	ToolsReturned    []string
	MissingTools     []string
	ValidationErrors []string
	JSONRPCIDEchoed  bool
}

// RESTPayload carries the path-specific fields for a REST outcome.
type RESTPayload struct {
	StatusCode         int
	ResponseBodyDigest string
}

// Outcome is one probe attempt's result.
type Outcome struct {
	ServerName string
	Path       config.Path
	StartedAt  time.Time
	DurationMs int64

	Success       bool
	ErrorCategory classify.Category
	ErrorMessage  string

	Protocol *ProtocolPayload
	REST     *RESTPayload

	// Suppressed marks a synthesized CIRCUIT_OPEN outcome produced by the
	// Health Check Service instead of a real probe attempt. Suppressed outcomes never reach the Circuit Breaker.
	Suppressed bool

	RetryAfter time.Duration
}

// Client is the shared contract both probe kinds implement: a common
// probe(endpoint, auth, timeout) -> Outcome call.
type Client interface {
	Probe(ctx ProbeContext) Outcome
}
