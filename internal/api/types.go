// Package api implements the Read API: five read-only
// status endpoints plus one circuit-breaker reset endpoint, all JSON over
// HTTP. A Server wrapping *http.Server, manual http.NewServeMux path
// routing, and writeJSON/writeError response helpers.
package api

import (
	"time"

	"github.com/dualpath/healthengine/internal/breaker"
	"github.com/dualpath/healthengine/internal/classify"
	"github.com/dualpath/healthengine/internal/config"
)

// ErrorResponse is the wire envelope for any 4xx/5xx.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}

// HealthResponse is the GET /status/health body.
type HealthResponse struct {
	Status                string         `json:"status"`
	ObservedAt             time.Time      `json:"observed_at"`
	ServersTotal           int            `json:"servers_total"`
	ServersByStatus        map[string]int `json:"servers_by_status"`
	ProtocolSuccessRate1h  float64        `json:"protocol_success_rate_1h"`
	RESTSuccessRate1h      float64        `json:"rest_success_rate_1h"`
}

// ServerSummary is one element of the GET /status/servers array.
type ServerSummary struct {
	ServerName         string        `json:"server_name"`
	OverallStatus      string        `json:"overall_status"`
	HealthScore        float64       `json:"health_score"`
	AvailablePaths     []config.Path `json:"available_paths"`
	ObservedAt         time.Time     `json:"observed_at"`
	CombinedDurationMs int64         `json:"combined_duration_ms"`
}

// ProbeOutcomeView is the JSON shape of one probe.Outcome. Timing fields
// are always present; the error and path-specific diagnostic fields are
// omitted when empty.
type ProbeOutcomeView struct {
	Path          config.Path       `json:"path"`
	StartedAt     time.Time         `json:"started_at"`
	DurationMs    int64             `json:"duration_ms"`
	Success       bool              `json:"success"`
	ErrorCategory classify.Category `json:"error_category,omitempty"`
	ErrorMessage  string            `json:"error_message,omitempty"`
	Suppressed    bool              `json:"suppressed"`

	ToolsReturned    []string `json:"tools_returned,omitempty"`
	MissingTools     []string `json:"missing_tools,omitempty"`
	ValidationErrors []string `json:"validation_errors,omitempty"`
	JSONRPCIDEchoed  bool     `json:"jsonrpc_id_echoed,omitempty"`

	StatusCode         int    `json:"status_code,omitempty"`
	ResponseBodyDigest string `json:"response_body_digest,omitempty"`
}

// CircuitSubStateView is the JSON shape of one path's breaker.PathState.
type CircuitSubStateView struct {
	State                breaker.SubState `json:"state"`
	ConsecutiveFailures  int              `json:"consecutive_failures"`
	ConsecutiveSuccesses int              `json:"consecutive_successes"`
	OpenedAt             time.Time        `json:"opened_at,omitempty"`
	HalfOpenInflight     int              `json:"half_open_inflight"`
}

// CircuitStateView is the JSON shape of breaker.CircuitState.
type CircuitStateView struct {
	ServerName      string              `json:"server_name"`
	Protocol        CircuitSubStateView `json:"protocol"`
	REST            CircuitSubStateView `json:"rest"`
	Overall         breaker.OverallState `json:"overall"`
	AdvertisedPaths []config.Path       `json:"advertised_paths"`
}

// ServerDetailResponse is the GET /status/servers/{name} body: the
// most-recent DualResult plus both probe outcomes and the circuit state.
type ServerDetailResponse struct {
	ServerName         string            `json:"server_name"`
	ObservedAt         time.Time         `json:"observed_at"`
	OverallStatus      string            `json:"overall_status"`
	OverallSuccess     bool              `json:"overall_success"`
	HealthScore        float64           `json:"health_score"`
	AvailablePaths     []config.Path     `json:"available_paths"`
	CombinedDurationMs int64             `json:"combined_duration_ms"`
	ProtocolOutcome    *ProbeOutcomeView `json:"protocol_outcome,omitempty"`
	RESTOutcome        *ProbeOutcomeView `json:"rest_outcome,omitempty"`
	Circuit            CircuitStateView  `json:"circuit"`
}

// ResetRequest is the optional POST /status/circuit-breaker/{name}/reset
// body.
type ResetRequest struct {
	Path string `json:"path"`
}
