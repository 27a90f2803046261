package probe

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/dualpath/healthengine/internal/classify"
	"github.com/dualpath/healthengine/internal/config"
)

// ProtocolClient issues the JSON-RPC 2.0 tools/list probe.
type ProtocolClient struct {
	HTTPClient *http.Client
}

// NewProtocolClient builds a client with a dedicated connection pool,
// kept separate from the REST path's pool.
func NewProtocolClient(idleConnTimeout time.Duration) *ProtocolClient {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     idleConnTimeout,
	}
	return &ProtocolClient{HTTPClient: &http.Client{Transport: transport}}
}

type jsonrpcRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      string         `json:"id"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params"`
}

type jsonrpcTool struct {
	Name string `json:"name"`
}

type jsonrpcToolsResult struct {
	Tools []json.RawMessage `json:"tools"`
}

type jsonrpcErrorObj struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type jsonrpcResponse struct {
	JSONRPC string              `json:"jsonrpc"`
	ID      string              `json:"id"`
	Result  *jsonrpcToolsResult `json:"result"`
	Error   *jsonrpcErrorObj    `json:"error"`
}

// Probe performs the protocol probe, retrying internally on retryable
// categories up to MaxRetries. Only the final
// attempt's outcome is returned.
func (c *ProtocolClient) Probe(pc ProbeContext) Outcome {
	maxRetries := pc.MaxRetries
	sched := classify.NewBackoffSchedule(500*time.Millisecond, pc.Timeout)
	var last Outcome
	for attempt := 0; ; attempt++ {
		last = c.attempt(pc)
		if last.Success || !classify.ShouldRetry(last.ErrorCategory, attempt, maxRetries) {
			return last
		}
		wait := last.RetryAfter
		if wait == 0 {
			wait = sched.Next()
		}
		if err := classify.Sleep(pc.Ctx, wait); err != nil {
			return last
		}
	}
}

func (c *ProtocolClient) attempt(pc ProbeContext) Outcome {
	started := time.Now()
	out := Outcome{
		ServerName: pc.ServerName,
		Path:       config.PathProtocol,
		StartedAt:  started,
		Protocol:   &ProtocolPayload{},
	}

	ctx, cancel := pc.deadline()
	defer cancel()

	reqID := uuid.NewString()
	body, err := json.Marshal(jsonrpcRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  "tools/list",
		Params:  map[string]any{},
	})
	if err != nil {
		out.ErrorCategory = classify.CategoryInternal
		out.ErrorMessage = "failed to marshal request: " + err.Error()
		out.DurationMs = sinceMs(started)
		return out
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, pc.Endpoint, bytes.NewReader(body))
	if err != nil {
		out.ErrorCategory = classify.CategoryInternal
		out.ErrorMessage = "failed to build request: " + err.Error()
		out.DurationMs = sinceMs(started)
		return out
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range pc.AuthHeaders {
		req.Header.Set(k, v)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		mapped := classify.FromTransportError(err)
		out.ErrorCategory = mapped.Category
		out.ErrorMessage = mapped.Message
		out.DurationMs = sinceMs(started)
		return out
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, MaxDiagnosticBodyBytes)
	raw, err := io.ReadAll(limited)
	out.DurationMs = sinceMs(started)
	if err != nil {
		out.ErrorCategory = classify.CategoryProtocolInvalidResponse
		out.ErrorMessage = "failed to read response body: " + err.Error()
		return out
	}

	if resp.StatusCode != http.StatusOK {
		var rpcErr jsonrpcResponse
		if json.Unmarshal(raw, &rpcErr) == nil && rpcErr.Error != nil {
			mapped := classify.FromJSONRPCError(rpcErr.Error.Code, rpcErr.Error.Message)
			out.ErrorCategory = mapped.Category
			out.ErrorMessage = mapped.Message
			return out
		}
		mapped := classify.FromHTTPStatus(resp.StatusCode, resp.Header.Get("Retry-After"))
		if mapped != nil {
			out.ErrorCategory = mapped.Category
			out.ErrorMessage = mapped.Message
			out.RetryAfter = mapped.RetryAfter
			return out
		}
	}

	var parsed jsonrpcResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		out.ErrorCategory = classify.CategoryProtocolInvalidResponse
		out.ErrorMessage = "response is not valid JSON"
		return out
	}

	if parsed.Error != nil {
		mapped := classify.FromJSONRPCError(parsed.Error.Code, parsed.Error.Message)
		out.ErrorCategory = mapped.Category
		out.ErrorMessage = mapped.Message
		return out
	}

	if parsed.JSONRPC != "2.0" || parsed.ID != reqID {
		out.ErrorCategory = classify.CategoryProtocolInvalidResponse
		out.ErrorMessage = "jsonrpc envelope mismatch or id not echoed"
		return out
	}
	out.Protocol.JSONRPCIDEchoed = parsed.ID == reqID

	if parsed.Result == nil {
		out.ErrorCategory = classify.CategoryProtocolInvalidResponse
		out.ErrorMessage = "missing result.tools"
		return out
	}

	names := make([]string, 0, len(parsed.Result.Tools))
	seen := make(map[string]int, len(parsed.Result.Tools))
	for _, raw := range parsed.Result.Tools {
		var t jsonrpcTool
		if err := json.Unmarshal(raw, &t); err != nil || t.Name == "" {
			out.ErrorCategory = classify.CategoryProtocolInvalidResponse
			out.ErrorMessage = "tool entry missing a non-empty name"
			return out
		}
		names = append(names, t.Name)
		seen[t.Name]++
	}
	out.Protocol.ToolsReturned = names

	for name, count := range seen {
		if count > 1 {
			out.Protocol.ValidationErrors = append(out.Protocol.ValidationErrors, "duplicate tool name: "+name)
		}
	}

	if len(pc.ExpectedTools) > 0 {
		have := make(map[string]bool, len(names))
		for _, n := range names {
			have[n] = true
		}
		var missing []string
		for _, want := range pc.ExpectedTools {
			if !have[want] {
				missing = append(missing, want)
			}
		}
		if len(missing) > 0 {
			out.Protocol.MissingTools = missing
			out.ErrorCategory = classify.CategoryProtocolToolsMissing
			out.ErrorMessage = "expected tools missing from tools/list response"
			return out
		}
	}

	out.Success = true
	return out
}

func sinceMs(started time.Time) int64 {
	return time.Since(started).Milliseconds()
}
