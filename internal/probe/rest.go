package probe

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/dualpath/healthengine/internal/classify"
	"github.com/dualpath/healthengine/internal/config"
)

// RESTClient issues the GET health-endpoint probe.
type RESTClient struct {
	HTTPClient *http.Client
}

// NewRESTClient builds a client with its own dedicated connection pool,
// separate from the protocol path's pool.
func NewRESTClient(idleConnTimeout time.Duration) *RESTClient {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     idleConnTimeout,
	}
	return &RESTClient{HTTPClient: &http.Client{Transport: transport}}
}

type restStatusBody struct {
	Status string `json:"status"`
}

// Probe performs the REST probe, retrying internally on retryable
// categories up to MaxRetries.
func (c *RESTClient) Probe(pc ProbeContext) Outcome {
	sched := classify.NewBackoffSchedule(500*time.Millisecond, pc.Timeout)
	var last Outcome
	for attempt := 0; ; attempt++ {
		last = c.attempt(pc)
		if last.Success || !classify.ShouldRetry(last.ErrorCategory, attempt, pc.MaxRetries) {
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

func (c *RESTClient) attempt(pc ProbeContext) Outcome {
	started := time.Now()
	out := Outcome{
		ServerName: pc.ServerName,
		Path:       config.PathREST,
		StartedAt:  started,
		REST:       &RESTPayload{},
	}

	ctx, cancel := pc.deadline()
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pc.Endpoint, nil)
	if err != nil {
		out.ErrorCategory = classify.CategoryInternal
		out.ErrorMessage = "failed to build request: " + err.Error()
		out.DurationMs = sinceMs(started)
		return out
	}
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
	raw, readErr := io.ReadAll(limited)
	out.DurationMs = sinceMs(started)
	out.REST.StatusCode = resp.StatusCode
	if readErr == nil {
		out.REST.ResponseBodyDigest = string(raw)
	}

	statusExpected := false
	for _, code := range pc.ExpectedStatusCodes {
		if code == resp.StatusCode {
			statusExpected = true
			break
		}
	}

	var body restStatusBody
	isJSON := readErr == nil && json.Unmarshal(raw, &body) == nil && body.Status != ""

	if isJSON && body.Status == "unhealthy" {
		out.ErrorCategory = classify.CategoryRESTReportedUnhealthy
		out.ErrorMessage = "health endpoint reported status=unhealthy"
		return out
	}

	if !statusExpected {
		mapped := classify.FromHTTPStatus(resp.StatusCode, resp.Header.Get("Retry-After"))
		if mapped != nil {
			out.ErrorCategory = mapped.Category
			out.ErrorMessage = mapped.Message
			out.RetryAfter = mapped.RetryAfter
			return out
		}
		out.ErrorCategory = classify.CategoryRESTStatusUnexpected
		out.ErrorMessage = "status code not in expected set"
		return out
	}

	if isJSON && body.Status != "healthy" && body.Status != "degraded" && body.Status != "unhealthy" {
		out.ErrorCategory = classify.CategoryRESTStatusUnexpected
		out.ErrorMessage = "status field has unrecognized value: " + body.Status
		return out
	}

	out.Success = true
	return out
}
