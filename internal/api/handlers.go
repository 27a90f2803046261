package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dualpath/healthengine/internal/aggregate"
	"github.com/dualpath/healthengine/internal/breaker"
	"github.com/dualpath/healthengine/internal/config"
	"github.com/dualpath/healthengine/internal/metricsstore"
	"github.com/dualpath/healthengine/internal/probe"
)

// writeJSON marshals v as the body of a status response. Grounded on the
// teacher's handlers.go writeJSON helper.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError emits the error envelope, generating a fresh request_id so
// operators can correlate a 500 with server-side logs.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: ErrorBody{
		Code:      code,
		Message:   message,
		RequestID: uuid.NewString(),
	}})
}

func writeMethodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
}

func (s *Server) cfgSnapshot() config.EngineConfig {
	return s.Epoch.Current().Config
}

// handleHealth serves GET /status/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, http.MethodGet)
		return
	}

	cfg := s.cfgSnapshot()
	latest := s.Service.AllLatest()

	byStatus := map[string]int{
		string(aggregate.StatusHealthy):   0,
		string(aggregate.StatusDegraded):  0,
		string(aggregate.StatusUnhealthy): 0,
		string(aggregate.StatusUnknown):   0,
	}
	for _, sc := range cfg.Servers {
		result, ok := latest[sc.Name]
		status := aggregate.StatusUnknown
		if ok {
			status = result.OverallStatus
		}
		byStatus[string(status)]++
	}

	overall := aggregate.StatusHealthy
	switch {
	case byStatus[string(aggregate.StatusUnhealthy)] > 0:
		overall = aggregate.StatusUnhealthy
	case byStatus[string(aggregate.StatusDegraded)] > 0:
		overall = aggregate.StatusDegraded
	}

	now := time.Now()
	resp := HealthResponse{
		Status:                string(overall),
		ObservedAt:            now,
		ServersTotal:          len(cfg.Servers),
		ServersByStatus:       byStatus,
		ProtocolSuccessRate1h: s.globalSuccessRate(config.PathProtocol, now),
		RESTSuccessRate1h:     s.globalSuccessRate(config.PathREST, now),
	}

	status := http.StatusOK
	if overall == aggregate.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (s *Server) globalSuccessRate(path config.Path, now time.Time) float64 {
	cfg := s.cfgSnapshot()
	var totalAttempts, successes int64
	for _, sc := range cfg.Servers {
		series := s.Store.Query(sc.Name, path, metricsstore.WindowLast1h, now)
		totalAttempts += series.TotalAttempts
		successes += series.Successes
	}
	if totalAttempts == 0 {
		return 0
	}
	return float64(successes) / float64(totalAttempts)
}

// handleServers serves GET /status/servers.
func (s *Server) handleServers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, http.MethodGet)
		return
	}

	cfg := s.cfgSnapshot()
	latest := s.Service.AllLatest()

	out := make([]ServerSummary, 0, len(cfg.Servers))
	for _, sc := range cfg.Servers {
		result, ok := latest[sc.Name]
		if !ok {
			out = append(out, ServerSummary{
				ServerName:    sc.Name,
				OverallStatus: string(aggregate.StatusUnknown),
			})
			continue
		}
		out = append(out, ServerSummary{
			ServerName:         sc.Name,
			OverallStatus:      string(result.OverallStatus),
			HealthScore:        result.HealthScore,
			AvailablePaths:     result.AvailablePaths,
			ObservedAt:         result.ObservedAt,
			CombinedDurationMs: result.CombinedDurationMs,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleServerDetail serves GET /status/servers/{name}.
func (s *Server) handleServerDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, http.MethodGet)
		return
	}

	name := strings.TrimPrefix(r.URL.Path, "/status/servers/")
	if name == "" || strings.Contains(name, "/") {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "unknown server")
		return
	}

	cfg, ok := s.cfgSnapshot().ServerByName(name)
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "unknown server: "+name)
		return
	}

	result, ok := s.Service.Latest(name)
	circuit := toCircuitStateView(s.Breaker.Snapshot(cfg))

	if !ok {
		writeJSON(w, http.StatusOK, ServerDetailResponse{
			ServerName:     name,
			ObservedAt:     time.Now(),
			OverallStatus:  string(aggregate.StatusUnknown),
			AvailablePaths: []config.Path{},
			Circuit:        circuit,
		})
		return
	}

	writeJSON(w, http.StatusOK, ServerDetailResponse{
		ServerName:         result.ServerName,
		ObservedAt:         result.ObservedAt,
		OverallStatus:      string(result.OverallStatus),
		OverallSuccess:     result.OverallSuccess,
		HealthScore:        result.HealthScore,
		AvailablePaths:     result.AvailablePaths,
		CombinedDurationMs: result.CombinedDurationMs,
		ProtocolOutcome:    toOutcomeView(result.ProtocolOutcome),
		RESTOutcome:        toOutcomeView(result.RESTOutcome),
		Circuit:            circuit,
	})
}

func toOutcomeView(o *probe.Outcome) *ProbeOutcomeView {
	if o == nil {
		return nil
	}
	view := &ProbeOutcomeView{
		Path:          o.Path,
		StartedAt:     o.StartedAt,
		DurationMs:    o.DurationMs,
		Success:       o.Success,
		ErrorCategory: o.ErrorCategory,
		ErrorMessage:  o.ErrorMessage,
		Suppressed:    o.Suppressed,
	}
	if o.Protocol != nil {
		view.ToolsReturned = o.Protocol.ToolsReturned
		view.MissingTools = o.Protocol.MissingTools
		view.ValidationErrors = o.Protocol.ValidationErrors
		view.JSONRPCIDEchoed = o.Protocol.JSONRPCIDEchoed
	}
	if o.REST != nil {
		view.StatusCode = o.REST.StatusCode
		view.ResponseBodyDigest = o.REST.ResponseBodyDigest
	}
	return view
}

func toCircuitSubStateView(p breaker.PathState) CircuitSubStateView {
	return CircuitSubStateView{
		State:                p.State,
		ConsecutiveFailures:  p.ConsecutiveFailures,
		ConsecutiveSuccesses: p.ConsecutiveSuccesses,
		OpenedAt:             p.OpenedAt,
		HalfOpenInflight:     p.HalfOpenInflight,
	}
}

func toCircuitStateView(cs breaker.CircuitState) CircuitStateView {
	return CircuitStateView{
		ServerName:      cs.ServerName,
		Protocol:        toCircuitSubStateView(cs.Protocol),
		REST:            toCircuitSubStateView(cs.REST),
		Overall:         cs.Overall,
		AdvertisedPaths: cs.AdvertisedPaths,
	}
}

// handleMetrics serves GET /status/metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, http.MethodGet)
		return
	}

	q := r.URL.Query()
	window, err := parseWindow(q.Get("window"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	format := q.Get("format")
	if format == "" {
		format = "json"
	}
	if format != "json" && format != "prometheus" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "format must be json or prometheus")
		return
	}

	now := time.Now()
	snap := s.Store.Snapshot(window, now)

	if serverFilter := q.Get("server"); serverFilter != "" {
		if _, ok := s.cfgSnapshot().ServerByName(serverFilter); !ok {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "unknown server: "+serverFilter)
			return
		}
		filtered := metricsstore.Snapshot{At: snap.At, Servers: map[string]metricsstore.ServerSnapshot{}}
		if sm, ok := snap.Servers[serverFilter]; ok {
			filtered.Servers[serverFilter] = sm
		}
		snap = filtered
	}

	if format == "prometheus" {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(metricsstore.FormatPrometheus(snap)))
		return
	}
	writeJSON(w, http.StatusOK, metricsstore.ToJSON(snap))
}

func parseWindow(raw string) (metricsstore.Window, error) {
	switch raw {
	case "", "1h":
		return metricsstore.WindowLast1h, nil
	case "1m":
		return metricsstore.WindowLast1m, nil
	case "5m":
		return metricsstore.WindowLast5m, nil
	case "24h":
		return metricsstore.WindowLast24h, nil
	default:
		return "", errBadWindow(raw)
	}
}

type errBadWindow string

func (e errBadWindow) Error() string {
	return "invalid window: " + string(e)
}

// handleCircuitBreakerList serves GET /status/circuit-breaker.
func (s *Server) handleCircuitBreakerList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, http.MethodGet)
		return
	}

	cfg := s.cfgSnapshot()
	out := make([]CircuitStateView, 0, len(cfg.Servers))
	for _, sc := range cfg.Servers {
		out = append(out, toCircuitStateView(s.Breaker.Snapshot(sc)))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleCircuitBreakerRoute dispatches /status/circuit-breaker/{name} and
// /status/circuit-breaker/{name}/reset using manual path splitting.
func (s *Server) handleCircuitBreakerRoute(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/status/circuit-breaker/")
	rest = strings.Trim(rest, "/")
	if rest == "" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "missing server name")
		return
	}
	segments := strings.Split(rest, "/")

	switch len(segments) {
	case 1:
		s.handleCircuitBreakerDetail(w, r, segments[0])
	case 2:
		if segments[1] != "reset" {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "unknown route")
			return
		}
		s.handleCircuitBreakerReset(w, r, segments[0])
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "unknown route")
	}
}

func (s *Server) handleCircuitBreakerDetail(w http.ResponseWriter, r *http.Request, name string) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, http.MethodGet)
		return
	}
	cfg, ok := s.cfgSnapshot().ServerByName(name)
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "unknown server: "+name)
		return
	}
	writeJSON(w, http.StatusOK, toCircuitStateView(s.Breaker.Snapshot(cfg)))
}

// handleCircuitBreakerReset serves POST /status/circuit-breaker/{name}/reset.
// Idempotent: a second reset observes the same CLOSED state.
func (s *Server) handleCircuitBreakerReset(w http.ResponseWriter, r *http.Request, name string) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, http.MethodPost)
		return
	}
	cfg, ok := s.cfgSnapshot().ServerByName(name)
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "unknown server: "+name)
		return
	}

	path := config.PathProtocol
	both := true
	if r.Body != nil && r.ContentLength != 0 {
		var req ResetRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "malformed reset request body")
			return
		}
		switch strings.ToUpper(req.Path) {
		case "", "BOTH":
			both = true
		case "PROTOCOL":
			both, path = false, config.PathProtocol
		case "REST":
			both, path = false, config.PathREST
		default:
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "path must be PROTOCOL, REST, or BOTH")
			return
		}
	}

	state := s.Breaker.Reset(cfg, path, both)
	writeJSON(w, http.StatusOK, toCircuitStateView(state))
}
