package metricsstore

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dualpath/healthengine/internal/classify"
	"github.com/dualpath/healthengine/internal/config"
)

// Snapshot is the exportable view of the whole store, used by both the
// Prometheus text formatter and the JSON formatter so the two stay in
// parity.
type Snapshot struct {
	At      time.Time
	Servers map[string]ServerSnapshot
}

// ServerSnapshot is one server's exported counters, windowed to the
// Window passed to Store.Snapshot.
type ServerSnapshot struct {
	Protocol PathSeries
	REST     PathSeries
	Checks   CheckSeries
}

// Snapshot builds a point-in-time export of every tracked server, windowed
// to w for every counter, average and percentile.
func (s *Store) Snapshot(w Window, now time.Time) Snapshot {
	names := s.Servers()
	sort.Strings(names)

	out := Snapshot{At: now, Servers: make(map[string]ServerSnapshot, len(names))}
	for _, name := range names {
		out.Servers[name] = ServerSnapshot{
			Protocol: s.Query(name, config.PathProtocol, w, now),
			REST:     s.Query(name, config.PathREST, w, now),
			Checks:   s.QueryChecks(name, w, now),
		}
	}
	return out
}

// FormatPrometheus renders the snapshot as Prometheus text exposition
// format: hand-rolled exposition, map keys sorted for deterministic
// output, one HELP/TYPE pair per metric family.
func FormatPrometheus(snap Snapshot) string {
	var b strings.Builder

	names := sortedKeys(snap.Servers)

	writeCounterFamily(&b, "healthengine_attempts_total", "counter", "Total probe attempts per server and path.", names, snap,
		func(ps PathSeries) float64 { return float64(ps.TotalAttempts) })
	writeCounterFamily(&b, "healthengine_successes_total", "counter", "Total successful probes per server and path.", names, snap,
		func(ps PathSeries) float64 { return float64(ps.Successes) })
	writeCounterFamily(&b, "healthengine_failures_total", "counter", "Total failed probes per server and path.", names, snap,
		func(ps PathSeries) float64 { return float64(ps.Failures) })
	writeCounterFamily(&b, "healthengine_suppressed_total", "counter", "Total probes suppressed by an open circuit.", names, snap,
		func(ps PathSeries) float64 { return float64(ps.Suppressed) })
	writeCounterFamily(&b, "healthengine_response_time_ms_avg", "gauge", "Windowed average response time in milliseconds.", names, snap,
		func(ps PathSeries) float64 { return ps.AvgResponseTimeMs })
	writeCounterFamily(&b, "healthengine_response_time_ms_p50", "gauge", "Windowed p50 response time in milliseconds.", names, snap,
		func(ps PathSeries) float64 { return ps.P50 })
	writeCounterFamily(&b, "healthengine_response_time_ms_p95", "gauge", "Windowed p95 response time in milliseconds.", names, snap,
		func(ps PathSeries) float64 { return ps.P95 })
	writeCounterFamily(&b, "healthengine_response_time_ms_p99", "gauge", "Windowed p99 response time in milliseconds.", names, snap,
		func(ps PathSeries) float64 { return ps.P99 })

	fmt.Fprintf(&b, "# HELP healthengine_error_category_total Failures by error category.\n")
	fmt.Fprintf(&b, "# TYPE healthengine_error_category_total counter\n")
	for _, name := range names {
		sm := snap.Servers[name]
		writeErrorCounts(&b, name, "PROTOCOL", sm.Protocol.ErrorCounts)
		writeErrorCounts(&b, name, "REST", sm.REST.ErrorCounts)
	}

	fmt.Fprintf(&b, "# HELP healthengine_rest_status_code_total REST probe responses by status code.\n")
	fmt.Fprintf(&b, "# TYPE healthengine_rest_status_code_total counter\n")
	for _, name := range names {
		codes := make([]int, 0, len(snap.Servers[name].REST.StatusCodes))
		for code := range snap.Servers[name].REST.StatusCodes {
			codes = append(codes, code)
		}
		sort.Ints(codes)
		for _, code := range codes {
			fmt.Fprintf(&b, "healthengine_rest_status_code_total{server=%q,status_code=%q} %d\n",
				name, fmt.Sprint(code), snap.Servers[name].REST.StatusCodes[code])
		}
	}

	fmt.Fprintf(&b, "# HELP healthengine_combined_duration_ms_avg Windowed average combined check duration.\n")
	fmt.Fprintf(&b, "# TYPE healthengine_combined_duration_ms_avg gauge\n")
	for _, name := range names {
		fmt.Fprintf(&b, "healthengine_combined_duration_ms_avg{server=%q} %g\n", name, snap.Servers[name].Checks.AvgCombinedDurationMs)
	}

	fmt.Fprintf(&b, "# HELP healthengine_health_score Windowed average health score.\n")
	fmt.Fprintf(&b, "# TYPE healthengine_health_score gauge\n")
	for _, name := range names {
		fmt.Fprintf(&b, "healthengine_health_score{server=%q} %g\n", name, snap.Servers[name].Checks.AvgHealthScore)
	}

	return b.String()
}

func writeCounterFamily(b *strings.Builder, metric, typ, help string, names []string, snap Snapshot, field func(PathSeries) float64) {
	fmt.Fprintf(b, "# HELP %s %s\n", metric, help)
	fmt.Fprintf(b, "# TYPE %s %s\n", metric, typ)
	for _, name := range names {
		sm := snap.Servers[name]
		fmt.Fprintf(b, "%s{server=%q,path=\"PROTOCOL\"} %g\n", metric, name, field(sm.Protocol))
		fmt.Fprintf(b, "%s{server=%q,path=\"REST\"} %g\n", metric, name, field(sm.REST))
	}
}

func writeErrorCounts(b *strings.Builder, server, path string, counts map[classify.Category]int64) {
	cats := make([]string, 0, len(counts))
	byName := make(map[string]classify.Category, len(counts))
	for cat := range counts {
		cats = append(cats, string(cat))
		byName[string(cat)] = cat
	}
	sort.Strings(cats)
	for _, name := range cats {
		fmt.Fprintf(b, "healthengine_error_category_total{server=%q,path=%q,error_category=%q} %d\n",
			server, path, name, counts[byName[name]])
	}
}

func sortedKeys(m map[string]ServerSnapshot) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// jsonPathSeries and jsonServerSnapshot mirror PathSeries/ServerSnapshot
// with explicit JSON tags, kept separate from the query-facing structs so
// the wire format can evolve independently.
type jsonPathSeries struct {
	TotalAttempts      int64            `json:"total_attempts"`
	Successes          int64            `json:"successes"`
	Failures           int64            `json:"failures"`
	Suppressed         int64            `json:"suppressed"`
	SuccessRate        float64          `json:"success_rate"`
	AvgResponseTimeMs  float64          `json:"avg_response_time_ms"`
	P50                float64          `json:"p50_ms"`
	P95                float64          `json:"p95_ms"`
	P99                float64          `json:"p99_ms"`
	ErrorCounts        map[string]int64 `json:"error_counts,omitempty"`
	StatusCodes        map[string]int64 `json:"status_codes,omitempty"`
	ToolsReturnedTotal int64            `json:"tools_returned_total,omitempty"`
	ToolsMissingTotal  int64            `json:"tools_missing_total,omitempty"`
}

type jsonServerSnapshot struct {
	Protocol              jsonPathSeries `json:"protocol"`
	REST                  jsonPathSeries `json:"rest"`
	AvgCombinedDurationMs float64        `json:"avg_combined_duration_ms"`
	AvgHealthScore        float64        `json:"avg_health_score"`
}

type jsonSnapshot struct {
	AtUnixMs int64                         `json:"at_unix_ms"`
	Servers  map[string]jsonServerSnapshot `json:"servers"`
}

// ToJSON converts a Snapshot to its JSON-marshalable form, value-for-value
// identical to FormatPrometheus's output.
func ToJSON(snap Snapshot) jsonSnapshot {
	out := jsonSnapshot{
		AtUnixMs: snap.At.UnixMilli(),
		Servers:  make(map[string]jsonServerSnapshot, len(snap.Servers)),
	}
	for name, sm := range snap.Servers {
		out.Servers[name] = jsonServerSnapshot{
			Protocol:              toJSONPathSeries(sm.Protocol),
			REST:                  toJSONPathSeries(sm.REST),
			AvgCombinedDurationMs: sm.Checks.AvgCombinedDurationMs,
			AvgHealthScore:        sm.Checks.AvgHealthScore,
		}
	}
	return out
}

func toJSONPathSeries(ps PathSeries) jsonPathSeries {
	out := jsonPathSeries{
		TotalAttempts:      ps.TotalAttempts,
		Successes:          ps.Successes,
		Failures:           ps.Failures,
		Suppressed:         ps.Suppressed,
		SuccessRate:        ps.SuccessRate,
		AvgResponseTimeMs:  ps.AvgResponseTimeMs,
		P50:                ps.P50,
		P95:                ps.P95,
		P99:                ps.P99,
		ToolsReturnedTotal: ps.ToolsReturnedTotal,
		ToolsMissingTotal:  ps.ToolsMissingTotal,
	}
	if len(ps.ErrorCounts) > 0 {
		out.ErrorCounts = make(map[string]int64, len(ps.ErrorCounts))
		for cat, n := range ps.ErrorCounts {
			out.ErrorCounts[string(cat)] = n
		}
	}
	if len(ps.StatusCodes) > 0 {
		out.StatusCodes = make(map[string]int64, len(ps.StatusCodes))
		for code, n := range ps.StatusCodes {
			out.StatusCodes[fmt.Sprint(code)] = n
		}
	}
	return out
}
