package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// document is the on-disk JSON shape of an EngineConfig: millisecond
// integers instead of time.Duration, decoded with encoding/json since
// the document is intentionally small and flat.
type document struct {
	CheckIntervalMs     int64            `json:"check_interval_ms"`
	MaxConcurrentChecks int              `json:"max_concurrent_checks"`
	RetentionWindowMs   int64            `json:"retention_window_ms"`
	JanitorCadenceMs    int64            `json:"janitor_cadence_ms"`
	Servers             []serverDocument `json:"servers"`
}

type circuitDocument struct {
	FailureThreshold    int   `json:"failure_threshold"`
	SuccessThreshold    int   `json:"success_threshold"`
	OpenTimeoutMs       int64 `json:"open_timeout_ms"`
	HalfOpenMaxInflight int   `json:"half_open_max_inflight"`
	FailureHistorySize  int   `json:"failure_history_size"`
}

type serverDocument struct {
	Name string `json:"name"`

	ProtocolEndpoint string   `json:"protocol_endpoint"`
	ProtocolEnabled  bool     `json:"protocol_enabled"`
	ProtocolTimeoutMs int64   `json:"protocol_timeout_ms"`
	ProtocolRetries  int      `json:"protocol_retries"`
	ExpectedTools    []string `json:"expected_tools"`

	RESTEndpoint            string `json:"rest_endpoint"`
	RESTEnabled             bool   `json:"rest_enabled"`
	RESTTimeoutMs           int64  `json:"rest_timeout_ms"`
	RESTRetries             int    `json:"rest_retries"`
	RESTExpectedStatusCodes []int  `json:"rest_expected_status_codes"`

	AuthHeaders map[string]string `json:"auth_headers"`

	WeightProtocol float64 `json:"weight_protocol"`
	WeightREST     float64 `json:"weight_rest"`

	RequireBothSuccess       bool `json:"require_both_success"`
	RelaxedClosedComposition bool `json:"relaxed_closed_composition"`

	CheckIntervalOverrideMs int64 `json:"check_interval_override_ms"`

	Circuit circuitDocument `json:"circuit"`
}

// Load reads and parses a JSON configuration document from r, applying
// defaults and validating every server.
func Load(r io.Reader) (EngineConfig, error) {
	var doc document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return EngineConfig{}, fmt.Errorf("config: decode: %w", err)
	}
	return fromDocument(doc)
}

// LoadFile opens path and calls Load.
func LoadFile(path string) (EngineConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return EngineConfig{}, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()
	return Load(f)
}

func fromDocument(doc document) (EngineConfig, error) {
	cfg := EngineConfig{
		CheckIntervalMs:     doc.CheckIntervalMs,
		MaxConcurrentChecks: doc.MaxConcurrentChecks,
		RetentionWindow:     msToDuration(doc.RetentionWindowMs),
		JanitorCadence:      msToDuration(doc.JanitorCadenceMs),
	}
	cfg.Servers = make([]ServerConfig, len(doc.Servers))
	for i, sd := range doc.Servers {
		cfg.Servers[i] = ServerConfig{
			Name: sd.Name,

			ProtocolEndpoint: sd.ProtocolEndpoint,
			ProtocolEnabled:  sd.ProtocolEnabled,
			ProtocolTimeout:  msToDuration(sd.ProtocolTimeoutMs),
			ProtocolRetries:  sd.ProtocolRetries,
			ExpectedTools:    sd.ExpectedTools,

			RESTEndpoint:            sd.RESTEndpoint,
			RESTEnabled:             sd.RESTEnabled,
			RESTTimeout:             msToDuration(sd.RESTTimeoutMs),
			RESTRetries:             sd.RESTRetries,
			RESTExpectedStatusCodes: sd.RESTExpectedStatusCodes,

			AuthHeaders: sd.AuthHeaders,

			WeightProtocol: sd.WeightProtocol,
			WeightREST:     sd.WeightREST,

			RequireBothSuccess:       sd.RequireBothSuccess,
			RelaxedClosedComposition: sd.RelaxedClosedComposition,

			CheckIntervalOverride: msToDuration(sd.CheckIntervalOverrideMs),

			Circuit: CircuitDefaults{
				FailureThreshold:    sd.Circuit.FailureThreshold,
				SuccessThreshold:    sd.Circuit.SuccessThreshold,
				OpenTimeout:         msToDuration(sd.Circuit.OpenTimeoutMs),
				HalfOpenMaxInflight: sd.Circuit.HalfOpenMaxInflight,
				FailureHistorySize:  sd.Circuit.FailureHistorySize,
			},
		}
	}
	return cfg.Normalize()
}

func msToDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
