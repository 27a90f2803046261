package config

import (
	"strings"
	"testing"
)

const sampleDocument = `{
	"check_interval_ms": 15000,
	"max_concurrent_checks": 4,
	"retention_window_ms": 3600000,
	"janitor_cadence_ms": 30000,
	"servers": [
		{
			"name": "search-tool",
			"protocol_endpoint": "http://localhost:3100/mcp",
			"protocol_enabled": true,
			"protocol_timeout_ms": 2000,
			"protocol_retries": 1,
			"expected_tools": ["search", "fetch"],
			"rest_endpoint": "http://localhost:3100/health",
			"rest_enabled": true,
			"rest_timeout_ms": 1000,
			"rest_expected_status_codes": [200],
			"weight_protocol": 1.0,
			"weight_rest": 1.0,
			"circuit": {
				"failure_threshold": 5,
				"success_threshold": 2,
				"open_timeout_ms": 30000,
				"half_open_max_inflight": 1,
				"failure_history_size": 64
			}
		}
	]
}`

func TestLoadParsesDocument(t *testing.T) {
	cfg, err := Load(strings.NewReader(sampleDocument))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.CheckIntervalMs != 15000 {
		t.Fatalf("expected check_interval_ms=15000, got %d", cfg.CheckIntervalMs)
	}
	if len(cfg.Servers) != 1 {
		t.Fatalf("expected one server, got %d", len(cfg.Servers))
	}
	s := cfg.Servers[0]
	if s.Name != "search-tool" {
		t.Fatalf("expected name search-tool, got %q", s.Name)
	}
	if s.ProtocolTimeout.Milliseconds() != 2000 {
		t.Fatalf("expected protocol_timeout_ms converted to 2000ms, got %v", s.ProtocolTimeout)
	}
	if s.Circuit.OpenTimeout.Milliseconds() != 30000 {
		t.Fatalf("expected open_timeout_ms converted to 30000ms, got %v", s.Circuit.OpenTimeout)
	}
	if len(s.ExpectedTools) != 2 {
		t.Fatalf("expected two expected_tools, got %v", s.ExpectedTools)
	}
}

func TestLoadRejectsInvalidJSON(t *testing.T) {
	if _, err := Load(strings.NewReader("not json")); err == nil {
		t.Fatal("expected an error for invalid JSON")
	}
}

func TestLoadSurfacesValidationErrors(t *testing.T) {
	doc := `{"servers":[{"name":""}]}`
	if _, err := Load(strings.NewReader(doc)); err == nil {
		t.Fatal("expected a validation error for a server with an empty name")
	}
}

func TestLoadFileMissingPath(t *testing.T) {
	if _, err := LoadFile("/nonexistent/path/to/config.json"); err == nil {
		t.Fatal("expected an error opening a nonexistent file")
	}
}
