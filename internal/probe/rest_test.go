package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dualpath/healthengine/internal/classify"
)

func newRESTContext(endpoint string) ProbeContext {
	return ProbeContext{
		Ctx:                 context.Background(),
		ServerName:          "srv",
		Endpoint:            endpoint,
		Timeout:             time.Second,
		ExpectedStatusCodes: []int{200},
	}
}

func TestRESTClientProbeHealthySucceeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"healthy"}`))
	}))
	defer srv.Close()

	c := NewRESTClient(30 * time.Second)
	out := c.Probe(newRESTContext(srv.URL))

	if !out.Success {
		t.Fatalf("expected success, got %v: %s", out.ErrorCategory, out.ErrorMessage)
	}
	if out.REST.StatusCode != http.StatusOK {
		t.Fatalf("expected status code 200 recorded, got %d", out.REST.StatusCode)
	}
}

func TestRESTClientProbeDegradedStillSucceeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"degraded"}`))
	}))
	defer srv.Close()

	c := NewRESTClient(30 * time.Second)
	out := c.Probe(newRESTContext(srv.URL))

	if !out.Success {
		t.Fatal("expected a 200 with body status=degraded to still count as a successful probe")
	}
}

func TestRESTClientProbeUnhealthyBodyFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"unhealthy"}`))
	}))
	defer srv.Close()

	c := NewRESTClient(30 * time.Second)
	out := c.Probe(newRESTContext(srv.URL))

	if out.Success {
		t.Fatal("expected status=unhealthy in the body to fail the probe")
	}
	if out.ErrorCategory != classify.CategoryRESTReportedUnhealthy {
		t.Fatalf("expected CategoryRESTReportedUnhealthy, got %v", out.ErrorCategory)
	}
}

func TestRESTClientProbeUnexpectedStatusCodeMapsToHTTPCategory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewRESTClient(30 * time.Second)
	out := c.Probe(newRESTContext(srv.URL))

	if out.Success {
		t.Fatal("expected a status code outside expected_status_codes to fail")
	}
	if out.ErrorCategory != classify.CategoryHTTP4xx {
		t.Fatalf("expected CategoryHTTP4xx for a 404 outside the expected set, got %v", out.ErrorCategory)
	}
}

func TestRESTClientProbeNonJSONBodyWithExpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := NewRESTClient(30 * time.Second)
	out := c.Probe(newRESTContext(srv.URL))

	if !out.Success {
		t.Fatalf("expected a plain-text 200 within the expected status set to succeed, got %v", out.ErrorCategory)
	}
}
