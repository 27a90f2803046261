package classify

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestFromTransportErrorNil(t *testing.T) {
	if got := FromTransportError(nil); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}

func TestFromTransportErrorPassesThroughExisting(t *testing.T) {
	orig := &OperationError{Category: CategoryAuthFailure, Message: "already classified"}
	got := FromTransportError(orig)
	if got != orig {
		t.Fatalf("expected the same *OperationError to be returned unchanged")
	}
}

func TestFromTransportErrorDeadlineExceeded(t *testing.T) {
	got := FromTransportError(context.DeadlineExceeded)
	if got.Category != CategoryNetworkTimeout {
		t.Fatalf("expected CategoryNetworkTimeout, got %v", got.Category)
	}
}

func TestFromTransportErrorCanceled(t *testing.T) {
	got := FromTransportError(context.Canceled)
	if got.Category != CategoryInternal {
		t.Fatalf("expected CategoryInternal, got %v", got.Category)
	}
}

func TestFromTransportErrorFallsBackToTransportConnection(t *testing.T) {
	got := FromTransportError(errors.New("connection refused"))
	if got.Category != CategoryTransportConnection {
		t.Fatalf("expected CategoryTransportConnection, got %v", got.Category)
	}
}

func TestFromHTTPStatus(t *testing.T) {
	cases := []struct {
		status int
		want   Category
	}{
		{200, CategoryNone},
		{204, CategoryNone},
		{408, CategoryHTTP408},
		{425, CategoryHTTP425},
		{429, CategoryHTTP429},
		{401, CategoryAuthFailure},
		{403, CategoryAuthFailure},
		{404, CategoryHTTP4xx},
		{500, CategoryHTTP5xx},
		{503, CategoryHTTP5xx},
		{999, CategoryRESTStatusUnexpected},
	}
	for _, c := range cases {
		got := FromHTTPStatus(c.status, "")
		if c.want == CategoryNone {
			if got != nil {
				t.Errorf("status %d: expected nil, got %v", c.status, got)
			}
			continue
		}
		if got == nil {
			t.Errorf("status %d: expected category %v, got nil", c.status, c.want)
			continue
		}
		if got.Category != c.want {
			t.Errorf("status %d: expected %v, got %v", c.status, c.want, got.Category)
		}
	}
}

func TestFromHTTPStatusParsesRetryAfterSeconds(t *testing.T) {
	got := FromHTTPStatus(429, "5")
	if got.RetryAfter != 5*time.Second {
		t.Fatalf("expected 5s RetryAfter, got %v", got.RetryAfter)
	}
}

func TestFromJSONRPCError(t *testing.T) {
	got := FromJSONRPCError(-32601, "method not found")
	if got.Category != CategoryProtocolRPCError {
		t.Fatalf("expected CategoryProtocolRPCError, got %v", got.Category)
	}
}

func TestPolicyForUnknownCategoryDefaultsToCountsAsFailure(t *testing.T) {
	p := PolicyFor(Category("NOT_A_REAL_CATEGORY"))
	if p.Retryable {
		t.Fatal("expected unknown category to default to non-retryable")
	}
	if !p.CountsAsFailure {
		t.Fatal("expected unknown category to default to counting as a failure")
	}
}

func TestShouldRetryHonorsMaxRetries(t *testing.T) {
	if !ShouldRetry(CategoryNetworkTimeout, 0, 2) {
		t.Fatal("expected attempt 0 of 2 max retries to be retryable for a retryable category")
	}
	if ShouldRetry(CategoryNetworkTimeout, 2, 2) {
		t.Fatal("expected attempt == maxRetries to stop retrying")
	}
}

func TestShouldRetryHonorsCategoryPolicy(t *testing.T) {
	if ShouldRetry(CategoryAuthFailure, 0, 5) {
		t.Fatal("expected a non-retryable category to never retry")
	}
}
