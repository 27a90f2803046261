package classify

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// OperationError is the typed error produced by this package. Probe
// clients never raise an untyped error to the Health Check Service; every
// failure mode is encoded as one of these.
type OperationError struct {
	Category   Category
	Message    string
	RetryAfter time.Duration
}

func (e *OperationError) Error() string {
	return string(e.Category) + ": " + e.Message
}

// FromTransportError maps a transport-level error (dial, DNS, TLS, context
// deadline) to a Category via an errors.As chain.
func FromTransportError(err error) *OperationError {
	if err == nil {
		return nil
	}

	if existing, ok := err.(*OperationError); ok {
		return existing
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &OperationError{Category: CategoryNetworkTimeout, Message: "probe timed out"}
	}
	if errors.Is(err, context.Canceled) {
		return &OperationError{Category: CategoryInternal, Message: "probe cancelled"}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return &OperationError{Category: CategoryNetworkTimeout, Message: "DNS lookup timed out: " + dnsErr.Name}
		}
		return &OperationError{Category: CategoryTransportConnection, Message: "DNS lookup failed: " + dnsErr.Name}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Timeout() {
			return &OperationError{Category: CategoryNetworkTimeout, Message: opErr.Op + " timeout"}
		}
		return &OperationError{Category: CategoryTransportConnection, Message: opErr.Error()}
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return &OperationError{Category: CategoryNetworkTimeout, Message: "request timeout: " + urlErr.Op}
		}
		return FromTransportError(urlErr.Err)
	}

	var recordErr *tls.RecordHeaderError
	if errors.As(err, &recordErr) {
		return &OperationError{Category: CategoryTransportTLS, Message: "TLS record header error"}
	}
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return &OperationError{Category: CategoryTransportTLS, Message: "certificate verification failed"}
	}
	var unknownAuth x509.UnknownAuthorityError
	if errors.As(err, &unknownAuth) {
		return &OperationError{Category: CategoryTransportTLS, Message: "certificate signed by unknown authority"}
	}
	var hostErr x509.HostnameError
	if errors.As(err, &hostErr) {
		return &OperationError{Category: CategoryTransportTLS, Message: "certificate hostname mismatch"}
	}

	errStr := err.Error()
	if strings.Contains(errStr, "tls:") || strings.Contains(errStr, "TLS") {
		return &OperationError{Category: CategoryTransportTLS, Message: errStr}
	}

	return &OperationError{Category: CategoryTransportConnection, Message: errStr}
}

// FromHTTPStatus maps an HTTP status code (and optional Retry-After header
// value) to a Category.
func FromHTTPStatus(status int, retryAfterHeader string) *OperationError {
	retryAfter := parseRetryAfter(retryAfterHeader)
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == 408:
		return &OperationError{Category: CategoryHTTP408, Message: "request timeout", RetryAfter: retryAfter}
	case status == 425:
		return &OperationError{Category: CategoryHTTP425, Message: "too early", RetryAfter: retryAfter}
	case status == 429:
		return &OperationError{Category: CategoryHTTP429, Message: "rate limited", RetryAfter: retryAfter}
	case status == 401 || status == 403:
		return &OperationError{Category: CategoryAuthFailure, Message: "authentication failed"}
	case status >= 400 && status < 500:
		return &OperationError{Category: CategoryHTTP4xx, Message: "client error: " + strconv.Itoa(status)}
	case status >= 500 && status < 600:
		return &OperationError{Category: CategoryHTTP5xx, Message: "server error: " + strconv.Itoa(status)}
	default:
		return &OperationError{Category: CategoryRESTStatusUnexpected, Message: "unexpected status: " + strconv.Itoa(status)}
	}
}

// FromJSONRPCError maps a JSON-RPC 2.0 error object to a Category.
func FromJSONRPCError(code int, message string) *OperationError {
	return &OperationError{Category: CategoryProtocolRPCError, Message: message + " (code " + strconv.Itoa(code) + ")"}
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := time.Parse(time.RFC1123, header); err == nil {
		d := time.Until(t)
		if d > 0 {
			return d
		}
	}
	return 0
}
