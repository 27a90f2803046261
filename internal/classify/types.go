// Package classify maps transport/HTTP/JSON-RPC failures onto the closed
// error-category taxonomy and encodes the per-category retry
// policy.
package classify

// Category is a closed taxonomy of probe failure reasons. Values are
// category names, not Go type names.
type Category string

const (
	CategoryNone                    Category = ""
	CategoryNetworkTimeout          Category = "NETWORK_TIMEOUT"
	CategoryTransportConnection     Category = "TRANSPORT_CONNECTION"
	CategoryTransportTLS            Category = "TRANSPORT_TLS"
	CategoryHTTP4xx                 Category = "HTTP_4XX"
	CategoryHTTP5xx                 Category = "HTTP_5XX"
	CategoryHTTP408                 Category = "HTTP_408"
	CategoryHTTP425                 Category = "HTTP_425"
	CategoryHTTP429                 Category = "HTTP_429"
	CategoryProtocolInvalidResponse Category = "PROTOCOL_INVALID_RESPONSE"
	CategoryProtocolRPCError        Category = "PROTOCOL_RPC_ERROR"
	CategoryProtocolToolsMissing    Category = "PROTOCOL_TOOLS_MISSING"
	CategoryRESTReportedUnhealthy   Category = "REST_REPORTED_UNHEALTHY"
	CategoryRESTStatusUnexpected    Category = "REST_STATUS_UNEXPECTED"
	CategoryAuthFailure             Category = "AUTH_FAILURE"
	CategoryCircuitOpen             Category = "CIRCUIT_OPEN"
	CategoryInternal                Category = "INTERNAL"
)

// Policy is the retry/accounting behavior attached to a category.
type Policy struct {
	Retryable       bool
	CountsAsFailure bool
}

// policies is the per-category retry/accounting table. Categories absent
// from this map default to Policy{Retryable: false, CountsAsFailure: true}.
var policies = map[Category]Policy{
	CategoryNetworkTimeout:          {Retryable: true, CountsAsFailure: true},
	CategoryTransportConnection:     {Retryable: true, CountsAsFailure: true},
	CategoryTransportTLS:            {Retryable: false, CountsAsFailure: true},
	CategoryHTTP4xx:                 {Retryable: false, CountsAsFailure: true},
	CategoryHTTP5xx:                 {Retryable: true, CountsAsFailure: true},
	CategoryHTTP408:                 {Retryable: true, CountsAsFailure: true},
	CategoryHTTP425:                 {Retryable: true, CountsAsFailure: true},
	CategoryHTTP429:                 {Retryable: true, CountsAsFailure: true},
	CategoryProtocolInvalidResponse: {Retryable: false, CountsAsFailure: true},
	CategoryProtocolRPCError:        {Retryable: false, CountsAsFailure: true},
	CategoryProtocolToolsMissing:    {Retryable: false, CountsAsFailure: true},
	CategoryRESTReportedUnhealthy:   {Retryable: false, CountsAsFailure: true},
	CategoryRESTStatusUnexpected:    {Retryable: false, CountsAsFailure: true},
	CategoryAuthFailure:             {Retryable: false, CountsAsFailure: true},
	CategoryCircuitOpen:             {Retryable: false, CountsAsFailure: false},
	CategoryInternal:                {Retryable: false, CountsAsFailure: true},
}

// PolicyFor returns the retry policy for a category.
func PolicyFor(c Category) Policy {
	if p, ok := policies[c]; ok {
		return p
	}
	return Policy{Retryable: false, CountsAsFailure: true}
}
