package probe

import (
	"context"
	"time"
)

// ProbeContext carries everything one probe attempt needs, independent of
// which path is issuing it.
type ProbeContext struct {
	Ctx         context.Context
	ServerName  string
	Endpoint    string
	AuthHeaders map[string]string
	Timeout     time.Duration

	// MaxRetries is this server's per-path retry budget (ServerConfig's
	// protocol_retries/rest_retries). The clients hold no retry budget of
	// their own, since retries are configured per server, not per client
	// instance.
	MaxRetries int

	// ExpectedTools and ExpectedStatusCodes are consulted by the
	// PROTOCOL and REST probes respectively; the unused one is ignored.
	ExpectedTools       []string
	ExpectedStatusCodes []int
}

// deadline returns a context bounded by Timeout, and its cancel func.
func (p ProbeContext) deadline() (context.Context, context.CancelFunc) {
	return context.WithTimeout(p.Ctx, p.Timeout)
}
