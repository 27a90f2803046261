package api

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/dualpath/healthengine/internal/breaker"
	"github.com/dualpath/healthengine/internal/config"
	"github.com/dualpath/healthengine/internal/healthcheck"
	"github.com/dualpath/healthengine/internal/metricsstore"
)

// Server is the Read API. It answers entirely from
// already-published state — the breaker, the metrics store, and the
// service's latest-result cache — and never triggers a probe itself. A
// thin wrapper around *http.Server with its own listener, so Addr()
// reports the real bound port under ephemeral-port tests.
type Server struct {
	Service *healthcheck.Service
	Breaker *breaker.Breaker
	Store   *metricsstore.Store
	Epoch   *config.EpochHolder

	addr string

	mu       sync.Mutex
	srv      *http.Server
	listener net.Listener
	stopped  bool
}

// NewServer builds a Server bound to addr (host:port, empty host for all
// interfaces, ":0" for an ephemeral port).
func NewServer(addr string, svc *healthcheck.Service, b *breaker.Breaker, store *metricsstore.Store, epoch *config.EpochHolder) *Server {
	return &Server{
		Service: svc,
		Breaker: b,
		Store:   store,
		Epoch:   epoch,
		addr:    addr,
	}
}

// Start builds the route table and begins serving in a background
// goroutine: manual http.NewServeMux routing, net.Listen before
// returning so Addr() is immediately valid, Serve running detached.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/status/health", s.handleHealth)
	mux.HandleFunc("/status/servers", s.handleServers)
	mux.HandleFunc("/status/servers/", s.handleServerDetail)
	mux.HandleFunc("/status/metrics", s.handleMetrics)
	mux.HandleFunc("/status/circuit-breaker", s.handleCircuitBreakerList)
	mux.HandleFunc("/status/circuit-breaker/", s.handleCircuitBreakerRoute)

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.listener = listener
	s.srv = &http.Server{
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
	srv := s.srv
	s.mu.Unlock()

	go srv.Serve(listener)
	return nil
}

// Shutdown gracefully stops the server. Idempotent.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped || s.srv == nil {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	srv := s.srv
	s.mu.Unlock()

	return srv.Shutdown(ctx)
}

// Addr returns the bound address, preferring the listener's actual address
// so callers started on ":0" can discover the real port.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// URL returns the base HTTP URL for this server.
func (s *Server) URL() string {
	return "http://" + s.Addr()
}

// StartTestServer is a test helper: builds and starts a Server on an
// ephemeral loopback port, returning it ready to use.
func StartTestServer(svc *healthcheck.Service, b *breaker.Breaker, store *metricsstore.Store, epoch *config.EpochHolder) (*Server, error) {
	s := NewServer("127.0.0.1:0", svc, b, store, epoch)
	if err := s.Start(); err != nil {
		return nil, err
	}
	return s, nil
}
