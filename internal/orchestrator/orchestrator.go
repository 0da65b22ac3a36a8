// Package orchestrator implements the per-connection session driver for
// execcore's WebSocket execution protocol: it upgrades the HTTP request,
// authenticates the job token, runs the source through the validator,
// drives the executor on its own worker, and relays output and the
// terminal event back to the client.
package orchestrator

import (
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sandboxlabs/execcore/internal/bus"
	"github.com/sandboxlabs/execcore/internal/codevalidator"
	"github.com/sandboxlabs/execcore/internal/config"
	"github.com/sandboxlabs/execcore/internal/executor"
	"github.com/sandboxlabs/execcore/internal/jobstore"
	"github.com/sandboxlabs/execcore/internal/log"
	"github.com/sandboxlabs/execcore/internal/metrics"
)

// firstMessageTimeout bounds how long a newly upgraded socket may go
// without sending its "execute" frame.
const firstMessageTimeout = 5 * time.Second

// cancelGraceTimeout bounds how long the orchestrator waits for a terminal
// bus event after it decides to cancel an in-flight execution, before
// closing the socket regardless and leaving teardown to the executor.
const cancelGraceTimeout = 3 * time.Second

// Server upgrades and drives WebSocket execution sessions.
type Server struct {
	cfg       config.Config
	store     jobstore.Store
	bus       bus.Bus
	validator *codevalidator.Validator
	exec      *executor.Executor
	metrics   *metrics.Metrics

	upgrader websocket.Upgrader
	limiter  *addressLimiter
	logger   log.Logger
}

// New builds a Server. The returned value is ready to Register on a mux.
func New(cfg config.Config, store jobstore.Store, msgBus bus.Bus, validator *codevalidator.Validator, exec *executor.Executor, m *metrics.Metrics) *Server {
	limiter := newAddressLimiter(cfg.RateLimit)
	// A nil stop channel keeps the sweep running for the process's lifetime,
	// which is the Server's lifetime.
	go limiter.sweep(time.Minute, nil)

	return &Server{
		cfg:       cfg,
		store:     store,
		bus:       msgBus,
		validator: validator,
		exec:      exec,
		metrics:   m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		limiter: limiter,
		logger:  log.New("orchestrator"),
	}
}

// Register mounts the execution endpoint on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/ws/execute", s.handleExecute)
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	addr := remoteHost(r.RemoteAddr)
	if !s.limiter.allow(addr) {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnf("upgrade failed: %v", err)
		return
	}

	sess := newSession(s, conn)
	if s.metrics != nil {
		s.metrics.SessionsInFlight.Inc()
		defer s.metrics.SessionsInFlight.Dec()
	}
	sess.run(r.Context())
}

func remoteHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
