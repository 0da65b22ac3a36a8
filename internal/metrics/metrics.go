// Package metrics exposes execcore's Prometheus metrics and a liveness
// endpoint, mirroring fluxbase's promauto-based registration pattern but
// scoped to the handful of gauges/counters/histograms this engine needs.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sandboxlabs/execcore/internal/log"
)

// Metrics holds every Prometheus collector execcore registers.
type Metrics struct {
	SessionsInFlight  prometheus.Gauge
	JobsTotal         *prometheus.CounterVec
	ExecutionDuration *prometheus.HistogramVec
}

// New creates and registers execcore's metrics against the default
// registry. Call once at startup.
func New() *Metrics {
	return &Metrics{
		SessionsInFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "execcore_sessions_in_flight",
			Help: "Number of WebSocket execution sessions currently open.",
		}),
		JobsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "execcore_jobs_total",
			Help: "Jobs reaching a terminal status, by language and status.",
		}, []string{"language", "status"}),
		ExecutionDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "execcore_execution_duration_seconds",
			Help:    "Wall-clock seconds spent in the sandboxed PTY run, by language.",
			Buckets: []float64{.1, .25, .5, 1, 2, 3, 5, 7, 10},
		}, []string{"language"}),
	}
}

// ObserveJob records a job reaching a terminal status and its execution
// wall-clock time.
func (m *Metrics) ObserveJob(language, status string, elapsedSec float64) {
	m.JobsTotal.WithLabelValues(language, status).Inc()
	m.ExecutionDuration.WithLabelValues(language).Observe(elapsedSec)
}

// Server serves /metrics and /healthz on a dedicated listener address,
// separate from the orchestrator's WebSocket listener.
type Server struct {
	httpServer *http.Server
	logger     log.Logger
}

// NewServer builds a Server bound to addr. It does not start listening
// until Run is called.
func NewServer(addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: log.New("metrics"),
	}
}

// Run blocks serving metrics and health checks until ctx is cancelled, then
// shuts the listener down.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Infof("metrics server listening on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
