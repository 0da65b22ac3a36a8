package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/sandboxlabs/execcore/internal/bus"
	"github.com/sandboxlabs/execcore/internal/cgroup"
	"github.com/sandboxlabs/execcore/internal/codevalidator"
	"github.com/sandboxlabs/execcore/internal/config"
	"github.com/sandboxlabs/execcore/internal/executor"
	"github.com/sandboxlabs/execcore/internal/httpapi"
	"github.com/sandboxlabs/execcore/internal/jobstore"
	"github.com/sandboxlabs/execcore/internal/log"
	"github.com/sandboxlabs/execcore/internal/metrics"
	"github.com/sandboxlabs/execcore/internal/orchestrator"
	"github.com/sandboxlabs/execcore/internal/tlsutil"
	"github.com/sandboxlabs/execcore/internal/watch"
)

// gracefulShutdownTimeout bounds how long serve waits for in-flight HTTP
// requests to finish after a termination signal before closing the server
// outright. A second signal does not cut the wait short, and upgraded
// WebSocket sessions are not waited for: http.Server.Shutdown does not track
// hijacked connections.
const gracefulShutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "serve",
		Short:        "Run the execution HTTP/WebSocket service",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
	return cmd
}

func runServe(ctx context.Context) error {
	logger := log.New("main")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.Logging.Level != "" {
		if lvl, err := zerologLevel(cfg.Logging.Level); err == nil {
			log.SetLevel(lvl)
		}
	}

	cgroupSvc, err := cgroup.NewService()
	if err != nil {
		return fmt.Errorf("cgroup service setup: %w", err)
	}
	defer func() {
		if err := cgroupSvc.Cleanup(); err != nil {
			logger.Warnf("cgroup cleanup: %v", err)
		}
	}()

	store, err := jobstore.New(*cfg)
	if err != nil {
		return fmt.Errorf("job store setup: %w", err)
	}
	defer store.Close()

	msgBus, err := bus.New(*cfg)
	if err != nil {
		return fmt.Errorf("bus setup: %w", err)
	}
	defer msgBus.Close()

	validator := codevalidator.New()
	exec := executor.New(*cfg, cgroupSvc)

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	profileWatcher := watch.NewProfileWatcher(cfg.Sandbox.Profile)
	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	go func() {
		if err := profileWatcher.Watch(watchCtx); err != nil && watchCtx.Err() == nil {
			logger.Warnf("sandbox profile watcher stopped: %v", err)
		}
	}()

	mux := http.NewServeMux()
	httpapi.NewHandler(store, *cfg).Register(mux)
	orchestrator.New(*cfg, store, msgBus, validator, exec, m).Register(mux)

	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	useTLS := cfg.Server.TLSCert != "" && cfg.Server.TLSKey != ""
	if useTLS {
		tlsConfig, err := tlsutil.NewServerTLSConfig(cfg.Server.TLSCert, cfg.Server.TLSKey)
		if err != nil {
			return fmt.Errorf("build server tls config: %w", err)
		}
		srv.TLSConfig = tlsConfig
	}

	serveErrCh := make(chan error, 1)
	go func() {
		logger.Infof("listening on %s", cfg.Server.Address)
		if useTLS {
			// Cert and key are already loaded into srv.TLSConfig; passing
			// empty paths here tells ListenAndServeTLS to use them as-is.
			serveErrCh <- srv.ListenAndServeTLS("", "")
			return
		}
		serveErrCh <- srv.ListenAndServe()
	}()

	var metricsErrCh <-chan error
	if cfg.Metrics.Enabled {
		ch := make(chan error, 1)
		metricsSrv := metrics.NewServer(cfg.Metrics.Address)
		go func() { ch <- metricsSrv.Run(ctx) }()
		metricsErrCh = ch
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case err := <-serveErrCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case err := <-orNil(metricsErrCh):
		return fmt.Errorf("metrics server: %w", err)
	case <-sigCh:
		logger.Infof("termination signal received, shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warnf("graceful shutdown failed, forcing close: %v", err)
			return srv.Close()
		}
		return nil
	}
}

// orNil adapts a possibly-nil receive-only channel into one that never
// fires, so it can be selected on unconditionally.
func orNil(ch <-chan error) <-chan error {
	if ch != nil {
		return ch
	}
	return make(chan error)
}

func zerologLevel(s string) (zerolog.Level, error) {
	return zerolog.ParseLevel(s)
}
