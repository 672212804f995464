package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pulsefit/pulsefit-client-go/internal/domain"
	"github.com/pulsefit/pulsefit-client-go/pkg/safego"
)

// NOTE: The App struct and NewApp function are defined in providers.go for Wire.
// This file should only contain methods for the App struct, like Run().

// Run starts the probe process: the connectivity monitor, the realtime
// channel, and a small diagnostics HTTP server (/metrics, /healthz). It
// blocks until SIGINT/SIGTERM or context cancellation, then shuts down
// gracefully.
func (a *App) Run(ctx context.Context) error {
	serviceName := "pulsefit-client"
	version := "dev"
	if a.configProvider != nil && a.configProvider.Get() != nil {
		configApp := a.configProvider.Get().App
		if configApp.ServiceName != "" {
			serviceName = configApp.ServiceName
		}
		version = configApp.Version()
	}
	a.logger.Info(ctx, fmt.Sprintf("Starting %s probe...", serviceName), "version", version)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	a.monitor.Start(runCtx)

	if err := a.realtime.Connect(runCtx, false); err != nil {
		// The channel reconnects on its own once the backend is reachable.
		a.logger.Warn(ctx, "Initial realtime connect failed; will retry in background", "error", err.Error())
	}

	metricsPort := a.configProvider.Get().App.MetricsPort
	if metricsPort <= 0 {
		metricsPort = 9090
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		status := map[domain.ConnectionState]int{
			domain.StateConnected: http.StatusOK,
		}[a.realtime.State()]
		if status == 0 {
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(status)
		fmt.Fprintf(w, "realtime=%s online=%t queued=%d\n", a.realtime.State(), a.monitor.Online(), a.gateway.OfflineQueueLen())
	})
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", metricsPort),
		Handler: mux,
	}

	safego.Execute(runCtx, a.logger, "SignalListenerAndGracefulShutdown", func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-quit:
			a.logger.Info(context.Background(), "Shutdown signal received, initiating graceful shutdown...", "signal", sig.String())
		case <-runCtx.Done():
			a.logger.Info(context.Background(), "Application context cancelled, initiating graceful shutdown...")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		a.realtime.Close()
		a.monitor.Stop()
		a.gateway.Close()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error(context.Background(), "HTTP server graceful shutdown failed", "error", err.Error())
		}
		a.logger.Info(context.Background(), "HTTP server shut down.")
	})

	a.logger.Info(ctx, fmt.Sprintf("Diagnostics HTTP server listening on port %d", metricsPort))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		a.logger.Error(ctx, "HTTP server ListenAndServe error", "error", err.Error())
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	a.logger.Info(ctx, "Application shut down gracefully or server closed.")
	return nil
}
