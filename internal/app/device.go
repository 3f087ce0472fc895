package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/rbright/mirkobo/internal/cli"
	"github.com/rbright/mirkobo/internal/config"
	"github.com/rbright/mirkobo/internal/device"
	"github.com/rbright/mirkobo/internal/ipc"
	"github.com/rbright/mirkobo/internal/kobo"
	"github.com/rbright/mirkobo/internal/metrics"
	"github.com/rbright/mirkobo/internal/retry"
)

func (r Runner) commandDevice(ctx context.Context, cfg config.Config, logger *slog.Logger) int {
	ipcListener, cleanup, ok := r.acquireSocket(ctx, cli.RoleDevice)
	if !ok {
		return 1
	}
	defer cleanup()

	var metricsListener net.Listener
	if cfg.Device.MetricsListen != "" {
		lis, err := net.Listen("tcp", cfg.Device.MetricsListen)
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: listen %s: %v\n", cfg.Device.MetricsListen, err)
			return 1
		}
		metricsListener = lis
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	client := device.New(device.Options{
		Remote:        cfg.Device.Remote,
		Controller:    kobo.New(cfg.Device, logger.With("component", "kobo")),
		Logger:        logger,
		Metrics:       metrics.NewDevice(reg),
		Retry:         retry.New(cfg.Device.RetryDelay(), nil),
		TrackRotation: cfg.Device.TrackRotation,
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return ipc.Serve(gctx, ipcListener, client)
	})
	g.Go(func() error {
		// A requested stop returns nil; end the other workers with it.
		defer cancel()
		return client.Run(gctx)
	})
	if metricsListener != nil {
		metricsServer := &http.Server{
			Handler:           deviceRouter(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			if err := metricsServer.Serve(metricsListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve metrics: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer shutdownCancel()
			return metricsServer.Shutdown(shutdownCtx)
		})
	}

	logger.Info("device starting",
		"remote", cfg.Device.Remote,
		"retry_delay", cfg.Device.RetryDelay().String(),
		"track_rotation", cfg.Device.TrackRotation,
		"metrics_listen", cfg.Device.MetricsListen,
	)

	return r.exitCode(ctx, cli.RoleDevice, logger, g.Wait())
}

// deviceRouter exposes /metrics and /healthz on the e-reader.
func deviceRouter(gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return r
}
