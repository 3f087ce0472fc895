package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/rbright/mirkobo/internal/cli"
	"github.com/rbright/mirkobo/internal/config"
	"github.com/rbright/mirkobo/internal/host"
	"github.com/rbright/mirkobo/internal/indicator"
	"github.com/rbright/mirkobo/internal/ipc"
	"github.com/rbright/mirkobo/internal/metrics"
	"github.com/rbright/mirkobo/internal/status"
	"github.com/rbright/mirkobo/internal/transform"
	"github.com/rbright/mirkobo/internal/viewer"
)

func (r Runner) commandHost(ctx context.Context, cfg config.Config, logger *slog.Logger) int {
	ipcListener, cleanup, ok := r.acquireSocket(ctx, cli.RoleHost)
	if !ok {
		return 1
	}
	defer cleanup()

	httpListener, err := net.Listen("tcp", cfg.Host.Listen)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: listen %s: %v\n", cfg.Host.Listen, err)
		return 1
	}

	var (
		statusListener net.Listener
		statusServer   *status.Server
	)
	if cfg.Host.StatusListen != "" {
		statusListener, err = net.Listen("tcp", cfg.Host.StatusListen)
		if err != nil {
			_ = httpListener.Close()
			fmt.Fprintf(r.Stderr, "error: listen %s: %v\n", cfg.Host.StatusListen, err)
			return 1
		}
		statusServer = status.NewServer()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	view := viewer.New(cfg.Host.FramePath, logger.With("component", "viewer"))
	notifier := indicator.NewNotifier(cfg.Host.Notify, logger.With("component", "indicator"))
	defer notifier.Dismiss(context.Background())

	opts := host.Options{
		Transform:       transformConfig(cfg.Transform),
		RequestInterval: cfg.Host.RequestInterval(),
		Display:         notifier.Wrap(view),
		Logger:          logger,
		Metrics:         metrics.NewHost(reg),
	}
	if statusServer != nil {
		opts.Status = statusServer
	}
	srv := host.New(opts)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	httpServer := &http.Server{
		Handler:           srv.Router(host.RouterOptions{Gatherer: reg, Mount: view.Routes(srv)}),
		ReadHeaderTimeout: 10 * time.Second,
		// Device sessions hijack their connection; tie them to the run context
		// so shutdown ends them too.
		BaseContext: func(net.Listener) context.Context { return gctx },
	}

	control := hostControl{server: srv, stop: cancel}
	g.Go(func() error {
		return ipc.Serve(gctx, ipcListener, control)
	})
	g.Go(func() error {
		if err := httpServer.Serve(httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer shutdownCancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	if statusServer != nil {
		g.Go(func() error {
			return statusServer.Serve(gctx, statusListener)
		})
	}

	logger.Info("host listening",
		"listen", httpListener.Addr().String(),
		"status_listen", cfg.Host.StatusListen,
		"request_interval", cfg.Host.RequestInterval().String(),
	)
	fmt.Fprintf(r.Stdout, "listening on %s\n", httpListener.Addr().String())

	return r.exitCode(ctx, cli.RoleHost, logger, g.Wait())
}

func transformConfig(cfg config.TransformConfig) transform.Config {
	return transform.Config{
		ShiftX:   cfg.ShiftX,
		ShiftY:   cfg.ShiftY,
		InvertX:  cfg.InvertX,
		InvertY:  cfg.InvertY,
		SwapAxes: cfg.SwapAxes,
	}
}

// hostControl answers control-socket requests for a running host.
type hostControl struct {
	server *host.Server
	stop   context.CancelFunc
}

func (c hostControl) Handle(_ context.Context, req ipc.Request) ipc.Response {
	switch req.Command {
	case ipc.CommandStatus:
		sess, ok := c.server.Current()
		if !ok {
			return ipc.Response{OK: true, Role: cli.RoleHost, State: "listening"}
		}
		return ipc.Response{OK: true, Role: cli.RoleHost, State: string(sess.State()), Peer: sess.Remote}
	case ipc.CommandStop:
		c.stop()
		return ipc.Response{OK: true, Role: cli.RoleHost, Message: "stop requested"}
	default:
		return ipc.Response{OK: false, Role: cli.RoleHost, Error: fmt.Sprintf("unknown command: %s", req.Command)}
	}
}
