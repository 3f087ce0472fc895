// Package device runs the e-reader side of the mirror link: dial, serve one
// session, wait, and dial again until stopped.
package device

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rbright/mirkobo/internal/fsm"
	"github.com/rbright/mirkobo/internal/ipc"
	"github.com/rbright/mirkobo/internal/metrics"
	"github.com/rbright/mirkobo/internal/retry"
	"github.com/rbright/mirkobo/internal/session"
	"github.com/rbright/mirkobo/internal/transport"
)

// DefaultDialTimeout bounds one websocket handshake.
const DefaultDialTimeout = 10 * time.Second

// Controller is the set of device-local operations driven by the host.
type Controller = session.Controller

// DialFunc opens one connection to the host.
type DialFunc func(ctx context.Context, remote string) (transport.Conn, error)

// Options wires a Client.
type Options struct {
	Remote        string
	Controller    Controller
	Logger        *slog.Logger
	Metrics       *metrics.Device
	Retry         retry.Policy
	Dial          DialFunc
	DialTimeout   time.Duration
	TrackRotation bool
}

// Client owns the device connection lifecycle.
type Client struct {
	remote        string
	ctl           Controller
	logger        *slog.Logger
	metrics       *metrics.Device
	retry         retry.Policy
	dial          DialFunc
	trackRotation bool

	mu       sync.RWMutex
	state    fsm.DeviceState
	stop     context.CancelFunc
	stopping bool
}

// New constructs a client with real-clock retry and websocket dialing by default.
func New(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.NewDevice(nil)
	}
	policy := retry.New(opts.Retry.Delay, opts.Retry.Clock)
	dial := opts.Dial
	if dial == nil {
		timeout := opts.DialTimeout
		if timeout <= 0 {
			timeout = DefaultDialTimeout
		}
		dial = func(ctx context.Context, remote string) (transport.Conn, error) {
			return transport.Dial(ctx, remote, timeout)
		}
	}

	return &Client{
		remote:        opts.Remote,
		ctl:           opts.Controller,
		logger:        logger,
		metrics:       m,
		retry:         policy,
		dial:          dial,
		trackRotation: opts.TrackRotation,
		state:         fsm.DeviceDisconnected,
	}
}

// State returns the current connection state snapshot.
func (c *Client) State() fsm.DeviceState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Client) transition(event fsm.DeviceEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next, err := fsm.DeviceTransition(c.state, event)
	if err != nil {
		return err
	}
	c.state = next
	return nil
}

// Run connects, serves sessions, and reconnects after the retry delay until
// ctx is cancelled or a stop is requested. A requested stop returns nil.
func (c *Client) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	c.stop = cancel
	c.mu.Unlock()

	attempted := false
	for {
		if attempted {
			if err := c.retry.Wait(ctx); err != nil {
				return c.finish(err)
			}
		}
		attempted = true

		if err := c.transition(fsm.DeviceEventDial); err != nil {
			return err
		}
		c.logger.Debug("dialing host", "remote", c.remote)

		conn, err := c.dial(ctx, c.remote)
		if err != nil {
			_ = c.transition(fsm.DeviceEventDialFailed)
			if ctx.Err() != nil {
				return c.finish(ctx.Err())
			}
			c.metrics.DialFailures.Inc()
			c.logger.Warn("connect failed", "remote", c.remote, "retry_in", c.retry.Delay.String(), "error", err.Error())
			continue
		}

		if err := c.transition(fsm.DeviceEventConnected); err != nil {
			_ = conn.Close()
			return err
		}
		c.metrics.Sessions.Inc()
		c.logger.Info("connected to host", "remote", conn.RemoteAddr())

		err = c.serve(ctx, conn)
		_ = c.transition(fsm.DeviceEventDisconnect)
		if ctx.Err() != nil {
			return c.finish(ctx.Err())
		}
		c.logger.Warn("connection lost", "remote", c.remote, "retry_in", c.retry.Delay.String(), "error", errString(err))
	}
}

func (c *Client) serve(ctx context.Context, conn transport.Conn) error {
	s := session.New(session.Options{
		Conn:          conn,
		Controller:    c.ctl,
		Logger:        c.logger.With("remote", conn.RemoteAddr()),
		Metrics:       c.metrics,
		TrackRotation: c.trackRotation,
		OnActive: func() {
			if err := c.transition(fsm.DeviceEventPong); err != nil {
				c.logger.Error("state transition failed", "error", err.Error())
			}
		},
	})
	return s.Run(ctx)
}

func (c *Client) finish(err error) error {
	c.mu.RLock()
	stopping := c.stopping
	c.mu.RUnlock()
	if stopping {
		c.logger.Info("device stopped")
		return nil
	}
	return err
}

// Handle serves IPC commands for the running device process.
func (c *Client) Handle(_ context.Context, req ipc.Request) ipc.Response {
	switch req.Command {
	case ipc.CommandStatus:
		return ipc.Response{OK: true, Role: "device", State: string(c.State()), Peer: c.remote}
	case ipc.CommandStop:
		c.mu.Lock()
		stop := c.stop
		if stop != nil {
			c.stopping = true
		}
		c.mu.Unlock()
		if stop == nil {
			return ipc.Response{OK: false, State: string(c.State()), Error: "device not running"}
		}
		stop()
		return ipc.Response{OK: true, State: string(c.State()), Message: "stop requested"}
	default:
		return ipc.Response{OK: false, State: string(c.State()), Error: fmt.Sprintf("unknown command: %s", req.Command)}
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
