// Package session runs one device-side connection: handshake, dispatch, and
// the click and capture workers that live exactly as long as the connection.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rbright/mirkobo/internal/delivery"
	"github.com/rbright/mirkobo/internal/metrics"
	"github.com/rbright/mirkobo/internal/protocol"
	"github.com/rbright/mirkobo/internal/transport"
)

// ErrProtocol marks a message that arrived out of handshake order.
var ErrProtocol = errors.New("protocol violation")

type captureRequest struct{}

// Options wires one Session.
type Options struct {
	Conn       transport.Conn
	Controller Controller
	Logger     *slog.Logger
	Metrics    *metrics.Device

	// TrackRotation re-queries the display size after every capture and
	// reports it again when it changed.
	TrackRotation bool

	// OnActive runs once, after Pong has been answered with ScreenSize.
	OnActive func()
}

// Session is one live connection. It is never reused after Run returns.
type Session struct {
	conn          transport.Conn
	ctl           Controller
	logger        *slog.Logger
	metrics       *metrics.Device
	trackRotation bool
	onActive      func()

	clicks   *delivery.Ordered[protocol.Click]
	captures *delivery.Slot[captureRequest]

	active bool

	sizeMu sync.Mutex
	width  uint32
	height uint32
}

// New constructs a session with safe fallbacks for optional collaborators.
func New(opts Options) *Session {
	ctl := opts.Controller
	if ctl == nil {
		ctl = unavailableController{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.NewDevice(nil)
	}
	onActive := opts.OnActive
	if onActive == nil {
		onActive = func() {}
	}

	return &Session{
		conn:          opts.Conn,
		ctl:           ctl,
		logger:        logger,
		metrics:       m,
		trackRotation: opts.TrackRotation,
		onActive:      onActive,
		clicks:        delivery.NewOrdered[protocol.Click](),
		captures:      delivery.NewSlot[captureRequest](),
	}
}

// Run sends Ping and dispatches host messages until the connection fails,
// a protocol violation occurs, or ctx is cancelled. Both workers have
// stopped and the connection is closed when Run returns.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.clicks.Run(gctx, s.injectTouch) })
	g.Go(func() error { return s.captures.Run(gctx, s.captureScreen) })
	g.Go(func() error {
		// Receive has no context; closing the connection unblocks it.
		<-gctx.Done()
		_ = s.conn.Close()
		return nil
	})

	defer func() {
		cancel()
		s.clicks.Close()
		s.captures.Close()
		_ = s.conn.Close()
		_ = g.Wait()
		s.metrics.TouchQueue.Set(0)
	}()

	if err := s.send(protocol.Ping{}); err != nil {
		return fmt.Errorf("send ping: %w", err)
	}

	for {
		data, err := s.conn.Receive()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("receive: %w", err)
		}

		msg, err := protocol.DecodeHost(data)
		if err != nil {
			return err
		}
		if err := s.dispatch(ctx, msg); err != nil {
			return err
		}
	}
}

func (s *Session) dispatch(ctx context.Context, msg protocol.HostMessage) error {
	switch m := msg.(type) {
	case protocol.Pong:
		if s.active {
			return fmt.Errorf("%w: duplicate pong", ErrProtocol)
		}
		return s.completeHandshake(ctx)
	case protocol.Click:
		if !s.active {
			return fmt.Errorf("%w: click before pong", ErrProtocol)
		}
		if err := s.clicks.Push(m); err != nil {
			return fmt.Errorf("queue click: %w", err)
		}
		s.metrics.TouchQueue.Set(float64(s.clicks.Len()))
		return nil
	case protocol.RequestScreen:
		if !s.active {
			return fmt.Errorf("%w: screen request before pong", ErrProtocol)
		}
		err := s.captures.TryPush(captureRequest{})
		switch {
		case err == nil:
			return nil
		case errors.Is(err, delivery.ErrBusy):
			s.logger.Debug("request for screen ignored, capture already in progress")
			s.metrics.CapturesShed.Inc()
			return nil
		default:
			return fmt.Errorf("queue capture: %w", err)
		}
	default:
		return fmt.Errorf("%w: unexpected %s", ErrProtocol, protocol.Name(msg))
	}
}

func (s *Session) completeHandshake(ctx context.Context) error {
	width, height, err := s.ctl.DisplaySize(ctx)
	if err != nil {
		return fmt.Errorf("query display size: %w", err)
	}
	if err := s.reportSize(width, height); err != nil {
		return err
	}

	s.active = true
	s.logger.Info("handshake complete", "remote", s.conn.RemoteAddr(), "width", width, "height", height)
	s.onActive()
	return nil
}

func (s *Session) reportSize(width, height uint32) error {
	if err := s.send(protocol.ScreenSize{Width: width, Height: height}); err != nil {
		return fmt.Errorf("send screen size: %w", err)
	}
	s.sizeMu.Lock()
	s.width, s.height = width, height
	s.sizeMu.Unlock()
	s.metrics.SizeReports.Inc()
	return nil
}

func (s *Session) injectTouch(ctx context.Context, click protocol.Click) {
	s.metrics.TouchQueue.Set(float64(s.clicks.Len()))
	if err := s.ctl.InjectTouch(ctx, click.X, click.Y); err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("touch injection failed", "x", click.X, "y", click.Y, "error", err.Error())
		s.metrics.Touches.WithLabelValues(metrics.ResultError).Inc()
		return
	}
	s.metrics.Touches.WithLabelValues(metrics.ResultOK).Inc()
}

func (s *Session) captureScreen(ctx context.Context, _ captureRequest) {
	started := time.Now()
	data, err := s.ctl.CaptureScreen(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("screen capture failed", "error", err.Error())
		s.metrics.Captures.WithLabelValues(metrics.ResultError).Inc()
		return
	}
	if ctx.Err() != nil {
		return
	}

	if err := s.send(protocol.Screen{Data: data}); err != nil {
		// The dispatch loop sees the same broken connection and ends the session.
		s.logger.Debug("screen send failed", "error", err.Error())
		return
	}
	s.metrics.Captures.WithLabelValues(metrics.ResultOK).Inc()
	s.metrics.ScreenBytes.Add(float64(len(data)))
	s.metrics.CaptureSeconds.Observe(time.Since(started).Seconds())

	if s.trackRotation {
		s.recheckSize(ctx)
	}
}

func (s *Session) recheckSize(ctx context.Context) {
	width, height, err := s.ctl.DisplaySize(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("display size re-check failed", "error", err.Error())
		}
		return
	}

	s.sizeMu.Lock()
	changed := width != s.width || height != s.height
	s.sizeMu.Unlock()
	if !changed {
		return
	}

	s.logger.Info("display size changed", "width", width, "height", height)
	if err := s.reportSize(width, height); err != nil {
		s.logger.Debug("screen size send failed", "error", err.Error())
	}
}

func (s *Session) send(msg protocol.DeviceMessage) error {
	data, err := protocol.EncodeDevice(msg)
	if err != nil {
		return err
	}
	return s.conn.Send(data)
}
