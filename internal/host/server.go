// Package host accepts device connections, keeps the current peer, and
// forwards screens to a Display and clicks back to the device.
package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/rbright/mirkobo/internal/fsm"
	"github.com/rbright/mirkobo/internal/metrics"
	"github.com/rbright/mirkobo/internal/protocol"
	"github.com/rbright/mirkobo/internal/transform"
	"github.com/rbright/mirkobo/internal/transport"
)

// DefaultRequestInterval is the RequestScreen cadence per streaming session.
const DefaultRequestInterval = time.Second

var (
	// ErrNoPeer is returned by Click when no device has completed the handshake.
	ErrNoPeer = errors.New("no device connected")
	// ErrDisplaySizeUnknown is returned by Click before any ScreenSize arrived.
	ErrDisplaySizeUnknown = errors.New("device display size unknown")
	// ErrInvalidArea is returned by Click for a non-positive render area.
	ErrInvalidArea = errors.New("invalid render area")
	// ErrProtocol marks a device message that arrived out of handshake order.
	ErrProtocol = errors.New("protocol violation")
)

// Display receives everything the device reports.
type Display interface {
	ConnectionActive(bool)
	DisplaySize(width, height uint32)
	Screen([]byte)
}

// StatusReporter mirrors peer availability into a health service.
type StatusReporter interface {
	SetPeerActive(bool)
}

type noopDisplay struct{}

func (noopDisplay) ConnectionActive(bool)      {}
func (noopDisplay) DisplaySize(uint32, uint32) {}
func (noopDisplay) Screen([]byte)              {}

type noopStatus struct{}

func (noopStatus) SetPeerActive(bool) {}

// Options wires a Server.
type Options struct {
	Transform       transform.Config
	RequestInterval time.Duration
	Display         Display
	Status          StatusReporter
	Logger          *slog.Logger
	Metrics         *metrics.Host
	Clock           clockwork.Clock
}

// Server is the host side of the link. One Server handles any number of
// sequential or overlapping connections; only the newest is used for clicks.
type Server struct {
	transform transform.Config
	interval  time.Duration
	display   Display
	status    StatusReporter
	logger    *slog.Logger
	metrics   *metrics.Host
	clock     clockwork.Clock

	mu         sync.Mutex
	current    *Session
	announced  bool
	deviceSize transform.Size
	sizeKnown  bool
}

// New constructs a server with no-op collaborators where none are given.
func New(opts Options) *Server {
	interval := opts.RequestInterval
	if interval <= 0 {
		interval = DefaultRequestInterval
	}
	display := opts.Display
	if display == nil {
		display = noopDisplay{}
	}
	status := opts.Status
	if status == nil {
		status = noopStatus{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.NewHost(nil)
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Server{
		transform: opts.Transform,
		interval:  interval,
		display:   display,
		status:    status,
		logger:    logger,
		metrics:   m,
		clock:     clock,
	}
}

// Session is one accepted device connection.
type Session struct {
	ID     string
	Remote string

	conn transport.Conn
	// fallback is the streaming session this one replaced. Set once in
	// register and read under Server.mu.
	fallback *Session

	mu    sync.Mutex
	state fsm.HostState
}

// State returns the session lifecycle state snapshot.
func (s *Session) State() fsm.HostState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) transition(event fsm.HostEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := fsm.HostTransition(s.state, event)
	if err != nil {
		return err
	}
	s.state = next
	return nil
}

func (s *Session) send(msg protocol.HostMessage) error {
	data, err := protocol.EncodeHost(msg)
	if err != nil {
		return err
	}
	return s.conn.Send(data)
}

// Serve runs one accepted connection until it fails, violates the
// handshake order, or ctx is cancelled. The request ticker is stopped and
// the connection closed before Serve returns.
func (s *Server) Serve(ctx context.Context, conn transport.Conn) error {
	sess := &Session{
		ID:     uuid.NewString(),
		Remote: conn.RemoteAddr(),
		conn:   conn,
		state:  fsm.HostAccepted,
	}
	logger := s.logger.With("session", sess.ID, "remote", sess.Remote)
	s.metrics.Sessions.Inc()
	s.register(sess)
	if err := sess.transition(fsm.HostEventRegister); err != nil {
		_ = conn.Close()
		s.release(sess, false)
		return err
	}
	logger.Info("device connected")

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		_ = conn.Close()
	}()

	defer func() {
		cancel()
		_ = conn.Close()
		wg.Wait()
		streamed := sess.State() == fsm.HostStreaming
		_ = sess.transition(fsm.HostEventClose)
		s.release(sess, streamed)
		logger.Info("device disconnected")
	}()

	for {
		data, err := conn.Receive()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("receive: %w", err)
		}

		msg, err := protocol.DecodeDevice(data)
		if err != nil {
			s.metrics.ProtocolErrors.Inc()
			logger.Warn("decode failed", "error", err.Error())
			return err
		}

		switch m := msg.(type) {
		case protocol.Ping:
			if sess.State() == fsm.HostStreaming {
				logger.Debug("repeated ping ignored")
				continue
			}
			if err := sess.send(protocol.Pong{}); err != nil {
				return fmt.Errorf("send pong: %w", err)
			}
			if err := sess.transition(fsm.HostEventPing); err != nil {
				return err
			}
			s.activate()

			wg.Add(1)
			go func() {
				defer wg.Done()
				s.requestScreens(ctx, sess, logger)
			}()
		case protocol.ScreenSize:
			if sess.State() != fsm.HostStreaming {
				s.metrics.ProtocolErrors.Inc()
				return fmt.Errorf("%w: screen size before ping", ErrProtocol)
			}
			if m.Width == 0 || m.Height == 0 {
				s.metrics.ProtocolErrors.Inc()
				logger.Warn("empty display size ignored", "width", m.Width, "height", m.Height)
				continue
			}
			s.setDeviceSize(m.Width, m.Height)
			logger.Info("device display size", "width", m.Width, "height", m.Height)
			s.display.DisplaySize(m.Width, m.Height)
		case protocol.Screen:
			if sess.State() != fsm.HostStreaming {
				s.metrics.ProtocolErrors.Inc()
				return fmt.Errorf("%w: screen before ping", ErrProtocol)
			}
			s.metrics.ScreensReceived.Inc()
			s.metrics.ScreenBytes.Add(float64(len(m.Data)))
			s.display.Screen(m.Data)
		default:
			s.metrics.ProtocolErrors.Inc()
			return fmt.Errorf("%w: unexpected %s", ErrProtocol, protocol.Name(msg))
		}
	}
}

// requestScreens sends RequestScreen on every tick without waiting for the
// resulting Screen; the device sheds requests it cannot serve.
func (s *Server) requestScreens(ctx context.Context, sess *Session, logger *slog.Logger) {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if err := sess.send(protocol.RequestScreen{}); err != nil {
				s.metrics.RequestFailures.Inc()
				logger.Debug("screen request failed", "error", err.Error())
				continue
			}
			s.metrics.RequestsSent.Inc()
		}
	}
}

func (s *Server) register(sess *Session) {
	s.mu.Lock()
	previous := s.current
	sess.fallback = s.peerLocked()
	s.current = sess
	s.mu.Unlock()

	if previous != nil {
		s.logger.Info("replacing current device", "previous", previous.ID, "session", sess.ID)
	}
}

// peerLocked returns the session clicks go to: the current session once it
// streams, otherwise the streaming session it replaced.
func (s *Server) peerLocked() *Session {
	if s.current == nil {
		return nil
	}
	if s.current.State() == fsm.HostStreaming {
		return s.current
	}
	if fb := s.current.fallback; fb != nil && fb.State() == fsm.HostStreaming {
		return fb
	}
	return nil
}

func (s *Server) activate() {
	s.metrics.ActivePeers.Inc()
	s.announce()
}

func (s *Server) release(sess *Session, streamed bool) {
	if streamed {
		s.metrics.ActivePeers.Dec()
	}

	s.mu.Lock()
	if s.current == sess {
		s.current = nil
		if fb := sess.fallback; fb != nil && fb.State() == fsm.HostStreaming {
			s.current = fb
			s.logger.Info("restoring previous device", "session", fb.ID)
		}
	}
	sess.fallback = nil
	s.mu.Unlock()
	s.announce()
}

// announce reports peer availability to the display and status service
// when it differs from what was last reported.
func (s *Server) announce() {
	s.mu.Lock()
	active := s.peerLocked() != nil
	changed := active != s.announced
	s.announced = active
	s.mu.Unlock()
	if !changed {
		return
	}
	s.display.ConnectionActive(active)
	s.status.SetPeerActive(active)
}

func (s *Server) setDeviceSize(width, height uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deviceSize = transform.Size{Width: float32(width), Height: float32(height)}
	s.sizeKnown = true
}

// DeviceSize returns the last reported device display size.
func (s *Server) DeviceSize() (transform.Size, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deviceSize, s.sizeKnown
}

// Current returns the newest accepted session, if any.
func (s *Server) Current() (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.current != nil
}

// Click maps a pointer position inside the rendered area to device
// coordinates and sends it to the current peer.
func (s *Server) Click(ctx context.Context, raw transform.Point, area transform.Size) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !area.Valid() {
		s.metrics.Clicks.WithLabelValues(metrics.ResultError).Inc()
		return fmt.Errorf("%w: %gx%g", ErrInvalidArea, area.Width, area.Height)
	}

	s.mu.Lock()
	peer := s.peerLocked()
	size, known := s.deviceSize, s.sizeKnown
	s.mu.Unlock()

	if !known {
		s.metrics.Clicks.WithLabelValues(metrics.ResultError).Inc()
		return ErrDisplaySizeUnknown
	}
	if peer == nil {
		s.metrics.Clicks.WithLabelValues(metrics.ResultError).Inc()
		return ErrNoPeer
	}

	x, y := transform.Apply(raw, area, s.transform, size)
	if err := peer.send(protocol.Click{X: x, Y: y}); err != nil {
		s.metrics.Clicks.WithLabelValues(metrics.ResultError).Inc()
		return fmt.Errorf("send click: %w", err)
	}
	s.metrics.Clicks.WithLabelValues(metrics.ResultOK).Inc()
	s.logger.Debug("click forwarded", "session", peer.ID, "x", x, "y", y)
	return nil
}
