package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/rbright/mirkobo/internal/metrics"
	"github.com/rbright/mirkobo/internal/protocol"
	"github.com/rbright/mirkobo/internal/transport"
)

type fakeController struct {
	mu      sync.Mutex
	sizes   [][2]uint32
	sizeErr error
	touches []protocol.Click

	captureGate    chan struct{}
	captureStarted chan struct{}
	captureErr     error
	captures       atomic.Int32

	blockTouch    bool
	touchStarted  chan struct{}
	touchReturned atomic.Bool
}

func newFakeController() *fakeController {
	return &fakeController{
		sizes:          [][2]uint32{{600, 800}},
		captureStarted: make(chan struct{}, 8),
		touchStarted:   make(chan struct{}, 8),
	}
}

func (f *fakeController) CaptureScreen(ctx context.Context) ([]byte, error) {
	f.captures.Add(1)
	f.captureStarted <- struct{}{}
	if f.captureGate != nil {
		select {
		case <-f.captureGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.captureErr != nil {
		return nil, f.captureErr
	}
	return []byte("png"), nil
}

func (f *fakeController) InjectTouch(ctx context.Context, x, y uint16) error {
	f.mu.Lock()
	f.touches = append(f.touches, protocol.Click{X: x, Y: y})
	f.mu.Unlock()
	f.touchStarted <- struct{}{}

	if f.blockTouch {
		<-ctx.Done()
		f.touchReturned.Store(true)
		return ctx.Err()
	}
	return nil
}

func (f *fakeController) DisplaySize(context.Context) (uint32, uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sizeErr != nil {
		return 0, 0, f.sizeErr
	}
	size := f.sizes[0]
	if len(f.sizes) > 1 {
		f.sizes = f.sizes[1:]
	}
	return size[0], size[1], nil
}

func (f *fakeController) touched() []protocol.Click {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.Click(nil), f.touches...)
}

type hostEnd struct {
	t    *testing.T
	conn transport.Conn
}

func (h hostEnd) send(msg protocol.HostMessage) {
	h.t.Helper()
	data, err := protocol.EncodeHost(msg)
	require.NoError(h.t, err)
	require.NoError(h.t, h.conn.Send(data))
}

func (h hostEnd) receive() protocol.DeviceMessage {
	h.t.Helper()
	data, err := h.conn.Receive()
	require.NoError(h.t, err)
	msg, err := protocol.DecodeDevice(data)
	require.NoError(h.t, err)
	return msg
}

type harness struct {
	session *Session
	host    hostEnd
	ctl     *fakeController
	metrics *metrics.Device
	active  chan struct{}
	errCh   chan error
	cancel  context.CancelFunc
}

func startSession(t *testing.T, ctl *fakeController, trackRotation bool) *harness {
	t.Helper()

	deviceConn, hostConn := transport.Pipe()
	m := metrics.NewDevice(nil)
	active := make(chan struct{}, 1)
	s := New(Options{
		Conn:          deviceConn,
		Controller:    ctl,
		Metrics:       m,
		TrackRotation: trackRotation,
		OnActive:      func() { active <- struct{}{} },
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	h := &harness{
		session: s,
		host:    hostEnd{t: t, conn: hostConn},
		ctl:     ctl,
		metrics: m,
		active:  active,
		errCh:   errCh,
		cancel:  cancel,
	}
	t.Cleanup(func() {
		cancel()
		_ = hostConn.Close()
	})
	return h
}

func (h *harness) handshake(t *testing.T) {
	t.Helper()
	require.Equal(t, protocol.Ping{}, h.host.receive())
	h.host.send(protocol.Pong{})
	require.Equal(t, protocol.ScreenSize{Width: 600, Height: 800}, h.host.receive())
	waitSignal(t, h.active, "session active")
}

func (h *harness) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.errCh:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop")
		return nil
	}
}

func waitSignal(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestHandshakeSendsPingThenScreenSize(t *testing.T) {
	h := startSession(t, newFakeController(), false)
	h.handshake(t)
	require.Equal(t, 1.0, testutil.ToFloat64(h.metrics.SizeReports))

	h.cancel()
	require.ErrorIs(t, h.wait(t), context.Canceled)
}

func TestDisplaySizeFailureEndsSession(t *testing.T) {
	ctl := newFakeController()
	ctl.sizeErr = errors.New("fbset missing")
	h := startSession(t, ctl, false)

	require.Equal(t, protocol.Ping{}, h.host.receive())
	h.host.send(protocol.Pong{})

	err := h.wait(t)
	require.ErrorContains(t, err, "query display size")
	_, err = h.host.conn.Receive()
	require.ErrorIs(t, err, transport.ErrClosed)
}

func TestProtocolViolationsEndSession(t *testing.T) {
	tests := []struct {
		name     string
		messages []protocol.HostMessage
	}{
		{name: "click before pong", messages: []protocol.HostMessage{protocol.Click{X: 1, Y: 2}}},
		{name: "request before pong", messages: []protocol.HostMessage{protocol.RequestScreen{}}},
		{name: "duplicate pong", messages: []protocol.HostMessage{protocol.Pong{}, protocol.Pong{}}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := startSession(t, newFakeController(), false)
			require.Equal(t, protocol.Ping{}, h.host.receive())
			for _, msg := range tc.messages {
				h.host.send(msg)
			}
			require.ErrorIs(t, h.wait(t), ErrProtocol)
		})
	}
}

func TestDecodeFailureEndsSession(t *testing.T) {
	h := startSession(t, newFakeController(), false)
	require.Equal(t, protocol.Ping{}, h.host.receive())
	require.NoError(t, h.host.conn.Send([]byte{0xff}))

	require.ErrorIs(t, h.wait(t), protocol.ErrDecode)
}

func TestSecondRequestIsShedWhileCaptureOutstanding(t *testing.T) {
	ctl := newFakeController()
	ctl.captureGate = make(chan struct{})
	h := startSession(t, ctl, false)
	h.handshake(t)

	h.host.send(protocol.RequestScreen{})
	waitSignal(t, ctl.captureStarted, "capture start")

	h.host.send(protocol.RequestScreen{})
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(h.metrics.CapturesShed) == 1
	}, 2*time.Second, 5*time.Millisecond)

	close(ctl.captureGate)
	require.Equal(t, protocol.Screen{Data: []byte("png")}, h.host.receive())
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(h.metrics.Captures.WithLabelValues(metrics.ResultOK)) == 1
	}, 2*time.Second, 5*time.Millisecond)

	h.cancel()
	require.ErrorIs(t, h.wait(t), context.Canceled)
	require.Equal(t, int32(1), ctl.captures.Load())

	_, err := h.host.conn.Receive()
	require.ErrorIs(t, err, transport.ErrClosed, "no second screen was queued")
}

func TestClicksInjectedInOrderDuringCapture(t *testing.T) {
	ctl := newFakeController()
	ctl.captureGate = make(chan struct{})
	h := startSession(t, ctl, false)
	h.handshake(t)

	h.host.send(protocol.RequestScreen{})
	waitSignal(t, ctl.captureStarted, "capture start")

	want := []protocol.Click{{X: 1, Y: 1}, {X: 2, Y: 2}, {X: 3, Y: 3}}
	for _, click := range want {
		h.host.send(click)
	}
	for range want {
		waitSignal(t, ctl.touchStarted, "touch")
	}
	require.Equal(t, want, ctl.touched())

	close(ctl.captureGate)
	require.Equal(t, protocol.Screen{Data: []byte("png")}, h.host.receive())
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(h.metrics.Touches.WithLabelValues(metrics.ResultOK)) == 3
	}, 2*time.Second, 5*time.Millisecond)
}

func TestDisconnectStopsWorkersBeforeReturning(t *testing.T) {
	ctl := newFakeController()
	ctl.blockTouch = true
	h := startSession(t, ctl, false)
	h.handshake(t)

	h.host.send(protocol.Click{X: 10, Y: 20})
	waitSignal(t, ctl.touchStarted, "touch")

	require.NoError(t, h.host.conn.Close())
	err := h.wait(t)
	require.ErrorIs(t, err, transport.ErrClosed)
	require.True(t, ctl.touchReturned.Load(), "click worker joined before Run returned")
}

func TestCaptureFailureSkipsScreen(t *testing.T) {
	ctl := newFakeController()
	ctl.captureErr = errors.New("fbgrab failed")
	h := startSession(t, ctl, false)
	h.handshake(t)

	h.host.send(protocol.RequestScreen{})
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(h.metrics.Captures.WithLabelValues(metrics.ResultError)) == 1
	}, 2*time.Second, 5*time.Millisecond)

	// The slot is free again after a failed capture.
	require.Eventually(t, func() bool { return !h.session.captures.Busy() }, 2*time.Second, 5*time.Millisecond)
	ctl.captureErr = nil
	h.host.send(protocol.RequestScreen{})
	require.Equal(t, protocol.Screen{Data: []byte("png")}, h.host.receive())
}

func TestTrackRotationReportsChangedSize(t *testing.T) {
	ctl := newFakeController()
	ctl.sizes = [][2]uint32{{600, 800}, {800, 600}}
	h := startSession(t, ctl, true)
	h.handshake(t)

	h.host.send(protocol.RequestScreen{})
	require.Equal(t, protocol.Screen{Data: []byte("png")}, h.host.receive())
	require.Equal(t, protocol.ScreenSize{Width: 800, Height: 600}, h.host.receive())
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(h.metrics.SizeReports) == 2
	}, 2*time.Second, 5*time.Millisecond)
}

func TestUnchangedSizeIsNotReported(t *testing.T) {
	h := startSession(t, newFakeController(), true)
	h.handshake(t)

	h.host.send(protocol.RequestScreen{})
	require.Equal(t, protocol.Screen{Data: []byte("png")}, h.host.receive())
	require.Eventually(t, func() bool { return !h.session.captures.Busy() }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, 1.0, testutil.ToFloat64(h.metrics.SizeReports))
}

func TestMissingControllerFailsHandshake(t *testing.T) {
	deviceConn, hostConn := transport.Pipe()
	defer hostConn.Close()

	errCh := make(chan error, 1)
	go func() { errCh <- New(Options{Conn: deviceConn}).Run(context.Background()) }()

	host := hostEnd{t: t, conn: hostConn}
	require.Equal(t, protocol.Ping{}, host.receive())
	host.send(protocol.Pong{})

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrNoController)
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop")
	}
}
