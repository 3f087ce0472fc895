package host

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/rbright/mirkobo/internal/fsm"
	"github.com/rbright/mirkobo/internal/metrics"
	"github.com/rbright/mirkobo/internal/protocol"
	"github.com/rbright/mirkobo/internal/transform"
	"github.com/rbright/mirkobo/internal/transport"
)

type fakeDisplay struct {
	mu      sync.Mutex
	active  []bool
	sizes   [][2]uint32
	screens [][]byte
}

func (f *fakeDisplay) ConnectionActive(active bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = append(f.active, active)
}

func (f *fakeDisplay) DisplaySize(width, height uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sizes = append(f.sizes, [2]uint32{width, height})
}

func (f *fakeDisplay) Screen(data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.screens = append(f.screens, data)
}

func (f *fakeDisplay) activeCalls() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.active...)
}

func (f *fakeDisplay) screenCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.screens)
}

type fakeStatus struct {
	mu     sync.Mutex
	active bool
}

func (f *fakeStatus) SetPeerActive(active bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = active
}

func (f *fakeStatus) get() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

type deviceEnd struct {
	t    *testing.T
	conn transport.Conn
}

func (d deviceEnd) send(msg protocol.DeviceMessage) {
	d.t.Helper()
	data, err := protocol.EncodeDevice(msg)
	require.NoError(d.t, err)
	require.NoError(d.t, d.conn.Send(data))
}

func (d deviceEnd) receive() protocol.HostMessage {
	d.t.Helper()
	data, err := d.conn.Receive()
	require.NoError(d.t, err)
	msg, err := protocol.DecodeHost(data)
	require.NoError(d.t, err)
	return msg
}

type fixture struct {
	server  *Server
	display *fakeDisplay
	status  *fakeStatus
	clock   *clockwork.FakeClock
	metrics *metrics.Host
}

func newFixture(cfg transform.Config) *fixture {
	f := &fixture{
		display: &fakeDisplay{},
		status:  &fakeStatus{},
		clock:   clockwork.NewFakeClock(),
		metrics: metrics.NewHost(nil),
	}
	f.server = New(Options{
		Transform:       cfg,
		RequestInterval: time.Second,
		Display:         f.display,
		Status:          f.status,
		Metrics:         f.metrics,
		Clock:           f.clock,
	})
	return f
}

func (f *fixture) accept(t *testing.T) (deviceEnd, <-chan error) {
	t.Helper()
	hostConn, deviceConn := transport.Pipe()
	errCh := make(chan error, 1)
	go func() { errCh <- f.server.Serve(context.Background(), hostConn) }()
	t.Cleanup(func() { _ = deviceConn.Close() })
	return deviceEnd{t: t, conn: deviceConn}, errCh
}

func waitErr(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not return")
		return nil
	}
}

func TestHandshakeRepliesWithOnePongThenRequestsScreens(t *testing.T) {
	f := newFixture(transform.Config{})
	device, _ := f.accept(t)

	device.send(protocol.Ping{})
	require.Equal(t, protocol.Pong{}, device.receive(), "pong is the first host message")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.clock.BlockUntilContext(ctx, 1))

	f.clock.Advance(time.Second)
	require.Equal(t, protocol.RequestScreen{}, device.receive())
	f.clock.Advance(time.Second)
	require.Equal(t, protocol.RequestScreen{}, device.receive())

	require.Equal(t, []bool{true}, f.display.activeCalls())
	require.True(t, f.status.get())
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ActivePeers))
}

func TestRepeatedPingIsIgnored(t *testing.T) {
	f := newFixture(transform.Config{})
	device, _ := f.accept(t)

	device.send(protocol.Ping{})
	require.Equal(t, protocol.Pong{}, device.receive())
	device.send(protocol.Ping{})
	device.send(protocol.ScreenSize{Width: 600, Height: 800})

	require.Eventually(t, func() bool {
		_, known := f.server.DeviceSize()
		return known
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, f.server.Click(context.Background(), transform.Point{X: 10, Y: 20}, transform.Size{Width: 600, Height: 800}))
	require.Equal(t, protocol.Click{X: 10, Y: 20}, device.receive(), "no second pong was sent")
}

func TestScreensAndSizesReachDisplay(t *testing.T) {
	f := newFixture(transform.Config{})
	device, _ := f.accept(t)

	device.send(protocol.Ping{})
	require.Equal(t, protocol.Pong{}, device.receive())
	device.send(protocol.ScreenSize{Width: 1072, Height: 1448})
	device.send(protocol.Screen{Data: []byte("frame-1")})

	require.Eventually(t, func() bool { return f.display.screenCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	f.display.mu.Lock()
	require.Equal(t, [][2]uint32{{1072, 1448}}, f.display.sizes)
	require.Equal(t, []byte("frame-1"), f.display.screens[0])
	f.display.mu.Unlock()

	size, known := f.server.DeviceSize()
	require.True(t, known)
	require.Equal(t, transform.Size{Width: 1072, Height: 1448}, size)
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ScreensReceived))
}

func TestMessagesBeforePingAreFatal(t *testing.T) {
	tests := []struct {
		name string
		msg  protocol.DeviceMessage
	}{
		{name: "screen size", msg: protocol.ScreenSize{Width: 1, Height: 1}},
		{name: "screen", msg: protocol.Screen{Data: []byte("x")}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(transform.Config{})
			device, errCh := f.accept(t)
			device.send(tc.msg)

			require.ErrorIs(t, waitErr(t, errCh), ErrProtocol)
			require.Empty(t, f.display.activeCalls())
			require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ProtocolErrors))
		})
	}
}

func TestDecodeFailureClosesSession(t *testing.T) {
	f := newFixture(transform.Config{})
	device, errCh := f.accept(t)
	require.NoError(t, device.conn.Send([]byte{0x0a}))

	require.ErrorIs(t, waitErr(t, errCh), protocol.ErrDecode)
}

func TestDisconnectReleasesCurrentPeer(t *testing.T) {
	f := newFixture(transform.Config{})
	device, errCh := f.accept(t)

	device.send(protocol.Ping{})
	require.Equal(t, protocol.Pong{}, device.receive())
	require.NoError(t, device.conn.Close())

	require.ErrorIs(t, waitErr(t, errCh), transport.ErrClosed)
	require.Equal(t, []bool{true, false}, f.display.activeCalls())
	require.False(t, f.status.get())
	require.Equal(t, 0.0, testutil.ToFloat64(f.metrics.ActivePeers))

	_, ok := f.server.Current()
	require.False(t, ok)
	err := f.server.Click(context.Background(), transform.Point{}, transform.Size{Width: 1, Height: 1})
	require.ErrorIs(t, err, ErrDisplaySizeUnknown)
}

func TestNewAcceptReplacesCurrentPeer(t *testing.T) {
	f := newFixture(transform.Config{})
	first, firstErr := f.accept(t)
	first.send(protocol.Ping{})
	require.Equal(t, protocol.Pong{}, first.receive())

	second, _ := f.accept(t)
	second.send(protocol.Ping{})
	require.Equal(t, protocol.Pong{}, second.receive())
	second.send(protocol.ScreenSize{Width: 600, Height: 800})
	require.Eventually(t, func() bool {
		_, known := f.server.DeviceSize()
		return known
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, first.conn.Close())
	require.ErrorIs(t, waitErr(t, firstErr), transport.ErrClosed)
	require.Equal(t, []bool{true}, f.display.activeCalls(), "old session leaving does not deactivate the display")

	current, ok := f.server.Current()
	require.True(t, ok)
	require.Equal(t, fsm.HostStreaming, current.State())

	require.NoError(t, f.server.Click(context.Background(), transform.Point{X: 1, Y: 2}, transform.Size{Width: 600, Height: 800}))
	require.Equal(t, protocol.Click{X: 1, Y: 2}, second.receive())
}

func TestUnhandshakenAcceptKeepsStreamingPeer(t *testing.T) {
	f := newFixture(transform.Config{})
	first, _ := f.accept(t)
	first.send(protocol.Ping{})
	require.Equal(t, protocol.Pong{}, first.receive())
	first.send(protocol.ScreenSize{Width: 600, Height: 800})
	require.Eventually(t, func() bool {
		_, known := f.server.DeviceSize()
		return known
	}, 2*time.Second, 5*time.Millisecond)
	firstSession, ok := f.server.Current()
	require.True(t, ok)

	stray, strayErr := f.accept(t)
	require.Eventually(t, func() bool {
		current, ok := f.server.Current()
		return ok && current != firstSession
	}, 2*time.Second, 5*time.Millisecond)

	area := transform.Size{Width: 600, Height: 800}
	require.NoError(t, f.server.Click(context.Background(), transform.Point{X: 3, Y: 4}, area), "clicks go to the streaming session during the handshake")
	require.Equal(t, protocol.Click{X: 3, Y: 4}, first.receive())

	require.NoError(t, stray.conn.Close())
	require.ErrorIs(t, waitErr(t, strayErr), transport.ErrClosed)

	require.Equal(t, []bool{true}, f.display.activeCalls())
	require.True(t, f.status.get())
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ActivePeers))
	current, ok := f.server.Current()
	require.True(t, ok)
	require.Same(t, firstSession, current)

	require.NoError(t, f.server.Click(context.Background(), transform.Point{X: 5, Y: 6}, area))
	require.Equal(t, protocol.Click{X: 5, Y: 6}, first.receive())
}

func TestStreamingPeerLeavingDuringReplacementHandshake(t *testing.T) {
	f := newFixture(transform.Config{})
	first, firstErr := f.accept(t)
	first.send(protocol.Ping{})
	require.Equal(t, protocol.Pong{}, first.receive())
	firstSession, _ := f.server.Current()

	second, _ := f.accept(t)
	require.Eventually(t, func() bool {
		current, ok := f.server.Current()
		return ok && current != firstSession
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, first.conn.Close())
	require.ErrorIs(t, waitErr(t, firstErr), transport.ErrClosed)
	require.Equal(t, []bool{true, false}, f.display.activeCalls())
	require.False(t, f.status.get())

	second.send(protocol.Ping{})
	require.Equal(t, protocol.Pong{}, second.receive())
	require.Eventually(t, func() bool {
		return len(f.display.activeCalls()) == 3
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, []bool{true, false, true}, f.display.activeCalls())
	require.True(t, f.status.get())
}

func TestEmptyScreenSizeIsIgnored(t *testing.T) {
	tests := []struct {
		name string
		size protocol.ScreenSize
	}{
		{name: "both zero", size: protocol.ScreenSize{}},
		{name: "zero width", size: protocol.ScreenSize{Height: 800}},
		{name: "zero height", size: protocol.ScreenSize{Width: 600}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(transform.Config{})
			device, _ := f.accept(t)
			device.send(protocol.Ping{})
			require.Equal(t, protocol.Pong{}, device.receive())
			device.send(tc.size)

			require.Eventually(t, func() bool {
				return testutil.ToFloat64(f.metrics.ProtocolErrors) == 1
			}, 2*time.Second, 5*time.Millisecond)

			_, known := f.server.DeviceSize()
			require.False(t, known)
			err := f.server.Click(context.Background(), transform.Point{X: 1, Y: 1}, transform.Size{Width: 10, Height: 10})
			require.ErrorIs(t, err, ErrDisplaySizeUnknown)

			f.display.mu.Lock()
			require.Empty(t, f.display.sizes)
			f.display.mu.Unlock()

			device.send(protocol.ScreenSize{Width: 600, Height: 800})
			require.Eventually(t, func() bool {
				_, known := f.server.DeviceSize()
				return known
			}, 2*time.Second, 5*time.Millisecond)
		})
	}
}

func TestClickAppliesTransform(t *testing.T) {
	f := newFixture(transform.Config{InvertX: true, SwapAxes: true})
	device, _ := f.accept(t)
	device.send(protocol.Ping{})
	require.Equal(t, protocol.Pong{}, device.receive())
	device.send(protocol.ScreenSize{Width: 600, Height: 800})
	require.Eventually(t, func() bool {
		_, known := f.server.DeviceSize()
		return known
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, f.server.Click(context.Background(), transform.Point{X: 100, Y: 200}, transform.Size{Width: 600, Height: 800}))
	require.Equal(t, protocol.Click{X: 200, Y: 500}, device.receive())

	require.NoError(t, f.server.Click(context.Background(), transform.Point{X: 100, Y: 200}, transform.Size{Width: 300, Height: 400}))
	require.Equal(t, protocol.Click{X: 400, Y: 400}, device.receive())
	require.Equal(t, 2.0, testutil.ToFloat64(f.metrics.Clicks.WithLabelValues(metrics.ResultOK)))
}

func TestClickErrors(t *testing.T) {
	f := newFixture(transform.Config{})

	err := f.server.Click(context.Background(), transform.Point{}, transform.Size{Width: 0, Height: 10})
	require.ErrorIs(t, err, ErrInvalidArea)

	err = f.server.Click(context.Background(), transform.Point{}, transform.Size{Width: 10, Height: 10})
	require.ErrorIs(t, err, ErrDisplaySizeUnknown)

	f.server.setDeviceSize(600, 800)
	err = f.server.Click(context.Background(), transform.Point{}, transform.Size{Width: 10, Height: 10})
	require.ErrorIs(t, err, ErrNoPeer)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, f.server.Click(ctx, transform.Point{}, transform.Size{Width: 10, Height: 10}), context.Canceled)
}

func TestClickBeforeHandshakeHasNoPeer(t *testing.T) {
	f := newFixture(transform.Config{})
	f.server.setDeviceSize(600, 800)
	_, _ = f.accept(t)

	require.Eventually(t, func() bool {
		_, ok := f.server.Current()
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	err := f.server.Click(context.Background(), transform.Point{}, transform.Size{Width: 10, Height: 10})
	require.ErrorIs(t, err, ErrNoPeer)
}

func TestServeStopsOnContextCancel(t *testing.T) {
	f := newFixture(transform.Config{})
	hostConn, deviceConn := transport.Pipe()
	defer deviceConn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- f.server.Serve(ctx, hostConn) }()

	device := deviceEnd{t: t, conn: deviceConn}
	device.send(protocol.Ping{})
	require.Equal(t, protocol.Pong{}, device.receive())

	cancel()
	require.ErrorIs(t, waitErr(t, errCh), context.Canceled)
	require.Equal(t, []bool{true, false}, f.display.activeCalls())
}
