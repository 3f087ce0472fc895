package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Path is the HTTP route the host serves device connections on.
	Path = "/ws"
	// MaxMessageSize bounds a single frame; uncompressed fbgrab PNGs stay well below it.
	MaxMessageSize = 32 << 20

	writeTimeout = 10 * time.Second
	closeTimeout = time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// WebSocket adapts a gorilla connection to Conn using binary frames.
// A single writer goroutine owns every data frame written to conn.
type WebSocket struct {
	conn *websocket.Conn

	out        chan outbound
	closing    chan struct{}
	writerDone chan struct{}

	closeOnce sync.Once
	closeErr  error
}

type outbound struct {
	data []byte
	done chan error
}

func newWebSocket(conn *websocket.Conn) *WebSocket {
	conn.SetReadLimit(MaxMessageSize)
	w := &WebSocket{
		conn:       conn,
		out:        make(chan outbound),
		closing:    make(chan struct{}),
		writerDone: make(chan struct{}),
	}
	go w.writeLoop()
	return w
}

// Dial connects to a host at addr ("host:port" or a ws:// URL).
func Dial(ctx context.Context, addr string, timeout time.Duration) (*WebSocket, error) {
	target := DialURL(addr)
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
	}

	conn, resp, err := dialer.DialContext(ctx, target, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	return newWebSocket(conn), nil
}

// DialURL expands a bare host:port into the websocket URL the host serves.
func DialURL(addr string) string {
	addr = strings.TrimSpace(addr)
	if strings.HasPrefix(addr, "ws://") || strings.HasPrefix(addr, "wss://") {
		return addr
	}
	return "ws://" + addr + Path
}

// Upgrade accepts a device connection on an HTTP request.
func Upgrade(w http.ResponseWriter, r *http.Request) (*WebSocket, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("upgrade websocket: %w", err)
	}
	return newWebSocket(conn), nil
}

// Send hands one binary frame to the writer and waits for its result.
func (w *WebSocket) Send(data []byte) error {
	msg := outbound{data: data, done: make(chan error, 1)}
	select {
	case <-w.closing:
		return fmt.Errorf("%w: send after close", ErrClosed)
	case w.out <- msg:
	}
	return <-msg.done
}

func (w *WebSocket) writeLoop() {
	defer close(w.writerDone)
	for {
		select {
		case <-w.closing:
			return
		case msg := <-w.out:
			msg.done <- w.write(msg.data)
		}
	}
}

func (w *WebSocket) write(data []byte) error {
	if err := w.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := w.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		if errors.Is(err, websocket.ErrCloseSent) || errors.Is(err, net.ErrClosed) {
			return fmt.Errorf("%w: %v", ErrClosed, err)
		}
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Receive blocks for the next binary frame.
func (w *WebSocket) Receive() ([]byte, error) {
	typ, data, err := w.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
			errors.Is(err, net.ErrClosed) {
			return nil, fmt.Errorf("%w: %v", ErrClosed, err)
		}
		return nil, fmt.Errorf("read message: %w", err)
	}
	if typ != websocket.BinaryMessage {
		return nil, fmt.Errorf("unexpected websocket message type %d", typ)
	}
	return data, nil
}

// Close stops the writer, sends a best-effort close frame and releases
// the socket. A write still in flight fails once the socket is closed.
func (w *WebSocket) Close() error {
	w.closeOnce.Do(func() {
		close(w.closing)
		deadline := time.Now().Add(closeTimeout)
		_ = w.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			deadline,
		)
		w.closeErr = w.conn.Close()
		<-w.writerDone
	})
	return w.closeErr
}

// RemoteAddr returns the peer network address.
func (w *WebSocket) RemoteAddr() string {
	return w.conn.RemoteAddr().String()
}
