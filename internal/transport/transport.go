// Package transport carries framed protocol messages between host and device.
package transport

import "errors"

// ErrClosed reports that the peer or the local side closed the connection.
var ErrClosed = errors.New("connection closed")

// Conn is one reliable, ordered, message-framed connection.
// Every Send on one side yields exactly one Receive on the other.
type Conn interface {
	Send(data []byte) error
	Receive() ([]byte, error)
	Close() error
	RemoteAddr() string
}
