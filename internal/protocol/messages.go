// Package protocol defines the device/host message vocabularies and their wire codec.
package protocol

import "fmt"

// DeviceMessage is one message sent from the device to the host.
type DeviceMessage interface {
	deviceMessage()
}

// HostMessage is one message sent from the host to the device.
type HostMessage interface {
	hostMessage()
}

// Ping opens the handshake; the host answers the first one with Pong.
type Ping struct{}

// ScreenSize reports the device framebuffer resolution in pixels.
type ScreenSize struct {
	Width  uint32
	Height uint32
}

// Screen carries one encoded still capture (PNG from fbgrab).
type Screen struct {
	Data []byte
}

// Pong acknowledges the device Ping.
type Pong struct{}

// RequestScreen asks the device for one fresh capture.
type RequestScreen struct{}

// Click is a single-point tap in device display coordinates.
type Click struct {
	X uint16
	Y uint16
}

func (Ping) deviceMessage()       {}
func (ScreenSize) deviceMessage() {}
func (Screen) deviceMessage()     {}

func (Pong) hostMessage()          {}
func (RequestScreen) hostMessage() {}
func (Click) hostMessage()         {}

// Name returns a short log label for a message value.
func Name(msg any) string {
	switch m := msg.(type) {
	case Ping:
		return "ping"
	case ScreenSize:
		return "screen_size"
	case Screen:
		return "screen"
	case Pong:
		return "pong"
	case RequestScreen:
		return "request_screen"
	case Click:
		return "click"
	case nil:
		return "nil"
	default:
		return fmt.Sprintf("%T", m)
	}
}
