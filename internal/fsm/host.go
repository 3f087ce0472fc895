package fsm

import "fmt"

// HostState is the lifecycle state of one accepted device endpoint.
type HostState string

// HostEvent drives HostState transitions.
type HostEvent string

const (
	HostAccepted      HostState = "accepted"
	HostHandshakeWait HostState = "handshake_wait"
	HostStreaming     HostState = "streaming"
	HostClosed        HostState = "closed"
)

const (
	HostEventRegister HostEvent = "register"
	HostEventPing     HostEvent = "ping"
	HostEventClose    HostEvent = "close"
)

// HostTransition returns the state reached by applying event to current.
func HostTransition(current HostState, event HostEvent) (HostState, error) {
	if event == HostEventClose && current != HostClosed {
		return HostClosed, nil
	}

	switch current {
	case HostAccepted:
		switch event {
		case HostEventRegister:
			return HostHandshakeWait, nil
		default:
			return current, invalidTransition(current, event)
		}
	case HostHandshakeWait:
		switch event {
		case HostEventPing:
			return HostStreaming, nil
		default:
			return current, invalidTransition(current, event)
		}
	case HostStreaming, HostClosed:
		return current, invalidTransition(current, event)
	default:
		return current, fmt.Errorf("unknown host state %q", current)
	}
}
