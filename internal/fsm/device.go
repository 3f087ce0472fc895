package fsm

import "fmt"

// DeviceState is the device-side connection lifecycle state.
type DeviceState string

// DeviceEvent drives DeviceState transitions.
type DeviceEvent string

const (
	DeviceDisconnected DeviceState = "disconnected"
	DeviceConnecting   DeviceState = "connecting"
	DeviceConnected    DeviceState = "connected"
	DeviceActive       DeviceState = "active"
)

const (
	DeviceEventDial       DeviceEvent = "dial"
	DeviceEventDialFailed DeviceEvent = "dial_failed"
	DeviceEventConnected  DeviceEvent = "connected"
	DeviceEventPong       DeviceEvent = "pong"
	DeviceEventDisconnect DeviceEvent = "disconnect"
)

// DeviceTransition returns the state reached by applying event to current.
func DeviceTransition(current DeviceState, event DeviceEvent) (DeviceState, error) {
	switch current {
	case DeviceDisconnected:
		switch event {
		case DeviceEventDial:
			return DeviceConnecting, nil
		default:
			return current, invalidTransition(current, event)
		}
	case DeviceConnecting:
		switch event {
		case DeviceEventConnected:
			return DeviceConnected, nil
		case DeviceEventDialFailed, DeviceEventDisconnect:
			return DeviceDisconnected, nil
		default:
			return current, invalidTransition(current, event)
		}
	case DeviceConnected:
		switch event {
		case DeviceEventPong:
			return DeviceActive, nil
		case DeviceEventDisconnect:
			return DeviceDisconnected, nil
		default:
			return current, invalidTransition(current, event)
		}
	case DeviceActive:
		switch event {
		case DeviceEventDisconnect:
			return DeviceDisconnected, nil
		default:
			return current, invalidTransition(current, event)
		}
	default:
		return current, fmt.Errorf("unknown device state %q", current)
	}
}
