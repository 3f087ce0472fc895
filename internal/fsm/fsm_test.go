package fsm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeviceTransitionHappyPath(t *testing.T) {
	s := DeviceDisconnected

	next, err := DeviceTransition(s, DeviceEventDial)
	require.NoError(t, err)
	require.Equal(t, DeviceConnecting, next)

	next, err = DeviceTransition(next, DeviceEventConnected)
	require.NoError(t, err)
	require.Equal(t, DeviceConnected, next)

	next, err = DeviceTransition(next, DeviceEventPong)
	require.NoError(t, err)
	require.Equal(t, DeviceActive, next)

	next, err = DeviceTransition(next, DeviceEventDisconnect)
	require.NoError(t, err)
	require.Equal(t, DeviceDisconnected, next)
}

func TestDeviceDialFailureReturnsToDisconnected(t *testing.T) {
	next, err := DeviceTransition(DeviceConnecting, DeviceEventDialFailed)
	require.NoError(t, err)
	require.Equal(t, DeviceDisconnected, next)
}

func TestDeviceTransitionMatrixInvalidTransitions(t *testing.T) {
	tests := []struct {
		name  string
		state DeviceState
		event DeviceEvent
	}{
		{name: "disconnected pong", state: DeviceDisconnected, event: DeviceEventPong},
		{name: "disconnected disconnect", state: DeviceDisconnected, event: DeviceEventDisconnect},
		{name: "connecting pong", state: DeviceConnecting, event: DeviceEventPong},
		{name: "connected dial", state: DeviceConnected, event: DeviceEventDial},
		{name: "connected second connect", state: DeviceConnected, event: DeviceEventConnected},
		{name: "active pong", state: DeviceActive, event: DeviceEventPong},
		{name: "active dial", state: DeviceActive, event: DeviceEventDial},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			next, err := DeviceTransition(tc.state, tc.event)
			require.Equal(t, tc.state, next)
			require.Error(t, err)
			require.Contains(t, err.Error(), "invalid transition")
		})
	}
}

func TestDeviceTransitionUnknownState(t *testing.T) {
	_, err := DeviceTransition(DeviceState("mystery"), DeviceEventDial)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown device state")
}

func TestHostTransitionHappyPath(t *testing.T) {
	next, err := HostTransition(HostAccepted, HostEventRegister)
	require.NoError(t, err)
	require.Equal(t, HostHandshakeWait, next)

	next, err = HostTransition(next, HostEventPing)
	require.NoError(t, err)
	require.Equal(t, HostStreaming, next)

	next, err = HostTransition(next, HostEventClose)
	require.NoError(t, err)
	require.Equal(t, HostClosed, next)
}

func TestHostCloseFromAnyOpenState(t *testing.T) {
	for _, state := range []HostState{HostAccepted, HostHandshakeWait, HostStreaming} {
		next, err := HostTransition(state, HostEventClose)
		require.NoError(t, err)
		require.Equal(t, HostClosed, next)
	}
}

func TestHostTransitionMatrixInvalidTransitions(t *testing.T) {
	tests := []struct {
		name  string
		state HostState
		event HostEvent
	}{
		{name: "accepted ping", state: HostAccepted, event: HostEventPing},
		{name: "handshake register", state: HostHandshakeWait, event: HostEventRegister},
		{name: "streaming second ping", state: HostStreaming, event: HostEventPing},
		{name: "closed close", state: HostClosed, event: HostEventClose},
		{name: "closed register", state: HostClosed, event: HostEventRegister},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			next, err := HostTransition(tc.state, tc.event)
			require.Equal(t, tc.state, next)
			require.Error(t, err)
			require.Contains(t, err.Error(), "invalid transition")
		})
	}
}
