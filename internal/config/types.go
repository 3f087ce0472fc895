// Package config resolves, parses, validates, and defaults mirkobo configuration.
package config

import "time"

// Config is the fully materialized runtime configuration used by mirkobo.
type Config struct {
	Host      HostConfig
	Transform TransformConfig
	Device    DeviceConfig
}

// HostConfig controls the listener and viewer side of the link.
type HostConfig struct {
	Listen            string
	StatusListen      string
	RequestIntervalMS int
	FramePath         string
	Notify            NotifyConfig
}

// NotifyConfig controls desktop notifications on device connect/disconnect.
type NotifyConfig struct {
	Enable  bool
	AppName string
}

// TransformConfig maps viewer coordinates onto the device panel.
type TransformConfig struct {
	ShiftX   float32
	ShiftY   float32
	InvertX  bool
	InvertY  bool
	SwapAxes bool
}

// DeviceConfig controls the e-reader side: where to connect and which
// tools capture the screen and inject touches.
type DeviceConfig struct {
	Remote           string
	StatusAddr       string
	RetryDelayMS     int
	Capture          CommandConfig
	CapturePath      string
	Touch            CommandConfig
	FBSet            CommandConfig
	CommandTimeoutMS int
	TrackRotation    bool
	MetricsListen    string
}

// CommandConfig stores a raw command string and its parsed argv form.
type CommandConfig struct {
	Raw  string
	Argv []string
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}

// RequestInterval is the RequestScreen cadence.
func (h HostConfig) RequestInterval() time.Duration {
	return time.Duration(h.RequestIntervalMS) * time.Millisecond
}

// RetryDelay is the pause between reconnect attempts.
func (d DeviceConfig) RetryDelay() time.Duration {
	return time.Duration(d.RetryDelayMS) * time.Millisecond
}

// CommandTimeout bounds every external tool invocation.
func (d DeviceConfig) CommandTimeout() time.Duration {
	return time.Duration(d.CommandTimeoutMS) * time.Millisecond
}
