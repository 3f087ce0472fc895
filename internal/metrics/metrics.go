// Package metrics defines the Prometheus collectors exported by both roles.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "mirkobo"

// Result label values.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Device holds the device-role collectors.
type Device struct {
	Sessions       prometheus.Counter
	DialFailures   prometheus.Counter
	Captures       *prometheus.CounterVec
	CaptureSeconds prometheus.Histogram
	CapturesShed   prometheus.Counter
	ScreenBytes    prometheus.Counter
	SizeReports    prometheus.Counter
	Touches        *prometheus.CounterVec
	TouchQueue     prometheus.Gauge
}

// NewDevice registers the device collectors on reg. A nil reg gets a private registry.
func NewDevice(reg prometheus.Registerer) *Device {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Device{
		Sessions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "device",
			Name:      "sessions_total",
			Help:      "Connections to the host that were established.",
		}),
		DialFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "device",
			Name:      "dial_failures_total",
			Help:      "Dial attempts that failed before a connection existed.",
		}),
		Captures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "device",
			Name:      "captures_total",
			Help:      "Screen captures attempted, by result.",
		}, []string{"result"}),
		CaptureSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "device",
			Name:      "capture_duration_seconds",
			Help:      "Time spent capturing and sending one screen.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2, 5},
		}),
		CapturesShed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "device",
			Name:      "capture_requests_shed_total",
			Help:      "Screen requests dropped because a capture was already in progress.",
		}),
		ScreenBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "device",
			Name:      "screen_bytes_total",
			Help:      "Encoded screen bytes sent to the host.",
		}),
		SizeReports: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "device",
			Name:      "screen_size_reports_total",
			Help:      "ScreenSize messages sent to the host.",
		}),
		Touches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "device",
			Name:      "touches_total",
			Help:      "Touch injections attempted, by result.",
		}, []string{"result"}),
		TouchQueue: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "device",
			Name:      "touch_queue_depth",
			Help:      "Clicks received but not yet injected.",
		}),
	}
}

// Host holds the host-role collectors.
type Host struct {
	Sessions        prometheus.Counter
	ActivePeers     prometheus.Gauge
	ProtocolErrors  prometheus.Counter
	ScreensReceived prometheus.Counter
	ScreenBytes     prometheus.Counter
	RequestsSent    prometheus.Counter
	RequestFailures prometheus.Counter
	Clicks          *prometheus.CounterVec
}

// NewHost registers the host collectors on reg. A nil reg gets a private registry.
func NewHost(reg prometheus.Registerer) *Host {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Host{
		Sessions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "host",
			Name:      "sessions_total",
			Help:      "Device connections accepted.",
		}),
		ActivePeers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "host",
			Name:      "active_sessions",
			Help:      "Device connections that completed the handshake and are still open.",
		}),
		ProtocolErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "host",
			Name:      "protocol_errors_total",
			Help:      "Connections closed because of a decode failure or an ordering violation.",
		}),
		ScreensReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "host",
			Name:      "screens_received_total",
			Help:      "Screen frames received from the device.",
		}),
		ScreenBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "host",
			Name:      "screen_bytes_total",
			Help:      "Encoded screen bytes received from the device.",
		}),
		RequestsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "host",
			Name:      "screen_requests_sent_total",
			Help:      "RequestScreen messages sent by session tickers.",
		}),
		RequestFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "host",
			Name:      "screen_request_failures_total",
			Help:      "RequestScreen sends that failed.",
		}),
		Clicks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "host",
			Name:      "clicks_total",
			Help:      "Click forwards, by result.",
		}, []string{"result"}),
	}
}
