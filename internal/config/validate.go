package config

import (
	"fmt"
	"math"
	"net"
	"strings"
)

const minRequestIntervalMS = 100

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if strings.TrimSpace(cfg.Host.Listen) == "" {
		return nil, fmt.Errorf("host.listen must not be empty")
	}
	if err := validateHostPort("host.listen", cfg.Host.Listen); err != nil {
		return nil, err
	}
	if cfg.Host.StatusListen != "" {
		if err := validateHostPort("host.status_listen", cfg.Host.StatusListen); err != nil {
			return nil, err
		}
	}
	if cfg.Host.RequestIntervalMS <= 0 {
		return nil, fmt.Errorf("host.request_interval_ms must be > 0")
	}
	if cfg.Host.RequestIntervalMS < minRequestIntervalMS {
		warnings = append(warnings, Warning{Message: fmt.Sprintf(
			"host.request_interval_ms=%d is below %dms; most requests will be shed by the device",
			cfg.Host.RequestIntervalMS, minRequestIntervalMS,
		)})
	}
	if cfg.Host.Notify.Enable && strings.TrimSpace(cfg.Host.Notify.AppName) == "" {
		return nil, fmt.Errorf("host.notify.app_name must not be empty when host.notify.enable=true")
	}

	for name, v := range map[string]float32{"transform.shift_x": cfg.Transform.ShiftX, "transform.shift_y": cfg.Transform.ShiftY} {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return nil, fmt.Errorf("%s must be finite", name)
		}
	}

	if strings.TrimSpace(cfg.Device.Remote) == "" {
		return nil, fmt.Errorf("device.remote must not be empty")
	}
	if cfg.Device.RetryDelayMS <= 0 {
		return nil, fmt.Errorf("device.retry_delay_ms must be > 0")
	}
	if cfg.Device.CommandTimeoutMS <= 0 {
		return nil, fmt.Errorf("device.command_timeout_ms must be > 0")
	}
	if len(cfg.Device.Capture.Argv) == 0 {
		return nil, fmt.Errorf("device.capture_cmd must not be empty")
	}
	if strings.TrimSpace(cfg.Device.CapturePath) == "" {
		return nil, fmt.Errorf("device.capture_path must not be empty")
	}
	if len(cfg.Device.Touch.Argv) == 0 {
		return nil, fmt.Errorf("device.touch_cmd must not be empty")
	}
	if len(cfg.Device.FBSet.Argv) == 0 {
		return nil, fmt.Errorf("device.fbset_cmd must not be empty")
	}
	if cfg.Device.MetricsListen != "" {
		if err := validateHostPort("device.metrics_listen", cfg.Device.MetricsListen); err != nil {
			return nil, err
		}
	}
	if !strings.Contains(cfg.Device.Capture.Raw, cfg.Device.CapturePath) {
		warnings = append(warnings, Warning{Message: fmt.Sprintf(
			"device.capture_cmd does not mention device.capture_path %q; captures may read a stale file",
			cfg.Device.CapturePath,
		)})
	}

	return warnings, nil
}

func validateHostPort(key, value string) error {
	if _, _, err := net.SplitHostPort(strings.TrimSpace(value)); err != nil {
		return fmt.Errorf("%s must be host:port: %w", key, err)
	}
	return nil
}
