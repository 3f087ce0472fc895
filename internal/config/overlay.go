package config

import (
	"fmt"
	"strings"
)

// fileConfig is the on-disk shape shared by JSONC and YAML. Pointer fields
// keep defaults for keys the file leaves out.
type fileConfig struct {
	Host      *fileHost      `json:"host" yaml:"host"`
	Transform *fileTransform `json:"transform" yaml:"transform"`
	Device    *fileDevice    `json:"device" yaml:"device"`
}

type fileHost struct {
	Listen            *string     `json:"listen" yaml:"listen"`
	StatusListen      *string     `json:"status_listen" yaml:"status_listen"`
	RequestIntervalMS *int        `json:"request_interval_ms" yaml:"request_interval_ms"`
	FramePath         *string     `json:"frame_path" yaml:"frame_path"`
	Notify            *fileNotify `json:"notify" yaml:"notify"`
}

type fileNotify struct {
	Enable  *bool   `json:"enable" yaml:"enable"`
	AppName *string `json:"app_name" yaml:"app_name"`
}

type fileTransform struct {
	ShiftX   *float32 `json:"shift_x" yaml:"shift_x"`
	ShiftY   *float32 `json:"shift_y" yaml:"shift_y"`
	InvertX  *bool    `json:"invert_x" yaml:"invert_x"`
	InvertY  *bool    `json:"invert_y" yaml:"invert_y"`
	SwapAxes *bool    `json:"swap_axes" yaml:"swap_axes"`
}

type fileDevice struct {
	Remote           *string `json:"remote" yaml:"remote"`
	StatusAddr       *string `json:"status_addr" yaml:"status_addr"`
	RetryDelayMS     *int    `json:"retry_delay_ms" yaml:"retry_delay_ms"`
	CaptureCmd       *string `json:"capture_cmd" yaml:"capture_cmd"`
	CapturePath      *string `json:"capture_path" yaml:"capture_path"`
	TouchCmd         *string `json:"touch_cmd" yaml:"touch_cmd"`
	FBSetCmd         *string `json:"fbset_cmd" yaml:"fbset_cmd"`
	CommandTimeoutMS *int    `json:"command_timeout_ms" yaml:"command_timeout_ms"`
	TrackRotation    *bool   `json:"track_rotation" yaml:"track_rotation"`
	MetricsListen    *string `json:"metrics_listen" yaml:"metrics_listen"`
}

func (payload fileConfig) applyTo(cfg *Config) error {
	if h := payload.Host; h != nil {
		setString(&cfg.Host.Listen, h.Listen)
		setString(&cfg.Host.StatusListen, h.StatusListen)
		setString(&cfg.Host.FramePath, h.FramePath)
		if h.RequestIntervalMS != nil {
			cfg.Host.RequestIntervalMS = *h.RequestIntervalMS
		}
		if h.Notify != nil {
			if h.Notify.Enable != nil {
				cfg.Host.Notify.Enable = *h.Notify.Enable
			}
			setString(&cfg.Host.Notify.AppName, h.Notify.AppName)
		}
	}

	if t := payload.Transform; t != nil {
		if t.ShiftX != nil {
			cfg.Transform.ShiftX = *t.ShiftX
		}
		if t.ShiftY != nil {
			cfg.Transform.ShiftY = *t.ShiftY
		}
		if t.InvertX != nil {
			cfg.Transform.InvertX = *t.InvertX
		}
		if t.InvertY != nil {
			cfg.Transform.InvertY = *t.InvertY
		}
		if t.SwapAxes != nil {
			cfg.Transform.SwapAxes = *t.SwapAxes
		}
	}

	if d := payload.Device; d != nil {
		setString(&cfg.Device.Remote, d.Remote)
		setString(&cfg.Device.StatusAddr, d.StatusAddr)
		setString(&cfg.Device.CapturePath, d.CapturePath)
		setString(&cfg.Device.MetricsListen, d.MetricsListen)
		if d.RetryDelayMS != nil {
			cfg.Device.RetryDelayMS = *d.RetryDelayMS
		}
		if d.CommandTimeoutMS != nil {
			cfg.Device.CommandTimeoutMS = *d.CommandTimeoutMS
		}
		if d.TrackRotation != nil {
			cfg.Device.TrackRotation = *d.TrackRotation
		}

		commands := []struct {
			key    string
			raw    *string
			target *CommandConfig
		}{
			{key: "device.capture_cmd", raw: d.CaptureCmd, target: &cfg.Device.Capture},
			{key: "device.touch_cmd", raw: d.TouchCmd, target: &cfg.Device.Touch},
			{key: "device.fbset_cmd", raw: d.FBSetCmd, target: &cfg.Device.FBSet},
		}
		for _, c := range commands {
			if c.raw == nil {
				continue
			}
			argv, err := parseArgv(*c.raw)
			if err != nil {
				return fmt.Errorf("%s: %w", c.key, err)
			}
			*c.target = CommandConfig{Raw: strings.TrimSpace(*c.raw), Argv: argv}
		}
	}

	return nil
}

func setString(dst *string, value *string) {
	if value != nil {
		*dst = strings.TrimSpace(*value)
	}
}
