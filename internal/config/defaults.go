package config

// DefaultPort is the TCP port the host listens on and the device dials.
const DefaultPort = 24356

// Default returns the canonical runtime configuration used when no file is present.
func Default() Config {
	capture := "/usr/bin/fbgrab -a -z 0 /tmp/mirror.png"
	touch := "./touch_emulate.bin touch /dev/input/event1"
	fbset := "/bin/busybox fbset"

	return Config{
		Host: HostConfig{
			Listen:            "0.0.0.0:24356",
			StatusListen:      "127.0.0.1:24357",
			RequestIntervalMS: 1000,
			Notify:            NotifyConfig{Enable: true, AppName: "mirkobo"},
		},
		Device: DeviceConfig{
			Remote:           "192.168.2.3:24356",
			RetryDelayMS:     3000,
			Capture:          CommandConfig{Raw: capture, Argv: mustParseArgv(capture)},
			CapturePath:      "/tmp/mirror.png",
			Touch:            CommandConfig{Raw: touch, Argv: mustParseArgv(touch)},
			FBSet:            CommandConfig{Raw: fbset, Argv: mustParseArgv(fbset)},
			CommandTimeoutMS: 5000,
		},
	}
}
