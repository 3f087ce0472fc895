// Package doctor runs readiness diagnostics for config, device tools, and the host status service.
package doctor

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rbright/mirkobo/internal/config"
	"github.com/rbright/mirkobo/internal/status"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Roles accepted by Run.
const (
	RoleHost   = "host"
	RoleDevice = "device"
)

const probeTimeout = 2 * time.Second

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Run executes the checks for role. An empty role runs both sets.
func Run(ctx context.Context, cfg config.Loaded, role string) Report {
	checks := []Check{{
		Name:    "config",
		Pass:    true,
		Message: configMessage(cfg),
	}}

	if role == "" || role == RoleHost {
		checks = append(checks, checkListen("host.listen", cfg.Config.Host.Listen))
		if cfg.Config.Host.Notify.Enable {
			checks = append(checks, checkEnv("DBUS_SESSION_BUS_ADDRESS", func(v string) bool {
				return strings.TrimSpace(v) != ""
			}, "session bus available for notifications", "DBUS_SESSION_BUS_ADDRESS is empty"))
			checks = append(checks, checkBinary("busctl", "desktop notifications"))
		}
	}

	if role == "" || role == RoleDevice {
		checks = append(checks, checkCommand(cfg.Config.Device.Capture.Argv, "device.capture_cmd"))
		checks = append(checks, checkCommand(cfg.Config.Device.Touch.Argv, "device.touch_cmd"))
		checks = append(checks, checkCommand(cfg.Config.Device.FBSet.Argv, "device.fbset_cmd"))
		if strings.TrimSpace(cfg.Config.Device.StatusAddr) != "" {
			checks = append(checks, checkHostStatus(ctx, cfg.Config.Device.StatusAddr))
		}
	}

	return Report{Checks: checks}
}

func configMessage(cfg config.Loaded) string {
	if !cfg.Exists {
		return fmt.Sprintf("no file at %q, using defaults", cfg.Path)
	}
	msg := fmt.Sprintf("loaded %q", cfg.Path)
	if cfg.Format != "" {
		msg += fmt.Sprintf(" as %s", cfg.Format)
	}
	if cfg.Source != "" {
		msg += fmt.Sprintf(" from %s", cfg.Source)
	}
	if n := len(cfg.Warnings); n > 0 {
		msg += fmt.Sprintf(" (%d warnings)", n)
	}
	return msg
}

// checkEnv validates an environment variable through a caller-supplied predicate.
func checkEnv(name string, predicate func(string) bool, okMsg, failMsg string) Check {
	value := os.Getenv(name)
	if predicate(value) {
		return Check{Name: name, Pass: true, Message: okMsg}
	}
	return Check{Name: name, Pass: false, Message: failMsg}
}

// checkListen binds addr briefly to confirm the port is free.
func checkListen(name, addr string) Check {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("cannot listen on %s: %v", addr, err)}
	}
	_ = lis.Close()
	return Check{Name: name, Pass: true, Message: fmt.Sprintf("%s is free", addr)}
}

// checkCommand validates that argv contains a runnable command.
func checkCommand(argv []string, name string) Check {
	if len(argv) == 0 {
		return Check{Name: name, Pass: false, Message: "command is empty"}
	}
	return checkBinary(argv[0], fmt.Sprintf("%s command is available", name))
}

// checkBinary validates that a binary exists in PATH.
func checkBinary(bin string, okMsg string) Check {
	path, err := exec.LookPath(bin)
	if err != nil {
		return Check{Name: bin, Pass: false, Message: fmt.Sprintf("binary not found in PATH: %s", bin)}
	}
	return Check{Name: bin, Pass: true, Message: fmt.Sprintf("found at %s (%s)", path, okMsg)}
}

// checkHostStatus asks the host's gRPC health service whether a device is streaming.
func checkHostStatus(ctx context.Context, addr string) Check {
	serving, err := status.Probe(ctx, addr, probeTimeout)
	if err != nil {
		return Check{Name: "host.status", Pass: false, Message: fmt.Sprintf("probe %s: %v", addr, err)}
	}
	if serving == healthpb.HealthCheckResponse_SERVING {
		return Check{Name: "host.status", Pass: true, Message: fmt.Sprintf("host at %s is streaming", addr)}
	}
	return Check{Name: "host.status", Pass: true, Message: fmt.Sprintf("host at %s is reachable, no device streaming", addr)}
}
