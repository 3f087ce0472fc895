// Package app wires the CLI commands to the host and device runtimes.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/rbright/mirkobo/internal/cli"
	"github.com/rbright/mirkobo/internal/config"
	"github.com/rbright/mirkobo/internal/doctor"
	"github.com/rbright/mirkobo/internal/ipc"
	"github.com/rbright/mirkobo/internal/logging"
	"github.com/rbright/mirkobo/internal/version"
)

const (
	forwardTimeout = 220 * time.Millisecond
	acquireProbe   = 180 * time.Millisecond
	acquireRetries = 8
	shutdownGrace  = 2 * time.Second
)

type Runner struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
}

func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	r := Runner{Stdout: stdout, Stderr: stderr}
	return r.Execute(ctx, args)
}

func (r Runner) Execute(ctx context.Context, args []string) int {
	parsed, err := cli.Parse(args)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n\n", err)
		fmt.Fprint(r.Stderr, cli.HelpText("mirkobo"))
		return 2
	}

	if parsed.ShowHelp {
		fmt.Fprint(r.Stdout, cli.HelpText("mirkobo"))
		return 0
	}

	if parsed.Command == cli.CommandVersion {
		fmt.Fprintln(r.Stdout, version.String())
		return 0
	}

	logRuntime, err := logging.New()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: setup logging: %v\n", err)
		return 1
	}
	defer func() { _ = logRuntime.Close() }()

	logger := r.Logger
	if logger == nil {
		logger = logRuntime.Logger
	}

	cfgLoaded, err := config.Load(parsed.ConfigPath)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		logger.Error("load config failed", "error", err.Error())
		return 1
	}
	for _, w := range cfgLoaded.Warnings {
		msg := w.Message
		if w.Line > 0 {
			msg = fmt.Sprintf("line %d: %s", w.Line, w.Message)
		}
		if cfgLoaded.Exists {
			fmt.Fprintf(r.Stderr, "warning: %s\n", msg)
		}
		logger.Warn("config warning", "line", w.Line, "message", w.Message)
	}

	logger.Info("command start", append([]any{
		"command", parsed.Command,
		"role", parsed.Role,
		"config", cfgLoaded.Path,
		"config_source", string(cfgLoaded.Source),
		"log", logRuntime.Path,
	}, version.LogAttrs()...)...)

	switch parsed.Command {
	case cli.CommandDoctor:
		report := doctor.Run(ctx, cfgLoaded, parsed.Role)
		fmt.Fprintln(r.Stdout, report.String())
		if report.OK() {
			return 0
		}
		return 1
	case cli.CommandStatus:
		return r.commandStatus(ctx, parsed.Role)
	case cli.CommandStop:
		return r.commandStop(ctx, parsed.Role)
	case cli.CommandHost:
		return r.commandHost(ctx, cfgLoaded.Config, logger.With("role", cli.RoleHost))
	case cli.CommandDevice:
		return r.commandDevice(ctx, cfgLoaded.Config, logger.With("role", cli.RoleDevice))
	default:
		fmt.Fprintf(r.Stderr, "error: unsupported command %q\n", parsed.Command)
		return 2
	}
}

// rolesFor expands an empty role to both process kinds.
func rolesFor(role string) []string {
	if role != "" {
		return []string{role}
	}
	return []string{cli.RoleHost, cli.RoleDevice}
}

func (r Runner) commandStatus(ctx context.Context, role string) int {
	running := 0
	for _, target := range rolesFor(role) {
		socketPath, err := ipc.RuntimeSocketPath(target)
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			return 1
		}

		resp, handled, err := tryForward(ctx, socketPath, ipc.CommandStatus)
		if !handled {
			continue
		}
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: %s: %v\n", target, err)
			return 1
		}
		running++
		fmt.Fprintln(r.Stdout, formatStatus(target, resp))
	}

	if running == 0 {
		fmt.Fprintln(r.Stdout, "idle")
	}
	return 0
}

func formatStatus(role string, resp ipc.Response) string {
	state := resp.State
	if state == "" {
		state = "idle"
	}
	line := role + ": " + state
	if resp.Peer != "" {
		line += " peer=" + resp.Peer
	}
	return line
}

func (r Runner) commandStop(ctx context.Context, role string) int {
	stopped := 0
	for _, target := range rolesFor(role) {
		socketPath, err := ipc.RuntimeSocketPath(target)
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			return 1
		}

		resp, handled, err := tryForward(ctx, socketPath, ipc.CommandStop)
		if !handled {
			continue
		}
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: %s: %v\n", target, err)
			return 1
		}
		stopped++
		if resp.Message != "" {
			fmt.Fprintf(r.Stdout, "%s: %s\n", target, resp.Message)
		}
	}

	if stopped == 0 {
		fmt.Fprintln(r.Stderr, "error: no running mirkobo process")
		return 1
	}
	return 0
}

// acquireSocket claims the control socket for role. The returned cleanup
// closes the listener and unlinks the socket.
func (r Runner) acquireSocket(ctx context.Context, role string) (net.Listener, func(), bool) {
	socketPath, err := ipc.RuntimeSocketPath(role)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return nil, nil, false
	}

	listener, err := ipc.Acquire(ctx, socketPath, acquireProbe, acquireRetries)
	if err != nil {
		if errors.Is(err, ipc.ErrAlreadyRunning) {
			fmt.Fprintf(r.Stderr, "error: %s already running (%s)\n", role, socketPath)
			return nil, nil, false
		}
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return nil, nil, false
	}

	cleanup := func() {
		_ = listener.Close()
		_ = os.Remove(socketPath)
	}
	return listener, cleanup, true
}

func tryForward(ctx context.Context, socketPath string, command string) (ipc.Response, bool, error) {
	resp, err := ipc.Send(ctx, socketPath, ipc.Request{Command: command}, forwardTimeout)
	if err == nil {
		if resp.OK {
			return resp, true, nil
		}
		return resp, true, errors.New(resp.Error)
	}

	if ipc.IsNotRunning(err) {
		return ipc.Response{}, false, nil
	}

	return ipc.Response{}, true, fmt.Errorf("forward command %q: %w", command, err)
}

// exitCode maps a runtime error to a process exit code. Cancellation of the
// parent context (SIGINT/SIGTERM) is a clean exit.
func (r Runner) exitCode(ctx context.Context, role string, logger *slog.Logger, err error) int {
	if err == nil || (errors.Is(err, context.Canceled) && ctx.Err() != nil) {
		logger.Info(role + " stopped")
		return 0
	}
	logger.Error(role+" failed", "error", err.Error())
	fmt.Fprintf(r.Stderr, "error: %v\n", err)
	return 1
}
