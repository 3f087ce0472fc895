// Package cli parses the mirkobo command line.
package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/pflag"
)

type Command string

const (
	CommandHost    Command = "host"
	CommandDevice  Command = "device"
	CommandStatus  Command = "status"
	CommandStop    Command = "stop"
	CommandDoctor  Command = "doctor"
	CommandVersion Command = "version"
	CommandHelp    Command = "help"
)

// Roles name the two process kinds a control command may target.
const (
	RoleHost   = "host"
	RoleDevice = "device"
)

var validCommands = map[Command]struct{}{
	CommandHost:    {},
	CommandDevice:  {},
	CommandStatus:  {},
	CommandStop:    {},
	CommandDoctor:  {},
	CommandVersion: {},
	CommandHelp:    {},
}

// takesRole marks commands that accept an optional host|device argument.
var takesRole = map[Command]bool{
	CommandStatus: true,
	CommandStop:   true,
	CommandDoctor: true,
}

type Parsed struct {
	Command    Command
	Role       string
	ConfigPath string
	ShowHelp   bool
}

func Parse(args []string) (Parsed, error) {
	fs := pflag.NewFlagSet("mirkobo", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.SortFlags = false

	var (
		configPath  string
		showHelp    bool
		showVersion bool
	)
	fs.StringVar(&configPath, "config", "", "config file path")
	fs.BoolVarP(&showHelp, "help", "h", false, "show help")
	fs.BoolVar(&showVersion, "version", false, "show version")

	if err := fs.Parse(args); err != nil {
		return Parsed{}, err
	}
	if fs.Changed("config") && configPath == "" {
		return Parsed{}, errors.New("--config requires a path")
	}

	parsed := Parsed{ConfigPath: configPath}
	switch {
	case showHelp:
		parsed.Command = CommandHelp
		parsed.ShowHelp = true
		return parsed, nil
	case showVersion:
		parsed.Command = CommandVersion
		return parsed, nil
	}

	rest := fs.Args()
	if len(rest) == 0 {
		parsed.Command = CommandHelp
		parsed.ShowHelp = true
		return parsed, nil
	}

	cmd := Command(rest[0])
	if _, ok := validCommands[cmd]; !ok {
		return Parsed{}, fmt.Errorf("unknown command: %s", rest[0])
	}
	parsed.Command = cmd
	parsed.ShowHelp = cmd == CommandHelp

	extra := rest[1:]
	if takesRole[cmd] && len(extra) > 0 {
		switch extra[0] {
		case RoleHost, RoleDevice:
			parsed.Role = extra[0]
			extra = extra[1:]
		default:
			return Parsed{}, fmt.Errorf("%s: unknown role %q (want host or device)", cmd, extra[0])
		}
	}
	if len(extra) > 0 {
		return Parsed{}, fmt.Errorf("unexpected arguments after command %q", rest[0])
	}

	return parsed, nil
}

func HelpText(binaryName string) string {
	return fmt.Sprintf(`Usage:
  %[1]s [--config PATH] <command> [host|device]

Commands:
  host      Accept e-reader connections and show the mirrored screen
  device    Connect to the host and stream this e-reader's screen
  status    Print the state of running host/device processes
  stop      Stop a running host/device process
  doctor    Run configuration and environment checks
  version   Print version information
  help      Show this help

Flags:
  --config PATH   Config file path (default: $XDG_CONFIG_HOME/mirkobo/config.jsonc)
  -h, --help      Show help
  --version       Show version

Environment:
  MIRKOBO_CONFIG      Config file path when --config is absent
  MIRKOBO_LOG_LEVEL   debug, info, warn, or error (default: info)
`, binaryName)
}
