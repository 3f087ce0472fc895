// Package kobo drives the e-reader through its command-line tools: fbgrab
// for captures, a touch emulator for taps, and fbset for the panel size.
package kobo

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rbright/mirkobo/internal/config"
)

const defaultTimeout = 5 * time.Second

// Controller implements the device operations by running external tools.
type Controller struct {
	config config.DeviceConfig
	logger *slog.Logger
}

// New constructs a controller from the device section of the runtime config.
func New(cfg config.DeviceConfig, logger *slog.Logger) *Controller {
	return &Controller{config: cfg, logger: logger}
}

func (c *Controller) timeout() time.Duration {
	if c.config.CommandTimeoutMS <= 0 {
		return defaultTimeout
	}
	return c.config.CommandTimeout()
}

// CaptureScreen runs the capture command and returns the image it wrote.
func (c *Controller) CaptureScreen(ctx context.Context) ([]byte, error) {
	path := c.config.CapturePath
	if path == "" {
		return nil, errors.New("capture path must not be empty")
	}
	// A failed capture must not resend the previous frame.
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove stale capture: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()
	if _, err := runCommand(ctx, c.config.Capture.Argv); err != nil {
		return nil, fmt.Errorf("capture screen: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read capture: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("capture %s is empty", path)
	}
	return data, nil
}

// InjectTouch runs the touch command with the device coordinates appended.
func (c *Controller) InjectTouch(ctx context.Context, x, y uint16) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	_, err := runCommand(ctx, c.config.Touch.Argv,
		strconv.FormatUint(uint64(x), 10),
		strconv.FormatUint(uint64(y), 10),
	)
	if err != nil {
		return fmt.Errorf("inject touch at %d,%d: %w", x, y, err)
	}
	if c.logger != nil {
		c.logger.Debug("touch injected", "x", x, "y", y)
	}
	return nil
}

// DisplaySize queries the framebuffer geometry.
func (c *Controller) DisplaySize(ctx context.Context) (uint32, uint32, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	out, err := runCommand(ctx, c.config.FBSet.Argv)
	if err != nil {
		return 0, 0, fmt.Errorf("query display size: %w", err)
	}
	return ParseFBSet(out)
}

// ParseFBSet extracts the visible resolution from fbset output, which
// carries it on a line of the form "geometry <xres> <yres> <vxres> <vyres> <depth>".
func ParseFBSet(out []byte) (uint32, uint32, error) {
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 || fields[0] != "geometry" {
			continue
		}
		if len(fields) < 3 {
			return 0, 0, fmt.Errorf("malformed geometry line %q", scanner.Text())
		}
		width, err := strconv.ParseUint(fields[1], 10, 32)
		if err != nil {
			return 0, 0, fmt.Errorf("parse geometry width %q: %w", fields[1], err)
		}
		height, err := strconv.ParseUint(fields[2], 10, 32)
		if err != nil {
			return 0, 0, fmt.Errorf("parse geometry height %q: %w", fields[2], err)
		}
		if width == 0 || height == 0 {
			return 0, 0, fmt.Errorf("geometry %dx%d is empty", width, height)
		}
		return uint32(width), uint32(height), nil
	}
	if err := scanner.Err(); err != nil {
		return 0, 0, fmt.Errorf("read fbset output: %w", err)
	}
	return 0, 0, errors.New("fbset output has no geometry line")
}

// runCommand executes argv plus extra arguments and returns stdout.
func runCommand(ctx context.Context, argv []string, extra ...string) ([]byte, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("command argv cannot be empty")
	}

	args := append(append([]string(nil), argv[1:]...), extra...)
	cmd := exec.CommandContext(ctx, argv[0], args...)
	cmd.WaitDelay = time.Second
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		trimmed := strings.TrimSpace(stderr.String())
		if trimmed == "" {
			return nil, fmt.Errorf("%s failed: %w", argv[0], err)
		}
		return nil, fmt.Errorf("%s failed: %w (%s)", argv[0], err, trimmed)
	}
	return out, nil
}
