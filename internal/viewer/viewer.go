// Package viewer is the host-side display: it keeps the latest frame and
// serves it, with click forwarding, over a small HTTP surface.
package viewer

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// State is the JSON view of the display served on /state.
type State struct {
	Active    bool       `json:"active"`
	Width     uint32     `json:"width"`
	Height    uint32     `json:"height"`
	Frames    uint64     `json:"frames"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// Viewer implements the host display.
type Viewer struct {
	framePath string
	logger    *slog.Logger

	mu      sync.RWMutex
	frame   []byte
	active  bool
	width   uint32
	height  uint32
	frames  uint64
	updated time.Time
}

// New constructs a viewer. A non-empty framePath mirrors every frame to disk.
func New(framePath string, logger *slog.Logger) *Viewer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Viewer{framePath: framePath, logger: logger}
}

// ConnectionActive records whether a device is streaming.
func (v *Viewer) ConnectionActive(active bool) {
	v.mu.Lock()
	v.active = active
	v.mu.Unlock()
	v.logger.Info("viewer connection state", "active", active)
}

// DisplaySize records the device panel size.
func (v *Viewer) DisplaySize(width, height uint32) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.width, v.height = width, height
}

// Screen replaces the latest frame.
func (v *Viewer) Screen(data []byte) {
	frame := bytes.Clone(data)

	v.mu.Lock()
	v.frame = frame
	v.frames++
	v.updated = time.Now()
	v.mu.Unlock()

	if v.framePath == "" {
		return
	}
	if err := writeFileAtomic(v.framePath, frame); err != nil {
		v.logger.Warn("frame mirror failed", "path", v.framePath, "error", err.Error())
	}
}

// Frame returns the latest frame, or false before the first one.
func (v *Viewer) Frame() ([]byte, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.frame, v.frame != nil
}

// Snapshot returns the current display state.
func (v *Viewer) Snapshot() State {
	v.mu.RLock()
	defer v.mu.RUnlock()

	state := State{Active: v.active, Width: v.width, Height: v.height, Frames: v.frames}
	if !v.updated.IsZero() {
		updated := v.updated
		state.UpdatedAt = &updated
	}
	return state
}

// writeFileAtomic replaces path so readers never observe a partial image.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp frame: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp frame: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp frame: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename frame: %w", err)
	}
	return nil
}
