// Package transform maps host pointer positions into device display coordinates.
package transform

import "math"

// Config holds the fixed corrections for frame borders and sensor rotation.
type Config struct {
	ShiftX   float32
	ShiftY   float32
	InvertX  bool
	InvertY  bool
	SwapAxes bool
}

// Point is a position in host rendering space.
type Point struct {
	X float32
	Y float32
}

// Size is a width/height pair in pixels.
type Size struct {
	Width  float32
	Height float32
}

// Valid reports whether both dimensions are positive and finite.
func (s Size) Valid() bool {
	return s.Width > 0 && s.Height > 0 &&
		!math.IsInf(float64(s.Width), 0) && !math.IsInf(float64(s.Height), 0)
}

// Apply runs the fixed pipeline: shift, scale to device space, invert, swap, saturate.
//
// The step order matters: shifting happens in host space before scaling,
// inversion is relative to the device size, and the swap is applied last.
func Apply(raw Point, area Size, cfg Config, device Size) (uint16, uint16) {
	x := raw.X + cfg.ShiftX
	y := raw.Y + cfg.ShiftY

	x *= device.Width / area.Width
	y *= device.Height / area.Height

	if cfg.InvertX {
		x = device.Width - x
	}
	if cfg.InvertY {
		y = device.Height - y
	}
	if cfg.SwapAxes {
		x, y = y, x
	}

	return saturate(x), saturate(y)
}

// saturate truncates toward zero and clamps to the uint16 range; NaN maps to 0.
func saturate(v float32) uint16 {
	if !(v > 0) {
		return 0
	}
	if v >= math.MaxUint16 {
		return math.MaxUint16
	}
	return uint16(v)
}
