package session

import (
	"context"
	"errors"
)

// ErrNoController indicates runtime device tooling is not wired.
var ErrNoController = errors.New("device controller not configured")

// Controller abstracts the device-local side effects driven by host messages.
type Controller interface {
	CaptureScreen(context.Context) ([]byte, error)
	InjectTouch(ctx context.Context, x, y uint16) error
	DisplaySize(context.Context) (uint32, uint32, error)
}

// unavailableController fails every operation; it keeps a misconfigured
// session from panicking and ends it at the handshake instead.
type unavailableController struct{}

func (unavailableController) CaptureScreen(context.Context) ([]byte, error) {
	return nil, ErrNoController
}

func (unavailableController) InjectTouch(context.Context, uint16, uint16) error {
	return ErrNoController
}

func (unavailableController) DisplaySize(context.Context) (uint32, uint32, error) {
	return 0, 0, ErrNoController
}
