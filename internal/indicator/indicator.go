// Package indicator tells the operator when the device connects or drops,
// using replaceable freedesktop notifications.
package indicator

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rbright/mirkobo/internal/config"
)

const (
	dispatchTimeout   = 400 * time.Millisecond
	connectedTimeout  = 3000
	disconnectTimeout = 0 // stays until dismissed or replaced
)

// Display is the subset of the host display the indicator decorates.
type Display interface {
	ConnectionActive(bool)
	DisplaySize(width, height uint32)
	Screen([]byte)
}

// Notifier posts connection state changes as desktop notifications.
type Notifier struct {
	cfg      config.NotifyConfig
	logger   *slog.Logger
	messages messages

	mu             sync.Mutex
	notificationID uint32
}

// NewNotifier creates a notifier from config.
func NewNotifier(cfg config.NotifyConfig, logger *slog.Logger) *Notifier {
	return &Notifier{
		cfg:      cfg,
		logger:   logger,
		messages: indicatorMessagesFromEnv(),
	}
}

// Wrap returns a Display that forwards to next and also notifies on
// connection changes. A disabled notifier returns next unchanged.
func (n *Notifier) Wrap(next Display) Display {
	if !n.cfg.Enable {
		return next
	}
	return notifyingDisplay{Display: next, notifier: n}
}

type notifyingDisplay struct {
	Display
	notifier *Notifier
}

func (d notifyingDisplay) ConnectionActive(active bool) {
	d.Display.ConnectionActive(active)
	d.notifier.ConnectionActive(context.Background(), active)
}

// ConnectionActive replaces the previous notification with the new state.
func (n *Notifier) ConnectionActive(ctx context.Context, active bool) {
	if !n.cfg.Enable {
		return
	}
	text, timeout, level := n.messages.disconnected, disconnectTimeout, urgencyNormal
	if active {
		text, timeout, level = n.messages.connected, connectedTimeout, urgencyLow
	}
	n.run(ctx, func(ctx context.Context) error {
		return n.notifyDesktop(ctx, text, timeout, level)
	})
}

// Dismiss closes the current notification, if any.
func (n *Notifier) Dismiss(ctx context.Context) {
	if !n.cfg.Enable {
		return
	}
	n.run(ctx, n.dismissDesktop)
}

// notifyDesktop sends a replaceable desktop notification and stores its ID.
func (n *Notifier) notifyDesktop(ctx context.Context, text string, timeoutMS int, level urgency) error {
	n.mu.Lock()
	replaceID := n.notificationID
	n.mu.Unlock()

	appName := strings.TrimSpace(n.cfg.AppName)
	if appName == "" {
		appName = "mirkobo"
	}

	id, err := desktopNotify(ctx, notification{
		appName:   appName,
		replaceID: replaceID,
		summary:   text,
		urgency:   level,
		timeoutMS: timeoutMS,
	})
	if err != nil {
		return err
	}

	n.mu.Lock()
	n.notificationID = id
	n.mu.Unlock()
	return nil
}

// dismissDesktop closes the current desktop notification ID when present.
func (n *Notifier) dismissDesktop(ctx context.Context) error {
	n.mu.Lock()
	id := n.notificationID
	n.notificationID = 0
	n.mu.Unlock()

	if id == 0 {
		return nil
	}
	return desktopDismiss(ctx, id)
}

// run executes a notification operation with a bounded timeout.
func (n *Notifier) run(ctx context.Context, fn func(context.Context) error) {
	runCtx, cancel := context.WithTimeout(ctx, dispatchTimeout)
	defer cancel()
	if err := fn(runCtx); err != nil {
		n.log("indicator dispatch failed", err)
	}
}

// log emits debug-only indicator failures to the runtime logger.
func (n *Notifier) log(message string, err error) {
	if n.logger == nil || err == nil {
		return
	}
	n.logger.Debug(message, "error", err.Error())
}
