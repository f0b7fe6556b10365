package autoconfig

import (
	"github.com/gen2brain/beeep"
	"go.uber.org/zap"
)

// Notifier provides a generic interface for sending notifications.
type Notifier interface {
	Notify(title string, message string)
}

// DesktopNotifier sends desktop notifications through the session's
// notification service.
type DesktopNotifier struct {
	logger *zap.SugaredLogger
}

// NewDesktopNotifier creates a new instance of DesktopNotifier.
func NewDesktopNotifier(logger *zap.SugaredLogger) *DesktopNotifier {
	logger = logger.Named("notifier")
	logger.Debug("Created desktop notifier instance")

	return &DesktopNotifier{logger: logger}
}

// Notify sends a notification. Failures are logged and otherwise ignored.
func (dn *DesktopNotifier) Notify(title, message string) {
	dn.logger.Infow("Sending desktop notification", "title", title, "message", message)

	if err := beeep.Notify(title, message, ""); err != nil {
		dn.logger.Warnw("Failed to send desktop notification", "error", err)
	}
}

// logNotifier only records notifications in the log. It is used when
// desktop notifications are disabled, which is the norm for a system daemon.
type logNotifier struct {
	logger *zap.SugaredLogger
}

func (ln logNotifier) Notify(title, message string) {
	ln.logger.Debugw("Notification suppressed", "title", title, "message", message)
}

func newNotifier(logger *zap.SugaredLogger, enabled bool) Notifier {
	if enabled {
		return NewDesktopNotifier(logger)
	}
	return logNotifier{logger: logger.Named("notifier")}
}
