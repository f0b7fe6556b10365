package autoconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"
)

const (
	crashlogFilename        = "crash-%s.log"
	crashlogTimestampFormat = "2006.01.02-15.04.05"
	crashMessageTemplate    = `-----------------------------------------------------------------
                  bluealsa-autoconfig crashlog
-----------------------------------------------------------------
The name hint daemon has crashed. ALSA may keep showing the
Bluetooth devices that were connected at the time of the crash
until the daemon is restarted.
-----------------------------------------------------------------
Time: %s
Panic occurred: %s
Stack trace:
%s
-----------------------------------------------------------------
`
)

// recoverFromPanic handles application panics, logs the error, and exits.
func (a *Autoconfig) recoverFromPanic() {
	if r := recover(); r != nil {
		a.handlePanic(r)
	}
}

// handlePanic writes a crash log to the run directory, notifies the user and
// exits without the final commit, whose graph can no longer be trusted.
func (a *Autoconfig) handlePanic(recoverValue interface{}) {
	now := time.Now()
	crashlogPath := filepath.Join(a.config.RunDir, fmt.Sprintf(crashlogFilename, now.Format(crashlogTimestampFormat)))

	if err := os.WriteFile(crashlogPath, a.createCrashLogContent(now, recoverValue), 0o644); err != nil {
		a.logger.Errorw("Failed to write crash log", "path", crashlogPath, "error", err)
	}

	a.logger.Errorw("Application panic encountered",
		"crashlogPath", crashlogPath,
		"error", recoverValue)

	a.notifier.Notify("Unexpected crash occurred",
		fmt.Sprintf("Details logged to: %s", crashlogPath))

	if err := a.lock.Release(); err != nil {
		a.logger.Warnw("Failed to release lock", "error", err)
	}

	a.logger.Errorw("Exiting due to panic", "exitCode", 1)
	_ = a.logger.Sync()
	os.Exit(1)
}

// createCrashLogContent generates the formatted crash log content.
func (a *Autoconfig) createCrashLogContent(timestamp time.Time, recoverValue interface{}) []byte {
	return []byte(fmt.Sprintf(crashMessageTemplate,
		timestamp.Format(crashlogTimestampFormat),
		recoverValue,
		debug.Stack(),
	))
}
