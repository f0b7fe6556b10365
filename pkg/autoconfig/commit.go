package autoconfig

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

const (
	configFilename   = "bluealsa-autoconfig.conf"
	stagingFilename  = ".bluealsa-autoconfig.tmp"
	defaultsFilename = "defaults.conf"
	lockFilename     = "lock"

	ueventPath = "/sys/class/sound/controlC0/uevent"

	configFileMode = 0o644
)

// Committer persists rendered configuration text.
type Committer interface {
	Commit(hints []byte, defaults []byte) error
}

// fileCommitter writes the name hints through a staging file that is renamed
// over the live file, so readers never see a partial configuration.
type fileCommitter struct {
	logger *zap.SugaredLogger

	configPath   string
	stagingPath  string
	defaultsPath string // empty when defaults are not managed
	ueventPath   string // empty when udev events are disabled
}

func newFileCommitter(logger *zap.SugaredLogger, configDir, runDir string, defaults, udev bool) *fileCommitter {
	fc := &fileCommitter{
		logger:      logger.Named("commit"),
		configPath:  filepath.Join(configDir, configFilename),
		stagingPath: filepath.Join(configDir, stagingFilename),
	}

	if defaults {
		fc.defaultsPath = filepath.Join(runDir, defaultsFilename)
	}
	if udev {
		fc.ueventPath = ueventPath
	}

	return fc
}

// Commit writes hints to the live file. The defaults file, when managed, is
// rewritten in place. A failure to stage the hints leaves the live file
// untouched.
func (fc *fileCommitter) Commit(hints []byte, defaults []byte) error {
	if err := os.WriteFile(fc.stagingPath, hints, configFileMode); err != nil {
		fc.logger.Errorw("Failed to write staging file", "path", fc.stagingPath, "error", err)
		return fmt.Errorf("write staging file: %w", err)
	}

	// the defaults file is best effort, the name hints go out regardless
	if fc.defaultsPath != "" {
		if err := os.WriteFile(fc.defaultsPath, defaults, configFileMode); err != nil {
			fc.logger.Errorw("Failed to write defaults file", "path", fc.defaultsPath, "error", err)
		}
	}

	if err := os.Rename(fc.stagingPath, fc.configPath); err != nil {
		fc.logger.Errorw("Failed to replace config file", "path", fc.configPath, "error", err)
		return fmt.Errorf("replace config file: %w", err)
	}

	fc.logger.Debugw("Committed configuration", "path", fc.configPath, "bytes", len(hints))

	if fc.ueventPath != "" {
		fc.triggerUdev()
	}

	return nil
}

// triggerUdev asks the kernel to emit a change event for the first sound
// card, which makes desktop sound servers rescan ALSA devices. A failure
// disables the trigger for the rest of the run.
func (fc *fileCommitter) triggerUdev() {
	f, err := os.OpenFile(fc.ueventPath, os.O_WRONLY, 0)
	if err == nil {
		_, err = f.WriteString("change")
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
	}

	if err != nil {
		fc.logger.Warnw("Failed to trigger udev change event, disabling", "path", fc.ueventPath, "error", err)
		fc.ueventPath = ""
	}
}
