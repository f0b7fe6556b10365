package autoconfig

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	BuildTypeNone    = ""        // Default build type (undefined)
	BuildTypeDev     = "dev"     // Development build type
	BuildTypeRelease = "release" // Release build type
)

// NewLogger initializes and returns a new logger instance based on the build type.
// - For release builds, logs to stderr with info level and above, debug when verbose.
// - For development builds, logs to stderr with debug level and colorful output.
func NewLogger(buildType string, verbose bool) (*zap.SugaredLogger, error) {
	var loggerConfig zap.Config

	if buildType == BuildTypeRelease {
		// journald adds its own timestamps, keep the line short
		loggerConfig = zap.NewProductionConfig()
		loggerConfig.Encoding = "console"
		loggerConfig.Sampling = nil
		loggerConfig.OutputPaths = []string{"stderr"}

		if verbose {
			loggerConfig.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		}
	} else {
		loggerConfig = zap.NewDevelopmentConfig()
		loggerConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	// Common encoder settings: human-readable timestamps and aligned names
	loggerConfig.EncoderConfig.EncodeCaller = nil
	loggerConfig.EncoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.Format("2006-01-02 15:04:05.000"))
	}
	loggerConfig.EncoderConfig.EncodeName = func(name string, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(fmt.Sprintf("%-27s", name))
	}

	logger, err := loggerConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return logger.Sugar(), nil
}
