package plastiscan

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ecocollect/plastiscan/pkg/plastiscan/util"
)

const (
	buildTypeRelease = "release"

	logDirectory = "logs"
	logFilename  = "plastiscan-latest-run.log"

	logMaxSizeMB   = 10
	logMaxBackups  = 5
	logMaxAgeDays  = 30
	logNameColumns = 27
)

// NewLogger provides a logger instance for the whole program.
// Release builds log info and above (debug when verbose) to a rotating file;
// everything else logs colourful debug output to stderr.
func NewLogger(buildType string, verbose bool) (*zap.SugaredLogger, error) {
	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeCaller = nil
	encoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.Format("2006-01-02 15:04:05.000"))
	}
	encoderConfig.EncodeName = func(name string, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(fmt.Sprintf("%-*s", logNameColumns, name))
	}

	var core zapcore.Core

	if buildType == buildTypeRelease {
		if err := util.EnsureDirExists(logDirectory); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}

		rotator := &lumberjack.Logger{
			Filename:   filepath.Join(logDirectory, logFilename),
			MaxSize:    logMaxSizeMB,
			MaxBackups: logMaxBackups,
			MaxAge:     logMaxAgeDays,
			Compress:   true,
		}

		level := zap.InfoLevel
		if verbose {
			level = zap.DebugLevel
		}

		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		core = zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.AddSync(rotator), level)
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		core = zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.Lock(os.Stderr), zap.DebugLevel)
	}

	return zap.New(core).Sugar(), nil
}
