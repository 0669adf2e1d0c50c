package logger

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	verbosityFlagName      = "verbosity"
	verbosityFlagShortName = "v"
)

type Logger struct {
	logr.Logger
	name        string
	atomicLevel zap.AtomicLevel
	flush       func()
}

// New creates a logger that writes human readable output to stderr
func New(name string) *Logger {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	consoleEncoder := zapcore.NewConsoleEncoder(encoderConfig)

	atomicLevel := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	core := zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stderr), atomicLevel)
	zapLogger := zap.New(core)

	return &Logger{
		Logger:      zapr.NewLogger(zapLogger).WithName(name),
		name:        name,
		atomicLevel: atomicLevel,
		flush: func() {
			_ = zapLogger.Sync()
		},
	}
}

func (l *Logger) SetLevel(level zapcore.Level) {
	l.atomicLevel.SetLevel(level)
}

func (l *Logger) Flush() {
	l.flush()
}

// AddLevelFlag adds the verbosity flag that sets the console log level
func (l *Logger) AddLevelFlag(fs *pflag.FlagSet) {
	fs.VarP(&levelFlag{logger: l, value: "info"}, verbosityFlagName, verbosityFlagShortName,
		"Logging verbosity level (debug, info, error, or a number: 0 = info, 1 = debug, 2+ = more detail)")
}

type levelFlag struct {
	logger *Logger
	value  string
}

func (f *levelFlag) String() string {
	return f.value
}

func (f *levelFlag) Type() string {
	return "level"
}

func (f *levelFlag) Set(s string) error {
	level, err := parseLevel(s)
	if err != nil {
		return err
	}
	f.value = s
	f.logger.SetLevel(level)
	return nil
}

// parseLevel maps names and logr verbosity numbers onto zap levels.
// logr V(n) logs at zap level -n, so higher numbers enable more output.
func parseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info":
		return zapcore.InfoLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	}

	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil || n < 0 {
		return zapcore.InfoLevel, fmt.Errorf("invalid verbosity level '%s'", s)
	}
	return zapcore.Level(-n), nil
}
