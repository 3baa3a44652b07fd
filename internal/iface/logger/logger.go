package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level represents log level
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// ParseLevel maps a config string to a zap level, defaulting to info
func ParseLevel(level string) zapcore.Level {
	switch Level(strings.ToLower(strings.TrimSpace(level))) {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelInfo:
		return zapcore.InfoLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// New creates a zap logger writing console-encoded entries to stdout and,
// when logPath is not empty, appending them to logPath as well
func New(level string, logPath string) (*zap.Logger, error) {
	writers := []io.Writer{os.Stdout}

	if logPath != "" {
		if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		writers = append(writers, file)
	}

	return NewWithWriter(level, io.MultiWriter(writers...)), nil
}

// NewWithWriter creates a console-encoded zap logger on an arbitrary writer
func NewWithWriter(level string, w io.Writer) *zap.Logger {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.AddSync(w),
		ParseLevel(level),
	)

	return zap.New(core, zap.AddCaller())
}

// OrNop returns l, or a no-op logger when l is nil
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

// StartOperation logs the start of an operation and returns the function that
// logs its completion
func StartOperation(l *zap.Logger, operation string, fields ...zap.Field) func(error) {
	startTime := time.Now()

	l.Debug("operation_start", append([]zap.Field{zap.String("operation", operation)}, fields...)...)

	return func(err error) {
		endFields := make([]zap.Field, 0, len(fields)+3)
		endFields = append(endFields,
			zap.String("operation", operation),
			zap.Duration("duration", time.Since(startTime)),
		)
		endFields = append(endFields, fields...)

		if err != nil {
			l.Error("operation_failed", append(endFields, zap.Error(err))...)
			return
		}
		l.Info("operation_complete", endFields...)
	}
}
