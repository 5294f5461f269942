package logging

import (
	"context"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log file rotation settings.
const (
	maxLogFileSizeMB = 200
	maxLogFileAge    = 28
)

type loggerKey struct{}

// NewContext returns a context carrying the given logger.
func NewContext(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext returns the logger carried by the context, or a fresh
// console logger when the context carries none.
func FromContext(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok {
		return logger
	}
	return New(zap.DebugLevel, "", false)
}

// New creates a logger writing to stdout and, when logFileName is not
// empty, to a rotated log file. The file always captures debug level.
func New(level zapcore.LevelEnabler, logFileName string, json bool) *zap.Logger {
	var encoder zapcore.Encoder
	if json {
		encoder = zapcore.NewJSONEncoder(zap.NewDevelopmentEncoderConfig())
	} else {
		encoder = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	}

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), level),
	}

	if logFileName != "" {
		fileSyncer := zapcore.AddSync(&lumberjack.Logger{
			Filename: logFileName,
			MaxSize:  maxLogFileSizeMB,
			MaxAge:   maxLogFileAge,
			Compress: true,
		})
		cores = append(cores, zapcore.NewCore(encoder, fileSyncer, zap.DebugLevel))
	}

	return zap.New(zapcore.NewTee(cores...))
}
