// Package log provides the structured logger used across the partitioner.
package log

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger interface {
	Debugw(string, ...any)
	Infow(string, ...any)
	Warnw(string, ...any)
	Errorw(string, ...any)

	Named(string) Logger
}

type Log struct {
	zapLogger *zap.SugaredLogger
}

var _ Logger = (*Log)(nil)

// NewProductionLogger builds a console logger at the given level
// (debug, info, warn or error, case insensitive).
func NewProductionLogger(level string) (*Log, error) {
	var lvl zapcore.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = zapcore.DebugLevel
	case "info":
		lvl = zapcore.InfoLevel
	case "warn":
		lvl = zapcore.WarnLevel
	case "error":
		lvl = zapcore.ErrorLevel
	default:
		return nil, fmt.Errorf("cannot parse log level: %q", level)
	}

	logConfig := zap.NewProductionConfig()
	logConfig.Encoding = "console"
	logConfig.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	logConfig.EncoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.Local().Format("15:04:05.000 02/01/2006"))
	}
	logConfig.Level.SetLevel(lvl)
	logger, err := logConfig.Build()
	if err != nil {
		return nil, err
	}
	return NewLogger(logger.Sugar()), nil
}

func NewLogger(zapLogger *zap.SugaredLogger) *Log {
	return &Log{zapLogger: zapLogger}
}

// NewNopLogger discards everything; used by tests
func NewNopLogger() *Log {
	return NewLogger(zap.NewNop().Sugar())
}

func (l *Log) Debugw(msg string, args ...any) {
	l.zapLogger.Debugw(msg, args...)
}

func (l *Log) Infow(msg string, args ...any) {
	l.zapLogger.Infow(msg, args...)
}

func (l *Log) Warnw(msg string, args ...any) {
	l.zapLogger.Warnw(msg, args...)
}

func (l *Log) Errorw(msg string, args ...any) {
	l.zapLogger.Errorw(msg, args...)
}

func (l *Log) Named(name string) Logger {
	return NewLogger(l.zapLogger.Named(name))
}

// Sync flushes buffered entries
func (l *Log) Sync() error {
	return l.zapLogger.Sync()
}
