package log

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewProductionLogger_Levels(t *testing.T) {
	tests := []struct {
		level string
		err   bool
	}{
		{level: "debug"},
		{level: "info"},
		{level: "warn"},
		{level: "error"},
		{level: "INFO"},
		{level: "Warn"},
		{level: "fatal", err: true},
		{level: "verbose", err: true},
		{level: "", err: true},
	}
	for _, test := range tests {
		t.Run(test.level, func(t *testing.T) {
			_, err := NewProductionLogger(test.level)
			if test.err {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNamedLoggerWritesFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewLogger(zap.New(core).Sugar()).Named("partitioner")

	logger.Debugw("round finished", "round", 1)
	logger.Warnw("worker failed", "shard", 2)

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "partitioner", entries[0].LoggerName)
	assert.Equal(t, "round finished", entries[0].Message)
	assert.Equal(t, int64(1), entries[0].ContextMap()["round"])
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
}

func TestNopLogger(t *testing.T) {
	logger := NewNopLogger()
	logger.Infow("ignored", "k", "v")
	logger.Errorw("ignored")
	assert.NotNil(t, logger.Named("x"))
}
