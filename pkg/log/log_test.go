package log

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)

	l := NewZap(zap.New(core))
	l.Debug("debug message")
	l.Info("info message")
	l.Warn("warn message")
	l.Error("error message")

	entries := logs.AllUntimed()
	require.Len(t, entries, 4)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, "debug message", entries[0].Message)
	assert.Equal(t, zapcore.InfoLevel, entries[1].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[2].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[3].Level)
	assert.Equal(t, "error message", entries[3].Message)
}

func TestNamed(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)

	l := Named(NewZap(zap.New(core)), "ipc")
	l.Info("hello")

	entries := logs.AllUntimed()
	require.Len(t, entries, 1)
	assert.Equal(t, "ipc", entries[0].LoggerName)
}

func TestNop(t *testing.T) {
	assert.NotPanics(t, func() {
		l := NewNop()
		l.Debug("x")
		l.Error("y")
	})
}
