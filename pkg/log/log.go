// Package log defines the logging interface used throughout the rpc and ipc
// packages, along with a zap backed implementation.
package log

import (
	"go.uber.org/zap"
)

// Logger is the minimal leveled logger the runtime writes to. A nil Logger
// in any config disables logging.
type Logger interface {
	Debug(msg string)
	Info(msg string)
	Warn(msg string)
	Error(msg string)
}

type zapLogger struct {
	l *zap.Logger
}

// NewZap adapts a zap logger.
func NewZap(l *zap.Logger) Logger {
	return &zapLogger{
		l: l.WithOptions(zap.AddCallerSkip(1)),
	}
}

// NewDevelopment returns a human readable zap logger at the requested level,
// suitable for command line tools.
func NewDevelopment(debug bool) (Logger, error) {
	conf := zap.NewDevelopmentConfig()
	if !debug {
		conf.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	l, err := conf.Build()
	if err != nil {
		return nil, err
	}
	return NewZap(l), nil
}

// NewNop returns a logger that discards everything.
func NewNop() Logger {
	return NewZap(zap.NewNop())
}

// Named returns a child logger scoped to name when l is zap backed, and l
// unchanged otherwise.
func Named(l Logger, name string) Logger {
	if zl, ok := l.(*zapLogger); ok {
		return &zapLogger{l: zl.l.Named(name)}
	}
	return l
}

func (z *zapLogger) Debug(msg string) {
	z.l.Debug(msg)
}

func (z *zapLogger) Info(msg string) {
	z.l.Info(msg)
}

func (z *zapLogger) Warn(msg string) {
	z.l.Warn(msg)
}

func (z *zapLogger) Error(msg string) {
	z.l.Error(msg)
}
