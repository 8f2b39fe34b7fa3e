package ipc

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig is matched by every configuration error.
	ErrConfig = errors.New("invalid configuration")

	// ErrConnectTimeout is returned by Ready when no responder accepted the
	// connection before the connect timeout.
	ErrConnectTimeout = errors.New("connect timeout")

	// ErrClosed is returned for operations on a closing or closed Conn.
	ErrClosed = errors.New("connection closed")

	// ErrNotOpen is returned for calls made before Ready completed.
	ErrNotOpen = errors.New("connection not open")

	// ErrMethodNotFound is wrapped by the default unhandled policy.
	ErrMethodNotFound = errors.New("method not found")

	// ErrUnknownMethod is returned when calling a name that is not declared.
	ErrUnknownMethod = errors.New("unknown method")

	// ErrWrongKind is returned when a method is invoked through a call shape
	// it was not declared with.
	ErrWrongKind = errors.New("wrong method kind")
)

// ConfigError describes an invalid option or method declaration.
type ConfigError struct {
	Method string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Method == "" {
		return fmt.Sprintf("%s: %s", ErrConfig, e.Reason)
	}
	return fmt.Sprintf("%s: method %q: %s", ErrConfig, e.Method, e.Reason)
}

func (e *ConfigError) Is(target error) bool {
	return target == ErrConfig
}

func configErrorf(method string, format string, args ...any) error {
	return &ConfigError{Method: method, Reason: fmt.Sprintf(format, args...)}
}
