package ipc

import (
	"context"
	"fmt"

	"github.com/kbirk/pipc/pkg/rpc"
)

func builtinAPI() map[string]Override {
	return map[string]Override{
		"shutdown": shutdownOverride,
		"wakeup":   wakeupOverride,
	}
}

// shutdownOverride asks the responder to exit without waiting for a reply,
// then waits until it released the handoff lock.
func shutdownOverride(m *rpc.Method, c *Conn) Func {
	return func(ctx context.Context, params any) (any, error) {
		if err := m.Send(params); err != nil {
			c.logDebug("Shutdown send failed: " + err.Error())
		}
		c.shutting.Store(true)
		return nil, c.WaitForLock(ctx)
	}
}

// wakeupOverride wraps positional arguments as {"args": [...]}.
func wakeupOverride(m *rpc.Method, c *Conn) Func {
	return func(ctx context.Context, params any) (any, error) {
		var args []any
		switch v := params.(type) {
		case nil:
			args = []any{}
		case []any:
			args = v
		case []string:
			args = make([]any, len(v))
			for i, s := range v {
				args[i] = s
			}
		default:
			args = []any{v}
		}
		return m.Request(ctx, map[string]any{"args": args})
	}
}

// WaitForLock blocks until the platform's handoff lock is free.
func (c *Conn) WaitForLock(ctx context.Context) error {
	path, err := c.conf.LockPath()
	if err != nil {
		return err
	}
	return WaitForLock(ctx, path, c.conf.LockPollInterval)
}

// Shutdown asks the responder to exit and returns once it released the
// handoff lock.
func (c *Conn) Shutdown(ctx context.Context) error {
	_, err := c.Call(ctx, "shutdown", nil)
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// Wakeup forwards a link to the platform.
func (c *Conn) Wakeup(ctx context.Context, args ...any) (any, error) {
	return c.Call(ctx, "wakeup", args)
}
