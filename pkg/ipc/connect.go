package ipc

import (
	"context"
	"fmt"
	"time"

	"github.com/juju/retry"

	"github.com/kbirk/pipc/pkg/rpc"
)

func connectBackoff(delay time.Duration, attempt int) time.Duration {
	if attempt < connectFastAttempts {
		return connectFastDelay
	}
	return connectSteadyDelay
}

// connect dials until a responder accepts, the connect timeout passes, ctx is
// done or the Conn starts closing. Bootstrap runs after the first failure.
func (c *Conn) connect(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.conf.ConnectTimeout)
	defer cancel()

	stop := make(chan struct{})
	finished := make(chan struct{})
	defer close(finished)
	go func() {
		defer close(stop)
		select {
		case <-dialCtx.Done():
		case <-c.closing:
		case <-finished:
		}
	}()

	var (
		transport rpc.Connection
		lastErr   error
	)
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			c.conf.Metrics.connectAttempt()
			t, err := c.conf.Dialer.Connect(dialCtx)
			if err != nil {
				return err
			}
			transport = t
			return nil
		},
		NotifyFunc: func(err error, attempt int) {
			lastErr = err
			c.logDebug(fmt.Sprintf("Connect attempt %d failed: %v", attempt, err))
			if attempt == 1 && c.conf.Bootstrap != nil {
				c.logInfo("Bootstrapping responder")
				c.conf.Bootstrap()
			}
		},
		Delay:       connectFastDelay,
		BackoffFunc: connectBackoff,
		MaxDuration: c.conf.ConnectTimeout,
		Clock:       c.conf.Clock,
		Stop:        stop,
	})
	if err != nil {
		switch {
		case c.isClosing():
			return ErrClosed
		case ctx.Err() != nil:
			return ctx.Err()
		case retry.IsDurationExceeded(err), retry.IsRetryStopped(err):
			return fmt.Errorf("%w after %s: %w", ErrConnectTimeout, c.conf.ConnectTimeout, lastErr)
		}
		return err
	}

	if c.isClosing() {
		transport.Close()
		return ErrClosed
	}
	if err := c.setup(transport); err != nil {
		transport.Close()
		return err
	}
	c.logDebug("Connected")
	return nil
}
