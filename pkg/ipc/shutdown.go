package ipc

import (
	"fmt"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/kbirk/pipc/pkg/rpc"
)

// Close tears the connection down. It is safe to call concurrently and more
// than once; every call returns once teardown completed. Teardown problems
// are logged, never returned.
func (c *Conn) Close() error {
	c.closeOnce.Do(c.teardown)
	<-c.closed
	return nil
}

func (c *Conn) teardown() {
	defer close(c.closed)

	c.mu.Lock()
	prev := c.state
	c.state = StateClosing
	ch := c.channel
	listener := c.listener
	c.mu.Unlock()

	close(c.closing)
	c.hbCancel()

	var errs error
	if prev != StateIdle {
		switch c.role {
		case roleListener:
			errs = multierr.Append(errs, c.closeClients())
			if listener != nil {
				errs = multierr.Append(errs, safely(listener.Close))
			}
			if ch != nil {
				errs = multierr.Append(errs, safely(ch.Close))
			}
		default:
			if ch != nil {
				errs = multierr.Append(errs, c.endTransport(ch))
			}
		}
	}

	c.wg.Wait()
	if errs != nil {
		c.logDebug("Teardown errors: " + errs.Error())
	}

	c.mu.Lock()
	c.state = StateClosed
	c.mu.Unlock()

	if c.onFree != nil {
		c.onFree()
	}
	if c.conf.OnClose != nil {
		if err := safely(func() error {
			c.conf.OnClose(c)
			return nil
		}); err != nil {
			c.logWarn("OnClose failed: " + err.Error())
		}
	}
	c.logDebug("Closed")
}

// endTransport ends the transport gracefully and waits up to the close
// timeout for the peer to finish. Evicted clients are destroyed outright.
func (c *Conn) endTransport(ch *rpc.Channel) error {
	select {
	case <-ch.Done():
		return safely(ch.Close)
	default:
	}
	if c.evicted.Load() {
		return safely(ch.Close)
	}

	errs := safely(ch.CloseWrite)

	timer := c.conf.Clock.NewTimer(c.conf.CloseTimeout)
	select {
	case <-ch.Done():
	case <-timer.Chan():
		c.logDebug("Peer did not end in time, forcing close")
	}
	timer.Stop()

	return multierr.Append(errs, safely(ch.Close))
}

// closeClients closes every accepted client concurrently.
func (c *Conn) closeClients() error {
	var g errgroup.Group
	for _, cl := range c.Clients() {
		g.Go(cl.Close)
	}
	return g.Wait()
}

func safely(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
