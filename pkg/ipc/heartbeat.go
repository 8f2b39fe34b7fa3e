package ipc

import (
	"context"
	"fmt"
)

func (c *Conn) startHeartbeat() {
	if c.conf.DisableHeartbeat {
		return
	}
	switch c.role {
	case roleInitiator:
		c.wg.Add(1)
		go c.beatLoop()
	case roleListener:
		c.wg.Add(1)
		go c.sweepLoop()
	}
}

// beatLoop pings the responder once straight away and then every interval.
// The client closes itself on the first failed beat.
func (c *Conn) beatLoop() {
	defer c.wg.Done()

	for {
		if !c.beat() {
			c.conf.Metrics.heartbeatFailure()
			go c.Close()
			return
		}
		select {
		case <-c.hbCtx.Done():
			return
		case <-c.conf.Clock.After(c.conf.HeartbeatInterval):
		}
	}
}

func (c *Conn) beat() bool {
	if c.shutting.Load() {
		return true
	}
	c.mu.Lock()
	ping := c.ping
	c.mu.Unlock()
	if ping == nil {
		return true
	}

	ctx, cancel := context.WithTimeout(c.hbCtx, c.conf.HeartbeatTimeout)
	defer cancel()

	res, err := ping.Request(ctx, nil)
	if c.hbCtx.Err() != nil {
		return true
	}
	if err != nil {
		c.logWarn("Heartbeat failed: " + err.Error())
		return false
	}
	if !isPong(res) {
		c.logWarn(fmt.Sprintf("Heartbeat got unexpected reply %v", res))
		return false
	}
	return true
}

func isPong(v any) bool {
	m, ok := v.(map[string]any)
	if !ok {
		return false
	}
	return m["beat"] == pongBeat
}

// onPing answers the internal heartbeat and rewinds the eviction clock.
func (c *Conn) onPing(ctx context.Context, params any) (any, error) {
	c.clock.Store(int32(c.conf.HeartbeatClock))
	return map[string]any{"beat": pongBeat}, nil
}

// sweepLoop ticks every accepted client's clock down once per interval and
// evicts clients whose clock ran out. Evictions run on c.wg, so the
// listener's Close waits for them.
func (c *Conn) sweepLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.hbCtx.Done():
			return
		case <-c.conf.Clock.After(c.conf.HeartbeatInterval):
		}
		c.sweep()
	}
}

func (c *Conn) sweep() {
	for _, cl := range c.Clients() {
		if cl.clock.Add(-1) > 0 {
			continue
		}
		if !cl.evicted.CompareAndSwap(false, true) {
			continue
		}
		c.conf.Metrics.eviction()
		c.logInfo(fmt.Sprintf("Evicting unresponsive client %d", cl.ID()))
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			cl.Close()
		}()
	}
}
