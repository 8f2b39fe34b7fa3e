package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"

	"github.com/kbirk/pipc/pkg/rpc"
)

// RequestHandler answers a request. On a send method its result is dropped.
type RequestHandler func(ctx context.Context, params any, c *Conn) (any, error)

// SendHandler consumes a fire-and-forget call.
type SendHandler func(ctx context.Context, params any, c *Conn)

// StreamHandler produces the values written to an inbound stream. A yielded
// error destroys the stream with that error.
type StreamHandler func(ctx context.Context, params any, c *Conn) iter.Seq2[any, error]

// Handlers maps method names to a RequestHandler, SendHandler or
// StreamHandler, or a func literal with one of their signatures.
type Handlers map[string]any

// Func is the bound, callable form of a method.
type Func func(ctx context.Context, params any) (any, error)

// Override replaces the generated caller of a method. It receives the raw
// method and the connection it is bound to.
type Override func(m *rpc.Method, c *Conn) Func

// UnhandledFunc decides the outcome of an inbound call to a method that has
// no handler. The returned error is reported to the caller.
type UnhandledFunc func(desc MethodDescriptor, params any) error

func defaultUnhandled(desc MethodDescriptor, params any) error {
	return fmt.Errorf("%w: %s", ErrMethodNotFound, desc.Name)
}

type boundHandler struct {
	request RequestHandler
	send    SendHandler
	stream  StreamHandler
}

func (h boundHandler) empty() bool {
	return h.request == nil && h.send == nil && h.stream == nil
}

type methodPlan struct {
	desc     MethodDescriptor
	handler  boundHandler
	override Override
	builtin  bool
}

func bindHandler(desc MethodDescriptor, h any) (boundHandler, error) {
	var b boundHandler
	switch fn := h.(type) {
	case RequestHandler:
		b.request = fn
	case func(context.Context, any, *Conn) (any, error):
		b.request = fn
	case SendHandler:
		b.send = fn
	case func(context.Context, any, *Conn):
		b.send = fn
	case StreamHandler:
		b.stream = fn
	case func(context.Context, any, *Conn) iter.Seq2[any, error]:
		b.stream = fn
	default:
		return b, configErrorf(desc.Name, "unsupported handler type %T", h)
	}
	if b.empty() {
		return b, configErrorf(desc.Name, "nil handler")
	}

	switch desc.Kind {
	case KindRequest:
		if b.request == nil {
			return b, configErrorf(desc.Name, "request method needs a request handler")
		}
	case KindSend:
		if b.stream != nil {
			return b, configErrorf(desc.Name, "send method can not take a stream handler")
		}
	case KindStream:
		if b.stream == nil {
			return b, configErrorf(desc.Name, "stream method needs a stream handler")
		}
	}
	return b, nil
}

// planMethods resolves the method table, handlers and overrides of conf.
func planMethods(conf Config) ([]methodPlan, error) {
	descs := append(DefaultMethods(), conf.Methods...)
	table, err := buildMethodTable(descs)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]int, len(table))
	plans := make([]methodPlan, len(table))
	for i, desc := range table {
		plans[i] = methodPlan{desc: desc}
		byName[desc.Name] = i
	}

	for name, h := range conf.Handlers {
		i, ok := byName[name]
		if !ok {
			return nil, configErrorf(name, "handler for undeclared method")
		}
		b, err := bindHandler(plans[i].desc, h)
		if err != nil {
			return nil, err
		}
		plans[i].handler = b
	}

	for name, o := range builtinAPI() {
		if i, ok := byName[name]; ok {
			plans[i].override = o
			plans[i].builtin = true
		}
	}
	for name, o := range conf.API {
		i, ok := byName[name]
		if !ok {
			return nil, configErrorf(name, "api override for undeclared method")
		}
		if o == nil {
			return nil, configErrorf(name, "nil api override")
		}
		plans[i].override = o
		plans[i].builtin = false
	}
	return plans, nil
}

// register binds the ping channel and every planned method on ch.
func (c *Conn) register(ch *rpc.Channel) error {
	ping, err := ch.Register(pingChannel, rpc.MethodConfig{
		Name:      pingMethodName,
		OnRequest: c.onPing,
	})
	if err != nil {
		return err
	}

	bindings := make(map[string]Func, len(c.plan))
	for _, p := range c.plan {
		m, err := ch.Register(p.desc.ID, c.methodConfig(p))
		if err != nil {
			return err
		}
		bindings[p.desc.Name] = c.createMethod(p, m)
	}

	c.mu.Lock()
	c.ping = ping
	c.bindings = bindings
	c.mu.Unlock()
	return nil
}

func (c *Conn) methodConfig(p methodPlan) rpc.MethodConfig {
	conf := rpc.MethodConfig{Name: p.desc.Name}
	switch p.desc.Kind {
	case KindRequest, KindSend:
		conf.OnRequest = rpc.Chain(c.conf.Middleware, c.requestHandler(p))
	case KindStream:
		conf.OnStream = c.streamHandler(p)
	}
	return conf
}

func (c *Conn) requestHandler(p methodPlan) rpc.Handler {
	return func(ctx context.Context, params any) (any, error) {
		c.conf.Metrics.call(p.desc)
		switch {
		case p.handler.request != nil:
			return p.handler.request(ctx, params, c)
		case p.handler.send != nil:
			p.handler.send(ctx, params, c)
			return nil, nil
		}
		return nil, c.conf.Unhandled(p.desc, params)
	}
}

func (c *Conn) streamHandler(p methodPlan) func(*rpc.Stream) {
	return func(s *rpc.Stream) {
		defer func() {
			if r := recover(); r != nil {
				s.Destroy(fmt.Errorf("stream handler panic: %v", r))
			}
		}()

		params, err := s.Recv(s.Context())
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.End()
			}
			return
		}
		c.conf.Metrics.call(p.desc)

		if p.handler.stream == nil {
			if err := c.conf.Unhandled(p.desc, params); err != nil {
				s.Destroy(err)
				return
			}
			s.End()
			return
		}

		seq := p.handler.stream(s.Context(), params, c)
		if c.conf.OnPipeline != nil {
			c.conf.OnPipeline(p.desc.Name, s)
		}
		if seq != nil {
			for v, err := range seq {
				if err != nil {
					s.Destroy(err)
					return
				}
				if err := s.Write(v); err != nil {
					return
				}
			}
		}
		s.End()
	}
}

// createMethod builds the caller for a method. A user override wins. The
// listener has no peer of its own, so it calls its local handlers directly.
func (c *Conn) createMethod(p methodPlan, m *rpc.Method) Func {
	if p.override != nil && !p.builtin {
		return p.override(m, c)
	}
	if c.role == roleListener {
		if fn := c.localMethod(p); fn != nil {
			return fn
		}
	}
	if p.override != nil {
		return p.override(m, c)
	}

	switch p.desc.Kind {
	case KindSend:
		return func(ctx context.Context, params any) (any, error) {
			if err := m.Send(params); err != nil {
				c.logDebug(fmt.Sprintf("Send on %s dropped: %v", p.desc.Name, err))
			}
			return nil, nil
		}
	case KindStream:
		return func(ctx context.Context, params any) (any, error) {
			s, err := m.CreateRequestStream()
			if err != nil {
				return nil, err
			}
			if err := s.Write(params); err != nil {
				s.Destroy(err)
				return nil, err
			}
			return s, nil
		}
	default:
		return func(ctx context.Context, params any) (any, error) {
			return m.Request(ctx, params)
		}
	}
}

func (c *Conn) localMethod(p methodPlan) Func {
	switch {
	case p.handler.request != nil:
		h := rpc.Chain(c.conf.Middleware, func(ctx context.Context, params any) (any, error) {
			return p.handler.request(ctx, params, c)
		})
		if p.desc.Kind == KindSend {
			return func(ctx context.Context, params any) (any, error) {
				_, err := h(ctx, params)
				if err != nil {
					c.logDebug(fmt.Sprintf("Local send on %s failed: %v", p.desc.Name, err))
				}
				return nil, nil
			}
		}
		return Func(h)
	case p.handler.send != nil:
		return func(ctx context.Context, params any) (any, error) {
			p.handler.send(ctx, params, c)
			return nil, nil
		}
	}
	return nil
}
