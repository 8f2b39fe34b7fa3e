package rpc

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"github.com/kbirk/pipc/pkg/log"
)

// Channel multiplexes numbered methods over a single Connection. Every
// method supports fire-and-forget sends, correlated requests and nested
// bidirectional streams. A Channel created without a Connection is detached:
// registration works but every call fails with ErrNotConnected.
type Channel struct {
	conf       ChannelConfig
	codec      Codec
	mu         *sync.Mutex
	methods    map[uint32]*Method
	requests   map[uint64]chan response
	outStreams map[uint64]*Stream
	inStreams  map[uint64]*Stream
	requestID  uint64
	streamID   uint64
	running    bool
	closed     bool
	err        error
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	doneOnce   sync.Once
}

type ChannelConfig struct {
	Conn       Connection
	Codec      Codec
	ErrHandler func(error)
	Logger     log.Logger
}

// MethodConfig binds the inbound side of a method. A nil OnRequest answers
// requests with an error and drops sends; a nil OnStream destroys inbound
// streams.
type MethodConfig struct {
	Name      string
	OnRequest Handler
	OnStream  func(*Stream)
}

type response struct {
	payload []byte
	err     error
}

// seedRequestID picks a random starting point for request and stream ids.
func seedRequestID() uint64 {
	return uint64(rand.Uint32())<<32 + uint64(rand.Uint32())
}

func NewChannel(conf ChannelConfig) *Channel {
	codec := conf.Codec
	if codec == nil {
		codec = JSONCodec
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Channel{
		conf:       conf,
		codec:      codec,
		mu:         &sync.Mutex{},
		methods:    make(map[uint32]*Method),
		requests:   make(map[uint64]chan response),
		outStreams: make(map[uint64]*Stream),
		inStreams:  make(map[uint64]*Stream),
		requestID:  seedRequestID(),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

func (c *Channel) logDebug(msg string) {
	if c.conf.Logger != nil {
		c.conf.Logger.Debug(msg)
	}
}

func (c *Channel) logWarn(msg string) {
	if c.conf.Logger != nil {
		c.conf.Logger.Warn(msg)
	}
}

func (c *Channel) logError(msg string) {
	if c.conf.Logger != nil {
		c.conf.Logger.Error(msg)
	}
}

func (c *Channel) handleError(err error) {
	if errors.Is(err, ErrConnectionClosed) {
		c.logDebug("Connection closed by peer")
		return
	}
	c.logError("Encountered error: " + err.Error())
	if c.conf.ErrHandler != nil {
		c.conf.ErrHandler(err)
	}
}

// Register binds a method to channel id. Ids must be unique.
func (c *Channel) Register(id uint32, conf MethodConfig) (*Method, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.methods[id]; ok {
		return nil, fmt.Errorf("method with channel id %d already registered", id)
	}

	m := &Method{
		id:   id,
		ch:   c,
		conf: conf,
	}
	c.methods[id] = m
	return m, nil
}

// Serve starts reading frames from the connection. It returns immediately.
func (c *Channel) Serve() {
	c.mu.Lock()
	if c.running || c.closed || c.conf.Conn == nil {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.mu.Unlock()

	go c.readLoop()
}

// Done is closed once the channel stopped reading, either because the peer
// closed the connection, the connection failed, or Close was called.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Err returns the reason the channel stopped, or nil while it is running.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Context is cancelled when the channel shuts down.
func (c *Channel) Context() context.Context {
	return c.ctx
}

// CloseWrite half-closes the underlying connection, telling the peer no
// more frames will follow.
func (c *Channel) CloseWrite() error {
	if c.conf.Conn == nil {
		return nil
	}
	return c.conf.Conn.CloseWrite()
}

// Close closes the connection and fails every pending call and stream.
func (c *Channel) Close() error {
	c.shutdown(ErrChannelClosed)

	var err error
	if c.conf.Conn != nil {
		err = c.conf.Conn.Close()
	}

	c.mu.Lock()
	running := c.running
	c.mu.Unlock()

	if !running {
		c.closeDone()
	}
	return err
}

func (c *Channel) closeDone() {
	c.doneOnce.Do(func() {
		close(c.done)
	})
}

func (c *Channel) shutdown(reason error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.err = reason

	requests := c.requests
	c.requests = make(map[uint64]chan response)

	streams := make([]*Stream, 0, len(c.outStreams)+len(c.inStreams))
	for _, s := range c.outStreams {
		streams = append(streams, s)
	}
	for _, s := range c.inStreams {
		streams = append(streams, s)
	}
	c.outStreams = make(map[uint64]*Stream)
	c.inStreams = make(map[uint64]*Stream)
	c.mu.Unlock()

	c.cancel()

	for _, ch := range requests {
		ch <- response{err: ErrChannelClosed}
	}
	for _, s := range streams {
		s.fail(ErrChannelClosed)
	}
}

func (c *Channel) readLoop() {
	defer c.closeDone()

	for {
		bs, err := c.conf.Conn.Receive()
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if !closed {
				c.handleError(err)
			}
			if errors.Is(err, ErrConnectionClosed) {
				c.shutdown(ErrConnectionClosed)
			} else {
				c.shutdown(err)
			}
			return
		}

		f, err := decodeFrame(bs)
		if err != nil {
			c.handleError(err)
			continue
		}

		c.dispatch(f)
	}
}

func (c *Channel) dispatch(f frame) {
	switch f.kind {
	case frameSend:
		m := c.method(f.channel)
		if m == nil || m.conf.OnRequest == nil {
			c.logWarn(fmt.Sprintf("Dropping send for unhandled channel %d", f.channel))
			return
		}
		go c.handleSend(m, f)
	case frameRequest:
		m := c.method(f.channel)
		if m == nil || m.conf.OnRequest == nil {
			c.respondError(f, fmt.Errorf("no request handler for channel %d", f.channel))
			return
		}
		go c.handleRequest(m, f)
	case frameResponse, frameError:
		c.resolve(f)
	case frameStreamOpen:
		c.handleStreamOpen(f)
	case frameStreamData, frameStreamEnd, frameStreamDestroy:
		c.handleStreamFrame(f)
	}
}

func (c *Channel) method(id uint32) *Method {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.methods[id]
}

func (c *Channel) handlerContext(m *Method, stream bool) context.Context {
	return NewContextWithCallInfo(c.ctx, CallInfo{
		Method:  m.conf.Name,
		Channel: m.id,
		Stream:  stream,
	})
}

func (c *Channel) handleSend(m *Method, f frame) {
	params, err := c.codec.Unmarshal(f.payload)
	if err != nil {
		c.handleError(err)
		return
	}
	_, err = invoke(c.handlerContext(m, false), m.conf.OnRequest, params)
	if err != nil {
		c.logWarn(fmt.Sprintf("Send handler for channel %d failed: %v", m.id, err))
	}
}

func (c *Channel) handleRequest(m *Method, f frame) {
	params, err := c.codec.Unmarshal(f.payload)
	if err != nil {
		c.respondError(f, err)
		return
	}

	result, err := invoke(c.handlerContext(m, false), m.conf.OnRequest, params)
	if err != nil {
		c.respondError(f, err)
		return
	}

	payload, err := c.codec.Marshal(result)
	if err != nil {
		c.respondError(f, err)
		return
	}

	err = c.write(frame{kind: frameResponse, channel: f.channel, id: f.id, payload: payload})
	if err != nil && !errors.Is(err, ErrChannelClosed) {
		c.handleError(err)
	}
}

func invoke(ctx context.Context, h Handler, params any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h(ctx, params)
}

func (c *Channel) respondError(f frame, err error) {
	werr := c.write(frame{kind: frameError, channel: f.channel, id: f.id, payload: []byte(err.Error())})
	if werr != nil && !errors.Is(werr, ErrChannelClosed) {
		c.handleError(werr)
	}
}

func (c *Channel) resolve(f frame) {
	c.mu.Lock()
	ch, ok := c.requests[f.id]
	delete(c.requests, f.id)
	c.mu.Unlock()

	if !ok {
		c.logWarn(fmt.Sprintf("Unrecognized request id: %d", f.id))
		return
	}

	if f.kind == frameError {
		ch <- response{err: &RemoteError{Message: string(f.payload)}}
		return
	}
	ch <- response{payload: f.payload}
}

func (c *Channel) handleStreamOpen(f frame) {
	m := c.method(f.channel)

	s := newStream(c, m, f.channel, f.id, false)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.inStreams[f.id] = s
	c.mu.Unlock()

	if m == nil || m.conf.OnStream == nil {
		s.Destroy(fmt.Errorf("no stream handler for channel %d", f.channel))
		return
	}

	go m.conf.OnStream(s)
}

func (c *Channel) handleStreamFrame(f frame) {
	c.mu.Lock()
	var s *Stream
	if f.flags&flagFromOpener != 0 {
		s = c.inStreams[f.id]
	} else {
		s = c.outStreams[f.id]
	}
	c.mu.Unlock()

	if s == nil {
		// frames racing a local destroy are expected
		c.logDebug(fmt.Sprintf("Frame for unknown stream %d on channel %d", f.id, f.channel))
		return
	}

	switch f.kind {
	case frameStreamData:
		v, err := c.codec.Unmarshal(f.payload)
		if err != nil {
			s.Destroy(err)
			return
		}
		s.push(v)
	case frameStreamEnd:
		s.remoteEnd()
	case frameStreamDestroy:
		var err error = ErrStreamDestroyed
		if len(f.payload) > 0 {
			err = &RemoteError{Message: string(f.payload)}
		}
		s.fail(err)
	}
}

func (c *Channel) removeStream(s *Stream) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s.opener {
		if c.outStreams[s.id] == s {
			delete(c.outStreams, s.id)
		}
		return
	}
	if c.inStreams[s.id] == s {
		delete(c.inStreams, s.id)
	}
}

func (c *Channel) write(f frame) error {
	if c.conf.Conn == nil {
		return ErrNotConnected
	}

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrChannelClosed
	}

	return c.conf.Conn.Send(f.encode())
}

func (c *Channel) addRequest() (uint64, chan response, error) {
	if c.conf.Conn == nil {
		return 0, nil, ErrNotConnected
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, nil, ErrChannelClosed
	}

	id := c.requestID
	c.requestID++

	ch := make(chan response, 1)
	c.requests[id] = ch
	return id, ch, nil
}

func (c *Channel) removeRequest(id uint64) {
	c.mu.Lock()
	delete(c.requests, id)
	c.mu.Unlock()
}

func (c *Channel) addStream(m *Method) (*Stream, error) {
	if c.conf.Conn == nil {
		return nil, ErrNotConnected
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrChannelClosed
	}

	c.streamID++
	s := newStream(c, m, m.id, c.streamID, true)
	c.outStreams[s.id] = s
	return s, nil
}

// Method is one numbered sub-channel of a Channel.
type Method struct {
	id   uint32
	ch   *Channel
	conf MethodConfig
}

func (m *Method) ID() uint32 {
	return m.id
}

func (m *Method) Name() string {
	return m.conf.Name
}

// Send writes a call that expects no reply.
func (m *Method) Send(params any) error {
	payload, err := m.ch.codec.Marshal(params)
	if err != nil {
		return err
	}
	return m.ch.write(frame{kind: frameSend, channel: m.id, payload: payload})
}

// Request writes a call and waits for its reply, the channel failing, or ctx
// being done.
func (m *Method) Request(ctx context.Context, params any) (any, error) {
	payload, err := m.ch.codec.Marshal(params)
	if err != nil {
		return nil, err
	}

	id, ch, err := m.ch.addRequest()
	if err != nil {
		return nil, err
	}

	err = m.ch.write(frame{kind: frameRequest, channel: m.id, id: id, payload: payload})
	if err != nil {
		m.ch.removeRequest(id)
		return nil, err
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		return m.ch.codec.Unmarshal(res.payload)
	case <-ctx.Done():
		m.ch.removeRequest(id)
		return nil, ctx.Err()
	}
}

// CreateRequestStream opens a new stream on the method. The peer's
// OnStream receives the other end.
func (m *Method) CreateRequestStream() (*Stream, error) {
	s, err := m.ch.addStream(m)
	if err != nil {
		return nil, err
	}

	err = m.ch.write(frame{kind: frameStreamOpen, flags: flagFromOpener, channel: m.id, id: s.id})
	if err != nil {
		s.fail(err)
		return nil, err
	}
	return s, nil
}
