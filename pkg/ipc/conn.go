package ipc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kbirk/pipc/pkg/rpc"
)

// State is the lifecycle position of a Conn. It only moves forward.
type State int32

const (
	StateIdle State = iota
	StateOpening
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

type role int

const (
	roleInitiator role = iota
	roleListener
	roleAccepted
)

// Conn is one end of a platform IPC connection. A client Conn dials a
// responder, a server Conn listens and owns one accepted Conn per client.
type Conn struct {
	conf Config
	role role
	plan []methodPlan

	mu        *sync.Mutex
	state     State
	slot      int
	channel   *rpc.Channel
	ping      *rpc.Method
	bindings  map[string]Func
	listener  rpc.ServerTransport
	clients   *SlotTable[*Conn]
	userData  any
	createdAt time.Time

	clock    atomic.Int32
	evicted  atomic.Bool
	shutting atomic.Bool

	readyOnce sync.Once
	readyErr  error
	closeOnce sync.Once
	closing   chan struct{}
	closed    chan struct{}
	hbCtx     context.Context
	hbCancel  context.CancelFunc
	wg        sync.WaitGroup
	onFree    func()
}

// NewClient validates conf and returns an idle client. Ready connects it.
func NewClient(conf Config) (*Conn, error) {
	conf = conf.withDefaults()
	if err := conf.validate(); err != nil {
		return nil, err
	}
	dialer, err := conf.clientTransport()
	if err != nil {
		return nil, err
	}
	conf.Dialer = dialer

	plan, err := planMethods(conf)
	if err != nil {
		return nil, err
	}
	return newConn(conf, roleInitiator, plan), nil
}

// NewServer validates conf and returns an idle server. Ready starts
// listening.
func NewServer(conf Config) (*Conn, error) {
	conf = conf.withDefaults()
	if err := conf.validate(); err != nil {
		return nil, err
	}
	listener, err := conf.serverTransport()
	if err != nil {
		return nil, err
	}
	conf.Listener = listener

	plan, err := planMethods(conf)
	if err != nil {
		return nil, err
	}
	c := newConn(conf, roleListener, plan)
	c.clients = &SlotTable[*Conn]{}
	return c, nil
}

func newConn(conf Config, r role, plan []methodPlan) *Conn {
	hbCtx, hbCancel := context.WithCancel(context.Background())
	c := &Conn{
		conf:      conf,
		role:      r,
		plan:      plan,
		mu:        &sync.Mutex{},
		slot:      -1,
		userData:  conf.UserData,
		createdAt: time.Now(),
		closing:   make(chan struct{}),
		closed:    make(chan struct{}),
		hbCtx:     hbCtx,
		hbCancel:  hbCancel,
	}
	c.clock.Store(int32(conf.HeartbeatClock))
	return c
}

func (c *Conn) logDebug(msg string) {
	if c.conf.Logger != nil {
		c.conf.Logger.Debug(msg)
	}
}

func (c *Conn) logInfo(msg string) {
	if c.conf.Logger != nil {
		c.conf.Logger.Info(msg)
	}
}

func (c *Conn) logWarn(msg string) {
	if c.conf.Logger != nil {
		c.conf.Logger.Warn(msg)
	}
}

func (c *Conn) logError(msg string) {
	if c.conf.Logger != nil {
		c.conf.Logger.Error(msg)
	}
}

func (c *Conn) handleError(err error) {
	c.logError("Encountered error: " + err.Error())
	if c.conf.ErrHandler != nil {
		c.conf.ErrHandler(err)
	}
}

// Ready opens the connection. Concurrent and repeated calls share the
// outcome of the first.
func (c *Conn) Ready(ctx context.Context) error {
	if c.role == roleAccepted {
		if c.isClosing() {
			return ErrClosed
		}
		return nil
	}
	c.readyOnce.Do(func() {
		c.readyErr = c.open(ctx)
	})
	return c.readyErr
}

func (c *Conn) open(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrClosed
	}
	c.state = StateOpening
	c.mu.Unlock()

	if c.role == roleListener {
		return c.serve()
	}
	return c.connect(ctx)
}

// setup binds the methods to a fresh transport and starts serving it.
func (c *Conn) setup(transport rpc.Connection) error {
	ch := rpc.NewChannel(rpc.ChannelConfig{
		Conn:       transport,
		Codec:      c.conf.Codec,
		ErrHandler: c.conf.ErrHandler,
		Logger:     c.conf.Logger,
	})
	if err := c.register(ch); err != nil {
		ch.Close()
		return err
	}

	c.mu.Lock()
	if c.state >= StateClosing {
		c.mu.Unlock()
		ch.Close()
		return ErrClosed
	}
	c.channel = ch
	c.state = StateOpen
	c.mu.Unlock()

	ch.Serve()
	go c.watch(ch)
	c.startHeartbeat()
	return nil
}

// watch closes the Conn when its channel stops on its own.
func (c *Conn) watch(ch *rpc.Channel) {
	select {
	case <-ch.Done():
		if err := ch.Err(); err != nil && !errors.Is(err, rpc.ErrConnectionClosed) {
			c.logDebug("Channel stopped: " + err.Error())
		}
		c.Close()
	case <-c.closing:
	}
}

// serve binds the methods to a detached channel and starts accepting.
func (c *Conn) serve() error {
	ch := rpc.NewChannel(rpc.ChannelConfig{
		Codec:      c.conf.Codec,
		ErrHandler: c.conf.ErrHandler,
		Logger:     c.conf.Logger,
	})
	if err := c.register(ch); err != nil {
		return err
	}

	if c.isClosing() {
		ch.Close()
		return ErrClosed
	}
	l := c.conf.Listener
	if err := l.Listen(); err != nil {
		ch.Close()
		return fmt.Errorf("listen: %w", err)
	}

	c.mu.Lock()
	if c.state >= StateClosing {
		c.mu.Unlock()
		l.Close()
		ch.Close()
		return ErrClosed
	}
	c.listener = l
	c.channel = ch
	c.state = StateOpen
	c.mu.Unlock()

	c.logInfo("Listening for clients")

	c.wg.Add(1)
	go c.acceptLoop(l)
	c.startHeartbeat()
	return nil
}

func (c *Conn) acceptLoop(l rpc.ServerTransport) {
	defer c.wg.Done()

	for {
		transport, err := l.Accept()
		if err != nil {
			if errors.Is(err, rpc.ErrTransportClosed) || c.isClosing() {
				return
			}
			c.handleError(err)
			continue
		}
		c.accept(transport)
	}
}

func (c *Conn) accept(transport rpc.Connection) {
	childConf := c.conf
	childConf.OnClient = nil
	child := newConn(childConf, roleAccepted, c.plan)
	child.onFree = func() {
		c.release(child)
	}

	c.mu.Lock()
	if c.state >= StateClosing {
		c.mu.Unlock()
		transport.Close()
		return
	}
	id := c.clients.Alloc(child)
	child.slot = id
	c.mu.Unlock()

	if err := child.setup(transport); err != nil {
		c.logWarn(fmt.Sprintf("Rejected client %d: %v", id, err))
		transport.Close()
		child.Close()
		return
	}

	c.conf.Metrics.clientOpened()
	c.logDebug(fmt.Sprintf("Accepted client %d", id))

	if c.conf.OnClient != nil {
		c.conf.OnClient(child)
	}
}

// release frees the slot of a closed client.
func (c *Conn) release(child *Conn) {
	c.mu.Lock()
	cur, ok := c.clients.Get(child.slot)
	if ok && cur == child {
		c.clients.Free(child.slot)
	}
	c.mu.Unlock()

	if ok && cur == child && child.opened() {
		c.conf.Metrics.clientClosed()
	}
}

func (c *Conn) isClosing() bool {
	select {
	case <-c.closing:
		return true
	default:
		return false
	}
}

// opened reports whether the Conn ever reached StateOpen.
func (c *Conn) opened() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channel != nil
}

// ID is the slot of an accepted client, or -1.
func (c *Conn) ID() int {
	return c.slot
}

func (c *Conn) UserData() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userData
}

func (c *Conn) SetUserData(v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userData = v
}

// CreatedAt is when the Conn was constructed or accepted.
func (c *Conn) CreatedAt() time.Time {
	return c.createdAt
}

// Clients returns the live accepted clients in slot order. It is empty
// for anything but a server.
func (c *Conn) Clients() []*Conn {
	if c.clients == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clients.All()
}

func (c *Conn) HasClients() bool {
	if c.clients == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.clients.Empty()
}

// Client returns the accepted client in slot id, or nil.
func (c *Conn) Client(id int) *Conn {
	if c.clients == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	cl, _ := c.clients.Get(id)
	return cl
}

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) Opening() bool {
	return c.State() == StateOpening
}

func (c *Conn) Opened() bool {
	return c.State() == StateOpen
}

// Closing reports whether Close has begun, including once it completed.
func (c *Conn) Closing() bool {
	return c.isClosing()
}

func (c *Conn) Closed() bool {
	return c.State() == StateClosed
}

// Done is closed once the Conn has fully closed.
func (c *Conn) Done() <-chan struct{} {
	return c.closed
}

// Method returns the bound caller of a declared method.
func (c *Conn) Method(name string) (Func, error) {
	if c.isClosing() {
		return nil, ErrClosed
	}
	c.mu.Lock()
	bindings := c.bindings
	c.mu.Unlock()

	if bindings == nil {
		return nil, ErrNotOpen
	}
	fn, ok := bindings[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, name)
	}
	return fn, nil
}

// Call invokes a declared method of any kind. Streams are returned as
// *rpc.Stream, sends return nil.
func (c *Conn) Call(ctx context.Context, name string, params any) (any, error) {
	fn, err := c.Method(name)
	if err != nil {
		return nil, err
	}
	return fn(ctx, params)
}

func (c *Conn) Request(ctx context.Context, name string, params any) (any, error) {
	return c.Call(ctx, name, params)
}

// Send invokes a send method without waiting for any reply.
func (c *Conn) Send(name string, params any) error {
	if err := c.expectKind(name, KindSend); err != nil {
		return err
	}
	_, err := c.Call(context.Background(), name, params)
	return err
}

// Stream opens a stream on a stream method, writing params as its first
// value.
func (c *Conn) Stream(ctx context.Context, name string, params any) (*rpc.Stream, error) {
	if err := c.expectKind(name, KindStream); err != nil {
		return nil, err
	}
	res, err := c.Call(ctx, name, params)
	if err != nil {
		return nil, err
	}
	s, ok := res.(*rpc.Stream)
	if !ok {
		return nil, fmt.Errorf("method %s did not return a stream", name)
	}
	return s, nil
}

func (c *Conn) expectKind(name string, kind Kind) error {
	for _, p := range c.plan {
		if p.desc.Name != name {
			continue
		}
		if p.desc.Kind != kind {
			return fmt.Errorf("%w: %s is a %s method, not %s", ErrWrongKind, name, p.desc.Kind, kind)
		}
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnknownMethod, name)
}
