package websocket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kbirk/pipc/pkg/rpc"
)

// DefaultPath is the HTTP path the server upgrades on.
const DefaultPath = "/ipc"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// WebSocketConnection implements the Connection interface for WebSocket.
// Every frame travels as one binary message.
type WebSocketConnection struct {
	conn               *websocket.Conn
	mu                 *sync.Mutex
	maxSendMessageSize uint32
	maxRecvMessageSize uint32
}

func newConnection(conn *websocket.Conn, maxSend uint32, maxRecv uint32) *WebSocketConnection {
	if maxRecv > 0 {
		conn.SetReadLimit(int64(maxRecv))
	}
	return &WebSocketConnection{
		conn:               conn,
		mu:                 &sync.Mutex{},
		maxSendMessageSize: maxSend,
		maxRecvMessageSize: maxRecv,
	}
}

func (c *WebSocketConnection) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.maxSendMessageSize > 0 && uint32(len(data)) > c.maxSendMessageSize {
		return fmt.Errorf("message size %d exceeds send limit %d", len(data), c.maxSendMessageSize)
	}

	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (c *WebSocketConnection) Receive() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		// Check if this is a normal close error
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || errors.Is(err, net.ErrClosed) {
			return nil, rpc.ErrConnectionClosed
		}
		return nil, err
	}
	return data, nil
}

// CloseWrite sends a close frame. The peer answers with its own close frame,
// which ends Receive on this side.
func (c *WebSocketConnection) CloseWrite() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline := time.Now().Add(time.Second)
	return c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		deadline,
	)
}

func (c *WebSocketConnection) Close() error {
	return c.conn.Close()
}

// ServerTransport implements ServerTransport for WebSocket
type ServerTransport struct {
	Addr               string
	Path               string
	MaxSendMessageSize uint32
	MaxRecvMessageSize uint32
	server             *http.Server
	listener           net.Listener
	connCh             chan rpc.Connection
	done               chan struct{}
	mu                 *sync.Mutex
	closed             bool
}

type ServerTransportConfig struct {
	Addr               string // Listen address, 127.0.0.1:0 picks a free loopback port
	Path               string // Optional: defaults to DefaultPath
	MaxSendMessageSize uint32 // Maximum send message size in bytes (0 for no limit)
	MaxRecvMessageSize uint32 // Maximum receive message size in bytes (0 for no limit)
}

func NewServerTransport(config ServerTransportConfig) *ServerTransport {
	path := config.Path
	if path == "" {
		path = DefaultPath
	}
	return &ServerTransport{
		Addr:               config.Addr,
		Path:               path,
		MaxSendMessageSize: config.MaxSendMessageSize,
		MaxRecvMessageSize: config.MaxRecvMessageSize,
		connCh:             make(chan rpc.Connection),
		done:               make(chan struct{}),
		mu:                 &sync.Mutex{},
	}
}

func (t *ServerTransport) Listen() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return rpc.ErrTransportClosed
	}
	if t.server != nil {
		return fmt.Errorf("transport is already listening")
	}

	l, err := net.Listen("tcp", t.Addr)
	if err != nil {
		return err
	}
	t.listener = l

	mux := http.NewServeMux()
	mux.HandleFunc(t.Path, t.handleWebSocket)

	t.server = &http.Server{
		Handler: mux,
	}

	go t.server.Serve(l)

	return nil
}

// URL returns the address clients dial, valid after Listen.
func (t *ServerTransport) URL() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.listener == nil {
		return ""
	}
	u := url.URL{Scheme: "ws", Host: t.listener.Addr().String(), Path: t.Path}
	return u.String()
}

func (t *ServerTransport) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	wsConn := newConnection(conn, t.MaxSendMessageSize, t.MaxRecvMessageSize)

	// hold the handler until Accept takes the connection
	select {
	case t.connCh <- wsConn:
	case <-t.done:
		conn.Close()
	}
}

func (t *ServerTransport) Accept() (rpc.Connection, error) {
	select {
	case <-t.done:
		return nil, rpc.ErrTransportClosed
	default:
	}
	select {
	case conn := <-t.connCh:
		return conn, nil
	case <-t.done:
		return nil, rpc.ErrTransportClosed
	}
}

func (t *ServerTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil // Already closed
	}

	t.closed = true
	close(t.done)

	if t.server != nil {
		return t.server.Close()
	}
	return nil
}

// ClientTransport implements ClientTransport for WebSocket
type ClientTransport struct {
	URL                string
	MaxSendMessageSize uint32
	MaxRecvMessageSize uint32
}

type ClientTransportConfig struct {
	URL                string // ws://host:port/path as returned by ServerTransport.URL
	MaxSendMessageSize uint32 // Maximum send message size in bytes (0 for no limit)
	MaxRecvMessageSize uint32 // Maximum receive message size in bytes (0 for no limit)
}

func NewClientTransport(config ClientTransportConfig) *ClientTransport {
	return &ClientTransport{
		URL:                config.URL,
		MaxSendMessageSize: config.MaxSendMessageSize,
		MaxRecvMessageSize: config.MaxRecvMessageSize,
	}
}

func (t *ClientTransport) Connect(ctx context.Context) (rpc.Connection, error) {
	dialer := websocket.Dialer{}

	conn, _, err := dialer.DialContext(ctx, t.URL, nil)
	if err != nil {
		return nil, err
	}

	return newConnection(conn, t.MaxSendMessageSize, t.MaxRecvMessageSize), nil
}
