package unix

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"runtime"
	"sync"

	"github.com/kbirk/pipc/pkg/rpc"
)

// DefaultMaxMessageSize bounds a single frame unless configured otherwise.
const DefaultMaxMessageSize = 64 << 20

// UnixConnection implements the Connection interface for Unix sockets.
// Frames are prefixed with a 4 byte big-endian length.
type UnixConnection struct {
	conn           net.Conn
	mu             sync.Mutex
	maxMessageSize uint32
}

// NewConnection wraps an established stream connection.
func NewConnection(conn net.Conn) *UnixConnection {
	return &UnixConnection{
		conn:           conn,
		maxMessageSize: DefaultMaxMessageSize,
	}
}

func (c *UnixConnection) Send(data []byte) error {
	if uint32(len(data)) > c.maxMessageSize {
		return fmt.Errorf("message size %d exceeds send limit %d", len(data), c.maxMessageSize)
	}

	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[4:], data)

	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.conn.Write(buf)
	return err
}

func (c *UnixConnection) Receive() ([]byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(c.conn, header); err != nil {
		return nil, normalizeReadError(err)
	}
	length := binary.BigEndian.Uint32(header)
	if length > c.maxMessageSize {
		return nil, fmt.Errorf("message size %d exceeds receive limit %d", length, c.maxMessageSize)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(c.conn, data); err != nil {
		return nil, normalizeReadError(err)
	}
	return data, nil
}

func normalizeReadError(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return rpc.ErrConnectionClosed
	}
	return err
}

func (c *UnixConnection) CloseWrite() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cw, ok := c.conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return c.conn.Close()
}

func (c *UnixConnection) Close() error {
	return c.conn.Close()
}

// ServerTransport implements ServerTransport for Unix sockets
type ServerTransport struct {
	SocketPath string
	listener   net.Listener
	connCh     chan rpc.Connection
	done       chan struct{}
	mu         sync.Mutex
	closed     bool
}

type ServerTransportConfig struct {
	SocketPath string // Path to the Unix socket file
}

func NewServerTransport(config ServerTransportConfig) *ServerTransport {
	return &ServerTransport{
		SocketPath: config.SocketPath,
		connCh:     make(chan rpc.Connection),
		done:       make(chan struct{}),
	}
}

func (t *ServerTransport) Listen() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return rpc.ErrTransportClosed
	}
	if t.listener != nil {
		return fmt.Errorf("transport is already listening")
	}

	// a previous platform process may have left its socket behind
	if runtime.GOOS != "windows" {
		if err := os.RemoveAll(t.SocketPath); err != nil {
			return fmt.Errorf("failed to remove existing socket file: %w", err)
		}
	}

	l, err := net.Listen("unix", t.SocketPath)
	if err != nil {
		return err
	}
	t.listener = l

	go t.acceptLoop(l)

	return nil
}

func (t *ServerTransport) acceptLoop(l net.Listener) {
	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-t.done:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}

		// wait for Accept rather than dropping the connection
		select {
		case t.connCh <- NewConnection(conn):
		case <-t.done:
			conn.Close()
			return
		}
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
		return nil
	}
	t.closed = true
	close(t.done)

	var err error
	if t.listener != nil {
		err = t.listener.Close()
	}

	// Clean up socket file
	if runtime.GOOS != "windows" {
		os.RemoveAll(t.SocketPath)
	}

	return err
}

// ClientTransport implements ClientTransport for Unix sockets
type ClientTransport struct {
	SocketPath string
}

type ClientTransportConfig struct {
	SocketPath string // Path to the Unix socket file
}

func NewClientTransport(config ClientTransportConfig) *ClientTransport {
	return &ClientTransport{
		SocketPath: config.SocketPath,
	}
}

func (t *ClientTransport) Connect(ctx context.Context) (rpc.Connection, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", t.SocketPath)
	if err != nil {
		return nil, err
	}

	return NewConnection(conn), nil
}
