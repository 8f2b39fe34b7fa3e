package rpc

import "context"

// Connection represents a bidirectional, message framed communication channel
type Connection interface {
	// Send sends a single frame to the remote peer
	Send(data []byte) error

	// Receive blocks until a frame is received from the remote peer. It
	// returns ErrConnectionClosed once the peer has closed its side.
	Receive() ([]byte, error)

	// CloseWrite signals the end of outgoing frames while still allowing
	// frames to be received
	CloseWrite() error

	// Close closes the connection
	Close() error
}

// ServerTransport handles incoming connections for the server
type ServerTransport interface {
	// Listen starts listening for incoming connections
	Listen() error

	// Accept blocks until a new connection is available. It returns
	// ErrTransportClosed once the transport has been closed.
	Accept() (Connection, error)

	// Close stops listening and closes the transport
	Close() error
}

// ClientTransport handles outgoing connections for the client
type ClientTransport interface {
	// Connect establishes a connection to the server, giving up when ctx is
	// done
	Connect(ctx context.Context) (Connection, error)
}
