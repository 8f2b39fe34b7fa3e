package rpc

import "errors"

const (
	frameSend uint8 = iota + 1
	frameRequest
	frameResponse
	frameError
	frameStreamOpen
	frameStreamData
	frameStreamEnd
	frameStreamDestroy
)

// flagFromOpener marks stream frames written by the side that opened the
// stream, so both peers can number their streams independently.
const flagFromOpener = uint8(0x01)

const (
	FrameTypeSize    = 1
	FrameFlagsSize   = 1
	FrameChannelSize = 4
	FrameIDSize      = 8
	FrameHeaderSize  = FrameTypeSize + FrameFlagsSize + FrameChannelSize + FrameIDSize
)

var (
	// ErrConnectionClosed is returned by Connection.Receive when the peer
	// closed the connection cleanly.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrTransportClosed is returned by ServerTransport.Accept after Close.
	ErrTransportClosed = errors.New("transport is closed")

	// ErrChannelClosed fails calls that are pending, or issued, after the
	// channel stopped reading.
	ErrChannelClosed = errors.New("channel closed")

	// ErrNotConnected is returned for calls on a channel with no connection.
	ErrNotConnected = errors.New("channel has no connection")

	// ErrStreamDestroyed is the error observed on a stream destroyed without
	// a reason.
	ErrStreamDestroyed = errors.New("stream destroyed")

	// ErrStreamClosed is returned when writing to an ended or destroyed
	// stream.
	ErrStreamClosed = errors.New("stream is closed")
)

// RemoteError carries the message of an error raised by the remote handler.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}
