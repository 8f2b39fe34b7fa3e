package rpc

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"testing"
)

// pipeConnection is a minimal length-prefixed Connection over net.Pipe.
// unix.NewConnection can not be used from inside this package.
type pipeConnection struct {
	conn net.Conn
}

func (p *pipeConnection) Send(data []byte) error {
	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[4:], data)
	_, err := p.conn.Write(buf)
	return err
}

func (p *pipeConnection) Receive() ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(p.conn, hdr[:]); err != nil {
		return nil, ErrConnectionClosed
	}
	bs := make([]byte, binary.BigEndian.Uint32(hdr[:]))
	if _, err := io.ReadFull(p.conn, bs); err != nil {
		return nil, ErrConnectionClosed
	}
	return bs, nil
}

func (p *pipeConnection) CloseWrite() error { return p.conn.Close() }
func (p *pipeConnection) Close() error      { return p.conn.Close() }

func newBenchPair(b *testing.B) (*Channel, *Channel) {
	a, c := net.Pipe()
	client := NewChannel(ChannelConfig{Conn: &pipeConnection{conn: a}})
	server := NewChannel(ChannelConfig{Conn: &pipeConnection{conn: c}})
	b.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

func BenchmarkFrame(b *testing.B) {
	f := frame{kind: frameRequest, channel: 7, id: 12345, payload: []byte(`{"result":"good"}`)}

	b.Run("Encode", func(b *testing.B) {
		b.ReportAllocs()
		for i := 0; i < b.N; i++ {
			_ = f.encode()
		}
	})

	bs := f.encode()
	b.Run("Decode", func(b *testing.B) {
		b.ReportAllocs()
		for i := 0; i < b.N; i++ {
			_, _ = decodeFrame(bs)
		}
	})
}

func BenchmarkRequest(b *testing.B) {
	client, server := newBenchPair(b)

	server.Register(1, MethodConfig{
		OnRequest: func(ctx context.Context, params any) (any, error) {
			return params, nil
		},
	})
	echo, _ := client.Register(1, MethodConfig{})

	server.Serve()
	client.Serve()

	ctx := context.Background()
	params := map[string]any{"result": "good"}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := echo.Request(ctx, params); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkStream(b *testing.B) {
	client, server := newBenchPair(b)

	server.Register(1, MethodConfig{
		OnStream: func(s *Stream) {
			for {
				v, err := s.Recv(s.Context())
				if err != nil {
					s.End()
					return
				}
				if err := s.Write(v); err != nil {
					return
				}
			}
		},
	})
	pipe, _ := client.Register(1, MethodConfig{})

	server.Serve()
	client.Serve()

	s, err := pipe.CreateRequestStream()
	if err != nil {
		b.Fatal(err)
	}
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := s.Write(i); err != nil {
			b.Fatal(err)
		}
		if _, err := s.Recv(ctx); err != nil {
			b.Fatal(err)
		}
	}
	b.StopTimer()
	s.Destroy(nil)
}
