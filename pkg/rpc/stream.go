package rpc

import (
	"context"
	"errors"
	"io"
	"iter"
	"sync"
)

// Stream is a nested duplex of payloads on a single method. Each side ends
// its own half with End; the stream finishes once both halves have ended or
// either side destroys it.
type Stream struct {
	id          uint64
	channelID   uint32
	ch          *Channel
	method      *Method
	opener      bool
	ctx         context.Context
	cancel      context.CancelFunc
	mu          *sync.Mutex
	queue       []any
	changed     chan struct{}
	localEnded  bool
	remoteEnded bool
	destroyed   bool
	err         error
	done        chan struct{}
	doneOnce    sync.Once
}

func newStream(ch *Channel, m *Method, channelID uint32, id uint64, opener bool) *Stream {
	base := ch.ctx
	if m != nil {
		base = ch.handlerContext(m, true)
	}
	ctx, cancel := context.WithCancel(base)

	return &Stream{
		id:        id,
		channelID: channelID,
		ch:        ch,
		method:    m,
		opener:    opener,
		ctx:       ctx,
		cancel:    cancel,
		mu:        &sync.Mutex{},
		changed:   make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// ID returns the stream ID
func (s *Stream) ID() uint64 {
	return s.id
}

// Context is cancelled once the stream has finished
func (s *Stream) Context() context.Context {
	return s.ctx
}

// Done returns a channel that is closed when the stream has finished
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Err returns the reason the stream was destroyed, if it was
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return s.err
	}
	return nil
}

func (s *Stream) flags() uint8 {
	if s.opener {
		return flagFromOpener
	}
	return 0
}

// notifyUnsafe wakes every waiting reader. Callers hold s.mu.
func (s *Stream) notifyUnsafe() {
	close(s.changed)
	s.changed = make(chan struct{})
}

// Write sends a payload to the peer
func (s *Stream) Write(v any) error {
	s.mu.Lock()
	if s.localEnded || s.destroyed {
		s.mu.Unlock()
		return ErrStreamClosed
	}
	s.mu.Unlock()

	payload, err := s.ch.codec.Marshal(v)
	if err != nil {
		return err
	}
	return s.ch.write(frame{kind: frameStreamData, flags: s.flags(), channel: s.channelID, id: s.id, payload: payload})
}

// End closes the local half of the stream. Ending twice is a no-op.
func (s *Stream) End() error {
	s.mu.Lock()
	if s.localEnded || s.destroyed {
		s.mu.Unlock()
		return nil
	}
	s.localEnded = true
	finished := s.remoteEnded
	s.mu.Unlock()

	err := s.ch.write(frame{kind: frameStreamEnd, flags: s.flags(), channel: s.channelID, id: s.id})
	if finished {
		s.finish()
	}
	return err
}

// Destroy aborts the stream in both directions. A nil err is reported to
// readers as ErrStreamDestroyed.
func (s *Stream) Destroy(err error) {
	s.mu.Lock()
	if s.destroyed || (s.localEnded && s.remoteEnded) {
		s.mu.Unlock()
		return
	}
	s.destroyed = true
	s.err = err
	if s.err == nil {
		s.err = ErrStreamDestroyed
	}
	s.notifyUnsafe()
	s.mu.Unlock()

	var payload []byte
	if err != nil {
		payload = []byte(err.Error())
	}
	werr := s.ch.write(frame{kind: frameStreamDestroy, flags: s.flags(), channel: s.channelID, id: s.id, payload: payload})
	if werr != nil && !errors.Is(werr, ErrChannelClosed) && !errors.Is(werr, ErrNotConnected) {
		s.ch.handleError(werr)
	}

	s.finish()
}

// Recv returns the next payload. Queued payloads are always delivered
// before io.EOF (peer ended) or the destroy error.
func (s *Stream) Recv(ctx context.Context) (any, error) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			v := s.queue[0]
			s.queue[0] = nil
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return v, nil
		}
		if s.destroyed {
			err := s.err
			s.mu.Unlock()
			return nil, err
		}
		if s.remoteEnded {
			s.mu.Unlock()
			return nil, io.EOF
		}
		changed := s.changed
		s.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// All returns the remaining payloads as a lazy sequence. The sequence ends
// when the peer ends the stream and yields the error once if the stream is
// destroyed. Stopping the iteration early destroys the stream.
func (s *Stream) All(ctx context.Context) iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		for {
			v, err := s.Recv(ctx)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(v, nil) {
				s.Destroy(nil)
				return
			}
		}
	}
}

func (s *Stream) push(v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed || s.remoteEnded {
		return
	}
	s.queue = append(s.queue, v)
	s.notifyUnsafe()
}

func (s *Stream) remoteEnd() {
	s.mu.Lock()
	if s.remoteEnded || s.destroyed {
		s.mu.Unlock()
		return
	}
	s.remoteEnded = true
	s.notifyUnsafe()
	localEnded := s.localEnded
	s.mu.Unlock()

	if localEnded {
		s.finish()
		return
	}
	if s.opener {
		// the caller side has nothing left to say once the handler is done
		s.End()
	}
}

// fail destroys the stream locally without notifying the peer.
func (s *Stream) fail(err error) {
	s.mu.Lock()
	if s.destroyed || (s.localEnded && s.remoteEnded) {
		s.mu.Unlock()
		return
	}
	s.destroyed = true
	s.err = err
	s.notifyUnsafe()
	s.mu.Unlock()

	s.finish()
}

func (s *Stream) finish() {
	s.doneOnce.Do(func() {
		s.ch.removeStream(s)
		s.cancel()
		close(s.done)
	})
}
