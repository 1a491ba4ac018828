package memory

import (
	"context"
	"io"
	"sync"

	"github.com/viant/ocap/service/messaging"
)

type pipe[T any] struct {
	messages chan *T
	closed   chan struct{}
	once     sync.Once
}

func newPipe[T any](buffer int) *pipe[T] {
	return &pipe[T]{messages: make(chan *T, buffer), closed: make(chan struct{})}
}

func (p *pipe[T]) close() {
	p.once.Do(func() { close(p.closed) })
}

// Stream implements an in-memory messaging.Stream end
type Stream[T any] struct {
	in  *pipe[T]
	out *pipe[T]
}

// NewPair creates two connected stream ends: what one writes the other reads
func NewPair[T any](config messaging.Config) (*Stream[T], *Stream[T]) {
	if config.Buffer <= 0 {
		config.Buffer = messaging.DefaultConfig().Buffer
	}
	left := newPipe[T](config.Buffer)
	right := newPipe[T](config.Buffer)
	return &Stream[T]{in: left, out: right}, &Stream[T]{in: right, out: left}
}

// Write sends a copy of t to the peer
func (s *Stream[T]) Write(ctx context.Context, t *T) error {
	select {
	case <-s.out.closed:
		return messaging.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	payload := *t
	select {
	case s.out.messages <- &payload:
		return nil
	case <-s.out.closed:
		return messaging.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Read returns the next message; buffered messages are still delivered after close
func (s *Stream[T]) Read(ctx context.Context) (*T, error) {
	select {
	case msg := <-s.in.messages:
		return msg, nil
	case <-s.in.closed:
		select {
		case msg := <-s.in.messages:
			return msg, nil
		default:
			return nil, io.EOF
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close ends both directions; the peer observes io.EOF after draining
func (s *Stream[T]) Close() error {
	s.in.close()
	s.out.close()
	return nil
}

// Size returns the number of messages waiting to be read by this end
func (s *Stream[T]) Size() int {
	return len(s.in.messages)
}

// ensure Stream implements messaging.Stream interface
var _ messaging.Stream[any] = (*Stream[any])(nil)
