// Package ndjson implements messaging.Stream as newline-delimited JSON over a
// reader/writer pair, such as a worker process's stdio.
package ndjson

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/viant/ocap/service/messaging"
)

// ErrMessageTooLarge is returned when a line exceeds Config.MaxMessageSize.
var ErrMessageTooLarge = errors.New("ndjson: message too large")

type result[T any] struct {
	msg *T
	err error
}

// Stream is a messaging.Stream over newline-delimited JSON.
type Stream[T any] struct {
	config   messaging.Config
	writer   io.Writer
	closers  []io.Closer
	mu       sync.Mutex
	incoming chan result[T]
	done     chan struct{}
	once     sync.Once
	closeErr error
}

// New starts reading r in the background; closers are closed by Close and
// must include whatever unblocks reads on r.
func New[T any](r io.Reader, w io.Writer, config messaging.Config, closers ...io.Closer) *Stream[T] {
	if config.MaxMessageSize <= 0 {
		config.MaxMessageSize = messaging.DefaultConfig().MaxMessageSize
	}
	ret := &Stream[T]{
		config:   config,
		writer:   w,
		closers:  closers,
		incoming: make(chan result[T], max(config.Buffer, 1)),
		done:     make(chan struct{}),
	}
	go ret.readLoop(r)
	return ret
}

// readLoop never buffers more than MaxMessageSize plus the newline.
func (s *Stream[T]) readLoop(r io.Reader) {
	defer close(s.incoming)
	limit := s.config.MaxMessageSize + 1
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, min(limit, 64*1024)), limit)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		msg := new(T)
		if err := json.Unmarshal(line, msg); err != nil {
			s.push(result[T]{err: fmt.Errorf("ndjson: invalid message: %w", err)})
			return
		}
		if !s.push(result[T]{msg: msg}) {
			return
		}
	}
	err := scanner.Err()
	if errors.Is(err, bufio.ErrTooLong) {
		err = ErrMessageTooLarge
	}
	if err != nil {
		s.push(result[T]{err: err})
	}
}

func (s *Stream[T]) push(r result[T]) bool {
	select {
	case s.incoming <- r:
		return true
	case <-s.done:
		return false
	}
}

// Write encodes t as one line.
func (s *Stream[T]) Write(ctx context.Context, t *T) error {
	select {
	case <-s.done:
		return messaging.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	payload, err := json.Marshal(t)
	if err != nil {
		return err
	}
	payload = append(payload, '\n')
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.writer.Write(payload)
	return err
}

// Read returns the next decoded message, io.EOF when the peer closed, or the
// transport error that stopped reading.
func (s *Stream[T]) Read(ctx context.Context) (*T, error) {
	select {
	case r, ok := <-s.incoming:
		if !ok {
			return nil, io.EOF
		}
		return r.msg, r.err
	case <-s.done:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the stream and closes the underlying closers.
func (s *Stream[T]) Close() error {
	s.once.Do(func() {
		close(s.done)
		var errs []error
		for _, closer := range s.closers {
			if err := closer.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

var _ messaging.Stream[any] = (*Stream[any])(nil)
