package messaging

import (
	"context"
	"errors"
)

// ErrClosed is returned when writing to a closed stream.
var ErrClosed = errors.New("stream closed")

// Stream represents an ordered duplex message channel for any payload type
type Stream[T any] interface {
	// Write sends a message to the peer
	Write(ctx context.Context, t *T) error

	// Read returns the next message from the peer, or io.EOF once the stream
	// is closed and drained
	Read(ctx context.Context) (*T, error)

	// Close ends the stream in both directions
	Close() error
}

// Config defines standard configuration options for stream implementations
type Config struct {
	// Buffer specifies how many messages may be in flight per direction
	Buffer int

	// MaxMessageSize bounds a single encoded message, when the transport encodes
	MaxMessageSize int
}

// DefaultConfig returns a standard stream configuration
func DefaultConfig() Config {
	return Config{
		Buffer:         100,
		MaxMessageSize: 16 * 1024 * 1024,
	}
}
