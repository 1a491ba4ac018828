package ndjson

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/ocap/service/messaging"
	"go.uber.org/goleak"
)

type envelope struct {
	ID     string `json:"id,omitempty"`
	Method string `json:"method"`
}

func TestStream_RoundTrip(t *testing.T) {
	defer goleak.VerifyNone(t)
	kernelReader, workerWriter := io.Pipe()
	workerReader, kernelWriter := io.Pipe()
	kernel := New[envelope](kernelReader, kernelWriter, messaging.DefaultConfig(), kernelReader, kernelWriter)
	worker := New[envelope](workerReader, workerWriter, messaging.DefaultConfig(), workerReader, workerWriter)
	ctx := context.Background()

	go func() {
		_ = kernel.Write(ctx, &envelope{ID: "1", Method: "ping"})
	}()
	msg, err := worker.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, &envelope{ID: "1", Method: "ping"}, msg)

	go func() {
		_ = worker.Write(ctx, &envelope{ID: "1", Method: "pong"})
	}()
	msg, err = kernel.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "pong", msg.Method)

	require.NoError(t, worker.Close())
	_, err = kernel.Read(ctx)
	assert.ErrorIs(t, err, io.EOF)
	require.NoError(t, kernel.Close())
	assert.ErrorIs(t, kernel.Write(ctx, &envelope{}), messaging.ErrClosed)
}

func TestStream_Read(t *testing.T) {
	testCases := []struct {
		name      string
		input     string
		expect    []string
		expectErr bool
	}{
		{name: "lines", input: "{\"method\":\"a\"}\n{\"method\":\"b\"}\n", expect: []string{"a", "b"}},
		{name: "no trailing newline", input: "{\"method\":\"a\"}", expect: []string{"a"}},
		{name: "blank lines", input: "\n{\"method\":\"a\"}\r\n\n", expect: []string{"a"}},
		{name: "malformed", input: "{\"method\":\"a\"}\nnot json\n", expect: []string{"a"}, expectErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			stream := New[envelope](strings.NewReader(tc.input), io.Discard, messaging.DefaultConfig())
			defer stream.Close()
			ctx := context.Background()
			for _, method := range tc.expect {
				msg, err := stream.Read(ctx)
				require.NoError(t, err)
				assert.Equal(t, method, msg.Method)
			}
			_, err := stream.Read(ctx)
			if tc.expectErr {
				assert.Error(t, err)
				assert.NotErrorIs(t, err, io.EOF)
				return
			}
			assert.ErrorIs(t, err, io.EOF)
		})
	}
}

func TestStream_MessageTooLarge(t *testing.T) {
	config := messaging.Config{MaxMessageSize: 8}
	stream := New[envelope](strings.NewReader("{\"method\":\"too long\"}\n"), io.Discard, config)
	defer stream.Close()
	_, err := stream.Read(context.Background())
	assert.ErrorIs(t, err, ErrMessageTooLarge)
}

// endless never ends its line.
type endless struct{}

func (endless) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 'x'
	}
	return len(p), nil
}

func TestStream_UnterminatedLine(t *testing.T) {
	defer goleak.VerifyNone(t)
	stream := New[envelope](endless{}, io.Discard, messaging.Config{MaxMessageSize: 1024})
	defer stream.Close()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := stream.Read(ctx)
	assert.ErrorIs(t, err, ErrMessageTooLarge)
}
