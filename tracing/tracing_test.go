package tracing

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracingFile(t *testing.T) {
	output := filepath.Join(t.TempDir(), "spans.json")
	require.NoError(t, Init("ocap", "0.0.1", output))

	ctx, crank := StartSpan(context.Background(), "crank", KindInternal)
	crank.WithAttributes(map[string]string{"item": "send"})
	_, delivery := StartSpan(ctx, "deliver", KindClient)
	EndSpan(delivery, errors.New("vat v1 was deleted"))
	EndSpan(crank, nil)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Contains(t, string(data), "crank")
	assert.Contains(t, string(data), "vat v1 was deleted")
	require.NoError(t, Shutdown(context.Background()))
}

func TestNilSpan(t *testing.T) {
	var span *Span
	assert.Nil(t, span.WithAttributes(map[string]string{"k": "v"}))
	span.SetStatus(nil)
	EndSpan(span, nil)
}
