package exec

import (
	"context"
	osexec "os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/ocap/model/vat"
	"github.com/viant/ocap/service/rpc"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestService_LaunchEcho(t *testing.T) {
	if _, err := osexec.LookPath("cat"); err != nil {
		t.Skip("cat not available")
	}
	core, _ := observer.New(zap.InfoLevel)
	service := New("cat", WithGracePeriod(time.Second), WithLogger(zap.New(core)))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := service.Launch(ctx, "v0", &vat.Config{SourceSpec: "-"})
	require.NoError(t, err)
	_, err = service.Launch(ctx, "v0", &vat.Config{SourceSpec: "-"})
	assert.Error(t, err)

	request, err := rpc.NewRequest("v0:1", "ping", nil)
	require.NoError(t, err)
	require.NoError(t, stream.Write(ctx, request))
	echoed, err := stream.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ping", echoed.Method)
	assert.Equal(t, "v0:1", echoed.ID)

	require.NoError(t, service.Terminate(ctx, "v0"))
	assert.Error(t, service.Terminate(ctx, "v0"))
	require.NoError(t, service.TerminateAll(ctx))
}

func TestService_LaunchMissingRunner(t *testing.T) {
	service := New("/nonexistent/ocap-runner")
	_, err := service.Launch(context.Background(), "v0", &vat.Config{SourceSpec: "vat.js"})
	assert.Error(t, err)
}
