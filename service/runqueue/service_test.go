package runqueue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/ocap/model/capdata"
	"github.com/viant/ocap/model/ref"
	"github.com/viant/ocap/model/runqueue"
	"github.com/viant/ocap/model/types"
	"github.com/viant/ocap/service/kv/memory"
	"github.com/viant/ocap/service/store"
)

func newTestService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	kernelStore := store.New(memory.New())
	kernelStore.InitEndpoint("v0")
	kernelStore.InitEndpoint("v1")
	return New(kernelStore), kernelStore
}

func TestService_EnqueueSend(t *testing.T) {
	srv, kernelStore := newTestService(t)
	target := kernelStore.ExportFromVat("v0", ref.RootObject)
	arg := kernelStore.ExportFromVat("v1", ref.RootObject)
	result, _ := kernelStore.InitKernelPromise()
	resultRef := string(result)
	message := capdata.Message{Methargs: capdata.Reference(string(arg), ""), Result: &resultRef}

	srv.EnqueueSend(target, message)
	assert.Equal(t, store.RefCount{Reachable: 2, Recognizable: 2}, kernelStore.GetObjectRefCount(target))
	assert.Equal(t, store.RefCount{Reachable: 2, Recognizable: 2}, kernelStore.GetObjectRefCount(arg))
	assert.Equal(t, 2, kernelStore.GetPromiseRefCount(result))
	select {
	case <-srv.Wake():
	default:
		t.Fatal("expected wake signal")
	}
	assert.Equal(t, runqueue.Send(target, message), srv.NextItem())
	assert.Nil(t, srv.NextItem())
}

func TestService_NextItemPriority(t *testing.T) {
	srv, kernelStore := newTestService(t)
	kpid, _ := kernelStore.InitKernelPromise()
	srv.EnqueueNotify("v1", kpid)
	kernelStore.ScheduleReap("v0")
	kref := kernelStore.ExportFromVat("v0", "o+1")
	kernelStore.DecrementRefCount(kref, "test")
	kernelStore.CollectGarbage()

	assert.Equal(t, runqueue.TypeDropExports, srv.NextItem().Type)
	assert.Equal(t, runqueue.TypeRetireExports, srv.NextItem().Type)
	assert.Equal(t, runqueue.BringOutYourDead("v0"), srv.NextItem())
	assert.Equal(t, runqueue.Notify("v1", kpid), srv.NextItem())
	assert.Nil(t, srv.NextItem())
}

func TestService_ResolvePromises(t *testing.T) {
	srv, kernelStore := newTestService(t)
	kpid, err := kernelStore.TranslateRefVtoK("v0", "p+1")
	require.NoError(t, err)
	kernelStore.AddPromiseSubscriber("v1", kpid)
	waiter := srv.Subscribe(kpid)
	value := capdata.Reference(string(kernelStore.ExportFromVat("v0", "o+2")), "")

	err = srv.ResolvePromises("v1", []capdata.Resolution{{Ref: string(kpid), Value: value}})
	assert.ErrorIs(t, err, types.ErrProtocol)
	err = srv.ResolvePromises("v0", []capdata.Resolution{{Ref: "kp99", Value: value}})
	assert.ErrorIs(t, err, types.ErrNotFound)
	err = srv.ResolvePromises("v0", []capdata.Resolution{{Ref: string(kpid), Value: value}, {Ref: string(kpid), Value: value}})
	assert.ErrorIs(t, err, types.ErrProtocol)
	assert.Equal(t, store.Unresolved, kernelStore.GetKernelPromise(kpid).State)

	require.NoError(t, srv.ResolvePromises("v0", []capdata.Resolution{{Ref: string(kpid), Value: value}}))
	resolution := <-waiter
	assert.Equal(t, string(kpid), resolution.Ref)
	assert.False(t, resolution.Rejected)
	assert.Equal(t, value, resolution.Value)

	assert.Equal(t, store.Fulfilled, kernelStore.GetKernelPromise(kpid).State)
	// decider hold released, c-list hold and queued notify remain
	assert.Equal(t, 2, kernelStore.GetPromiseRefCount(kpid))
	assert.Equal(t, store.RefCount{Reachable: 2, Recognizable: 2}, kernelStore.GetObjectRefCount("ko1"))
	assert.Equal(t, runqueue.Notify("v1", kpid), srv.NextItem())

	late := <-srv.Subscribe(kpid)
	assert.Equal(t, resolution, late)
	assert.ErrorIs(t, srv.ResolvePromises("", []capdata.Resolution{{Ref: string(kpid), Value: value}}), types.ErrProtocol)
}
