package store

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/ocap/model/capdata"
	"github.com/viant/ocap/model/ref"
	"github.com/viant/ocap/model/runqueue"
	"github.com/viant/ocap/model/types"
	"github.com/viant/ocap/model/vat"
	"github.com/viant/ocap/service/kv"
	"github.com/viant/ocap/service/kv/memory"
)

func newTestStore(t *testing.T, endpoints ...ref.EndpointID) *Store {
	t.Helper()
	ret := New(memory.New())
	for _, endpoint := range endpoints {
		ret.InitEndpoint(endpoint)
	}
	return ret
}

func assertInvariantPanic(t *testing.T, contains string, fn func()) {
	t.Helper()
	var err error
	func() {
		defer types.Recover(&err)
		fn()
	}()
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrInvariant)
	assert.Contains(t, err.Error(), contains)
}

func TestStore_GetNextVatID(t *testing.T) {
	backing := memory.New()
	store := New(backing)
	assert.Equal(t, ref.VatID("v0"), store.GetNextVatID())
	assert.Equal(t, ref.VatID("v1"), store.GetNextVatID())
	assert.Equal(t, ref.VatID("v2"), store.GetNextVatID())

	reopened := New(backing)
	assert.Equal(t, ref.VatID("v3"), reopened.GetNextVatID())
	assert.Equal(t, ref.EndpointID("r0"), reopened.GetNextRemoteID())
}

func TestStore_CList(t *testing.T) {
	store := newTestStore(t, "v0", "r0")

	store.AddCListEntry("v0", "ko1", "o+1")
	kref, ok := store.ERefToKRef("v0", "o+1")
	require.True(t, ok)
	assert.Equal(t, ref.KRef("ko1"), kref)
	eref, ok := store.KRefToERef("v0", "ko1")
	require.True(t, ok)
	assert.Equal(t, ref.ERef("o+1"), eref)
	assert.True(t, store.GetReachableFlag("v0", "ko1"))

	_, ok = store.ERefToKRef("v0", "o+2")
	assert.False(t, ok)
	assert.Equal(t, []ref.ERef{"o+1"}, store.KRefsToExistingERefs("v0", []ref.KRef{"ko1", "ko9"}))

	store.ForgetKRef("v0", "ko1")
	assert.False(t, store.HasCListEntry("v0", "ko1"))
	assert.False(t, store.HasCListEntry("v0", "o+1"))

	store.AddCListEntry("v0", "kp3", "p+3")
	store.ForgetERef("v0", "p+3")
	assert.False(t, store.HasCListEntry("v0", "kp3"))
	store.ForgetERef("v0", "p+3")

	assert.Equal(t, ref.ERef("o-1"), store.AllocateERefForKRef("v0", "ko5"))
	assert.Equal(t, ref.ERef("o-2"), store.AllocateERefForKRef("v0", "ko6"))
	assert.Equal(t, ref.ERef("p-1"), store.AllocateERefForKRef("v0", "kp1"))
	assert.Equal(t, ref.ERef("ro-1"), store.AllocateERefForKRef("r0", "ko5"))
	assertInvariantPanic(t, "not initialized", func() {
		store.AllocateERefForKRef("v7", "ko5")
	})
}

func TestStore_ObjectRefCount(t *testing.T) {
	store := newTestStore(t)
	kref := store.InitKernelObject("v0")
	assert.Equal(t, ref.KRef("ko1"), kref)
	assert.Equal(t, RefCount{Reachable: 1, Recognizable: 1}, store.GetObjectRefCount(kref))

	store.IncrementRefCount(kref, "test")
	store.IncrementRefCount(kref, "test", RefCountOptions{OnlyRecognizable: true})
	assert.Equal(t, RefCount{Reachable: 2, Recognizable: 3}, store.GetObjectRefCount(kref))
	store.IncrementRefCount(kref, "test", RefCountOptions{IsExport: true})
	assert.Equal(t, RefCount{Reachable: 2, Recognizable: 3}, store.GetObjectRefCount(kref))

	assert.False(t, store.DecrementRefCount(kref, "test"))
	assert.False(t, store.DecrementRefCount(kref, "test", RefCountOptions{OnlyRecognizable: true}))
	assert.Empty(t, store.MaybeFreeKRefs())
	assert.True(t, store.DecrementRefCount(kref, "test"))
	assert.Equal(t, RefCount{}, store.GetObjectRefCount(kref))
	assert.Equal(t, []ref.KRef{kref}, store.MaybeFreeKRefs())

	assertInvariantPanic(t, "refCount underflow", func() {
		store.DecrementRefCount(kref, "test")
	})
	assert.Equal(t, []ref.KRef{kref}, store.MaybeFreeKRefs())

	assertInvariantPanic(t, "refCount mismatch", func() {
		store.SetObjectRefCount(kref, RefCount{Reachable: 2, Recognizable: 1})
	})
}

func TestStore_PromiseRefCount(t *testing.T) {
	store := newTestStore(t)
	kpid, promise := store.InitKernelPromise()
	assert.Equal(t, ref.KRef("kp1"), kpid)
	assert.Equal(t, Unresolved, promise.State)
	assert.Equal(t, 1, store.GetPromiseRefCount(kpid))

	store.IncrementRefCount(kpid, "test")
	assert.False(t, store.DecrementRefCount(kpid, "test"))
	assert.True(t, store.DecrementRefCount(kpid, "test"))
	assertInvariantPanic(t, "refCount underflow", func() {
		store.DecrementRefCount(kpid, "test")
	})
	assertInvariantPanic(t, "unknown kernel promise", func() {
		store.IncrementRefCount("kp99", "test")
	})
}

func TestStore_Queues(t *testing.T) {
	store := newTestStore(t)
	assertInvariantPanic(t, "unknown queue", func() {
		store.GetQueueLength("missing")
	})

	assert.Equal(t, 0, store.RunQueueLength())
	assert.Nil(t, store.DequeueRun())
	store.EnqueueRun(runqueue.Notify("v0", "kp1"))
	store.EnqueueRun(runqueue.BringOutYourDead("v1"))
	assert.Equal(t, 2, store.RunQueueLength())
	assert.Equal(t, 2, store.GetQueueLength(runQueue))

	item := store.DequeueRun()
	require.NotNil(t, item)
	assert.Equal(t, runqueue.TypeNotify, item.Type)
	assert.Equal(t, 1, store.RunQueueLength())

	reopened := New(store.KV())
	assert.Equal(t, 1, reopened.RunQueueLength())
	item = reopened.DequeueRun()
	require.NotNil(t, item)
	assert.Equal(t, runqueue.BringOutYourDead("v1"), item)
	assert.Equal(t, 0, reopened.RunQueueLength())
}

func TestStore_Pins(t *testing.T) {
	store := newTestStore(t)
	first := store.InitKernelObject("v0")
	second := store.InitKernelObject("v0")

	store.PinObject(second)
	store.PinObject(first)
	store.PinObject(second)
	assert.Equal(t, []ref.KRef{first, second, second}, store.GetPinnedObjects())
	assert.Equal(t, RefCount{Reachable: 3, Recognizable: 3}, store.GetObjectRefCount(second))

	assert.True(t, store.UnpinObject(second))
	assert.True(t, store.IsObjectPinned(second))
	assert.True(t, store.UnpinObject(second))
	assert.False(t, store.IsObjectPinned(second))
	assert.False(t, store.UnpinObject(second))
	assert.Equal(t, RefCount{Reachable: 1, Recognizable: 1}, store.GetObjectRefCount(second))
	assert.Equal(t, []ref.KRef{first}, store.GetPinnedObjects())
}

func TestStore_ResolveKernelPromise(t *testing.T) {
	store := newTestStore(t)
	kpid, _ := store.InitKernelPromise()
	inner, _ := store.InitKernelPromise()
	store.SetPromiseDecider(kpid, "v0")
	store.AddPromiseSubscriber("v2", kpid)
	store.AddPromiseSubscriber("v1", kpid)
	store.AddPromiseSubscriber("v2", kpid)
	assert.Equal(t, []ref.EndpointID{"v1", "v2"}, store.GetKernelPromise(kpid).Subscribers)

	first := capdata.Message{Methargs: capdata.MustEncode([]interface{}{"first", []interface{}{}})}
	second := capdata.Message{Methargs: capdata.MustEncode([]interface{}{"second", []interface{}{}})}
	store.EnqueuePromiseMessage(kpid, first)
	store.EnqueuePromiseMessage(kpid, second)
	assert.Len(t, store.GetPromiseMessages(kpid), 2)

	store.ResolveKernelPromise(inner, false, capdata.MustEncode("inner"))
	value := capdata.Reference(string(inner), "")
	store.ResolveKernelPromise(kpid, false, value)

	promise := store.GetKernelPromise(kpid)
	assert.Equal(t, Fulfilled, promise.State)
	assert.Empty(t, promise.Decider)
	require.NotNil(t, promise.Value)
	assert.Equal(t, value, *promise.Value)
	assert.Equal(t, runqueue.Send(kpid, first), store.DequeueRun())
	assert.Equal(t, runqueue.Send(kpid, second), store.DequeueRun())
	assert.Equal(t, []ref.KRef{kpid, inner}, store.GetKpidsToRetire(kpid, value))

	assertInvariantPanic(t, "already resolved", func() {
		store.ResolveKernelPromise(kpid, true, capdata.Error("again"))
	})

	store.DeleteKernelPromise(kpid)
	assert.False(t, store.KernelPromiseExists(kpid))
	for key := range store.KV().Keys(string(kpid) + ".") {
		t.Errorf("unexpected key %v", key)
	}
}

func TestStore_Translators(t *testing.T) {
	store := newTestStore(t, "v0", "v1")

	root := store.ExportFromVat("v0", ref.RootObject)
	assert.Equal(t, RefCount{Reachable: 1, Recognizable: 1}, store.GetObjectRefCount(root))
	owner, ok := store.GetOwner(root)
	require.True(t, ok)
	assert.Equal(t, ref.EndpointID("v0"), owner)

	kref, err := store.TranslateRefVtoK("v0", "p+4")
	require.NoError(t, err)
	assert.Equal(t, 2, store.GetPromiseRefCount(kref))
	assert.Equal(t, ref.EndpointID("v0"), store.GetKernelPromise(kref).Decider)

	_, err = store.TranslateRefVtoK("v0", "o-3")
	assert.Error(t, err)
	_, err = store.TranslateRefVtoK("v0", "bogus")
	assert.Error(t, err)

	result := string(kref)
	delivered := store.TranslateMessageKtoV("v1", capdata.Message{
		Methargs: capdata.Reference(string(root), ""),
		Result:   &result,
	})
	assert.Equal(t, []string{"o-1"}, delivered.Methargs.Slots)
	assert.Equal(t, "p-1", delivered.ResultRef())
	assert.Equal(t, RefCount{Reachable: 2, Recognizable: 2}, store.GetObjectRefCount(root))
	assert.Equal(t, 3, store.GetPromiseRefCount(kref))

	_, err = store.TranslateMessageVtoK("v1", delivered)
	assert.ErrorIs(t, err, types.ErrProtocol)
	assert.Equal(t, ref.EndpointID("v0"), store.GetKernelPromise(kref).Decider)

	own := "p+1"
	sent, err := store.TranslateMessageVtoK("v1", capdata.Message{Methargs: capdata.Reference("o-1", ""), Result: &own})
	require.NoError(t, err)
	assert.Equal(t, []string{string(root)}, sent.Methargs.Slots)
	assert.Empty(t, store.GetKernelPromise(ref.KRef(sent.ResultRef())).Decider)
	_, err = store.TranslateMessageVtoK("v1", capdata.Message{Methargs: capdata.Reference("o-1", ""), Result: &own})
	assert.ErrorIs(t, err, types.ErrProtocol)

	assertInvariantPanic(t, "unmapped kref", func() {
		store.TranslateRefKtoV("v1", "ko99", false)
	})

	store.ClearReachableFlag("v1", root)
	assert.Equal(t, RefCount{Reachable: 1, Recognizable: 2}, store.GetObjectRefCount(root))
	store.TranslateRefKtoV("v1", root, true)
	assert.True(t, store.GetReachableFlag("v1", root))
	assert.Equal(t, RefCount{Reachable: 2, Recognizable: 2}, store.GetObjectRefCount(root))

	store.DeleteCListEntry("v1", root, "o-1")
	assert.Equal(t, RefCount{Reachable: 1, Recognizable: 1}, store.GetObjectRefCount(root))
	assert.False(t, store.HasCListEntry("v1", string(root)))
}

func TestStore_CollectGarbage(t *testing.T) {
	store := newTestStore(t, "v0", "v1")
	kref, err := store.TranslateRefVtoK("v0", "o+1")
	require.NoError(t, err)
	store.TranslateRefKtoV("v1", kref, true)
	store.ReleaseExportSeeds()
	assert.Equal(t, RefCount{Reachable: 1, Recognizable: 1}, store.GetObjectRefCount(kref))
	store.ReleaseExportSeeds()
	assert.Equal(t, RefCount{Reachable: 1, Recognizable: 1}, store.GetObjectRefCount(kref))

	store.ClearReachableFlag("v1", kref)
	store.CollectGarbage()
	assert.Equal(t, []string{"v0 dropExport ko1"}, store.GetGCActions().Sorted())
	item := store.NextGCAction()
	require.NotNil(t, item)
	assert.Equal(t, runqueue.GCItem(runqueue.DropExport, "v0", []ref.KRef{kref}), item)
	store.ClearReachableFlag("v0", kref)

	store.DeleteCListEntry("v1", kref, "o-1")
	assert.Equal(t, RefCount{}, store.GetObjectRefCount(kref))
	store.CollectGarbage()
	assert.Empty(t, store.MaybeFreeKRefs())
	item = store.NextGCAction()
	require.NotNil(t, item)
	assert.Equal(t, runqueue.GCItem(runqueue.RetireExport, "v0", []ref.KRef{kref}), item)
	assert.Nil(t, store.NextGCAction())

	unused, err := store.TranslateRefVtoK("v0", "o+2")
	require.NoError(t, err)
	store.ReleaseExportSeeds()
	store.CollectGarbage()
	assert.Equal(t, []string{"v0 dropExport ko2", "v0 retireExport ko2"}, store.GetGCActions().Sorted())
	store.SetGCActions(runqueue.ActionSet{})
	assert.Equal(t, ref.KRef("ko2"), unused)

	kpid, _ := store.InitKernelPromise()
	held := store.InitKernelObject("v1")
	store.ResolveKernelPromise(kpid, false, capdata.Reference(string(held), ""))
	store.IncrementRefCount(held, "resolve|slot")
	assert.True(t, store.DecrementRefCount(kpid, "test"))
	store.CollectGarbage()
	assert.False(t, store.KernelPromiseExists(kpid))
	assert.Equal(t, RefCount{Reachable: 1, Recognizable: 1}, store.GetObjectRefCount(held))
}

func TestStore_NextGCAction(t *testing.T) {
	store := newTestStore(t, "v0", "v1")
	kref := store.ExportFromVat("v0", "o+1")
	store.TranslateRefKtoV("v1", kref, true)
	store.SetObjectRefCount(kref, RefCount{Reachable: 0, Recognizable: 1})

	store.AddGCActions(
		runqueue.Action{VatID: "v1", Type: runqueue.RetireImport, KRef: kref},
		runqueue.Action{VatID: "v0", Type: runqueue.RetireImport, KRef: "ko9"},
		runqueue.Action{VatID: "v0", Type: runqueue.DropExport, KRef: kref},
	)

	item := store.NextGCAction()
	require.NotNil(t, item)
	assert.Equal(t, runqueue.TypeDropExports, item.Type)
	assert.Equal(t, ref.VatID("v0"), item.VatID)

	item = store.NextGCAction()
	require.NotNil(t, item)
	assert.Equal(t, runqueue.TypeRetireImports, item.Type)
	assert.Equal(t, ref.VatID("v1"), item.VatID)
	assert.Equal(t, []ref.KRef{kref}, item.KRefs)
	assert.Empty(t, store.GetGCActions())
}

func TestStore_Reap(t *testing.T) {
	store := newTestStore(t)
	store.ScheduleReap("v1")
	store.ScheduleReap("v0")
	store.ScheduleReap("v1")
	assert.Equal(t, runqueue.BringOutYourDead("v1"), store.NextReapAction())
	assert.Equal(t, runqueue.BringOutYourDead("v0"), store.NextReapAction())
	assert.Nil(t, store.NextReapAction())
}

func TestStore_CleanupTerminatedVat(t *testing.T) {
	store := newTestStore(t)
	exporter := store.GetNextVatID()
	importer := store.GetNextVatID()
	store.InitEndpoint(exporter)
	store.InitEndpoint(importer)

	root := store.ExportFromVat(exporter, ref.RootObject)
	kpid, err := store.TranslateRefVtoK(exporter, "p+1")
	require.NoError(t, err)
	store.TranslateRefKtoV(importer, root, true)
	store.TranslateRefKtoV(importer, kpid, true)
	store.UpdateVatKVData(exporter, []kv.Pair{{Key: "baggage", Value: "{}"}}, nil)
	store.MarkVatAsTerminated(exporter)
	store.MarkVatAsTerminated(importer)

	assert.True(t, store.NextTerminatedVatCleanup())
	assert.Equal(t, []ref.VatID{importer}, store.GetTerminatedVats())
	for key := range store.KV().Keys("") {
		assert.False(t, strings.HasPrefix(key, string(exporter)+"."), key)
		assert.NotEqual(t, "e.nextObjectId."+string(exporter), key)
		assert.NotEqual(t, "e.nextPromiseId."+string(exporter), key)
	}
	_, hasOwner := store.GetOwner(root)
	assert.False(t, hasOwner)
	assert.Equal(t, RefCount{Reachable: 1, Recognizable: 1}, store.GetObjectRefCount(root))
	assert.Equal(t, 1, store.GetPromiseRefCount(kpid))
	assert.Empty(t, store.GetKernelPromise(kpid).Decider)

	store.CollectGarbage()
	assert.True(t, store.KernelObjectExists(root))

	assert.False(t, store.NextTerminatedVatCleanup())
	assert.Empty(t, store.GetTerminatedVats())
	store.CollectGarbage()
	assert.False(t, store.KernelObjectExists(root))
	assert.False(t, store.KernelPromiseExists(kpid))
	assert.False(t, store.NextTerminatedVatCleanup())
}

func TestStore_CleanupWork(t *testing.T) {
	store := newTestStore(t, "v0", "v1")
	store.ExportFromVat("v0", ref.RootObject)
	store.ExportFromVat("v0", "o+1")
	imported := store.ExportFromVat("v1", ref.RootObject)
	store.TranslateRefKtoV("v0", imported, true)
	_, err := store.TranslateRefVtoK("v0", "p+1")
	require.NoError(t, err)
	store.UpdateVatKVData("v0", []kv.Pair{{Key: "a", Value: "1"}, {Key: "b", Value: "2"}}, nil)

	work := store.CleanupTerminatedVat("v0")
	assert.Equal(t, CleanupWork{Exports: 2, Imports: 1, Promises: 1, KV: 2}, work)
}

func TestStore_VatRecords(t *testing.T) {
	store := newTestStore(t)
	config := &vat.Config{SourceSpec: "alice.js", Parameters: map[string]interface{}{"name": "alice"}}
	store.SetVatConfig("v10", config)
	store.SetVatConfig("v2", &vat.Config{BundleSpec: "bob.bundle"})

	assert.Equal(t, []ref.VatID{"v2", "v10"}, store.GetVatIDs())
	loaded, ok := store.GetVatConfig("v10")
	require.True(t, ok)
	if diff := cmp.Diff(config, loaded); diff != "" {
		t.Errorf("vat config mismatch (-want +got):\n%s", diff)
	}

	var records []vat.Record
	for record := range store.GetAllVatRecords() {
		records = append(records, record)
		break
	}
	require.Len(t, records, 1)
	assert.Equal(t, ref.VatID("v10"), records[0].VatID)

	store.DeleteVatConfig("v10")
	_, ok = store.GetVatConfig("v10")
	assert.False(t, ok)

	cluster := &vat.ClusterConfig{Bootstrap: "alice", Vats: map[string]*vat.Config{"alice": config}}
	_, ok = store.GetClusterConfig()
	assert.False(t, ok)
	store.SetClusterConfig(cluster)
	loadedCluster, ok := store.GetClusterConfig()
	require.True(t, ok)
	if diff := cmp.Diff(cluster, loadedCluster); diff != "" {
		t.Errorf("cluster config mismatch (-want +got):\n%s", diff)
	}
}

func TestStore_VatKVData(t *testing.T) {
	store := newTestStore(t)
	store.UpdateVatKVData("v1", []kv.Pair{{Key: "b", Value: "2"}, {Key: "a", Value: "1"}}, nil)
	store.UpdateVatKVData("v10", []kv.Pair{{Key: "x", Value: "other"}}, nil)
	store.UpdateVatKVData("v1", []kv.Pair{{Key: "c", Value: "3"}}, []string{"b"})

	expect := []kv.Pair{{Key: "a", Value: "1"}, {Key: "c", Value: "3"}}
	if diff := cmp.Diff(expect, store.GetVatKVData("v1")); diff != "" {
		t.Errorf("vat store mismatch (-want +got):\n%s", diff)
	}
	store.DeleteVatKVData("v1")
	assert.Empty(t, store.GetVatKVData("v1"))
	assert.Len(t, store.GetVatKVData("v10"), 1)
}

func TestStore_Reset(t *testing.T) {
	store := newTestStore(t)
	store.GetNextVatID()
	store.InitKernelObject("v0")
	store.EnqueueRun(runqueue.BringOutYourDead("v0"))
	store.Reset()
	assert.Equal(t, ref.VatID("v0"), store.GetNextVatID())
	assert.Equal(t, 0, store.RunQueueLength())
	assert.False(t, store.KernelObjectExists("ko1"))

	_, err := store.ExecuteQuery(t.Context(), "SELECT 1")
	assert.ErrorIs(t, err, types.ErrUnsupportedQuery)
}
