package store

import (
	"strings"

	"github.com/viant/ocap/model/ref"
	"github.com/viant/ocap/model/types"
)

// C-list entries are stored in both directions: <ep>.c.<kref> holds the
// reachable flag and eref ("R o-1" or "_ o-1"), <ep>.c.<eref> holds the kref.

const (
	reachableFlag   = "R"
	unreachableFlag = "_"
)

func buildReachableAndVatSlot(reachable bool, eref ref.ERef) string {
	flag := unreachableFlag
	if reachable {
		flag = reachableFlag
	}
	return flag + " " + string(eref)
}

func parseReachableAndVatSlot(value string) (bool, ref.ERef) {
	flag, eref, ok := strings.Cut(value, " ")
	types.Assert(ok && (flag == reachableFlag || flag == unreachableFlag), "invalid c-list value %q", value)
	return flag == reachableFlag, ref.ERef(eref)
}

// AddCListEntry maps kref and eref for endpointID; the entry starts reachable.
func (s *Store) AddCListEntry(endpointID ref.EndpointID, kref ref.KRef, eref ref.ERef) {
	s.kv.Set(slotKey(endpointID, string(kref)), buildReachableAndVatSlot(true, eref))
	s.kv.Set(slotKey(endpointID, string(eref)), string(kref))
}

// HasCListEntry reports whether slot (kref or eref) is mapped for endpointID.
func (s *Store) HasCListEntry(endpointID ref.EndpointID, slot string) bool {
	_, ok := s.kv.Get(slotKey(endpointID, slot))
	return ok
}

// ERefToKRef looks up the kref an endpoint's eref stands for.
func (s *Store) ERefToKRef(endpointID ref.EndpointID, eref ref.ERef) (ref.KRef, bool) {
	kref, ok := s.kv.Get(slotKey(endpointID, string(eref)))
	return ref.KRef(kref), ok
}

// KRefToERef looks up the endpoint's eref for kref.
func (s *Store) KRefToERef(endpointID ref.EndpointID, kref ref.KRef) (ref.ERef, bool) {
	value, ok := s.kv.Get(slotKey(endpointID, string(kref)))
	if !ok {
		return "", false
	}
	_, eref := parseReachableAndVatSlot(value)
	return eref, true
}

// KRefsToExistingERefs maps krefs the endpoint knows, silently dropping the rest.
func (s *Store) KRefsToExistingERefs(endpointID ref.EndpointID, krefs []ref.KRef) []ref.ERef {
	var ret []ref.ERef
	for _, kref := range krefs {
		if eref, ok := s.KRefToERef(endpointID, kref); ok {
			ret = append(ret, eref)
		}
	}
	return ret
}

// AllocateERefForKRef imports kref into endpointID under a fresh eref
// (r-prefixed for remotes) and records the mapping.
func (s *Store) AllocateERefForKRef(endpointID ref.EndpointID, kref ref.KRef) ref.ERef {
	counterKey := endpointObjectCounterKey(endpointID)
	if kref.IsPromise() {
		counterKey = endpointPromiseCounterKey(endpointID)
	}
	if _, ok := s.kv.Get(counterKey); !ok {
		types.Fail("endpoint %v was not initialized", endpointID)
	}
	index := s.incCounter(counterKey)
	eref := ref.NewERef(endpointID.IsRemote(), kref.IsPromise(), ref.Import, index)
	s.AddCListEntry(endpointID, kref, eref)
	return eref
}

// ForgetERef removes both directions of the mapping for eref without touching counts.
func (s *Store) ForgetERef(endpointID ref.EndpointID, eref ref.ERef) {
	kref, ok := s.ERefToKRef(endpointID, eref)
	if ok {
		s.kv.Delete(slotKey(endpointID, string(kref)))
	}
	s.kv.Delete(slotKey(endpointID, string(eref)))
}

// ForgetKRef removes both directions of the mapping for kref without touching counts.
func (s *Store) ForgetKRef(endpointID ref.EndpointID, kref ref.KRef) {
	eref, ok := s.KRefToERef(endpointID, kref)
	if ok {
		s.kv.Delete(slotKey(endpointID, string(eref)))
	}
	s.kv.Delete(slotKey(endpointID, string(kref)))
}

// DeleteCListEntry removes the mapping and releases the reference it held:
// the reachable flag is cleared first, then the recognizable count drops.
func (s *Store) DeleteCListEntry(endpointID ref.EndpointID, kref ref.KRef, eref ref.ERef) {
	kernelKey := slotKey(endpointID, string(kref))
	_, ok := s.kv.Get(kernelKey)
	types.Assert(ok, "c-list entry %v of %v does not exist", kref, endpointID)
	s.ClearReachableFlag(endpointID, kref)
	parsed, err := eref.Parse()
	types.Assert(err == nil, "%v", err)
	s.DecrementRefCount(kref, "delete|clist", RefCountOptions{
		IsExport:         parsed.Direction == ref.Export,
		OnlyRecognizable: true,
	})
	s.kv.Delete(kernelKey)
	s.kv.Delete(slotKey(endpointID, string(eref)))
}
