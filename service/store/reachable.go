package store

import (
	"github.com/viant/ocap/model/ref"
	"github.com/viant/ocap/model/types"
)

// GetReachableFlag reports the reachable flag of endpointID's entry for kref.
func (s *Store) GetReachableFlag(endpointID ref.EndpointID, kref ref.KRef) bool {
	value := s.kv.GetRequired(slotKey(endpointID, string(kref)))
	reachable, _ := parseReachableAndVatSlot(value)
	return reachable
}

// ClearReachableFlag marks the entry unreachable. Clearing an importing
// entry releases its reachable count on the object.
func (s *Store) ClearReachableFlag(endpointID ref.EndpointID, kref ref.KRef) {
	key := slotKey(endpointID, string(kref))
	reachable, eref := parseReachableAndVatSlot(s.kv.GetRequired(key))
	s.kv.Set(key, buildReachableAndVatSlot(false, eref))
	if !reachable || !kref.IsObject() {
		return
	}
	parsed, err := eref.Parse()
	types.Assert(err == nil, "%v", err)
	if parsed.Direction == ref.Import {
		counts := s.GetObjectRefCount(kref)
		counts.Reachable--
		s.SetObjectRefCount(kref, counts)
		if counts.Reachable == 0 {
			s.addMaybeFree(kref)
		}
	}
}

// setReachableFlag marks the entry reachable again, re-acquiring the
// importer's reachable count.
func (s *Store) setReachableFlag(endpointID ref.EndpointID, kref ref.KRef) {
	key := slotKey(endpointID, string(kref))
	reachable, eref := parseReachableAndVatSlot(s.kv.GetRequired(key))
	if reachable {
		return
	}
	s.kv.Set(key, buildReachableAndVatSlot(true, eref))
	if !kref.IsObject() {
		return
	}
	parsed, err := eref.Parse()
	types.Assert(err == nil, "%v", err)
	if parsed.Direction == ref.Import {
		counts := s.GetObjectRefCount(kref)
		counts.Reachable++
		s.SetObjectRefCount(kref, counts)
	}
}
