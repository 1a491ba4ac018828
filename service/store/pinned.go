package store

import (
	"slices"
	"strings"

	"github.com/viant/ocap/model/ref"
)

// Pins are stored as a sorted comma-separated list that keeps one element per pin.

func (s *Store) pinned() []ref.KRef {
	raw := s.kv.GetRequired(keyPinned)
	if raw == "" {
		return nil
	}
	var ret []ref.KRef
	for _, item := range strings.Split(raw, ",") {
		ret = append(ret, ref.KRef(item))
	}
	return ret
}

func (s *Store) setPinned(krefs []ref.KRef) {
	slices.Sort(krefs)
	items := make([]string, len(krefs))
	for i, kref := range krefs {
		items[i] = string(kref)
	}
	s.kv.Set(keyPinned, strings.Join(items, ","))
}

// PinObject keeps kref alive until a matching UnpinObject.
func (s *Store) PinObject(kref ref.KRef) {
	s.IncrementRefCount(kref, "pin")
	s.setPinned(append(s.pinned(), kref))
}

// UnpinObject releases one pin of kref; it reports false when kref was not pinned.
func (s *Store) UnpinObject(kref ref.KRef) bool {
	pinned := s.pinned()
	index := slices.Index(pinned, kref)
	if index < 0 {
		return false
	}
	s.setPinned(slices.Delete(pinned, index, index+1))
	s.DecrementRefCount(kref, "unpin")
	return true
}

// GetPinnedObjects lists pinned krefs, once per pin.
func (s *Store) GetPinnedObjects() []ref.KRef {
	return s.pinned()
}

// IsObjectPinned reports whether kref holds at least one pin.
func (s *Store) IsObjectPinned(kref ref.KRef) bool {
	return slices.Contains(s.pinned(), kref)
}
