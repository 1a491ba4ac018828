package store

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/viant/ocap/model/ref"
	"github.com/viant/ocap/model/types"
)

// RefCount is an object's two-tier reference count.
type RefCount struct {
	Reachable    int
	Recognizable int
}

func (c RefCount) String() string {
	return strconv.Itoa(c.Reachable) + "," + strconv.Itoa(c.Recognizable)
}

// InitKernelObject allocates an object owned by owner. The seed count is the
// owner's hold.
func (s *Store) InitKernelObject(owner ref.EndpointID) ref.KRef {
	kref := s.getNextObjectID()
	s.kv.Set(ownerKey(kref), string(owner))
	s.SetObjectRefCount(kref, RefCount{Reachable: 1, Recognizable: 1})
	return kref
}

// GetOwner returns the endpoint owning kref; orphaned and deleted objects have none.
func (s *Store) GetOwner(kref ref.KRef) (ref.EndpointID, bool) {
	owner, ok := s.kv.Get(ownerKey(kref))
	return ref.EndpointID(owner), ok
}

// KernelObjectExists reports whether kref still has a refcount record.
func (s *Store) KernelObjectExists(kref ref.KRef) bool {
	_, ok := s.kv.Get(refCountKey(kref))
	return ok
}

// DeleteKernelObject removes the object's owner and refcount records.
func (s *Store) DeleteKernelObject(kref ref.KRef) {
	s.kv.Delete(ownerKey(kref))
	s.kv.Delete(refCountKey(kref))
}

// GetObjectRefCount returns the object's counts; a missing record reads as zero.
func (s *Store) GetObjectRefCount(kref ref.KRef) RefCount {
	raw, ok := s.kv.Get(refCountKey(kref))
	if !ok {
		return RefCount{}
	}
	ret, err := parseRefCount(raw)
	types.Assert(err == nil, "corrupted refCount of %v: %v", kref, err)
	return ret
}

// SetObjectRefCount stores the object's counts, asserting 0 ≤ reachable ≤ recognizable.
func (s *Store) SetObjectRefCount(kref ref.KRef, counts RefCount) {
	types.Assert(counts.Reachable >= 0 && counts.Recognizable >= 0, "refCount underflow %v %v", kref, counts)
	types.Assert(counts.Reachable <= counts.Recognizable, "refCount mismatch %v reachable %d > recognizable %d", kref, counts.Reachable, counts.Recognizable)
	s.kv.Set(refCountKey(kref), counts.String())
}

func parseRefCount(raw string) (RefCount, error) {
	reachable, recognizable, ok := strings.Cut(raw, ",")
	if !ok {
		return RefCount{}, fmt.Errorf("invalid refCount %q", raw)
	}
	var ret RefCount
	var err error
	if ret.Reachable, err = strconv.Atoi(reachable); err != nil {
		return RefCount{}, err
	}
	if ret.Recognizable, err = strconv.Atoi(recognizable); err != nil {
		return RefCount{}, err
	}
	return ret, nil
}
