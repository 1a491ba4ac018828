package store

import (
	"slices"
	"strconv"

	"github.com/viant/ocap/model/ref"
	"github.com/viant/ocap/model/types"
	"go.uber.org/zap"
)

// RefCountOptions qualify a reference count change.
type RefCountOptions struct {
	// IsExport marks the exporter's own c-list entry; object counts are left alone.
	IsExport bool
	// OnlyRecognizable changes the recognizable count of an object but not its reachable count.
	OnlyRecognizable bool
}

func firstOption(options []RefCountOptions) RefCountOptions {
	if len(options) == 0 {
		return RefCountOptions{}
	}
	return options[0]
}

// IncrementRefCount adds a reference to kref. tag names the holder in traces.
func (s *Store) IncrementRefCount(kref ref.KRef, tag string, options ...RefCountOptions) {
	types.Assert(kref != "", "incrementRefCount called with empty kref")
	opts := firstOption(options)
	if kref.IsPromise() {
		raw, ok := s.kv.Get(refCountKey(kref))
		types.Assert(ok, "refCount of unknown kernel promise %v", kref)
		count, err := strconv.Atoi(raw)
		types.Assert(err == nil, "corrupted refCount of %v", kref)
		s.kv.Set(refCountKey(kref), strconv.Itoa(count+1))
		s.logger.Debug("refCount", zap.String("kref", string(kref)), zap.String("tag", tag), zap.Int("count", count+1))
		return
	}
	if opts.IsExport {
		return
	}
	types.Assert(s.KernelObjectExists(kref), "refCount of unknown kernel object %v", kref)
	counts := s.GetObjectRefCount(kref)
	if !opts.OnlyRecognizable {
		counts.Reachable++
	}
	counts.Recognizable++
	s.SetObjectRefCount(kref, counts)
	s.logger.Debug("refCount", zap.String("kref", string(kref)), zap.String("tag", tag), zap.Stringer("count", counts))
}

// DecrementRefCount releases a reference to kref and reports whether a count
// reached zero, in which case kref is queued for the next sweep.
func (s *Store) DecrementRefCount(kref ref.KRef, tag string, options ...RefCountOptions) bool {
	types.Assert(kref != "", "decrementRefCount called with empty kref")
	opts := firstOption(options)
	if kref.IsPromise() {
		raw, ok := s.kv.Get(refCountKey(kref))
		types.Assert(ok, "refCount underflow %v %v", kref, tag)
		count, err := strconv.Atoi(raw)
		types.Assert(err == nil, "corrupted refCount of %v", kref)
		types.Assert(count > 0, "refCount underflow %v %v", kref, tag)
		count--
		s.kv.Set(refCountKey(kref), strconv.Itoa(count))
		s.logger.Debug("refCount", zap.String("kref", string(kref)), zap.String("tag", tag), zap.Int("count", count))
		if count == 0 {
			s.addMaybeFree(kref)
			return true
		}
		return false
	}
	if opts.IsExport {
		return false
	}
	types.Assert(s.KernelObjectExists(kref), "refCount underflow %v %v", kref, tag)
	counts := s.GetObjectRefCount(kref)
	if !opts.OnlyRecognizable {
		counts.Reachable--
	}
	counts.Recognizable--
	types.Assert(counts.Reachable >= 0 && counts.Recognizable >= 0, "refCount underflow %v %v", kref, tag)
	s.SetObjectRefCount(kref, counts)
	s.logger.Debug("refCount", zap.String("kref", string(kref)), zap.String("tag", tag), zap.Stringer("count", counts))
	if counts.Reachable == 0 || counts.Recognizable == 0 {
		s.addMaybeFree(kref)
		return true
	}
	return false
}

func (s *Store) addMaybeFree(kref ref.KRef) {
	s.maybeFree[kref] = struct{}{}
}

// MaybeFreeKRefs returns the krefs queued for the next sweep, sorted.
func (s *Store) MaybeFreeKRefs() []ref.KRef {
	ret := make([]ref.KRef, 0, len(s.maybeFree))
	for kref := range s.maybeFree {
		ret = append(ret, kref)
	}
	slices.Sort(ret)
	return ret
}
