package store

import (
	"encoding/json"
	"slices"
	"strconv"

	"github.com/viant/ocap/model/capdata"
	"github.com/viant/ocap/model/ref"
	"github.com/viant/ocap/model/runqueue"
	"github.com/viant/ocap/model/types"
)

// PromiseState is a kernel promise's resolution state.
type PromiseState string

const (
	Unresolved PromiseState = "unresolved"
	Fulfilled  PromiseState = "fulfilled"
	Rejected   PromiseState = "rejected"
)

// KernelPromise is a kernel promise as seen through the store.
type KernelPromise struct {
	State       PromiseState     `json:"state"`
	Decider     ref.EndpointID   `json:"decider,omitempty"`
	Subscribers []ref.EndpointID `json:"subscribers,omitempty"`
	Value       *capdata.CapData `json:"value,omitempty"`
}

func promiseStateKey(kpid ref.KRef) string       { return string(kpid) + ".state" }
func promiseDeciderKey(kpid ref.KRef) string     { return string(kpid) + ".decider" }
func promiseSubscribersKey(kpid ref.KRef) string { return string(kpid) + ".subscribers" }
func promiseValueKey(kpid ref.KRef) string       { return string(kpid) + ".value" }

// InitKernelPromise allocates an unresolved promise. The seed count is the
// decider's hold, released on resolution.
func (s *Store) InitKernelPromise() (ref.KRef, *KernelPromise) {
	kpid := s.getNextPromiseID()
	s.kv.Set(promiseStateKey(kpid), string(Unresolved))
	s.kv.Set(promiseSubscribersKey(kpid), "[]")
	s.kv.Set(refCountKey(kpid), "1")
	s.initQueue(string(kpid))
	return kpid, &KernelPromise{State: Unresolved}
}

// KernelPromiseExists reports whether kpid is known.
func (s *Store) KernelPromiseExists(kpid ref.KRef) bool {
	_, ok := s.kv.Get(promiseStateKey(kpid))
	return ok
}

// GetKernelPromise returns the promise record; unknown promises are fatal.
func (s *Store) GetKernelPromise(kpid ref.KRef) *KernelPromise {
	state, ok := s.kv.Get(promiseStateKey(kpid))
	types.Assert(ok, "unknown kernel promise %v", kpid)
	ret := &KernelPromise{State: PromiseState(state)}
	switch ret.State {
	case Unresolved:
		if decider, ok := s.kv.Get(promiseDeciderKey(kpid)); ok {
			ret.Decider = ref.EndpointID(decider)
		}
		s.getJSON(promiseSubscribersKey(kpid), &ret.Subscribers)
	case Fulfilled, Rejected:
		value := &capdata.CapData{}
		s.getJSON(promiseValueKey(kpid), value)
		ret.Value = value
	default:
		types.Fail("unknown state %q of kernel promise %v", state, kpid)
	}
	return ret
}

// DeleteKernelPromise removes every key of the promise, its message queue included.
func (s *Store) DeleteKernelPromise(kpid ref.KRef) {
	s.kv.Delete(promiseStateKey(kpid))
	s.kv.Delete(promiseDeciderKey(kpid))
	s.kv.Delete(promiseSubscribersKey(kpid))
	s.kv.Delete(promiseValueKey(kpid))
	s.kv.Delete(refCountKey(kpid))
	s.deleteQueue(string(kpid))
}

// GetPromiseRefCount returns the promise's single reference count.
func (s *Store) GetPromiseRefCount(kpid ref.KRef) int {
	raw, ok := s.kv.Get(refCountKey(kpid))
	if !ok {
		return 0
	}
	count, err := strconv.Atoi(raw)
	types.Assert(err == nil, "corrupted refCount of %v: %v", kpid, err)
	return count
}

// SetPromiseDecider records the endpoint responsible for resolving kpid.
func (s *Store) SetPromiseDecider(kpid ref.KRef, decider ref.EndpointID) {
	if decider == "" {
		s.kv.Delete(promiseDeciderKey(kpid))
		return
	}
	s.kv.Set(promiseDeciderKey(kpid), string(decider))
}

// AddPromiseSubscriber subscribes endpointID to an unresolved promise.
func (s *Store) AddPromiseSubscriber(endpointID ref.EndpointID, kpid ref.KRef) {
	promise := s.GetKernelPromise(kpid)
	types.Assert(promise.State == Unresolved, "attempt to subscribe to resolved promise %v", kpid)
	if slices.Contains(promise.Subscribers, endpointID) {
		return
	}
	subscribers := append(promise.Subscribers, endpointID)
	slices.Sort(subscribers)
	s.setJSON(promiseSubscribersKey(kpid), subscribers)
}

// EnqueuePromiseMessage queues message on an unresolved promise.
func (s *Store) EnqueuePromiseMessage(kpid ref.KRef, message capdata.Message) {
	data, err := json.Marshal(message)
	types.Assert(err == nil, "unable to encode message: %v", err)
	s.enqueue(string(kpid), string(data))
}

// GetPromiseMessages returns the messages queued on kpid without consuming them.
func (s *Store) GetPromiseMessages(kpid ref.KRef) []capdata.Message {
	name := string(kpid)
	head := s.queueCounter(name, queueHeadKey(name))
	tail := s.queueCounter(name, queueTailKey(name))
	var ret []capdata.Message
	for i := tail; i < head; i++ {
		var message capdata.Message
		s.getJSON(queueItemKey(name, i), &message)
		ret = append(ret, message)
	}
	return ret
}

// ResolveKernelPromise settles kpid: queued messages move to the run queue as
// sends to kpid, and decider and subscribers are cleared.
func (s *Store) ResolveKernelPromise(kpid ref.KRef, rejected bool, value capdata.CapData) {
	promise := s.GetKernelPromise(kpid)
	types.Assert(promise.State == Unresolved, "kernel promise %v already resolved", kpid)
	for {
		raw, ok := s.dequeue(string(kpid))
		if !ok {
			break
		}
		var message capdata.Message
		err := json.Unmarshal([]byte(raw), &message)
		types.Assert(err == nil, "corrupted promise message %q: %v", raw, err)
		s.EnqueueRun(runqueue.Send(kpid, message))
	}
	state := Fulfilled
	if rejected {
		state = Rejected
	}
	s.kv.Set(promiseStateKey(kpid), string(state))
	if value.Slots == nil {
		value.Slots = []string{}
	}
	s.setJSON(promiseValueKey(kpid), value)
	s.kv.Delete(promiseDeciderKey(kpid))
	s.kv.Delete(promiseSubscribersKey(kpid))
	s.deleteQueue(string(kpid))
}

// GetKpidsToRetire returns kpid followed by every resolved promise reachable
// through the slots of value, each listed once.
func (s *Store) GetKpidsToRetire(kpid ref.KRef, value capdata.CapData) []ref.KRef {
	seen := map[ref.KRef]bool{kpid: true}
	ret := []ref.KRef{kpid}
	var scan func(data capdata.CapData)
	scan = func(data capdata.CapData) {
		for _, slot := range data.Slots {
			kref := ref.KRef(slot)
			if !kref.IsPromise() || seen[kref] {
				continue
			}
			seen[kref] = true
			if !s.KernelPromiseExists(kref) {
				continue
			}
			promise := s.GetKernelPromise(kref)
			if promise.State == Unresolved {
				continue
			}
			ret = append(ret, kref)
			scan(*promise.Value)
		}
	}
	scan(value)
	return ret
}

// GetPromisesDecidedBy lists unresolved promises in vatID's c-list that vatID
// is responsible for resolving.
func (s *Store) GetPromisesDecidedBy(vatID ref.VatID) []ref.KRef {
	prefix := slotKey(vatID, "p")
	var ret []ref.KRef
	for key := range s.kv.Keys(prefix) {
		kpid := ref.KRef(s.kv.GetRequired(key))
		promise := s.GetKernelPromise(kpid)
		if promise.State == Unresolved && promise.Decider == vatID {
			ret = append(ret, kpid)
		}
	}
	return ret
}
