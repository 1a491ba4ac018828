// Package runqueue is the kernel queue: it enqueues sends and notifies with
// their reference holds, resolves promises, completes kernel-side waiters and
// picks the next item for the router.
package runqueue

import (
	"fmt"
	"sync"

	"github.com/viant/ocap/model/capdata"
	"github.com/viant/ocap/model/ref"
	"github.com/viant/ocap/model/runqueue"
	"github.com/viant/ocap/model/types"
	"github.com/viant/ocap/service/store"
	"go.uber.org/zap"
)

// Service is not safe for concurrent use except for Wake and Signal; the
// kernel serialises every other call.
type Service struct {
	store   *store.Store
	logger  *zap.Logger
	waiters map[ref.KRef][]chan capdata.Resolution
	wake    chan struct{}
	mu      sync.Mutex
}

// New creates a queue service over store.
func New(store *store.Store, options ...Option) *Service {
	ret := &Service{
		store:   store,
		logger:  zap.NewNop(),
		waiters: make(map[ref.KRef][]chan capdata.Resolution),
		wake:    make(chan struct{}, 1),
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

// EnqueueSend queues message for target, taking a reference on the target,
// the result promise and every slot.
func (s *Service) EnqueueSend(target ref.KRef, message capdata.Message) {
	s.store.IncrementRefCount(target, "queue|target")
	if result := message.ResultRef(); result != "" {
		s.store.IncrementRefCount(ref.KRef(result), "queue|result")
	}
	for _, slot := range message.Methargs.Slots {
		s.store.IncrementRefCount(ref.KRef(slot), "queue|slot")
	}
	s.store.EnqueueRun(runqueue.Send(target, message))
	s.Signal()
}

// EnqueueNotify queues a resolution notice of kpid for vatID.
func (s *Service) EnqueueNotify(vatID ref.VatID, kpid ref.KRef) {
	s.store.IncrementRefCount(kpid, "notify")
	s.store.EnqueueRun(runqueue.Notify(vatID, kpid))
	s.Signal()
}

// ResolvePromises settles kernel promises. decider is the endpoint claiming to
// decide them; an empty decider is the kernel itself and bypasses the check.
// Every resolution is validated before any is applied.
func (s *Service) ResolvePromises(decider ref.VatID, resolutions []capdata.Resolution) error {
	seen := make(map[ref.KRef]bool, len(resolutions))
	for _, resolution := range resolutions {
		kpid := ref.KRef(resolution.Ref)
		if seen[kpid] {
			return fmt.Errorf("%w: kernel promise %v resolved twice", types.ErrProtocol, kpid)
		}
		seen[kpid] = true
		if !kpid.IsPromise() || !s.store.KernelPromiseExists(kpid) {
			return fmt.Errorf("%w: unknown kernel promise %v", types.ErrNotFound, resolution.Ref)
		}
		promise := s.store.GetKernelPromise(kpid)
		if promise.State != store.Unresolved {
			return fmt.Errorf("%w: kernel promise %v already resolved", types.ErrProtocol, kpid)
		}
		if decider != "" && promise.Decider != decider {
			return fmt.Errorf("%w: %v is not the decider of %v", types.ErrProtocol, decider, kpid)
		}
	}
	for _, resolution := range resolutions {
		kpid := ref.KRef(resolution.Ref)
		promise := s.store.GetKernelPromise(kpid)
		for _, slot := range resolution.Value.Slots {
			s.store.IncrementRefCount(ref.KRef(slot), "resolve|slot")
		}
		for _, subscriber := range promise.Subscribers {
			s.EnqueueNotify(subscriber, kpid)
		}
		s.store.ResolveKernelPromise(kpid, resolution.Rejected, resolution.Value)
		s.store.DecrementRefCount(kpid, "resolve|decider")
		s.logger.Debug("promise resolved", zap.String("kpid", string(kpid)), zap.Bool("rejected", resolution.Rejected))
		s.complete(kpid, resolution)
	}
	s.Signal()
	return nil
}

// Subscribe returns a channel receiving the resolution of kpid. An already
// settled promise is delivered immediately.
func (s *Service) Subscribe(kpid ref.KRef) <-chan capdata.Resolution {
	ch := make(chan capdata.Resolution, 1)
	promise := s.store.GetKernelPromise(kpid)
	if promise.State != store.Unresolved {
		ch <- capdata.Resolution{Ref: string(kpid), Rejected: promise.State == store.Rejected, Value: *promise.Value}
		return ch
	}
	s.mu.Lock()
	s.waiters[kpid] = append(s.waiters[kpid], ch)
	s.mu.Unlock()
	return ch
}

func (s *Service) complete(kpid ref.KRef, resolution capdata.Resolution) {
	s.mu.Lock()
	waiters := s.waiters[kpid]
	delete(s.waiters, kpid)
	s.mu.Unlock()
	for _, ch := range waiters {
		ch <- resolution
	}
}

// NextItem returns the next item to route: pending GC actions first, then
// scheduled reaps, then the run queue. It returns nil when all are empty.
func (s *Service) NextItem() *runqueue.Item {
	if item := s.store.NextGCAction(); item != nil {
		return item
	}
	if item := s.store.NextReapAction(); item != nil {
		return item
	}
	return s.store.DequeueRun()
}

// Signal wakes the run loop.
func (s *Service) Signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Wake is signalled whenever work may have been added.
func (s *Service) Wake() <-chan struct{} {
	return s.wake
}
