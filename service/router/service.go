// Package router dispatches run queue items to the vats they concern.
package router

import (
	"context"
	"fmt"

	"github.com/viant/ocap/model/capdata"
	"github.com/viant/ocap/model/ref"
	"github.com/viant/ocap/model/runqueue"
	"github.com/viant/ocap/model/types"
	"github.com/viant/ocap/service/store"
	"github.com/viant/ocap/tracing"
	"go.uber.org/zap"
)

// Vat receives deliveries in its own reference space.
type Vat interface {
	DeliverMessage(ctx context.Context, target ref.ERef, message capdata.Message) error
	DeliverNotify(ctx context.Context, resolutions []capdata.Resolution) error
	DeliverDropExports(ctx context.Context, refs []ref.ERef) error
	DeliverRetireExports(ctx context.Context, refs []ref.ERef) error
	DeliverRetireImports(ctx context.Context, refs []ref.ERef) error
	DeliverBringOutYourDead(ctx context.Context) error
}

// Resolver settles kernel promises.
type Resolver interface {
	ResolvePromises(decider ref.VatID, resolutions []capdata.Resolution) error
}

// Lookup returns the running vat for vatID.
type Lookup func(vatID ref.VatID) (Vat, bool)

// DeliveryError reports a vat that failed to take a delivery.
type DeliveryError struct {
	VatID ref.VatID
	Err   error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery to vat %v failed: %v", e.VatID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Service routes run queue items.
type Service struct {
	store    *store.Store
	resolver Resolver
	lookup   Lookup
	logger   *zap.Logger
}

// New creates a router.
func New(kernelStore *store.Store, resolver Resolver, lookup Lookup, options ...Option) *Service {
	ret := &Service{store: kernelStore, resolver: resolver, lookup: lookup, logger: zap.NewNop()}
	for _, option := range options {
		option(ret)
	}
	return ret
}

// Deliver routes one item. Invariant violations panic; a vat failing to take
// its delivery is reported as a *DeliveryError.
func (s *Service) Deliver(ctx context.Context, item *runqueue.Item) (err error) {
	ctx, span := tracing.StartSpan(ctx, "route."+string(item.Type), tracing.KindInternal)
	defer func() { tracing.EndSpan(span, err) }()
	s.logger.Debug("deliver", zap.String("type", string(item.Type)), zap.String("vatId", string(item.VatID)), zap.String("target", string(item.Target)))
	switch item.Type {
	case runqueue.TypeSend:
		types.Assert(item.Message != nil, "send item without message")
		return s.send(ctx, item.Target, *item.Message)
	case runqueue.TypeNotify:
		return s.notify(ctx, item.VatID, item.KPID)
	case runqueue.TypeDropExports:
		return s.dropExports(ctx, item.VatID, item.KRefs)
	case runqueue.TypeRetireExports:
		return s.retireExports(ctx, item.VatID, item.KRefs)
	case runqueue.TypeRetireImports:
		return s.retireImports(ctx, item.VatID, item.KRefs)
	case runqueue.TypeBringOutYourDead:
		vat, ok := s.vat(item.VatID)
		if !ok {
			return nil
		}
		return s.delivered(item.VatID, vat.DeliverBringOutYourDead(ctx))
	}
	types.Fail("unknown run queue item type %q", item.Type)
	return nil
}

func (s *Service) vat(vatID ref.VatID) (Vat, bool) {
	if s.store.IsVatTerminated(vatID) {
		return nil, false
	}
	return s.lookup(vatID)
}

func (s *Service) delivered(vatID ref.VatID, err error) error {
	if err == nil {
		return nil
	}
	return &DeliveryError{VatID: vatID, Err: err}
}

func (s *Service) send(ctx context.Context, target ref.KRef, message capdata.Message) error {
	for target.IsPromise() {
		promise := s.store.GetKernelPromise(target)
		switch promise.State {
		case store.Unresolved:
			s.store.EnqueuePromiseMessage(target, message)
			return nil
		case store.Rejected:
			return s.splat(target, message, *promise.Value)
		}
		slot, ok := capdata.SingleReference(*promise.Value)
		if !ok {
			return s.splat(target, message, capdata.Error("cannot send to non-object"))
		}
		next := ref.KRef(slot)
		s.store.IncrementRefCount(next, "forward|target")
		s.store.DecrementRefCount(target, "forward|target")
		target = next
	}
	owner, ok := s.store.GetOwner(target)
	if !ok {
		return s.splat(target, message, capdata.Error("no vat"))
	}
	vat, ok := s.vat(owner)
	if !ok {
		if _, recorded := s.store.GetVatConfig(owner); recorded && !s.store.IsVatTerminated(owner) {
			s.logger.Info("vat not running, send parked", zap.String("vatId", string(owner)), zap.String("target", string(target)))
			s.store.ParkSend(owner, target, message)
			return nil
		}
		return s.splat(target, message, capdata.Error("no vat"))
	}
	if result := ref.KRef(message.ResultRef()); result != "" {
		if promise := s.store.GetKernelPromise(result); promise.State == store.Unresolved {
			if promise.Decider == "" {
				s.store.SetPromiseDecider(result, owner)
			} else if promise.Decider != owner {
				s.logger.Warn("result promise keeps its decider", zap.String("kpid", string(result)), zap.String("decider", string(promise.Decider)))
			}
		}
	}
	vtarget := s.store.TranslateRefKtoV(owner, target, false)
	vmessage := s.store.TranslateMessageKtoV(owner, message)
	err := vat.DeliverMessage(ctx, vtarget, vmessage)
	s.release(target, message, "deliver|send")
	return s.delivered(owner, err)
}

// splat drops a message nobody can receive, rejecting its result.
func (s *Service) splat(target ref.KRef, message capdata.Message, rejection capdata.CapData) error {
	s.logger.Debug("splat", zap.String("target", string(target)))
	if result := ref.KRef(message.ResultRef()); result != "" && s.store.GetKernelPromise(result).State == store.Unresolved {
		err := s.resolver.ResolvePromises("", []capdata.Resolution{{Ref: string(result), Rejected: true, Value: rejection.Clone()}})
		types.Assert(err == nil, "failed to reject %v: %v", result, err)
	}
	s.release(target, message, "deliver|splat")
	return nil
}

func (s *Service) release(target ref.KRef, message capdata.Message, tag string) {
	for _, slot := range message.Methargs.Slots {
		s.store.DecrementRefCount(ref.KRef(slot), tag+"|slot")
	}
	s.store.DecrementRefCount(target, tag+"|target")
	if result := message.ResultRef(); result != "" {
		s.store.DecrementRefCount(ref.KRef(result), tag+"|result")
	}
}

func (s *Service) notify(ctx context.Context, vatID ref.VatID, kpid ref.KRef) error {
	defer s.store.DecrementRefCount(kpid, "deliver|notify")
	vat, ok := s.vat(vatID)
	if !ok {
		return nil
	}
	if _, ok := s.store.KRefToERef(vatID, kpid); !ok {
		return nil
	}
	promise := s.store.GetKernelPromise(kpid)
	types.Assert(promise.State != store.Unresolved, "notify of unresolved promise %v", kpid)

	var resolutions []capdata.Resolution
	var retired []ref.KRef
	var vpids []ref.ERef
	for _, candidate := range s.store.GetKpidsToRetire(kpid, *promise.Value) {
		vpid, ok := s.store.KRefToERef(vatID, candidate)
		if !ok {
			continue
		}
		settled := s.store.GetKernelPromise(candidate)
		resolutions = append(resolutions, capdata.Resolution{
			Ref:      string(vpid),
			Rejected: settled.State == store.Rejected,
			Value:    s.store.TranslateCapDataKtoV(vatID, *settled.Value),
		})
		retired = append(retired, candidate)
		vpids = append(vpids, vpid)
	}
	err := vat.DeliverNotify(ctx, resolutions)
	for i, candidate := range retired {
		if s.store.HasCListEntry(vatID, string(candidate)) {
			s.store.DeleteCListEntry(vatID, candidate, vpids[i])
		}
	}
	return s.delivered(vatID, err)
}

func (s *Service) translate(vatID ref.VatID, krefs []ref.KRef) []ref.ERef {
	ret := make([]ref.ERef, len(krefs))
	for i, kref := range krefs {
		ret[i] = s.store.TranslateRefKtoV(vatID, kref, false)
	}
	return ret
}

func (s *Service) dropExports(ctx context.Context, vatID ref.VatID, krefs []ref.KRef) error {
	vat, ok := s.vat(vatID)
	if !ok {
		return nil
	}
	erefs := s.translate(vatID, krefs)
	for _, kref := range krefs {
		s.store.ClearReachableFlag(vatID, kref)
	}
	return s.delivered(vatID, vat.DeliverDropExports(ctx, erefs))
}

func (s *Service) retireExports(ctx context.Context, vatID ref.VatID, krefs []ref.KRef) error {
	vat, ok := s.vat(vatID)
	if !ok {
		return nil
	}
	erefs := s.translate(vatID, krefs)
	for _, kref := range krefs {
		s.store.ForgetKRef(vatID, kref)
		s.store.DeleteKernelObject(kref)
	}
	return s.delivered(vatID, vat.DeliverRetireExports(ctx, erefs))
}

func (s *Service) retireImports(ctx context.Context, vatID ref.VatID, krefs []ref.KRef) error {
	vat, ok := s.vat(vatID)
	if !ok {
		return nil
	}
	erefs := s.translate(vatID, krefs)
	for _, kref := range krefs {
		s.store.ForgetKRef(vatID, kref)
	}
	return s.delivered(vatID, vat.DeliverRetireImports(ctx, erefs))
}
