package vat

import (
	"context"
	"fmt"

	"github.com/viant/ocap/model/capdata"
	"github.com/viant/ocap/model/ref"
	"github.com/viant/ocap/model/runqueue"
	"github.com/viant/ocap/model/syscall"
	"github.com/viant/ocap/model/types"
	"github.com/viant/ocap/service/store"
	"github.com/viant/ocap/tracing"
	"go.uber.org/zap"
)

// Queue is the part of the kernel queue syscalls feed.
type Queue interface {
	EnqueueSend(target ref.KRef, message capdata.Message)
	EnqueueNotify(vatID ref.VatID, kpid ref.KRef)
	ResolvePromises(decider ref.VatID, resolutions []capdata.Resolution) error
}

// ExitHandler is told when a vat asks to terminate itself.
type ExitHandler func(vatID ref.VatID, failure bool, info capdata.CapData)

// Syscall applies a vat's syscalls to the kernel store, translating its
// vat-local refs to kernel refs.
type Syscall struct {
	vatID  ref.VatID
	store  *store.Store
	queue  Queue
	onExit ExitHandler
	logger *zap.Logger
}

// NewSyscall creates the syscall translator of vatID.
func NewSyscall(vatID ref.VatID, kernelStore *store.Store, queue Queue, onExit ExitHandler, logger *zap.Logger) *Syscall {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Syscall{vatID: vatID, store: kernelStore, queue: queue, onExit: onExit, logger: logger}
}

// Handle applies sc. An error means the vat issued an illegal syscall.
func (s *Syscall) Handle(ctx context.Context, sc *syscall.Syscall) (err error) {
	defer s.store.ReleaseExportSeeds()
	_, span := tracing.StartSpan(ctx, "syscall."+string(sc.Type), tracing.KindServer)
	defer func() { tracing.EndSpan(span, err) }()
	span.WithAttributes(map[string]string{"vat.id": string(s.vatID)})

	switch sc.Type {
	case syscall.TypeSend:
		return s.send(sc.Target, sc.Message)
	case syscall.TypeSubscribe:
		return s.subscribe(sc.Ref)
	case syscall.TypeResolve:
		return s.resolve(sc.Resolutions)
	case syscall.TypeExit:
		return s.exit(sc.Failure, sc.Info)
	case syscall.TypeDropImports:
		return s.dropImports(sc.Refs)
	case syscall.TypeRetireImports:
		return s.retireImports(sc.Refs)
	case syscall.TypeRetireExports:
		return s.retireExports(sc.Refs)
	case syscall.TypeAbandonExports:
		return s.abandonExports(sc.Refs)
	}
	return fmt.Errorf("%w: unknown syscall type %q", types.ErrProtocol, sc.Type)
}

func (s *Syscall) send(target ref.ERef, message capdata.Message) error {
	kref, err := s.store.TranslateRefVtoK(s.vatID, target)
	if err != nil {
		return err
	}
	kmessage, err := s.store.TranslateMessageVtoK(s.vatID, message)
	if err != nil {
		return err
	}
	s.logger.Debug("syscall send", zap.String("vatId", string(s.vatID)), zap.String("target", string(kref)))
	s.queue.EnqueueSend(kref, kmessage)
	return nil
}

func (s *Syscall) subscribe(vpid ref.ERef) error {
	if !vpid.IsPromise() {
		return fmt.Errorf("%w: cannot subscribe to non-promise %v", types.ErrProtocol, vpid)
	}
	kpid, err := s.store.TranslateRefVtoK(s.vatID, vpid)
	if err != nil {
		return err
	}
	if s.store.GetKernelPromise(kpid).State == store.Unresolved {
		s.store.AddPromiseSubscriber(s.vatID, kpid)
		return nil
	}
	s.queue.EnqueueNotify(s.vatID, kpid)
	return nil
}

func (s *Syscall) resolve(resolutions []capdata.Resolution) error {
	kresolutions := make([]capdata.Resolution, len(resolutions))
	vpids := make([]ref.ERef, len(resolutions))
	for i, resolution := range resolutions {
		vpid := ref.ERef(resolution.Ref)
		if !vpid.IsPromise() {
			return fmt.Errorf("%w: cannot resolve non-promise %v", types.ErrProtocol, vpid)
		}
		kpid, err := s.store.TranslateRefVtoK(s.vatID, vpid)
		if err != nil {
			return err
		}
		value, err := s.store.TranslateCapDataVtoK(s.vatID, resolution.Value)
		if err != nil {
			return err
		}
		vpids[i] = vpid
		kresolutions[i] = capdata.Resolution{Ref: string(kpid), Rejected: resolution.Rejected, Value: value}
	}
	if err := s.queue.ResolvePromises(s.vatID, kresolutions); err != nil {
		return err
	}
	for i, resolution := range kresolutions {
		kpid := ref.KRef(resolution.Ref)
		if s.store.HasCListEntry(s.vatID, string(kpid)) {
			s.store.DeleteCListEntry(s.vatID, kpid, vpids[i])
		}
	}
	return nil
}

func (s *Syscall) exit(failure bool, info capdata.CapData) error {
	s.logger.Info("vat requested exit", zap.String("vatId", string(s.vatID)), zap.Bool("failure", failure))
	if s.onExit != nil {
		s.onExit(s.vatID, failure, info)
	}
	return nil
}

// importedObjects maps refs that must all be object imports known to the vat.
func (s *Syscall) importedObjects(refs []ref.ERef, direction ref.Direction) ([]ref.KRef, error) {
	ret := make([]ref.KRef, len(refs))
	for i, eref := range refs {
		parsed, err := eref.Parse()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrProtocol, err)
		}
		if parsed.IsPromise || parsed.Direction != direction {
			return nil, fmt.Errorf("%w: %v is not an object %v", types.ErrProtocol, eref, direction)
		}
		kref, ok := s.store.ERefToKRef(s.vatID, eref)
		if !ok {
			return nil, fmt.Errorf("%w: unknown %v %v", types.ErrNotFound, direction, eref)
		}
		ret[i] = kref
	}
	return ret, nil
}

func (s *Syscall) dropImports(refs []ref.ERef) error {
	krefs, err := s.importedObjects(refs, ref.Import)
	if err != nil {
		return err
	}
	for _, kref := range krefs {
		if !s.store.KernelObjectExists(kref) {
			continue
		}
		s.store.ClearReachableFlag(s.vatID, kref)
	}
	return nil
}

func (s *Syscall) retireImports(refs []ref.ERef) error {
	krefs, err := s.importedObjects(refs, ref.Import)
	if err != nil {
		return err
	}
	for i, kref := range krefs {
		if s.store.KernelObjectExists(kref) && s.store.GetReachableFlag(s.vatID, kref) {
			return fmt.Errorf("%w: retireImports of reachable %v", types.ErrProtocol, refs[i])
		}
	}
	for i, kref := range krefs {
		if !s.store.KernelObjectExists(kref) {
			// the exporter retired it first
			s.store.ForgetKRef(s.vatID, kref)
			continue
		}
		s.store.DeleteCListEntry(s.vatID, kref, refs[i])
	}
	return nil
}

func (s *Syscall) retireExports(refs []ref.ERef) error {
	krefs, err := s.importedObjects(refs, ref.Export)
	if err != nil {
		return err
	}
	for i, kref := range krefs {
		if !s.store.KernelObjectExists(kref) {
			continue
		}
		if s.store.GetObjectRefCount(kref).Reachable > 0 || s.store.GetReachableFlag(s.vatID, kref) {
			return fmt.Errorf("%w: retireExports of reachable %v", types.ErrProtocol, refs[i])
		}
	}
	var actions []runqueue.Action
	for i, kref := range krefs {
		if !s.store.KernelObjectExists(kref) {
			s.store.ForgetERef(s.vatID, refs[i])
			continue
		}
		for _, importer := range s.store.GetVatIDs() {
			if importer != s.vatID && s.store.HasCListEntry(importer, string(kref)) {
				actions = append(actions, runqueue.Action{VatID: importer, Type: runqueue.RetireImport, KRef: kref})
			}
		}
		s.store.ForgetERef(s.vatID, refs[i])
		s.store.DeleteKernelObject(kref)
	}
	s.store.AddGCActions(actions...)
	return nil
}

func (s *Syscall) abandonExports(refs []ref.ERef) error {
	krefs, err := s.importedObjects(refs, ref.Export)
	if err != nil {
		return err
	}
	for _, kref := range krefs {
		s.store.AbandonExport(s.vatID, kref)
	}
	return nil
}
