package store

import (
	"strings"

	"github.com/viant/ocap/model/ref"
	"go.uber.org/zap"
)

// CleanupWork counts what a terminated-vat sweep removed.
type CleanupWork struct {
	Exports  int `json:"exports"`
	Imports  int `json:"imports"`
	Promises int `json:"promises"`
	KV       int `json:"kv"`
}

// CleanupTerminatedVat removes every trace of vatID. Exported objects are
// orphaned first, then imports are torn down, then promise entries, and
// finally any remaining per-vat keys; later GC side effects depend on this order.
func (s *Store) CleanupTerminatedVat(vatID ref.VatID) CleanupWork {
	var work CleanupWork
	clistPrefix := slotKey(vatID, "")

	exportPrefix := clistPrefix + "o+"
	for key := range s.kv.Keys(exportPrefix) {
		kref := ref.KRef(s.kv.GetRequired(key))
		eref := ref.ERef(strings.TrimPrefix(key, clistPrefix))
		s.orphanExport(vatID, kref, eref)
		work.Exports++
	}

	importPrefix := clistPrefix + "o-"
	for key := range s.kv.Keys(importPrefix) {
		kref := ref.KRef(s.kv.GetRequired(key))
		eref := ref.ERef(strings.TrimPrefix(key, clistPrefix))
		s.DeleteCListEntry(vatID, kref, eref)
		work.Imports++
	}

	promisePrefix := clistPrefix + "p"
	for key := range s.kv.Keys(promisePrefix) {
		kref := ref.KRef(s.kv.GetRequired(key))
		eref := ref.ERef(strings.TrimPrefix(key, clistPrefix))
		s.DeleteCListEntry(vatID, kref, eref)
		if promise := s.GetKernelPromise(kref); promise.State == Unresolved && promise.Decider == vatID {
			s.SetPromiseDecider(kref, "")
			s.DecrementRefCount(kref, "cleanup|promise|decider")
		}
		work.Promises++
	}

	for key := range s.kv.Keys(string(vatID) + ".") {
		s.kv.Delete(key)
		work.KV++
	}
	s.kv.Delete(endpointObjectCounterKey(vatID))
	s.kv.Delete(endpointPromiseCounterKey(vatID))
	return work
}

// orphanExport deletes the owner record of an object exported by vatID. A
// vat root also releases the hold the kernel kept for the vat's lifetime.
func (s *Store) orphanExport(vatID ref.VatID, kref ref.KRef, eref ref.ERef) {
	s.kv.Delete(ownerKey(kref))
	s.kv.Delete(slotKey(vatID, string(kref)))
	s.kv.Delete(slotKey(vatID, string(eref)))
	if eref == ref.RootObject {
		s.DecrementRefCount(kref, "cleanup|export|root")
	}
	s.addMaybeFree(kref)
}

// AbandonExport orphans an object the live vat gives up on.
func (s *Store) AbandonExport(vatID ref.VatID, kref ref.KRef) {
	eref, ok := s.KRefToERef(vatID, kref)
	if !ok {
		return
	}
	s.orphanExport(vatID, kref, eref)
}

// NextTerminatedVatCleanup sweeps the oldest terminated vat and reports
// whether more remain.
func (s *Store) NextTerminatedVatCleanup() bool {
	terminated := s.GetTerminatedVats()
	if len(terminated) == 0 {
		return false
	}
	vatID := terminated[0]
	work := s.CleanupTerminatedVat(vatID)
	s.ForgetTerminatedVat(vatID)
	s.logger.Debug("terminated vat cleaned up", zap.String("vatId", string(vatID)),
		zap.Int("exports", work.Exports), zap.Int("imports", work.Imports),
		zap.Int("promises", work.Promises), zap.Int("kv", work.KV))
	return len(terminated) > 1
}
