package store

import (
	"fmt"

	"github.com/viant/ocap/model/capdata"
	"github.com/viant/ocap/model/ref"
	"github.com/viant/ocap/model/types"
)

// TranslateRefKtoV maps kref into vatID's space. When importIfNeeded is set an
// unknown kref is imported, taking one reference; a previously dropped import
// becomes reachable again.
func (s *Store) TranslateRefKtoV(vatID ref.VatID, kref ref.KRef, importIfNeeded bool) ref.ERef {
	eref, ok := s.KRefToERef(vatID, kref)
	if !ok {
		types.Assert(importIfNeeded, "unmapped kref %v for endpoint %v", kref, vatID)
		s.IncrementRefCount(kref, "translate|import")
		return s.AllocateERefForKRef(vatID, kref)
	}
	if importIfNeeded {
		s.setReachableFlag(vatID, kref)
	}
	return eref
}

// TranslateCapDataKtoV maps every slot of data into vatID's space.
func (s *Store) TranslateCapDataKtoV(vatID ref.VatID, data capdata.CapData) capdata.CapData {
	ret := capdata.CapData{Body: data.Body, Slots: make([]string, len(data.Slots))}
	for i, slot := range data.Slots {
		ret.Slots[i] = string(s.TranslateRefKtoV(vatID, ref.KRef(slot), true))
	}
	return ret
}

// TranslateMessageKtoV maps the message's slots and result promise into vatID's space.
func (s *Store) TranslateMessageKtoV(vatID ref.VatID, message capdata.Message) capdata.Message {
	ret := capdata.Message{Methargs: s.TranslateCapDataKtoV(vatID, message.Methargs)}
	if result := message.ResultRef(); result != "" {
		eref := string(s.TranslateRefKtoV(vatID, ref.KRef(result), true))
		ret.Result = &eref
	}
	return ret
}

// ExportFromVat allocates a kernel object or promise for an eref the vat
// exports and records the c-list entry.
func (s *Store) ExportFromVat(vatID ref.VatID, eref ref.ERef) ref.KRef {
	parsed, err := eref.Parse()
	types.Assert(err == nil, "%v", err)
	types.Assert(parsed.Direction == ref.Export, "%v is not an export", eref)
	var kref ref.KRef
	if parsed.IsPromise {
		kref, _ = s.InitKernelPromise()
		s.SetPromiseDecider(kref, vatID)
	} else {
		kref = s.InitKernelObject(vatID)
	}
	s.AddCListEntry(vatID, kref, eref)
	s.IncrementRefCount(kref, "export", RefCountOptions{IsExport: true})
	return kref
}

// TranslateRefVtoK maps a vat-issued eref to a kernel ref, exporting new
// exports on first sight. Unknown imports are an error of the vat. The
// creation hold of a newly exported object lasts until ReleaseExportSeeds.
func (s *Store) TranslateRefVtoK(vatID ref.VatID, eref ref.ERef) (ref.KRef, error) {
	parsed, err := eref.Parse()
	if err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrProtocol, err)
	}
	if parsed.Remote {
		return "", fmt.Errorf("%w: vat %v used remote ref %v", types.ErrProtocol, vatID, eref)
	}
	kref, ok := s.ERefToKRef(vatID, eref)
	if !ok {
		if parsed.Direction == ref.Import {
			return "", fmt.Errorf("%w: vat %v used unknown import %v", types.ErrNotFound, vatID, eref)
		}
		kref := s.ExportFromVat(vatID, eref)
		if kref.IsObject() {
			s.exportSeeds = append(s.exportSeeds, kref)
		}
		return kref, nil
	}
	if parsed.Direction == ref.Export {
		s.setReachableFlag(vatID, kref)
	}
	return kref, nil
}

// TranslateCapDataVtoK maps every slot of data to kernel refs.
func (s *Store) TranslateCapDataVtoK(vatID ref.VatID, data capdata.CapData) (capdata.CapData, error) {
	ret := capdata.CapData{Body: data.Body, Slots: make([]string, len(data.Slots))}
	for i, slot := range data.Slots {
		kref, err := s.TranslateRefVtoK(vatID, ref.ERef(slot))
		if err != nil {
			return capdata.CapData{}, err
		}
		ret.Slots[i] = string(kref)
	}
	return ret, nil
}

// TranslateMessageVtoK maps a vat-issued message to kernel refs.
func (s *Store) TranslateMessageVtoK(vatID ref.VatID, message capdata.Message) (capdata.Message, error) {
	methargs, err := s.TranslateCapDataVtoK(vatID, message.Methargs)
	if err != nil {
		return capdata.Message{}, err
	}
	ret := capdata.Message{Methargs: methargs}
	if result := message.ResultRef(); result != "" {
		kref, err := s.TranslateRefVtoK(vatID, ref.ERef(result))
		if err != nil {
			return capdata.Message{}, err
		}
		if !kref.IsPromise() {
			return capdata.Message{}, fmt.Errorf("%w: vat %v used object %v as result", types.ErrProtocol, vatID, result)
		}
		promise := s.GetKernelPromise(kref)
		if promise.State != Unresolved || promise.Decider != vatID {
			return capdata.Message{}, fmt.Errorf("%w: vat %v does not decide result %v", types.ErrProtocol, vatID, result)
		}
		// decision passes to whoever the message is routed to
		s.SetPromiseDecider(kref, "")
		resultRef := string(kref)
		ret.Result = &resultRef
	}
	return ret, nil
}

// ReleaseExportSeeds drops the creation hold of objects exported since the
// last call. Holders taken meanwhile (c-lists, queued messages, resolutions,
// pins) keep the object alive; otherwise it becomes a GC candidate.
func (s *Store) ReleaseExportSeeds() {
	seeds := s.exportSeeds
	s.exportSeeds = nil
	for _, kref := range seeds {
		if s.KernelObjectExists(kref) {
			s.DecrementRefCount(kref, "export|seed")
		}
	}
}
