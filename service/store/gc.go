package store

import (
	"slices"

	"github.com/viant/ocap/model/capdata"
	"github.com/viant/ocap/model/ref"
	"github.com/viant/ocap/model/runqueue"
	"github.com/viant/ocap/model/types"
)

// GetGCActions returns the pending GC action set.
func (s *Store) GetGCActions() runqueue.ActionSet {
	var encoded []string
	s.getJSON(keyGCActions, &encoded)
	ret := runqueue.ActionSet{}
	for _, item := range encoded {
		ret[item] = struct{}{}
	}
	return ret
}

// SetGCActions persists actions as a sorted array.
func (s *Store) SetGCActions(actions runqueue.ActionSet) {
	s.setJSON(keyGCActions, actions.Sorted())
}

// AddGCActions merges actions into the pending set.
func (s *Store) AddGCActions(actions ...runqueue.Action) {
	set := s.GetGCActions()
	set.Add(actions...)
	s.SetGCActions(set)
}

// ScheduleReap queues a bringOutYourDead delivery for vatID.
func (s *Store) ScheduleReap(vatID ref.VatID) {
	var queue []ref.VatID
	s.getJSON(keyReapQueue, &queue)
	if slices.Contains(queue, vatID) {
		return
	}
	s.setJSON(keyReapQueue, append(queue, vatID))
}

// NextReapAction pops the next scheduled reap, or nil.
func (s *Store) NextReapAction() *runqueue.Item {
	var queue []ref.VatID
	s.getJSON(keyReapQueue, &queue)
	if len(queue) == 0 {
		return nil
	}
	s.setJSON(keyReapQueue, queue[1:])
	return runqueue.BringOutYourDead(queue[0])
}

// NextGCAction turns the highest-priority group of pending actions into a run
// queue item. Groups are formed per vat then per action type; every action of
// the visited groups is consumed, but only those still applicable are delivered.
func (s *Store) NextGCAction() *runqueue.Item {
	actions := s.GetGCActions()
	if len(actions) == 0 {
		return nil
	}
	grouped := map[ref.VatID]map[runqueue.ActionType][]ref.KRef{}
	var vatIDs []ref.VatID
	for _, encoded := range actions.Sorted() {
		action, err := runqueue.ParseAction(encoded)
		types.Assert(err == nil, "%v", err)
		byType, ok := grouped[action.VatID]
		if !ok {
			byType = map[runqueue.ActionType][]ref.KRef{}
			grouped[action.VatID] = byType
			vatIDs = append(vatIDs, action.VatID)
		}
		byType[action.Type] = append(byType[action.Type], action.KRef)
	}
	defer s.SetGCActions(actions)
	for _, vatID := range vatIDs {
		for _, actionType := range runqueue.ActionTypePriority {
			krefs := grouped[vatID][actionType]
			var ready []ref.KRef
			for _, kref := range krefs {
				delete(actions, runqueue.Action{VatID: vatID, Type: actionType, KRef: kref}.String())
				if s.gcActionApplies(vatID, actionType, kref) {
					ready = append(ready, kref)
				}
			}
			if len(ready) > 0 {
				return runqueue.GCItem(actionType, vatID, ready)
			}
		}
	}
	return nil
}

func (s *Store) gcActionApplies(vatID ref.VatID, actionType runqueue.ActionType, kref ref.KRef) bool {
	if !s.HasCListEntry(vatID, string(kref)) {
		return false
	}
	switch actionType {
	case runqueue.DropExport:
		owner, ok := s.GetOwner(kref)
		return ok && owner == vatID && s.GetObjectRefCount(kref).Reachable == 0 && s.GetReachableFlag(vatID, kref)
	case runqueue.RetireExport:
		return s.KernelObjectExists(kref) && s.GetObjectRefCount(kref).Recognizable == 0
	case runqueue.RetireImport:
		return true
	}
	return false
}

// CollectGarbage sweeps the maybe-free set until it is empty: unreferenced
// promises are deleted, exporters of unreachable objects get drop/retire
// actions and unreferenced orphans are deleted.
func (s *Store) CollectGarbage() {
	for len(s.maybeFree) > 0 {
		krefs := s.MaybeFreeKRefs()
		s.maybeFree = make(map[ref.KRef]struct{})
		actions := s.GetGCActions()
		for _, kref := range krefs {
			if kref.IsPromise() {
				s.collectPromise(kref)
				continue
			}
			s.collectObject(kref, actions)
		}
		s.SetGCActions(actions)
	}
}

func (s *Store) collectPromise(kpid ref.KRef) {
	if !s.KernelPromiseExists(kpid) || s.GetPromiseRefCount(kpid) > 0 {
		return
	}
	promise := s.GetKernelPromise(kpid)
	if promise.State == Unresolved {
		for _, message := range s.GetPromiseMessages(kpid) {
			s.releaseMessage(message, "gc|promise|queue")
		}
	} else {
		for _, slot := range promise.Value.Slots {
			s.DecrementRefCount(ref.KRef(slot), "gc|promise|slot")
		}
	}
	s.DeleteKernelPromise(kpid)
}

func (s *Store) releaseMessage(message capdata.Message, tag string) {
	for _, slot := range message.Methargs.Slots {
		s.DecrementRefCount(ref.KRef(slot), tag+"|slot")
	}
	if result := message.ResultRef(); result != "" {
		s.DecrementRefCount(ref.KRef(result), tag+"|result")
	}
}

func (s *Store) collectObject(kref ref.KRef, actions runqueue.ActionSet) {
	if !s.KernelObjectExists(kref) {
		return
	}
	counts := s.GetObjectRefCount(kref)
	owner, hasOwner := s.GetOwner(kref)
	if !hasOwner {
		if counts.Recognizable == 0 {
			s.DeleteKernelObject(kref)
		}
		return
	}
	if counts.Reachable == 0 && s.HasCListEntry(owner, string(kref)) && s.GetReachableFlag(owner, kref) {
		actions.Add(runqueue.Action{VatID: owner, Type: runqueue.DropExport, KRef: kref})
	}
	if counts.Recognizable == 0 {
		actions.Add(runqueue.Action{VatID: owner, Type: runqueue.RetireExport, KRef: kref})
	}
}
