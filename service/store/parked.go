package store

import (
	"encoding/json"

	"github.com/viant/ocap/model/capdata"
	"github.com/viant/ocap/model/ref"
	"github.com/viant/ocap/model/runqueue"
	"github.com/viant/ocap/model/types"
)

func parkedQueue(vatID ref.VatID) string {
	return "parked." + string(vatID)
}

// ParkSend holds a send for a vat that is recorded but not running. The send
// keeps the references its run queue item held.
func (s *Store) ParkSend(vatID ref.VatID, target ref.KRef, message capdata.Message) {
	name := parkedQueue(vatID)
	if _, ok := s.kv.Get(queueHeadKey(name)); !ok {
		s.initQueue(name)
	}
	data, err := json.Marshal(runqueue.Send(target, message))
	types.Assert(err == nil, "unable to encode run queue item: %v", err)
	s.enqueue(name, string(data))
}

// ParkedSends returns the number of sends parked for vatID.
func (s *Store) ParkedSends(vatID ref.VatID) int {
	name := parkedQueue(vatID)
	if _, ok := s.kv.Get(queueHeadKey(name)); !ok {
		return 0
	}
	return s.GetQueueLength(name)
}

// UnparkSends moves the sends parked for vatID back to the run queue in
// order and reports how many moved.
func (s *Store) UnparkSends(vatID ref.VatID) int {
	name := parkedQueue(vatID)
	if _, ok := s.kv.Get(queueHeadKey(name)); !ok {
		return 0
	}
	count := 0
	for {
		raw, ok := s.dequeue(name)
		if !ok {
			break
		}
		s.enqueue(runQueue, raw)
		count++
	}
	s.deleteQueue(name)
	s.runQueueLength = -1
	return count
}
