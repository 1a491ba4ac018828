package store

import (
	"encoding/json"
	"strconv"

	"github.com/viant/ocap/model/runqueue"
	"github.com/viant/ocap/model/types"
)

// Stored queues keep items under queue.<name>.<index>; head is the next index
// to write and tail the next index to read.

func queueHeadKey(name string) string {
	return "queue." + name + ".head"
}

func queueTailKey(name string) string {
	return "queue." + name + ".tail"
}

func queueItemKey(name string, index int) string {
	return "queue." + name + "." + strconv.Itoa(index)
}

func queuePrefix(name string) string {
	return "queue." + name + "."
}

func (s *Store) initQueue(name string) {
	s.kv.Set(queueHeadKey(name), "1")
	s.kv.Set(queueTailKey(name), "1")
}

func (s *Store) deleteQueue(name string) {
	for key := range s.kv.Keys(queuePrefix(name)) {
		s.kv.Delete(key)
	}
}

func (s *Store) enqueue(name string, item string) {
	head := s.queueCounter(name, queueHeadKey(name))
	s.kv.Set(queueItemKey(name, head), item)
	s.kv.Set(queueHeadKey(name), strconv.Itoa(head+1))
}

func (s *Store) dequeue(name string) (string, bool) {
	head := s.queueCounter(name, queueHeadKey(name))
	tail := s.queueCounter(name, queueTailKey(name))
	if tail >= head {
		return "", false
	}
	key := queueItemKey(name, tail)
	item := s.kv.GetRequired(key)
	s.kv.Delete(key)
	s.kv.Set(queueTailKey(name), strconv.Itoa(tail+1))
	return item, true
}

func (s *Store) queueCounter(name, key string) int {
	if _, ok := s.kv.Get(key); !ok {
		types.Fail("unknown queue %v", name)
	}
	return s.getInt(key)
}

// GetQueueLength returns head - tail of the named queue.
func (s *Store) GetQueueLength(name string) int {
	return s.queueCounter(name, queueHeadKey(name)) - s.queueCounter(name, queueTailKey(name))
}

// EnqueueRun appends item to the run queue.
func (s *Store) EnqueueRun(item *runqueue.Item) {
	data, err := json.Marshal(item)
	types.Assert(err == nil, "unable to encode run queue item: %v", err)
	s.enqueue(runQueue, string(data))
	s.runQueueLength = -1
}

// DequeueRun pops the oldest run queue item, or nil when the queue is empty.
func (s *Store) DequeueRun() *runqueue.Item {
	raw, ok := s.dequeue(runQueue)
	if !ok {
		return nil
	}
	s.runQueueLength = -1
	ret := &runqueue.Item{}
	err := json.Unmarshal([]byte(raw), ret)
	types.Assert(err == nil, "corrupted run queue item %q: %v", raw, err)
	return ret
}

// RunQueueLength returns the run queue length, recomputing it only after the
// queue changed.
func (s *Store) RunQueueLength() int {
	if s.runQueueLength < 0 {
		s.runQueueLength = s.GetQueueLength(runQueue)
	}
	return s.runQueueLength
}
