// Package store is the kernel's identity store: kernel objects and promises,
// per-endpoint c-lists, reference counts, queues and vat records, all kept as
// flat keys in a kv.Store.
//
// Store is not safe for concurrent use; the kernel serialises every call.
package store

import (
	"encoding/json"
	"strconv"

	"github.com/viant/ocap/model/ref"
	"github.com/viant/ocap/model/types"
	"github.com/viant/ocap/service/kv"
	"go.uber.org/zap"
)

const (
	keyNextObjectID  = "nextObjectId"
	keyNextPromiseID = "nextPromiseId"
	keyNextVatID     = "nextVatId"
	keyNextRemoteID  = "nextRemoteId"
	keyGCActions     = "gcActions"
	keyReapQueue     = "reapQueue"
	keyTerminated    = "vats.terminated"
	keyPinned        = "pinnedObjects"
	keyClusterConfig = "clusterConfig"

	runQueue = "run"
)

// Store implements the identity store over a kv.Store.
type Store struct {
	kv     kv.Store
	logger *zap.Logger

	// maybeFree collects krefs whose counts reached zero since the last sweep.
	maybeFree map[ref.KRef]struct{}
	// exportSeeds holds objects exported during the current syscall whose
	// creation hold is still outstanding.
	exportSeeds []ref.KRef
	// runQueueLength caches the run queue length; negative means unknown.
	runQueueLength int
}

// Option configures a Store.
type Option func(s *Store)

// WithLogger sets the logger receiving reference-count traces.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New wraps store, seeding global counters and queues that are absent so that
// reopening a persisted store resumes where it left off.
func New(store kv.Store, options ...Option) *Store {
	ret := &Store{kv: store, logger: zap.NewNop()}
	for _, option := range options {
		option(ret)
	}
	ret.init()
	return ret
}

func (s *Store) init() {
	s.maybeFree = make(map[ref.KRef]struct{})
	s.exportSeeds = nil
	s.runQueueLength = -1
	s.provide(keyNextObjectID, "1")
	s.provide(keyNextPromiseID, "1")
	s.provide(keyNextVatID, "0")
	s.provide(keyNextRemoteID, "0")
	s.provide(keyGCActions, "[]")
	s.provide(keyReapQueue, "[]")
	s.provide(keyTerminated, "[]")
	s.provide(keyPinned, "")
	if _, ok := s.kv.Get(queueHeadKey(runQueue)); !ok {
		s.initQueue(runQueue)
	}
}

// KV exposes the backing store.
func (s *Store) KV() kv.Store {
	return s.kv
}

// Reset deletes every persisted key and re-seeds the store.
func (s *Store) Reset() {
	s.kv.Clear()
	s.init()
}

func (s *Store) provide(key, initial string) {
	if _, ok := s.kv.Get(key); !ok {
		s.kv.Set(key, initial)
	}
}

// incCounter returns the counter value and advances it.
func (s *Store) incCounter(key string) int {
	value := s.getInt(key)
	s.kv.Set(key, strconv.Itoa(value+1))
	return value
}

func (s *Store) getInt(key string) int {
	raw := s.kv.GetRequired(key)
	value, err := strconv.Atoi(raw)
	types.Assert(err == nil, "corrupted integer %q under key %v", raw, key)
	return value
}

func (s *Store) getJSON(key string, dest interface{}) {
	raw := s.kv.GetRequired(key)
	err := json.Unmarshal([]byte(raw), dest)
	types.Assert(err == nil, "corrupted JSON under key %v: %v", key, err)
}

func (s *Store) setJSON(key string, value interface{}) {
	data, err := json.Marshal(value)
	types.Assert(err == nil, "unable to encode value for key %v: %v", key, err)
	s.kv.Set(key, string(data))
}

// slotKey is the c-list key mapping endpoint-local slot to its counterpart.
func slotKey(endpointID ref.EndpointID, slot string) string {
	return string(endpointID) + ".c." + slot
}

func refCountKey(kref ref.KRef) string {
	return string(kref) + ".refCount"
}

func ownerKey(kref ref.KRef) string {
	return string(kref) + ".owner"
}

func endpointObjectCounterKey(endpointID ref.EndpointID) string {
	return "e.nextObjectId." + string(endpointID)
}

func endpointPromiseCounterKey(endpointID ref.EndpointID) string {
	return "e.nextPromiseId." + string(endpointID)
}
