package store

import (
	"strconv"

	"github.com/viant/ocap/model/ref"
)

// GetNextVatID allocates a vat id: v0, v1, ...
func (s *Store) GetNextVatID() ref.VatID {
	return ref.VatID("v" + strconv.Itoa(s.incCounter(keyNextVatID)))
}

// GetNextRemoteID allocates a remote id: r0, r1, ...
func (s *Store) GetNextRemoteID() ref.EndpointID {
	return ref.EndpointID("r" + strconv.Itoa(s.incCounter(keyNextRemoteID)))
}

// InitEndpoint seeds the endpoint's export/import counters.
func (s *Store) InitEndpoint(endpointID ref.EndpointID) {
	s.kv.Set(endpointObjectCounterKey(endpointID), "1")
	s.kv.Set(endpointPromiseCounterKey(endpointID), "1")
}

func (s *Store) getNextObjectID() ref.KRef {
	return ref.ObjectKRef(s.incCounter(keyNextObjectID))
}

func (s *Store) getNextPromiseID() ref.KRef {
	return ref.PromiseKRef(s.incCounter(keyNextPromiseID))
}
