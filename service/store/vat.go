package store

import (
	"context"
	"iter"
	"slices"
	"strconv"
	"strings"

	"github.com/viant/ocap/model/ref"
	"github.com/viant/ocap/model/types"
	"github.com/viant/ocap/model/vat"
	"github.com/viant/ocap/service/kv"
)

const vatConfigPrefix = "vatConfig."

func vatConfigKey(vatID ref.VatID) string {
	return vatConfigPrefix + string(vatID)
}

func vatStorePrefix(vatID ref.VatID) string {
	return string(vatID) + ".vs."
}

// SetVatConfig persists the vat's record.
func (s *Store) SetVatConfig(vatID ref.VatID, config *vat.Config) {
	s.setJSON(vatConfigKey(vatID), config)
}

// GetVatConfig returns the vat's record.
func (s *Store) GetVatConfig(vatID ref.VatID) (*vat.Config, bool) {
	if _, ok := s.kv.Get(vatConfigKey(vatID)); !ok {
		return nil, false
	}
	ret := &vat.Config{}
	s.getJSON(vatConfigKey(vatID), ret)
	return ret, true
}

// DeleteVatConfig removes the vat's record.
func (s *Store) DeleteVatConfig(vatID ref.VatID) {
	s.kv.Delete(vatConfigKey(vatID))
}

// GetAllVatRecords yields persisted vat records in key order.
func (s *Store) GetAllVatRecords() iter.Seq[vat.Record] {
	return func(yield func(vat.Record) bool) {
		for key := range s.kv.Keys(vatConfigPrefix) {
			record := vat.Record{VatID: ref.VatID(strings.TrimPrefix(key, vatConfigPrefix)), Config: &vat.Config{}}
			s.getJSON(key, record.Config)
			if !yield(record) {
				return
			}
		}
	}
}

// GetVatIDs lists vats with a persisted record in allocation order.
func (s *Store) GetVatIDs() []ref.VatID {
	var ret []ref.VatID
	for record := range s.GetAllVatRecords() {
		ret = append(ret, record.VatID)
	}
	slices.SortFunc(ret, compareEndpointIDs)
	return ret
}

func compareEndpointIDs(a, b ref.EndpointID) int {
	x, errX := strconv.Atoi(string(a[1:]))
	y, errY := strconv.Atoi(string(b[1:]))
	if errX != nil || errY != nil || a[0] != b[0] {
		return strings.Compare(string(a), string(b))
	}
	return x - y
}

// GetTerminatedVats lists vats awaiting their cleanup sweep.
func (s *Store) GetTerminatedVats() []ref.VatID {
	var ret []ref.VatID
	s.getJSON(keyTerminated, &ret)
	return ret
}

// MarkVatAsTerminated appends vatID to the terminated list.
func (s *Store) MarkVatAsTerminated(vatID ref.VatID) {
	terminated := s.GetTerminatedVats()
	if slices.Contains(terminated, vatID) {
		return
	}
	s.setJSON(keyTerminated, append(terminated, vatID))
}

// IsVatTerminated reports whether vatID awaits cleanup.
func (s *Store) IsVatTerminated(vatID ref.VatID) bool {
	return slices.Contains(s.GetTerminatedVats(), vatID)
}

// ForgetTerminatedVat removes vatID from the terminated list.
func (s *Store) ForgetTerminatedVat(vatID ref.VatID) {
	terminated := s.GetTerminatedVats()
	s.setJSON(keyTerminated, slices.DeleteFunc(terminated, func(candidate ref.VatID) bool {
		return candidate == vatID
	}))
}

// GetVatKVData returns the vat's persisted key/value state in key order.
func (s *Store) GetVatKVData(vatID ref.VatID) []kv.Pair {
	prefix := vatStorePrefix(vatID)
	var ret []kv.Pair
	for key := range s.kv.Keys(prefix) {
		value, _ := s.kv.Get(key)
		ret = append(ret, kv.Pair{Key: strings.TrimPrefix(key, prefix), Value: value})
	}
	return ret
}

// UpdateVatKVData applies a vat checkpoint atomically.
func (s *Store) UpdateVatKVData(vatID ref.VatID, sets []kv.Pair, deletes []string) {
	prefix := vatStorePrefix(vatID)
	prefixedSets := make([]kv.Pair, len(sets))
	for i, pair := range sets {
		prefixedSets[i] = kv.Pair{Key: prefix + pair.Key, Value: pair.Value}
	}
	prefixedDeletes := make([]string, len(deletes))
	for i, key := range deletes {
		prefixedDeletes[i] = prefix + key
	}
	s.kv.Batch(prefixedSets, prefixedDeletes)
}

// DeleteVatKVData removes the vat's persisted key/value state.
func (s *Store) DeleteVatKVData(vatID ref.VatID) {
	var deletes []string
	for key := range s.kv.Keys(vatStorePrefix(vatID)) {
		deletes = append(deletes, key)
	}
	s.kv.Batch(nil, deletes)
}

// SetClusterConfig persists the most recently launched cluster configuration.
func (s *Store) SetClusterConfig(config *vat.ClusterConfig) {
	s.setJSON(keyClusterConfig, config)
}

// GetClusterConfig returns the persisted cluster configuration.
func (s *Store) GetClusterConfig() (*vat.ClusterConfig, bool) {
	if _, ok := s.kv.Get(keyClusterConfig); !ok {
		return nil, false
	}
	ret := &vat.ClusterConfig{}
	s.getJSON(keyClusterConfig, ret)
	return ret, true
}

// ExecuteQuery runs sql against the backing engine when it speaks SQL.
func (s *Store) ExecuteQuery(ctx context.Context, sql string) ([]map[string]string, error) {
	querier, ok := s.kv.(kv.Querier)
	if !ok {
		return nil, types.ErrUnsupportedQuery
	}
	return querier.Query(ctx, sql)
}
