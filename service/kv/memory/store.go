// Package memory provides an ordered in-memory kv.Store.
package memory

import (
	"iter"
	"slices"
	"sync"

	"github.com/viant/ocap/service/kv"
)

// Store keeps entries in a map plus a sorted key index.
type Store struct {
	mu      sync.RWMutex
	records map[string]string
	keys    []string
}

// Compile-time check that Store implements kv.Store.
var _ kv.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{records: make(map[string]string)}
}

// Get returns the value under key.
func (s *Store) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.records[key]
	return value, ok
}

// GetRequired returns the value under key or panics.
func (s *Store) GetRequired(key string) string {
	value, ok := s.Get(key)
	if !ok {
		kv.MissingKey(key)
	}
	return value
}

// Set stores value under key.
func (s *Store) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set(key, value)
}

func (s *Store) set(key, value string) {
	if _, ok := s.records[key]; !ok {
		index, _ := slices.BinarySearch(s.keys, key)
		s.keys = slices.Insert(s.keys, index, key)
	}
	s.records[key] = value
}

// Delete removes key.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delete(key)
}

func (s *Store) delete(key string) {
	if _, ok := s.records[key]; !ok {
		return
	}
	delete(s.records, key)
	if index, found := slices.BinarySearch(s.keys, key); found {
		s.keys = slices.Delete(s.keys, index, index+1)
	}
}

// GetNextKey returns the smallest key greater than previous.
func (s *Store) GetNextKey(previous string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	index, found := slices.BinarySearch(s.keys, previous)
	if found {
		index++
	}
	if index >= len(s.keys) {
		return "", false
	}
	return s.keys[index], true
}

// Keys yields the keys starting with prefix.
func (s *Store) Keys(prefix string) iter.Seq[string] {
	s.mu.RLock()
	start, _ := slices.BinarySearch(s.keys, prefix)
	var matched []string
	for _, key := range s.keys[start:] {
		if !kv.HasPrefix(key, prefix) {
			break
		}
		matched = append(matched, key)
	}
	s.mu.RUnlock()
	return slices.Values(matched)
}

// Batch applies sets then deletes under one lock.
func (s *Store) Batch(sets []kv.Pair, deletes []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pair := range sets {
		s.set(pair.Key, pair.Value)
	}
	for _, key := range deletes {
		s.delete(key)
	}
}

// Clear removes all keys.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]string)
	s.keys = nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

// Len returns the number of keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}
