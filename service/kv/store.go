// Package kv defines the flat key-value storage contract the kernel persists
// all of its state through.
package kv

import (
	"context"
	"iter"
	"strings"
)

// Store is an ordered string key-value store. Reads and writes are
// synchronous; an engine that cannot complete one panics with an
// *types.InvariantError, since a kernel that lost a write cannot continue.
type Store interface {
	// Get returns the value under key.
	Get(key string) (string, bool)

	// GetRequired returns the value under key or panics when it is absent.
	GetRequired(key string) string

	// Set stores value under key.
	Set(key, value string)

	// Delete removes key; deleting an absent key is a no-op.
	Delete(key string)

	// GetNextKey returns the smallest key strictly greater than previous.
	GetNextKey(previous string) (string, bool)

	// Keys yields, in lexical order, the keys starting with prefix. The key
	// range is captured when Keys is called, so callers may delete while
	// iterating.
	Keys(prefix string) iter.Seq[string]

	// Batch applies sets and deletes atomically.
	Batch(sets []Pair, deletes []string)

	// Clear removes every key.
	Clear()

	// Close releases engine resources.
	Close() error
}

// Querier is implemented by engines able to execute ad-hoc SQL.
type Querier interface {
	Query(ctx context.Context, SQL string) ([]map[string]string, error)
}

// Pair is one key/value upsert.
type Pair struct {
	Key   string
	Value string
}

// PrefixEnd returns the smallest string greater than every string with the
// given prefix, or "" when no such bound exists.
func PrefixEnd(prefix string) string {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return string(b[:i+1])
		}
	}
	return ""
}

// HasPrefix is strings.HasPrefix, kept here so engines share one definition
// of prefix membership.
func HasPrefix(key, prefix string) bool {
	return strings.HasPrefix(key, prefix)
}
