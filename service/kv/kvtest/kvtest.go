// Package kvtest is a conformance suite run against every kv.Store engine.
package kvtest

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/ocap/model/types"
	"github.com/viant/ocap/service/kv"
)

// Run exercises store, which must be empty.
func Run(t *testing.T, newStore func(t *testing.T) kv.Store) {
	t.Run("get set delete", func(t *testing.T) {
		store := newStore(t)
		_, ok := store.Get("a")
		assert.False(t, ok)
		store.Set("a", "1")
		store.Set("a", "2")
		value, ok := store.Get("a")
		assert.True(t, ok)
		assert.Equal(t, "2", value)
		assert.Equal(t, "2", store.GetRequired("a"))
		store.Delete("a")
		store.Delete("a")
		_, ok = store.Get("a")
		assert.False(t, ok)
	})

	t.Run("get required", func(t *testing.T) {
		store := newStore(t)
		var err error
		func() {
			defer types.Recover(&err)
			store.GetRequired("missing")
		}()
		assert.ErrorIs(t, err, types.ErrInvariant)
		assert.ErrorContains(t, err, "missing")
	})

	t.Run("ordered scans", func(t *testing.T) {
		store := newStore(t)
		for _, key := range []string{"v1.c.o+1", "v1.c.ko3", "v10.c.o+1", "v1.c.o-2", "v2.c.o+1", "v1.c.kp4"} {
			store.Set(key, "x")
		}
		keys := slices.Collect(store.Keys("v1.c."))
		assert.Equal(t, []string{"v1.c.ko3", "v1.c.kp4", "v1.c.o+1", "v1.c.o-2"}, keys)
		assert.Empty(t, slices.Collect(store.Keys("v3.")))

		next, ok := store.GetNextKey("v1.c.kp4")
		assert.True(t, ok)
		assert.Equal(t, "v1.c.o+1", next)
		next, ok = store.GetNextKey("v1.c.kp")
		assert.True(t, ok)
		assert.Equal(t, "v1.c.kp4", next)
		_, ok = store.GetNextKey("v2.c.o+1")
		assert.False(t, ok)

		for key := range store.Keys("v1.") {
			store.Delete(key)
		}
		assert.Empty(t, slices.Collect(store.Keys("v1.")))
		assert.Len(t, slices.Collect(store.Keys("v")), 2)
	})

	t.Run("batch and clear", func(t *testing.T) {
		store := newStore(t)
		store.Set("gone", "1")
		store.Batch([]kv.Pair{{Key: "k1", Value: "a"}, {Key: "k2", Value: "b"}}, []string{"gone", "never"})
		assert.Equal(t, []string{"k1", "k2"}, slices.Collect(store.Keys("")))
		store.Clear()
		assert.Empty(t, slices.Collect(store.Keys("")))
		require.NoError(t, store.Close())
	})
}
