package kv

import "github.com/viant/ocap/model/types"

// MissingKey panics for a required key that is absent.
func MissingKey(key string) {
	types.Fail("no value found for key %v", key)
}

// EngineFailure panics for an engine I/O error.
func EngineFailure(op string, key string, err error) {
	types.Fail("kv %v %q failed: %v", op, key, err)
}
