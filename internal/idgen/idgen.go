package idgen

import "github.com/google/uuid"

// NewFunc produces identifiers; override it in tests.
var NewFunc = func() string { return uuid.New().String() }

// New returns a new globally unique identifier.
func New() string { return NewFunc() }

// NewWithPrefix returns prefix followed by a new identifier.
func NewWithPrefix(prefix string) string { return prefix + "-" + NewFunc() }
