// Package ref defines kernel and endpoint reference identifiers.
//
// Kernel references (KRef) are global: "ko<N>" for objects and "kp<N>" for
// promises. Endpoint references (ERef) are local to one endpoint's c-list:
// "o+N"/"o-N"/"p+N"/"p-N" for vats and "ro+N"/"rp-N"... for remotes, where "+"
// marks an export (owned by the endpoint) and "-" an import.
package ref

import (
	"fmt"
	"strconv"
	"strings"
)

// KRef is a kernel reference.
type KRef string

// ERef is an endpoint-local reference (a VRef for vats, an RRef for remotes).
type ERef string

// EndpointID identifies a vat ("v<N>") or a remote ("r<N>").
type EndpointID string

// VatID identifies a vat endpoint.
type VatID = EndpointID

// Direction of an endpoint reference, seen from the endpoint.
type Direction string

const (
	Export Direction = "export"
	Import Direction = "import"
)

// RootObject is the vref under which every vat exports its root object.
const RootObject ERef = "o+0"

// IsPromise reports whether kref names a kernel promise.
func (k KRef) IsPromise() bool {
	return strings.HasPrefix(string(k), "kp")
}

// IsObject reports whether kref names a kernel object.
func (k KRef) IsObject() bool {
	return strings.HasPrefix(string(k), "ko")
}

// ID returns the numeric part of the reference.
func (k KRef) ID() (int, error) {
	if len(k) < 3 || !(k.IsPromise() || k.IsObject()) {
		return 0, fmt.Errorf("invalid kref %q", string(k))
	}
	return strconv.Atoi(string(k[2:]))
}

// IsVat reports whether the endpoint is a vat.
func (e EndpointID) IsVat() bool {
	return strings.HasPrefix(string(e), "v")
}

// IsRemote reports whether the endpoint is a remote.
func (e EndpointID) IsRemote() bool {
	return strings.HasPrefix(string(e), "r")
}

// Parsed is a decoded endpoint reference.
type Parsed struct {
	Remote    bool
	IsPromise bool
	Direction Direction
	Index     int
}

// Parse decodes an endpoint reference.
func (e ERef) Parse() (Parsed, error) {
	s := string(e)
	var ret Parsed
	if strings.HasPrefix(s, "r") {
		ret.Remote = true
		s = s[1:]
	}
	if len(s) < 3 {
		return ret, fmt.Errorf("invalid eref %q", string(e))
	}
	switch s[0] {
	case 'o':
	case 'p':
		ret.IsPromise = true
	default:
		return ret, fmt.Errorf("invalid eref %q: unknown type %q", string(e), s[0])
	}
	switch s[1] {
	case '+':
		ret.Direction = Export
	case '-':
		ret.Direction = Import
	default:
		return ret, fmt.Errorf("invalid eref %q: unknown direction %q", string(e), s[1])
	}
	index, err := strconv.Atoi(s[2:])
	if err != nil {
		return ret, fmt.Errorf("invalid eref %q: %w", string(e), err)
	}
	ret.Index = index
	return ret, nil
}

// MustParse is Parse that panics on malformed input; erefs read back from the
// store were validated on the way in.
func (e ERef) MustParse() Parsed {
	ret, err := e.Parse()
	if err != nil {
		panic(err)
	}
	return ret
}

// IsPromise reports whether the eref names a promise.
func (e ERef) IsPromise() bool {
	s := strings.TrimPrefix(string(e), "r")
	return strings.HasPrefix(s, "p")
}

// NewERef builds an endpoint reference.
func NewERef(remote, isPromise bool, direction Direction, index int) ERef {
	var b strings.Builder
	if remote {
		b.WriteByte('r')
	}
	if isPromise {
		b.WriteByte('p')
	} else {
		b.WriteByte('o')
	}
	if direction == Export {
		b.WriteByte('+')
	} else {
		b.WriteByte('-')
	}
	b.WriteString(strconv.Itoa(index))
	return ERef(b.String())
}

// ObjectKRef formats a kernel object reference.
func ObjectKRef(id int) KRef {
	return KRef("ko" + strconv.Itoa(id))
}

// PromiseKRef formats a kernel promise reference.
func PromiseKRef(id int) KRef {
	return KRef("kp" + strconv.Itoa(id))
}
