// Package syscall decodes the requests a vat issues to the kernel.
package syscall

import (
	"encoding/json"
	"fmt"

	"github.com/viant/ocap/model/capdata"
	"github.com/viant/ocap/model/ref"
)

// Type tags a syscall.
type Type string

const (
	TypeSend           Type = "send"
	TypeSubscribe      Type = "subscribe"
	TypeResolve        Type = "resolve"
	TypeExit           Type = "exit"
	TypeDropImports    Type = "dropImports"
	TypeRetireImports  Type = "retireImports"
	TypeRetireExports  Type = "retireExports"
	TypeAbandonExports Type = "abandonExports"
)

// Syscall is a decoded vat syscall. Populated fields depend on Type:
//
//	send:          Target, Message
//	subscribe:     Ref
//	resolve:       Resolutions
//	exit:          Failure, Info
//	gc syscalls:   Refs
type Syscall struct {
	Type        Type
	Target      ref.ERef
	Message     capdata.Message
	Ref         ref.ERef
	Resolutions []capdata.Resolution
	Failure     bool
	Info        capdata.CapData
	Refs        []ref.ERef
}

// UnmarshalJSON decodes the wire tuple form, e.g. ["send", "o-1", {...}].
func (s *Syscall) UnmarshalJSON(data []byte) error {
	var tuple []json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return fmt.Errorf("invalid syscall: %w", err)
	}
	if len(tuple) == 0 {
		return fmt.Errorf("invalid syscall: empty")
	}
	if err := json.Unmarshal(tuple[0], &s.Type); err != nil {
		return fmt.Errorf("invalid syscall type: %w", err)
	}
	args := tuple[1:]
	arity := map[Type]int{
		TypeSend: 2, TypeSubscribe: 1, TypeResolve: 1, TypeExit: 2,
		TypeDropImports: 1, TypeRetireImports: 1, TypeRetireExports: 1, TypeAbandonExports: 1,
	}
	expected, ok := arity[s.Type]
	if !ok {
		return fmt.Errorf("unknown syscall type %q", s.Type)
	}
	if len(args) != expected {
		return fmt.Errorf("syscall %v expects %d arguments, got %d", s.Type, expected, len(args))
	}
	var err error
	switch s.Type {
	case TypeSend:
		if err = json.Unmarshal(args[0], &s.Target); err == nil {
			err = json.Unmarshal(args[1], &s.Message)
		}
	case TypeSubscribe:
		err = json.Unmarshal(args[0], &s.Ref)
	case TypeResolve:
		err = json.Unmarshal(args[0], &s.Resolutions)
	case TypeExit:
		if err = json.Unmarshal(args[0], &s.Failure); err == nil {
			err = json.Unmarshal(args[1], &s.Info)
		}
	default:
		err = json.Unmarshal(args[0], &s.Refs)
	}
	if err != nil {
		return fmt.Errorf("invalid %v syscall: %w", s.Type, err)
	}
	return nil
}

// MarshalJSON encodes the wire tuple form.
func (s Syscall) MarshalJSON() ([]byte, error) {
	var tuple []interface{}
	switch s.Type {
	case TypeSend:
		tuple = []interface{}{s.Type, s.Target, s.Message}
	case TypeSubscribe:
		tuple = []interface{}{s.Type, s.Ref}
	case TypeResolve:
		tuple = []interface{}{s.Type, s.Resolutions}
	case TypeExit:
		tuple = []interface{}{s.Type, s.Failure, s.Info}
	case TypeDropImports, TypeRetireImports, TypeRetireExports, TypeAbandonExports:
		tuple = []interface{}{s.Type, s.Refs}
	default:
		return nil, fmt.Errorf("unknown syscall type %q", s.Type)
	}
	return json.Marshal(tuple)
}

// Send builds a send syscall.
func Send(target ref.ERef, message capdata.Message) Syscall {
	return Syscall{Type: TypeSend, Target: target, Message: message}
}

// Subscribe builds a subscribe syscall.
func Subscribe(vpid ref.ERef) Syscall {
	return Syscall{Type: TypeSubscribe, Ref: vpid}
}

// Resolve builds a resolve syscall.
func Resolve(resolutions ...capdata.Resolution) Syscall {
	return Syscall{Type: TypeResolve, Resolutions: resolutions}
}

// Exit builds an exit syscall.
func Exit(failure bool, info capdata.CapData) Syscall {
	return Syscall{Type: TypeExit, Failure: failure, Info: info}
}

// GC builds one of the reference-list syscalls.
func GC(kind Type, refs ...ref.ERef) Syscall {
	return Syscall{Type: kind, Refs: refs}
}
