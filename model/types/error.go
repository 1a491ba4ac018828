package types

import (
	"errors"
	"fmt"
)

// Error classes. Every kernel error unwraps to exactly one of them so that
// callers can classify failures with errors.Is.
var (
	ErrNotFound  = errors.New("not found")
	ErrConflict  = errors.New("conflict")
	ErrLifecycle = errors.New("lifecycle")
	ErrStream    = errors.New("stream")
	ErrInvariant = errors.New("invariant violation")
	ErrProtocol  = errors.New("protocol")

	// ErrMethodNotFound and ErrInvalidParams refine ErrProtocol.
	ErrMethodNotFound = fmt.Errorf("%w: method not found", ErrProtocol)
	ErrInvalidParams  = fmt.Errorf("%w: invalid params", ErrProtocol)

	// ErrUnsupportedQuery is returned when the storage engine cannot run SQL.
	ErrUnsupportedQuery = fmt.Errorf("%w: storage engine does not support queries", ErrProtocol)
)

// Code returns the taxonomy name of err, used as the structured error code on
// the command plane.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrConflict):
		return "CONFLICT"
	case errors.Is(err, ErrLifecycle):
		return "LIFECYCLE"
	case errors.Is(err, ErrStream):
		return "STREAM"
	case errors.Is(err, ErrInvariant):
		return "INVARIANT"
	case errors.Is(err, ErrProtocol):
		return "PROTOCOL"
	}
	return "INTERNAL"
}

// VatNotFoundError is returned for operations naming an unknown vat.
type VatNotFoundError struct {
	VatID string
}

func (e *VatNotFoundError) Error() string { return fmt.Sprintf("vat %v not found", e.VatID) }
func (e *VatNotFoundError) Unwrap() error { return ErrNotFound }

// VatAlreadyExistsError is returned when launching over a running vat.
type VatAlreadyExistsError struct {
	VatID string
}

func (e *VatAlreadyExistsError) Error() string { return fmt.Sprintf("vat %v already exists", e.VatID) }
func (e *VatAlreadyExistsError) Unwrap() error { return ErrConflict }

// VatDeletedError rejects RPCs and promises left dangling by a terminated vat.
type VatDeletedError struct {
	VatID string
}

func (e *VatDeletedError) Error() string { return fmt.Sprintf("vat %v was deleted", e.VatID) }
func (e *VatDeletedError) Unwrap() error { return ErrLifecycle }

// StreamReadError reports a failed vat transport.
type StreamReadError struct {
	VatID string
	Err   error
}

func (e *StreamReadError) Error() string {
	return fmt.Sprintf("unexpected stream read error from vat %v: %v", e.VatID, e.Err)
}

func (e *StreamReadError) Unwrap() []error { return []error{ErrStream, e.Err} }

// SubclusterNotFoundError is returned by reload when no cluster was ever launched.
type SubclusterNotFoundError struct{}

func (e *SubclusterNotFoundError) Error() string { return "no subcluster to reload" }
func (e *SubclusterNotFoundError) Unwrap() error { return ErrNotFound }

// InvariantError signals store corruption or a broken kernel invariant. It is
// raised with panic and is never expected in a correct kernel.
type InvariantError struct {
	Message string
}

func (e *InvariantError) Error() string { return e.Message }
func (e *InvariantError) Unwrap() error { return ErrInvariant }

// Fail panics with an InvariantError.
func Fail(format string, args ...interface{}) {
	panic(&InvariantError{Message: fmt.Sprintf(format, args...)})
}

// Assert panics with an InvariantError unless cond holds.
func Assert(cond bool, format string, args ...interface{}) {
	if !cond {
		Fail(format, args...)
	}
}

// Recover converts a panic raised by Fail/Assert (or any other panic) into an
// error stored in *err. It must be deferred directly.
func Recover(err *error) {
	r := recover()
	if r == nil {
		return
	}
	switch actual := r.(type) {
	case *InvariantError:
		*err = actual
	case error:
		*err = &InvariantError{Message: actual.Error()}
	default:
		*err = &InvariantError{Message: fmt.Sprint(actual)}
	}
}

// NewMethodNotFoundError reports an unknown protocol method.
func NewMethodNotFoundError(name string) error {
	return fmt.Errorf("%w: %v", ErrMethodNotFound, name)
}

// NewInvalidParamsError reports malformed protocol parameters.
func NewInvalidParamsError(method string, err error) error {
	return fmt.Errorf("%w for %v: %v", ErrInvalidParams, method, err)
}
