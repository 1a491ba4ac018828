package rpc

import (
	"errors"
	"fmt"

	"github.com/viant/ocap/model/types"
)

// Error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeServerError    = -32000
)

var (
	ErrParse          = fmt.Errorf("%w: parse error", types.ErrProtocol)
	ErrInvalidRequest = fmt.Errorf("%w: invalid request", types.ErrProtocol)
	ErrInvalidParams  = types.ErrInvalidParams
	ErrMethodNotFound = types.ErrMethodNotFound
)

// Error is a structured error response.
type Error struct {
	Code    int        `json:"code"`
	Message string     `json:"message"`
	Data    *ErrorData `json:"data,omitempty"`
}

// ErrorData names the error class.
type ErrorData struct {
	Code string `json:"code"`
}

func (e *Error) Error() string {
	return e.Message
}

// Unwrap maps the error class back to its sentinel.
func (e *Error) Unwrap() error {
	if e.Data == nil {
		return nil
	}
	switch e.Data.Code {
	case "NOT_FOUND":
		return types.ErrNotFound
	case "CONFLICT":
		return types.ErrConflict
	case "LIFECYCLE":
		return types.ErrLifecycle
	case "STREAM":
		return types.ErrStream
	case "INVARIANT":
		return types.ErrInvariant
	case "PROTOCOL":
		return types.ErrProtocol
	}
	return nil
}

// NewError converts err to its wire form.
func NewError(err error) *Error {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	code := CodeServerError
	switch {
	case errors.Is(err, ErrParse):
		code = CodeParseError
	case errors.Is(err, ErrInvalidRequest):
		code = CodeInvalidRequest
	case errors.Is(err, ErrMethodNotFound):
		code = CodeMethodNotFound
	case errors.Is(err, ErrInvalidParams):
		code = CodeInvalidParams
	}
	return &Error{Code: code, Message: err.Error(), Data: &ErrorData{Code: types.Code(err)}}
}
