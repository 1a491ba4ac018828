// Package rpc implements the JSON-RPC shaped envelope shared by the command
// plane and the vat plane, and the table correlating responses to requests.
package rpc

import (
	"encoding/json"
	"fmt"
)

// Version is the envelope version tag.
const Version = "2.0"

// Message is a request, notification or response. Requests carry an id and a
// method, notifications only a method, responses an id and a result or error.
type Message struct {
	JSONRPC string          `json:"jsonrpc,omitempty"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

func (m *Message) IsRequest() bool      { return m.Method != "" && m.ID != "" }
func (m *Message) IsNotification() bool { return m.Method != "" && m.ID == "" }
func (m *Message) IsResponse() bool     { return m.Method == "" && m.ID != "" }

// Validate checks the envelope shape.
func (m *Message) Validate() error {
	if m.Method == "" && m.ID == "" {
		return fmt.Errorf("%w: message has neither method nor id", ErrInvalidRequest)
	}
	if m.Method != "" && (m.Result != nil || m.Error != nil) {
		return fmt.Errorf("%w: request %v carries a response", ErrInvalidRequest, m.Method)
	}
	return nil
}

// NewRequest builds a request with JSON-encoded params.
func NewRequest(id, method string, params interface{}) (*Message, error) {
	ret := &Message{JSONRPC: Version, ID: id, Method: method}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %v params: %w", method, err)
		}
		ret.Params = data
	}
	return ret, nil
}

// NewNotification builds a request without id.
func NewNotification(method string, params interface{}) (*Message, error) {
	return NewRequest("", method, params)
}

// NewResult builds a successful response.
func NewResult(id string, result interface{}) (*Message, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result of %v: %w", id, err)
	}
	return &Message{JSONRPC: Version, ID: id, Result: data}, nil
}

// NewErrorResponse builds a failed response from err.
func NewErrorResponse(id string, err error) *Message {
	return &Message{JSONRPC: Version, ID: id, Error: NewError(err)}
}

// DecodeParams unmarshals the request params into dest.
func (m *Message) DecodeParams(dest interface{}) error {
	if len(m.Params) == 0 {
		return nil
	}
	if err := json.Unmarshal(m.Params, dest); err != nil {
		return fmt.Errorf("%w for %v: %v", ErrInvalidParams, m.Method, err)
	}
	return nil
}

// DecodeResult unmarshals the response result into dest, or returns the
// response error.
func (m *Message) DecodeResult(dest interface{}) error {
	if m.Error != nil {
		return m.Error
	}
	if dest == nil || len(m.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(m.Result, dest); err != nil {
		return fmt.Errorf("%w: invalid result of %v: %v", ErrInvalidRequest, m.ID, err)
	}
	return nil
}
