// Package capdata holds the capability-data wire shapes exchanged between the
// kernel and its endpoints.
package capdata

import (
	"encoding/json"
	"fmt"
	"strings"
)

// CapData is a marshalled value: a smallcaps-encoded body plus the references
// it carries, indexed by position.
type CapData struct {
	Body  string   `json:"body"`
	Slots []string `json:"slots"`
}

// Message is a method invocation: method name and arguments encoded as
// CapData, plus an optional result promise reference.
type Message struct {
	Methargs CapData `json:"methargs"`
	Result   *string `json:"result,omitempty"`
}

// Resolution is one promise settlement: [ref, rejected, value].
type Resolution struct {
	Ref      string
	Rejected bool
	Value    CapData
}

// MarshalJSON encodes the resolution as the wire tuple.
func (r Resolution) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{r.Ref, r.Rejected, r.Value})
}

// UnmarshalJSON decodes the wire tuple.
func (r *Resolution) UnmarshalJSON(data []byte) error {
	var tuple []json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return err
	}
	if len(tuple) != 3 {
		return fmt.Errorf("invalid resolution: expected 3 elements, got %d", len(tuple))
	}
	if err := json.Unmarshal(tuple[0], &r.Ref); err != nil {
		return fmt.Errorf("invalid resolution ref: %w", err)
	}
	if err := json.Unmarshal(tuple[1], &r.Rejected); err != nil {
		return fmt.Errorf("invalid resolution flag: %w", err)
	}
	if err := json.Unmarshal(tuple[2], &r.Value); err != nil {
		return fmt.Errorf("invalid resolution value: %w", err)
	}
	return nil
}

// Clone returns a deep copy.
func (c CapData) Clone() CapData {
	ret := CapData{Body: c.Body, Slots: make([]string, len(c.Slots))}
	copy(ret.Slots, c.Slots)
	return ret
}

// Clone returns a deep copy.
func (m Message) Clone() Message {
	ret := Message{Methargs: m.Methargs.Clone()}
	if m.Result != nil {
		result := *m.Result
		ret.Result = &result
	}
	return ret
}

// ResultRef returns the result reference or "".
func (m Message) ResultRef() string {
	if m.Result == nil {
		return ""
	}
	return *m.Result
}

const smallcapsPrefix = "#"

// Encode marshals plain data (no references) as smallcaps CapData.
func Encode(value interface{}) (CapData, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return CapData{}, err
	}
	return CapData{Body: smallcapsPrefix + string(data), Slots: []string{}}, nil
}

// MustEncode is Encode for values known to be JSON-serialisable.
func MustEncode(value interface{}) CapData {
	ret, err := Encode(value)
	if err != nil {
		panic(err)
	}
	return ret
}

// Decode unmarshals a smallcaps body into dest. Slot references in the body
// are left in their encoded "$N" form.
func Decode(data CapData, dest interface{}) error {
	if !strings.HasPrefix(data.Body, smallcapsPrefix) {
		return fmt.Errorf("unsupported capdata body encoding: %.16q", data.Body)
	}
	return json.Unmarshal([]byte(data.Body[len(smallcapsPrefix):]), dest)
}

// Error encodes a rejection reason.
func Error(message string) CapData {
	return MustEncode(map[string]string{"#error": message, "name": "Error"})
}

// Reference encodes a single slot reference.
func Reference(slot string, iface string) CapData {
	body := "$0"
	if iface != "" {
		body += "." + iface
	}
	return MustEncode(body).withSlots(slot)
}

// Methargs encodes a method call whose arguments carry the supplied slots.
// Arguments that must reference a slot use the "$N" smallcaps form.
func Methargs(method string, args []interface{}, slots ...string) (CapData, error) {
	if args == nil {
		args = []interface{}{}
	}
	ret, err := Encode([]interface{}{method, args})
	if err != nil {
		return CapData{}, err
	}
	return ret.withSlots(slots...), nil
}

// Method extracts the method name of an encoded methargs value.
func Method(data CapData) (string, error) {
	var tuple []json.RawMessage
	if err := Decode(data, &tuple); err != nil {
		return "", err
	}
	if len(tuple) == 0 {
		return "", fmt.Errorf("empty methargs")
	}
	var method string
	if err := json.Unmarshal(tuple[0], &method); err != nil {
		return "", fmt.Errorf("invalid method name: %w", err)
	}
	return method, nil
}

// SingleReference reports whether the value is exactly one reference (an
// object or promise presence) and returns its slot.
func SingleReference(data CapData) (string, bool) {
	if len(data.Slots) != 1 {
		return "", false
	}
	var body string
	if err := Decode(data, &body); err != nil {
		return "", false
	}
	if body == "$0" || strings.HasPrefix(body, "$0.") {
		return data.Slots[0], true
	}
	return "", false
}

func (c CapData) withSlots(slots ...string) CapData {
	c.Slots = append([]string{}, slots...)
	return c
}
