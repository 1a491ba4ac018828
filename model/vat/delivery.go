package vat

import (
	"encoding/json"
	"fmt"

	"github.com/viant/ocap/model/capdata"
	"github.com/viant/ocap/model/ref"
)

// DeliveryType tags a kernel to vat delivery.
type DeliveryType string

const (
	DeliveryMessage          DeliveryType = "message"
	DeliveryNotify           DeliveryType = "notify"
	DeliveryDropExports      DeliveryType = "dropExports"
	DeliveryRetireExports    DeliveryType = "retireExports"
	DeliveryRetireImports    DeliveryType = "retireImports"
	DeliveryBringOutYourDead DeliveryType = "bringOutYourDead"
)

// Delivery is the payload of a deliver call, in vat-local refs. On the wire it
// is a tuple led by its type:
//
//	["message", target, message]
//	["notify", [resolution...]]
//	["dropExports" | "retireExports" | "retireImports", [ref...]]
//	["bringOutYourDead"]
type Delivery struct {
	Type        DeliveryType
	Target      ref.ERef
	Message     *capdata.Message
	Resolutions []capdata.Resolution
	Refs        []ref.ERef
}

func MessageDelivery(target ref.ERef, message capdata.Message) *Delivery {
	return &Delivery{Type: DeliveryMessage, Target: target, Message: &message}
}

func NotifyDelivery(resolutions []capdata.Resolution) *Delivery {
	return &Delivery{Type: DeliveryNotify, Resolutions: resolutions}
}

func GCDelivery(deliveryType DeliveryType, refs []ref.ERef) *Delivery {
	return &Delivery{Type: deliveryType, Refs: refs}
}

func BringOutYourDeadDelivery() *Delivery {
	return &Delivery{Type: DeliveryBringOutYourDead}
}

func (d Delivery) MarshalJSON() ([]byte, error) {
	switch d.Type {
	case DeliveryMessage:
		if d.Message == nil {
			return nil, fmt.Errorf("message delivery without message")
		}
		return json.Marshal([]interface{}{d.Type, d.Target, d.Message})
	case DeliveryNotify:
		resolutions := d.Resolutions
		if resolutions == nil {
			resolutions = []capdata.Resolution{}
		}
		return json.Marshal([]interface{}{d.Type, resolutions})
	case DeliveryDropExports, DeliveryRetireExports, DeliveryRetireImports:
		refs := d.Refs
		if refs == nil {
			refs = []ref.ERef{}
		}
		return json.Marshal([]interface{}{d.Type, refs})
	case DeliveryBringOutYourDead:
		return json.Marshal([]interface{}{d.Type})
	}
	return nil, fmt.Errorf("unknown delivery type %q", d.Type)
}

func (d *Delivery) UnmarshalJSON(data []byte) error {
	var tuple []json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return err
	}
	if len(tuple) == 0 {
		return fmt.Errorf("empty delivery")
	}
	var ret Delivery
	if err := json.Unmarshal(tuple[0], &ret.Type); err != nil {
		return fmt.Errorf("invalid delivery type: %w", err)
	}
	expect := map[DeliveryType]int{
		DeliveryMessage:          3,
		DeliveryNotify:           2,
		DeliveryDropExports:      2,
		DeliveryRetireExports:    2,
		DeliveryRetireImports:    2,
		DeliveryBringOutYourDead: 1,
	}
	arity, ok := expect[ret.Type]
	if !ok {
		return fmt.Errorf("unknown delivery type %q", ret.Type)
	}
	if len(tuple) != arity {
		return fmt.Errorf("invalid %v delivery: expected %d elements, got %d", ret.Type, arity, len(tuple))
	}
	var err error
	switch ret.Type {
	case DeliveryMessage:
		if err = json.Unmarshal(tuple[1], &ret.Target); err == nil {
			ret.Message = &capdata.Message{}
			err = json.Unmarshal(tuple[2], ret.Message)
		}
	case DeliveryNotify:
		err = json.Unmarshal(tuple[1], &ret.Resolutions)
	case DeliveryDropExports, DeliveryRetireExports, DeliveryRetireImports:
		err = json.Unmarshal(tuple[1], &ret.Refs)
	}
	if err != nil {
		return fmt.Errorf("invalid %v delivery: %w", ret.Type, err)
	}
	*d = ret
	return nil
}

// Checkpoint is the vat store delta a worker returns after initVat or
// deliver, encoded as [[[key, value]...], [key...]].
type Checkpoint struct {
	Sets    [][2]string
	Deletes []string
}

// Empty reports whether the checkpoint changes nothing.
func (c Checkpoint) Empty() bool {
	return len(c.Sets) == 0 && len(c.Deletes) == 0
}

func (c Checkpoint) MarshalJSON() ([]byte, error) {
	sets := c.Sets
	if sets == nil {
		sets = [][2]string{}
	}
	deletes := c.Deletes
	if deletes == nil {
		deletes = []string{}
	}
	return json.Marshal([]interface{}{sets, deletes})
}

func (c *Checkpoint) UnmarshalJSON(data []byte) error {
	var tuple []json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return err
	}
	if len(tuple) != 2 {
		return fmt.Errorf("invalid checkpoint: expected 2 elements, got %d", len(tuple))
	}
	var ret Checkpoint
	if err := json.Unmarshal(tuple[0], &ret.Sets); err != nil {
		return fmt.Errorf("invalid checkpoint sets: %w", err)
	}
	if err := json.Unmarshal(tuple[1], &ret.Deletes); err != nil {
		return fmt.Errorf("invalid checkpoint deletes: %w", err)
	}
	*c = ret
	return nil
}

// InitParams are the initVat call parameters.
type InitParams struct {
	VatConfig *Config     `json:"vatConfig"`
	State     [][2]string `json:"state"`
}
