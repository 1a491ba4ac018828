// Package runqueue defines the items that flow through the kernel run queue
// and the garbage-collection action encoding.
package runqueue

import (
	"fmt"
	"sort"
	"strings"

	"github.com/viant/ocap/model/capdata"
	"github.com/viant/ocap/model/ref"
)

// Type tags a run-queue item.
type Type string

const (
	TypeSend             Type = "send"
	TypeNotify           Type = "notify"
	TypeDropExports      Type = "dropExports"
	TypeRetireExports    Type = "retireExports"
	TypeRetireImports    Type = "retireImports"
	TypeBringOutYourDead Type = "bringOutYourDead"
)

// Item is a pending kernel delivery. Which fields are set depends on Type:
//
//	send:             Target, Message
//	notify:           VatID, KPID
//	drop/retire*:     VatID, KRefs
//	bringOutYourDead: VatID
type Item struct {
	Type    Type             `json:"type"`
	Target  ref.KRef         `json:"target,omitempty"`
	Message *capdata.Message `json:"message,omitempty"`
	VatID   ref.VatID        `json:"vatId,omitempty"`
	KPID    ref.KRef         `json:"kpid,omitempty"`
	KRefs   []ref.KRef       `json:"krefs,omitempty"`
}

// Send creates a send item.
func Send(target ref.KRef, message capdata.Message) *Item {
	return &Item{Type: TypeSend, Target: target, Message: &message}
}

// Notify creates a notify item.
func Notify(vatID ref.VatID, kpid ref.KRef) *Item {
	return &Item{Type: TypeNotify, VatID: vatID, KPID: kpid}
}

// BringOutYourDead creates a reap item.
func BringOutYourDead(vatID ref.VatID) *Item {
	return &Item{Type: TypeBringOutYourDead, VatID: vatID}
}

// GCItem creates a dropExports/retireExports/retireImports item.
func GCItem(action ActionType, vatID ref.VatID, krefs []ref.KRef) *Item {
	return &Item{Type: action.ItemType(), VatID: vatID, KRefs: krefs}
}

// Validate checks that the fields required by the item type are present.
func (i *Item) Validate() error {
	switch i.Type {
	case TypeSend:
		if i.Target == "" || i.Message == nil {
			return fmt.Errorf("send item requires target and message")
		}
	case TypeNotify:
		if i.VatID == "" || i.KPID == "" {
			return fmt.Errorf("notify item requires vatId and kpid")
		}
	case TypeDropExports, TypeRetireExports, TypeRetireImports:
		if i.VatID == "" || len(i.KRefs) == 0 {
			return fmt.Errorf("%v item requires vatId and krefs", i.Type)
		}
	case TypeBringOutYourDead:
		if i.VatID == "" {
			return fmt.Errorf("bringOutYourDead item requires vatId")
		}
	default:
		return fmt.Errorf("unknown run queue item type %q", i.Type)
	}
	return nil
}

// ActionType is a garbage-collection action kind.
type ActionType string

const (
	DropExport   ActionType = "dropExport"
	RetireExport ActionType = "retireExport"
	RetireImport ActionType = "retireImport"
)

// ActionTypePriority orders actions of one vat when several are pending.
var ActionTypePriority = []ActionType{DropExport, RetireExport, RetireImport}

// ItemType maps the action to the run-queue item delivering it.
func (a ActionType) ItemType() Type {
	return Type(string(a) + "s")
}

// Valid reports whether a is a known action type.
func (a ActionType) Valid() bool {
	for _, candidate := range ActionTypePriority {
		if a == candidate {
			return true
		}
	}
	return false
}

// Action is one pending GC action, persisted as "<vatId> <type> <kref>".
type Action struct {
	VatID ref.VatID
	Type  ActionType
	KRef  ref.KRef
}

func (a Action) String() string {
	return string(a.VatID) + " " + string(a.Type) + " " + string(a.KRef)
}

// ParseAction decodes a persisted action.
func ParseAction(encoded string) (Action, error) {
	parts := strings.Split(encoded, " ")
	if len(parts) != 3 {
		return Action{}, fmt.Errorf("invalid gc action %q", encoded)
	}
	ret := Action{VatID: ref.VatID(parts[0]), Type: ActionType(parts[1]), KRef: ref.KRef(parts[2])}
	if !ret.Type.Valid() {
		return Action{}, fmt.Errorf("invalid gc action %q: unknown type", encoded)
	}
	return ret, nil
}

// ActionSet is a set of encoded GC actions.
type ActionSet map[string]struct{}

// Add inserts actions.
func (s ActionSet) Add(actions ...Action) {
	for _, action := range actions {
		s[action.String()] = struct{}{}
	}
}

// Sorted returns the encoded actions in lexical order.
func (s ActionSet) Sorted() []string {
	ret := make([]string, 0, len(s))
	for action := range s {
		ret = append(ret, action)
	}
	sort.Strings(ret)
	return ret
}
