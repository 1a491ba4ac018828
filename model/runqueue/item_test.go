package runqueue

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/ocap/model/capdata"
	"github.com/viant/ocap/model/ref"
)

func TestItem_Validate(t *testing.T) {
	testCases := []struct {
		name      string
		item      *Item
		expectErr bool
	}{
		{name: "send", item: Send("ko1", capdata.Message{Methargs: capdata.MustEncode([]interface{}{"ping", []interface{}{}})})},
		{name: "send without target", item: &Item{Type: TypeSend, Message: &capdata.Message{}}, expectErr: true},
		{name: "notify", item: Notify("v1", "kp1")},
		{name: "notify without kpid", item: &Item{Type: TypeNotify, VatID: "v1"}, expectErr: true},
		{name: "drop exports", item: GCItem(DropExport, "v1", []ref.KRef{"ko1"})},
		{name: "retire imports without krefs", item: GCItem(RetireImport, "v1", nil), expectErr: true},
		{name: "reap", item: BringOutYourDead("v2")},
		{name: "unknown", item: &Item{Type: "bogus"}, expectErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.item.Validate()
			if tc.expectErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			data, err := json.Marshal(tc.item)
			require.NoError(t, err)
			decoded := &Item{}
			require.NoError(t, json.Unmarshal(data, decoded))
			assert.Equal(t, tc.item, decoded)
		})
	}
}

func TestAction(t *testing.T) {
	action, err := ParseAction("v3 retireExport ko9")
	require.NoError(t, err)
	assert.Equal(t, Action{VatID: "v3", Type: RetireExport, KRef: "ko9"}, action)
	assert.Equal(t, "v3 retireExport ko9", action.String())
	assert.Equal(t, TypeRetireExports, action.Type.ItemType())

	_, err = ParseAction("v3 explode ko9")
	assert.Error(t, err)
	_, err = ParseAction("v3 dropExport")
	assert.Error(t, err)

	set := ActionSet{}
	set.Add(Action{VatID: "v2", Type: RetireImport, KRef: "ko1"}, Action{VatID: "v1", Type: DropExport, KRef: "ko2"})
	set.Add(Action{VatID: "v1", Type: DropExport, KRef: "ko2"})
	assert.Equal(t, []string{"v1 dropExport ko2", "v2 retireImport ko1"}, set.Sorted())
}
