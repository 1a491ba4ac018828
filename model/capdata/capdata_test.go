package capdata

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolution_JSON(t *testing.T) {
	resolution := Resolution{Ref: "p-1", Rejected: true, Value: Error("no vat")}
	data, err := json.Marshal(resolution)
	require.NoError(t, err)
	assert.JSONEq(t, `["p-1",true,{"body":"#{\"#error\":\"no vat\",\"name\":\"Error\"}","slots":[]}]`, string(data))

	var decoded Resolution
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, resolution, decoded)

	assert.Error(t, json.Unmarshal([]byte(`["p-1",true]`), &decoded))
}

func TestMethargs(t *testing.T) {
	methargs, err := Methargs("bootstrap", []interface{}{map[string]string{"alice": "$0", "bob": "$1"}}, "ko1", "ko2")
	require.NoError(t, err)
	assert.Equal(t, []string{"ko1", "ko2"}, methargs.Slots)
	method, err := Method(methargs)
	require.NoError(t, err)
	assert.Equal(t, "bootstrap", method)

	empty, err := Methargs("ping", nil)
	require.NoError(t, err)
	assert.Equal(t, `#["ping",[]]`, empty.Body)
	assert.Equal(t, []string{}, empty.Slots)
}

func TestSingleReference(t *testing.T) {
	testCases := []struct {
		name   string
		data   CapData
		expect string
		ok     bool
	}{
		{name: "bare", data: Reference("ko3", ""), expect: "ko3", ok: true},
		{name: "alleged", data: Reference("ko4", "Alleged: root"), expect: "ko4", ok: true},
		{name: "data", data: MustEncode("hello"), ok: false},
		{name: "record with slot", data: CapData{Body: `#{"x":"$0"}`, Slots: []string{"ko1"}}, ok: false},
		{name: "legacy body", data: CapData{Body: `{"@qclass":"slot"}`, Slots: []string{"ko1"}}, ok: false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			actual, ok := SingleReference(tc.data)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.expect, actual)
		})
	}
}

func TestMessage_Clone(t *testing.T) {
	result := "kp1"
	msg := Message{Methargs: CapData{Body: "#[]", Slots: []string{"ko1"}}, Result: &result}
	clone := msg.Clone()
	clone.Methargs.Slots[0] = "ko2"
	*clone.Result = "kp2"
	assert.Equal(t, "ko1", msg.Methargs.Slots[0])
	assert.Equal(t, "kp1", msg.ResultRef())
	assert.Equal(t, "", Message{}.ResultRef())
}
