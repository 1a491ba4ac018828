package vat

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/ocap/model/capdata"
	"github.com/viant/ocap/model/ref"
)

func TestDelivery_JSON(t *testing.T) {
	result := "p-1"
	testCases := []struct {
		name     string
		delivery *Delivery
		expect   string
	}{
		{
			name:     "message",
			delivery: MessageDelivery("o+0", capdata.Message{Methargs: capdata.CapData{Body: `#["ping",[]]`, Slots: []string{}}, Result: &result}),
			expect:   `["message","o+0",{"methargs":{"body":"#[\"ping\",[]]","slots":[]},"result":"p-1"}]`,
		},
		{
			name:     "notify",
			delivery: NotifyDelivery([]capdata.Resolution{{Ref: "p-1", Value: capdata.CapData{Body: `#"pong"`, Slots: []string{}}}}),
			expect:   `["notify",[["p-1",false,{"body":"#\"pong\"","slots":[]}]]]`,
		},
		{
			name:     "drop exports",
			delivery: GCDelivery(DeliveryDropExports, []ref.ERef{"o+1", "o+2"}),
			expect:   `["dropExports",["o+1","o+2"]]`,
		},
		{
			name:     "reap",
			delivery: BringOutYourDeadDelivery(),
			expect:   `["bringOutYourDead"]`,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := json.Marshal(tc.delivery)
			require.NoError(t, err)
			assert.JSONEq(t, tc.expect, string(data))
			decoded := &Delivery{}
			require.NoError(t, json.Unmarshal(data, decoded))
			assert.Equal(t, tc.delivery, decoded)
		})
	}
}

func TestDelivery_UnmarshalInvalid(t *testing.T) {
	for _, input := range []string{`[]`, `["bogus"]`, `["message","o+0"]`, `["notify",{}]`, `{}`} {
		assert.Error(t, json.Unmarshal([]byte(input), &Delivery{}), input)
	}
}

func TestCheckpoint_JSON(t *testing.T) {
	var checkpoint Checkpoint
	require.NoError(t, json.Unmarshal([]byte(`[[["a","1"]],["b"]]`), &checkpoint))
	assert.Equal(t, Checkpoint{Sets: [][2]string{{"a", "1"}}, Deletes: []string{"b"}}, checkpoint)
	assert.False(t, checkpoint.Empty())

	data, err := json.Marshal(Checkpoint{})
	require.NoError(t, err)
	assert.JSONEq(t, `[[],[]]`, string(data))
	assert.Error(t, json.Unmarshal([]byte(`[[]]`), &checkpoint))
}
