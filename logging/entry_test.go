package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestEntry_RoundTrip(t *testing.T) {
	message := "vat started"
	testCases := []struct {
		name   string
		entry  Entry
		expect string
	}{
		{
			name:   "full",
			entry:  Entry{Level: LevelInfo, Tags: []string{"v1", "liveslots"}, Message: &message, Data: []interface{}{"x", float64(2)}},
			expect: `["lser","info",["v1","liveslots"],"vat started",["x",2]]`,
		},
		{
			name:   "absent message",
			entry:  Entry{Level: LevelWarn, Tags: []string{}, Data: []interface{}{true}},
			expect: `["lser","warn",[],null,[true]]`,
		},
		{
			name:   "absent data",
			entry:  Entry{Level: LevelError, Tags: []string{"kernel"}, Message: &message},
			expect: `["lser","error",["kernel"],"vat started",null]`,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			serialized, err := Serialize(tc.entry)
			require.NoError(t, err)
			assert.JSONEq(t, tc.expect, serialized)
			actual, err := Deserialize(serialized)
			require.NoError(t, err)
			assert.Equal(t, tc.entry, actual)
		})
	}
}

func TestDeserialize_Invalid(t *testing.T) {
	for _, input := range []string{`{}`, `["lser","info"]`, `["other","info",[],null,null]`, `["lser",1,[],null,null]`} {
		_, err := Deserialize(input)
		assert.Error(t, err, input)
	}
}

func TestWrite(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	message := "hello"
	Write(zap.New(core), Entry{Level: LevelWarn, Tags: []string{"v1"}, Message: &message}, zap.String("vatId", "v1"))
	Write(zap.New(core), Entry{Level: LevelLog})
	entries := logs.AllUntimed()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, "hello", entries[0].Message)
	assert.Equal(t, "v1", entries[0].ContextMap()["vatId"])
	assert.Equal(t, zapcore.InfoLevel, entries[1].Level)
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.Error(t, Config{Level: "loud", Encoding: "json"}.Validate())
	assert.Error(t, Config{Level: "info", Encoding: "xml"}.Validate())
	logger, err := New(Config{Level: "debug", Encoding: "console", OutputPaths: []string{"stderr"}})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))
}
