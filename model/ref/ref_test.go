package ref

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestERef_Parse(t *testing.T) {
	testCases := []struct {
		name      string
		eref      ERef
		expect    Parsed
		expectErr bool
	}{
		{name: "vat export object", eref: "o+3", expect: Parsed{Direction: Export, Index: 3}},
		{name: "vat import object", eref: "o-12", expect: Parsed{Direction: Import, Index: 12}},
		{name: "vat export promise", eref: "p+1", expect: Parsed{IsPromise: true, Direction: Export, Index: 1}},
		{name: "remote import promise", eref: "rp-4", expect: Parsed{Remote: true, IsPromise: true, Direction: Import, Index: 4}},
		{name: "bad type", eref: "x+1", expectErr: true},
		{name: "bad direction", eref: "o*1", expectErr: true},
		{name: "bad index", eref: "o+z", expectErr: true},
		{name: "too short", eref: "o+", expectErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			actual, err := tc.eref.Parse()
			if tc.expectErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.expect, actual)
			assert.Equal(t, tc.eref, NewERef(actual.Remote, actual.IsPromise, actual.Direction, actual.Index))
		})
	}
}

func TestKRef(t *testing.T) {
	assert.True(t, KRef("kp7").IsPromise())
	assert.True(t, KRef("ko7").IsObject())
	assert.False(t, KRef("ko7").IsPromise())
	id, err := ObjectKRef(42).ID()
	assert.NoError(t, err)
	assert.Equal(t, 42, id)
	_, err = KRef("v1").ID()
	assert.Error(t, err)
	assert.Equal(t, KRef("kp3"), PromiseKRef(3))
}

func TestEndpointID(t *testing.T) {
	assert.True(t, EndpointID("v1").IsVat())
	assert.True(t, EndpointID("r0").IsRemote())
	assert.False(t, EndpointID("r0").IsVat())
}
