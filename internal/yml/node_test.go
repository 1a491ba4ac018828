package yml

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNode_Keys(t *testing.T) {
	node, err := Parse([]byte("b: 1\na:\n  y: true\n  x: false\nc: [1, 2]\n"))
	require.NoError(t, err)

	keys, err := node.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a", "c"}, keys)

	keys, err = node.Lookup("a").Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"y", "x"}, keys)

	assert.Nil(t, node.Lookup("missing"))
	_, err = node.Lookup("c").Keys()
	assert.Error(t, err)

	var values []int
	require.NoError(t, node.Lookup("c").Decode(&values))
	assert.Equal(t, []int{1, 2}, values)
}

func TestParse(t *testing.T) {
	node, err := Parse([]byte(`{"z": 1, "m": 2}`))
	require.NoError(t, err)
	keys, err := node.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"z", "m"}, keys)

	node, err = Parse(nil)
	require.NoError(t, err)
	keys, err = node.Keys()
	require.NoError(t, err)
	assert.Empty(t, keys)

	_, err = Parse([]byte("a: [1"))
	assert.Error(t, err)
}
