package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalIsDeterministic(t *testing.T) {
	first := map[string]uint64{"b": 2, "a": 1, "c": 3}
	second := map[string]uint64{"c": 3, "a": 1, "b": 2}

	left, err := Marshal(first)
	require.NoError(t, err)
	right, err := Marshal(second)
	require.NoError(t, err)

	assert.Equal(t, left, right)
}

func TestUnmarshalAnyUsesStringMaps(t *testing.T) {
	data, err := Marshal(map[string]any{"user": map[string]any{"name": "alice"}})
	require.NoError(t, err)

	var decoded any
	require.NoError(t, Unmarshal(data, &decoded))

	top, ok := decoded.(map[string]any)
	require.True(t, ok)
	user, ok := top["user"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "alice", user["name"])
}
