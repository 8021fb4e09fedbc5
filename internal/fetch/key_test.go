package fetch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKey(t *testing.T) {
	k, err := ParseKey("b!drive123,01ABCDEF")
	require.NoError(t, err)
	assert.Equal(t, "b!drive123", k.Container)
	assert.Equal(t, "01ABCDEF", k.Item)
	assert.Equal(t, "b!drive123,01ABCDEF", k.String())

	k, err = ParseKey(" bucket , path/to/object.pdf ")
	require.NoError(t, err)
	assert.Equal(t, Key{Container: "bucket", Item: "path/to/object.pdf"}, k)
}

func TestParseKey_Invalid(t *testing.T) {
	for _, raw := range []string{"", "abc", ",", "a,", ",b", " , ", "a,b,c", "a,,b"} {
		_, err := ParseKey(raw)
		assert.ErrorIs(t, err, ErrInvalidKey, "raw=%q", raw)
	}
}
