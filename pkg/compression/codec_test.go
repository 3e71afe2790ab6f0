package compression

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte(`{"key":"value","count":42}`), 50)

	for _, typ := range []Type{TypeNone, TypeGzip, TypeBzip2, TypeXz} {
		c, err := NewCodec(typ, DefaultLevel)
		require.NoError(t, err)

		compressed, err := c.Compress(payload)
		require.NoError(t, err)

		out, err := c.Decompress(compressed)
		require.NoError(t, err)
		assert.Equal(t, payload, out, "round trip mismatch for %s", typ)
	}
}

func TestCompressShrinksRepetitiveData(t *testing.T) {
	payload := bytes.Repeat([]byte("abcdefgh"), 125) // 1000 bytes

	for _, typ := range []Type{TypeGzip, TypeBzip2, TypeXz} {
		c, err := NewCodec(typ, DefaultLevel)
		require.NoError(t, err)
		compressed, err := c.Compress(payload)
		require.NoError(t, err)
		assert.Less(t, len(compressed), len(payload), "%s did not shrink payload", typ)
	}
}

func TestNoneIsIdentity(t *testing.T) {
	c, err := NewCodec(TypeNone, 0)
	require.NoError(t, err)
	data := []byte("untouched")
	out, err := c.Compress(data)
	require.NoError(t, err)
	assert.Equal(t, data, out)
	assert.Equal(t, "", c.Ext())
}

func TestExt(t *testing.T) {
	for typ, want := range map[Type]string{
		TypeNone:  "",
		TypeGzip:  ".gz",
		TypeBzip2: ".bz2",
		TypeXz:    ".xz",
	} {
		c, err := NewCodec(typ, DefaultLevel)
		require.NoError(t, err)
		assert.Equal(t, want, c.Ext())
	}
}

func TestParseType(t *testing.T) {
	typ, err := ParseType("gzip")
	require.NoError(t, err)
	assert.Equal(t, TypeGzip, typ)

	typ, err = ParseType("")
	require.NoError(t, err)
	assert.Equal(t, TypeNone, typ)

	_, err = ParseType("zstd")
	assert.Error(t, err)
}

func TestNewCodecRejectsUnknownType(t *testing.T) {
	_, err := NewCodec("snappy", DefaultLevel)
	assert.Error(t, err)
}
