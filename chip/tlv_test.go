package chip

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTLVParse(t *testing.T) {
	t.Run("single byte tag", func(t *testing.T) {
		nodes, err := tlvParse([]byte{0x61, 0x02, 0xAA, 0xBB})
		require.NoError(t, err)
		require.Len(t, nodes, 1)
		require.Equal(t, 0x61, nodes[0].Tag)
		require.Equal(t, []byte{0xAA, 0xBB}, nodes[0].Value)
	})

	t.Run("multi byte tag", func(t *testing.T) {
		nodes, err := tlvParse([]byte{0x5F, 0x1F, 0x01, 0x50})
		require.NoError(t, err)
		require.Equal(t, 0x5F1F, nodes[0].Tag)
	})

	t.Run("long form length", func(t *testing.T) {
		value := bytes.Repeat([]byte{0x42}, 300)
		data := append([]byte{0x75, 0x82, 0x01, 0x2C}, value...)
		nodes, err := tlvParse(data)
		require.NoError(t, err)
		require.Equal(t, value, nodes[0].Value)
	})

	t.Run("siblings", func(t *testing.T) {
		nodes, err := tlvParse([]byte{0x01, 0x01, 0xAA, 0x02, 0x01, 0xBB})
		require.NoError(t, err)
		require.Len(t, nodes, 2)
	})

	t.Run("overrun fails", func(t *testing.T) {
		_, err := tlvParse([]byte{0x61, 0x05, 0xAA})
		require.ErrorIs(t, err, ErrDataGroupRead)
	})

	t.Run("truncated length fails", func(t *testing.T) {
		_, err := tlvParse([]byte{0x61})
		require.ErrorIs(t, err, ErrDataGroupRead)
	})
}

func TestTLVLookup(t *testing.T) {
	// 61 { 5F1F "MRZ" }
	inner := tlvEncode(0x5F1F, []byte("MRZ"))
	data := tlvEncode(0x61, inner)

	value, err := tlvLookup(data, 0x61, 0x5F1F)
	require.NoError(t, err)
	require.Equal(t, []byte("MRZ"), value)

	_, err = tlvLookup(data, 0x61, 0x5F20)
	require.ErrorIs(t, err, ErrDataGroupRead)
}

func TestTLVEncode(t *testing.T) {
	t.Run("short length", func(t *testing.T) {
		require.Equal(t, []byte{0x87, 0x02, 0x01, 0x02}, tlvEncode(0x87, []byte{0x01, 0x02}))
	})

	t.Run("two byte tag", func(t *testing.T) {
		out := tlvEncode(0x7F49, []byte{0xAA})
		require.Equal(t, []byte{0x7F, 0x49, 0x01, 0xAA}, out)
	})

	t.Run("long form length", func(t *testing.T) {
		out := tlvEncode(0x04, bytes.Repeat([]byte{0}, 200))
		require.Equal(t, []byte{0x04, 0x81, 0xC8}, out[:3])
	})

	t.Run("round trip", func(t *testing.T) {
		value := bytes.Repeat([]byte{0x31}, 500)
		nodes, err := tlvParse(tlvEncode(0x5F2E, value))
		require.NoError(t, err)
		require.Equal(t, 0x5F2E, nodes[0].Tag)
		require.Equal(t, value, nodes[0].Value)
	})
}
