package chip

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDG1(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		file := tlvEncode(0x61, tlvEncode(0x5F1F, []byte(testMRZLine1+testMRZLine2)))
		line1, line2, err := parseDG1(file)
		require.NoError(t, err)
		require.Equal(t, testMRZLine1, line1)
		require.Equal(t, testMRZLine2, line2)
	})

	t.Run("wrong length", func(t *testing.T) {
		file := tlvEncode(0x61, tlvEncode(0x5F1F, []byte("TOO SHORT")))
		_, _, err := parseDG1(file)
		require.ErrorIs(t, err, ErrDataGroupRead)
	})

	t.Run("missing zone tag", func(t *testing.T) {
		file := tlvEncode(0x61, tlvEncode(0x5F20, []byte("WRONG TAG")))
		_, _, err := parseDG1(file)
		require.ErrorIs(t, err, ErrDataGroupRead)
	})
}

func TestParseDG11(t *testing.T) {
	file := tlvEncode(0x6B, append(
		tlvEncode(0x5F0E, []byte("ERIKSSON<<ANNA<MARIA")),
		tlvEncode(0x5F11, append([]byte("ZEN"), 0xD6, 'B', 'A', 'D'))..., // Latin-1 Ö
	))

	details, err := parseDG11(file)
	require.NoError(t, err)
	require.Equal(t, "ERIKSSON<<ANNA<MARIA", details.FullName)
	require.Equal(t, "ZENÖBAD", details.PlaceOfBirth)
	require.Empty(t, details.Address)
}

func TestParseDG12(t *testing.T) {
	file := tlvEncode(0x6C, append(
		tlvEncode(0x5F19, []byte("UTOPIA PASSPORT OFFICE")),
		tlvEncode(0x5F26, []byte("20200101"))...,
	))

	details, err := parseDG12(file)
	require.NoError(t, err)
	require.Equal(t, "UTOPIA PASSPORT OFFICE", details.IssuingAuthority)
	require.Equal(t, "20200101", details.DateOfIssue)
}

func TestParseDG11WrongOuterTag(t *testing.T) {
	_, err := parseDG11(tlvEncode(0x6C, nil))
	require.ErrorIs(t, err, ErrDataGroupRead)
}
