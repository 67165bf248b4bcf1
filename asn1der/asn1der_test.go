package asn1der

import (
	"bytes"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeInteger(t *testing.T) {
	t.Run("300 needs two content bytes", func(t *testing.T) {
		encoded, err := Encode(Integer(300))
		require.NoError(t, err)
		require.Equal(t, []byte{0x02, 0x02, 0x01, 0x2C}, encoded)
	})

	t.Run("zero encodes as a single zero byte", func(t *testing.T) {
		encoded, err := Encode(Integer(0))
		require.NoError(t, err)
		require.Equal(t, []byte{0x02, 0x01, 0x00}, encoded)
	})

	t.Run("high bit forces a sign pad byte", func(t *testing.T) {
		encoded, err := Encode(Integer(128))
		require.NoError(t, err)
		require.Equal(t, []byte{0x02, 0x02, 0x00, 0x80}, encoded)
	})

	t.Run("127 needs no pad byte", func(t *testing.T) {
		encoded, err := Encode(Integer(127))
		require.NoError(t, err)
		require.Equal(t, []byte{0x02, 0x01, 0x7F}, encoded)
	})
}

func TestEncodeObjectIdentifier(t *testing.T) {
	t.Run("rsaEncryption OID", func(t *testing.T) {
		encoded, err := Encode(ObjectIdentifier{1, 2, 840, 113549, 1, 1, 1})
		require.NoError(t, err)
		require.Equal(t, []byte{0x06, 0x09, 0x2A, 0x86, 0x48, 0x86, 0xF7, 0x0D, 0x01, 0x01, 0x01}, encoded)
	})

	t.Run("commonName OID", func(t *testing.T) {
		encoded, err := Encode(ObjectIdentifier{2, 5, 4, 3})
		require.NoError(t, err)
		require.Equal(t, []byte{0x06, 0x03, 0x55, 0x04, 0x03}, encoded)
	})

	t.Run("single component is rejected", func(t *testing.T) {
		_, err := Encode(ObjectIdentifier{1})
		require.ErrorIs(t, err, ErrEncoding)
	})
}

func TestEncodeStrings(t *testing.T) {
	t.Run("printable string accepts ASCII", func(t *testing.T) {
		encoded, err := Encode(PrintableString("HELLO123"))
		require.NoError(t, err)
		require.Equal(t, append([]byte{0x13, 0x08}, []byte("HELLO123")...), encoded)
	})

	t.Run("printable string rejects non ASCII", func(t *testing.T) {
		_, err := Encode(PrintableString("héllo"))
		require.ErrorIs(t, err, ErrEncoding)
	})

	t.Run("utf8 string passes raw bytes through", func(t *testing.T) {
		encoded, err := Encode(Utf8String("héllo"))
		require.NoError(t, err)
		require.Equal(t, append([]byte{0x0C, 0x06}, []byte("héllo")...), encoded)
	})
}

func TestEncodeConstructed(t *testing.T) {
	t.Run("sequence concatenates children in order", func(t *testing.T) {
		encoded, err := Encode(Sequence{Integer(1), Null{}})
		require.NoError(t, err)
		require.Equal(t, []byte{0x30, 0x05, 0x02, 0x01, 0x01, 0x05, 0x00}, encoded)
	})

	t.Run("set does not reorder children", func(t *testing.T) {
		encoded, err := Encode(Set{Integer(2), Integer(1)})
		require.NoError(t, err)
		require.Equal(t, []byte{0x31, 0x06, 0x02, 0x01, 0x02, 0x02, 0x01, 0x01}, encoded)
	})

	t.Run("child error propagates", func(t *testing.T) {
		_, err := Encode(Sequence{PrintableString("ü")})
		require.ErrorIs(t, err, ErrEncoding)
	})
}

func TestEncodeLongFormLength(t *testing.T) {
	t.Run("127 bytes stays short form", func(t *testing.T) {
		encoded, err := Encode(BitString(make([]byte, 127)))
		require.NoError(t, err)
		require.Equal(t, []byte{0x03, 0x7F}, encoded[:2])
		require.Len(t, encoded, 2+127)
	})

	t.Run("128 bytes switches to long form", func(t *testing.T) {
		encoded, err := Encode(BitString(make([]byte, 128)))
		require.NoError(t, err)
		require.Equal(t, []byte{0x03, 0x81, 0x80}, encoded[:3])
		require.Len(t, encoded, 3+128)
	})

	t.Run("multi byte length is big endian", func(t *testing.T) {
		encoded, err := Encode(BitString(make([]byte, 0x0123)))
		require.NoError(t, err)
		require.Equal(t, []byte{0x03, 0x82, 0x01, 0x23}, encoded[:4])
	})
}

func TestEncodeRaw(t *testing.T) {
	t.Run("context specific constructed tag", func(t *testing.T) {
		encoded, err := Encode(Raw{Class: ClassContextSpecific, TagNumber: 0, Constructed: true, Bytes: []byte{0xAA}})
		require.NoError(t, err)
		require.Equal(t, []byte{0xA0, 0x01, 0xAA}, encoded)
	})

	t.Run("tag number 31 and above is unsupported", func(t *testing.T) {
		_, err := Encode(Raw{Class: ClassUniversal, TagNumber: 31})
		require.ErrorIs(t, err, ErrEncoding)
	})
}

func TestBuildCertificateRequest(t *testing.T) {
	publicKey := []byte{0x30, 0x0D, 0x02, 0x01, 0x11, 0x02, 0x01, 0x03}

	t.Run("encodes a sequence with version zero", func(t *testing.T) {
		der, err := BuildCertificateRequest(RequestSubject{
			CommonName:   "device-1234",
			Organization: "Example Org",
			Country:      "NL",
			SerialNumber: "ABC123",
		}, publicKey)
		require.NoError(t, err)

		require.Equal(t, byte(0x30), der[0])
		// Version Integer(0) directly after the outer header.
		require.Contains(t, string(der), string([]byte{0x02, 0x01, 0x00}))
		// Key material is carried inside the bit string with a zero
		// unused-bits byte.
		require.True(t, bytes.Contains(der, append([]byte{0x00}, publicKey...)))
	})

	t.Run("non ASCII country fails encoding", func(t *testing.T) {
		_, err := BuildCertificateRequest(RequestSubject{Country: "Ñ"}, publicKey)
		require.ErrorIs(t, err, ErrEncoding)
	})

	t.Run("missing key material is rejected", func(t *testing.T) {
		_, err := BuildCertificateRequest(RequestSubject{CommonName: "x"}, nil)
		require.ErrorIs(t, err, ErrEncoding)
	})

	t.Run("PEM wrapping round trips", func(t *testing.T) {
		der, err := BuildCertificateRequest(RequestSubject{CommonName: "device"}, publicKey)
		require.NoError(t, err)

		block, rest := pem.Decode([]byte(RequestToPEM(der)))
		require.NotNil(t, block)
		require.Empty(t, rest)
		require.Equal(t, "CERTIFICATE REQUEST", block.Type)
		require.Equal(t, der, block.Bytes)
	})
}
