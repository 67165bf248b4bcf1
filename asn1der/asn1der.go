// Package asn1der encodes ASN.1 values using the Distinguished Encoding
// Rules. It covers exactly the primitives needed by the certificate
// request structures this toolkit produces; multi byte tag numbers are
// deliberately unsupported.
package asn1der

import (
	"errors"
	"fmt"
)

// ErrEncoding indicates a value that cannot be represented in DER by this
// encoder, such as a non ASCII PrintableString or a tag number above 30.
var ErrEncoding = errors.New("ASN.1 encoding failed")

// Class is the tag class of a Raw value.
type Class int

const (
	ClassUniversal       Class = 0
	ClassApplication     Class = 1
	ClassContextSpecific Class = 2
	ClassPrivate         Class = 3
)

// Universal tag numbers used by the typed values below.
const (
	tagInteger         = 0x02
	tagBitString       = 0x03
	tagNull            = 0x05
	tagOID             = 0x06
	tagUtf8String      = 0x0C
	tagPrintableString = 0x13
	tagSequence        = 0x10
	tagSet             = 0x11
)

// Value is the sum type over the DER shapes this encoder understands.
// Values are immutable; Encode is a pure function of the value.
type Value interface {
	encode() ([]byte, error)
}

type (
	// Sequence encodes its children in the order given.
	Sequence []Value

	// Set encodes its children in the order given. DER requires sets to
	// be sorted by encoded value; ordering is the caller's responsibility.
	Set []Value

	// Integer encodes an unsigned value in minimal big endian form.
	Integer uint64

	// ObjectIdentifier holds the numeric components of an OID.
	ObjectIdentifier []uint64

	// Utf8String encodes the raw bytes of the string.
	Utf8String string

	// PrintableString encodes the raw bytes of the string and rejects
	// any character outside the ASCII range rather than transliterating.
	PrintableString string

	// Null encodes with zero length content.
	Null struct{}

	// BitString encodes its bytes verbatim; the unused bits count byte,
	// when required, is the caller's responsibility.
	BitString []byte

	// Raw encodes an arbitrary tag with caller supplied content.
	Raw struct {
		Class       Class
		TagNumber   int
		Constructed bool
		Bytes       []byte
	}
)

// Encode serializes v to its DER representation.
func Encode(v Value) ([]byte, error) {
	return v.encode()
}

// encodeTLV assembles tag byte, length field and content.
func encodeTLV(class Class, tagNumber int, constructed bool, content []byte) ([]byte, error) {
	if tagNumber < 0 || tagNumber > 0x1E {
		return nil, fmt.Errorf("%w: multi byte tag number %d not supported", ErrEncoding, tagNumber)
	}

	tag := byte(class)<<6 | byte(tagNumber)&0x1F
	if constructed {
		tag |= 0x20
	}

	out := append([]byte{tag}, encodeLength(len(content))...)
	return append(out, content...), nil
}

// encodeLength emits the definite length field: short form below 128,
// long form (0x80 | count, big endian bytes) otherwise.
func encodeLength(n int) []byte {
	if n < 0x80 {
		return []byte{byte(n)}
	}

	var lenBytes []byte
	for v := n; v > 0; v >>= 8 {
		lenBytes = append([]byte{byte(v)}, lenBytes...)
	}
	return append([]byte{0x80 | byte(len(lenBytes))}, lenBytes...)
}

func encodeChildren(children []Value) ([]byte, error) {
	var content []byte
	for i, child := range children {
		encoded, err := child.encode()
		if err != nil {
			return nil, fmt.Errorf("child %d: %w", i, err)
		}
		content = append(content, encoded...)
	}
	return content, nil
}

func (s Sequence) encode() ([]byte, error) {
	content, err := encodeChildren(s)
	if err != nil {
		return nil, err
	}
	return encodeTLV(ClassUniversal, tagSequence, true, content)
}

func (s Set) encode() ([]byte, error) {
	content, err := encodeChildren(s)
	if err != nil {
		return nil, err
	}
	return encodeTLV(ClassUniversal, tagSet, true, content)
}

func (i Integer) encode() ([]byte, error) {
	var content []byte
	for v := uint64(i); v > 0; v >>= 8 {
		content = append([]byte{byte(v)}, content...)
	}
	if len(content) == 0 {
		content = []byte{0x00}
	}
	// DER sign rule: a leading byte with the high bit set would read as
	// negative, so an unsigned value needs a zero pad byte.
	if content[0]&0x80 != 0 {
		content = append([]byte{0x00}, content...)
	}
	return encodeTLV(ClassUniversal, tagInteger, false, content)
}

func (oid ObjectIdentifier) encode() ([]byte, error) {
	if len(oid) < 2 {
		return nil, fmt.Errorf("%w: OID needs at least 2 components, got %d", ErrEncoding, len(oid))
	}
	if oid[0] > 2 || (oid[0] < 2 && oid[1] > 39) {
		return nil, fmt.Errorf("%w: invalid OID root %d.%d", ErrEncoding, oid[0], oid[1])
	}

	content := encodeBase128(40*oid[0] + oid[1])
	for _, component := range oid[2:] {
		content = append(content, encodeBase128(component)...)
	}
	return encodeTLV(ClassUniversal, tagOID, false, content)
}

// encodeBase128 emits a value in base 128 with the continuation bit set on
// every byte but the last.
func encodeBase128(v uint64) []byte {
	out := []byte{byte(v & 0x7F)}
	for v >>= 7; v > 0; v >>= 7 {
		out = append([]byte{byte(v&0x7F) | 0x80}, out...)
	}
	return out
}

func (s Utf8String) encode() ([]byte, error) {
	return encodeTLV(ClassUniversal, tagUtf8String, false, []byte(s))
}

func (s PrintableString) encode() ([]byte, error) {
	for i := 0; i < len(s); i++ {
		if s[i] > 0x7F {
			return nil, fmt.Errorf("%w: non ASCII byte 0x%02X in PrintableString", ErrEncoding, s[i])
		}
	}
	return encodeTLV(ClassUniversal, tagPrintableString, false, []byte(s))
}

func (Null) encode() ([]byte, error) {
	return encodeTLV(ClassUniversal, tagNull, false, nil)
}

func (b BitString) encode() ([]byte, error) {
	return encodeTLV(ClassUniversal, tagBitString, false, b)
}

func (r Raw) encode() ([]byte, error) {
	return encodeTLV(r.Class, r.TagNumber, r.Constructed, r.Bytes)
}
