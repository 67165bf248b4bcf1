package chip

import (
	"fmt"
)

// tlvNode is one BER-TLV data object. Data group files nest these; tags
// may be multi byte (e.g. 0x5F2E), lengths use definite short/long form.
type tlvNode struct {
	Tag   int
	Value []byte
}

// tlvParse splits data into its top level TLV nodes.
func tlvParse(data []byte) ([]tlvNode, error) {
	var nodes []tlvNode
	offset := 0
	for offset < len(data) {
		tag, length, headerLen, err := tlvHeader(data[offset:])
		if err != nil {
			return nil, err
		}
		start := offset + headerLen
		if start+length > len(data) {
			return nil, fmt.Errorf("%w: TLV value of tag %04X overruns buffer", ErrDataGroupRead, tag)
		}
		nodes = append(nodes, tlvNode{Tag: tag, Value: data[start : start+length]})
		offset = start + length
	}
	return nodes, nil
}

// tlvHeader decodes the tag and length fields at the start of data.
func tlvHeader(data []byte) (tag, length, headerLen int, err error) {
	if len(data) == 0 {
		return 0, 0, 0, fmt.Errorf("%w: empty TLV header", ErrDataGroupRead)
	}

	tag = int(data[0])
	headerLen = 1
	if data[0]&0x1F == 0x1F {
		// Multi byte tag: continue while the high bit is set.
		for {
			if headerLen >= len(data) {
				return 0, 0, 0, fmt.Errorf("%w: truncated TLV tag", ErrDataGroupRead)
			}
			tag = tag<<8 | int(data[headerLen])
			headerLen++
			if data[headerLen-1]&0x80 == 0 {
				break
			}
		}
	}

	if headerLen >= len(data) {
		return 0, 0, 0, fmt.Errorf("%w: missing TLV length", ErrDataGroupRead)
	}

	first := data[headerLen]
	headerLen++
	if first < 0x80 {
		return tag, int(first), headerLen, nil
	}

	numBytes := int(first & 0x7F)
	if numBytes == 0 || numBytes > 4 {
		return 0, 0, 0, fmt.Errorf("%w: unsupported TLV length form %02X", ErrDataGroupRead, first)
	}
	if headerLen+numBytes > len(data) {
		return 0, 0, 0, fmt.Errorf("%w: truncated TLV length", ErrDataGroupRead)
	}
	for i := 0; i < numBytes; i++ {
		length = length<<8 | int(data[headerLen+i])
	}
	return tag, length, headerLen + numBytes, nil
}

// tlvFind returns the first node with the given tag, searching this level
// only.
func tlvFind(nodes []tlvNode, tag int) ([]byte, bool) {
	for _, node := range nodes {
		if node.Tag == tag {
			return node.Value, true
		}
	}
	return nil, false
}

// tlvLookup descends through nested constructed values along the tag path.
func tlvLookup(data []byte, path ...int) ([]byte, error) {
	current := data
	for _, tag := range path {
		nodes, err := tlvParse(current)
		if err != nil {
			return nil, err
		}
		value, ok := tlvFind(nodes, tag)
		if !ok {
			return nil, fmt.Errorf("%w: tag %04X not found", ErrDataGroupRead, tag)
		}
		current = value
	}
	return current, nil
}

// tlvEncode assembles one data object with definite length encoding.
func tlvEncode(tag int, value []byte) []byte {
	var out []byte
	if tag > 0xFF {
		out = append(out, byte(tag>>8))
	}
	out = append(out, byte(tag))

	n := len(value)
	switch {
	case n < 0x80:
		out = append(out, byte(n))
	case n <= 0xFF:
		out = append(out, 0x81, byte(n))
	default:
		out = append(out, 0x82, byte(n>>8), byte(n))
	}
	return append(out, value...)
}
