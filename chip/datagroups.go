package chip

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// Elementary file identifiers within the eMRTD application.
const (
	FileCardAccess uint16 = 0x011C
	FileCOM        uint16 = 0x011E
	FileSOD        uint16 = 0x011D
	FileDG1        uint16 = 0x0101
	FileDG2        uint16 = 0x0102
	FileDG11       uint16 = 0x010B
	FileDG12       uint16 = 0x010C
	FileDG15       uint16 = 0x010F
)

// aidEMRTD is the ICAO machine readable travel document application.
var aidEMRTD = []byte{0xA0, 0x00, 0x00, 0x02, 0x47, 0x10, 0x01}

// readBinaryChunk caps Le per READ BINARY; some chips reject larger reads.
const readBinaryChunk = 0xE0

// selectApplication selects the eMRTD applet by AID.
func selectApplication(ctx context.Context, transport Transport) error {
	response, err := exchange(ctx, transport, Command{
		CLA: 0x00, INS: insSelect, P1: 0x04, P2: 0x0C, Data: aidEMRTD, Le: -1,
	})
	if err != nil {
		return err
	}
	if err := response.Err(); err != nil {
		return fmt.Errorf("select application: %w", err)
	}
	return nil
}

// readCardAccess fetches EF.CardAccess in the clear. The file sits outside
// the protected application, so a missing file simply means no PACE.
func readCardAccess(ctx context.Context, transport Transport) []byte {
	selectCmd := Command{
		CLA: 0x00, INS: insSelect, P1: 0x02, P2: 0x0C,
		Data: []byte{byte(FileCardAccess >> 8), byte(FileCardAccess & 0xFF)}, Le: -1,
	}
	response, err := exchange(ctx, transport, selectCmd)
	if err != nil || !response.IsSuccess() {
		return nil
	}

	var content []byte
	for offset := 0; offset < 0x7FFF; offset += readBinaryChunk {
		chunk, err := exchange(ctx, transport, Command{
			CLA: 0x00, INS: insReadBinary,
			P1: byte(offset >> 8), P2: byte(offset), Le: readBinaryChunk,
		})
		if err != nil || len(chunk.Data) == 0 {
			break
		}
		content = append(content, chunk.Data...)
		if !chunk.IsSuccess() || len(chunk.Data) < readBinaryChunk {
			break
		}
	}
	return content
}

// readFile selects an elementary file and reads it through the secure
// channel: the first four bytes give the TLV header, the rest follows in
// bounded chunks.
func readFile(ctx context.Context, transport Transport, channel *secureChannel, fileID uint16) ([]byte, error) {
	response, err := secureExchange(ctx, transport, channel, Command{
		CLA: 0x00, INS: insSelect, P1: 0x02, P2: 0x0C,
		Data: []byte{byte(fileID >> 8), byte(fileID)}, Le: -1,
	})
	if err != nil {
		return nil, err
	}
	if err := response.Err(); err != nil {
		return nil, fmt.Errorf("%w: select file %04X: %v", ErrDataGroupRead, fileID, err)
	}

	header, err := readBinary(ctx, transport, channel, 0, 4)
	if err != nil {
		return nil, err
	}

	_, length, headerLen, err := tlvHeader(header)
	if err != nil {
		return nil, err
	}
	total := headerLen + length

	content := append([]byte{}, header...)
	for len(content) < total {
		want := total - len(content)
		if want > readBinaryChunk {
			want = readBinaryChunk
		}
		chunk, err := readBinary(ctx, transport, channel, len(content), want)
		if err != nil {
			return nil, err
		}
		if len(chunk) == 0 {
			return nil, fmt.Errorf("%w: file %04X truncated at offset %d", ErrDataGroupRead, fileID, len(content))
		}
		content = append(content, chunk...)
	}

	slog.Debug("Read elementary file", "file_id", fmt.Sprintf("%04X", fileID), "size", len(content))
	return content[:total], nil
}

func readBinary(ctx context.Context, transport Transport, channel *secureChannel, offset, length int) ([]byte, error) {
	response, err := secureExchange(ctx, transport, channel, Command{
		CLA: 0x00, INS: insReadBinary,
		P1: byte(offset >> 8), P2: byte(offset), Le: length,
	})
	if err != nil {
		return nil, err
	}
	if err := response.Err(); err != nil {
		return nil, fmt.Errorf("%w: read binary at %d: %v", ErrDataGroupRead, offset, err)
	}
	return response.Data, nil
}

// parseDG1 extracts the two machine readable zone lines from DG1. The
// chip stores them concatenated under tag 5F1F inside tag 61.
func parseDG1(data []byte) (line1, line2 string, err error) {
	value, err := tlvLookup(data, 0x61, 0x5F1F)
	if err != nil {
		return "", "", err
	}
	if len(value) != 88 {
		return "", "", fmt.Errorf("%w: DG1 holds %d MRZ characters, want 88", ErrDataGroupRead, len(value))
	}
	return string(value[:44]), string(value[44:]), nil
}

// PersonalDetails carries the optional DG11 fields a chip may provide.
type PersonalDetails struct {
	FullName     string
	PlaceOfBirth string
	Address      string
}

// DocumentDetails carries the optional DG12 fields.
type DocumentDetails struct {
	IssuingAuthority string
	DateOfIssue      string
}

// parseDG11 decodes the additional personal details file. All fields are
// optional; text is Latin-1 per the LDS.
func parseDG11(data []byte) (PersonalDetails, error) {
	body, err := tlvLookup(data, 0x6B)
	if err != nil {
		return PersonalDetails{}, err
	}
	nodes, err := tlvParse(body)
	if err != nil {
		return PersonalDetails{}, err
	}

	details := PersonalDetails{}
	if value, ok := tlvFind(nodes, 0x5F0E); ok {
		details.FullName = decodeLatin1(value)
	}
	if value, ok := tlvFind(nodes, 0x5F11); ok {
		details.PlaceOfBirth = decodeLatin1(value)
	}
	if value, ok := tlvFind(nodes, 0x5F42); ok {
		details.Address = decodeLatin1(value)
	}
	return details, nil
}

// parseDG12 decodes the additional document details file.
func parseDG12(data []byte) (DocumentDetails, error) {
	body, err := tlvLookup(data, 0x6C)
	if err != nil {
		return DocumentDetails{}, err
	}
	nodes, err := tlvParse(body)
	if err != nil {
		return DocumentDetails{}, err
	}

	details := DocumentDetails{}
	if value, ok := tlvFind(nodes, 0x5F19); ok {
		details.IssuingAuthority = decodeLatin1(value)
	}
	if value, ok := tlvFind(nodes, 0x5F26); ok {
		details.DateOfIssue = decodeLatin1(value)
	}
	return details, nil
}

func decodeLatin1(value []byte) string {
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(value)
	if err != nil {
		return strings.TrimSpace(string(value))
	}
	return strings.TrimSpace(string(decoded))
}
