package chip

import (
	"context"
	"fmt"
)

// ISO 7816-4 instruction bytes used by the session.
const (
	insSelect              = 0xA4
	insReadBinary          = 0xB0
	insGetChallenge        = 0x84
	insExternalAuth        = 0x82
	insInternalAuth        = 0x88
	insGeneralAuthenticate = 0x86
	insMSESetAT            = 0x22
)

// Status words. Every response trailer is SW1 SW2; 0x9000 is success.
const (
	swSuccess           = 0x9000
	swFileNotFound      = 0x6A82
	swSecurityNotMet    = 0x6982
	swConditionsNotMet  = 0x6985
	swAuthMethodBlocked = 0x6983
	swWarningNoInfo     = 0x6300 // PACE token rejection
)

// Command is a command APDU: a four byte header plus optional data and
// expected length fields.
type Command struct {
	CLA  byte
	INS  byte
	P1   byte
	P2   byte
	Data []byte
	Le   int // -1 when absent; 0 encodes as 0x00 (up to 256 bytes wanted)
}

// Encode serializes the command in short form (extended length APDUs are
// not needed for the files this session reads).
func (c Command) Encode() ([]byte, error) {
	if len(c.Data) > 0xFF {
		return nil, fmt.Errorf("%w: command data exceeds short form (%d bytes)", ErrTransport, len(c.Data))
	}

	out := []byte{c.CLA, c.INS, c.P1, c.P2}
	if len(c.Data) > 0 {
		out = append(out, byte(len(c.Data)))
		out = append(out, c.Data...)
	}
	if c.Le >= 0 {
		if c.Le > 0x100 {
			return nil, fmt.Errorf("%w: Le %d exceeds short form", ErrTransport, c.Le)
		}
		out = append(out, byte(c.Le&0xFF)) // 0x00 means 256
	}
	return out, nil
}

// Response is a response APDU: optional data followed by SW1 SW2.
type Response struct {
	Data []byte
	SW   uint16
}

// ParseResponse splits a raw response into data and status word.
func ParseResponse(raw []byte) (Response, error) {
	if len(raw) < 2 {
		return Response{}, fmt.Errorf("%w: response shorter than the status word (%d bytes)", ErrTransport, len(raw))
	}
	return Response{
		Data: raw[:len(raw)-2],
		SW:   uint16(raw[len(raw)-2])<<8 | uint16(raw[len(raw)-1]),
	}, nil
}

// IsSuccess reports SW 0x9000.
func (r Response) IsSuccess() bool {
	return r.SW == swSuccess
}

// Err maps a non success status word to an error, nil otherwise.
func (r Response) Err() error {
	switch {
	case r.IsSuccess():
		return nil
	case r.SW == swFileNotFound:
		return fmt.Errorf("%w: file not found (SW %04X)", ErrDataGroupRead, r.SW)
	case r.SW == swSecurityNotMet || r.SW == swConditionsNotMet || r.SW == swAuthMethodBlocked || r.SW == swWarningNoInfo:
		return fmt.Errorf("%w: chip refused (SW %04X)", ErrAuthentication, r.SW)
	default:
		return fmt.Errorf("%w: SW %04X", ErrTransport, r.SW)
	}
}

// exchange encodes a command, transceives it and parses the response.
func exchange(ctx context.Context, transport Transport, command Command) (Response, error) {
	encoded, err := command.Encode()
	if err != nil {
		return Response{}, err
	}

	raw, err := transceive(ctx, transport, encoded)
	if err != nil {
		return Response{}, err
	}

	return ParseResponse(raw)
}
