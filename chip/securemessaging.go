package chip

import (
	"bytes"
	"context"
	"crypto/aes"
	"fmt"

	"github.com/aead/cmac"
)

// channelMode selects the secure messaging cipher suite.
type channelMode int

const (
	modeTDES   channelMode = iota // BAC: 3DES + retail MAC, 8 byte SSC
	modeAES128                    // PACE: AES-128 CBC + CMAC, 16 byte SSC
)

// Secure messaging data object tags.
const (
	doEncryptedData = 0x87
	doStatus        = 0x99
	doExpectedLen   = 0x97
	doMAC           = 0x8E
)

// secureChannel wraps and unwraps APDUs once authentication succeeded.
// The session keys are owned exclusively by the channel and wiped by
// destroy when the session reaches a terminal state.
type secureChannel struct {
	mode  channelMode
	ksEnc []byte
	ksMac []byte
	ssc   []byte
}

func newTDESChannel(ksEnc, ksMac, ssc []byte) *secureChannel {
	return &secureChannel{mode: modeTDES, ksEnc: ksEnc, ksMac: ksMac, ssc: ssc}
}

func newAESChannel(ksEnc, ksMac []byte) *secureChannel {
	return &secureChannel{mode: modeAES128, ksEnc: ksEnc, ksMac: ksMac, ssc: make([]byte, 16)}
}

func (c *secureChannel) blockSize() int {
	if c.mode == modeAES128 {
		return 16
	}
	return 8
}

func (c *secureChannel) destroy() {
	zeroize(c.ksEnc, c.ksMac, c.ssc)
}

// incrementSSC advances the send sequence counter (big endian).
func (c *secureChannel) incrementSSC() {
	for i := len(c.ssc) - 1; i >= 0; i-- {
		c.ssc[i]++
		if c.ssc[i] != 0 {
			return
		}
	}
}

// encryptData protects the command payload for DO'87.
func (c *secureChannel) encryptData(data []byte) ([]byte, error) {
	padded := pad(data, c.blockSize())
	if c.mode == modeTDES {
		return encrypt3DESCBC(c.ksEnc, padded)
	}
	iv, err := c.aesIV()
	if err != nil {
		return nil, err
	}
	return encryptAESCBC(c.ksEnc, iv, padded)
}

func (c *secureChannel) decryptData(data []byte) ([]byte, error) {
	var plain []byte
	var err error
	if c.mode == modeTDES {
		plain, err = decrypt3DESCBC(c.ksEnc, data)
	} else {
		var iv []byte
		iv, err = c.aesIV()
		if err == nil {
			plain, err = decryptAESCBC(c.ksEnc, iv, data)
		}
	}
	if err != nil {
		return nil, err
	}
	return unpad(plain)
}

// aesIV is the encrypted SSC, per the AES secure messaging profile.
func (c *secureChannel) aesIV() ([]byte, error) {
	block, err := aes.NewCipher(c.ksEnc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	iv := make([]byte, 16)
	block.Encrypt(iv, c.ssc)
	return iv, nil
}

// mac computes the checksum over SSC || input.
func (c *secureChannel) mac(input []byte) ([]byte, error) {
	sealed := append(append([]byte{}, c.ssc...), input...)
	if c.mode == modeTDES {
		return retailMAC(c.ksMac, pad(sealed, 8))
	}

	block, err := aes.NewCipher(c.ksMac)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	sum, err := cmac.Sum(sealed, block, block.BlockSize())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	return sum[:8], nil
}

// wrap protects a command APDU: masked header, DO'87 for data, DO'97 for
// the expected length and DO'8E carrying the checksum.
func (c *secureChannel) wrap(command Command) (Command, error) {
	c.incrementSSC()

	maskedCLA := command.CLA | 0x0C
	header := pad([]byte{maskedCLA, command.INS, command.P1, command.P2}, c.blockSize())

	var payload []byte
	if len(command.Data) > 0 {
		encrypted, err := c.encryptData(command.Data)
		if err != nil {
			return Command{}, err
		}
		payload = append(payload, tlvEncode(doEncryptedData, append([]byte{0x01}, encrypted...))...)
	}
	if command.Le >= 0 {
		payload = append(payload, tlvEncode(doExpectedLen, []byte{byte(command.Le & 0xFF)})...)
	}

	checksum, err := c.mac(append(append([]byte{}, header...), payload...))
	if err != nil {
		return Command{}, err
	}

	protected := append(payload, tlvEncode(doMAC, checksum)...)
	return Command{
		CLA:  maskedCLA,
		INS:  command.INS,
		P1:   command.P1,
		P2:   command.P2,
		Data: protected,
		Le:   0,
	}, nil
}

// unwrap verifies the response checksum, decrypts DO'87 if present and
// restores the inner status word from DO'99.
func (c *secureChannel) unwrap(response Response) (Response, error) {
	c.incrementSSC()

	nodes, err := tlvParse(response.Data)
	if err != nil {
		return Response{}, fmt.Errorf("%w: malformed protected response", ErrAuthentication)
	}

	var macInput []byte
	var encrypted, status, checksum []byte
	for _, node := range nodes {
		switch node.Tag {
		case doEncryptedData:
			encrypted = node.Value
			macInput = append(macInput, tlvEncode(node.Tag, node.Value)...)
		case doStatus:
			status = node.Value
			macInput = append(macInput, tlvEncode(node.Tag, node.Value)...)
		case doMAC:
			checksum = node.Value
		}
	}

	if len(checksum) == 0 {
		return Response{}, fmt.Errorf("%w: response missing checksum", ErrAuthentication)
	}
	expected, err := c.mac(macInput)
	if err != nil {
		return Response{}, err
	}
	if !bytes.Equal(expected, checksum) {
		return Response{}, fmt.Errorf("%w: response checksum mismatch", ErrAuthentication)
	}

	out := Response{SW: response.SW}
	if len(status) == 2 {
		out.SW = uint16(status[0])<<8 | uint16(status[1])
	}

	if len(encrypted) > 1 {
		// Skip the padding content indicator byte.
		plain, err := c.decryptData(encrypted[1:])
		if err != nil {
			return Response{}, err
		}
		out.Data = plain
	}

	return out, nil
}

// secureExchange wraps, transceives and unwraps one APDU on the channel.
func secureExchange(ctx context.Context, transport Transport, channel *secureChannel, command Command) (Response, error) {
	protected, err := channel.wrap(command)
	if err != nil {
		return Response{}, err
	}

	response, err := exchange(ctx, transport, protected)
	if err != nil {
		return Response{}, err
	}
	if !response.IsSuccess() && len(response.Data) == 0 {
		// The chip refused before secure messaging; surface the raw SW.
		return Response{}, response.Err()
	}

	return channel.unwrap(response)
}
