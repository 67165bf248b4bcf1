package chip

import (
	"context"
	"crypto/aes"
	"crypto/elliptic"
	"crypto/rand"
	"math/big"
	"testing"

	"github.com/osanderson/brainpool"
	"github.com/stretchr/testify/require"
)

// fakePACEChip plays the chip side of the generic mapping flow with the
// same password, so a correct reader lands on identical session keys.
type fakePACEChip struct {
	accessKey string
	curve     elliptic.Curve

	nonce     []byte
	mappedX   *big.Int
	mappedY   *big.Int
	pubSent   []byte // chip ephemeral public point
	readerPub []byte
	ksEnc     []byte
	ksMac     []byte
}

func newFakePACEChip(accessKey string) *fakePACEChip {
	return &fakePACEChip{accessKey: accessKey, curve: brainpool.P256r1()}
}

func (c *fakePACEChip) Connect() error { return nil }
func (c *fakePACEChip) Close() error   { return nil }

func (c *fakePACEChip) Transceive(raw []byte) ([]byte, error) {
	switch raw[1] {
	case insMSESetAT:
		return []byte{0x90, 0x00}, nil
	case insGeneralAuthenticate:
		lc := int(raw[4])
		payload, err := tlvLookup(raw[5:5+lc], doDynamicAuth)
		if err != nil {
			return nil, err
		}
		return c.generalAuthenticate(payload)
	}
	return []byte{0x6D, 0x00}, nil
}

func (c *fakePACEChip) reply(tag int, value []byte) []byte {
	out := tlvEncode(doDynamicAuth, tlvEncode(tag, value))
	return append(out, 0x90, 0x00)
}

func (c *fakePACEChip) generalAuthenticate(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		// Step 1: hand out the encrypted nonce.
		c.nonce = make([]byte, 16)
		if _, err := rand.Read(c.nonce); err != nil {
			return nil, err
		}
		kPi := derivePACEPassword(c.accessKey)
		encrypted, err := encryptAESCBC(kPi, make([]byte, aes.BlockSize), c.nonce)
		if err != nil {
			return nil, err
		}
		return c.reply(doEncryptedNonce, encrypted), nil
	}

	nodes, err := tlvParse(payload)
	if err != nil {
		return nil, err
	}

	switch nodes[0].Tag {
	case doMappingData:
		return c.mapGenerator(nodes[0].Value)
	case doEphemeralPub:
		return c.keyAgreement(nodes[0].Value)
	case doAuthToken:
		return c.exchangeTokens(nodes[0].Value)
	}
	return []byte{0x6A, 0x80}, nil
}

func (c *fakePACEChip) mapGenerator(readerPub []byte) ([]byte, error) {
	priv, x, y, err := elliptic.GenerateKey(c.curve, rand.Reader)
	if err != nil {
		return nil, err
	}

	rx, ry := elliptic.Unmarshal(c.curve, readerPub)
	sharedX, sharedY := c.curve.ScalarMult(rx, ry, priv)

	s := new(big.Int).SetBytes(c.nonce)
	baseX, baseY := c.curve.ScalarBaseMult(s.Bytes())
	c.mappedX, c.mappedY = c.curve.Add(baseX, baseY, sharedX, sharedY)

	return c.reply(doMappingResponse, elliptic.Marshal(c.curve, x, y)), nil
}

func (c *fakePACEChip) keyAgreement(readerPub []byte) ([]byte, error) {
	priv, err := rand.Int(rand.Reader, c.curve.Params().N)
	if err != nil {
		return nil, err
	}

	myX, myY := c.curve.ScalarMult(c.mappedX, c.mappedY, priv.Bytes())
	c.pubSent = elliptic.Marshal(c.curve, myX, myY)

	rx, ry := elliptic.Unmarshal(c.curve, readerPub)
	sharedX, _ := c.curve.ScalarMult(rx, ry, priv.Bytes())

	shared := make([]byte, (c.curve.Params().BitSize+7)/8)
	sharedX.FillBytes(shared)
	c.ksEnc = deriveAESKey(shared, kdfEncryption)
	c.ksMac = deriveAESKey(shared, kdfMAC)
	c.readerPub = readerPub

	return c.reply(doEphemeralChip, c.pubSent), nil
}

func (c *fakePACEChip) exchangeTokens(readerToken []byte) ([]byte, error) {
	expected, err := paceAuthToken(c.ksMac, c.pubSent)
	if err != nil {
		return nil, err
	}
	for i := range expected {
		if expected[i] != readerToken[i] {
			return []byte{0x63, 0x00}, nil
		}
	}

	token, err := paceAuthToken(c.ksMac, c.readerPub)
	if err != nil {
		return nil, err
	}
	return c.reply(doAuthTokenChip, token), nil
}

func TestPerformPACE(t *testing.T) {
	chip := newFakePACEChip(testAccessKey)

	channel, err := performPACE(context.Background(), chip, testAccessKey)
	require.NoError(t, err)
	require.Equal(t, modeAES128, channel.mode)
	require.Equal(t, chip.ksEnc, channel.ksEnc)
	require.Equal(t, chip.ksMac, channel.ksMac)
	require.Len(t, channel.ssc, 16)
}

func TestPerformPACEWrongPassword(t *testing.T) {
	chip := newFakePACEChip(testAccessKey)

	// A wrong password decrypts the nonce to garbage; both sides map
	// different generators and the tokens cannot match.
	_, err := performPACE(context.Background(), chip, "L898902C3<740812999999")
	require.ErrorIs(t, err, ErrAuthentication)
}

func TestSupportsPACE(t *testing.T) {
	require.False(t, supportsPACE(nil))
	require.False(t, supportsPACE([]byte{0x31, 0x02, 0x01, 0x02}))

	cardAccess := tlvEncode(0x31, tlvEncode(0x30, tlvEncode(0x06, oidPACEGMAES128)))
	require.True(t, supportsPACE(cardAccess))
}
