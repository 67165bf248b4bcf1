package chip

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/elliptic"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/aead/cmac"
	"github.com/osanderson/brainpool"
)

// oidPACEGMAES128 identifies id-PACE-ECDH-GM-AES-CBC-CMAC-128
// (0.4.0.127.0.7.2.2.4.2.2), the only PACE profile this reader speaks.
var oidPACEGMAES128 = []byte{0x04, 0x00, 0x7F, 0x00, 0x07, 0x02, 0x02, 0x04, 0x02, 0x02}

// PACE key derivation counter for the password key.
const kdfPassword = 3

// Dynamic authentication data object tags (GENERAL AUTHENTICATE).
const (
	doDynamicAuth     = 0x7C
	doEncryptedNonce  = 0x80
	doMappingData     = 0x81
	doMappingResponse = 0x82
	doEphemeralPub    = 0x83
	doEphemeralChip   = 0x84
	doAuthToken       = 0x85
	doAuthTokenChip   = 0x86
)

// supportsPACE scans an EF.CardAccess file for the supported PACE profile.
func supportsPACE(cardAccess []byte) bool {
	return bytes.Contains(cardAccess, oidPACEGMAES128)
}

// performPACE runs the generic mapping PACE flow over brainpoolP256r1
// with AES-128: decrypt the chip nonce with the password key, map a new
// generator, agree on an ephemeral shared secret and exchange
// authentication tokens.
func performPACE(ctx context.Context, transport Transport, accessKey string) (*secureChannel, error) {
	slog.Debug("Starting PACE (generic mapping, brainpoolP256r1, AES-128)")

	curve := brainpool.P256r1()

	kPi := derivePACEPassword(accessKey)
	defer zeroize(kPi)

	if err := paceSelectProtocol(ctx, transport); err != nil {
		return nil, err
	}

	nonce, err := paceObtainNonce(ctx, transport, kPi)
	if err != nil {
		return nil, err
	}

	mappedX, mappedY, err := paceMapGenerator(ctx, transport, curve, nonce)
	if err != nil {
		return nil, err
	}

	shared, myPub, chipPub, err := paceKeyAgreement(ctx, transport, curve, mappedX, mappedY)
	if err != nil {
		return nil, err
	}
	defer zeroize(shared)

	ksEnc := deriveAESKey(shared, kdfEncryption)
	ksMac := deriveAESKey(shared, kdfMAC)

	if err := paceExchangeTokens(ctx, transport, ksMac, myPub, chipPub); err != nil {
		zeroize(ksEnc, ksMac)
		return nil, err
	}

	slog.Debug("PACE established")
	return newAESChannel(ksEnc, ksMac), nil
}

// paceSelectProtocol announces the protocol and password via MSE:Set AT.
func paceSelectProtocol(ctx context.Context, transport Transport) error {
	data := tlvEncode(0x80, oidPACEGMAES128)
	data = append(data, tlvEncode(0x83, []byte{0x01})...) // password: MRZ

	response, err := exchange(ctx, transport, Command{
		CLA: 0x00, INS: insMSESetAT, P1: 0xC1, P2: 0xA4, Data: data, Le: -1,
	})
	if err != nil {
		return err
	}
	if err := response.Err(); err != nil {
		return fmt.Errorf("MSE:Set AT rejected: %w", err)
	}
	return nil
}

// generalAuthenticate sends one dynamic authentication round and returns
// the value of the expected response data object.
func generalAuthenticate(ctx context.Context, transport Transport, chained bool, payload []byte, wantTag int) ([]byte, error) {
	cla := byte(0x00)
	if chained {
		cla = 0x10
	}

	response, err := exchange(ctx, transport, Command{
		CLA: cla, INS: insGeneralAuthenticate, Data: tlvEncode(doDynamicAuth, payload), Le: 0,
	})
	if err != nil {
		return nil, err
	}
	if err := response.Err(); err != nil {
		return nil, fmt.Errorf("general authenticate rejected: %w", err)
	}

	value, err := tlvLookup(response.Data, doDynamicAuth, wantTag)
	if err != nil {
		return nil, fmt.Errorf("%w: dynamic authentication object %02X missing", ErrAuthentication, wantTag)
	}
	return value, nil
}

// paceObtainNonce requests the encrypted nonce and decrypts it with the
// password key.
func paceObtainNonce(ctx context.Context, transport Transport, kPi []byte) ([]byte, error) {
	encrypted, err := generalAuthenticate(ctx, transport, true, nil, doEncryptedNonce)
	if err != nil {
		return nil, err
	}
	if len(encrypted) != 16 {
		return nil, fmt.Errorf("%w: nonce must be one AES block, got %d bytes", ErrAuthentication, len(encrypted))
	}

	return decryptAESCBC(kPi, make([]byte, aes.BlockSize), encrypted)
}

// paceMapGenerator performs the generic mapping: both sides contribute an
// ephemeral key, and the new generator is G' = s*G + H with H the shared
// point of the mapping exchange.
func paceMapGenerator(ctx context.Context, transport Transport, curve elliptic.Curve, nonce []byte) (*big.Int, *big.Int, error) {
	private, x, y, err := elliptic.GenerateKey(curve, rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}

	chipValue, err := generalAuthenticate(ctx, transport, true,
		tlvEncode(doMappingData, elliptic.Marshal(curve, x, y)), doMappingResponse)
	if err != nil {
		return nil, nil, err
	}

	chipX, chipY := elliptic.Unmarshal(curve, chipValue)
	if chipX == nil {
		return nil, nil, fmt.Errorf("%w: chip mapping point not on curve", ErrAuthentication)
	}

	sharedX, sharedY := curve.ScalarMult(chipX, chipY, private)

	s := new(big.Int).SetBytes(nonce)
	baseX, baseY := curve.ScalarBaseMult(s.Bytes())
	mappedX, mappedY := curve.Add(baseX, baseY, sharedX, sharedY)
	return mappedX, mappedY, nil
}

// paceKeyAgreement runs the ephemeral Diffie-Hellman on the mapped
// generator and returns the shared secret x coordinate plus both public
// points for token binding.
func paceKeyAgreement(ctx context.Context, transport Transport, curve elliptic.Curve, genX, genY *big.Int) (shared, myPub, chipPub []byte, err error) {
	private, err := rand.Int(rand.Reader, curve.Params().N)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}

	myX, myY := curve.ScalarMult(genX, genY, private.Bytes())
	myPub = elliptic.Marshal(curve, myX, myY)

	chipValue, err := generalAuthenticate(ctx, transport, true,
		tlvEncode(doEphemeralPub, myPub), doEphemeralChip)
	if err != nil {
		return nil, nil, nil, err
	}

	chipX, chipY := elliptic.Unmarshal(curve, chipValue)
	if chipX == nil {
		return nil, nil, nil, fmt.Errorf("%w: chip ephemeral point not on curve", ErrAuthentication)
	}
	if bytes.Equal(chipValue, myPub) {
		return nil, nil, nil, fmt.Errorf("%w: chip echoed our ephemeral key", ErrAuthentication)
	}

	sharedX, _ := curve.ScalarMult(chipX, chipY, private.Bytes())

	byteLen := (curve.Params().BitSize + 7) / 8
	shared = make([]byte, byteLen)
	sharedX.FillBytes(shared)
	return shared, myPub, chipValue, nil
}

// paceExchangeTokens proves knowledge of the session MAC key over the
// peer's public key data object and checks the chip's proof in return.
func paceExchangeTokens(ctx context.Context, transport Transport, ksMac, myPub, chipPub []byte) error {
	myToken, err := paceAuthToken(ksMac, chipPub)
	if err != nil {
		return err
	}

	chipToken, err := generalAuthenticate(ctx, transport, false,
		tlvEncode(doAuthToken, myToken), doAuthTokenChip)
	if err != nil {
		return err
	}

	expected, err := paceAuthToken(ksMac, myPub)
	if err != nil {
		return err
	}
	if !bytes.Equal(chipToken, expected) {
		return fmt.Errorf("%w: chip authentication token mismatch", ErrAuthentication)
	}
	return nil
}

// paceAuthToken computes CMAC over the public key data object: the
// protocol OID and the uncompressed point under tag 7F49.
func paceAuthToken(ksMac, publicPoint []byte) ([]byte, error) {
	inner := tlvEncode(0x06, oidPACEGMAES128)
	inner = append(inner, tlvEncode(0x86, publicPoint)...)
	object := tlvEncode(0x7F49, inner)

	block, err := aes.NewCipher(ksMac)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	sum, err := cmac.Sum(object, block, block.BlockSize())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	return sum[:8], nil
}
