package chip

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"fmt"
	"hash"
	"log/slog"
	"math/big"
)

// ISO 9796-2 trailer bytes. 0xBC implies SHA-1; 0xCC carries an explicit
// ISO 10118-3 hash identifier in the byte before it.
const (
	trailerImplicit = 0xBC
	trailerExplicit = 0xCC
)

// parseDG15 extracts the active authentication public key. DG15 wraps a
// SubjectPublicKeyInfo under tag 6F.
func parseDG15(data []byte) (any, error) {
	spki, err := tlvLookup(data, 0x6F)
	if err != nil {
		return nil, fmt.Errorf("%w: DG15 wrapper missing", ErrDataGroupRead)
	}
	key, err := x509.ParsePKIXPublicKey(spki)
	if err != nil {
		return nil, fmt.Errorf("%w: DG15 public key: %v", ErrDataGroupRead, err)
	}
	return key, nil
}

// performActiveAuth challenges the chip to prove possession of the DG15
// private key: an 8 byte random is signed via INTERNAL AUTHENTICATE and
// the signature is checked against the public key.
func performActiveAuth(ctx context.Context, transport Transport, channel *secureChannel, dg15 []byte) error {
	key, err := parseDG15(dg15)
	if err != nil {
		return err
	}

	challenge := make([]byte, 8)
	if _, err := rand.Read(challenge); err != nil {
		return fmt.Errorf("%w: %v", ErrAuthentication, err)
	}

	response, err := secureExchange(ctx, transport, channel, Command{
		CLA: 0x00, INS: insInternalAuth, P1: 0x00, P2: 0x00, Data: challenge, Le: 0,
	})
	if err != nil {
		return err
	}
	if err := response.Err(); err != nil {
		return fmt.Errorf("internal authenticate: %w", err)
	}

	if err := verifyChipSignature(key, challenge, response.Data); err != nil {
		return err
	}
	slog.Debug("Active authentication passed")
	return nil
}

func verifyChipSignature(key any, challenge, signature []byte) error {
	switch pub := key.(type) {
	case *rsa.PublicKey:
		return verifyISO9796Signature(pub, challenge, signature)
	case *ecdsa.PublicKey:
		return verifyECDSAChipSignature(pub, challenge, signature)
	}
	return fmt.Errorf("%w: unsupported active authentication key type %T", ErrAuthentication, key)
}

// aaHashes are the digests a chip may use for active authentication. The
// choice is not negotiated over BAC, so verification tries each.
var aaHashes = []func() hash.Hash{sha256.New, sha1.New, sha512.New384, sha512.New}

// verifyECDSAChipSignature accepts both ASN.1 encoded and raw r||s
// signatures over a digest of the challenge.
func verifyECDSAChipSignature(pub *ecdsa.PublicKey, challenge, signature []byte) error {
	for _, newHash := range aaHashes {
		hasher := newHash()
		hasher.Write(challenge)
		digest := hasher.Sum(nil)

		if ecdsa.VerifyASN1(pub, digest, signature) {
			return nil
		}
		if len(signature) > 0 && len(signature)%2 == 0 {
			half := len(signature) / 2
			r := new(big.Int).SetBytes(signature[:half])
			s := new(big.Int).SetBytes(signature[half:])
			if ecdsa.Verify(pub, digest, r, s) {
				return nil
			}
		}
	}
	return fmt.Errorf("%w: active authentication signature invalid", ErrAuthentication)
}

// verifyISO9796Signature opens an ISO 9796-2 scheme 1 signature with
// message recovery: the decrypted block is header || M1 || H(M1 ||
// challenge) || trailer.
func verifyISO9796Signature(pub *rsa.PublicKey, challenge, signature []byte) error {
	k := pub.Size()
	if len(signature) != k {
		return fmt.Errorf("%w: signature length %d, want %d", ErrAuthentication, len(signature), k)
	}

	s := new(big.Int).SetBytes(signature)
	if s.Cmp(pub.N) >= 0 {
		return fmt.Errorf("%w: signature out of range", ErrAuthentication)
	}
	t := new(big.Int).Exp(s, big.NewInt(int64(pub.E)), pub.N)

	block := make([]byte, k)
	t.FillBytes(block)
	if last := block[k-1]; last != trailerImplicit && last != trailerExplicit {
		// The signer may publish min(s, n-s); open the alternative.
		t.Sub(pub.N, t)
		t.FillBytes(block)
	}

	var hasher hash.Hash
	trailerLen := 1
	switch block[k-1] {
	case trailerImplicit:
		hasher = sha1.New()
	case trailerExplicit:
		trailerLen = 2
		switch block[k-2] {
		case 0x33:
			hasher = sha1.New()
		case 0x34:
			hasher = sha256.New()
		case 0x35:
			hasher = sha512.New()
		case 0x36:
			hasher = sha512.New384()
		default:
			return fmt.Errorf("%w: unknown hash identifier %02X", ErrAuthentication, block[k-2])
		}
	default:
		return fmt.Errorf("%w: malformed signature trailer", ErrAuthentication)
	}

	if block[0]&0xC0 != 0x40 {
		return fmt.Errorf("%w: malformed signature header", ErrAuthentication)
	}

	hashLen := hasher.Size()
	if k < 1+hashLen+trailerLen {
		return fmt.Errorf("%w: signature block too small", ErrAuthentication)
	}
	recovered := block[1 : k-hashLen-trailerLen]
	digest := block[k-hashLen-trailerLen : k-trailerLen]

	hasher.Write(recovered)
	hasher.Write(challenge)
	if !bytes.Equal(hasher.Sum(nil), digest) {
		return fmt.Errorf("%w: active authentication digest mismatch", ErrAuthentication)
	}
	return nil
}
