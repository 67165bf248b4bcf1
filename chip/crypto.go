package chip

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/des"
	"crypto/sha1"
	"fmt"
	"math/bits"
)

// keyDerivationCounter values per ICAO Doc 9303 part 11.
const (
	kdfEncryption = 1
	kdfMAC        = 2
)

// deriveKeySeed hashes the MRZ derived access key down to the 16 byte
// seed both sides derive their keys from.
func deriveKeySeed(accessKey string) []byte {
	digest := sha1.Sum([]byte(accessKey))
	return digest[:16]
}

// derive3DESKey expands a seed into a two key 3DES key (K1 K2 K1) with
// adjusted parity, per the Doc 9303 key derivation function.
func derive3DESKey(seed []byte, counter uint32) []byte {
	material := append(append([]byte{}, seed...),
		byte(counter>>24), byte(counter>>16), byte(counter>>8), byte(counter))
	digest := sha1.Sum(material)

	key := make([]byte, 24)
	copy(key[0:16], digest[:16])
	copy(key[16:24], digest[:8]) // K1 again for EDE2
	adjustDESParity(key)
	return key
}

// deriveAESKey expands key material into an AES-128 key for PACE
// channels. 128-bit keys use the SHA-1 form of the Doc 9303 KDF; the
// SHA-256 form only applies to the longer key sizes.
func deriveAESKey(key []byte, counter uint32) []byte {
	material := append(append([]byte{}, key...),
		byte(counter>>24), byte(counter>>16), byte(counter>>8), byte(counter))
	digest := sha1.Sum(material)
	return digest[:16]
}

// derivePACEPassword derives the password key for PACE. Unlike the BAC
// seed, KDF pi takes the untruncated SHA-1 of the access key.
func derivePACEPassword(accessKey string) []byte {
	digest := sha1.Sum([]byte(accessKey))
	return deriveAESKey(digest[:], kdfPassword)
}

// adjustDESParity sets the least significant bit of every byte so each
// byte has odd parity, as DES keys require.
func adjustDESParity(key []byte) {
	for i, b := range key {
		if bits.OnesCount8(b&0xFE)%2 == 0 {
			key[i] = b&0xFE | 1
		} else {
			key[i] = b & 0xFE
		}
	}
}

// pad applies ISO 9797-1 padding method 2: mandatory 0x80 then zeros to
// the block boundary.
func pad(data []byte, blockSize int) []byte {
	out := append(append([]byte{}, data...), 0x80)
	for len(out)%blockSize != 0 {
		out = append(out, 0x00)
	}
	return out
}

// unpad strips ISO 9797-1 method 2 padding.
func unpad(data []byte) ([]byte, error) {
	for i := len(data) - 1; i >= 0; i-- {
		switch data[i] {
		case 0x00:
			continue
		case 0x80:
			return data[:i], nil
		default:
			return nil, fmt.Errorf("%w: malformed padding", ErrAuthentication)
		}
	}
	return nil, fmt.Errorf("%w: padding marker missing", ErrAuthentication)
}

// encrypt3DESCBC encrypts with a zero IV, as the BAC channel requires.
func encrypt3DESCBC(key, plaintext []byte) ([]byte, error) {
	block, err := des.NewTripleDESCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	if len(plaintext)%block.BlockSize() != 0 {
		return nil, fmt.Errorf("%w: plaintext not block aligned", ErrAuthentication)
	}

	out := make([]byte, len(plaintext))
	cipher.NewCBCEncrypter(block, make([]byte, block.BlockSize())).CryptBlocks(out, plaintext)
	return out, nil
}

// decrypt3DESCBC decrypts with a zero IV.
func decrypt3DESCBC(key, ciphertext []byte) ([]byte, error) {
	block, err := des.NewTripleDESCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	if len(ciphertext)%block.BlockSize() != 0 {
		return nil, fmt.Errorf("%w: ciphertext not block aligned", ErrAuthentication)
	}

	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, make([]byte, block.BlockSize())).CryptBlocks(out, ciphertext)
	return out, nil
}

// retailMAC computes the ISO 9797-1 MAC algorithm 3 (DES retail MAC) over
// already padded data using a 16 byte key split into Ka and Kb.
func retailMAC(key, paddedData []byte) ([]byte, error) {
	if len(key) < 16 {
		return nil, fmt.Errorf("%w: retail MAC needs a 16 byte key", ErrAuthentication)
	}

	ka, err := des.NewCipher(key[0:8])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	kb, err := des.NewCipher(key[8:16])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	if len(paddedData)%ka.BlockSize() != 0 {
		return nil, fmt.Errorf("%w: MAC input not block aligned", ErrAuthentication)
	}

	state := make([]byte, 8)
	for offset := 0; offset < len(paddedData); offset += 8 {
		for i := 0; i < 8; i++ {
			state[i] ^= paddedData[offset+i]
		}
		ka.Encrypt(state, state)
	}

	// Final transformation: decrypt with Kb, encrypt with Ka.
	kb.Decrypt(state, state)
	ka.Encrypt(state, state)
	return state, nil
}

// encryptAESCBC encrypts with the given IV for PACE secure messaging.
func encryptAESCBC(key, iv, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	if len(plaintext)%block.BlockSize() != 0 {
		return nil, fmt.Errorf("%w: plaintext not block aligned", ErrAuthentication)
	}

	out := make([]byte, len(plaintext))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, plaintext)
	return out, nil
}

// decryptAESCBC decrypts with the given IV.
func decryptAESCBC(key, iv, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	if len(ciphertext)%block.BlockSize() != 0 {
		return nil, fmt.Errorf("%w: ciphertext not block aligned", ErrAuthentication)
	}

	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)
	return out, nil
}

// zeroize wipes key material once a session reaches a terminal state.
func zeroize(buffers ...[]byte) {
	for _, buffer := range buffers {
		for i := range buffer {
			buffer[i] = 0
		}
	}
}
