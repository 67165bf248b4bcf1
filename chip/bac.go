package chip

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
)

// performBAC runs Basic Access Control: a 3DES challenge/response keyed
// from the MRZ derived access key, yielding the secure messaging channel.
func performBAC(ctx context.Context, transport Transport, accessKey string) (*secureChannel, error) {
	slog.Debug("Starting Basic Access Control")

	challenge, err := exchange(ctx, transport, Command{
		CLA: 0x00, INS: insGetChallenge, Le: 8,
	})
	if err != nil {
		return nil, err
	}
	if err := challenge.Err(); err != nil {
		return nil, err
	}
	if len(challenge.Data) != 8 {
		return nil, fmt.Errorf("%w: challenge must be 8 bytes, got %d", ErrAuthentication, len(challenge.Data))
	}

	rndIFD := make([]byte, 8)
	kIFD := make([]byte, 16)
	if _, err := rand.Read(rndIFD); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	if _, err := rand.Read(kIFD); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}

	seed := deriveKeySeed(accessKey)
	kEnc := derive3DESKey(seed, kdfEncryption)
	kMac := derive3DESKey(seed, kdfMAC)
	defer zeroize(seed, kEnc, kMac, kIFD)

	cmdData, err := buildMutualAuthData(kEnc, kMac, rndIFD, challenge.Data, kIFD)
	if err != nil {
		return nil, err
	}

	authResponse, err := exchange(ctx, transport, Command{
		CLA: 0x00, INS: insExternalAuth, Data: cmdData, Le: 40,
	})
	if err != nil {
		return nil, err
	}
	if err := authResponse.Err(); err != nil {
		return nil, fmt.Errorf("mutual authenticate rejected: %w", err)
	}

	sessionSeed, ssc, err := verifyMutualAuthResponse(kEnc, kMac, rndIFD, challenge.Data, kIFD, authResponse.Data)
	if err != nil {
		return nil, err
	}
	defer zeroize(sessionSeed)

	channel := newTDESChannel(
		derive3DESKey(sessionSeed, kdfEncryption),
		derive3DESKey(sessionSeed, kdfMAC),
		ssc,
	)

	slog.Debug("Basic Access Control established")
	return channel, nil
}

// buildMutualAuthData assembles E.IFD || M.IFD for EXTERNAL AUTHENTICATE.
func buildMutualAuthData(kEnc, kMac, rndIFD, rndICC, kIFD []byte) ([]byte, error) {
	s := make([]byte, 0, 32)
	s = append(s, rndIFD...)
	s = append(s, rndICC...)
	s = append(s, kIFD...)

	eIFD, err := encrypt3DESCBC(kEnc, s)
	if err != nil {
		return nil, err
	}

	mIFD, err := retailMAC(kMac, pad(eIFD, 8))
	if err != nil {
		return nil, err
	}

	return append(eIFD, mIFD...), nil
}

// verifyMutualAuthResponse checks the chip's E.ICC || M.ICC, confirms the
// RND.IFD echo and returns the session key seed (K.IFD xor K.ICC) plus
// the initial send sequence counter.
func verifyMutualAuthResponse(kEnc, kMac, rndIFD, rndICC, kIFD, response []byte) (seed []byte, ssc []byte, err error) {
	if len(response) != 40 {
		return nil, nil, fmt.Errorf("%w: mutual authenticate response must be 40 bytes, got %d",
			ErrAuthentication, len(response))
	}

	eICC, mICC := response[:32], response[32:]

	expectedMAC, err := retailMAC(kMac, pad(eICC, 8))
	if err != nil {
		return nil, nil, err
	}
	if !bytes.Equal(expectedMAC, mICC) {
		return nil, nil, fmt.Errorf("%w: response MAC mismatch", ErrAuthentication)
	}

	plain, err := decrypt3DESCBC(kEnc, eICC)
	if err != nil {
		return nil, nil, err
	}

	if !bytes.Equal(plain[0:8], rndICC) {
		return nil, nil, fmt.Errorf("%w: RND.ICC mismatch in response", ErrAuthentication)
	}
	if !bytes.Equal(plain[8:16], rndIFD) {
		return nil, nil, fmt.Errorf("%w: RND.IFD not echoed by chip", ErrAuthentication)
	}

	kICC := plain[16:32]
	seed = make([]byte, 16)
	for i := range seed {
		seed[i] = kIFD[i] ^ kICC[i]
	}

	ssc = make([]byte, 8)
	copy(ssc[0:4], rndICC[4:8])
	copy(ssc[4:8], rndIFD[4:8])
	return seed, ssc, nil
}
