package chip

import (
	"bytes"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"encoding/asn1"
	"fmt"
	"hash"
	"log/slog"
)

// securityObject is the parsed Document Security Object from EF.SOD: the
// signed per data group hashes plus the document signer certificate.
type securityObject struct {
	hashAlgorithm    asn1.ObjectIdentifier
	dataGroupHashes  map[int][]byte
	encapsulated     []byte
	signerCert       *x509.Certificate
	signedAttributes []byte
	messageDigest    []byte
	signature        []byte
	signatureAlg     x509.SignatureAlgorithm
}

type contentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     asn1.RawValue `asn1:"explicit,tag:0"`
}

type signedData struct {
	Version          int
	DigestAlgorithms asn1.RawValue `asn1:"set"`
	EncapContent     encapsulatedContentInfo
	Certificates     asn1.RawValue `asn1:"optional,tag:0"`
	CRLs             asn1.RawValue `asn1:"optional,tag:1"`
	SignerInfos      asn1.RawValue `asn1:"set"`
}

type encapsulatedContentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     asn1.RawValue `asn1:"explicit,optional,tag:0"`
}

type signerInfo struct {
	Version            int
	SID                asn1.RawValue
	DigestAlgorithm    algorithmIdentifier
	SignedAttributes   asn1.RawValue `asn1:"optional,tag:0"`
	SignatureAlgorithm algorithmIdentifier
	Signature          []byte
}

type algorithmIdentifier struct {
	Algorithm  asn1.ObjectIdentifier
	Parameters asn1.RawValue `asn1:"optional"`
}

type ldsSecurityObject struct {
	Version         int
	HashAlgorithm   algorithmIdentifier
	DataGroupHashes []dataGroupHash
}

type dataGroupHash struct {
	DataGroupNumber int
	HashValue       []byte
}

type attribute struct {
	Type   asn1.ObjectIdentifier
	Values asn1.RawValue `asn1:"set"`
}

var (
	oidSignedData    = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 2}
	oidMessageDigest = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 4}

	oidSHA1   = asn1.ObjectIdentifier{1, 3, 14, 3, 2, 26}
	oidSHA256 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}
	oidSHA384 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 2}
	oidSHA512 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 3}

	oidSHA256WithRSA = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 11}
	oidSHA384WithRSA = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 12}
	oidSHA512WithRSA = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 13}
	oidRSA           = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 1}
	oidECDSASHA256   = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 2}
	oidECDSASHA384   = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 3}
	oidECDSASHA512   = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 4}
)

// parseSecurityObject unwraps EF.SOD (tag 77) down to the LDS security
// object, the document signer certificate and the signer info needed to
// check the signature.
func parseSecurityObject(data []byte) (*securityObject, error) {
	cms, err := tlvLookup(data, 0x77)
	if err != nil {
		return nil, fmt.Errorf("%w: missing security object wrapper", ErrPassiveAuthentication)
	}

	var info contentInfo
	if _, err := asn1.Unmarshal(cms, &info); err != nil {
		return nil, fmt.Errorf("%w: malformed ContentInfo: %v", ErrPassiveAuthentication, err)
	}
	if !info.ContentType.Equal(oidSignedData) {
		return nil, fmt.Errorf("%w: unexpected content type %v", ErrPassiveAuthentication, info.ContentType)
	}

	var signed signedData
	if _, err := asn1.Unmarshal(info.Content.Bytes, &signed); err != nil {
		return nil, fmt.Errorf("%w: malformed SignedData: %v", ErrPassiveAuthentication, err)
	}

	// The explicit [0] wraps an OCTET STRING holding the security object.
	var encapsulated []byte
	if _, err := asn1.Unmarshal(signed.EncapContent.Content.Bytes, &encapsulated); err != nil {
		return nil, fmt.Errorf("%w: malformed encapsulated content: %v", ErrPassiveAuthentication, err)
	}

	var lds ldsSecurityObject
	if _, err := asn1.Unmarshal(encapsulated, &lds); err != nil {
		return nil, fmt.Errorf("%w: malformed LDS security object: %v", ErrPassiveAuthentication, err)
	}

	object := &securityObject{
		hashAlgorithm:   lds.HashAlgorithm.Algorithm,
		dataGroupHashes: make(map[int][]byte, len(lds.DataGroupHashes)),
		encapsulated:    encapsulated,
	}
	for _, entry := range lds.DataGroupHashes {
		object.dataGroupHashes[entry.DataGroupNumber] = entry.HashValue
	}

	if len(signed.Certificates.Bytes) > 0 {
		cert, err := x509.ParseCertificate(signed.Certificates.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: document signer certificate: %v", ErrPassiveAuthentication, err)
		}
		object.signerCert = cert
	}

	if err := object.parseSignerInfo(signed.SignerInfos.Bytes); err != nil {
		return nil, err
	}
	return object, nil
}

func (s *securityObject) parseSignerInfo(data []byte) error {
	var signer signerInfo
	if _, err := asn1.Unmarshal(data, &signer); err != nil {
		return fmt.Errorf("%w: malformed SignerInfo: %v", ErrPassiveAuthentication, err)
	}

	s.signature = signer.Signature
	s.signatureAlg = signatureAlgorithmFor(signer.SignatureAlgorithm.Algorithm, signer.DigestAlgorithm.Algorithm)

	if len(signer.SignedAttributes.FullBytes) == 0 {
		return fmt.Errorf("%w: signer info carries no signed attributes", ErrPassiveAuthentication)
	}

	// The signature covers the attributes re-tagged as an explicit SET.
	reencoded := append([]byte{0x31}, signer.SignedAttributes.FullBytes[1:]...)
	s.signedAttributes = reencoded

	var attributes []attribute
	if _, err := asn1.UnmarshalWithParams(reencoded, &attributes, "set"); err != nil {
		return fmt.Errorf("%w: malformed signed attributes: %v", ErrPassiveAuthentication, err)
	}
	for _, attr := range attributes {
		if attr.Type.Equal(oidMessageDigest) {
			var digest []byte
			if _, err := asn1.Unmarshal(attr.Values.Bytes, &digest); err != nil {
				return fmt.Errorf("%w: malformed messageDigest attribute: %v", ErrPassiveAuthentication, err)
			}
			s.messageDigest = digest
		}
	}
	if len(s.messageDigest) == 0 {
		return fmt.Errorf("%w: messageDigest attribute missing", ErrPassiveAuthentication)
	}
	return nil
}

func signatureAlgorithmFor(sigAlg, digestAlg asn1.ObjectIdentifier) x509.SignatureAlgorithm {
	switch {
	case sigAlg.Equal(oidSHA256WithRSA):
		return x509.SHA256WithRSA
	case sigAlg.Equal(oidSHA384WithRSA):
		return x509.SHA384WithRSA
	case sigAlg.Equal(oidSHA512WithRSA):
		return x509.SHA512WithRSA
	case sigAlg.Equal(oidECDSASHA256):
		return x509.ECDSAWithSHA256
	case sigAlg.Equal(oidECDSASHA384):
		return x509.ECDSAWithSHA384
	case sigAlg.Equal(oidECDSASHA512):
		return x509.ECDSAWithSHA512
	case sigAlg.Equal(oidRSA):
		// Bare rsaEncryption: the digest algorithm decides.
		switch {
		case digestAlg.Equal(oidSHA1):
			return x509.SHA1WithRSA
		case digestAlg.Equal(oidSHA384):
			return x509.SHA384WithRSA
		case digestAlg.Equal(oidSHA512):
			return x509.SHA512WithRSA
		default:
			return x509.SHA256WithRSA
		}
	}
	return x509.UnknownSignatureAlgorithm
}

func (s *securityObject) newHash() (hash.Hash, error) {
	switch {
	case s.hashAlgorithm.Equal(oidSHA1):
		return sha1.New(), nil
	case s.hashAlgorithm.Equal(oidSHA256):
		return sha256.New(), nil
	case s.hashAlgorithm.Equal(oidSHA384):
		return sha512.New384(), nil
	case s.hashAlgorithm.Equal(oidSHA512):
		return sha512.New(), nil
	}
	return nil, fmt.Errorf("%w: unsupported hash algorithm %v", ErrPassiveAuthentication, s.hashAlgorithm)
}

// verifyDataGroup checks a read data group against its signed hash.
func (s *securityObject) verifyDataGroup(number int, content []byte) error {
	expected, ok := s.dataGroupHashes[number]
	if !ok {
		return fmt.Errorf("%w: no signed hash for data group %d", ErrPassiveAuthentication, number)
	}

	hasher, err := s.newHash()
	if err != nil {
		return err
	}
	hasher.Write(content)
	if !bytes.Equal(hasher.Sum(nil), expected) {
		return fmt.Errorf("%w: data group %d hash mismatch", ErrPassiveAuthentication, number)
	}
	return nil
}

// verifySignature checks that the messageDigest attribute matches the
// encapsulated content and that the document signer certificate signed
// the attributes. The CSCA chain is out of reach on-device, so the
// signer certificate itself is the trust anchor here.
func (s *securityObject) verifySignature() error {
	if s.signerCert == nil {
		return fmt.Errorf("%w: no document signer certificate in security object", ErrPassiveAuthentication)
	}

	hasher, err := s.newHash()
	if err != nil {
		return err
	}
	hasher.Write(s.encapsulated)
	if !bytes.Equal(hasher.Sum(nil), s.messageDigest) {
		return fmt.Errorf("%w: security object content digest mismatch", ErrPassiveAuthentication)
	}

	if s.signatureAlg == x509.UnknownSignatureAlgorithm {
		return fmt.Errorf("%w: unsupported signature algorithm", ErrPassiveAuthentication)
	}
	if err := s.signerCert.CheckSignature(s.signatureAlg, s.signedAttributes, s.signature); err != nil {
		return fmt.Errorf("%w: signature check failed: %v", ErrPassiveAuthentication, err)
	}

	slog.Debug("Security object signature verified",
		"signer", s.signerCert.Subject.String(),
		"serial", s.signerCert.SerialNumber.String())
	return nil
}

// dataGroupNumber maps a file identifier to its LDS data group number.
func dataGroupNumber(fileID uint16) int {
	if fileID&0xFF00 == 0x0100 {
		n := int(fileID & 0xFF)
		if n >= 1 && n <= 16 {
			return n
		}
	}
	return 0
}
