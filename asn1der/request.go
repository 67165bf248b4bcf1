package asn1der

import (
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"log/slog"
)

// OIDs referenced by the certificate request body.
var (
	oidRSAEncryption      = ObjectIdentifier{1, 2, 840, 113549, 1, 1, 1}
	oidCommonName         = ObjectIdentifier{2, 5, 4, 3}
	oidOrganization       = ObjectIdentifier{2, 5, 4, 10}
	oidCountry            = ObjectIdentifier{2, 5, 4, 6}
	oidSerialNumber       = ObjectIdentifier{2, 5, 4, 5}
	oidOrganizationalUnit = ObjectIdentifier{2, 5, 4, 11}
)

// RequestSubject carries the distinguished name fields placed in a
// certificate request. Empty fields are omitted from the encoding.
// Country must be printable ASCII; the other fields are UTF-8.
type RequestSubject struct {
	CommonName         string
	Organization       string
	OrganizationalUnit string
	Country            string
	SerialNumber       string // typically the device identifier
}

// rdn builds one relative distinguished name entry.
func rdn(oid ObjectIdentifier, value Value) Value {
	return Set{Sequence{oid, value}}
}

// subjectName assembles the RDN sequence in a fixed order so the encoding
// is deterministic for a given subject.
func subjectName(subject RequestSubject) Sequence {
	var name Sequence
	if subject.Country != "" {
		name = append(name, rdn(oidCountry, PrintableString(subject.Country)))
	}
	if subject.Organization != "" {
		name = append(name, rdn(oidOrganization, Utf8String(subject.Organization)))
	}
	if subject.OrganizationalUnit != "" {
		name = append(name, rdn(oidOrganizationalUnit, Utf8String(subject.OrganizationalUnit)))
	}
	if subject.CommonName != "" {
		name = append(name, rdn(oidCommonName, Utf8String(subject.CommonName)))
	}
	if subject.SerialNumber != "" {
		name = append(name, rdn(oidSerialNumber, PrintableString(subject.SerialNumber)))
	}
	return name
}

// BuildCertificateRequest encodes a PKCS#10 style request body from the
// subject and the DER encoded RSA public key. The backend completes and
// signs the request; this side only supplies the info block.
func BuildCertificateRequest(subject RequestSubject, publicKeyDER []byte) ([]byte, error) {
	if len(publicKeyDER) == 0 {
		return nil, fmt.Errorf("%w: missing public key material", ErrEncoding)
	}

	slog.Debug("Building certificate request", "common_name", subject.CommonName, "key_size", len(publicKeyDER))

	subjectPublicKeyInfo := Sequence{
		Sequence{oidRSAEncryption, Null{}},
		// Leading zero byte: no unused bits in the key bit string.
		BitString(append([]byte{0x00}, publicKeyDER...)),
	}

	requestInfo := Sequence{
		Integer(0), // version
		subjectName(subject),
		subjectPublicKeyInfo,
	}

	encoded, err := Encode(requestInfo)
	if err != nil {
		return nil, fmt.Errorf("failed to encode certificate request: %w", err)
	}

	slog.Debug("Certificate request encoded", "der_length", len(encoded))
	return encoded, nil
}

// RequestToBase64 wraps a DER request body for a JSON transport.
func RequestToBase64(der []byte) string {
	return base64.StdEncoding.EncodeToString(der)
}

// RequestToPEM wraps a DER request body in a CERTIFICATE REQUEST block.
func RequestToPEM(der []byte) string {
	return string(pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE REQUEST",
		Bytes: der,
	}))
}
