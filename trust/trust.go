// Package trust decides whether a TLS peer is trusted against a pinned
// set of certificates, subjects or public keys, and supplies the client
// identity for mutual TLS. It deliberately avoids the platform trust
// store: only explicitly pinned material is accepted.
package trust

import (
	"bytes"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
)

// ErrCertificateValidation is fatal to the connection attempt. It must not
// be retried automatically at this layer; retry policy belongs to callers.
var ErrCertificateValidation = errors.New("certificate validation failed")

// Provider abstracts the pinning decision and the client identity so the
// HTTP layer stays independent of the underlying secure storage mechanism.
type Provider interface {
	// ValidateServerTrust returns nil if the presented chain is trusted.
	ValidateServerTrust(chain []*x509.Certificate) error

	// ClientCertificate returns the identity for mutual TLS, or false if
	// the session does not require client authentication.
	ClientCertificate() (*tls.Certificate, bool)
}

// Validator implements one pinning strategy against a single certificate.
type Validator interface {
	Matches(cert *x509.Certificate) bool
	Name() string
}

// certificatePin matches the exact DER bytes of a pinned certificate.
type certificatePin struct {
	fingerprint [sha256.Size]byte
}

func (p certificatePin) Matches(cert *x509.Certificate) bool {
	return sha256.Sum256(cert.Raw) == p.fingerprint
}

func (p certificatePin) Name() string { return "certificate" }

// subjectPin matches the certificate subject in RFC 2253 form.
type subjectPin struct {
	subject string
}

func (p subjectPin) Matches(cert *x509.Certificate) bool {
	return cert.Subject.String() == p.subject
}

func (p subjectPin) Name() string { return "subject" }

// publicKeyPin matches the DER encoded SubjectPublicKeyInfo.
type publicKeyPin struct {
	spki []byte
}

func (p publicKeyPin) Matches(cert *x509.Certificate) bool {
	return bytes.Equal(cert.RawSubjectPublicKeyInfo, p.spki)
}

func (p publicKeyPin) Name() string { return "public key" }

// CertificatePin pins the exact DER bytes of a certificate.
func CertificatePin(der []byte) Validator {
	return certificatePin{fingerprint: sha256.Sum256(der)}
}

// SubjectPin pins a certificate subject (RFC 2253 string form).
func SubjectPin(subject string) Validator {
	return subjectPin{subject: subject}
}

// PublicKeyPin pins a DER encoded SubjectPublicKeyInfo.
func PublicKeyPin(spkiDER []byte) Validator {
	return publicKeyPin{spki: bytes.Clone(spkiDER)}
}

// StoreConfig is supplied once at initialization by the host application.
type StoreConfig struct {
	Validators []Validator

	// ClientCertificate is presented when the server requests mutual TLS.
	ClientCertificate *tls.Certificate

	// RequireFullChain switches from the permissive any-pin-anywhere
	// policy to strict mode: the presented chain must form a verified
	// signature path and its terminal certificate must match a pin.
	RequireFullChain bool
}

// Store is the pinned trust store. It is immutable after construction and
// safe for concurrent use without locking.
type Store struct {
	validators       []Validator
	clientCert       *tls.Certificate
	requireFullChain bool
}

// NewStore builds an immutable trust store from the host configuration.
func NewStore(config StoreConfig) (*Store, error) {
	if len(config.Validators) == 0 {
		return nil, fmt.Errorf("%w: no pins configured", ErrCertificateValidation)
	}

	slog.Info("Trust store initialized",
		"pins", len(config.Validators),
		"client_identity", config.ClientCertificate != nil,
		"full_chain", config.RequireFullChain)

	return &Store{
		validators:       config.Validators,
		clientCert:       config.ClientCertificate,
		requireFullChain: config.RequireFullChain,
	}, nil
}

// ValidateServerTrust applies the pinning policy to the presented chain.
//
// Default policy: trusted if ANY validator matches ANY certificate in the
// chain. A single matching pin anywhere is sufficient; this is weaker than
// full chain validation and is kept for compatibility with the paired
// implementation. Strict chain validation is available via
// StoreConfig.RequireFullChain.
func (s *Store) ValidateServerTrust(chain []*x509.Certificate) error {
	if len(chain) == 0 {
		return fmt.Errorf("%w: empty certificate chain", ErrCertificateValidation)
	}

	if s.requireFullChain {
		return s.validateFullChain(chain)
	}

	for i, cert := range chain {
		for _, validator := range s.validators {
			if validator.Matches(cert) {
				slog.Debug("Server trust validated",
					"strategy", validator.Name(),
					"chain_position", i,
					"subject", cert.Subject.String())
				return nil
			}
		}
	}

	slog.Warn("Server trust validation failed", "chain_length", len(chain))
	return fmt.Errorf("%w: no pinned validator matched the chain", ErrCertificateValidation)
}

// validateFullChain requires each certificate to be signed by its
// successor and the terminal certificate to match a pin.
func (s *Store) validateFullChain(chain []*x509.Certificate) error {
	for i := 0; i < len(chain)-1; i++ {
		if err := chain[i].CheckSignatureFrom(chain[i+1]); err != nil {
			return fmt.Errorf("%w: chain link %d not signed by its issuer: %v",
				ErrCertificateValidation, i, err)
		}
	}

	terminal := chain[len(chain)-1]
	for _, validator := range s.validators {
		if validator.Matches(terminal) {
			slog.Debug("Full chain validated", "strategy", validator.Name(), "root_subject", terminal.Subject.String())
			return nil
		}
	}

	return fmt.Errorf("%w: chain terminates in an unpinned certificate", ErrCertificateValidation)
}

// ClientCertificate returns the configured mutual TLS identity, if any.
func (s *Store) ClientCertificate() (*tls.Certificate, bool) {
	if s.clientCert == nil {
		return nil, false
	}
	return s.clientCert, true
}

// TLSConfig builds a tls.Config that routes the handshake through the
// pinning policy. Standard verification is disabled because the pinned set
// replaces the system roots entirely; a validation failure aborts the
// handshake, it is never downgraded.
func (s *Store) TLSConfig() *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: true, // pinning below replaces chain verification
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			chain := make([]*x509.Certificate, 0, len(rawCerts))
			for _, raw := range rawCerts {
				cert, err := x509.ParseCertificate(raw)
				if err != nil {
					return fmt.Errorf("%w: unparseable peer certificate: %v", ErrCertificateValidation, err)
				}
				chain = append(chain, cert)
			}
			return s.ValidateServerTrust(chain)
		},
		GetClientCertificate: func(*tls.CertificateRequestInfo) (*tls.Certificate, error) {
			if cert, ok := s.ClientCertificate(); ok {
				slog.Debug("Presenting client certificate for mutual TLS")
				return cert, nil
			}
			// An empty certificate tells the server no identity is available.
			return &tls.Certificate{}, nil
		},
	}
}
