package client

import (
	"crypto/tls"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"os"
	"time"

	"go-idverify/trust"
)

// PinsConfig lists the pinned trust material. Certificates and public
// keys are PEM encoded; subjects use the RFC 2253 string form.
type PinsConfig struct {
	Certificates []string `json:"certificates"`
	Subjects     []string `json:"subjects"`
	PublicKeys   []string `json:"public_keys"`
}

// Config is the backend client configuration, loaded once at startup and
// immutable afterwards.
type Config struct {
	BaseURL        string     `json:"base_url"`
	TimeoutSeconds int        `json:"timeout_seconds"`
	Pins           PinsConfig `json:"pins"`

	// Client identity for mutual TLS, both optional.
	ClientCertificateFile string `json:"client_certificate_file"`
	ClientKeyFile         string `json:"client_key_file"`

	RequireFullChain bool `json:"require_full_chain"`
}

// LoadConfig reads and parses the configuration file.
func LoadConfig(path string) (Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(content, &config); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file: %w", err)
	}
	if config.BaseURL == "" {
		return Config{}, fmt.Errorf("config is missing base_url")
	}
	return config, nil
}

// NewClient builds the trust store from the configured pins and wires a
// backend client to it.
func (c Config) NewClient() (*Client, error) {
	validators, err := c.Pins.validators()
	if err != nil {
		return nil, err
	}

	storeConfig := trust.StoreConfig{
		Validators:       validators,
		RequireFullChain: c.RequireFullChain,
	}
	if c.ClientCertificateFile != "" {
		identity, err := tls.LoadX509KeyPair(c.ClientCertificateFile, c.ClientKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client identity: %w", err)
		}
		storeConfig.ClientCertificate = &identity
	}

	store, err := trust.NewStore(storeConfig)
	if err != nil {
		return nil, err
	}

	return New(c.BaseURL, store, time.Duration(c.TimeoutSeconds)*time.Second), nil
}

func (p PinsConfig) validators() ([]trust.Validator, error) {
	var validators []trust.Validator

	for i, encoded := range p.Certificates {
		der, err := decodePEM(encoded, "CERTIFICATE")
		if err != nil {
			return nil, fmt.Errorf("certificate pin %d: %w", i, err)
		}
		validators = append(validators, trust.CertificatePin(der))
	}
	for _, subject := range p.Subjects {
		validators = append(validators, trust.SubjectPin(subject))
	}
	for i, encoded := range p.PublicKeys {
		der, err := decodePEM(encoded, "PUBLIC KEY")
		if err != nil {
			return nil, fmt.Errorf("public key pin %d: %w", i, err)
		}
		validators = append(validators, trust.PublicKeyPin(der))
	}

	return validators, nil
}

func decodePEM(encoded, wantType string) ([]byte, error) {
	block, _ := pem.Decode([]byte(encoded))
	if block == nil {
		return nil, fmt.Errorf("not PEM encoded")
	}
	if block.Type != wantType {
		return nil, fmt.Errorf("PEM block is %q, want %q", block.Type, wantType)
	}
	return block.Bytes, nil
}
