// Package client talks to the verification backend: certificate
// provisioning for mutual TLS and submission of completed captures. All
// connections are validated through the pinned trust store.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go-idverify/models"
	"go-idverify/trust"
	"go-idverify/verification"
)

// ErrNetwork covers transport failures and non-success backend statuses.
var ErrNetwork = errors.New("network error")

const defaultTimeout = 30 * time.Second

// BackendClient is the surface the capture flow depends on.
type BackendClient interface {
	// LoadCertificate submits a certificate request and returns the
	// issued client certificate.
	LoadCertificate(ctx context.Context, csr, deviceId string) (*models.CertificateLoadResponse, error)

	// SubmitVerification uploads a completed capture and returns the
	// flattened verification result.
	SubmitVerification(ctx context.Context, request *models.VerificationSubmissionRequest) (verification.Result, error)
}

// Client implements BackendClient over HTTPS with pinned trust.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New builds a client. A nil store falls back to the system trust roots,
// which is only appropriate in tests.
func New(baseURL string, store *trust.Store, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if store != nil {
		transport.TLSClientConfig = store.TLSConfig()
	}

	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}
}

// LoadCertificate exchanges a certificate request for a client
// certificate at the provisioning endpoint.
func (c *Client) LoadCertificate(ctx context.Context, csr, deviceId string) (*models.CertificateLoadResponse, error) {
	request := models.CertificateLoadRequest{Csr: csr, DeviceId: deviceId}

	var response models.CertificateLoadResponse
	if err := c.postJSON(ctx, "/api/certificate/load", request, &response); err != nil {
		return nil, err
	}

	slog.Info("Certificate load completed", "device_id", deviceId, "has_certificate", response.Certificate != "")
	return &response, nil
}

// SubmitVerification uploads the capture and flattens the backend's
// response payload. Flattening never fails: a malformed success body
// yields the fully defaulted result.
func (c *Client) SubmitVerification(ctx context.Context, request *models.VerificationSubmissionRequest) (verification.Result, error) {
	payload, err := c.post(ctx, "/api/verification/submit", request)
	if err != nil {
		return verification.FromResponse(nil), err
	}

	result := verification.Parse(payload)
	slog.Info("Verification submitted",
		"document_type", request.DocumentType,
		"person_score", result.PersonScore,
		"document_score", result.DocumentScore)
	return result, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := c.post(ctx, path, body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// post sends a JSON body and returns the raw success response body.
func (c *Client) post(ctx context.Context, path string, body any) ([]byte, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned status %d: %s", ErrNetwork, path, resp.StatusCode, string(payload))
	}
	return payload, nil
}
