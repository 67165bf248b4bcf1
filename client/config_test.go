package client

import (
	"context"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"go-idverify/models"
)

func writeConfig(t *testing.T, config Config) string {
	t.Helper()
	content, err := json.Marshal(config)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, content, 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		path := writeConfig(t, Config{
			BaseURL:        "https://backend.example",
			TimeoutSeconds: 15,
			Pins:           PinsConfig{Subjects: []string{"CN=backend"}},
		})

		config, err := LoadConfig(path)
		require.NoError(t, err)
		require.Equal(t, "https://backend.example", config.BaseURL)
		require.Equal(t, 15, config.TimeoutSeconds)
		require.Equal(t, []string{"CN=backend"}, config.Pins.Subjects)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
		require.Error(t, err)
	})

	t.Run("missing base url", func(t *testing.T) {
		path := writeConfig(t, Config{Pins: PinsConfig{Subjects: []string{"CN=x"}}})
		_, err := LoadConfig(path)
		require.ErrorContains(t, err, "base_url")
	})

	t.Run("malformed json", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.json")
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
		_, err := LoadConfig(path)
		require.ErrorContains(t, err, "parse")
	})
}

func TestConfigNewClient(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/api/certificate/load", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(models.CertificateLoadResponse{Certificate: "issued"})
	}).Methods(http.MethodPost)
	server := httptest.NewTLSServer(router)
	t.Cleanup(server.Close)

	certPEM := string(pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: server.Certificate().Raw,
	}))

	t.Run("certificate pin from config", func(t *testing.T) {
		c, err := Config{
			BaseURL: server.URL,
			Pins:    PinsConfig{Certificates: []string{certPEM}},
		}.NewClient()
		require.NoError(t, err)

		response, err := c.LoadCertificate(context.Background(), "csr", "device-1")
		require.NoError(t, err)
		require.Equal(t, "issued", response.Certificate)
	})

	t.Run("subject pin mismatch rejects", func(t *testing.T) {
		c, err := Config{
			BaseURL: server.URL,
			Pins:    PinsConfig{Subjects: []string{"CN=some other backend"}},
		}.NewClient()
		require.NoError(t, err)

		_, err = c.LoadCertificate(context.Background(), "csr", "device-1")
		require.ErrorIs(t, err, ErrNetwork)
	})

	t.Run("no pins", func(t *testing.T) {
		_, err := Config{BaseURL: server.URL}.NewClient()
		require.Error(t, err)
	})

	t.Run("bad certificate pem", func(t *testing.T) {
		_, err := Config{
			BaseURL: server.URL,
			Pins:    PinsConfig{Certificates: []string{"garbage"}},
		}.NewClient()
		require.ErrorContains(t, err, "PEM")
	})
}
