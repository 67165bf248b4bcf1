package verification

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseFullPayload(t *testing.T) {
	payload := []byte(`{
		"document_data": {
			"document_score": 0.91,
			"face_match_score": 0.87,
			"chip_data": {
				"first_name": "ANNA",
				"last_name": "ERIKSSON",
				"document_number": "L898902C3"
			},
			"barcode_data": {
				"first_name": "IGNORED",
				"last_name": "IGNORED"
			}
		},
		"risk_data": {
			"person_score": 0.95,
			"anti_spoofing_face_score": 0.99,
			"risk_information_score": 0.12
		}
	}`)

	result := Parse(payload)
	require.Equal(t, 0.91, result.DocumentScore)
	require.Equal(t, 0.87, result.FaceMatchScore)
	require.Equal(t, 0.95, result.PersonScore)
	require.Equal(t, 0.99, result.AntiSpoofingFaceScore)
	require.Equal(t, 0.12, result.RiskInformationScore)
	require.Equal(t, "ANNA", result.FirstName)
	require.Equal(t, "ERIKSSON", result.LastName)
	require.Equal(t, "L898902C3", result.DocumentNumber)
}

func TestParseFallsBackToBarcode(t *testing.T) {
	payload := []byte(`{
		"document_data": {
			"barcode_data": {"first_name": "JAN", "last_name": "JANSEN"}
		}
	}`)

	result := Parse(payload)
	require.Equal(t, "JAN", result.FirstName)
	require.Equal(t, "JANSEN", result.LastName)
}

func TestParseDefaults(t *testing.T) {
	t.Run("empty payload", func(t *testing.T) {
		result := Parse(nil)
		require.Equal(t, "n/a", result.FirstName)
		require.Equal(t, "n/a", result.LastName)
		require.Zero(t, result.PersonScore)
		require.Zero(t, result.DocumentScore)
	})

	t.Run("empty object", func(t *testing.T) {
		result := Parse([]byte(`{}`))
		require.Equal(t, "n/a", result.FirstName)
		require.Zero(t, result.FaceMatchScore)
	})

	t.Run("malformed json", func(t *testing.T) {
		result := Parse([]byte(`{"document_data": {`))
		require.Equal(t, "n/a", result.FirstName)
		require.Zero(t, result.RiskInformationScore)
	})

	t.Run("wrong value types", func(t *testing.T) {
		result := Parse([]byte(`{"risk_data": {"person_score": "high"}}`))
		require.Zero(t, result.PersonScore)
	})
}

func TestParsePartialSource(t *testing.T) {
	payload := []byte(`{
		"document_data": {
			"chip_data": {"first_name": "ANNA"}
		}
	}`)

	result := Parse(payload)
	require.Equal(t, "ANNA", result.FirstName)
	require.Equal(t, "n/a", result.LastName)
	require.Empty(t, result.DocumentNumber)
}

func TestFromResponseNil(t *testing.T) {
	result := FromResponse(nil)
	require.Equal(t, "n/a", result.FirstName)
}
