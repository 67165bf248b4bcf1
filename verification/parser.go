// Package verification flattens the nested, largely optional backend
// verification payload into a plain result record. Parsing never fails:
// missing or malformed branches fall back to documented defaults.
package verification

import (
	"encoding/json"
	"log/slog"

	"go-idverify/models"
)

// placeholderName is used when neither the chip nor the barcode produced
// a name.
const placeholderName = "n/a"

// Result is the flattened verification outcome. Scores default to zero,
// names to the placeholder.
type Result struct {
	PersonScore           float64
	DocumentScore         float64
	FaceMatchScore        float64
	AntiSpoofingFaceScore float64
	RiskInformationScore  float64
	FirstName             string
	LastName              string
	DocumentNumber        string
}

func defaultResult() Result {
	return Result{
		FirstName: placeholderName,
		LastName:  placeholderName,
	}
}

// Parse flattens one backend payload. A malformed or empty payload yields
// the fully defaulted result rather than an error.
func Parse(payload []byte) Result {
	result := defaultResult()
	if len(payload) == 0 {
		return result
	}

	var response models.VerificationResponse
	if err := json.Unmarshal(payload, &response); err != nil {
		slog.Warn("Verification payload unparseable, using defaults", "error", err)
		return result
	}
	return FromResponse(&response)
}

// FromResponse flattens an already decoded payload.
func FromResponse(response *models.VerificationResponse) Result {
	result := defaultResult()
	if response == nil {
		return result
	}

	if document := response.DocumentData; document != nil {
		result.DocumentScore = floatOrZero(document.DocumentScore)
		result.FaceMatchScore = floatOrZero(document.FaceMatchScore)

		// The chip is authoritative when both sources read a name.
		source := document.ChipData
		if source == nil {
			source = document.BarcodeData
		}
		if source != nil {
			result.FirstName = stringOr(source.FirstName, placeholderName)
			result.LastName = stringOr(source.LastName, placeholderName)
			result.DocumentNumber = stringOr(source.DocumentNumber, "")
		}
	}

	if risk := response.RiskData; risk != nil {
		result.PersonScore = floatOrZero(risk.PersonScore)
		result.AntiSpoofingFaceScore = floatOrZero(risk.AntiSpoofingFaceScore)
		result.RiskInformationScore = floatOrZero(risk.RiskInformationScore)
	}
	return result
}

func floatOrZero(value *float64) float64 {
	if value == nil {
		return 0
	}
	return *value
}

func stringOr(value *string, fallback string) string {
	if value == nil || *value == "" {
		return fallback
	}
	return *value
}
