package models

// VerificationSubmissionRequest is the submission body. Key names and
// order follow the backend contract exactly.
type VerificationSubmissionRequest struct {
	FrontImageBase64 string `json:"frontImageBase64"`
	BackImageBase64  string `json:"backImageBase64"`
	FaceImageBase64  string `json:"faceImageBase64"`
	DocumentType     int    `json:"documentType"`
	DeviceId         string `json:"deviceId"`
	DeviceModel      string `json:"deviceModel"`
	FcmToken         string `json:"fcmToken"`
}

// VerificationResponse mirrors the nested backend payload. Every level is
// optional; consumers default missing branches instead of failing.
type VerificationResponse struct {
	DocumentData *DocumentData `json:"document_data,omitempty"`
	RiskData     *RiskData     `json:"risk_data,omitempty"`
}

type DocumentData struct {
	DocumentScore  *float64        `json:"document_score,omitempty"`
	FaceMatchScore *float64        `json:"face_match_score,omitempty"`
	ChipData       *DocumentSource `json:"chip_data,omitempty"`
	BarcodeData    *DocumentSource `json:"barcode_data,omitempty"`
}

// DocumentSource holds fields read from one acquisition path, either the
// chip or the printed barcode.
type DocumentSource struct {
	FirstName      *string `json:"first_name,omitempty"`
	LastName       *string `json:"last_name,omitempty"`
	DocumentNumber *string `json:"document_number,omitempty"`
}

type RiskData struct {
	PersonScore           *float64 `json:"person_score,omitempty"`
	AntiSpoofingFaceScore *float64 `json:"anti_spoofing_face_score,omitempty"`
	RiskInformationScore  *float64 `json:"risk_information_score,omitempty"`
}
