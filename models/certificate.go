package models

type CertificateLoadRequest struct {
	Csr      string `json:"csr"`      // PEM or base64 encoded certificate request
	DeviceId string `json:"deviceId"` // stable device identifier
}

type CertificateLoadResponse struct {
	Certificate      string `json:"certificate,omitempty"`      // issued client certificate, PEM
	CertificateChain string `json:"certificateChain,omitempty"` // intermediates, PEM
	Message          string `json:"message,omitempty"`          // human readable status from the backend
}
