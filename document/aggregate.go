// Package document tracks one identity verification capture: the visual
// scan (document photos plus the machine readable zone) and the chip
// reading session, combined into a submission once both are complete.
package document

import (
	"encoding/base64"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"go-idverify/chip"
	"go-idverify/images"
	"go-idverify/models"
	"go-idverify/mrz"
)

// ScanState of the visual capture flow.
type ScanState int

const (
	ScanPending ScanState = iota
	ScanCompleted
	ScanFailed
)

// Document types per the backend contract.
const (
	TypePassport     = 1
	TypeIdentityCard = 2
)

var (
	// ErrNotReady is returned when a submission is built before both
	// scans completed.
	ErrNotReady = errors.New("document not ready for submission")

	// ErrFinalized rejects mutation after the aggregate was submitted.
	ErrFinalized = errors.New("document already finalized")
)

// VisualScanResult is the outcome of the optical capture: document
// photos and the parsed machine readable zone.
type VisualScanResult struct {
	FrontImage []byte
	BackImage  []byte
	MRZ        *mrz.Record
	State      ScanState
}

// DeviceInfo identifies the capturing device in the submission.
type DeviceInfo struct {
	DeviceId    string
	DeviceModel string
	FcmToken    string
}

// Aggregate owns one capture flow. It is created when the flow starts,
// mutated as sub-scans complete, finalized on submission and cleared when
// the flow is abandoned.
type Aggregate struct {
	mu           sync.Mutex
	id           string
	documentType int
	createdAt    time.Time
	visual       VisualScanResult
	chipResult   *chip.Result
	finalized    bool
}

// New starts a capture flow for the given document type.
func New(documentType int) *Aggregate {
	return &Aggregate{
		id:           uuid.NewString(),
		documentType: documentType,
		createdAt:    time.Now(),
	}
}

// ID is the session identifier for logging and backend correlation.
func (a *Aggregate) ID() string {
	return a.id
}

// SetVisualScan records the optical capture outcome.
func (a *Aggregate) SetVisualScan(result VisualScanResult) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.finalized {
		return ErrFinalized
	}
	a.visual = result
	return nil
}

// SetChipResult records the chip session outcome.
func (a *Aggregate) SetChipResult(result *chip.Result) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.finalized {
		return ErrFinalized
	}
	a.chipResult = result
	return nil
}

// IsVisualScanComplete requires a completed scan with a valid zone.
func (a *Aggregate) IsVisualScanComplete() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.visualScanComplete()
}

func (a *Aggregate) visualScanComplete() bool {
	return a.visual.State == ScanCompleted && a.visual.MRZ != nil && a.visual.MRZ.IsValid()
}

// IsNfcReadingComplete requires the chip session to have completed with
// the essential contents present.
func (a *Aggregate) IsNfcReadingComplete() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.nfcReadingComplete()
}

func (a *Aggregate) nfcReadingComplete() bool {
	return a.chipResult != nil &&
		a.chipResult.State == chip.StateCompleted &&
		a.chipResult.MRZLine1 != "" &&
		len(a.chipResult.FaceImage) > 0
}

// IsReadyForSubmission additionally requires the captured photo to meet
// the minimum resolution and the chip to report an authentication method.
func (a *Aggregate) IsReadyForSubmission() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.readyForSubmission()
}

func (a *Aggregate) readyForSubmission() bool {
	return a.visualScanComplete() &&
		a.nfcReadingComplete() &&
		a.chipResult.AuthMethod != "" &&
		images.MeetsMinimumResolution(a.visual.FrontImage)
}

// IsExpired reports whether the scanned document's expiry date has
// passed. An unreadable date counts as expired.
func (a *Aggregate) IsExpired() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.visual.MRZ == nil {
		return true
	}
	expiry, err := a.visual.MRZ.ExpiryDate()
	if err != nil {
		return true
	}
	return expiry.Before(time.Now())
}

// BuildSubmissionPayload assembles the backend submission and finalizes
// the aggregate. It fails with ErrNotReady unless both scans completed
// and the capture meets the submission requirements.
func (a *Aggregate) BuildSubmissionPayload(device DeviceInfo) (*models.VerificationSubmissionRequest, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.finalized {
		return nil, ErrFinalized
	}
	if !a.readyForSubmission() {
		return nil, ErrNotReady
	}

	faces, err := images.ExtractFaceImages(a.chipResult.FaceImage)
	if err != nil {
		return nil, err
	}

	payload := &models.VerificationSubmissionRequest{
		FrontImageBase64: base64.StdEncoding.EncodeToString(a.visual.FrontImage),
		BackImageBase64:  base64.StdEncoding.EncodeToString(a.visual.BackImage),
		FaceImageBase64:  faces[0],
		DocumentType:     a.documentType,
		DeviceId:         device.DeviceId,
		DeviceModel:      device.DeviceModel,
		FcmToken:         device.FcmToken,
	}
	a.finalized = true
	return payload, nil
}

// Clear wipes the captured data when the flow is abandoned or handed off.
func (a *Aggregate) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.visual.FrontImage {
		a.visual.FrontImage[i] = 0
	}
	for i := range a.visual.BackImage {
		a.visual.BackImage[i] = 0
	}
	a.visual = VisualScanResult{}
	a.chipResult = nil
	a.finalized = true
}
