package document

import (
	"bytes"
	"image"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/require"

	"go-idverify/chip"
	"go-idverify/mrz"
)

const (
	sampleLine1 = "P<UTOERIKSSON<<ANNA<MARIA<<<<<<<<<<<<<<<<<<<"
	sampleLine2 = "L898902C36UTO7408122F1204159ZE184226B<<<<<10"
)

func encodeJPEG(t *testing.T, width, height int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, width, height)), nil))
	return buf.Bytes()
}

func validRecord(t *testing.T) *mrz.Record {
	t.Helper()
	record := mrz.Parse(sampleLine1, sampleLine2)
	require.True(t, record.IsValid())
	return &record
}

func completedChipResult(t *testing.T) *chip.Result {
	t.Helper()
	return &chip.Result{
		State:      chip.StateCompleted,
		AuthMethod: "BAC",
		MRZLine1:   sampleLine1,
		MRZLine2:   sampleLine2,
		FaceImage:  append([]byte{0x75, 0x10, 0x00, 0x00}, encodeJPEG(t, 60, 80)...),
	}
}

func readyAggregate(t *testing.T) *Aggregate {
	t.Helper()
	aggregate := New(TypePassport)
	require.NoError(t, aggregate.SetVisualScan(VisualScanResult{
		FrontImage: encodeJPEG(t, 1200, 800),
		BackImage:  encodeJPEG(t, 1200, 800),
		MRZ:        validRecord(t),
		State:      ScanCompleted,
	}))
	require.NoError(t, aggregate.SetChipResult(completedChipResult(t)))
	return aggregate
}

func TestVisualScanCompletion(t *testing.T) {
	t.Run("pending scan incomplete", func(t *testing.T) {
		aggregate := New(TypePassport)
		require.False(t, aggregate.IsVisualScanComplete())
	})

	t.Run("completed with valid zone", func(t *testing.T) {
		aggregate := New(TypePassport)
		require.NoError(t, aggregate.SetVisualScan(VisualScanResult{
			MRZ:   validRecord(t),
			State: ScanCompleted,
		}))
		require.True(t, aggregate.IsVisualScanComplete())
	})

	t.Run("invalid zone incomplete", func(t *testing.T) {
		broken := mrz.Parse(sampleLine1, sampleLine2[:43]+"9")
		aggregate := New(TypePassport)
		require.NoError(t, aggregate.SetVisualScan(VisualScanResult{
			MRZ:   &broken,
			State: ScanCompleted,
		}))
		require.False(t, aggregate.IsVisualScanComplete())
	})
}

func TestNfcReadingCompletion(t *testing.T) {
	aggregate := New(TypePassport)
	require.False(t, aggregate.IsNfcReadingComplete())

	require.NoError(t, aggregate.SetChipResult(completedChipResult(t)))
	require.True(t, aggregate.IsNfcReadingComplete())

	failed := completedChipResult(t)
	failed.State = chip.StateFailed
	require.NoError(t, aggregate.SetChipResult(failed))
	require.False(t, aggregate.IsNfcReadingComplete())

	noFace := completedChipResult(t)
	noFace.FaceImage = nil
	require.NoError(t, aggregate.SetChipResult(noFace))
	require.False(t, aggregate.IsNfcReadingComplete())
}

func TestReadyForSubmission(t *testing.T) {
	t.Run("ready", func(t *testing.T) {
		require.True(t, readyAggregate(t).IsReadyForSubmission())
	})

	t.Run("low resolution capture", func(t *testing.T) {
		aggregate := New(TypePassport)
		require.NoError(t, aggregate.SetVisualScan(VisualScanResult{
			FrontImage: encodeJPEG(t, 640, 480),
			MRZ:        validRecord(t),
			State:      ScanCompleted,
		}))
		require.NoError(t, aggregate.SetChipResult(completedChipResult(t)))
		require.False(t, aggregate.IsReadyForSubmission())
	})

	t.Run("no authentication method", func(t *testing.T) {
		aggregate := readyAggregate(t)
		result := completedChipResult(t)
		result.AuthMethod = ""
		require.NoError(t, aggregate.SetChipResult(result))
		require.False(t, aggregate.IsReadyForSubmission())
	})
}

func TestBuildSubmissionPayload(t *testing.T) {
	t.Run("builds and finalizes", func(t *testing.T) {
		aggregate := readyAggregate(t)
		payload, err := aggregate.BuildSubmissionPayload(DeviceInfo{
			DeviceId:    "device-1",
			DeviceModel: "Pixel 9",
			FcmToken:    "token",
		})
		require.NoError(t, err)
		require.NotEmpty(t, payload.FrontImageBase64)
		require.NotEmpty(t, payload.BackImageBase64)
		require.NotEmpty(t, payload.FaceImageBase64)
		require.Equal(t, TypePassport, payload.DocumentType)
		require.Equal(t, "device-1", payload.DeviceId)
		require.Equal(t, "Pixel 9", payload.DeviceModel)

		// Finalized: further mutation and resubmission are rejected.
		require.ErrorIs(t, aggregate.SetChipResult(completedChipResult(t)), ErrFinalized)
		_, err = aggregate.BuildSubmissionPayload(DeviceInfo{})
		require.ErrorIs(t, err, ErrFinalized)
	})

	t.Run("not ready", func(t *testing.T) {
		aggregate := New(TypePassport)
		_, err := aggregate.BuildSubmissionPayload(DeviceInfo{})
		require.ErrorIs(t, err, ErrNotReady)
	})
}

func TestIsExpired(t *testing.T) {
	t.Run("no zone counts as expired", func(t *testing.T) {
		require.True(t, New(TypePassport).IsExpired())
	})

	t.Run("specimen expired in 2012", func(t *testing.T) {
		aggregate := New(TypePassport)
		require.NoError(t, aggregate.SetVisualScan(VisualScanResult{
			MRZ:   validRecord(t),
			State: ScanCompleted,
		}))
		require.True(t, aggregate.IsExpired())
	})
}

func TestClear(t *testing.T) {
	aggregate := readyAggregate(t)
	aggregate.Clear()
	require.False(t, aggregate.IsVisualScanComplete())
	require.False(t, aggregate.IsNfcReadingComplete())
	require.ErrorIs(t, aggregate.SetChipResult(completedChipResult(t)), ErrFinalized)
}

func TestAggregateIDs(t *testing.T) {
	a := New(TypePassport)
	b := New(TypeIdentityCard)
	require.NotEmpty(t, a.ID())
	require.NotEqual(t, a.ID(), b.ID())
}
