// Package images decodes captured document photos and chip face images
// (JPEG and JPEG 2000) and prepares them for submission: resolution
// checks, downscaling and base64 PNG encoding.
package images

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"

	"pault.ag/go/cbeff/jpeg2000"
)

// Minimum capture resolution accepted for document photos.
const (
	MinDocumentWidth  = 1000
	MinDocumentHeight = 700
)

// ErrUnsupportedFormat is returned when none of the known decoders can
// read the data.
var ErrUnsupportedFormat = errors.New("unsupported or invalid image format")

// Decode reads an image from bytes, trying JPEG, JPEG 2000 and then the
// registered generic decoders.
func Decode(data []byte) (image.Image, error) {
	if img, err := jpeg.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}
	if img, err := jpeg2000.Parse(data); err == nil {
		return img, nil
	}
	if img, _, err := image.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}
	return nil, ErrUnsupportedFormat
}

// Dimensions returns the pixel size of an encoded image. Header-only
// probing is tried first; JPEG 2000 needs a full decode.
func Dimensions(data []byte) (width, height int, err error) {
	if config, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		return config.Width, config.Height, nil
	}

	img, err := Decode(data)
	if err != nil {
		return 0, 0, err
	}
	bounds := img.Bounds()
	return bounds.Dx(), bounds.Dy(), nil
}

// MeetsMinimumResolution reports whether a captured document photo is at
// least MinDocumentWidth x MinDocumentHeight in either orientation.
func MeetsMinimumResolution(data []byte) bool {
	width, height, err := Dimensions(data)
	if err != nil {
		return false
	}
	if width < height {
		width, height = height, width
	}
	return width >= MinDocumentWidth && height >= MinDocumentHeight
}

// ValidateDocumentPhoto returns a descriptive error when a capture is
// unusable for submission.
func ValidateDocumentPhoto(data []byte) error {
	width, height, err := Dimensions(data)
	if err != nil {
		return fmt.Errorf("document photo: %w", err)
	}
	w, h := width, height
	if w < h {
		w, h = h, w
	}
	if w < MinDocumentWidth || h < MinDocumentHeight {
		return fmt.Errorf("document photo resolution %dx%d below minimum %dx%d",
			width, height, MinDocumentWidth, MinDocumentHeight)
	}
	return nil
}
