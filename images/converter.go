package images

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color/palette"
	"image/draw"
	"image/png"
	"log/slog"
	"math"
	"sort"

	xdraw "golang.org/x/image/draw"
)

// Magic signatures to discover embedded images in a raw DG2 biometric
// block.
var faceImageSignatures = []struct {
	sig []byte
	ext string
}{
	{[]byte{0xFF, 0xD8, 0xFF}, "jpg"}, // JPEG SOI
	{[]byte{0x00, 0x00, 0x00, 0x0C, 'j', 'P', ' ', ' ', 0x0D, 0x0A, 0x87, 0x0A}, "jp2"}, // JP2 signature box
	{[]byte{0xFF, 0x4F, 0xFF, 0x51}, "j2k"},                                             // JPEG 2000 codestream
}

// ExtractFaceImages locates the encoded images inside a raw DG2 file and
// returns each as a base64 PNG, downscaled for submission. Signature
// scanning sidesteps the CBEFF wrapping, which varies between issuers.
func ExtractFaceImages(dg2 []byte) ([]string, error) {
	if len(dg2) == 0 {
		return nil, fmt.Errorf("no face image data provided")
	}

	chunks := findImageChunks(dg2)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("no embedded JPEG/JP2/J2K signatures found in face data")
	}

	var results []string
	for i, chunk := range chunks {
		img, err := Decode(chunk)
		if err != nil {
			slog.Warn("Skipping undecodable face image chunk", "chunk", i, "error", err)
			continue
		}

		bounds := img.Bounds()
		slog.Debug("Decoded face image", "chunk", i, "width", bounds.Dx(), "height", bounds.Dy())

		encoded, err := ToPNGBase64(img, 400, 400, 256, png.BestCompression)
		if err != nil {
			return nil, fmt.Errorf("failed to encode face image %d: %w", i, err)
		}
		results = append(results, encoded)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("face data contained image chunks but none could be decoded")
	}
	return results, nil
}

func findImageChunks(data []byte) [][]byte {
	type start struct {
		offset int
		ext    string
	}
	var starts []start
	for _, s := range faceImageSignatures {
		idx := 0
		for {
			pos := bytes.Index(data[idx:], s.sig)
			if pos < 0 {
				break
			}
			abs := idx + pos
			starts = append(starts, start{offset: abs, ext: s.ext})
			idx = abs + 1
		}
	}
	if len(starts) == 0 {
		return nil
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i].offset < starts[j].offset })

	var chunks [][]byte
	for n, st := range starts {
		end := len(data)
		if n < len(starts)-1 {
			end = starts[n+1].offset
		}
		chunk := data[st.offset:end]
		if st.ext == "jpg" {
			// Trim to EOI for cleaner decoding.
			if eoi := bytes.LastIndex(chunk, []byte{0xFF, 0xD9}); eoi >= 0 {
				chunk = chunk[:eoi+2]
			}
		}
		chunks = append(chunks, chunk)
	}
	return chunks
}

// ToPNGBase64 encodes img to base64 PNG with optional resize and
// quantization.
//
// maxW/maxH: if >0, the image is downscaled to fit within this box
// (keeping aspect ratio). colors: if >0, convert to a paletted image.
func ToPNGBase64(img image.Image, maxW, maxH, colors int, level png.CompressionLevel) (string, error) {
	if maxW > 0 || maxH > 0 {
		img = resizeToFit(img, maxW, maxH)
	}

	var out = img
	if colors > 0 {
		pal := palette.Plan9
		if colors <= 216 {
			pal = palette.WebSafe
		}
		dst := image.NewPaletted(img.Bounds(), pal)
		draw.FloydSteinberg.Draw(dst, dst.Bounds(), img, image.Point{})
		out = dst
	}

	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: level}
	if err := enc.Encode(&buf, out); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// resizeToFit scales img to fit within maxW x maxH, keeping aspect ratio.
func resizeToFit(src image.Image, maxW, maxH int) image.Image {
	bw := src.Bounds().Dx()
	bh := src.Bounds().Dy()

	if maxW <= 0 && maxH <= 0 {
		return src
	}
	if maxW <= 0 {
		scale := float64(maxH) / float64(bh)
		maxW = int(math.Round(float64(bw) * scale))
	}
	if maxH <= 0 {
		scale := float64(maxW) / float64(bw)
		maxH = int(math.Round(float64(bh) * scale))
	}

	scale := math.Min(float64(maxW)/float64(bw), float64(maxH)/float64(bh))
	if scale >= 1.0 {
		return src
	}
	w := int(math.Max(1, math.Round(float64(bw)*scale)))
	h := int(math.Max(1, math.Round(float64(bh)*scale)))

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	// CatmullRom holds up well on faces.
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Over, nil)
	return dst
}
