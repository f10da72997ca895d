package girocode

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
)

// Detector finds machine-readable code payloads in an image. Implementations
// may return several candidates; order is implementation defined.
type Detector interface {
	Detect(img image.Image) ([]string, error)
}

type zxingDetector struct {
	reader gozxing.Reader
}

// NewDetector returns the production QR detector.
func NewDetector() Detector {
	return &zxingDetector{reader: qrcode.NewQRCodeReader()}
}

func (d *zxingDetector) Detect(img image.Image) ([]string, error) {
	bitmap, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return nil, fmt.Errorf("preparing image for detection: %w", err)
	}

	result, err := d.reader.Decode(bitmap, map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_TRY_HARDER: true,
	})
	if err != nil {
		// No readable code in the image. The caller falls through to the
		// next extraction stage.
		return nil, nil
	}

	return []string{result.GetText()}, nil
}

// Decoder scans raw image bytes for Girocodes.
type Decoder struct {
	detector Detector
}

func NewDecoder() *Decoder {
	return &Decoder{detector: NewDetector()}
}

func NewDecoderWithDetector(detector Detector) *Decoder {
	return &Decoder{detector: detector}
}

// DecodeImage returns the payment data of the first candidate payload that
// parses as a Girocode, or nil when the image contains none. Image bytes
// that cannot be decoded at all are an error so the caller can fall back to
// vision extraction.
func (d *Decoder) DecodeImage(data []byte) (*Data, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}

	payloads, err := d.detector.Detect(img)
	if err != nil {
		return nil, fmt.Errorf("detecting codes: %w", err)
	}

	for _, payload := range payloads {
		if parsed := Parse(payload); parsed != nil {
			return parsed, nil
		}
	}

	return nil, nil
}
