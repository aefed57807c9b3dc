// Package detect identifies the structure at an inspection stop. Structures
// carry QR tags with their asset identifier; the identifier scans camera
// frames in the background while the vehicle hovers, and the orchestrator
// polls for the result up to its timeout.
package detect

import (
	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
	"github.com/pkg/errors"

	"github.com/arnereabel/drone-automated-work-progress-documenting/internal/vision"
)

// Decoder extracts a structure identifier from a single frame.
type Decoder interface {
	Decode(f *vision.Frame) (string, bool)
}

// DecoderFunc adapts a function to the Decoder interface.
type DecoderFunc func(f *vision.Frame) (string, bool)

func (fn DecoderFunc) Decode(f *vision.Frame) (string, bool) { return fn(f) }

// QRDecoder reads QR tags out of luminance frames.
type QRDecoder struct{}

// NewQRDecoder returns a ready decoder.
func NewQRDecoder() *QRDecoder { return &QRDecoder{} }

// Decode implements Decoder. A frame with no readable tag returns false;
// scanning noise is the normal case, not an error.
func (d *QRDecoder) Decode(f *vision.Frame) (string, bool) {
	if f == nil || f.W == 0 || f.H == 0 {
		return "", false
	}
	src := gozxing.NewLuminanceSourceFromImage(f.Gray())
	bmp, err := gozxing.NewBinaryBitmap(gozxing.NewHybridBinarizer(src))
	if err != nil {
		return "", false
	}
	res, err := qrcode.NewQRCodeReader().Decode(bmp, nil)
	if err != nil || res.GetText() == "" {
		return "", false
	}
	return res.GetText(), true
}

// EncodeQRFrame renders text as a QR tag in a size x size frame. Used by
// the simulator camera and tests; the real camera sees printed tags.
func EncodeQRFrame(text string, size int) (*vision.Frame, error) {
	matrix, err := qrcode.NewQRCodeWriter().Encode(text, gozxing.BarcodeFormat_QR_CODE, size, size, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "encode QR %q", text)
	}
	f := vision.NewFrame(matrix.GetWidth(), matrix.GetHeight())
	for y := 0; y < f.H; y++ {
		for x := 0; x < f.W; x++ {
			if matrix.Get(x, y) {
				f.Set(x, y, 0)
			} else {
				f.Set(x, y, 255)
			}
		}
	}
	return f, nil
}
