// Package vision provides the frame model shared by the safety monitor, the
// structure identifier and the photo sequencer, plus frame sources for live
// feeds, simulation and tests.
package vision

import (
	"bytes"
	"image"
	"image/jpeg"

	"github.com/pkg/errors"
)

// Frame is a single 8-bit luminance image, row-major.
type Frame struct {
	W, H int
	Pix  []uint8
}

// NewFrame allocates a zeroed w x h frame.
func NewFrame(w, h int) *Frame {
	return &Frame{W: w, H: h, Pix: make([]uint8, w*h)}
}

// At returns the luminance at (x, y). No bounds check; callers iterate
// within W and H.
func (f *Frame) At(x, y int) uint8 {
	return f.Pix[y*f.W+x]
}

// Set writes the luminance at (x, y).
func (f *Frame) Set(x, y int, v uint8) {
	f.Pix[y*f.W+x] = v
}

// Clone returns a deep copy. Sources hand out clones so consumers can hold
// frames without racing the producer.
func (f *Frame) Clone() *Frame {
	c := &Frame{W: f.W, H: f.H, Pix: make([]uint8, len(f.Pix))}
	copy(c.Pix, f.Pix)
	return c
}

// Gray converts the frame to a stdlib grayscale image.
func (f *Frame) Gray() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, f.W, f.H))
	copy(img.Pix, f.Pix)
	return img
}

// EncodeJPEG renders the frame as a JPEG at the given quality (1..100).
func (f *Frame) EncodeJPEG(quality int) ([]byte, error) {
	if f.W <= 0 || f.H <= 0 {
		return nil, errors.Errorf("cannot encode empty %dx%d frame", f.W, f.H)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, f.Gray(), &jpeg.Options{Quality: quality}); err != nil {
		return nil, errors.Wrap(err, "jpeg encode")
	}
	return buf.Bytes(), nil
}
