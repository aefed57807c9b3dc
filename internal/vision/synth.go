package vision

import "hash/fnv"

// Uniform returns a flat frame of luminance v. Useful as an "open space"
// view for the obstacle check.
func Uniform(w, h int, v uint8) *Frame {
	f := NewFrame(w, h)
	for i := range f.Pix {
		f.Pix[i] = v
	}
	return f
}

// Checker returns a high-contrast checkerboard with the given cell size.
// It saturates the gradient density of the obstacle check, standing in for
// a textured surface filling the camera's view.
func Checker(w, h, cell int) *Frame {
	if cell < 1 {
		cell = 1
	}
	f := NewFrame(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if ((x/cell)+(y/cell))%2 == 0 {
				f.Set(x, y, 255)
			}
		}
	}
	return f
}

// Labeled returns a frame whose banding pattern is derived from label, so
// simulated photos of different structures and angles are distinguishable
// on disk. The same label always yields the same frame.
func Labeled(w, h int, label string) *Frame {
	hash := fnv.New32a()
	hash.Write([]byte(label))
	seed := hash.Sum32()

	f := NewFrame(w, h)
	band := 4 + int(seed%13)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8((uint32(x/band)*31 + uint32(y/band)*17 + seed) % 200)
			f.Set(x, y, 40+v)
		}
	}
	return f
}
