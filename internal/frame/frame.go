// Package frame holds the decoded depth image exchanged between the sensor
// driver, the log reader and every downstream consumer.
package frame

import (
	"errors"
	"fmt"
)

// ErrInvalidDimensions is returned when a frame is built from a pixel buffer
// that does not match its declared size.
var ErrInvalidDimensions = errors.New("invalid frame dimensions")

// Frame is one decoded depth image: rows x cols raw sensor samples stored
// row-major. A Frame never shares its pixel buffer with the code that built
// it, so it is safe to hand to consumers on other goroutines.
type Frame struct {
	rows   int
	cols   int
	pixels []byte
}

// New copies pixels into a new Frame. The caller keeps ownership of pixels
// and may reuse it immediately.
func New(rows, cols int, pixels []byte) (Frame, error) {
	if rows <= 0 || cols <= 0 {
		return Frame{}, fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, rows, cols)
	}
	if len(pixels) != rows*cols {
		return Frame{}, fmt.Errorf("%w: %d pixels for %dx%d", ErrInvalidDimensions, len(pixels), rows, cols)
	}
	buf := make([]byte, len(pixels))
	copy(buf, pixels)
	return Frame{rows: rows, cols: cols, pixels: buf}, nil
}

// Filled returns a rows x cols frame with every pixel set to v.
func Filled(rows, cols int, v uint8) (Frame, error) {
	if rows <= 0 || cols <= 0 {
		return Frame{}, fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, rows, cols)
	}
	buf := make([]byte, rows*cols)
	for i := range buf {
		buf[i] = v
	}
	return Frame{rows: rows, cols: cols, pixels: buf}, nil
}

func (f Frame) Rows() int { return f.rows }
func (f Frame) Cols() int { return f.cols }

// Len is the number of pixels, rows*cols.
func (f Frame) Len() int { return len(f.pixels) }

// IsZero reports whether f is the zero Frame (never produced by New).
func (f Frame) IsZero() bool { return f.pixels == nil }

// Pixel returns the unsigned sample at row i, column j.
func (f Frame) Pixel(i, j int) uint8 {
	return f.pixels[i*f.cols+j]
}

// At returns the unsigned sample at row-major index k.
func (f Frame) At(k int) uint8 {
	return f.pixels[k]
}

// Pixels returns a copy of the row-major sample buffer.
func (f Frame) Pixels() []byte {
	out := make([]byte, len(f.pixels))
	copy(out, f.pixels)
	return out
}

// Clone returns a deep copy of f. Frames are immutable so this is only
// needed when the copy must outlive a shared backing store.
func (f Frame) Clone() Frame {
	return Frame{rows: f.rows, cols: f.cols, pixels: f.Pixels()}
}

func (f Frame) String() string {
	return fmt.Sprintf("Frame(%dx%d)", f.rows, f.cols)
}
