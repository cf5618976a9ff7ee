package frame

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_CopiesBuffer(t *testing.T) {
	buf := []byte{10, 20, 30, 40}
	f, err := New(2, 2, buf)
	require.NoError(t, err)

	buf[0] = 99
	assert.Equal(t, uint8(10), f.Pixel(0, 0), "frame must not alias the caller's buffer")

	out := f.Pixels()
	out[1] = 99
	assert.Equal(t, uint8(20), f.Pixel(0, 1), "Pixels must return a copy")
}

func TestNew_InvalidDimensions(t *testing.T) {
	tests := []struct {
		name       string
		rows, cols int
		pixels     []byte
	}{
		{"zero rows", 0, 2, nil},
		{"negative cols", 2, -1, nil},
		{"short buffer", 2, 2, []byte{1, 2, 3}},
		{"long buffer", 1, 1, []byte{1, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.rows, tt.cols, tt.pixels)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidDimensions))
		})
	}
}

func TestPixel_RowMajor(t *testing.T) {
	f, err := New(2, 3, []byte{0, 1, 2, 3, 4, 255})
	require.NoError(t, err)

	assert.Equal(t, 2, f.Rows())
	assert.Equal(t, 3, f.Cols())
	assert.Equal(t, 6, f.Len())
	assert.Equal(t, uint8(2), f.Pixel(0, 2))
	assert.Equal(t, uint8(3), f.Pixel(1, 0))
	assert.Equal(t, uint8(255), f.Pixel(1, 2), "samples are unsigned")
	assert.Equal(t, uint8(4), f.At(4))
}

func TestFilledAndClone(t *testing.T) {
	f, err := Filled(3, 3, 51)
	require.NoError(t, err)
	for k := 0; k < f.Len(); k++ {
		assert.Equal(t, uint8(51), f.At(k))
	}

	c := f.Clone()
	assert.Equal(t, f, c)
	assert.False(t, c.IsZero())
	assert.True(t, Frame{}.IsZero())
}

func TestBinning(t *testing.T) {
	assert.Equal(t, 100, Binning100x100.Size())
	assert.Equal(t, 50, Binning50x50.Size())
	assert.Equal(t, 25, Binning25x25.Size())
	assert.Equal(t, "50x50", Binning50x50.String())
	assert.False(t, Binning(7).Valid())

	for _, in := range []string{"100x100", "100", " 100X100 "} {
		b, err := ParseBinning(in)
		require.NoError(t, err, in)
		assert.Equal(t, Binning100x100, b)
	}
	_, err := ParseBinning("100x50")
	assert.Error(t, err)
	_, err = ParseBinning("64")
	assert.Error(t, err)

	b, ok := BinningForSize(25)
	assert.True(t, ok)
	assert.Equal(t, Binning25x25, b)
	_, ok = BinningForSize(30)
	assert.False(t, ok)
}
